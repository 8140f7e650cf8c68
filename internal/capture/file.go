package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const opusSampleRate = 48000

// H264FileSource loops over an H264 Annex-B file, one access unit per sample.
type H264FileSource struct {
	path   string
	frame  time.Duration
	f      *os.File
	r      *h264reader.H264Reader
	pace   pacer
	au     []byte
	frames int
}

// OpenH264File opens path and plays it at fps.
func OpenH264File(path string, fps int) (*H264FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open h264 source: %w", err)
	}
	s := &H264FileSource{path: path, frame: frameDuration(fps), f: f}
	if err := s.rewind(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *H264FileSource) MimeType() string { return webrtc.MimeTypeH264 }

func (s *H264FileSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", s.path, err)
	}
	r, err := h264reader.NewReader(s.f)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	s.r = r
	s.au = s.au[:0]
	s.frames = 0
	return nil
}

// NextSample returns the next access unit, waiting until it is due.
func (s *H264FileSource) NextSample(ctx context.Context) (media.Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return media.Sample{}, err
		}

		nal, err := s.r.NextNAL()
		if errors.Is(err, io.EOF) {
			if s.frames == 0 {
				return media.Sample{}, fmt.Errorf("no video frames in %s", s.path)
			}
			if err := s.rewind(); err != nil {
				return media.Sample{}, err
			}
			continue
		}
		if err != nil {
			return media.Sample{}, fmt.Errorf("read h264: %w", err)
		}

		s.au = append(s.au, annexBStartCode...)
		s.au = append(s.au, nal.Data...)
		if nal.UnitType != h264reader.NalUnitTypeCodedSliceIdr && nal.UnitType != h264reader.NalUnitTypeCodedSliceNonIdr {
			continue
		}

		data := make([]byte, len(s.au))
		copy(data, s.au)
		s.au = s.au[:0]
		s.frames++

		if err := s.pace.wait(ctx, s.frame); err != nil {
			return media.Sample{}, err
		}
		return media.Sample{Data: data, Duration: s.frame}, nil
	}
}

func (s *H264FileSource) Close() error {
	return s.f.Close()
}

// OggFileSource loops over an Ogg/Opus file, one page per sample.
type OggFileSource struct {
	path        string
	f           *os.File
	r           *oggreader.OggReader
	pace        pacer
	lastGranule uint64
	pages       int
}

// OpenOggFile opens path for playback.
func OpenOggFile(path string) (*OggFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ogg source: %w", err)
	}
	s := &OggFileSource{path: path, f: f}
	if err := s.rewind(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *OggFileSource) MimeType() string { return webrtc.MimeTypeOpus }

func (s *OggFileSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", s.path, err)
	}
	r, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	s.r = r
	s.lastGranule = 0
	s.pages = 0
	return nil
}

// NextSample returns the next Opus page, waiting until it is due.
func (s *OggFileSource) NextSample(ctx context.Context) (media.Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return media.Sample{}, err
		}

		page, header, err := s.r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if s.pages == 0 {
				return media.Sample{}, fmt.Errorf("no audio pages in %s", s.path)
			}
			if err := s.rewind(); err != nil {
				return media.Sample{}, err
			}
			continue
		}
		if err != nil {
			return media.Sample{}, fmt.Errorf("read ogg: %w", err)
		}
		if bytes.HasPrefix(page, []byte("OpusTags")) {
			continue
		}

		d := 20 * time.Millisecond
		if header.GranulePosition > s.lastGranule {
			d = time.Duration(header.GranulePosition-s.lastGranule) * time.Second / opusSampleRate
		}
		s.lastGranule = header.GranulePosition
		s.pages++

		if err := s.pace.wait(ctx, d); err != nil {
			return media.Sample{}, err
		}
		return media.Sample{Data: page, Duration: d}, nil
	}
}

func (s *OggFileSource) Close() error {
	return s.f.Close()
}
