package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"argenie/companion/internal/domain"

	"github.com/pion/webrtc/v4/pkg/media"
)

const defaultFPS = 30

var (
	// ErrNoSource is returned when no device is configured for a track.
	ErrNoSource = errors.New("no capture source configured")
	// ErrUnsupported is returned for source URIs Open cannot handle.
	ErrUnsupported = errors.New("unsupported capture source")
)

// annexBStartCode prefixes every NAL unit handed to the H264 payloader.
var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// Source produces encoded media samples ready to be written to a track.
type Source interface {
	// MimeType is the codec of the produced samples.
	MimeType() string
	NextSample(ctx context.Context) (media.Sample, error)
	Close() error
}

// Config maps local devices to source URIs.
//
//	file:///data/back.h264   H264 Annex-B elementary stream, looped
//	file:///data/mic.ogg     Ogg/Opus, looped
//	rtp://127.0.0.1:5004     H264 over RTP, e.g. from ffmpeg reading /dev/video0
type Config struct {
	BackCamera  string
	FrontCamera string
	Microphone  string
	FPS         int
}

// Camera returns the source URI for the camera facing f, falling back to
// the other camera when only one is configured.
func (c Config) Camera(f domain.CameraFacing) string {
	if f == domain.FacingFront && c.FrontCamera != "" {
		return c.FrontCamera
	}
	if c.BackCamera != "" {
		return c.BackCamera
	}
	return c.FrontCamera
}

// Open creates the source described by uri.
func Open(uri string, fps int) (Source, error) {
	if uri == "" {
		return nil, ErrNoSource
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse source %q: %w", uri, err)
	}

	switch u.Scheme {
	case "file", "":
		path := u.Path
		if u.Scheme == "" {
			path = uri
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".h264", ".264":
			return OpenH264File(path, fps)
		case ".ogg", ".opus":
			return OpenOggFile(path)
		}
	case "rtp":
		return ListenRTP(u.Host, fps)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, uri)
}

func frameDuration(fps int) time.Duration {
	if fps <= 0 {
		fps = defaultFPS
	}
	return time.Second / time.Duration(fps)
}

// pacer releases samples in real time.
type pacer struct {
	next time.Time
}

// wait blocks until the current sample is due and schedules the next one
// d later. After a stall of more than a second the schedule restarts.
func (p *pacer) wait(ctx context.Context, d time.Duration) error {
	now := time.Now()
	if p.next.IsZero() || p.next.Before(now.Add(-time.Second)) {
		p.next = now
	}
	delay := p.next.Sub(now)
	p.next = p.next.Add(d)
	if delay <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
