package livekit

import (
	"context"
	"fmt"
	"sync/atomic"

	"argenie/companion/internal/capture"
	"argenie/companion/internal/domain"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// localTrack pumps one capture source into one published track. Samples
// read while the track is muted are dropped so live sources do not back up.
type localTrack struct {
	name   string
	facing domain.CameraFacing
	src    capture.Source
	track  sampleTrack
	pub    publication

	enabled atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func (t *localTrack) run(ctx context.Context, l zerolog.Logger) {
	defer close(t.done)
	for {
		sample, err := t.src.NextSample(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.Warn().Err(err).Str("track", t.name).Msg("capture stopped")
			}
			return
		}
		if !t.enabled.Load() {
			continue
		}
		if err := t.track.WriteSample(sample, nil); err != nil {
			l.Debug().Err(err).Str("track", t.name).Msg("write sample")
		}
	}
}

func (t *localTrack) setEnabled(on bool) {
	if t.enabled.Swap(on) == on {
		return
	}
	t.pub.SetMuted(!on)
}

func (t *localTrack) stop() {
	t.cancel()
	<-t.done
	_ = t.src.Close()
}

func codecFor(mime string) (webrtc.RTPCodecCapability, error) {
	switch mime {
	case webrtc.MimeTypeH264:
		return webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		}, nil
	case webrtc.MimeTypeOpus:
		return webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		}, nil
	}
	return webrtc.RTPCodecCapability{}, fmt.Errorf("unsupported codec %q", mime)
}
