package livekit

import (
	"context"

	"argenie/companion/internal/capture"
	"argenie/companion/internal/domain"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Factory creates LiveKit sessions that publish from the configured
// capture devices.
type Factory struct {
	capture capture.Config
	log     zerolog.Logger
	counter *sendCounter

	newRoom    func(*lksdk.RoomCallback) room
	newTrack   func(webrtc.RTPCodecCapability) (sampleTrack, error)
	openSource func(uri string, fps int) (capture.Source, error)
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) FactoryOption {
	return func(f *Factory) { f.log = l }
}

func NewFactory(cfg capture.Config, opts ...FactoryOption) *Factory {
	f := &Factory{
		capture:    cfg,
		log:        log.Logger,
		counter:    &sendCounter{},
		newRoom:    newLKRoom,
		newTrack:   newLKTrack,
		openSource: capture.Open,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With().Str("module", "livekit").Logger()
	return f
}

// NewSession creates an unconnected session. The device only publishes, so
// remote tracks are never subscribed. Adaptive stream and dynacast are
// negotiated by the server for this publisher and are only logged here.
func (f *Factory) NewSession(opts domain.SessionOptions) (domain.MediaSession, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		capture:    f.capture,
		openSource: f.openSource,
		newTrack:   f.newTrack,
		connectOpts: []lksdk.ConnectOption{
			lksdk.WithAutoSubscribe(false),
			lksdk.WithInterceptors([]interceptor.Factory{f.counter}),
		},
		log:    f.log,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan domain.Event, eventBuffer),
	}
	s.room = f.newRoom(roomCallback(s.emit))

	f.log.Debug().
		Bool("adaptive_stream", opts.AdaptiveStream).
		Bool("dynacast", opts.Dynacast).
		Msg("session created")
	return s, nil
}

// Traffic reports RTP sent by all sessions of this factory.
func (f *Factory) Traffic() Traffic {
	return f.counter.snapshot()
}
