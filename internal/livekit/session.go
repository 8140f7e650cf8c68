package livekit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"argenie/companion/internal/capture"
	"argenie/companion/internal/domain"

	lkproto "github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const eventBuffer = 16

var (
	errClosed        = errors.New("session closed")
	errAlreadyJoined = errors.New("session already connected")
)

var _ domain.MediaSession = (*Session)(nil)

// Session is one LiveKit room connection publishing the device camera and
// microphone.
type Session struct {
	room        room
	capture     capture.Config
	openSource  func(uri string, fps int) (capture.Source, error)
	newTrack    func(webrtc.RTPCodecCapability) (sampleTrack, error)
	connectOpts []lksdk.ConnectOption
	log         zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	evMu     sync.RWMutex
	evClosed bool
	events   chan domain.Event

	// opMu serializes publishing. mu guards the fields below.
	opMu    sync.Mutex
	mu      sync.Mutex
	facing  domain.CameraFacing
	joining bool
	joined  bool
	closed  bool
	camera  *localTrack
	mic     *localTrack

	once sync.Once
}

func (s *Session) Events() <-chan domain.Event {
	return s.events
}

// Connect joins the room. If ctx ends first Connect returns its error; a
// join that completes afterwards is left as soon as it returns.
func (s *Session) Connect(ctx context.Context, url, token string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return errClosed
	case s.joining || s.joined:
		s.mu.Unlock()
		return errAlreadyJoined
	}
	s.joining = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := s.room.JoinWithToken(url, token, s.connectOpts...)

		s.mu.Lock()
		s.joining = false
		s.joined = err == nil
		abandoned := s.joined && s.closed
		s.mu.Unlock()

		if abandoned {
			s.log.Debug().Msg("leaving room joined after disconnect")
			s.room.Disconnect()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		s.emit(domain.Event{Kind: domain.EventConnected})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect leaves the room, stops capture and closes the event stream.
func (s *Session) Disconnect() {
	s.once.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		joined := s.joined
		s.mu.Unlock()
		if joined {
			s.room.Disconnect()
		}

		s.opMu.Lock()
		s.mu.Lock()
		tracks := []*localTrack{s.camera, s.mic}
		s.camera, s.mic = nil, nil
		s.mu.Unlock()
		for _, t := range tracks {
			if t != nil {
				t.stop()
			}
		}
		s.opMu.Unlock()

		s.evMu.Lock()
		s.evClosed = true
		close(s.events)
		s.evMu.Unlock()
	})
}

// SetCameraFacing selects the camera used the next time the camera is
// enabled.
func (s *Session) SetCameraFacing(f domain.CameraFacing) {
	s.mu.Lock()
	s.facing = f
	s.mu.Unlock()
}

func (s *Session) SetCameraEnabled(ctx context.Context, enabled bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	cam, facing := s.camera, s.facing
	s.mu.Unlock()

	if cam != nil && (!enabled || cam.facing == facing) {
		cam.setEnabled(enabled)
		return nil
	}
	if !enabled {
		return nil
	}
	if cam != nil {
		s.unpublish(cam)
		s.mu.Lock()
		s.camera = nil
		s.mu.Unlock()
	}

	t, err := s.publish(ctx, "camera-"+facing.String(), s.capture.Camera(facing), lkproto.TrackSource_CAMERA)
	if err != nil {
		return err
	}
	t.facing = facing
	s.mu.Lock()
	s.camera = t
	s.mu.Unlock()
	return nil
}

func (s *Session) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	mic := s.mic
	s.mu.Unlock()

	if mic != nil {
		mic.setEnabled(enabled)
		return nil
	}
	if !enabled {
		return nil
	}

	t, err := s.publish(ctx, "microphone", s.capture.Microphone, lkproto.TrackSource_MICROPHONE)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.mic = t
	s.mu.Unlock()
	return nil
}

func (s *Session) CameraEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera != nil && s.camera.enabled.Load()
}

func (s *Session) MicrophoneEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mic != nil && s.mic.enabled.Load()
}

func (s *Session) publish(ctx context.Context, name, uri string, source lkproto.TrackSource) (*localTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := s.openSource(uri, s.capture.FPS)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	codec, err := codecFor(src.MimeType())
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	track, err := s.newTrack(codec)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("create %s track: %w", name, err)
	}
	pub, err := s.room.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: name, Source: source})
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("publish %s: %w", name, err)
	}

	pctx, cancel := context.WithCancel(s.ctx)
	t := &localTrack{
		name:   name,
		src:    src,
		track:  track,
		pub:    pub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.run(pctx, s.log)

	s.log.Info().Str("track", name).Str("sid", pub.SID()).Str("codec", codec.MimeType).Msg("track published")
	s.emit(domain.Event{Kind: domain.EventTrackPublished, Track: name})
	return t, nil
}

func (s *Session) unpublish(t *localTrack) {
	if err := s.room.UnpublishTrack(t.pub.SID()); err != nil {
		s.log.Warn().Err(err).Str("track", t.name).Msg("unpublish")
	}
	t.stop()
}

// emit blocks until the event is consumed or the session is disconnected.
func (s *Session) emit(ev domain.Event) {
	s.evMu.RLock()
	defer s.evMu.RUnlock()
	if s.evClosed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}
