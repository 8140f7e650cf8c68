package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"argenie/companion/internal/domain"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const defaultTeardownTimeout = 5 * time.Second

// Config holds what the controller needs to join rooms.
type Config struct {
	ServerURL       string
	Identity        domain.Identity
	SessionOptions  domain.SessionOptions
	CameraFacing    domain.CameraFacing
	TeardownTimeout time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver sets the initial observer.
func WithObserver(o domain.Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithExecutor delivers observer callbacks on exec instead of a private
// SerialExecutor.
func WithExecutor(exec domain.Executor) Option {
	return func(c *Controller) { c.exec = exec }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// Controller drives one room session at a time through token fetch,
// connect and camera publish, and tears it down on Stop.
//
// Every asynchronous step runs on the controller's task group and commits
// its result only if the attempt that issued it is still current. Stop
// supersedes the current attempt, so late results are dropped instead of
// reaching the observer.
type Controller struct {
	cfg      Config
	tokens   domain.TokenFetcher
	sessions domain.SessionFactory
	exec     domain.Executor
	ownExec  *SerialExecutor
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	mu            sync.Mutex
	state         State
	attempt       uint64
	stopGen       uint64
	attemptCtx    context.Context
	attemptCancel context.CancelFunc
	session       domain.MediaSession
	lost          string
	observer      domain.Observer
	closed        bool
}

// NewController creates an idle controller.
func NewController(cfg Config, tokens domain.TokenFetcher, sessions domain.SessionFactory, opts ...Option) *Controller {
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = defaultTeardownTimeout
	}
	c := &Controller{
		cfg:      cfg,
		tokens:   tokens,
		sessions: sessions,
		log:      log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec == nil {
		c.ownExec = NewSerialExecutor()
		c.exec = c.ownExec
	}
	c.log = c.log.With().Str("module", "session").Logger()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// SetObserver replaces the observer. A nil observer is allowed.
func (c *Controller) SetObserver(o domain.Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a session attempt for linkCode and returns whether it was
// accepted. It is ignored while another attempt is in flight or connected.
func (c *Controller) Start(linkCode string) bool {
	if linkCode == "" {
		c.log.Warn().Msg("start ignored, empty link code")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.state.acceptsStart() {
		c.log.Debug().Str("state", c.state.String()).Bool("closed", c.closed).Msg("start ignored")
		return false
	}

	c.attempt++
	id := c.attempt
	ctx, cancel := context.WithCancel(c.ctx)
	c.attemptCtx, c.attemptCancel = ctx, cancel
	c.lost = ""
	c.state = StateFetchingToken

	req := domain.NewJoinRequest(c.cfg.Identity, linkCode)
	c.goLocked(func() { c.join(ctx, id, req) })
	return true
}

// Stop abandons the current attempt and leaves the room if connected. It
// never blocks on the network and may be called any number of times.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Close stops the controller and waits for all of its background work to
// finish. The controller cannot be restarted afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopLocked()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	_ = c.group.Wait()
	if c.ownExec != nil {
		c.ownExec.Close()
	}
}

func (c *Controller) stopLocked() {
	prev := c.state
	sess := c.session

	c.attempt++
	c.stopGen++
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
	c.session = nil
	c.state = StateStopped

	if prev != StateStopped {
		c.log.Info().Str("from", prev.String()).Msg("stopping")
	}

	// While connecting, the join task still owns the session and disposes
	// of it once Connect returns.
	if prev == StateConnected && sess != nil {
		if !c.goLocked(func() { c.teardown(sess) }) {
			c.teardown(sess)
		}
	}
}

// goLocked runs fn on the task group. c.mu must be held so that no task is
// added once Close has started waiting.
func (c *Controller) goLocked(fn func()) bool {
	if c.closed {
		return false
	}
	c.group.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error().Interface("panic", r).Msg("task panicked")
			}
		}()
		fn()
		return nil
	})
	return true
}

func (c *Controller) join(ctx context.Context, id uint64, req domain.JoinRequest) {
	l := c.log.With().Uint64("attempt", id).Logger()
	l.Info().Str("link_code", req.LinkCode).Msg("fetching token")

	var token string
	err := protect(func() (err error) {
		token, err = c.tokens.FetchToken(ctx, req)
		return err
	})

	c.mu.Lock()
	if c.attempt != id {
		c.mu.Unlock()
		l.Debug().Msg("token outcome discarded")
		return
	}
	if err != nil {
		c.state = StateIdle
		gen := c.stopGen
		c.mu.Unlock()
		l.Warn().Err(err).Msg("token fetch failed")
		c.deliverFailure(gen, reason(err, "token fetch failed"))
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.connect(ctx, id, token, l)
}

func (c *Controller) connect(ctx context.Context, id uint64, token string, l zerolog.Logger) {
	var (
		sess   domain.MediaSession
		events <-chan domain.Event
	)
	// Subscribe before connecting so no early event is missed.
	err := protect(func() (err error) {
		if sess, err = c.sessions.NewSession(c.cfg.SessionOptions); err != nil {
			return err
		}
		events = sess.Events()
		return nil
	})
	if err != nil {
		c.connectFailed(id, sess, fmt.Errorf("create session: %w", err), l)
		return
	}

	c.mu.Lock()
	if c.attempt != id {
		c.mu.Unlock()
		c.dispose(sess, l)
		return
	}
	c.session = sess
	c.goLocked(func() { c.pump(ctx, id, events) })
	c.mu.Unlock()

	l.Info().Str("url", c.cfg.ServerURL).Msg("connecting")
	if err := protect(func() error { return sess.Connect(ctx, c.cfg.ServerURL, token) }); err != nil {
		c.connectFailed(id, sess, err, l)
		return
	}

	// Connect may return after the attempt ended without honouring ctx.
	c.mu.Lock()
	stale := c.attempt != id
	lost := c.lost
	c.mu.Unlock()
	if stale {
		l.Debug().Msg("connect outcome discarded")
		c.dispose(sess, l)
		return
	}
	if lost != "" {
		c.connectFailed(id, sess, errors.New(lost), l)
		return
	}

	err = protect(func() error {
		sess.SetCameraFacing(c.cfg.CameraFacing)
		return sess.SetCameraEnabled(ctx, true)
	})
	if err != nil {
		c.connectFailed(id, sess, fmt.Errorf("enable camera: %w", err), l)
		return
	}

	c.mu.Lock()
	if c.attempt != id {
		c.mu.Unlock()
		l.Debug().Msg("connect outcome discarded")
		c.teardown(sess)
		return
	}
	if lost := c.lost; lost != "" {
		c.mu.Unlock()
		c.cameraOff(sess)
		c.connectFailed(id, sess, errors.New(lost), l)
		return
	}
	c.state = StateConnected
	gen := c.stopGen
	c.mu.Unlock()

	l.Info().Str("camera", c.cfg.CameraFacing.String()).Msg("connected")
	c.deliver(gen, func(o domain.Observer) { o.OnConnected() })
}

func (c *Controller) connectFailed(id uint64, sess domain.MediaSession, err error, l zerolog.Logger) {
	c.mu.Lock()
	current := c.attempt == id
	if sess != nil && c.session == sess {
		c.session = nil
	}
	if current {
		c.state = StateIdle
		if c.lost != "" {
			err = errors.New(c.lost)
		}
	}
	gen := c.stopGen
	c.mu.Unlock()

	if sess != nil {
		c.dispose(sess, l)
	}
	if !current {
		l.Debug().Err(err).Msg("connect failure discarded")
		return
	}
	l.Warn().Err(err).Msg("connect failed")
	c.deliverFailure(gen, reason(err, "connect failed"))
}

// pump drains the session's event stream for the lifetime of the attempt.
// It keeps draining after a terminal event so the session is never blocked
// on a full stream.
func (c *Controller) pump(ctx context.Context, id uint64, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.log.Debug().
				Uint64("attempt", id).
				Str("event", ev.Kind.String()).
				Str("participant", ev.Participant).
				Msg("room event")
			if ev.Terminal() {
				c.transportLost(id, ev.Reason)
			}
		}
	}
}

// transportLost handles the room going away. While Connecting it fails the
// attempt by cancelling Connect; once Connected it tears down to Idle.
func (c *Controller) transportLost(id uint64, why string) {
	if why == "" {
		why = "disconnected"
	}
	c.mu.Lock()
	if c.attempt != id {
		c.mu.Unlock()
		return
	}
	if c.state == StateConnecting {
		c.lost = why
		if c.attemptCancel != nil {
			c.attemptCancel()
			c.attemptCancel = nil
		}
		c.mu.Unlock()
		c.log.Warn().Uint64("attempt", id).Str("reason", why).Msg("session lost while connecting")
		return
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	sess := c.session
	c.session = nil
	c.state = StateIdle
	if c.attemptCancel != nil {
		c.attemptCancel()
		c.attemptCancel = nil
	}
	gen := c.stopGen
	c.mu.Unlock()

	c.log.Warn().Uint64("attempt", id).Str("reason", why).Msg("session lost")
	if sess != nil {
		c.dispose(sess, c.log)
	}
	c.deliver(gen, func(o domain.Observer) {
		if d, ok := o.(domain.DisconnectObserver); ok {
			d.OnDisconnected(why)
		}
	})
}

func (c *Controller) teardown(sess domain.MediaSession) {
	c.cameraOff(sess)
	c.dispose(sess, c.log)
}

func (c *Controller) cameraOff(sess domain.MediaSession) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TeardownTimeout)
	defer cancel()

	if err := protect(func() error { return sess.SetCameraEnabled(ctx, false) }); err != nil {
		c.log.Warn().Err(err).Msg("disable camera")
	}
}

func (c *Controller) dispose(sess domain.MediaSession, l zerolog.Logger) {
	err := protect(func() error {
		sess.Disconnect()
		return nil
	})
	if err != nil {
		l.Warn().Err(err).Msg("disconnect")
		return
	}
	l.Debug().Msg("session disconnected")
}

// EnableCamera turns the published camera on or off. It does nothing
// without a connected session.
func (c *Controller) EnableCamera(enabled bool) {
	c.toggle("camera", func(ctx context.Context, s domain.MediaSession) error {
		return s.SetCameraEnabled(ctx, enabled)
	})
}

// EnableMicrophone turns the published microphone on or off. It does
// nothing without a connected session.
func (c *Controller) EnableMicrophone(enabled bool) {
	c.toggle("microphone", func(ctx context.Context, s domain.MediaSession) error {
		return s.SetMicrophoneEnabled(ctx, enabled)
	})
}

func (c *Controller) toggle(device string, fn func(context.Context, domain.MediaSession) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.session
	if sess == nil || c.state != StateConnected {
		c.log.Debug().Str("device", device).Msg("toggle ignored, no session")
		return
	}
	ctx := c.attemptCtx
	c.goLocked(func() {
		if err := protect(func() error { return fn(ctx, sess) }); err != nil {
			c.log.Warn().Err(err).Str("device", device).Msg("toggle failed")
		}
	})
}

// CameraEnabled reports whether the camera is publishing. False without a
// session.
func (c *Controller) CameraEnabled() bool {
	return c.read(func(s domain.MediaSession) bool { return s.CameraEnabled() })
}

// MicrophoneEnabled reports whether the microphone is publishing. False
// without a session.
func (c *Controller) MicrophoneEnabled() bool {
	return c.read(func(s domain.MediaSession) bool { return s.MicrophoneEnabled() })
}

func (c *Controller) read(fn func(domain.MediaSession) bool) (on bool) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			on = false
		}
	}()
	return fn(sess)
}

func (c *Controller) deliverFailure(gen uint64, why string) {
	c.deliver(gen, func(o domain.Observer) { o.OnFailure(why) })
}

// deliver posts fn to the callback executor. It is dropped if Stop was
// called after the outcome was committed.
func (c *Controller) deliver(gen uint64, fn func(domain.Observer)) {
	c.exec.Post(func() {
		c.mu.Lock()
		obs := c.observer
		stale := c.stopGen != gen
		c.mu.Unlock()
		if stale || obs == nil {
			return
		}
		fn(obs)
	})
}

func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func reason(err error, fallback string) string {
	if err == nil || err.Error() == "" {
		return fallback
	}
	return err.Error()
}
