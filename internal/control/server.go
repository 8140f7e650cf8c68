package control

import (
	"context"
	"net/http"
	"time"

	"argenie/companion/internal/livekit"
	"argenie/companion/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultPingPeriod = 30 * time.Second

// Controller is the session surface driven from the control port.
type Controller interface {
	Start(linkCode string) bool
	Stop()
	State() session.State
	EnableCamera(enabled bool)
	EnableMicrophone(enabled bool)
	CameraEnabled() bool
	MicrophoneEnabled() bool
}

// Status is the snapshot served on /api/status.
type Status struct {
	State      string           `json:"state"`
	Camera     bool             `json:"camera"`
	Microphone bool             `json:"microphone"`
	Traffic    *livekit.Traffic `json:"traffic,omitempty"`
}

type startRequest struct {
	LinkCode string `json:"linkCode" binding:"required"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// Server exposes the controller over HTTP and websocket.
type Server struct {
	ctrl       Controller
	hub        *Hub
	mode       string
	pingPeriod time.Duration
	traffic    func() livekit.Traffic
	log        zerolog.Logger
}

type Option func(*Server)

// WithMode sets the gin mode: "debug", "release" or "test".
func WithMode(mode string) Option {
	return func(s *Server) { s.mode = mode }
}

func WithPingPeriod(d time.Duration) Option {
	return func(s *Server) { s.pingPeriod = d }
}

// WithTraffic adds outgoing media counters to the status.
func WithTraffic(fn func() livekit.Traffic) Option {
	return func(s *Server) { s.traffic = fn }
}

func NewServer(ctrl Controller, hub *Hub, opts ...Option) *Server {
	s := &Server{
		ctrl:       ctrl,
		hub:        hub,
		mode:       gin.ReleaseMode,
		pingPeriod: defaultPingPeriod,
		log:        log.With().Str("module", "control").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler. Websocket clients live until ctx ends.
func (s *Server) Router(ctx context.Context) *gin.Engine {
	gin.SetMode(s.mode)

	r := gin.New()
	if s.mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/ws", func(c *gin.Context) { s.handleWS(ctx, c) })
	api.GET("/status", s.handleStatus)
	api.POST("/session/start", s.handleStart)
	api.POST("/session/stop", s.handleStop)
	api.POST("/camera", s.handleToggle("camera", s.ctrl.EnableCamera))
	api.POST("/microphone", s.handleToggle("microphone", s.ctrl.EnableMicrophone))

	s.log.Info().Str("mode", s.mode).Msg("router setup")
	return r
}

func (s *Server) status() Status {
	st := Status{
		State:      s.ctrl.State().String(),
		Camera:     s.ctrl.CameraEnabled(),
		Microphone: s.ctrl.MicrophoneEnabled(),
	}
	if s.traffic != nil {
		t := s.traffic()
		st.Traffic = &t
	}
	return st
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "linkCode required"})
		return
	}
	if !s.ctrl.Start(req.LinkCode) {
		c.JSON(http.StatusConflict, gin.H{"error": "session busy", "state": s.ctrl.State().String()})
		return
	}
	s.log.Info().Str("link_code", req.LinkCode).Msg("start requested")
	c.JSON(http.StatusAccepted, s.status())
}

func (s *Server) handleStop(c *gin.Context) {
	s.ctrl.Stop()
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) handleToggle(device string, set func(bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req toggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "enabled required"})
			return
		}
		set(*req.Enabled)
		s.log.Debug().Str("device", device).Bool("enabled", *req.Enabled).Msg("toggle requested")
		c.Status(http.StatusAccepted)
	}
}
