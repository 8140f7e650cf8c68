package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argenie/companion/internal/api"
	"argenie/companion/internal/config"
	"argenie/companion/internal/control"
	"argenie/companion/internal/domain"
	"argenie/companion/internal/livekit"
	"argenie/companion/internal/session"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const helpText = `companion - publish a device camera to a LiveKit room

Usage:
  companion [options]

A session is started from the control port, or at launch when
COMPANION_LINK_CODE is set. The control port serves:

  GET  /api/status            current state and track flags
  POST /api/session/start     {"linkCode":"..."}
  POST /api/session/stop
  POST /api/camera            {"enabled":true}
  POST /api/microphone        {"enabled":true}
  GET  /api/ws                websocket with the same commands and
                              connected/failure/disconnected events

Environment Variables:
  COMPANION_API_URL        token service base URL (required)
  COMPANION_LIVEKIT_URL    LiveKit server URL (required)
  COMPANION_USER_ID        user id sent with the token request
  COMPANION_USER_NAME      display name sent with the token request
  COMPANION_DEVICE_ID      device id (default: hostname)
  COMPANION_LINK_CODE      start a session at launch
  COMPANION_CAMERA_BACK    back camera source (file://*.h264, rtp://host:port)
  COMPANION_CAMERA_FRONT   front camera source
  COMPANION_CAMERA_FACING  back or front (default back)
  COMPANION_MICROPHONE     microphone source (file://*.ogg)
  COMPANION_CONTROL_ADDR   control listen address (default 127.0.0.1:8090)
  COMPANION_LOG_LEVEL      debug, info, warn, error (default info)
  COMPANION_CONFIG         optional YAML file with the same keys

Examples:
  # Feed the back camera from a V4L2 device
  ffmpeg -f v4l2 -i /dev/video0 -c:v libx264 -tune zerolatency -bsf:v h264_mp4toannexb \
    -f rtp rtp://127.0.0.1:5004 &
  COMPANION_CAMERA_BACK=rtp://127.0.0.1:5004 companion

Options:
  -h, --help  Show this help message
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	l := log.With().Str("module", "main").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Step 1: token service client
	tokens := api.NewClient(cfg.APIURL, api.WithRetry(cfg.TokenRetries, cfg.TokenRetryInterval))

	// Step 2: media sessions publishing from the configured devices
	factory := livekit.NewFactory(cfg.Capture())

	// Step 3: control hub observes the controller
	hub := control.NewHub()
	ctrl := session.NewController(session.Config{
		ServerURL:       cfg.LiveKitURL,
		Identity:        cfg.Identity(),
		SessionOptions:  domain.DefaultSessionOptions(),
		CameraFacing:    cfg.Facing(),
		TeardownTimeout: cfg.TeardownTimeout,
	}, tokens, factory, session.WithObserver(hub))

	// Step 4: control port
	router := control.NewServer(ctrl, hub,
		control.WithMode(cfg.Mode),
		control.WithPingPeriod(cfg.PingPeriod),
		control.WithTraffic(factory.Traffic),
	).Router(ctx)
	srv := &http.Server{
		Addr:              cfg.ControlAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		l.Info().Str("addr", cfg.ControlAddr).Msg("control port listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("control server")
			cancel()
		}
	}()

	// Step 5: optional session at launch
	if cfg.LinkCode != "" {
		l.Info().Str("device", cfg.DeviceID).Msg("starting session from environment")
		ctrl.Start(cfg.LinkCode)
	}

	<-ctx.Done()
	l.Info().Msg("shutting down")

	ctrl.Close()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("control server shutdown")
	}
	l.Info().Msg("done")
}
