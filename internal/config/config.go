package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"argenie/companion/internal/capture"
	"argenie/companion/internal/domain"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration.
type Config struct {
	APIURL     string `mapstructure:"api_url"`
	LiveKitURL string `mapstructure:"livekit_url"`

	UserID   string `mapstructure:"user_id"`
	UserName string `mapstructure:"user_name"`
	DeviceID string `mapstructure:"device_id"`
	LinkCode string `mapstructure:"link_code"`

	CameraBack   string `mapstructure:"camera_back"`
	CameraFront  string `mapstructure:"camera_front"`
	CameraFacing string `mapstructure:"camera_facing"`
	Microphone   string `mapstructure:"microphone"`
	FPS          int    `mapstructure:"fps"`

	TokenRetries       int           `mapstructure:"token_retries"`
	TokenRetryInterval time.Duration `mapstructure:"token_retry_interval"`
	TeardownTimeout    time.Duration `mapstructure:"teardown_timeout"`

	ControlAddr string        `mapstructure:"control_addr"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	LogLevel    string        `mapstructure:"log_level"`
	Mode        string        `mapstructure:"mode"`
}

// Load reads configuration from a .env file (if present), an optional YAML
// file named by COMPANION_CONFIG and COMPANION_* environment variables.
// Environment variables take precedence.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("COMPANION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv values reach Unmarshal.
	v.SetDefault("api_url", "")
	v.SetDefault("livekit_url", "")
	v.SetDefault("user_id", "")
	v.SetDefault("user_name", "")
	v.SetDefault("device_id", "")
	v.SetDefault("link_code", "")
	v.SetDefault("camera_back", "")
	v.SetDefault("camera_front", "")
	v.SetDefault("camera_facing", "back")
	v.SetDefault("microphone", "")
	v.SetDefault("fps", 30)
	v.SetDefault("token_retries", 2)
	v.SetDefault("token_retry_interval", "500ms")
	v.SetDefault("teardown_timeout", "5s")
	v.SetDefault("control_addr", "127.0.0.1:8090")
	v.SetDefault("ping_period", "30s")
	v.SetDefault("log_level", "info")
	v.SetDefault("mode", "release")

	if file := os.Getenv("COMPANION_CONFIG"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DeviceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceID = host
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("COMPANION_API_URL is required"))
	}
	if c.LiveKitURL == "" {
		errs = append(errs, errors.New("COMPANION_LIVEKIT_URL is required"))
	}
	if c.CameraFacing != "back" && c.CameraFacing != "front" {
		errs = append(errs, fmt.Errorf("camera_facing must be back or front, got %q", c.CameraFacing))
	}
	if c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("fps must be positive, got %d", c.FPS))
	}
	if c.TokenRetries < 0 {
		errs = append(errs, fmt.Errorf("token_retries must not be negative, got %d", c.TokenRetries))
	}
	return errors.Join(errs...)
}

func (c *Config) Identity() domain.Identity {
	return domain.Identity{UserID: c.UserID, UserName: c.UserName, DeviceID: c.DeviceID}
}

func (c *Config) Facing() domain.CameraFacing {
	if c.CameraFacing == "front" {
		return domain.FacingFront
	}
	return domain.FacingBack
}

func (c *Config) Capture() capture.Config {
	return capture.Config{
		BackCamera:  c.CameraBack,
		FrontCamera: c.CameraFront,
		Microphone:  c.Microphone,
		FPS:         c.FPS,
	}
}
