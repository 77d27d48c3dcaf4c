package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Config is shared by the host and relay binaries; each reads the fields it needs.
type Config struct {
	Room        string `env:"APPCANVAS_ROOM" default:"default"`
	RelayURL    string `env:"APPCANVAS_RELAY_URL" default:"http://127.0.0.1:8080"`
	Participant string `env:"APPCANVAS_PARTICIPANT"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`

	CameraMode    string        `env:"APPCANVAS_CAMERA_MODE" default:"broadcaster"`
	CameraWindow  time.Duration `env:"APPCANVAS_CAMERA_WINDOW" default:"20ms"`
	BoxWindow     time.Duration `env:"APPCANVAS_BOX_WINDOW" default:"50ms"`
	CreateTimeout time.Duration `env:"APPCANVAS_CREATE_TIMEOUT" default:"30s"`
	SyncInterval  time.Duration `env:"APPCANVAS_SYNC_INTERVAL" default:"1s"`

	AppCacheDSN    string        `env:"APPCANVAS_APP_CACHE_DSN" default:"file:appcanvas-cache.sqlite3"`
	AppCacheMaxAge time.Duration `env:"APPCANVAS_APP_CACHE_MAX_AGE" default:"24h"`
	FetchTimeout   time.Duration `env:"APPCANVAS_FETCH_TIMEOUT" default:"10s"`

	ListenAddr     string        `env:"APPCANVAS_LISTEN_ADDR" default:"localhost:8080"`
	DatabasePath   string        `env:"APPCANVAS_DATABASE_PATH" default:"appcanvas.sqlite3"`
	BackupInterval time.Duration `env:"APPCANVAS_BACKUP_INTERVAL" default:"5s"`
	BusRate        float64       `env:"APPCANVAS_BUS_RATE" default:"50"`
	BusBurst       int           `env:"APPCANVAS_BUS_BURST" default:"100"`
}

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if !roomPattern.MatchString(cfg.Room) {
		return fmt.Errorf("APPCANVAS_ROOM must match %s", roomPattern)
	}
	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return fmt.Errorf("APPCANVAS_RELAY_URL is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("APPCANVAS_RELAY_URL must be an http or https url")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json; got %q", cfg.LogFormat)
	}
	switch cfg.CameraMode {
	case "broadcaster", "follower", "freedom":
	default:
		return fmt.Errorf("APPCANVAS_CAMERA_MODE must be broadcaster, follower or freedom; got %q", cfg.CameraMode)
	}

	positive := map[string]time.Duration{
		"APPCANVAS_CAMERA_WINDOW":   cfg.CameraWindow,
		"APPCANVAS_BOX_WINDOW":      cfg.BoxWindow,
		"APPCANVAS_CREATE_TIMEOUT":  cfg.CreateTimeout,
		"APPCANVAS_SYNC_INTERVAL":   cfg.SyncInterval,
		"APPCANVAS_FETCH_TIMEOUT":   cfg.FetchTimeout,
		"APPCANVAS_BACKUP_INTERVAL": cfg.BackupInterval,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.BusRate <= 0 || cfg.BusBurst <= 0 {
		return errors.New("APPCANVAS_BUS_RATE and APPCANVAS_BUS_BURST must be positive")
	}
	return nil
}

// RelayBase returns the parsed relay url.
func (c *Config) RelayBase() *url.URL {
	u, _ := url.Parse(c.RelayURL)
	return u
}
