// Package config provides configuration management for the orbit-imager service.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	Server  ServerConfig  `envPrefix:"SERVER_"`
	Imaging ImagingConfig `envPrefix:"IMAGING_"`
	Orbit   OrbitConfig   `envPrefix:"ORBIT_"`
	Frame   FrameConfig   `envPrefix:"FRAME_"`
	Geocode GeocodeConfig `envPrefix:"GEOCODE_"`
	History HistoryConfig `envPrefix:"HISTORY_"`
	STAC    STACConfig    `envPrefix:"STAC_"`
	Logging LoggingConfig `envPrefix:"LOG_"`
	Tracing TracingConfig `envPrefix:"TRACING_"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ImagingConfig contains gesture and swath parameters.
type ImagingConfig struct {
	LongPress       time.Duration `env:"LONG_PRESS" envDefault:"500ms"`
	MoveTolerancePx float64       `env:"MOVE_TOLERANCE_PX" envDefault:"8"`
	HalfSwathKm     float64       `env:"HALF_SWATH_KM" envDefault:"50"`
	BodyRadiusKm    float64       `env:"BODY_RADIUS_KM" envDefault:"6371"`
	SurfaceOffset   float64       `env:"SURFACE_OFFSET" envDefault:"0.002"`
	// Timezone is an IANA zone name used for displayed timestamps.
	Timezone string `env:"TIMEZONE" envDefault:"Local"`
}

// Orbit models.
const (
	OrbitCircular = "circular"
	OrbitTLE      = "tle"
)

// OrbitConfig selects and parameterises the orbit model.
type OrbitConfig struct {
	Model              string        `env:"MODEL" envDefault:"circular"`
	Radius             float64       `env:"RADIUS" envDefault:"3"`
	TiltDeg            float64       `env:"TILT_DEG" envDefault:"98"`
	Period             time.Duration `env:"PERIOD" envDefault:"10s"`
	BodyRotationPeriod time.Duration `env:"BODY_ROTATION_PERIOD" envDefault:"60s"`
	TLELine1           string        `env:"TLE_LINE1" envDefault:""`
	TLELine2           string        `env:"TLE_LINE2" envDefault:""`
}

// FrameConfig contains frame loop and trail settings.
type FrameConfig struct {
	Interval            time.Duration `env:"INTERVAL" envDefault:"100ms"`
	TrailFade           time.Duration `env:"TRAIL_FADE" envDefault:"10s"`
	TrailSampleInterval time.Duration `env:"TRAIL_SAMPLE_INTERVAL" envDefault:"250ms"`
}

// GeocodeConfig contains reverse geocoding client configuration.
type GeocodeConfig struct {
	BaseURL      string        `env:"BASE_URL" envDefault:"https://nominatim.openstreetmap.org"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	Zoom         int           `env:"ZOOM" envDefault:"5"`
	UserAgent    string        `env:"USER_AGENT" envDefault:"orbit-imager/1.0"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"1h"`
	CacheCleanup time.Duration `env:"CACHE_CLEANUP" envDefault:"5m"`
}

// History backends.
const (
	HistoryMemory = "memory"
	HistorySQLite = "sqlite"
)

// HistoryConfig selects where finished sessions are stored.
type HistoryConfig struct {
	Backend string `env:"BACKEND" envDefault:"memory"`
	Path    string `env:"PATH" envDefault:"orbit-imager.db"`
}

// STACConfig contains STAC API metadata configuration.
type STACConfig struct {
	Version      string `env:"VERSION" envDefault:"1.0.0"`
	BaseURL      string `env:"BASE_URL"` // Public-facing URL (required)
	Title        string `env:"TITLE" envDefault:"Orbit Imager"`
	Description  string `env:"DESCRIPTION" envDefault:"Imaging sessions captured by the orbit imager"`
	DefaultLimit int    `env:"DEFAULT_LIMIT" envDefault:"10"`
	MaxLimit     int    `env:"MAX_LIMIT" envDefault:"250"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `env:"ENABLED" envDefault:"false"`
	ServiceName string  `env:"SERVICE_NAME" envDefault:"orbit-imager"`
	SampleRatio float64 `env:"SAMPLE_RATIO" envDefault:"1"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive, got %s", c.Server.ReadTimeout)
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive, got %s", c.Server.WriteTimeout)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}

	// Validate imaging config
	if c.Imaging.LongPress <= 0 {
		return fmt.Errorf("long press duration must be positive, got %s", c.Imaging.LongPress)
	}

	if c.Imaging.MoveTolerancePx < 0 {
		return fmt.Errorf("move tolerance must not be negative, got %v", c.Imaging.MoveTolerancePx)
	}

	if c.Imaging.HalfSwathKm <= 0 || c.Imaging.BodyRadiusKm <= 0 {
		return fmt.Errorf("swath half-width and body radius must be positive, got %v km and %v km",
			c.Imaging.HalfSwathKm, c.Imaging.BodyRadiusKm)
	}

	if c.Imaging.SurfaceOffset < 0 {
		return fmt.Errorf("surface offset must not be negative, got %v", c.Imaging.SurfaceOffset)
	}

	if _, err := c.Imaging.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Imaging.Timezone, err)
	}

	// Validate orbit config
	switch c.Orbit.Model {
	case OrbitCircular:
		if c.Orbit.Radius <= 1 {
			return fmt.Errorf("orbit radius must exceed the body radius (1), got %v", c.Orbit.Radius)
		}
		if c.Orbit.Period <= 0 {
			return fmt.Errorf("orbit period must be positive, got %s", c.Orbit.Period)
		}
	case OrbitTLE:
		if c.Orbit.TLELine1 == "" || c.Orbit.TLELine2 == "" {
			return fmt.Errorf("orbit model %q requires TLE_LINE1 and TLE_LINE2", OrbitTLE)
		}
	default:
		return fmt.Errorf("orbit model must be %q or %q, got %q", OrbitCircular, OrbitTLE, c.Orbit.Model)
	}

	// Validate frame config
	if c.Frame.Interval <= 0 {
		return fmt.Errorf("frame interval must be positive, got %s", c.Frame.Interval)
	}

	if c.Frame.TrailFade <= 0 {
		return fmt.Errorf("trail fade must be positive, got %s", c.Frame.TrailFade)
	}

	// Validate geocode config
	if _, err := url.ParseRequestURI(c.Geocode.BaseURL); err != nil {
		return fmt.Errorf("invalid geocode base URL %q: %w", c.Geocode.BaseURL, err)
	}

	if c.Geocode.Timeout <= 0 {
		return fmt.Errorf("geocode timeout must be positive, got %s", c.Geocode.Timeout)
	}

	if c.Geocode.Zoom < 0 || c.Geocode.Zoom > 18 {
		return fmt.Errorf("geocode zoom must be between 0 and 18, got %d", c.Geocode.Zoom)
	}

	// Validate history config
	switch c.History.Backend {
	case HistoryMemory:
	case HistorySQLite:
		if c.History.Path == "" {
			return fmt.Errorf("history path is required for the sqlite backend")
		}
		if c.History.Path == ":memory:" || strings.HasPrefix(c.History.Path, "file::memory:") {
			return fmt.Errorf("history path %q is in-memory; use the %q backend instead", c.History.Path, HistoryMemory)
		}
	default:
		return fmt.Errorf("history backend must be %q or %q, got %q", HistoryMemory, HistorySQLite, c.History.Backend)
	}

	// Validate STAC config
	if c.STAC.BaseURL == "" {
		return fmt.Errorf("STAC base URL is required")
	}

	if c.STAC.Version == "" {
		return fmt.Errorf("STAC version is required")
	}

	if c.STAC.DefaultLimit < 1 {
		return fmt.Errorf("default limit must be at least 1, got %d", c.STAC.DefaultLimit)
	}

	if c.STAC.MaxLimit < c.STAC.DefaultLimit {
		return fmt.Errorf("max limit (%d) must be >= default limit (%d)", c.STAC.MaxLimit, c.STAC.DefaultLimit)
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	// Validate tracing config
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio)
	}

	return nil
}

// Address returns the server listen address in the format "host:port".
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Location returns the display time zone.
func (i *ImagingConfig) Location() (*time.Location, error) {
	if i.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(i.Timezone)
}

