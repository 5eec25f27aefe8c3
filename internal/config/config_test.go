package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("STAC_BASE_URL", "https://example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Test defaults
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Imaging.LongPress != 500*time.Millisecond {
		t.Errorf("expected default long press 500ms, got %s", cfg.Imaging.LongPress)
	}

	if cfg.Imaging.MoveTolerancePx != 8 {
		t.Errorf("expected default move tolerance 8, got %v", cfg.Imaging.MoveTolerancePx)
	}

	if cfg.Orbit.Model != OrbitCircular || cfg.Orbit.TiltDeg != 98 || cfg.Orbit.Radius != 3 {
		t.Errorf("unexpected default orbit %+v", cfg.Orbit)
	}

	if cfg.Frame.Interval != 100*time.Millisecond {
		t.Errorf("expected default frame interval 100ms, got %s", cfg.Frame.Interval)
	}

	if cfg.Geocode.BaseURL != "https://nominatim.openstreetmap.org" {
		t.Errorf("expected default geocode base URL, got %s", cfg.Geocode.BaseURL)
	}

	if cfg.History.Backend != HistoryMemory {
		t.Errorf("expected default history backend memory, got %s", cfg.History.Backend)
	}

	if cfg.STAC.Version != "1.0.0" {
		t.Errorf("expected default STAC version 1.0.0, got %s", cfg.STAC.Version)
	}

	if cfg.STAC.DefaultLimit != 10 {
		t.Errorf("expected default limit 10, got %d", cfg.STAC.DefaultLimit)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}

	if cfg.Tracing.Enabled {
		t.Error("expected tracing disabled by default")
	}
}

func TestLoadWithCustomValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_READ_TIMEOUT", "60s")
	t.Setenv("IMAGING_LONG_PRESS", "750ms")
	t.Setenv("IMAGING_TIMEZONE", "UTC")
	t.Setenv("ORBIT_PERIOD", "20s")
	t.Setenv("GEOCODE_TIMEOUT", "45s")
	t.Setenv("HISTORY_BACKEND", "sqlite")
	t.Setenv("HISTORY_PATH", "/tmp/sessions.db")
	t.Setenv("STAC_BASE_URL", "https://stac.example.com")
	t.Setenv("STAC_DEFAULT_LIMIT", "25")
	t.Setenv("STAC_MAX_LIMIT", "500")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_SAMPLE_RATIO", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}

	if cfg.Server.ReadTimeout != 60*time.Second {
		t.Errorf("expected read timeout 60s, got %s", cfg.Server.ReadTimeout)
	}

	if cfg.Imaging.LongPress != 750*time.Millisecond {
		t.Errorf("expected long press 750ms, got %s", cfg.Imaging.LongPress)
	}

	loc, err := cfg.Imaging.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location() = %v, %v; want UTC", loc, err)
	}

	if cfg.Orbit.Period != 20*time.Second {
		t.Errorf("expected orbit period 20s, got %s", cfg.Orbit.Period)
	}

	if cfg.Geocode.Timeout != 45*time.Second {
		t.Errorf("expected geocode timeout 45s, got %s", cfg.Geocode.Timeout)
	}

	if cfg.History.Backend != HistorySQLite || cfg.History.Path != "/tmp/sessions.db" {
		t.Errorf("unexpected history config %+v", cfg.History)
	}

	if cfg.STAC.DefaultLimit != 25 {
		t.Errorf("expected default limit 25, got %d", cfg.STAC.DefaultLimit)
	}

	if cfg.STAC.MaxLimit != 500 {
		t.Errorf("expected max limit 500, got %d", cfg.STAC.MaxLimit)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected log format text, got %s", cfg.Logging.Format)
	}

	if !cfg.Tracing.Enabled || cfg.Tracing.SampleRatio != 0.25 {
		t.Errorf("unexpected tracing config %+v", cfg.Tracing)
	}
}

func TestLoadMissingBaseURL(t *testing.T) {
	t.Setenv("STAC_BASE_URL", "")

	if _, err := Load(); err == nil {
		t.Error("Load() should fail without STAC_BASE_URL")
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Imaging: ImagingConfig{
			LongPress:       500 * time.Millisecond,
			MoveTolerancePx: 8,
			HalfSwathKm:     50,
			BodyRadiusKm:    6371,
			SurfaceOffset:   0.002,
			Timezone:        "UTC",
		},
		Orbit: OrbitConfig{
			Model:              OrbitCircular,
			Radius:             3,
			TiltDeg:            98,
			Period:             10 * time.Second,
			BodyRotationPeriod: 60 * time.Second,
		},
		Frame: FrameConfig{
			Interval:            100 * time.Millisecond,
			TrailFade:           10 * time.Second,
			TrailSampleInterval: 250 * time.Millisecond,
		},
		Geocode: GeocodeConfig{
			BaseURL: "https://nominatim.openstreetmap.org",
			Timeout: 10 * time.Second,
			Zoom:    5,
		},
		History: HistoryConfig{
			Backend: HistoryMemory,
		},
		STAC: STACConfig{
			Version:      "1.0.0",
			BaseURL:      "https://stac.example.com",
			DefaultLimit: 10,
			MaxLimit:     250,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantError bool
	}{
		{name: "valid config", modify: func(*Config) {}},
		{
			name: "valid TLE orbit",
			modify: func(c *Config) {
				c.Orbit.Model = OrbitTLE
				c.Orbit.TLELine1 = "1 25544U"
				c.Orbit.TLELine2 = "2 25544"
			},
		},
		{
			name: "valid sqlite history",
			modify: func(c *Config) {
				c.History.Backend = HistorySQLite
				c.History.Path = "sessions.db"
			},
		},
		{name: "invalid port", modify: func(c *Config) { c.Server.Port = 0 }, wantError: true},
		{name: "zero shutdown timeout", modify: func(c *Config) { c.Server.ShutdownTimeout = 0 }, wantError: true},
		{name: "zero long press", modify: func(c *Config) { c.Imaging.LongPress = 0 }, wantError: true},
		{name: "negative tolerance", modify: func(c *Config) { c.Imaging.MoveTolerancePx = -1 }, wantError: true},
		{name: "zero swath", modify: func(c *Config) { c.Imaging.HalfSwathKm = 0 }, wantError: true},
		{name: "unknown timezone", modify: func(c *Config) { c.Imaging.Timezone = "Mars/Olympus" }, wantError: true},
		{name: "orbit inside body", modify: func(c *Config) { c.Orbit.Radius = 0.5 }, wantError: true},
		{name: "unknown orbit model", modify: func(c *Config) { c.Orbit.Model = "kepler" }, wantError: true},
		{name: "TLE without lines", modify: func(c *Config) { c.Orbit.Model = OrbitTLE }, wantError: true},
		{name: "zero frame interval", modify: func(c *Config) { c.Frame.Interval = 0 }, wantError: true},
		{name: "bad geocode URL", modify: func(c *Config) { c.Geocode.BaseURL = "not a url" }, wantError: true},
		{name: "zoom out of range", modify: func(c *Config) { c.Geocode.Zoom = 19 }, wantError: true},
		{name: "unknown history backend", modify: func(c *Config) { c.History.Backend = "redis" }, wantError: true},
		{
			name: "sqlite without path",
			modify: func(c *Config) {
				c.History.Backend = HistorySQLite
				c.History.Path = ""
			},
			wantError: true,
		},
		{
			name: "sqlite in memory",
			modify: func(c *Config) {
				c.History.Backend = HistorySQLite
				c.History.Path = ":memory:"
			},
			wantError: true,
		},
		{
			name: "sqlite shared memory URI",
			modify: func(c *Config) {
				c.History.Backend = HistorySQLite
				c.History.Path = "file::memory:?cache=shared"
			},
			wantError: true,
		},
		{name: "missing STAC base URL", modify: func(c *Config) { c.STAC.BaseURL = "" }, wantError: true},
		{name: "max below default limit", modify: func(c *Config) { c.STAC.MaxLimit = 5 }, wantError: true},
		{name: "invalid log level", modify: func(c *Config) { c.Logging.Level = "invalid" }, wantError: true},
		{name: "invalid log format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantError: true},
		{name: "sample ratio above one", modify: func(c *Config) { c.Tracing.SampleRatio = 1.5 }, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantError {
				t.Errorf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestServerConfigAddress(t *testing.T) {
	cfg := ServerConfig{
		Host: "localhost",
		Port: 3000,
	}

	addr := cfg.Address()
	expected := "localhost:3000"
	if addr != expected {
		t.Errorf("Address() = %s, expected %s", addr, expected)
	}
}

