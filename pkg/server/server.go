// Package server provides a public API for embedding the orbit imager.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robert-malhotra/orbit-imager/internal/api"
	"github.com/robert-malhotra/orbit-imager/internal/config"
	"github.com/robert-malhotra/orbit-imager/internal/engine"
	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geocode"
	"github.com/robert-malhotra/orbit-imager/internal/history"
	"github.com/robert-malhotra/orbit-imager/internal/observability"
	"github.com/robert-malhotra/orbit-imager/internal/orbit"
	"github.com/robert-malhotra/orbit-imager/internal/session"
	"github.com/robert-malhotra/orbit-imager/internal/sun"
	"github.com/robert-malhotra/orbit-imager/internal/trail"
	"github.com/robert-malhotra/orbit-imager/internal/translate"
)

// OrbitModel selects how the satellite moves.
type OrbitModel string

const (
	// OrbitCircular flies a tilted circular orbit around a unit body.
	OrbitCircular OrbitModel = config.OrbitCircular
	// OrbitTLE propagates a two-line element set around the Earth.
	OrbitTLE OrbitModel = config.OrbitTLE
)

// HistoryBackend selects where finished sessions are kept.
type HistoryBackend string

const (
	// HistoryMemory keeps sessions for the lifetime of the process.
	HistoryMemory HistoryBackend = config.HistoryMemory
	// HistorySQLite persists sessions to a SQLite file.
	HistorySQLite HistoryBackend = config.HistorySQLite
)

// Options configures the orbit imager server.
type Options struct {
	// BaseURL is the public-facing URL for self-referential links (required).
	// Example: "http://localhost:8080"
	BaseURL string

	// Title is the STAC API title.
	// Default: "Orbit Imager"
	Title string

	// Description is the STAC API description.
	// Default: "Imaging sessions captured by the orbit imager"
	Description string

	// DefaultLimit is the default number of sessions per page.
	// Default: 10
	DefaultLimit int

	// MaxLimit is the maximum number of sessions per page.
	// Default: 250
	MaxLimit int

	// LongPress is how long a pointer must be held to start imaging.
	// Default: 500ms
	LongPress time.Duration

	// MoveTolerancePx is how far a held pointer may drift before the press
	// turns into a drag.
	// Default: 8
	MoveTolerancePx float64

	// HalfSwathKm and BodyRadiusKm set the angular half-width of the swath.
	// Default: 50 and 6371
	HalfSwathKm  float64
	BodyRadiusKm float64

	// Timezone is the IANA zone used for displayed timestamps.
	// Default: "Local"
	Timezone string

	// Orbit selects the orbit model.
	// Default: OrbitCircular
	Orbit OrbitModel

	// OrbitRadius, OrbitTiltDeg, OrbitPeriod and BodyRotationPeriod shape
	// the circular orbit. Zero values keep the defaults (3, 98, 10s, 60s).
	OrbitRadius        float64
	OrbitTiltDeg       float64
	OrbitPeriod        time.Duration
	BodyRotationPeriod time.Duration

	// TLELine1 and TLELine2 are required when Orbit is OrbitTLE.
	TLELine1 string
	TLELine2 string

	// FrameInterval is the frame loop period.
	// Default: 100ms
	FrameInterval time.Duration

	// TrailFade is how long a past footprint stays visible.
	// Default: 10s
	TrailFade time.Duration

	// GeocodeBaseURL is the Nominatim-compatible reverse geocoder.
	// Default: "https://nominatim.openstreetmap.org"
	GeocodeBaseURL string

	// GeocodeTimeout is the per-lookup timeout.
	// Default: 10s
	GeocodeTimeout time.Duration

	// History selects the session history backend.
	// Default: HistoryMemory
	History HistoryBackend

	// HistoryPath is the SQLite file used by HistorySQLite.
	// Default: "orbit-imager.db"
	HistoryPath string

	// Registerer receives the Prometheus metrics. When nil, metrics are
	// not collected and /metrics is not served.
	Registerer prometheus.Registerer

	// Logger is the slog logger to use.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Server is an orbit imager that can be embedded in another application.
type Server struct {
	router  chi.Router
	engine  *engine.Engine
	manager *session.Manager
	cache   *geocode.LabelCache
	store   history.Store
	logger  *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New creates a new orbit imager with the given options and starts its
// frame loop. Call Close to stop it.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg := buildConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	var collector *observability.Collector
	if opts.Registerer != nil {
		c, err := observability.NewCollector(opts.Registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		collector = c
	}

	return NewFromConfig(context.Background(), cfg, collector, opts.Logger)
}

// NewFromConfig assembles a server from a loaded configuration. collector may
// be nil.
func NewFromConfig(ctx context.Context, cfg *config.Config, collector *observability.Collector, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loc, err := cfg.Imaging.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	src, light, err := buildOrbit(cfg.Orbit)
	if err != nil {
		return nil, err
	}

	store, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		return nil, err
	}

	geoClient := geocode.NewClient(cfg.Geocode.BaseURL, cfg.Geocode.Timeout).
		WithLogger(logger).
		WithUserAgent(cfg.Geocode.UserAgent).
		WithZoom(cfg.Geocode.Zoom)
	cache := geocode.NewLabelCache(cfg.Geocode.CacheTTL, cfg.Geocode.CacheCleanup)
	resolver := geocode.NewResolver(geoClient).
		WithCache(cache).
		WithLogger(logger)

	projector := footprint.NewProjector(
		footprint.HalfSwathAngle(cfg.Imaging.HalfSwathKm, cfg.Imaging.BodyRadiusKm),
		src.BodyRadius(),
	)
	projector.SurfaceOffset = cfg.Imaging.SurfaceOffset

	sessionOpts := session.Options{
		Rules: session.Rules{
			LongPress:     cfg.Imaging.LongPress,
			MoveTolerance: cfg.Imaging.MoveTolerancePx,
			Projector:     projector,
		},
		History:  store,
		Resolver: resolver,
		Logger:   logger,
	}
	engineCfg := engine.Config{
		Orbit:    src,
		Sun:      light,
		Trail:    trail.New(cfg.Frame.TrailFade, cfg.Frame.TrailSampleInterval),
		Interval: cfg.Frame.Interval,
		Location: loc,
		Logger:   logger,
	}
	if collector != nil {
		resolver.WithRecorder(collector)
		sessionOpts.Metrics = collector
		engineCfg.Recorder = collector
	}

	// The manager asks the engine where the satellite is when a long press
	// fires between frames.
	var eng *engine.Engine
	sessionOpts.Observe = func(at time.Time) session.Observation { return eng.Observe(at) }
	manager := session.NewManager(sessionOpts)

	engineCfg.Sessions = manager
	eng, err = engine.New(engineCfg)
	if err != nil {
		manager.Close()
		cache.Stop()
		store.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	translator := translate.NewTranslator(cfg.STAC.BaseURL, cfg.STAC.Version)
	handlers := api.NewHandlers(cfg, eng, store, translator, logger)
	router := api.NewRouter(handlers, logger, collector)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:  router,
		engine:  eng,
		manager: manager,
		cache:   cache,
		store:   store,
		logger:  logger,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := eng.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("frame loop stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("orbit imager ready",
		slog.String("orbit", cfg.Orbit.Model),
		slog.String("history", cfg.History.Backend),
		slog.String("geocoder", cfg.Geocode.BaseURL),
	)

	return s, nil
}

// Router returns the chi.Router for mounting in another application.
func (s *Server) Router() chi.Router {
	return s.router
}

// Engine returns the frame engine.
func (s *Server) Engine() *engine.Engine {
	return s.engine
}

// Close stops the frame loop, cancels pending location lookups and closes
// the history store. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		s.manager.Close()
		s.cache.Stop()
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

func buildConfig(opts Options) *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Imaging: config.ImagingConfig{
			LongPress:       orDuration(opts.LongPress, 500*time.Millisecond),
			MoveTolerancePx: orFloat(opts.MoveTolerancePx, 8),
			HalfSwathKm:     orFloat(opts.HalfSwathKm, 50),
			BodyRadiusKm:    orFloat(opts.BodyRadiusKm, 6371),
			SurfaceOffset:   footprint.DefaultSurfaceOffset,
			Timezone:        opts.Timezone,
		},
		Orbit: config.OrbitConfig{
			Model:              string(opts.Orbit),
			Radius:             orFloat(opts.OrbitRadius, 3),
			TiltDeg:            orFloat(opts.OrbitTiltDeg, 98),
			Period:             orDuration(opts.OrbitPeriod, 10*time.Second),
			BodyRotationPeriod: orDuration(opts.BodyRotationPeriod, time.Minute),
			TLELine1:           opts.TLELine1,
			TLELine2:           opts.TLELine2,
		},
		Frame: config.FrameConfig{
			Interval:            orDuration(opts.FrameInterval, engine.DefaultInterval),
			TrailFade:           orDuration(opts.TrailFade, trail.DefaultFade),
			TrailSampleInterval: 250 * time.Millisecond,
		},
		Geocode: config.GeocodeConfig{
			BaseURL:      opts.GeocodeBaseURL,
			Timeout:      orDuration(opts.GeocodeTimeout, 10*time.Second),
			Zoom:         5,
			UserAgent:    "orbit-imager/1.0",
			CacheTTL:     time.Hour,
			CacheCleanup: 5 * time.Minute,
		},
		History: config.HistoryConfig{
			Backend: string(opts.History),
			Path:    opts.HistoryPath,
		},
		STAC: config.STACConfig{
			Version:      "1.0.0",
			BaseURL:      opts.BaseURL,
			Title:        opts.Title,
			Description:  opts.Description,
			DefaultLimit: opts.DefaultLimit,
			MaxLimit:     opts.MaxLimit,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
		Tracing: config.TracingConfig{ServiceName: "orbit-imager", SampleRatio: 1},
	}

	// Apply defaults
	if cfg.Imaging.Timezone == "" {
		cfg.Imaging.Timezone = "Local"
	}
	if cfg.Orbit.Model == "" {
		cfg.Orbit.Model = config.OrbitCircular
	}
	if cfg.Geocode.BaseURL == "" {
		cfg.Geocode.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = config.HistoryMemory
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "orbit-imager.db"
	}
	if cfg.STAC.Title == "" {
		cfg.STAC.Title = "Orbit Imager"
	}
	if cfg.STAC.Description == "" {
		cfg.STAC.Description = "Imaging sessions captured by the orbit imager"
	}
	if cfg.STAC.DefaultLimit == 0 {
		cfg.STAC.DefaultLimit = 10
	}
	if cfg.STAC.MaxLimit == 0 {
		cfg.STAC.MaxLimit = 250
	}

	return cfg
}

// buildOrbit picks the orbit source and the matching light source. The
// circular orbit is lit from a fixed scene direction; a TLE orbit uses the
// real sun.
func buildOrbit(cfg config.OrbitConfig) (orbit.Source, sun.Source, error) {
	switch cfg.Model {
	case config.OrbitTLE:
		src, err := orbit.NewTLE(cfg.TLELine1, cfg.TLELine2)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load TLE: %w", err)
		}
		return src, sun.Ephemeris{}, nil
	default:
		src := orbit.NewCircular(orbit.CircularConfig{
			Epoch:              time.Now(),
			OrbitRadius:        cfg.Radius,
			TiltDeg:            cfg.TiltDeg,
			Period:             cfg.Period,
			BodyRotationPeriod: cfg.BodyRotationPeriod,
			BodyRadius:         1,
		})
		return src, sun.NewFixed(sun.DefaultDirection), nil
	}
}

func openHistory(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (history.Store, error) {
	if cfg.Backend != config.HistorySQLite {
		return history.NewMemoryStore(), nil
	}

	store, err := history.OpenSQLite(ctx, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	logger.Info("using sqlite history", slog.String("path", cfg.Path))
	return store.WithLogger(logger), nil
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
