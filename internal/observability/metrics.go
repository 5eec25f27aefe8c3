// Package observability wires Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the service's Prometheus metrics. It satisfies the
// metrics hooks of the session manager, the geocode resolver and the engine.
type Collector struct {
	gatherer prometheus.Gatherer

	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionDuration   prometheus.Histogram
	LocationsResolved *prometheus.CounterVec

	GeocodeLookups        *prometheus.CounterVec
	GeocodeLookupDuration *prometheus.HistogramVec

	Frames          prometheus.Counter
	FrameErrors     prometheus.Counter
	FrameDuration   prometheus.Histogram
	StreamListeners prometheus.Gauge

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewCollector registers metrics against the provided registerer, defaulting
// to the global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	if c.SessionsStarted, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imaging_sessions_started_total",
		Help: "Imaging sessions started by a confirmed long press.",
	}), "imaging_sessions_started_total"); err != nil {
		return nil, err
	}
	if c.SessionsCompleted, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imaging_sessions_completed_total",
		Help: "Imaging sessions recorded in history.",
	}), "imaging_sessions_completed_total"); err != nil {
		return nil, err
	}
	if c.SessionDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "imaging_session_duration_seconds",
		Help:    "Duration of completed imaging sessions.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}), "imaging_session_duration_seconds"); err != nil {
		return nil, err
	}
	if c.LocationsResolved, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "imaging_locations_resolved_total",
		Help: "Location resolutions finished, labeled by whether the result was applied.",
	}, []string{"applied"}), "imaging_locations_resolved_total"); err != nil {
		return nil, err
	}

	if c.GeocodeLookups, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geocode_lookups_total",
		Help: "Reverse geocode lookups, labeled by outcome.",
	}, []string{"outcome"}), "geocode_lookups_total"); err != nil {
		return nil, err
	}
	if c.GeocodeLookupDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geocode_lookup_duration_seconds",
		Help:    "Reverse geocode latency in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"outcome"}), "geocode_lookup_duration_seconds"); err != nil {
		return nil, err
	}

	if c.Frames, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_frames_total",
		Help: "Frames processed by the engine.",
	}), "engine_frames_total"); err != nil {
		return nil, err
	}
	if c.FrameErrors, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_frame_errors_total",
		Help: "Frames skipped because the orbit source failed.",
	}), "engine_frame_errors_total"); err != nil {
		return nil, err
	}
	if c.FrameDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_frame_duration_seconds",
		Help:    "Time spent computing a frame.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "engine_frame_duration_seconds"); err != nil {
		return nil, err
	}
	if c.StreamListeners, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stream_listeners",
		Help: "Current number of frame stream subscribers.",
	}), "stream_listeners"); err != nil {
		return nil, err
	}

	if c.HTTPRequests, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Handled HTTP requests, labeled by method, route and status code.",
	}, []string{"method", "route", "code"}), "http_requests_total"); err != nil {
		return nil, err
	}
	if c.HTTPRequestDuration, err = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"}), "http_request_duration_seconds"); err != nil {
		return nil, err
	}

	return c, nil
}

// SessionStarted counts a started session.
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.SessionsStarted.Inc()
}

// SessionCompleted counts a recorded session and its duration.
func (c *Collector) SessionCompleted(d time.Duration) {
	if c == nil {
		return
	}
	c.SessionsCompleted.Inc()
	c.SessionDuration.Observe(d.Seconds())
}

// LocationResolved counts a finished location resolution.
func (c *Collector) LocationResolved(applied bool) {
	if c == nil {
		return
	}
	c.LocationsResolved.WithLabelValues(strconv.FormatBool(applied)).Inc()
}

// LookupCompleted records one reverse geocode lookup.
func (c *Collector) LookupCompleted(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.GeocodeLookups.WithLabelValues(outcome).Inc()
	c.GeocodeLookupDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// FrameProcessed records a computed frame.
func (c *Collector) FrameProcessed(d time.Duration) {
	if c == nil {
		return
	}
	c.Frames.Inc()
	c.FrameDuration.Observe(d.Seconds())
}

// FrameFailed counts a skipped frame.
func (c *Collector) FrameFailed() {
	if c == nil {
		return
	}
	c.FrameErrors.Inc()
}

// SetListeners sets the number of stream subscribers.
func (c *Collector) SetListeners(n int) {
	if c == nil {
		return
	}
	c.StreamListeners.Set(float64(n))
}

// Middleware records request counts and durations keyed by the matched chi
// route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if c == nil {
			return
		}

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}
