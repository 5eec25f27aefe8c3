package geocode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/footprint"
	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
)

// FallbackLabel is used for any sample that cannot be resolved.
const FallbackLabel = "open ocean / international waters"

const (
	maxLabels      = 3
	labelSeparator = "; "
)

// Lookup outcomes reported to a Recorder.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCacheHit = "cache_hit"
)

// Reverser performs a single reverse lookup. *Client implements it.
type Reverser interface {
	Reverse(ctx context.Context, coord geodesy.GeoCoordinate) (*ReverseResponse, error)
}

// Recorder receives per-lookup outcomes.
type Recorder interface {
	LookupCompleted(outcome string, d time.Duration)
}

// Resolver turns coordinates and footprints into place labels. Failures never
// escape; they degrade to FallbackLabel.
type Resolver struct {
	reverser Reverser
	cache    *LabelCache
	recorder Recorder
	logger   *slog.Logger
}

// NewResolver creates a resolver over r.
func NewResolver(r Reverser) *Resolver {
	return &Resolver{
		reverser: r,
		logger:   slog.Default(),
	}
}

// WithCache enables label caching.
func (r *Resolver) WithCache(c *LabelCache) *Resolver {
	r.cache = c
	return r
}

// WithRecorder sets the lookup outcome recorder.
func (r *Resolver) WithRecorder(rec Recorder) *Resolver {
	r.recorder = rec
	return r
}

// WithLogger sets a custom logger for the resolver
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// Resolve returns the label for one coordinate. It is FallbackLabel when the
// lookup fails and empty when the service knows no region or country.
func (r *Resolver) Resolve(ctx context.Context, coord geodesy.GeoCoordinate) string {
	start := time.Now()

	if label, ok := r.cache.Get(coord); ok {
		r.record(OutcomeCacheHit, start)
		return label
	}

	resp, err := r.reverser.Reverse(ctx, coord)
	if err != nil {
		r.record(OutcomeError, start)
		r.logger.WarnContext(ctx, "reverse geocode failed, using fallback",
			slog.String("coord", geodesy.Format(coord)),
			slog.String("error", err.Error()),
		)
		return FallbackLabel
	}

	label := Label(resp)
	r.cache.Put(coord, label)
	r.record(OutcomeOK, start)
	return label
}

// ResolveArea resolves a footprint's corner and centre points.
func (r *Resolver) ResolveArea(ctx context.Context, fp *footprint.Footprint) string {
	if fp == nil {
		return FallbackLabel
	}
	return r.ResolvePoints(ctx, fp.SamplePoints())
}

// ResolvePoints resolves each point concurrently and combines the distinct
// labels in sample order.
func (r *Resolver) ResolvePoints(ctx context.Context, points []geodesy.GeoCoordinate) string {
	labels := make([]string, len(points))

	var wg sync.WaitGroup
	for i, p := range points {
		wg.Add(1)
		go func(i int, p geodesy.GeoCoordinate) {
			defer wg.Done()
			labels[i] = r.Resolve(ctx, p)
		}(i, p)
	}
	wg.Wait()

	return CombineLabels(labels)
}

// CombineLabels dedupes labels in order, drops empty ones, and joins at most
// three with a "+N more" suffix for the rest. With nothing left it returns
// FallbackLabel.
func CombineLabels(labels []string) string {
	seen := make(map[string]struct{}, len(labels))
	unique := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		unique = append(unique, l)
	}

	if len(unique) == 0 {
		return FallbackLabel
	}
	if len(unique) <= maxLabels {
		return strings.Join(unique, labelSeparator)
	}
	return fmt.Sprintf("%s +%d more", strings.Join(unique[:maxLabels], labelSeparator), len(unique)-maxLabels)
}

func (r *Resolver) record(outcome string, start time.Time) {
	if r.recorder != nil {
		r.recorder.LookupCompleted(outcome, time.Since(start))
	}
}
