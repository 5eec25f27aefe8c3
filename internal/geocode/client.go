// Package geocode resolves geographic coordinates into rough place names
// using a Nominatim-compatible reverse geocoding service.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/robert-malhotra/orbit-imager/internal/geocode"

// DefaultZoom asks for state-level detail.
const DefaultZoom = 5

// Client handles communication with the reverse geocoding service
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
	zoom       int
}

// NewClient creates a new reverse geocoding client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger:    slog.Default(),
		userAgent: "orbit-imager/1.0",
		zoom:      DefaultZoom,
	}
}

// WithLogger sets a custom logger for the client
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithUserAgent sets the User-Agent header. Public Nominatim instances
// require an identifying agent.
func (c *Client) WithUserAgent(ua string) *Client {
	if ua != "" {
		c.userAgent = ua
	}
	return c
}

// WithZoom sets the address detail level (3 country .. 18 building).
func (c *Client) WithZoom(zoom int) *Client {
	if zoom > 0 {
		c.zoom = zoom
	}
	return c
}

// Reverse looks up the address at a coordinate. A non-200 status, an
// undecodable body, or an error payload are all failures.
func (c *Client) Reverse(ctx context.Context, coord geodesy.GeoCoordinate) (*ReverseResponse, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "geocode.Reverse",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Float64("geo.lat", coord.LatitudeDeg),
			attribute.Float64("geo.lon", coord.LongitudeDeg),
		))
	defer span.End()

	result, err := c.reverse(ctx, coord)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (c *Client) reverse(ctx context.Context, coord geodesy.GeoCoordinate) (*ReverseResponse, error) {
	reverseURL, err := c.buildReverseURL(coord)
	if err != nil {
		return nil, fmt.Errorf("failed to build reverse URL: %w", err)
	}

	c.logger.DebugContext(ctx, "executing reverse geocode",
		slog.String("url", reverseURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reverseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("reverse geocode returned status %d: %s", resp.StatusCode, string(body))
	}

	var result ReverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode reverse geocode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoResult, result.Error)
	}

	return &result, nil
}

// buildReverseURL constructs the reverse lookup URL with query parameters
func (c *Client) buildReverseURL(coord geodesy.GeoCoordinate) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	base = base.JoinPath("reverse")

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coord.LatitudeDeg, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(coord.LongitudeDeg, 'f', 6, 64))
	q.Set("format", "jsonv2")
	q.Set("zoom", strconv.Itoa(c.zoom))
	base.RawQuery = q.Encode()

	return base.String(), nil
}

// Sentinel errors for geocoding
var (
	ErrNoResult = geocodeError("no reverse geocode result")
)

type geocodeError string

func (e geocodeError) Error() string {
	return string(e)
}
