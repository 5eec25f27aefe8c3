package stac

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// ErrInvalidCursor is returned when a cursor cannot be decoded.
var ErrInvalidCursor = cursorError("invalid pagination cursor")

type cursorError string

func (e cursorError) Error() string {
	return string(e)
}

// Cursor marks a position in an append-only list. Entries are never removed
// or reordered, so an offset stays valid across requests.
type Cursor struct {
	Offset int `json:"o"`
}

// EncodeCursor encodes a cursor to a URL-safe string.
// Returns an empty string if the cursor is nil.
func EncodeCursor(cursor *Cursor) string {
	if cursor == nil {
		return ""
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor decodes a cursor from a URL-safe string. An empty string
// decodes to nil.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if cursor.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrInvalidCursor, cursor.Offset)
	}
	return &cursor, nil
}

// ParseLimit parses a limit query value. Empty means def; values above max
// are clamped to max.
func ParseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("limit must be an integer, got %q", raw)
	}
	if limit < 1 {
		return 0, fmt.Errorf("limit must be at least 1, got %d", limit)
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

// PaginationInfo holds information needed to generate pagination links.
type PaginationInfo struct {
	BaseURL       string
	Offset        int
	Limit         int
	ReturnedCount int
	TotalCount    int
	QueryParams   url.Values // Original query parameters
}

// BuildPaginationLinks generates next and prev links for an offset page.
func BuildPaginationLinks(info PaginationInfo) []*Link {
	links := make([]*Link, 0, 2)

	if info.Offset > 0 {
		prev := info.Offset - info.Limit
		if prev < 0 {
			prev = 0
		}
		links = append(links, &Link{
			Rel:  "prev",
			Href: buildCursorURL(info.BaseURL, info.QueryParams, &Cursor{Offset: prev}, info.Limit),
			Type: MediaTypeGeoJSON,
		})
	}

	if next := info.Offset + info.ReturnedCount; info.ReturnedCount > 0 && next < info.TotalCount {
		links = append(links, &Link{
			Rel:  "next",
			Href: buildCursorURL(info.BaseURL, info.QueryParams, &Cursor{Offset: next}, info.Limit),
			Type: MediaTypeGeoJSON,
		})
	}

	return links
}

// buildCursorURL constructs a URL with the cursor parameter. The first page
// is addressed without a cursor.
func buildCursorURL(baseURL string, params url.Values, cursor *Cursor, limit int) string {
	// Clone the params to avoid modifying the original
	newParams := url.Values{}
	for key, values := range params {
		if key == "cursor" {
			continue
		}
		for _, value := range values {
			newParams.Add(key, value)
		}
	}

	if cursor != nil && cursor.Offset > 0 {
		newParams.Set("cursor", EncodeCursor(cursor))
	}

	if limit > 0 {
		newParams.Set("limit", strconv.Itoa(limit))
	}

	if len(newParams) > 0 {
		return baseURL + "?" + newParams.Encode()
	}
	return baseURL
}
