// Package translate converts imaging sessions into STAC items and the
// collection that groups them.
package translate

import (
	"fmt"
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/geodesy"
	"github.com/robert-malhotra/orbit-imager/internal/session"
	"github.com/robert-malhotra/orbit-imager/internal/stac"
	"github.com/robert-malhotra/orbit-imager/pkg/geojson"
)

// CollectionID is the id of the collection holding every imaging session.
const CollectionID = "imaging-sessions"

// Platform is reported in the platform property of every item.
const Platform = "orbit-imager"

// Item property names outside the core STAC vocabulary.
const (
	PropLocation       = "imaging:location"
	PropLocationStatus = "imaging:location_status"
	PropDuration       = "imaging:duration"
	PropStart          = "imaging:start"
	PropEnd            = "imaging:end"
	PropActive         = "imaging:active"
)

// Translator turns sessions into STAC documents rooted at a public base URL.
type Translator struct {
	baseURL string
	version string
}

// NewTranslator creates a translator. baseURL is the public URL of the API
// and version is the STAC version written into every document.
func NewTranslator(baseURL, version string) *Translator {
	return &Translator{baseURL: baseURL, version: version}
}

// BaseURL returns the public base URL.
func (t *Translator) BaseURL() string {
	return t.baseURL
}

// Version returns the STAC version.
func (t *Translator) Version() string {
	return t.version
}

// Item converts a session into a STAC Item. Finished sessions carry a
// start_datetime/end_datetime range; a live session carries only datetime.
func (t *Translator) Item(s session.Session) (*stac.Item, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("session has no id")
	}

	item := stac.NewItem(s.ID, CollectionID, t.version)

	geom, err := Geometry(s)
	if err != nil {
		return nil, fmt.Errorf("failed to build geometry: %w", err)
	}
	item.Geometry = geom
	if bbox, err := geojson.ComputeBBox(geom); err == nil {
		item.Bbox = bbox
	}

	props := item.Properties
	props["platform"] = Platform
	props[PropStart] = geodesy.Format(s.StartCoords)
	props[PropEnd] = geodesy.Format(s.EndCoords)
	props[PropLocation] = s.Location
	props[PropActive] = s.Active()
	if s.LocationStatus != "" {
		props[PropLocationStatus] = string(s.LocationStatus)
	}

	if s.EndedAt != nil {
		props["datetime"] = nil
		props["start_datetime"] = FormatTime(s.StartedAt)
		props["end_datetime"] = FormatTime(*s.EndedAt)
		props[PropDuration] = s.Duration().Seconds()
	} else {
		props["datetime"] = FormatTime(s.StartedAt)
	}

	if s.Footprint != nil {
		item.Assets["footprint"] = &stac.Asset{
			Href:  fmt.Sprintf("%s/sessions/%s/footprint", t.baseURL, s.ID),
			Title: "Swath footprint",
			Type:  "application/geo+json",
			Roles: []string{"metadata"},
		}
	}

	t.addItemLinks(item)
	return item, nil
}

// Items converts a page of sessions, in order.
func (t *Translator) Items(sessions []session.Session) ([]*stac.Item, error) {
	items := make([]*stac.Item, 0, len(sessions))
	for _, s := range sessions {
		item, err := t.Item(s)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", s.ID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (t *Translator) addItemLinks(item *stac.Item) {
	item.Links = append(item.Links,
		stac.NewLink("self", fmt.Sprintf("%s/sessions/%s", t.baseURL, item.Id), stac.MediaTypeGeoJSON),
		stac.NewLink("parent", t.collectionURL(), stac.MediaTypeJSON),
		stac.NewLink("collection", t.collectionURL(), stac.MediaTypeJSON),
		stac.NewLink("root", t.baseURL+"/", stac.MediaTypeJSON),
	)
}

func (t *Translator) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", t.baseURL, CollectionID)
}

// Geometry returns the geometry that best describes where a session imaged:
// the swath polygon when it has one, otherwise the ground track from start
// to end, or a point when the two coincide.
func Geometry(s session.Session) (*geojson.Geometry, error) {
	if s.Footprint != nil {
		if g, err := s.Footprint.Geometry(); err == nil {
			return g, nil
		}
	}

	start, end := s.StartCoords, s.EndCoords
	if start == end {
		return geojson.NewPoint(start.LongitudeDeg, start.LatitudeDeg)
	}

	endLon := end.LongitudeDeg
	for endLon-start.LongitudeDeg > 180 {
		endLon -= 360
	}
	for endLon-start.LongitudeDeg < -180 {
		endLon += 360
	}
	return geojson.NewLineString([][]float64{
		{start.LongitudeDeg, start.LatitudeDeg},
		{endLon, end.LatitudeDeg},
	})
}

// FormatTime formats a time as RFC3339 in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
