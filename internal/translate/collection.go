package translate

import (
	"fmt"
	"time"

	"github.com/robert-malhotra/orbit-imager/internal/stac"
)

// CollectionInfo is the descriptive part of the sessions collection.
type CollectionInfo struct {
	Title       string
	Description string
	// FirstStart is the start of the oldest recorded session, if any.
	FirstStart *time.Time
	Count      int
}

// Collection builds the imaging-sessions collection.
func (t *Translator) Collection(info CollectionInfo) *stac.Collection {
	title := info.Title
	if title == "" {
		title = "Imaging sessions"
	}
	description := info.Description
	if description == "" {
		description = "Imaging sessions recorded by the orbit imager"
	}

	c := stac.NewCollection(CollectionID, title, description, t.version)
	c.License = "proprietary"

	var interval []any
	if info.FirstStart != nil {
		interval = []any{FormatTime(*info.FirstStart), nil}
	} else {
		interval = []any{nil, nil}
	}
	c.Extent = &stac.Extent{
		Spatial:  &stac.SpatialExtent{Bbox: [][]float64{{-180, -90, 180, 90}}},
		Temporal: &stac.TemporalExtent{Interval: [][]any{interval}},
	}

	c.Summaries["platform"] = []string{Platform}
	c.Summaries["imaging:sessions"] = info.Count

	c.Links = append(c.Links,
		stac.NewLink("self", t.collectionURL(), stac.MediaTypeJSON),
		stac.NewLink("root", t.baseURL+"/", stac.MediaTypeJSON),
		stac.NewLink("parent", t.baseURL+"/", stac.MediaTypeJSON),
		stac.NewLink("items", fmt.Sprintf("%s/items", t.collectionURL()), stac.MediaTypeGeoJSON),
	)
	return c
}
