package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	ogcapi "github.com/planetlabs/go-ogc/api"
	"github.com/robert-malhotra/orbit-imager/internal/config"
	"github.com/robert-malhotra/orbit-imager/internal/engine"
	"github.com/robert-malhotra/orbit-imager/internal/history"
	"github.com/robert-malhotra/orbit-imager/internal/session"
	"github.com/robert-malhotra/orbit-imager/internal/stac"
	"github.com/robert-malhotra/orbit-imager/internal/translate"
)

// Handlers contains all HTTP handlers for the imaging API.
type Handlers struct {
	cfg        *config.Config
	engine     *engine.Engine
	sessions   *session.Manager
	history    history.Store
	translator *translate.Translator
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(
	cfg *config.Config,
	eng *engine.Engine,
	store history.Store,
	translator *translate.Translator,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		cfg:        cfg,
		engine:     eng,
		sessions:   eng.Sessions(),
		history:    store,
		translator: translator,
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Health reports that the service is up.
// GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LandingPage returns the STAC API landing page (root catalog).
// GET /
func (h *Handlers) LandingPage(w http.ResponseWriter, r *http.Request) {
	baseURL := h.cfg.STAC.BaseURL

	landing := stac.NewLandingPage(
		"orbit-imager",
		h.cfg.STAC.Title,
		h.cfg.STAC.Description,
		h.cfg.STAC.Version,
		stac.DefaultConformance(),
	)

	landing.AddLink("self", baseURL+"/", stac.MediaTypeJSON)
	landing.AddLink("root", baseURL+"/", stac.MediaTypeJSON)
	landing.AddLink("conformance", baseURL+"/conformance", stac.MediaTypeJSON)
	landing.AddLink("data", baseURL+"/collections", stac.MediaTypeJSON)
	landing.AddLink("child", baseURL+"/collections/"+translate.CollectionID, stac.MediaTypeJSON)
	landing.AddLink("items", baseURL+"/sessions", stac.MediaTypeGeoJSON)
	landing.AddLink("status", baseURL+"/status", stac.MediaTypeJSON)
	landing.AddLink("frame", baseURL+"/frame", stac.MediaTypeJSON)

	WriteJSON(w, http.StatusOK, landing)
}

// Conformance returns the conformance classes supported by this API.
// GET /conformance
func (h *Handlers) Conformance(w http.ResponseWriter, r *http.Request) {
	baseURL := h.cfg.STAC.BaseURL
	WriteJSON(w, http.StatusOK, &ogcapi.Conformance{
		ConformsTo: stac.DefaultConformance(),
		Links: []*ogcapi.Link{
			{Rel: "self", Href: baseURL + "/conformance", Type: stac.MediaTypeJSON},
			{Rel: "root", Href: baseURL + "/", Type: stac.MediaTypeJSON},
		},
	})
}

// Collections lists the collections. There is exactly one.
// GET /collections
func (h *Handlers) Collections(w http.ResponseWriter, r *http.Request) {
	collection, err := h.sessionsCollection(r)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to build collection", slog.String("error", err.Error()))
		WriteInternalError(w, "failed to read session history")
		return
	}

	baseURL := h.cfg.STAC.BaseURL
	list := stac.NewCollectionsList([]*stac.Collection{collection})
	list.Links = append(list.Links,
		stac.NewLink("self", baseURL+"/collections", stac.MediaTypeJSON),
		stac.NewLink("root", baseURL+"/", stac.MediaTypeJSON),
	)

	WriteJSON(w, http.StatusOK, list)
}

// Collection returns the imaging-sessions collection.
// GET /collections/{collectionId}
func (h *Handlers) Collection(w http.ResponseWriter, r *http.Request) {
	if !h.knownCollection(w, r) {
		return
	}

	collection, err := h.sessionsCollection(r)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to build collection", slog.String("error", err.Error()))
		WriteInternalError(w, "failed to read session history")
		return
	}

	WriteJSON(w, http.StatusOK, collection)
}

// CollectionItems lists the collection's items.
// GET /collections/{collectionId}/items
func (h *Handlers) CollectionItems(w http.ResponseWriter, r *http.Request) {
	if !h.knownCollection(w, r) {
		return
	}
	h.Sessions(w, r)
}

// CollectionItem returns one item of the collection.
// GET /collections/{collectionId}/items/{itemId}
func (h *Handlers) CollectionItem(w http.ResponseWriter, r *http.Request) {
	if !h.knownCollection(w, r) {
		return
	}
	h.writeSession(w, r, chi.URLParam(r, "itemId"))
}

// Sessions lists recorded sessions oldest first as a paginated ItemCollection.
// GET /sessions?limit=&cursor=
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	limit, err := stac.ParseLimit(query.Get("limit"), h.cfg.STAC.DefaultLimit, h.cfg.STAC.MaxLimit)
	if err != nil {
		WriteInvalidParameter(w, err.Error())
		return
	}

	cursor, err := stac.DecodeCursor(query.Get("cursor"))
	if err != nil {
		WriteInvalidParameter(w, err.Error())
		return
	}
	offset := 0
	if cursor != nil {
		offset = cursor.Offset
	}

	total, err := h.history.Len(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to count sessions", slog.String("error", err.Error()))
		WriteInternalError(w, "failed to read session history")
		return
	}

	page, err := h.history.List(ctx, offset, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list sessions",
			slog.Int("offset", offset),
			slog.Int("limit", limit),
			slog.String("error", err.Error()),
		)
		WriteInternalError(w, "failed to read session history")
		return
	}

	items, err := h.translator.Items(page)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to translate sessions", slog.String("error", err.Error()))
		WriteInternalError(w, "failed to translate sessions")
		return
	}

	baseURL := h.cfg.STAC.BaseURL
	selfURL := baseURL + r.URL.Path

	ic := stac.NewItemCollection(items)
	ic.SetMatched(total)
	ic.AddLink("self", selfURL+queryString(query), stac.MediaTypeGeoJSON)
	ic.AddLink("root", baseURL+"/", stac.MediaTypeJSON)
	ic.Links = append(ic.Links, stac.BuildPaginationLinks(stac.PaginationInfo{
		BaseURL:       selfURL,
		Offset:        offset,
		Limit:         limit,
		ReturnedCount: len(items),
		TotalCount:    total,
		QueryParams:   query,
	})...)

	WriteGeoJSON(w, http.StatusOK, ic)
}

// ActiveSession returns the live session as an Item.
// GET /sessions/active
func (h *Handlers) ActiveSession(w http.ResponseWriter, r *http.Request) {
	live, ok := h.sessions.Live()
	if !ok {
		WriteNotFound(w, "no active session")
		return
	}
	h.writeItem(w, r, live)
}

// Session returns a session by id. The live session is served as well as
// recorded ones.
// GET /sessions/{sessionId}
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	h.writeSession(w, r, chi.URLParam(r, "sessionId"))
}

// SessionFootprint returns the swath polygon of a session.
// GET /sessions/{sessionId}/footprint
func (h *Handlers) SessionFootprint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r, chi.URLParam(r, "sessionId"))
	if !ok {
		return
	}
	if s.Footprint == nil {
		WriteNotFound(w, fmt.Sprintf("session %q has no footprint", s.ID))
		return
	}

	geom, err := s.Footprint.Geometry()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to build footprint geometry",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		WriteInternalError(w, "failed to build footprint geometry")
		return
	}

	WriteGeoJSON(w, http.StatusOK, geom)
}

func (h *Handlers) writeSession(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.lookup(w, r, id)
	if !ok {
		return
	}
	h.writeItem(w, r, s)
}

// lookup finds a session by id, writing an error response when it cannot.
func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request, id string) (session.Session, bool) {
	if id == "" {
		WriteBadRequest(w, "session ID is required")
		return session.Session{}, false
	}

	if live, ok := h.sessions.Live(); ok && live.ID == id {
		return live, true
	}

	s, err := h.history.Get(r.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		WriteNotFound(w, fmt.Sprintf("session %q not found", id))
		return session.Session{}, false
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to fetch session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		WriteInternalError(w, "failed to read session history")
		return session.Session{}, false
	}
	return s, true
}

func (h *Handlers) writeItem(w http.ResponseWriter, r *http.Request, s session.Session) {
	item, err := h.translator.Item(s)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to translate session",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		WriteInternalError(w, "failed to translate session")
		return
	}
	WriteGeoJSON(w, http.StatusOK, item)
}

func (h *Handlers) knownCollection(w http.ResponseWriter, r *http.Request) bool {
	if id := chi.URLParam(r, "collectionId"); id != translate.CollectionID {
		WriteNotFound(w, fmt.Sprintf("collection %q not found", id))
		return false
	}
	return true
}

func (h *Handlers) sessionsCollection(r *http.Request) (*stac.Collection, error) {
	ctx := r.Context()

	count, err := h.history.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	info := translate.CollectionInfo{
		Title:       h.cfg.STAC.Title,
		Description: h.cfg.STAC.Description,
		Count:       count,
	}
	if count > 0 {
		first, err := h.history.List(ctx, 0, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to read first session: %w", err)
		}
		if len(first) == 1 {
			info.FirstStart = &first[0].StartedAt
		}
	}
	return h.translator.Collection(info), nil
}

func queryString(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
