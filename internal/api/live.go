package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/robert-malhotra/orbit-imager/internal/session"
)

// StatusResponse is the satellite status shown alongside the scene.
type StatusResponse struct {
	Status      session.Status   `json:"status"`
	Phase       string           `json:"phase"`
	SunFacing   bool             `json:"sun_facing"`
	Coordinates string           `json:"coordinates,omitempty"`
	Active      *session.Summary `json:"active,omitempty"`
	Last        *session.Summary `json:"last,omitempty"`
}

// PointerRequest is the body of a pointer event. Positions are screen pixels.
type PointerRequest struct {
	PointerID int     `json:"pointer_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// Status returns the current status label and session summaries.
// GET /status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.currentStatus())
}

// Frame returns the most recent render frame.
// GET /frame
func (h *Handlers) Frame(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.engine.Latest()
	if !ok {
		WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no frame rendered yet")
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// Pointer feeds a pointer event into the session machine.
// POST /input/pointer/{action} where action is down, move, up or cancel.
func (h *Handlers) Pointer(w http.ResponseWriter, r *http.Request) {
	var req PointerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, fmt.Sprintf("invalid pointer event: %v", err))
		return
	}

	switch action := chi.URLParam(r, "action"); action {
	case "down":
		h.sessions.PointerDown(req.PointerID, req.X, req.Y)
	case "move":
		h.sessions.PointerMove(req.PointerID, req.X, req.Y)
	case "up":
		h.sessions.PointerUp(req.PointerID)
	case "cancel":
		h.sessions.PointerCancel(req.PointerID)
	default:
		WriteNotFound(w, fmt.Sprintf("unknown pointer action %q", action))
		return
	}

	WriteJSON(w, http.StatusAccepted, h.currentStatus())
}

// Blur reports that the view lost focus, which ends any press or session.
// POST /input/blur
func (h *Handlers) Blur(w http.ResponseWriter, r *http.Request) {
	h.sessions.FocusLost()
	WriteJSON(w, http.StatusAccepted, h.currentStatus())
}

func (h *Handlers) currentStatus() StatusResponse {
	snap, ok := h.engine.Latest()
	sunFacing := ok && snap.SunFacing

	resp := StatusResponse{
		Status:      h.sessions.Status(sunFacing),
		Phase:       h.sessions.Phase().String(),
		SunFacing:   sunFacing,
		Coordinates: snap.Coordinates,
	}

	loc := h.engine.Location()
	if live, ok := h.sessions.Live(); ok {
		sum := session.Summarize(live, loc)
		resp.Active = &sum
	}
	if last, ok := h.sessions.LastSession(); ok {
		sum := session.Summarize(last, loc)
		resp.Last = &sum
	}
	return resp
}
