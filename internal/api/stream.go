package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robert-malhotra/orbit-imager/internal/engine"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// Stream upgrades to a websocket and pushes every frame as JSON. A client
// that falls behind skips to the newest frame.
// GET /stream
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	frames, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	h.logger.InfoContext(ctx, "stream client connected", slog.String("remote_addr", r.RemoteAddr))
	defer h.logger.InfoContext(ctx, "stream client disconnected", slog.String("remote_addr", r.RemoteAddr))

	// Reads only serve to notice the client going away and to extend the
	// deadline on pongs.
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snap, ok := h.engine.Latest(); ok {
		if err := writeFrame(conn, snap); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case snap, ok := <-frames:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "frame loop stopped"),
					time.Now().Add(streamWriteWait))
				return
			}
			if err := writeFrame(conn, snap); err != nil {
				h.logger.DebugContext(ctx, "stream write failed", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, snap engine.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(snap)
}
