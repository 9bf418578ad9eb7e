package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	apierrors "stockseason/internal/errors"
	"stockseason/internal/services"
)

// StreamHandler upgrades clients to a websocket and pushes run
// progress snapshots until the client disconnects.
type StreamHandler struct {
	service      *services.UpdateService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
	upgrader     websocket.Upgrader
}

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

// NewStreamHandler creates a progress stream handler.
func NewStreamHandler(service *services.UpdateService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *StreamHandler {
	return &StreamHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "stream_handler")),
		errorHandler: errorHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles GET /api/update/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	snapshots, cancel := h.service.Subscribe()
	defer cancel()

	// Drain client frames so pong and close handling work.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Send the current state immediately so late subscribers see
	// where the run stands.
	if err := h.writeSnapshot(conn, h.service.Progress(r.Context())); err != nil {
		return
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := h.writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *StreamHandler) writeSnapshot(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(v)
}
