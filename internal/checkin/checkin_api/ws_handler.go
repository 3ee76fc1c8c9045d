package checkin_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/sse"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WSHandler serves the same guest snapshots as SSEHandler over a websocket,
// for door displays that keep one socket open all night.
type WSHandler struct {
	Logger       *logger.Logger
	EventEmitter *sse.CheckinEventEmitter
	upgrader     websocket.Upgrader
}

func NewWSHandler(logger *logger.Logger, emitter *sse.CheckinEventEmitter) *WSHandler {
	return &WSHandler{
		Logger:       logger,
		EventEmitter: emitter,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// HandleEventCheckins pushes one JSON message per committed check-in of the event.
func (h *WSHandler) HandleEventCheckins(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("WS", fmt.Sprintf("Error upgrading connection: %v", err))
		return
	}
	defer conn.Close()

	// The request context is not cancelled on a hijacked connection; the read
	// loop notices the client leaving instead.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	eventChan := h.EventEmitter.SubscribeToEvent(ctx, eventID)
	h.Logger.Info("WS", fmt.Sprintf("Client connected to check-in feed for event: %s", eventID))

	for {
		select {
		case snapshot, ok := <-eventChan:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snapshot); err != nil {
				h.Logger.Debug("WS", fmt.Sprintf("Write to check-in feed for %s failed: %v", eventID, err))
				return
			}
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			h.Logger.Debug("WS", fmt.Sprintf("Client disconnected from check-in feed for: %s", eventID))
			return
		}
	}
}
