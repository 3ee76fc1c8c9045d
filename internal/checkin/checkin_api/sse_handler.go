package checkin_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/sse"

	"github.com/go-chi/chi/v5"
)

// SSEHandler streams committed check-ins of an event to dashboards
type SSEHandler struct {
	Logger       *logger.Logger
	EventEmitter *sse.CheckinEventEmitter
}

func NewSSEHandler(logger *logger.Logger, emitter *sse.CheckinEventEmitter) *SSEHandler {
	return &SSEHandler{Logger: logger, EventEmitter: emitter}
}

// HandleEventCheckins streams guest snapshots for a specific event
func (h *SSEHandler) HandleEventCheckins(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "Event ID is required", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	h.setupSSEHeaders(w)

	// Cancelled when the client disconnects
	ctx := r.Context()
	eventChan := h.EventEmitter.SubscribeToEvent(ctx, eventID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"eventID\":%q}\n\n", eventID)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to check-in stream for event: %s", eventID))

	for {
		select {
		case snapshot, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for event: %s", eventID))
				return
			}

			jsonData, err := json.Marshal(snapshot)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize check-in event: %v", err))
				continue
			}

			fmt.Fprintf(w, "event: checkin\ndata: %s\n\n", jsonData)
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from check-in stream for: %s", eventID))
			return
		}
	}
}

func (h *SSEHandler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
