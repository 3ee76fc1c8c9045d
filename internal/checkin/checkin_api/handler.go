package checkin_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ms-checkin/internal/auth"
	"ms-checkin/internal/checkin"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/reconcile"
	"ms-checkin/internal/relay"
	tickets "ms-checkin/internal/tickets/service"
	"ms-checkin/internal/utils"

	"github.com/go-chi/chi/v5"
)

// PeerDialer opens the relay connection to a host scanned in host-scan mode.
type PeerDialer func(ctx context.Context, info relay.PeerInfo) (checkin.Peer, error)

type Handler struct {
	Station       *checkin.Station
	TicketService *tickets.TicketService
	Reconciler    *reconcile.Reconciler
	SSE           *SSEHandler
	WS            *WSHandler
	Dialer        PeerDialer
	// Pairing is advertised by a host; nil when the relay is disabled.
	Pairing *relay.PeerInfo
	Logger  *logger.Logger
}

// RegisterRoutes mounts the check-in routes under the current router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/checkin", func(r chi.Router) {
		r.Post("/scan", h.Scan)
		r.Get("/session", h.CurrentSession)
		r.Post("/sessions/{sessionID}/confirm", h.Confirm)
		r.Delete("/sessions/{sessionID}", h.Dismiss)
		r.Put("/mode", h.SetMode)

		r.Get("/queue", h.GetQueue)
		r.Post("/sync", h.Sync)
		r.Post("/download/{eventID}", h.Download)
		r.Get("/events/{eventID}/counts", h.GetCounts)
		if h.SSE != nil {
			r.Get("/events/{eventID}/stream", h.SSE.HandleEventCheckins)
		}
		if h.WS != nil {
			r.Get("/events/{eventID}/ws", h.WS.HandleEventCheckins)
		}
	})
	r.Route("/relay", func(r chi.Router) {
		r.Get("/pairing.png", h.PairingQR)
		r.Post("/connect", h.ConnectPeer)
	})
}

type scanRequest struct {
	Code string `json:"code"`
}

// Scan handles a decoded QR code
// Expected POST request body: {"code": "raw scanned string"}
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var body scanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	h.Logger.LogScan("RECEIVED", body.Code, "operator "+auth.UserID(r.Context()))
	session, result, err := h.Station.Scan(r.Context(), body.Code)
	if err != nil {
		h.writeCheckinError(w, err, toSessionView(session))
		return
	}

	if session.Decision != nil && session.Decision.Kind == checkin.KindPeerConnect {
		if err := h.connect(r.Context(), *session.Decision.Peer); err != nil {
			h.writeCheckinError(w, err, toSessionView(session))
			return
		}
		writeJSON(w, http.StatusOK, utils.SuccessResponse(session.Decision.Message, toSessionView(session)))
		return
	}

	if result != nil {
		writeJSON(w, http.StatusOK, utils.SuccessResponse(checkin.StatusMessage(nil), scanResponse{
			Session: toSessionView(session),
			Result:  toResultView(result),
		}))
		return
	}

	message := "Select what to check in"
	if session.Decision != nil && session.Decision.Kind == checkin.KindCommitted {
		message = session.Decision.Message
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse(message, scanResponse{Session: toSessionView(session)}))
}

func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	session := h.Station.Current()
	if session == nil {
		writeJSON(w, http.StatusOK, utils.SuccessResponse("No scan in progress", nil))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Scan in progress", toSessionView(session)))
}

type confirmRequest struct {
	FacilityID string `json:"facility_id"`
	Quantity   int    `json:"quantity"`
}

// Confirm commits the operator's selection
// Expected POST request body: {"facility_id": "" for main entry, "quantity": 2}
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var body confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	target := checkin.MainTarget
	if body.FacilityID != "" {
		target = checkin.FacilityTarget(body.FacilityID)
		if body.Quantity == 0 {
			body.Quantity = 1
		}
	}

	result, err := h.Station.Confirm(r.Context(), sessionID, target, body.Quantity)
	if err != nil {
		// After a commit-time quota failure the session carries a fresh decision.
		h.writeCheckinError(w, err, toSessionView(h.Station.Current()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse(checkin.StatusMessage(nil), scanResponse{
		Session: toSessionView(h.Station.Current()),
		Result:  toResultView(result),
	}))
}

func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	if err := h.Station.Dismiss(chi.URLParam(r, "sessionID")); err != nil {
		h.writeCheckinError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetMode switches the connectivity mode for the next scan
// Expected PUT request body: {"mode": "online|offline|host-scan"}
func (h *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	mode, err := checkin.ParseMode(body.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid mode", err.Error()))
		return
	}
	if mode == checkin.ModeClientRelay {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid mode", "scan a host's pairing code to enter client-relay mode"))
		return
	}
	h.Station.SetMode(mode)
	h.Logger.Info("CHECKIN", fmt.Sprintf("Mode switched to %s", mode))
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Mode updated", map[string]string{"mode": string(mode)}))
}

func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	status, err := h.TicketService.GetQueueStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to read sync queue", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Sync queue", status))
}

// Sync drains the offline queue now. A run already in flight is reported, not
// repeated.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	result, err := h.Reconciler.Run(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, reconcile.ErrSyncFailure) {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, utils.CodedErrorResponse("Sync failed, queued check-ins kept", "sync_failure", err.Error()))
		return
	}
	message := fmt.Sprintf("Synced %d check-ins", result.Submitted)
	if result.Skipped {
		message = "Sync already in progress"
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse(message, map[string]interface{}{
		"submitted": result.Submitted,
		"skipped":   result.Skipped,
	}))
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	n, err := h.TicketService.DownloadOfflineData(r.Context(), eventID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, utils.ErrorResponse("Offline download failed", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("Downloaded %d tickets", n), map[string]int{"tickets": n}))
}

func (h *Handler) GetCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.TicketService.GetTicketCounts(r.Context(), chi.URLParam(r, "eventID"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Error retrieving ticket counts", err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Ticket counts", counts))
}

// PairingQR renders the code relay clients scan to connect to this host.
func (h *Handler) PairingQR(w http.ResponseWriter, r *http.Request) {
	if h.Pairing == nil {
		writeJSON(w, http.StatusNotFound, utils.ErrorResponse("Relay disabled", "this device is not hosting"))
		return
	}
	png, err := relay.PairingPNG(*h.Pairing, 256)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Failed to render pairing code", err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ConnectPeer connects to a host without scanning its code
// Expected POST request body: {"payload": "ip:port" or {"ip":..., "port":...}}
func (h *Handler) ConnectPeer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	info, err := relay.ParsePeerInfo(body.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid peer info", err.Error()))
		return
	}
	if err := h.connect(r.Context(), info); err != nil {
		h.writeCheckinError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Connected to "+info.Address(), info))
}

func (h *Handler) connect(ctx context.Context, info relay.PeerInfo) error {
	if h.Dialer == nil {
		return fmt.Errorf("%w: peer connections are disabled", checkin.ErrNetworkFailure)
	}
	peer, err := h.Dialer(ctx, info)
	if err != nil {
		h.Logger.LogRelay("DIAL_FAILED", info.Address(), err.Error())
		return fmt.Errorf("%w: %v", checkin.ErrNetworkFailure, err)
	}
	h.Station.ConnectPeer(peer)
	h.Logger.LogRelay("CONNECTED", info.Address(), "station switched to client-relay")
	return nil
}

func (h *Handler) writeCheckinError(w http.ResponseWriter, err error, session *sessionView) {
	resp := utils.CodedErrorResponse(checkin.StatusMessage(err), checkin.ErrorCode(err), err.Error())
	if session != nil {
		resp.Data = scanResponse{Session: session}
	}
	writeJSON(w, statusFor(err), resp)
}

// statusFor maps check-in errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, checkin.ErrDuplicateScan), errors.Is(err, checkin.ErrStaleSession):
		return http.StatusConflict
	case errors.Is(err, checkin.ErrNetworkFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, checkin.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, checkin.ErrInvalidQuantity):
		return http.StatusBadRequest
	case checkin.ErrorCode(err) != "error":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
