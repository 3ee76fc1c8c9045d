package checkin

import (
	"context"
	"fmt"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/relay"

	"github.com/google/uuid"
)

// RelayHandler answers relay clients with the host's own engines. A code is
// held in the ScanLocker while one client request for it is being handled.
type RelayHandler struct {
	verifier  *Verifier
	committer *Committer
	locker    ScanLocker
	mode      Mode
	logger    *logger.Logger
}

// NewRelayHandler serves clients in mode, which must be online or offline:
// the host's own connectivity.
func NewRelayHandler(verifier *Verifier, committer *Committer, locker ScanLocker, mode Mode, log *logger.Logger) *RelayHandler {
	return &RelayHandler{
		verifier:  verifier,
		committer: committer,
		locker:    locker,
		mode:      mode,
		logger:    log,
	}
}

func (h *RelayHandler) Handle(ctx context.Context, req relay.Request) relay.Reply {
	owner := uuid.NewString()
	if h.locker != nil {
		ok, err := h.locker.Acquire(ctx, req.EventID, req.QRCode, owner)
		if err != nil {
			h.logger.Error("RELAY", fmt.Sprintf("Scan lock for %s unavailable: %v", req.QRCode, err))
			return errorReply(fmt.Errorf("%w: scan lock: %v", ErrNetworkFailure, err))
		}
		if !ok {
			return errorReply(ErrDuplicateScan)
		}
		defer func() {
			if err := h.locker.Release(context.WithoutCancel(ctx), req.EventID, req.QRCode, owner); err != nil {
				h.logger.Warn("RELAY", fmt.Sprintf("Failed to release scan lock for %s: %v", req.QRCode, err))
			}
		}()
	}

	if req.IsVerify() {
		return h.verify(ctx, req)
	}
	return h.commit(ctx, req)
}

func (h *RelayHandler) verify(ctx context.Context, req relay.Request) relay.Reply {
	decision, err := h.verifier.Verify(ctx, req.QRCode, req.EventID, h.mode)
	if err != nil {
		return errorReply(err)
	}

	switch decision.Kind {
	case KindAutoCommit:
		return h.commit(ctx, relay.Request{QRCode: req.QRCode, EventID: req.EventID, Quantity: decision.Quantity})
	case KindNeedsSelection:
		snapshot := decision.Ticket.Snapshot()
		return relay.Reply{
			Status:  relay.StatusSuccess,
			Message: "Select check-in",
			Action:  relay.ActionSelect,
			Data:    &snapshot,
		}
	default:
		return errorReply(fmt.Errorf("%w: unexpected decision %s", ErrHostRejected, decision.Kind))
	}
}

func (h *RelayHandler) commit(ctx context.Context, req relay.Request) relay.Reply {
	target := MainTarget
	if req.FacilityID != "" {
		target = FacilityTarget(req.FacilityID)
	}
	result, err := h.committer.Commit(ctx, CommitRequest{
		EventID:  req.EventID,
		QRCode:   req.QRCode,
		Target:   target,
		Quantity: req.Quantity,
		Mode:     h.mode,
	})
	if err != nil {
		return errorReply(err)
	}
	return relay.Reply{
		Status:  relay.StatusSuccess,
		Message: StatusMessage(nil),
		Action:  relay.ActionCheckedIn,
		Data:    &result.Snapshot,
	}
}

func errorReply(err error) relay.Reply {
	return relay.Reply{
		Status:  relay.StatusError,
		Message: StatusMessage(err),
		Action:  relay.ActionRejected,
		Code:    ErrorCode(err),
	}
}
