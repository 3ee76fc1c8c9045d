package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/relay"
	"ms-checkin/internal/remote"
)

type Mode string

const (
	ModeOnline      Mode = "online"
	ModeOffline     Mode = "offline"
	ModeHostScan    Mode = "host-scan"
	ModeClientRelay Mode = "client-relay"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOnline, ModeOffline, ModeHostScan, ModeClientRelay:
		return m, nil
	}
	return "", fmt.Errorf("unknown check-in mode %q", s)
}

// Store is the local ticket store as the engines use it.
type Store interface {
	FindTicketByQR(ctx context.Context, eventID, qrCode string) (*models.Ticket, error)
	GetTicket(ctx context.Context, key models.TicketKey) (*models.Ticket, error)
	MirrorTicket(ctx context.Context, ticket *models.Ticket) error
	HasTicketQuota(ctx context.Context, key models.TicketKey, incrementBy int) (bool, error)
	HasFacilityQuota(ctx context.Context, guestKey, facilityID string, incrementBy int) (bool, error)
	UpdateTicketStatus(ctx context.Context, key models.TicketKey, status string, incrementBy int, synced bool) error
	MirrorFacilityUsage(ctx context.Context, guestKey, facilityID string, incrementBy int) error
	CommitOffline(ctx context.Context, key models.TicketKey, facilityID string, quantity int, entries []models.CheckinQueueEntry) error
}

// RemoteAPI is the part of the organizer backend used while scanning.
type RemoteAPI interface {
	VerifyQRCode(ctx context.Context, eventID, qrCode string) (*remote.Verification, error)
	GetGuestDetails(ctx context.Context, eventID, guestID string) (*remote.Guest, error)
	CheckInGuest(ctx context.Context, eventID string, req remote.CheckInRequest) error
}

// Peer forwards scans to a relay host. *relay.Client implements it.
type Peer interface {
	Forward(ctx context.Context, req relay.Request) (*relay.Reply, error)
}

// Verifier classifies scans without changing quotas.
type Verifier struct {
	store     Store
	remote    RemoteAPI
	highWater *HighWater
	peer      Peer
	logger    *logger.Logger
}

func NewVerifier(store Store, api RemoteAPI, highWater *HighWater, log *logger.Logger) *Verifier {
	if highWater == nil {
		highWater = NewHighWater()
	}
	return &Verifier{store: store, remote: api, highWater: highWater, logger: log}
}

// WithPeer returns a verifier that forwards client-relay scans to peer.
func (v *Verifier) WithPeer(peer Peer) *Verifier {
	cp := *v
	cp.peer = peer
	return &cp
}

// Verify decides what a scanned code allows under mode. Every rejection is
// returned both as the error and as a KindReject decision.
func (v *Verifier) Verify(ctx context.Context, code, eventID string, mode Mode) (*Decision, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return reject(nil, ErrInvalidQR), ErrInvalidQR
	}

	var (
		d   *Decision
		err error
	)
	switch mode {
	case ModeHostScan:
		d, err = v.verifyPeerInfo(code)
	case ModeClientRelay:
		d, err = v.verifyViaPeer(ctx, code, eventID)
	case ModeOffline:
		d, err = v.verifyOffline(ctx, code, eventID)
	case ModeOnline:
		d, err = v.verifyOnline(ctx, code, eventID)
	default:
		err = fmt.Errorf("unknown check-in mode %q", mode)
	}

	if err != nil {
		v.logger.LogScan("REJECT", code, fmt.Sprintf("%s: %v", mode, err))
		if d == nil {
			d = reject(nil, err)
		}
		return d, err
	}
	if d.Kind == KindReject {
		v.logger.LogScan("REJECT", code, fmt.Sprintf("%s: %v", mode, d.Reason))
		return d, d.Reason
	}
	v.logger.LogScan(strings.ToUpper(string(d.Kind)), code, string(mode))
	return d, nil
}

func (v *Verifier) verifyPeerInfo(code string) (*Decision, error) {
	info, err := relay.ParsePeerInfo(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQR, err)
	}
	return &Decision{Kind: KindPeerConnect, Peer: &info, Message: "Connecting to " + info.Address()}, nil
}

func (v *Verifier) verifyOffline(ctx context.Context, code, eventID string) (*Decision, error) {
	ticket, err := v.store.FindTicketByQR(ctx, eventID, code)
	if err != nil {
		return nil, fmt.Errorf("local lookup: %w", err)
	}
	if ticket == nil {
		return nil, ErrInvalidQR
	}
	if ticket.EventID != eventID {
		// Fail closed without exposing the other event's ticket.
		return nil, ErrCrossEventMismatch
	}
	return Classify(ticket), nil
}

func (v *Verifier) verifyOnline(ctx context.Context, code, eventID string) (*Decision, error) {
	if v.remote == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrNetworkFailure)
	}

	verification, err := v.remote.VerifyQRCode(ctx, eventID, code)
	if err != nil {
		return nil, fromRemote("verify-qr", err)
	}
	if verification.EventID != "" && verification.EventID != eventID {
		return nil, ErrCrossEventMismatch
	}

	guest, err := v.remote.GetGuestDetails(ctx, eventID, verification.GuestID)
	if err != nil {
		return nil, fromRemote("guest-details", err)
	}
	if guest.EventID != "" && guest.EventID != eventID {
		return nil, ErrCrossEventMismatch
	}

	ticket := guest.Ticket(eventID, code)
	if ticket.GuestName == "" {
		ticket.GuestName = verification.GuestName
	}
	if ticket.GuestUUID == "" {
		ticket.GuestUUID = verification.GuestUUID
	}
	if ticket.TicketID == "" {
		ticket.TicketID = verification.TicketID
	}
	if len(ticket.Facilities) == 0 {
		ticket.Facilities = verification.Facilities
	}
	v.highWater.Apply(ticket)

	if err := v.store.MirrorTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("mirror ticket: %w", err)
	}
	// The stored row also holds local commits the backend has not seen yet.
	stored, err := v.store.GetTicket(ctx, ticket.Key())
	if err != nil {
		return nil, fmt.Errorf("local lookup: %w", err)
	}
	if stored == nil {
		return nil, errors.New("mirrored ticket not found")
	}
	return Classify(stored), nil
}

func (v *Verifier) verifyViaPeer(ctx context.Context, code, eventID string) (*Decision, error) {
	if v.peer == nil {
		return nil, fmt.Errorf("%w: not connected to a host", ErrNetworkFailure)
	}
	reply, err := v.peer.Forward(ctx, relay.Request{QRCode: code, EventID: eventID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	return decisionFromReply(reply)
}

// decisionFromReply renders a host reply. The host's data is authoritative;
// Classify only lays out the sheet.
func decisionFromReply(reply *relay.Reply) (*Decision, error) {
	if !reply.IsSuccess() {
		err := ErrorFromCode(reply.Code, reply.Message)
		d := reject(nil, err)
		if reply.Data != nil {
			d.Ticket = reply.Data.Ticket()
		}
		d.Message = reply.Message
		return d, err
	}
	if reply.Data == nil {
		return nil, fmt.Errorf("%w: reply without guest data", ErrHostRejected)
	}

	ticket := reply.Data.Ticket()
	switch reply.Action {
	case relay.ActionCheckedIn:
		return &Decision{Kind: KindCommitted, Ticket: ticket, Message: reply.Message}, nil
	default:
		d := Classify(ticket)
		if d.Kind == KindAutoCommit {
			// Only the host admits. A client never commits on its own reading.
			d.Kind = KindNeedsSelection
		}
		d.Message = reply.Message
		return d, nil
	}
}
