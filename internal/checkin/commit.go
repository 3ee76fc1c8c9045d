package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
	"ms-checkin/internal/relay"
	"ms-checkin/internal/remote"
	"ms-checkin/internal/tickets/db"
)

// Broadcaster publishes a guest snapshot after a commit.
type Broadcaster interface {
	Broadcast(ctx context.Context, snapshot models.GuestSnapshot) error
}

// Broadcasters fans a snapshot out to every member and joins their errors.
type Broadcasters []Broadcaster

func (b Broadcasters) Broadcast(ctx context.Context, snapshot models.GuestSnapshot) error {
	var errs []error
	for _, br := range b {
		if br == nil {
			continue
		}
		if err := br.Broadcast(ctx, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type CommitRequest struct {
	EventID  string
	QRCode   string
	Target   Target
	Quantity int
	Mode     Mode
}

func (r CommitRequest) key() models.TicketKey {
	return models.TicketKey{EventID: r.EventID, QRCode: r.QRCode}
}

type CommitResult struct {
	// NewUsed is the used count of the committed target after the commit.
	NewUsed  int
	Status   string
	Synced   bool
	Snapshot models.GuestSnapshot
	// CloseSheet is set for main entries; a facility keeps the sheet open for
	// further redemptions.
	CloseSheet bool
}

// Committer applies one admission to the local store and, online, to the
// backend.
type Committer struct {
	store       Store
	remote      RemoteAPI
	peer        Peer
	highWater   *HighWater
	locks       *KeyedMutex
	broadcaster Broadcaster
	logger      *logger.Logger
	now         func() time.Time
}

func NewCommitter(store Store, api RemoteAPI, highWater *HighWater, broadcaster Broadcaster, log *logger.Logger) *Committer {
	if highWater == nil {
		highWater = NewHighWater()
	}
	return &Committer{
		store:       store,
		remote:      api,
		highWater:   highWater,
		locks:       NewKeyedMutex(),
		broadcaster: broadcaster,
		logger:      log,
		now:         time.Now,
	}
}

// WithPeer returns a committer that sends client-relay commits to peer.
func (c *Committer) WithPeer(peer Peer) *Committer {
	cp := *c
	cp.peer = peer
	return &cp
}

// Commit applies req. The quota is re-checked by the store at commit time;
// a decision made earlier is never trusted.
func (c *Committer) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if !req.Target.IsMain() && req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	if !req.Target.IsMain() && req.Quantity != 1 {
		return nil, fmt.Errorf("%w: facilities are redeemed one at a time", ErrInvalidQuantity)
	}

	if req.Mode == ModeClientRelay {
		return c.commitViaPeer(ctx, req)
	}
	if req.Mode != ModeOnline && req.Mode != ModeOffline {
		return nil, fmt.Errorf("cannot commit in %q mode", req.Mode)
	}

	result, err := c.commitLocal(ctx, req)
	if err != nil {
		return nil, err
	}
	// Outside the ticket lock.
	c.publish(ctx, result.Snapshot)
	return result, nil
}

// commitLocal applies req under the ticket lock and records the new mark.
func (c *Committer) commitLocal(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	key := req.key()
	unlock := c.locks.Lock(key.GuestKey())
	defer unlock()

	ticket, err := c.loadTicket(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.Mode == ModeOffline {
		err = c.commitOffline(ctx, req, ticket)
	} else {
		err = c.commitOnline(ctx, req, ticket)
	}
	if err != nil {
		c.logger.LogCommit("FAILED", req.QRCode, fmt.Sprintf("%s %s x%d: %v", req.Mode, req.Target, req.Quantity, err))
		return nil, err
	}

	updated, err := c.store.GetTicket(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reload ticket after commit: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("ticket %s vanished after commit", key)
	}

	result := &CommitResult{
		NewUsed:    usedOf(updated, req.Target),
		Status:     updated.Status,
		Synced:     req.Mode == ModeOnline,
		Snapshot:   updated.Snapshot(),
		CloseSheet: req.Target.IsMain(),
	}
	c.highWater.Record(key, req.Target, result.NewUsed)
	c.logger.LogCommit("COMMITTED", req.QRCode, fmt.Sprintf("%s %s x%d, used now %d", req.Mode, req.Target, req.Quantity, result.NewUsed))
	return result, nil
}

func (c *Committer) loadTicket(ctx context.Context, req CommitRequest) (*models.Ticket, error) {
	ticket, err := c.store.GetTicket(ctx, req.key())
	if err != nil {
		return nil, fmt.Errorf("local lookup: %w", err)
	}
	if ticket == nil {
		other, err := c.store.FindTicketByQR(ctx, req.EventID, req.QRCode)
		if err != nil {
			return nil, fmt.Errorf("local lookup: %w", err)
		}
		if other != nil {
			return nil, ErrCrossEventMismatch
		}
		return nil, ErrInvalidQR
	}

	if !req.Target.IsMain() {
		found := false
		for _, f := range ticket.Facilities {
			if f.FacilityID == req.Target.FacilityID {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: unknown facility %s", ErrInvalidQR, req.Target.FacilityID)
		}
		if ticket.UsedEntries < 1 {
			return nil, ErrFacilityLocked
		}
	}
	return ticket, nil
}

func (c *Committer) commitOffline(ctx context.Context, req CommitRequest, ticket *models.Ticket) error {
	scannedAt := c.now().UTC()
	entries := make([]models.CheckinQueueEntry, req.Quantity)
	for i := range entries {
		entries[i] = models.CheckinQueueEntry{
			EventID:    ticket.EventID,
			GuestID:    ticket.GuestID,
			TicketID:   ticket.TicketID,
			QRCode:     ticket.QRCode,
			FacilityID: req.Target.FacilityID,
			ScannedAt:  scannedAt,
		}
	}

	err := c.store.CommitOffline(ctx, ticket.Key(), req.Target.FacilityID, req.Quantity, entries)
	if errors.Is(err, db.ErrQuotaExhausted) {
		return ErrQuotaExceeded
	}
	return err
}

func (c *Committer) commitOnline(ctx context.Context, req CommitRequest, ticket *models.Ticket) error {
	if c.remote == nil {
		return fmt.Errorf("%w: no backend configured", ErrNetworkFailure)
	}

	// Under the ticket lock this check holds until the mirror below. Other
	// devices are bounded by the backend.
	var (
		ok  bool
		err error
	)
	if req.Target.IsMain() {
		ok, err = c.store.HasTicketQuota(ctx, ticket.Key(), req.Quantity)
	} else {
		ok, err = c.store.HasFacilityQuota(ctx, ticket.Key().GuestKey(), req.Target.FacilityID, req.Quantity)
	}
	if err != nil {
		return fmt.Errorf("quota check: %w", err)
	}
	if !ok {
		return ErrQuotaExceeded
	}

	checkIn := remote.CheckInRequest{
		EventID:              ticket.EventID,
		GuestID:              ticket.GuestID,
		TicketID:             ticket.TicketID,
		CheckInCount:         req.Quantity,
		CategoryCheckInCount: req.Quantity,
		GuestFacilityID:      req.Target.FacilityID,
	}
	if err := c.remote.CheckInGuest(ctx, ticket.EventID, checkIn); err != nil {
		return fromRemote("check-in", err)
	}

	if req.Target.IsMain() {
		err = c.store.UpdateTicketStatus(ctx, ticket.Key(), models.TicketStatusCheckedIn, req.Quantity, true)
	} else {
		err = c.store.MirrorFacilityUsage(ctx, ticket.Key().GuestKey(), req.Target.FacilityID, req.Quantity)
	}
	if err != nil {
		// The backend holds the check-in; the next verification mirrors it back.
		c.logger.Error("COMMIT", fmt.Sprintf("Backend accepted %s but local mirror failed: %v", req.QRCode, err))
	}
	return nil
}

func (c *Committer) commitViaPeer(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if c.peer == nil {
		return nil, fmt.Errorf("%w: not connected to a host", ErrNetworkFailure)
	}
	reply, err := c.peer.Forward(ctx, relay.Request{
		QRCode:     req.QRCode,
		EventID:    req.EventID,
		Quantity:   req.Quantity,
		FacilityID: req.Target.FacilityID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	if !reply.IsSuccess() {
		return nil, ErrorFromCode(reply.Code, reply.Message)
	}
	if reply.Data == nil {
		return nil, fmt.Errorf("%w: reply without guest data", ErrHostRejected)
	}

	ticket := reply.Data.Ticket()
	c.logger.LogCommit("RELAYED", req.QRCode, fmt.Sprintf("%s x%d via host", req.Target, req.Quantity))
	return &CommitResult{
		NewUsed:    usedOf(ticket, req.Target),
		Status:     statusOf(ticket),
		Synced:     false,
		Snapshot:   *reply.Data,
		CloseSheet: req.Target.IsMain(),
	}, nil
}

// publish never fails a commit: the store already holds the result.
func (c *Committer) publish(ctx context.Context, snapshot models.GuestSnapshot) {
	if c.broadcaster == nil {
		return
	}
	if err := c.broadcaster.Broadcast(ctx, snapshot); err != nil {
		c.logger.Warn("COMMIT", fmt.Sprintf("Broadcast of %s incomplete: %v", snapshot.QRCode, err))
	}
}

func usedOf(ticket *models.Ticket, target Target) int {
	if target.IsMain() {
		return ticket.UsedEntries
	}
	for _, f := range ticket.Facilities {
		if f.FacilityID == target.FacilityID {
			return f.UsedScans
		}
	}
	return 0
}

func statusOf(ticket *models.Ticket) string {
	if ticket.UsedEntries > 0 {
		return models.TicketStatusCheckedIn
	}
	return models.TicketStatusPending
}
