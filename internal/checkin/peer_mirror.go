package checkin

import (
	"context"
	"errors"
	"fmt"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// PeerMirror applies check-ins committed by other devices of the venue to the
// local store and passes them on to local listeners. Counters only move
// forward, so replays and reordering are harmless. High-water marks are left
// alone: they track this device's own commits.
type PeerMirror struct {
	store  Store
	local  Broadcaster
	logger *logger.Logger
}

func NewPeerMirror(store Store, local Broadcaster, log *logger.Logger) *PeerMirror {
	return &PeerMirror{store: store, local: local, logger: log}
}

func (m *PeerMirror) Apply(ctx context.Context, snapshot models.GuestSnapshot) error {
	if snapshot.EventID == "" || snapshot.QRCode == "" {
		return errors.New("peer snapshot without event or qr code")
	}
	ticket := snapshot.Ticket()
	if err := m.store.MirrorTicket(ctx, ticket); err != nil {
		return fmt.Errorf("mirror peer check-in %s: %w", snapshot.QRCode, err)
	}
	m.logger.LogCommit("MIRRORED", snapshot.QRCode, fmt.Sprintf("peer reports used %d/%d", snapshot.UsedEntries, snapshot.TotalEntries))
	if m.local == nil {
		return nil
	}
	return m.local.Broadcast(ctx, snapshot)
}
