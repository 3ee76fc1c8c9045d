package checkin_test

import (
	"context"
	"sync"
	"testing"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/models"
	"ms-checkin/internal/relay"
	"ms-checkin/internal/remote"
	"ms-checkin/internal/tickets/db"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const eventA = "event-a"

// MockRemote stands in for the organizer backend.
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) VerifyQRCode(ctx context.Context, eventID, qrCode string) (*remote.Verification, error) {
	args := m.Called(ctx, eventID, qrCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Verification), args.Error(1)
}

func (m *MockRemote) GetGuestDetails(ctx context.Context, eventID, guestID string) (*remote.Guest, error) {
	args := m.Called(ctx, eventID, guestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Guest), args.Error(1)
}

func (m *MockRemote) CheckInGuest(ctx context.Context, eventID string, req remote.CheckInRequest) error {
	args := m.Called(ctx, eventID, req)
	return args.Error(0)
}

// recordingBroadcaster keeps every published snapshot.
type recordingBroadcaster struct {
	mu        sync.Mutex
	snapshots []models.GuestSnapshot
	err       error
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, s models.GuestSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return r.err
}

func (r *recordingBroadcaster) all() []models.GuestSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.GuestSnapshot(nil), r.snapshots...)
}

// peerFunc adapts a function to checkin.Peer.
type peerFunc func(ctx context.Context, req relay.Request) (*relay.Reply, error)

func (f peerFunc) Forward(ctx context.Context, req relay.Request) (*relay.Reply, error) {
	return f(ctx, req)
}

type engine struct {
	store       *db.DB
	remote      *MockRemote
	highWater   *checkin.HighWater
	broadcaster *recordingBroadcaster
	verifier    *checkin.Verifier
	committer   *checkin.Committer
}

func newEngine(t *testing.T) *engine {
	bunDB, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })

	e := &engine{
		store:       db.New(bunDB),
		remote:      &MockRemote{},
		highWater:   checkin.NewHighWater(),
		broadcaster: &recordingBroadcaster{},
	}
	e.verifier = checkin.NewVerifier(e.store, e.remote, e.highWater, nil)
	e.committer = checkin.NewCommitter(e.store, e.remote, e.highWater, e.broadcaster, nil)
	return e
}

func (e *engine) seed(t *testing.T, tickets ...models.Ticket) {
	for _, ticket := range tickets {
		_, err := e.store.ImportTickets(context.Background(), ticket.EventID, []models.Ticket{ticket})
		require.NoError(t, err)
	}
}

func (e *engine) ticket(t *testing.T, eventID, qr string) *models.Ticket {
	ticket, err := e.store.GetTicket(context.Background(), models.TicketKey{EventID: eventID, QRCode: qr})
	require.NoError(t, err)
	require.NotNil(t, ticket)
	return ticket
}

func ticketT1() models.Ticket {
	return models.Ticket{EventID: eventA, QRCode: "T1", GuestID: "g1", TicketID: "t1", GuestName: "One", TotalEntries: 1}
}

func ticketT2() models.Ticket {
	return models.Ticket{EventID: eventA, QRCode: "T2", GuestID: "g2", TicketID: "t2", GuestName: "Two", TotalEntries: 3, UsedEntries: 1}
}

func ticketT3() models.Ticket {
	return models.Ticket{
		EventID: eventA, QRCode: "T3", GuestID: "g3", TicketID: "t3", GuestName: "Three", TotalEntries: 1, UsedEntries: 1,
		Facilities: []models.Facility{{FacilityID: "vip", Name: "VIP", AvailableScans: 1}},
	}
}

func ticketT4() models.Ticket {
	return models.Ticket{EventID: eventA, QRCode: "T4", GuestID: "g4", TicketID: "t4", GuestName: "Four", TotalEntries: 2}
}
