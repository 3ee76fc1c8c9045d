package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-checkin/internal/models"
	"ms-checkin/internal/reconcile"
	"ms-checkin/internal/tickets/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) SyncOfflineCheckins(ctx context.Context, entries []models.CheckinQueueEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockBackend) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func setupStore(t *testing.T) *db.DB {
	bunDB, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { bunDB.Close() })
	return db.New(bunDB)
}

// commitOffline seeds T4 and performs one offline check-in on it.
func commitOffline(t *testing.T, store *db.DB) models.TicketKey {
	ctx := context.Background()
	key := models.TicketKey{EventID: "event-a", QRCode: "T4"}
	_, err := store.ImportTickets(ctx, key.EventID, []models.Ticket{{QRCode: "T4", GuestID: "g4", TicketID: "t4", TotalEntries: 2}})
	require.NoError(t, err)
	entry := models.CheckinQueueEntry{EventID: key.EventID, GuestID: "g4", TicketID: "t4", QRCode: "T4", ScannedAt: time.Now()}
	require.NoError(t, store.CommitOffline(ctx, key, "", 1, []models.CheckinQueueEntry{entry}))
	return key
}

func TestReconciler_DrainsQueueAfterRestore(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := commitOffline(t, store)

	ticket, err := store.GetTicket(ctx, key)
	require.NoError(t, err)
	assert.False(t, ticket.Synced)

	backend := &MockBackend{}
	backend.On("SyncOfflineCheckins", mock.Anything, mock.MatchedBy(func(entries []models.CheckinQueueEntry) bool {
		return len(entries) == 1 && entries[0].QRCode == "T4" && entries[0].GuestID == "g4"
	})).Return(nil).Once()

	r := reconcile.NewReconciler(store, backend, nil)
	result, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Submitted)

	count, err := store.CountUnsynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	ticket, err = store.GetTicket(ctx, key)
	require.NoError(t, err)
	assert.True(t, ticket.Synced)
	assert.False(t, r.LastSuccess().IsZero())

	// A second run finds nothing and does not call the backend
	result, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Submitted)
	backend.AssertExpectations(t)
}

func TestReconciler_FailureLeavesQueue(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	key := commitOffline(t, store)

	backend := &MockBackend{}
	backend.On("SyncOfflineCheckins", mock.Anything, mock.Anything).Return(errors.New("503")).Twice()
	backend.On("SyncOfflineCheckins", mock.Anything, mock.Anything).Return(nil).Once()

	r := reconcile.NewReconciler(store, backend, nil)
	for i := 0; i < 2; i++ {
		_, err := r.Run(ctx)
		assert.ErrorIs(t, err, reconcile.ErrSyncFailure)

		count, err := store.CountUnsynced(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "entries are never dropped on failure")
	}

	_, err := r.Run(ctx)
	require.NoError(t, err)
	ticket, err := store.GetTicket(ctx, key)
	require.NoError(t, err)
	assert.True(t, ticket.Synced)
	assert.Equal(t, 1, ticket.UsedEntries)
	backend.AssertExpectations(t)
}

func TestReconciler_SingleFlight(t *testing.T) {
	store := setupStore(t)
	commitOffline(t, store)

	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &MockBackend{}
	backend.On("SyncOfflineCheckins", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(entered)
			<-release
		}).Return(nil).Once()

	r := reconcile.NewReconciler(store, backend, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := r.Run(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, 1, result.Submitted)
	}()

	<-entered
	assert.True(t, r.Running())
	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	close(release)
	wg.Wait()
	assert.False(t, r.Running())
	backend.AssertNumberOfCalls(t, "SyncOfflineCheckins", 1)
}

func TestReconciler_StartRunsOnTrigger(t *testing.T) {
	store := setupStore(t)
	commitOffline(t, store)

	synced := make(chan struct{}, 1)
	backend := &MockBackend{}
	backend.On("SyncOfflineCheckins", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { synced <- struct{}{} }).Return(nil)

	r := reconcile.NewReconciler(store, backend, nil)
	triggers := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Start(ctx, 0, triggers)

	triggers <- struct{}{}
	select {
	case <-synced:
	case <-time.After(time.Second):
		t.Fatal("trigger did not start a run")
	}
}

func TestWatcher_SignalsRestoration(t *testing.T) {
	backend := &MockBackend{}
	backend.On("Ping", mock.Anything).Return(errors.New("offline")).Once()
	backend.On("Ping", mock.Anything).Return(nil).Twice()
	backend.On("Ping", mock.Anything).Return(errors.New("offline")).Once()
	backend.On("Ping", mock.Anything).Return(nil).Once()

	w := reconcile.NewWatcher(backend, time.Minute, nil)
	ctx := context.Background()

	assert.False(t, w.Probe(ctx))
	assert.Empty(t, w.Restored())

	assert.True(t, w.Probe(ctx))
	assert.Len(t, w.Restored(), 1)
	<-w.Restored()

	assert.True(t, w.Probe(ctx), "staying online does not signal again")
	assert.Empty(t, w.Restored())

	assert.False(t, w.Probe(ctx))
	assert.True(t, w.Probe(ctx))
	assert.Len(t, w.Restored(), 1)
	assert.True(t, w.Online())
}
