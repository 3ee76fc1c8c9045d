package checkin_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/models"
	"ms-checkin/internal/relay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOfflineStation(t *testing.T, tickets ...models.Ticket) (*engine, *checkin.Station) {
	e := newEngine(t)
	e.seed(t, tickets...)
	return e, checkin.NewStation(e.verifier, e.committer, eventA, checkin.ModeOffline, nil)
}

func TestStation_T1AutoCommits(t *testing.T) {
	e, st := newOfflineStation(t, ticketT1())

	session, result, err := st.Scan(context.Background(), "T1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, checkin.KindAutoCommit, session.Decision.Kind)
	assert.Equal(t, 1, result.NewUsed)
	assert.Nil(t, st.Current(), "scan lock released after the commit")

	ticket := e.ticket(t, eventA, "T1")
	assert.Equal(t, 1, ticket.UsedEntries)
	assert.Equal(t, models.TicketStatusCheckedIn, ticket.Status)
}

func TestStation_T2SelectionAndDuplicateDecode(t *testing.T) {
	e, st := newOfflineStation(t, ticketT2())
	ctx := context.Background()

	session, result, err := st.Scan(ctx, "T2")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.True(t, session.Open)
	assert.Equal(t, 2, session.Decision.MaxQuantity)

	// The camera keeps decoding the same code while the sheet is open.
	for i := 0; i < 3; i++ {
		_, _, err = st.Scan(ctx, "T2")
		assert.ErrorIs(t, err, checkin.ErrDuplicateScan)
	}
	assert.Equal(t, 1, e.ticket(t, eventA, "T2").UsedEntries)

	result, err = st.Confirm(ctx, session.ID, checkin.MainTarget, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, result.NewUsed)
	assert.True(t, result.CloseSheet)
	assert.Nil(t, st.Current())

	ticket := e.ticket(t, eventA, "T2")
	assert.Equal(t, 3, ticket.UsedEntries)
	assert.Equal(t, 0, ticket.Remaining())

	_, _, err = st.Scan(ctx, "T2")
	assert.ErrorIs(t, err, checkin.ErrAlreadyScanned)
}

func TestStation_T3FacilityThenFullyRedeemed(t *testing.T) {
	e, st := newOfflineStation(t, ticketT3())
	ctx := context.Background()

	session, _, err := st.Scan(ctx, "T3")
	require.NoError(t, err)
	assert.Equal(t, checkin.FacilityTarget("vip"), session.Selection)
	main, _ := session.Decision.Option(checkin.MainTarget)
	assert.False(t, main.Enabled)

	_, err = st.Confirm(ctx, session.ID, checkin.MainTarget, 1)
	assert.ErrorIs(t, err, checkin.ErrQuotaExceeded)

	result, err := st.Confirm(ctx, session.ID, checkin.FacilityTarget("vip"), 1)
	require.NoError(t, err)
	assert.False(t, result.CloseSheet)
	assert.Equal(t, 1, e.ticket(t, eventA, "T3").Facilities[0].UsedScans)
	// Nothing left to redeem, so the sheet is done.
	assert.Nil(t, st.Current())

	_, _, err = st.Scan(ctx, "T3")
	assert.ErrorIs(t, err, checkin.ErrAlreadyFullyRedeemed)
}

func TestStation_FacilityCommitKeepsSheetOpen(t *testing.T) {
	_, st := newOfflineStation(t, models.Ticket{
		EventID: eventA, QRCode: "MULTI", TotalEntries: 1, UsedEntries: 1,
		Facilities: []models.Facility{
			{FacilityID: "vip", Name: "VIP", AvailableScans: 1},
			{FacilityID: "bar", Name: "Bar", AvailableScans: 2},
		},
	})
	ctx := context.Background()

	session, _, err := st.Scan(ctx, "MULTI")
	require.NoError(t, err)

	_, err = st.Confirm(ctx, session.ID, checkin.FacilityTarget("vip"), 1)
	require.NoError(t, err)

	current := st.Current()
	require.NotNil(t, current)
	assert.Equal(t, session.ID, current.ID)
	vip, _ := current.Decision.Option(checkin.FacilityTarget("vip"))
	assert.False(t, vip.Enabled)
	assert.Equal(t, checkin.FacilityTarget("bar"), current.Selection)
}

func TestStation_QuotaExceededReverifies(t *testing.T) {
	e, st := newOfflineStation(t, ticketT2())
	ctx := context.Background()

	session, _, err := st.Scan(ctx, "T2")
	require.NoError(t, err)
	require.Equal(t, 2, session.Decision.MaxQuantity)

	// A peer device redeems one entry behind the open sheet.
	_, err = e.committer.Commit(ctx, checkin.CommitRequest{EventID: eventA, QRCode: "T2", Quantity: 1, Mode: checkin.ModeOffline})
	require.NoError(t, err)

	_, err = st.Confirm(ctx, session.ID, checkin.MainTarget, 2)
	assert.ErrorIs(t, err, checkin.ErrQuotaExceeded)

	current := st.Current()
	require.NotNil(t, current)
	assert.Equal(t, 1, current.Decision.MaxQuantity, "sheet shows the fresh quota")
	assert.Equal(t, 2, e.ticket(t, eventA, "T2").UsedEntries)

	result, err := st.Confirm(ctx, session.ID, checkin.MainTarget, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, result.NewUsed)
}

func TestStation_DismissAndStaleSession(t *testing.T) {
	_, st := newOfflineStation(t, ticketT2())
	ctx := context.Background()

	session, _, err := st.Scan(ctx, "T2")
	require.NoError(t, err)

	_, err = st.Confirm(ctx, "not-the-session", checkin.MainTarget, 1)
	assert.ErrorIs(t, err, checkin.ErrStaleSession)

	require.NoError(t, st.Dismiss(session.ID))
	assert.Nil(t, st.Current())

	_, err = st.Confirm(ctx, session.ID, checkin.MainTarget, 1)
	assert.ErrorIs(t, err, checkin.ErrStaleSession)
	assert.ErrorIs(t, st.Dismiss(session.ID), checkin.ErrStaleSession)

	// After dismissal the same code may be scanned again.
	_, _, err = st.Scan(ctx, "T2")
	assert.NoError(t, err)
}

func TestStation_NewCodeAbandonsInFlightScan(t *testing.T) {
	e := newEngine(t)
	started := make(chan struct{})
	release := make(chan struct{})

	peer := peerFunc(func(ctx context.Context, req relay.Request) (*relay.Reply, error) {
		if req.QRCode == "SLOW" {
			close(started)
			<-release
		}
		return &relay.Reply{Status: relay.StatusSuccess, Action: relay.ActionSelect,
			Data: &models.GuestSnapshot{EventID: eventA, QRCode: req.QRCode, TotalEntries: 2}}, nil
	})
	st := checkin.NewStation(e.verifier, e.committer, eventA, checkin.ModeOffline, nil)
	st.ConnectPeer(peer)
	assert.Equal(t, checkin.ModeClientRelay, st.Mode())

	slowErr := make(chan error, 1)
	go func() {
		_, _, err := st.Scan(context.Background(), "SLOW")
		slowErr <- err
	}()
	<-started

	fresh, _, err := st.Scan(context.Background(), "FAST")
	require.NoError(t, err)
	close(release)

	select {
	case err := <-slowErr:
		assert.ErrorIs(t, err, checkin.ErrStaleSession)
	case <-time.After(time.Second):
		t.Fatal("abandoned scan never returned")
	}

	current := st.Current()
	require.NotNil(t, current)
	assert.Equal(t, fresh.ID, current.ID)
	assert.Equal(t, "FAST", current.Code)
}

func TestStation_ConcurrentConfirmCommitsOnce(t *testing.T) {
	e := newEngine(t)
	var forwarded int32
	started := make(chan struct{})
	release := make(chan struct{})

	peer := peerFunc(func(ctx context.Context, req relay.Request) (*relay.Reply, error) {
		if req.IsVerify() {
			return &relay.Reply{Status: relay.StatusSuccess, Action: relay.ActionSelect,
				Data: &models.GuestSnapshot{EventID: eventA, QRCode: "T2", TotalEntries: 3, UsedEntries: 1}}, nil
		}
		if atomic.AddInt32(&forwarded, 1) == 1 {
			close(started)
		}
		<-release
		return &relay.Reply{Status: relay.StatusSuccess, Action: relay.ActionCheckedIn,
			Data: &models.GuestSnapshot{EventID: eventA, QRCode: "T2", TotalEntries: 3, UsedEntries: 2}}, nil
	})
	st := checkin.NewStation(e.verifier, e.committer, eventA, checkin.ModeOffline, nil)
	st.ConnectPeer(peer)
	ctx := context.Background()

	session, _, err := st.Scan(ctx, "T2")
	require.NoError(t, err)
	require.True(t, session.Open)

	first := make(chan error, 1)
	go func() {
		_, err := st.Confirm(ctx, session.ID, checkin.MainTarget, 1)
		first <- err
	}()
	<-started

	// A double tap while the host is still answering.
	_, err = st.Confirm(ctx, session.ID, checkin.MainTarget, 1)
	assert.ErrorIs(t, err, checkin.ErrDuplicateScan)
	current := st.Current()
	require.NotNil(t, current)
	assert.True(t, current.Committing)

	close(release)
	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first confirm never returned")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&forwarded), "one scan session is committed once")
	assert.Nil(t, st.Current())
}

func TestStation_FailedConfirmCanBeRetried(t *testing.T) {
	e := newEngine(t)
	var calls int32
	peer := peerFunc(func(ctx context.Context, req relay.Request) (*relay.Reply, error) {
		if req.IsVerify() {
			return &relay.Reply{Status: relay.StatusSuccess, Action: relay.ActionSelect,
				Data: &models.GuestSnapshot{EventID: eventA, QRCode: "T2", TotalEntries: 3, UsedEntries: 1}}, nil
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			return &relay.Reply{Status: relay.StatusError, Code: "network_failure", Message: "backend down"}, nil
		}
		return &relay.Reply{Status: relay.StatusSuccess, Action: relay.ActionCheckedIn,
			Data: &models.GuestSnapshot{EventID: eventA, QRCode: "T2", TotalEntries: 3, UsedEntries: 2}}, nil
	})
	st := checkin.NewStation(e.verifier, e.committer, eventA, checkin.ModeOffline, nil)
	st.ConnectPeer(peer)
	ctx := context.Background()

	session, _, err := st.Scan(ctx, "T2")
	require.NoError(t, err)

	_, err = st.Confirm(ctx, session.ID, checkin.MainTarget, 1)
	assert.ErrorIs(t, err, checkin.ErrNetworkFailure)
	current := st.Current()
	require.NotNil(t, current)
	assert.False(t, current.Committing, "a failed commit frees the session")

	result, err := st.Confirm(ctx, session.ID, checkin.MainTarget, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewUsed)
}

func TestStation_ModeChangeClearsHighWater(t *testing.T) {
	e, st := newOfflineStation(t, ticketT2())
	ctx := context.Background()
	key := models.TicketKey{EventID: eventA, QRCode: "T2"}

	_, err := e.committer.Commit(ctx, checkin.CommitRequest{EventID: eventA, QRCode: "T2", Quantity: 1, Mode: checkin.ModeOffline})
	require.NoError(t, err)
	require.Equal(t, 2, e.highWater.Main(key))

	st.SetMode(checkin.ModeOffline)
	assert.Equal(t, 2, e.highWater.Main(key), "same mode keeps the session")

	st.SetMode(checkin.ModeOnline)
	assert.Equal(t, 0, e.highWater.Main(key))

	_, err = e.committer.Commit(ctx, checkin.CommitRequest{EventID: eventA, QRCode: "T2", Quantity: 1, Mode: checkin.ModeOffline})
	require.NoError(t, err)
	require.Equal(t, 3, e.highWater.Main(key))

	st.ConnectPeer(peerFunc(func(ctx context.Context, req relay.Request) (*relay.Reply, error) {
		return nil, context.Canceled
	}))
	assert.Equal(t, 0, e.highWater.Main(key))
}
