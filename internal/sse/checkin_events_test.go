package sse

import (
	"context"
	"testing"
	"time"

	"ms-checkin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckinEventEmitter(t *testing.T) {
	e := NewCheckinEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := e.SubscribeToEvent(ctx, "event-a")
	other := e.SubscribeToEvent(context.Background(), "event-b")
	assert.Equal(t, 1, e.GetEventClientCount("event-a"))

	require.NoError(t, e.Broadcast(context.Background(), models.GuestSnapshot{EventID: "event-a", QRCode: "Q1", UsedEntries: 1}))

	select {
	case s := <-ch:
		assert.Equal(t, "Q1", s.QRCode)
	case <-time.After(time.Second):
		t.Fatal("snapshot not delivered")
	}
	assert.Len(t, other, 0, "other events are not notified")

	cancel()
	assert.Eventually(t, func() bool { return e.GetEventClientCount("event-a") == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
}

func TestCheckinEventEmitter_SlowSubscriberDoesNotBlock(t *testing.T) {
	e := NewCheckinEventEmitter()
	e.SubscribeToEvent(context.Background(), "event-a")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			_ = e.Broadcast(context.Background(), models.GuestSnapshot{EventID: "event-a"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
}
