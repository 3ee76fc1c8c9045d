package sse

import (
	"context"
	"sync"

	"ms-checkin/internal/models"
)

// CheckinEventEmitter fans guest snapshots out to SSE subscribers of an event
type CheckinEventEmitter struct {
	// key: eventID, value: subscriber channels
	eventClients     map[string][]chan models.GuestSnapshot
	eventClientMutex sync.RWMutex
}

// NewCheckinEventEmitter creates a new SSE event emitter for check-in updates
func NewCheckinEventEmitter() *CheckinEventEmitter {
	return &CheckinEventEmitter{
		eventClients: make(map[string][]chan models.GuestSnapshot),
	}
}

// SubscribeToEvent adds a client to the event's check-in updates. The channel
// is closed once ctx is done.
func (e *CheckinEventEmitter) SubscribeToEvent(ctx context.Context, eventID string) chan models.GuestSnapshot {
	clientChan := make(chan models.GuestSnapshot, 10)

	e.eventClientMutex.Lock()
	e.eventClients[eventID] = append(e.eventClients[eventID], clientChan)
	e.eventClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeEventClient(eventID, clientChan)
	}()

	return clientChan
}

// Broadcast sends a snapshot to every subscriber of its event
func (e *CheckinEventEmitter) Broadcast(ctx context.Context, snapshot models.GuestSnapshot) error {
	e.eventClientMutex.RLock()
	defer e.eventClientMutex.RUnlock()

	for _, clientChan := range e.eventClients[snapshot.EventID] {
		// Non-blocking send so a slow dashboard never delays a commit
		select {
		case clientChan <- snapshot:
		default:
		}
	}
	return nil
}

func (e *CheckinEventEmitter) removeEventClient(eventID string, clientChan chan models.GuestSnapshot) {
	e.eventClientMutex.Lock()
	defer e.eventClientMutex.Unlock()

	clients := e.eventClients[eventID]
	for i, ch := range clients {
		if ch == clientChan {
			e.eventClients[eventID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}

	if len(e.eventClients[eventID]) == 0 {
		delete(e.eventClients, eventID)
	}
}

// GetEventClientCount returns the number of clients currently subscribed to an event
func (e *CheckinEventEmitter) GetEventClientCount(eventID string) int {
	e.eventClientMutex.RLock()
	defer e.eventClientMutex.RUnlock()
	return len(e.eventClients[eventID])
}
