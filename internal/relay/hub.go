package relay

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// peerConn serializes writes to one client. Replies and broadcasts share the
// connection.
type peerConn struct {
	id  string
	mu  sync.Mutex
	w   io.Writer
	set func(time.Time) error
}

func (p *peerConn) writeLine(b []byte, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.set != nil && timeout > 0 {
		_ = p.set(time.Now().Add(timeout))
	}
	_, err := p.w.Write(b)
	return err
}

// Hub keeps the connected clients of a host and pushes guest updates to them.
type Hub struct {
	mu           sync.RWMutex
	peers        map[string]*peerConn
	writeTimeout time.Duration
	logger       *logger.Logger
}

func NewHub(writeTimeout time.Duration, log *logger.Logger) *Hub {
	return &Hub{
		peers:        make(map[string]*peerConn),
		writeTimeout: writeTimeout,
		logger:       log,
	}
}

func (h *Hub) add(p *peerConn) {
	h.mu.Lock()
	h.peers[p.id] = p
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.peers, id)
	h.mu.Unlock()
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Broadcast sends an update line to every client. A client that cannot be
// written to is skipped; its read loop will notice the broken connection.
func (h *Hub) Broadcast(ctx context.Context, snapshot models.GuestSnapshot) error {
	line, err := UpdateReply(snapshot).Encode()
	if err != nil {
		return err
	}

	h.mu.RLock()
	peers := make([]*peerConn, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	failed := 0
	for _, p := range peers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.writeLine(line, h.writeTimeout); err != nil {
			failed++
			h.logger.Warn("RELAY", fmt.Sprintf("Broadcast to %s failed: %v", p.id, err))
		}
	}
	if failed > 0 {
		return fmt.Errorf("broadcast failed for %d of %d peers", failed, len(peers))
	}
	return nil
}
