package reconcile

import (
	"context"
	"sync"
	"time"

	"ms-checkin/internal/logger"
)

// Pinger checks backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Watcher probes the backend and signals every offline to online transition.
type Watcher struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *logger.Logger

	mu     sync.RWMutex
	online bool
	known  bool

	restored chan struct{}
}

func NewWatcher(pinger Pinger, interval time.Duration, log *logger.Logger) *Watcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := interval / 2
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Watcher{
		pinger:   pinger,
		interval: interval,
		timeout:  timeout,
		logger:   log,
		restored: make(chan struct{}, 1),
	}
}

// Restored delivers a value after each transition to online. Signals that
// arrive while one is pending are merged.
func (w *Watcher) Restored() <-chan struct{} {
	return w.restored
}

func (w *Watcher) Online() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.online
}

// Probe checks once and updates the state. The first successful probe also
// counts as a restoration so a queue left from a previous run is drained.
func (w *Watcher) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, w.timeout)
	err := w.pinger.Ping(pctx)
	cancel()
	online := err == nil

	w.mu.Lock()
	wasOnline, known := w.online, w.known
	w.online, w.known = online, true
	w.mu.Unlock()

	switch {
	case online && (!wasOnline || !known):
		w.logger.LogSync("ONLINE", "backend reachable")
		select {
		case w.restored <- struct{}{}:
		default:
		}
	case !online && (wasOnline || !known):
		w.logger.LogSync("OFFLINE", "backend unreachable: "+err.Error())
	}
	return online
}

// Run probes on every interval until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.Probe(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Probe(ctx)
		}
	}
}
