package checkin

import (
	"context"
	"sync"
	"time"
)

// KeyedMutex serializes work per key. Entries are dropped once nobody holds
// or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// ScanLocker guards a code while one request for it is being processed. The
// owner token makes release safe against a lock that expired and was taken by
// someone else.
type ScanLocker interface {
	Acquire(ctx context.Context, eventID, qrCode, owner string) (bool, error)
	Release(ctx context.Context, eventID, qrCode, owner string) error
}

// MemoryScanLocker is the single-process ScanLocker.
type MemoryScanLocker struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	locks map[string]memoryLock
}

type memoryLock struct {
	owner   string
	expires time.Time
}

func NewMemoryScanLocker(ttl time.Duration) *MemoryScanLocker {
	return &MemoryScanLocker{ttl: ttl, now: time.Now, locks: make(map[string]memoryLock)}
}

func scanLockKey(eventID, qrCode string) string {
	return "scan_lock:" + eventID + ":" + qrCode
}

func (m *MemoryScanLocker) Acquire(ctx context.Context, eventID, qrCode, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scanLockKey(eventID, qrCode)
	now := m.now()
	if l, ok := m.locks[key]; ok && (m.ttl <= 0 || now.Before(l.expires)) {
		return false, nil
	}
	m.locks[key] = memoryLock{owner: owner, expires: now.Add(m.ttl)}
	return true, nil
}

func (m *MemoryScanLocker) Release(ctx context.Context, eventID, qrCode, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scanLockKey(eventID, qrCode)
	if l, ok := m.locks[key]; ok && l.owner == owner {
		delete(m.locks, key)
	}
	return nil
}
