package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ms-checkin/internal/logger"

	"github.com/google/uuid"
)

// ScanSession is the state of the scan currently on screen.
type ScanSession struct {
	ID        string
	Code      string
	EventID   string
	Mode      Mode
	Decision  *Decision
	Selection Target
	Quantity  int
	// Open is set while the selection sheet is shown.
	Open bool
	// Committing is set while a confirmed selection is being committed.
	// Further confirms of the session are rejected until it clears.
	Committing bool
}

// Station owns the scan lock of one scanning screen. It holds at most one
// session; every asynchronous result is checked against it before it is
// applied.
type Station struct {
	verifier  *Verifier
	committer *Committer
	eventID   string
	mode      Mode
	logger    *logger.Logger

	mu      sync.Mutex
	current *ScanSession
}

func NewStation(verifier *Verifier, committer *Committer, eventID string, mode Mode, log *logger.Logger) *Station {
	return &Station{
		verifier:  verifier,
		committer: committer,
		eventID:   eventID,
		mode:      mode,
		logger:    log,
	}
}

// ConnectPeer switches the station to client-relay mode through peer. It
// starts a new scanning session, so the high-water marks are cleared.
func (s *Station) ConnectPeer(peer Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifier = s.verifier.WithPeer(peer)
	s.committer = s.committer.WithPeer(peer)
	s.mode = ModeClientRelay
	s.current = nil
	s.committer.highWater.Reset()
}

// SetMode changes the mode for the next scan and drops the open session.
// Switching to another mode starts a new scanning session.
func (s *Station) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode != s.mode {
		s.committer.highWater.Reset()
	}
	s.mode = mode
	s.current = nil
}

func (s *Station) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Current returns a copy of the active session, nil when idle.
func (s *Station) Current() *ScanSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Scan handles one decoded code. A decode of the code already held returns
// ErrDuplicateScan and changes nothing. A different code abandons the held
// session. Single-entry tickets are committed immediately.
func (s *Station) Scan(ctx context.Context, code string) (*ScanSession, *CommitResult, error) {
	s.mu.Lock()
	if s.current != nil && s.current.Code == code {
		s.mu.Unlock()
		s.logger.LogScan("DUPLICATE", code, "ignored while held")
		return nil, nil, ErrDuplicateScan
	}
	if s.current != nil {
		s.logger.LogScan("ABANDON", s.current.Code, "superseded by a new scan")
	}
	session := &ScanSession{
		ID:       uuid.NewString(),
		Code:     code,
		EventID:  s.eventID,
		Mode:     s.mode,
		Quantity: 1,
	}
	s.current = session
	verifier, committer := s.verifier, s.committer
	s.mu.Unlock()

	decision, err := verifier.Verify(ctx, code, session.EventID, session.Mode)

	s.mu.Lock()
	if s.current == nil || s.current.ID != session.ID {
		s.mu.Unlock()
		return nil, nil, ErrStaleSession
	}
	session.Decision = decision
	if err != nil || decision.Kind != KindNeedsSelection {
		if decision != nil && decision.Kind == KindAutoCommit {
			s.mu.Unlock()
			// The lock is kept through the commit so a duplicate decode stays ignored.
			return s.autoCommit(ctx, committer, session)
		}
		s.current = nil
		cp := *session
		s.mu.Unlock()
		return &cp, nil, err
	}

	if target, ok := decision.DefaultTarget(); ok {
		session.Selection = target
	}
	session.Open = true
	cp := *session
	s.mu.Unlock()
	return &cp, nil, nil
}

func (s *Station) autoCommit(ctx context.Context, committer *Committer, session *ScanSession) (*ScanSession, *CommitResult, error) {
	result, err := committer.Commit(ctx, CommitRequest{
		EventID:  session.EventID,
		QRCode:   session.Code,
		Target:   MainTarget,
		Quantity: session.Decision.Quantity,
		Mode:     session.Mode,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.ID == session.ID {
		s.current = nil
	}
	cp := *session
	if err != nil {
		cp.Decision = reject(session.Decision.Ticket, err)
		return &cp, nil, err
	}
	return &cp, result, nil
}

// Confirm commits the operator's selection for the open session. On a
// commit-time QuotaExceeded the code is verified again and the session
// carries the fresh decision.
func (s *Station) Confirm(ctx context.Context, sessionID string, target Target, quantity int) (*CommitResult, error) {
	s.mu.Lock()
	session, err := s.activeLocked(sessionID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if session.Committing {
		s.mu.Unlock()
		s.logger.LogScan("DUPLICATE", session.Code, "confirm while a commit is in flight")
		return nil, ErrDuplicateScan
	}
	if err := session.Decision.Validate(target, quantity); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	session.Committing = true
	session.Selection = target
	session.Quantity = quantity
	req := CommitRequest{
		EventID:  session.EventID,
		QRCode:   session.Code,
		Target:   target,
		Quantity: quantity,
		Mode:     session.Mode,
	}
	verifier, committer := s.verifier, s.committer
	s.mu.Unlock()

	result, err := committer.Commit(ctx, req)
	if errors.Is(err, ErrQuotaExceeded) {
		s.reverify(ctx, verifier, sessionID, req)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.ID != sessionID {
		// The operator already moved on.
		return result, err
	}
	s.current.Committing = false
	if err != nil {
		return nil, err
	}
	if result.CloseSheet {
		s.current = nil
		return result, nil
	}
	next := Classify(result.Snapshot.Ticket())
	if next.Kind == KindReject {
		s.current = nil
		return result, nil
	}
	if next.Kind == KindAutoCommit {
		next.Kind = KindNeedsSelection
	}
	s.current.Decision = next
	if t, ok := next.DefaultTarget(); ok {
		s.current.Selection = t
	}
	s.current.Quantity = 1
	return result, nil
}

func (s *Station) reverify(ctx context.Context, verifier *Verifier, sessionID string, req CommitRequest) {
	decision, err := verifier.Verify(ctx, req.QRCode, req.EventID, req.Mode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.ID != sessionID {
		return
	}
	s.current.Committing = false
	if err != nil || decision.Kind == KindReject || decision.Kind == KindCommitted {
		s.logger.LogScan("REVERIFY", req.QRCode, fmt.Sprintf("closing sheet: %v", err))
		s.current = nil
		return
	}
	if decision.Kind == KindAutoCommit {
		decision.Kind = KindNeedsSelection
	}
	s.current.Decision = decision
	if t, ok := decision.DefaultTarget(); ok {
		s.current.Selection = t
	}
	s.current.Quantity = 1
}

// Dismiss closes the sheet of sessionID and frees the scan lock.
func (s *Station) Dismiss(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.activeLocked(sessionID); err != nil {
		return err
	}
	s.current = nil
	return nil
}

func (s *Station) activeLocked(sessionID string) (*ScanSession, error) {
	if s.current == nil || s.current.ID != sessionID {
		return nil, ErrStaleSession
	}
	if !s.current.Open || s.current.Decision == nil {
		return nil, fmt.Errorf("%w: session %s has no open sheet", ErrStaleSession, sessionID)
	}
	return s.current, nil
}
