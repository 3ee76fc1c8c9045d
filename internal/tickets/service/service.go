package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"
)

// TicketDBLayer is the part of the local store the ticket service uses.
type TicketDBLayer interface {
	ImportTickets(ctx context.Context, eventID string, tickets []models.Ticket) (int, error)
	CountTickets(ctx context.Context, eventID string) (int, error)
	CountCheckedIn(ctx context.Context, eventID string) (int, error)
	CountUnsynced(ctx context.Context) (int, error)
	ListUnsyncedCheckins(ctx context.Context) ([]models.CheckinQueueEntry, error)
}

// OfflineSource downloads the guest list of an event for offline use.
type OfflineSource interface {
	DownloadOfflineData(ctx context.Context, eventID string) ([]models.Ticket, error)
}

// SyncState reports on the reconciler. *reconcile.Reconciler implements it.
type SyncState interface {
	Running() bool
	LastSuccess() time.Time
}

// Connectivity reports whether the backend answered the last probe.
// *reconcile.Watcher implements it.
type Connectivity interface {
	Online() bool
}

type TicketService struct {
	DB     TicketDBLayer
	Remote OfflineSource
	Sync   SyncState
	Link   Connectivity
	Logger *logger.Logger
}

func NewTicketService(db TicketDBLayer, remote OfflineSource, log *logger.Logger) *TicketService {
	return &TicketService{DB: db, Remote: remote, Logger: log}
}

// DownloadOfflineData fetches the event's guest list and merges it into the
// local store. Usage counters already recorded locally are never lowered.
func (s *TicketService) DownloadOfflineData(ctx context.Context, eventID string) (int, error) {
	if eventID == "" {
		return 0, errors.New("event id is required")
	}
	if s.Remote == nil {
		return 0, errors.New("no backend configured")
	}

	tickets, err := s.Remote.DownloadOfflineData(ctx, eventID)
	if err != nil {
		s.Logger.Error("DOWNLOAD", fmt.Sprintf("Offline download for event %s failed: %v", eventID, err))
		return 0, fmt.Errorf("download offline data: %w", err)
	}

	n, err := s.DB.ImportTickets(ctx, eventID, tickets)
	if err != nil {
		s.Logger.Error("DOWNLOAD", fmt.Sprintf("Import for event %s failed: %v", eventID, err))
		return 0, fmt.Errorf("import offline data: %w", err)
	}

	s.Logger.LogDatabase("IMPORT", "tickets", fmt.Sprintf("%d tickets for event %s", n, eventID))
	return n, nil
}

// QueueStatus summarizes check-ins waiting for the backend.
type QueueStatus struct {
	Pending  int                        `json:"pending"`
	Entries  []models.CheckinQueueEntry `json:"entries"`
	Syncing  bool                       `json:"syncing"`
	Online   bool                       `json:"online"`
	LastSync *time.Time                 `json:"last_sync,omitempty"`
}

func (s *TicketService) GetQueueStatus(ctx context.Context) (*QueueStatus, error) {
	entries, err := s.DB.ListUnsyncedCheckins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queued check-ins: %w", err)
	}
	if entries == nil {
		entries = []models.CheckinQueueEntry{}
	}
	status := &QueueStatus{Pending: len(entries), Entries: entries}
	if s.Sync != nil {
		status.Syncing = s.Sync.Running()
		if last := s.Sync.LastSuccess(); !last.IsZero() {
			status.LastSync = &last
		}
	}
	if s.Link != nil {
		status.Online = s.Link.Online()
	}
	return status, nil
}
