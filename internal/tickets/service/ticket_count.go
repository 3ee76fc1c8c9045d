package tickets

import (
	"context"
	"fmt"
)

// TicketCount is the admission progress of one event on this device.
type TicketCount struct {
	EventID   string `json:"event_id"`
	Total     int    `json:"total"`
	CheckedIn int    `json:"checked_in"`
	Unsynced  int    `json:"unsynced"`
}

// GetTicketCounts returns the stored and admitted ticket counts for an event
func (s *TicketService) GetTicketCounts(ctx context.Context, eventID string) (*TicketCount, error) {
	total, err := s.DB.CountTickets(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	checkedIn, err := s.DB.CountCheckedIn(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count checked-in tickets: %w", err)
	}
	unsynced, err := s.DB.CountUnsynced(ctx)
	if err != nil {
		return nil, fmt.Errorf("count queued check-ins: %w", err)
	}
	return &TicketCount{EventID: eventID, Total: total, CheckedIn: checkedIn, Unsynced: unsynced}, nil
}
