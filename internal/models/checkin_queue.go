package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CheckinQueueEntry is one check-in performed while the backend was unreachable.
// A main-entry commit of quantity N produces N entries.
type CheckinQueueEntry struct {
	bun.BaseModel `bun:"table:checkin_queue"`

	ID         int64     `bun:"id,pk,autoincrement" json:"-"`
	EventID    string    `bun:"event_id,notnull" json:"event_id"`
	GuestID    string    `bun:"guest_id" json:"guest_id"`
	TicketID   string    `bun:"ticket_id" json:"ticket_id"`
	QRCode     string    `bun:"qr_code,notnull" json:"qr_code"`
	FacilityID string    `bun:"facility_id" json:"guest_facility_id,omitempty"`
	ScannedAt  time.Time `bun:"scanned_at,notnull" json:"scanned_at"`
}
