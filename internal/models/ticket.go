package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	TicketStatusPending   = "pending"
	TicketStatusCheckedIn = "checked_in"
)

// Ticket is one guest's admission record for an event, keyed by (event_id, qr_code).
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID           int64     `bun:"id,pk,autoincrement" json:"-"`
	EventID      string    `bun:"event_id,notnull" json:"event_id"`
	QRCode       string    `bun:"qr_code,notnull" json:"qr_code"`
	GuestID      string    `bun:"guest_id" json:"guest_id"`
	GuestUUID    string    `bun:"guest_uuid" json:"guest_uuid"`
	TicketID     string    `bun:"ticket_id" json:"ticket_id"`
	GuestName    string    `bun:"guest_name" json:"guest_name"`
	TotalEntries int       `bun:"total_entries,notnull" json:"total_entries"`
	UsedEntries  int       `bun:"used_entries,notnull" json:"used_entries"`
	Status       string    `bun:"status,notnull" json:"status"`
	Synced       bool      `bun:"synced,notnull" json:"synced"`
	LastModified time.Time `bun:"last_modified,notnull" json:"last_modified"`

	Facilities []Facility `bun:"-" json:"facilities"`
}

// Key returns the store key of the ticket.
func (t *Ticket) Key() TicketKey {
	return TicketKey{EventID: t.EventID, QRCode: t.QRCode}
}

// Remaining is the number of main entries still available.
func (t *Ticket) Remaining() int {
	if t.UsedEntries >= t.TotalEntries {
		return 0
	}
	return t.TotalEntries - t.UsedEntries
}

// TicketKey identifies a ticket row in the local store.
type TicketKey struct {
	EventID string
	QRCode  string
}

// GuestKey is the weak reference facility rows use to point at their ticket.
func (k TicketKey) GuestKey() string {
	return k.EventID + ":" + k.QRCode
}

func (k TicketKey) String() string {
	return k.GuestKey()
}
