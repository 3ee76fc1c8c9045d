package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Facility is an add-on benefit quota attached to a guest's ticket.
type Facility struct {
	bun.BaseModel `bun:"table:facility"`

	ID             int64     `bun:"id,pk,autoincrement" json:"-"`
	GuestKey       string    `bun:"guest_key,notnull" json:"-"`
	FacilityID     string    `bun:"facility_id,notnull" json:"facility_id"`
	Name           string    `bun:"name" json:"name"`
	AvailableScans int       `bun:"available_scans,notnull" json:"available_scans"`
	UsedScans      int       `bun:"used_scans,notnull" json:"used_scans"`
	Synced         bool      `bun:"synced,notnull" json:"-"`
	LastModified   time.Time `bun:"last_modified,notnull" json:"-"`
}

// HasRemaining reports whether the facility can still be redeemed.
func (f Facility) HasRemaining() bool {
	return f.UsedScans < f.AvailableScans
}
