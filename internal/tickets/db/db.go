package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-checkin/internal/models"

	"github.com/uptrace/bun"
)

// DB is the device-local ticket store. Every quota mutation is a single
// conditional UPDATE so concurrent commits cannot pass the ceiling.
type DB struct {
	Bun *bun.DB

	// Now is overridable in tests.
	Now func() time.Time
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB, Now: time.Now}
}

func (d *DB) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

// FindTicketByQR looks a code up, preferring the row of eventID. When only a
// row of another event holds the code that row is returned, and the caller is
// expected to reject it. Returns nil when the code is unknown.
func (d *DB) FindTicketByQR(ctx context.Context, eventID, qrCode string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("qr_code = ?", qrCode).
		OrderExpr("CASE WHEN event_id = ? THEN 0 ELSE 1 END", eventID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	facilities, err := d.GetFacilities(ctx, ticket.Key().GuestKey())
	if err != nil {
		return nil, err
	}
	ticket.Facilities = facilities
	return &ticket, nil
}

// GetTicket returns the ticket stored under key, nil when absent.
func (d *DB) GetTicket(ctx context.Context, key models.TicketKey) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("event_id = ?", key.EventID).
		Where("qr_code = ?", key.QRCode).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	facilities, err := d.GetFacilities(ctx, key.GuestKey())
	if err != nil {
		return nil, err
	}
	ticket.Facilities = facilities
	return &ticket, nil
}

// UpdateTicketStatus adds incrementBy to used_entries, clamped at
// total_entries, and records status and the synced flag.
func (d *DB) UpdateTicketStatus(ctx context.Context, key models.TicketKey, status string, incrementBy int, synced bool) error {
	if incrementBy < 0 {
		return fmt.Errorf("negative increment %d", incrementBy)
	}
	_, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("used_entries = MIN(total_entries, used_entries + ?)", incrementBy).
		Set("status = CASE WHEN MIN(total_entries, used_entries + ?) > 0 THEN ? ELSE status END", incrementBy, status).
		Set("synced = ?", synced).
		Set("last_modified = ?", d.now()).
		Where("event_id = ?", key.EventID).
		Where("qr_code = ?", key.QRCode).
		Exec(ctx)
	return err
}

// IncrementTicketUsage is the conditional form used by commits: it only
// applies when the increment fits in the remaining quota. Zero rows affected
// means the quota is exhausted.
func (d *DB) IncrementTicketUsage(ctx context.Context, key models.TicketKey, incrementBy int, synced bool) (int64, error) {
	return d.incrementTicketUsage(ctx, d.Bun, key, incrementBy, synced)
}

func (d *DB) incrementTicketUsage(ctx context.Context, idb bun.IDB, key models.TicketKey, incrementBy int, synced bool) (int64, error) {
	if incrementBy <= 0 {
		return 0, fmt.Errorf("increment must be positive, got %d", incrementBy)
	}
	res, err := idb.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("used_entries = used_entries + ?", incrementBy).
		Set("status = ?", models.TicketStatusCheckedIn).
		Set("synced = ?", synced).
		Set("last_modified = ?", d.now()).
		Where("event_id = ?", key.EventID).
		Where("qr_code = ?", key.QRCode).
		Where("used_entries + ? <= total_entries", incrementBy).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HasTicketQuota reports whether incrementBy entries still fit. Only
// meaningful while the caller holds the per-ticket commit lock.
func (d *DB) HasTicketQuota(ctx context.Context, key models.TicketKey, incrementBy int) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", key.EventID).
		Where("qr_code = ?", key.QRCode).
		Where("used_entries + ? <= total_entries", incrementBy).
		Exists(ctx)
}

// MirrorTicket stores a ticket learned from the backend. Counters only move
// forward: used_entries keeps the larger of the stored and incoming values.
func (d *DB) MirrorTicket(ctx context.Context, ticket *models.Ticket) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := d.upsertTickets(ctx, tx, []models.Ticket{*ticket}); err != nil {
			return err
		}
		for _, f := range ticket.Facilities {
			if err := d.upsertFacility(ctx, tx, ticket.Key().GuestKey(), f); err != nil {
				return err
			}
		}
		return nil
	})
}

// ImportTickets bulk-loads the offline download for an event.
func (d *DB) ImportTickets(ctx context.Context, eventID string, tickets []models.Ticket) (int, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	for i := range tickets {
		if tickets[i].EventID == "" {
			tickets[i].EventID = eventID
		}
		if tickets[i].EventID != eventID {
			return 0, fmt.Errorf("ticket %s belongs to event %s, not %s", tickets[i].QRCode, tickets[i].EventID, eventID)
		}
	}

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := d.upsertTickets(ctx, tx, tickets); err != nil {
			return err
		}
		for _, t := range tickets {
			for _, f := range t.Facilities {
				if err := d.upsertFacility(ctx, tx, t.Key().GuestKey(), f); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(tickets), nil
}

func (d *DB) upsertTickets(ctx context.Context, idb bun.IDB, tickets []models.Ticket) error {
	now := d.now()
	rows := make([]models.Ticket, len(tickets))
	for i, t := range tickets {
		t.ID = 0
		if t.TotalEntries < 1 {
			t.TotalEntries = 1
		}
		if t.UsedEntries < 0 {
			t.UsedEntries = 0
		}
		if t.UsedEntries > t.TotalEntries {
			t.UsedEntries = t.TotalEntries
		}
		if t.UsedEntries > 0 {
			t.Status = models.TicketStatusCheckedIn
		} else {
			t.Status = models.TicketStatusPending
		}
		t.Synced = true
		t.LastModified = now
		rows[i] = t
	}

	// Unqualified columns in DO UPDATE refer to the existing row.
	_, err := idb.NewInsert().
		Model(&rows).
		On("CONFLICT (event_id, qr_code) DO UPDATE").
		Set("guest_id = EXCLUDED.guest_id").
		Set("guest_uuid = EXCLUDED.guest_uuid").
		Set("ticket_id = EXCLUDED.ticket_id").
		Set("guest_name = EXCLUDED.guest_name").
		Set("total_entries = MAX(EXCLUDED.total_entries, used_entries)").
		Set("used_entries = MAX(used_entries, EXCLUDED.used_entries)").
		Set("status = CASE WHEN MAX(used_entries, EXCLUDED.used_entries) > 0 THEN 'checked_in' ELSE status END").
		Set("last_modified = EXCLUDED.last_modified").
		Exec(ctx)
	return err
}

// CountTickets returns how many tickets of an event are stored.
func (d *DB) CountTickets(ctx context.Context, eventID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Count(ctx)
}

// CountCheckedIn returns how many tickets of an event have at least one entry used.
func (d *DB) CountCheckedIn(ctx context.Context, eventID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Where("event_id = ?", eventID).
		Where("used_entries > 0").
		Count(ctx)
}
