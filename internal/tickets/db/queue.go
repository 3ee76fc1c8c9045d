package db

import (
	"context"
	"errors"

	"ms-checkin/internal/models"

	"github.com/uptrace/bun"
)

// ErrQuotaExhausted is returned when a conditional increment matched no row.
var ErrQuotaExhausted = errors.New("quota exhausted")

// CommitOffline applies a check-in locally with synced=false and enqueues it
// for the reconciler, in one transaction. facilityID empty means the main
// ticket. entries are the queue rows to write when the increment applies.
func (d *DB) CommitOffline(ctx context.Context, key models.TicketKey, facilityID string, quantity int, entries []models.CheckinQueueEntry) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var (
			affected int64
			err      error
		)
		if facilityID == "" {
			affected, err = d.incrementTicketUsage(ctx, tx, key, quantity, false)
		} else {
			affected, err = d.incrementFacilityUsage(ctx, tx, key.GuestKey(), facilityID, quantity, false)
			if err == nil && affected > 0 {
				_, err = tx.NewUpdate().
					Model((*models.Ticket)(nil)).
					Set("synced = ?", false).
					Where("event_id = ?", key.EventID).
					Where("qr_code = ?", key.QRCode).
					Exec(ctx)
			}
		}
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrQuotaExhausted
		}
		return d.enqueue(ctx, tx, entries)
	})
}

func (d *DB) enqueue(ctx context.Context, idb bun.IDB, entries []models.CheckinQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]models.CheckinQueueEntry, len(entries))
	for i, e := range entries {
		e.ID = 0
		if e.ScannedAt.IsZero() {
			e.ScannedAt = d.now()
		}
		rows[i] = e
	}
	_, err := idb.NewInsert().Model(&rows).Exec(ctx)
	return err
}

// ListUnsyncedCheckins returns the queue in insertion order.
func (d *DB) ListUnsyncedCheckins(ctx context.Context) ([]models.CheckinQueueEntry, error) {
	var entries []models.CheckinQueueEntry
	err := d.Bun.NewSelect().
		Model(&entries).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CountUnsynced returns the number of queued check-ins.
func (d *DB) CountUnsynced(ctx context.Context) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.CheckinQueueEntry)(nil)).
		Count(ctx)
}

// MarkSynced sets synced=true on the tickets and facilities of the given
// codes. Rows that still have queued check-ins stay unsynced, so a commit
// that landed after the batch was read is not hidden.
func (d *DB) MarkSynced(ctx context.Context, qrCodes []string) error {
	return d.markSynced(ctx, d.Bun, qrCodes)
}

func (d *DB) markSynced(ctx context.Context, idb bun.IDB, qrCodes []string) error {
	if len(qrCodes) == 0 {
		return nil
	}
	_, err := idb.NewRaw(`UPDATE tickets SET synced = 1
		WHERE qr_code IN (?)
		AND NOT EXISTS (
			SELECT 1 FROM checkin_queue q
			WHERE q.event_id = tickets.event_id AND q.qr_code = tickets.qr_code
		)`, bun.In(qrCodes)).Exec(ctx)
	if err != nil {
		return err
	}

	_, err = idb.NewRaw(`UPDATE facility SET synced = 1
		WHERE guest_key IN (SELECT t.event_id || ':' || t.qr_code FROM tickets t WHERE t.qr_code IN (?))
		AND NOT EXISTS (
			SELECT 1 FROM checkin_queue q
			WHERE q.event_id || ':' || q.qr_code = facility.guest_key AND q.facility_id = facility.facility_id
		)`, bun.In(qrCodes)).Exec(ctx)
	return err
}

// AcknowledgeSynced removes a batch the backend accepted and marks its
// tickets synced, atomically.
func (d *DB) AcknowledgeSynced(ctx context.Context, entries []models.CheckinQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(entries))
	seen := make(map[string]bool)
	qrCodes := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
		if !seen[e.QRCode] {
			seen[e.QRCode] = true
			qrCodes = append(qrCodes, e.QRCode)
		}
	}

	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*models.CheckinQueueEntry)(nil)).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return err
		}
		return d.markSynced(ctx, tx, qrCodes)
	})
}
