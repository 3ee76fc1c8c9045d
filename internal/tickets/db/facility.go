package db

import (
	"context"
	"fmt"

	"ms-checkin/internal/models"

	"github.com/uptrace/bun"
)

// GetFacilities returns the facilities of a guest in insertion order.
func (d *DB) GetFacilities(ctx context.Context, guestKey string) ([]models.Facility, error) {
	var facilities []models.Facility
	err := d.Bun.NewSelect().
		Model(&facilities).
		Where("guest_key = ?", guestKey).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return facilities, nil
}

// UpsertFacilityQuota inserts a facility or merges it into the existing row.
// used_scans never decreases and never exceeds available_scans.
func (d *DB) UpsertFacilityQuota(ctx context.Context, guestKey, facilityID, name string, available, used int) error {
	return d.upsertFacility(ctx, d.Bun, guestKey, models.Facility{
		FacilityID:     facilityID,
		Name:           name,
		AvailableScans: available,
		UsedScans:      used,
	})
}

func (d *DB) upsertFacility(ctx context.Context, idb bun.IDB, guestKey string, f models.Facility) error {
	if f.FacilityID == "" {
		return fmt.Errorf("facility without id for guest %s", guestKey)
	}
	if f.AvailableScans < 0 {
		f.AvailableScans = 0
	}
	if f.UsedScans < 0 {
		f.UsedScans = 0
	}
	if f.UsedScans > f.AvailableScans {
		f.UsedScans = f.AvailableScans
	}

	row := models.Facility{
		GuestKey:       guestKey,
		FacilityID:     f.FacilityID,
		Name:           f.Name,
		AvailableScans: f.AvailableScans,
		UsedScans:      f.UsedScans,
		Synced:         true,
		LastModified:   d.now(),
	}
	_, err := idb.NewInsert().
		Model(&row).
		On("CONFLICT (guest_key, facility_id) DO UPDATE").
		Set("name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE name END").
		Set("available_scans = MAX(EXCLUDED.available_scans, used_scans)").
		Set("used_scans = MIN(MAX(EXCLUDED.available_scans, used_scans), MAX(used_scans, EXCLUDED.used_scans))").
		Set("last_modified = EXCLUDED.last_modified").
		Exec(ctx)
	return err
}

// IncrementFacilityUsage applies only when used_scans + incrementBy fits in
// available_scans. Zero rows affected signals exhaustion.
func (d *DB) IncrementFacilityUsage(ctx context.Context, guestKey, facilityID string, incrementBy int, synced bool) (int64, error) {
	return d.incrementFacilityUsage(ctx, d.Bun, guestKey, facilityID, incrementBy, synced)
}

func (d *DB) incrementFacilityUsage(ctx context.Context, idb bun.IDB, guestKey, facilityID string, incrementBy int, synced bool) (int64, error) {
	if incrementBy <= 0 {
		return 0, fmt.Errorf("increment must be positive, got %d", incrementBy)
	}
	res, err := idb.NewUpdate().
		Model((*models.Facility)(nil)).
		Set("used_scans = used_scans + ?", incrementBy).
		Set("synced = ?", synced).
		Set("last_modified = ?", d.now()).
		Where("guest_key = ?", guestKey).
		Where("facility_id = ?", facilityID).
		Where("used_scans + ? <= available_scans", incrementBy).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// HasFacilityQuota reports whether one more scan of the facility fits.
func (d *DB) HasFacilityQuota(ctx context.Context, guestKey, facilityID string, incrementBy int) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Facility)(nil)).
		Where("guest_key = ?", guestKey).
		Where("facility_id = ?", facilityID).
		Where("used_scans + ? <= available_scans", incrementBy).
		Exists(ctx)
}

// MirrorFacilityUsage records a facility use the backend already accepted,
// clamped at available_scans.
func (d *DB) MirrorFacilityUsage(ctx context.Context, guestKey, facilityID string, incrementBy int) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Facility)(nil)).
		Set("used_scans = MIN(available_scans, used_scans + ?)", incrementBy).
		Set("synced = ?", true).
		Set("last_modified = ?", d.now()).
		Where("guest_key = ?", guestKey).
		Where("facility_id = ?", facilityID).
		Exec(ctx)
	return err
}
