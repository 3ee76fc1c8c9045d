package checkin_test

import (
	"testing"

	"ms-checkin/internal/checkin"
	"ms-checkin/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Run("single entry auto-commits", func(t *testing.T) {
		ticket := ticketT1()
		d := checkin.Classify(&ticket)
		assert.Equal(t, checkin.KindAutoCommit, d.Kind)
		assert.Equal(t, 1, d.Quantity)
	})

	t.Run("multi entry opens the stepper bounded by remaining", func(t *testing.T) {
		ticket := ticketT2()
		d := checkin.Classify(&ticket)
		assert.Equal(t, checkin.KindNeedsSelection, d.Kind)
		assert.Equal(t, 2, d.MaxQuantity)
		target, ok := d.DefaultTarget()
		require.True(t, ok)
		assert.True(t, target.IsMain())
	})

	t.Run("exhausted main leaves only the facility", func(t *testing.T) {
		ticket := ticketT3()
		d := checkin.Classify(&ticket)
		assert.Equal(t, checkin.KindNeedsSelection, d.Kind)
		assert.Equal(t, 0, d.MaxQuantity)

		main, ok := d.Option(checkin.MainTarget)
		require.True(t, ok)
		assert.False(t, main.Enabled)

		vip, ok := d.Option(checkin.FacilityTarget("vip"))
		require.True(t, ok)
		assert.True(t, vip.Enabled)
		assert.Equal(t, "VIP", vip.Label)

		target, _ := d.DefaultTarget()
		assert.Equal(t, checkin.FacilityTarget("vip"), target)
	})

	t.Run("facilities stay locked until the first admission", func(t *testing.T) {
		ticket := models.Ticket{
			EventID: eventA, QRCode: "F", TotalEntries: 1,
			Facilities: []models.Facility{{FacilityID: "vip", Name: "VIP", AvailableScans: 1}},
		}
		d := checkin.Classify(&ticket)
		assert.Equal(t, checkin.KindNeedsSelection, d.Kind, "facilities prevent auto-commit")
		vip, _ := d.Option(checkin.FacilityTarget("vip"))
		assert.False(t, vip.Enabled)
		assert.ErrorIs(t, d.Validate(checkin.FacilityTarget("vip"), 1), checkin.ErrFacilityLocked)
	})

	t.Run("main exhausted without facilities", func(t *testing.T) {
		ticket := models.Ticket{EventID: eventA, QRCode: "X", TotalEntries: 2, UsedEntries: 2}
		d := checkin.Classify(&ticket)
		assert.Equal(t, checkin.KindReject, d.Kind)
		assert.ErrorIs(t, d.Reason, checkin.ErrAlreadyScanned)
	})

	t.Run("main and facilities exhausted", func(t *testing.T) {
		ticket := ticketT3()
		ticket.Facilities[0].UsedScans = 1
		d := checkin.Classify(&ticket)
		assert.Equal(t, checkin.KindReject, d.Kind)
		assert.ErrorIs(t, d.Reason, checkin.ErrAlreadyFullyRedeemed)
	})
}

func TestDecisionValidate(t *testing.T) {
	ticket := ticketT2()
	d := checkin.Classify(&ticket)

	assert.NoError(t, d.Validate(checkin.MainTarget, 2))
	assert.ErrorIs(t, d.Validate(checkin.MainTarget, 3), checkin.ErrQuotaExceeded)
	assert.ErrorIs(t, d.Validate(checkin.MainTarget, 0), checkin.ErrInvalidQuantity)
	assert.ErrorIs(t, d.Validate(checkin.FacilityTarget("nope"), 1), checkin.ErrInvalidQR)
}

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, err := range []error{
		checkin.ErrInvalidQR, checkin.ErrCrossEventMismatch, checkin.ErrAlreadyFullyRedeemed,
		checkin.ErrAlreadyScanned, checkin.ErrQuotaExceeded, checkin.ErrDuplicateScan, checkin.ErrFacilityLocked,
	} {
		back := checkin.ErrorFromCode(checkin.ErrorCode(err), "from host")
		assert.ErrorIs(t, back, err)
		assert.NotEqual(t, "Something went wrong", checkin.StatusMessage(err))
	}
	assert.ErrorIs(t, checkin.ErrorFromCode("mystery", ""), checkin.ErrHostRejected)
	assert.Equal(t, "Check-in successful", checkin.StatusMessage(nil))
}
