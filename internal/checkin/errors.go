package checkin

import (
	"context"
	"errors"
	"fmt"

	"ms-checkin/internal/remote"
)

var (
	ErrInvalidQR            = errors.New("invalid qr code")
	ErrCrossEventMismatch   = errors.New("ticket belongs to a different event")
	ErrAlreadyFullyRedeemed = errors.New("ticket and all facilities already redeemed")
	ErrAlreadyScanned       = errors.New("ticket already scanned")
	ErrQuotaExceeded        = errors.New("requested quantity exceeds remaining quota")
	ErrNetworkFailure       = errors.New("network failure")
	ErrPermissionDenied     = errors.New("permission denied")

	ErrDuplicateScan   = errors.New("scan of this code already in progress")
	ErrStaleSession    = errors.New("scan session no longer active")
	ErrFacilityLocked  = errors.New("facility requires a prior main check-in")
	ErrHostRejected    = errors.New("host rejected the scan")
	ErrRemoteRejected  = errors.New("backend rejected the request")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// codes is the wire name of each error on the relay protocol.
var codes = []struct {
	code string
	err  error
}{
	{"invalid_qr", ErrInvalidQR},
	{"cross_event_mismatch", ErrCrossEventMismatch},
	{"already_fully_redeemed", ErrAlreadyFullyRedeemed},
	{"already_scanned", ErrAlreadyScanned},
	{"quota_exceeded", ErrQuotaExceeded},
	{"network_failure", ErrNetworkFailure},
	{"permission_denied", ErrPermissionDenied},
	{"duplicate_scan", ErrDuplicateScan},
	{"stale_session", ErrStaleSession},
	{"facility_locked", ErrFacilityLocked},
	{"remote_rejected", ErrRemoteRejected},
	{"invalid_quantity", ErrInvalidQuantity},
}

// ErrorCode returns the relay wire code of err, "error" when it is not one of
// the check-in errors.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "error"
}

// ErrorFromCode rebuilds an error received from a host. Unknown codes become
// ErrHostRejected.
func ErrorFromCode(code, message string) error {
	for _, c := range codes {
		if c.code == code {
			if message == "" {
				return c.err
			}
			return fmt.Errorf("%w: %s", c.err, message)
		}
	}
	if message == "" {
		return ErrHostRejected
	}
	return fmt.Errorf("%w: %s", ErrHostRejected, message)
}

// StatusMessage is the short text shown to the operator for an outcome.
// A nil error is a successful check-in.
func StatusMessage(err error) string {
	switch {
	case err == nil:
		return "Check-in successful"
	case errors.Is(err, ErrInvalidQR):
		return "Invalid QR code"
	case errors.Is(err, ErrCrossEventMismatch):
		return "This ticket is for a different event"
	case errors.Is(err, ErrAlreadyFullyRedeemed):
		return "All entries and facilities already used"
	case errors.Is(err, ErrAlreadyScanned):
		return "Ticket already scanned"
	case errors.Is(err, ErrQuotaExceeded):
		return "Not enough entries remaining"
	case errors.Is(err, ErrNetworkFailure):
		return "Network error, please retry"
	case errors.Is(err, ErrPermissionDenied):
		return "Permission denied"
	case errors.Is(err, ErrDuplicateScan):
		return "Scan already in progress"
	case errors.Is(err, ErrStaleSession):
		return "Scan was cancelled"
	case errors.Is(err, ErrFacilityLocked):
		return "Check in the main ticket first"
	case errors.Is(err, ErrInvalidQuantity):
		return "Invalid quantity"
	case errors.Is(err, ErrHostRejected), errors.Is(err, ErrRemoteRejected):
		return "Check-in rejected"
	default:
		return "Something went wrong"
	}
}

// fromRemote maps a remote client error onto the check-in taxonomy. Transport
// failures never turn into an admission.
func fromRemote(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return err
	case remote.IsNetworkError(err):
		return fmt.Errorf("%w: %s: %v", ErrNetworkFailure, op, err)
	case errors.Is(err, remote.ErrNotVerified):
		return fmt.Errorf("%w: %v", ErrInvalidQR, err)
	case remote.IsUnauthorized(err):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrRemoteRejected, op, err)
	}
}
