package models

import "time"

// OperatorToken is what the host learns from the organizer bearer token.
type OperatorToken struct {
	OperatorID string
	ExpiresAt  time.Time
}

// Expired reports whether the token is past its expiry. Tokens without an
// exp claim never expire.
func (t OperatorToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
