// Package session models authenticated sessions with the custody service
// and schedules their expiry. Expiry instants can lie far in the future, so
// scheduling chains bounded waits toward a fixed target timestamp instead of
// trusting one long timer.
package session

import "time"

// expiryMillisThreshold separates epoch seconds from epoch milliseconds:
// values below it are seconds. The hosted API uses both units.
const expiryMillisThreshold = 1_000_000_000_000

// Session is one authenticated session. Refresh operations extend Expiry;
// logout or a fired expiry timer destroys the session.
type Session struct {
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId"`

	// Expiry is an epoch timestamp in seconds or milliseconds.
	Expiry int64 `json:"expiry"`

	Token string `json:"token,omitempty"`
}

// ExpiresAt resolves Expiry to an instant, accepting both epoch units.
func (s Session) ExpiresAt() time.Time {
	if s.Expiry < expiryMillisThreshold {
		return time.Unix(s.Expiry, 0)
	}
	return time.UnixMilli(s.Expiry)
}

// Expired reports whether the session has expired as of now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}
