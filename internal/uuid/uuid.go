// Package uuid wraps UUID generation so callers don't depend on the
// underlying library directly.
package uuid

import "github.com/google/uuid"

// New returns a new random UUID string.
func New() string {
	return uuid.NewString()
}
