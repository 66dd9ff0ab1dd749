package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSession_ExpiresAt_Units(t *testing.T) {
	instant := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seconds := Session{Expiry: instant.Unix()}
	millis := Session{Expiry: instant.UnixMilli()}

	assert.True(t, seconds.ExpiresAt().Equal(instant))
	assert.True(t, millis.ExpiresAt().Equal(instant))
}

func TestSession_Expired(t *testing.T) {
	instant := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Session{Expiry: instant.Unix()}

	assert.False(t, s.Expired(instant.Add(-time.Second)))
	assert.True(t, s.Expired(instant))
	assert.True(t, s.Expired(instant.Add(time.Second)))
}
