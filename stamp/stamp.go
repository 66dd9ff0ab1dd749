// Package stamp defines the request-authentication abstraction for the
// custody service: a Stamp is one HTTP header that authenticates one request,
// and a Stamper is any backend able to produce such a header from a request
// payload.
package stamp

import (
	"context"
	"errors"
)

// Stamp is an authentication header attached to a single outgoing request.
// Stamps are produced per request and never persisted.
type Stamp struct {
	HeaderName  string
	HeaderValue string
}

// Stamper turns a request payload into a Stamp. Implementations must be
// substitutable behind this one method: callers never branch on backend type.
type Stamper interface {
	Stamp(ctx context.Context, payload string) (Stamp, error)
}

var (
	// ErrNotInitialized indicates a call-order violation: the backend was
	// asked to stamp before its initialization or credential injection
	// completed.
	ErrNotInitialized = errors.New("stamper not initialized")
	// ErrBackendUnavailable indicates the platform capability backing the
	// stamper is missing (no authenticator, no cloud storage, no HSM).
	ErrBackendUnavailable = errors.New("stamper backend unavailable")
	// ErrUserCancelled indicates the user dismissed an interactive prompt.
	ErrUserCancelled = errors.New("user cancelled stamping")
	// ErrMalformedPayload indicates the payload cannot be stamped.
	ErrMalformedPayload = errors.New("malformed payload")
)
