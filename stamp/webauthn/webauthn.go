// Package webauthn implements the platform-assertion stamper backend. The
// payload digest becomes the WebAuthn challenge, and the resulting assertion
// is serialized into the stamp header.
//
// The platform authenticator itself sits behind the Authenticator interface
// so the stamper logic is testable without a real platform prompt.
package webauthn

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/custodia-labs/custodia-go/stamp"
)

// Header is the header name carrying a WebAuthn stamp.
const Header = "X-Stamp-Webauthn"

const defaultTimeout = 5 * time.Minute

// Assertion holds the pieces of a platform assertion that make up the stamp
// header value. Fields serialize as base64url per the WebAuthn wire format.
type Assertion struct {
	AuthenticatorData protocol.URLEncodedBase64 `json:"authenticatorData"`
	ClientDataJSON    protocol.URLEncodedBase64 `json:"clientDataJson"`
	CredentialID      protocol.URLEncodedBase64 `json:"credentialId"`
	Signature         protocol.URLEncodedBase64 `json:"signature"`
}

// AssertionRequest is what the stamper asks of the platform authenticator.
type AssertionRequest struct {
	RelyingPartyID       string
	Challenge            []byte
	AllowedCredentialIDs [][]byte
	UserVerification     protocol.UserVerificationRequirement
	Timeout              time.Duration
}

// Authenticator is the platform capability that can produce assertions.
// Implementations must return stamp.ErrUserCancelled (possibly wrapped) when
// the user dismisses the prompt, so callers can tell cancellation apart from
// a missing authenticator.
type Authenticator interface {
	// Available reports whether a platform authenticator can be prompted.
	Available(ctx context.Context) bool
	// GetAssertion prompts for an assertion bound to the request's
	// challenge and relying party.
	GetAssertion(ctx context.Context, req AssertionRequest) (*Assertion, error)
}

// Config holds the WebAuthn stamper settings.
type Config struct {
	// RelyingPartyID is the RP id assertions are bound to. Required.
	RelyingPartyID string
	// Timeout bounds the platform prompt. Defaults to five minutes.
	Timeout time.Duration
	// AllowedCredentialIDs restricts which credentials may answer.
	// Empty means any resident credential for the RP.
	AllowedCredentialIDs [][]byte
	// UserVerification defaults to "preferred".
	UserVerification protocol.UserVerificationRequirement
}

// Stamper produces WebAuthn stamps via a platform authenticator.
type Stamper struct {
	cfg  Config
	auth Authenticator
}

var _ stamp.Stamper = (*Stamper)(nil)

// New validates the configuration and returns a WebAuthn stamper.
func New(auth Authenticator, cfg Config) (*Stamper, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator must not be nil")
	}
	if cfg.RelyingPartyID == "" {
		return nil, fmt.Errorf("relying party ID is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserVerification == "" {
		cfg.UserVerification = protocol.VerificationPreferred
	}
	return &Stamper{cfg: cfg, auth: auth}, nil
}

// Stamp derives a fixed-length challenge from the payload, requests a
// platform assertion bound to it, and serializes the assertion as the
// header value.
func (s *Stamper) Stamp(ctx context.Context, payload string) (stamp.Stamp, error) {
	if payload == "" {
		return stamp.Stamp{}, fmt.Errorf("%w: empty payload", stamp.ErrMalformedPayload)
	}
	if !s.auth.Available(ctx) {
		return stamp.Stamp{}, fmt.Errorf("%w: no platform authenticator", stamp.ErrBackendUnavailable)
	}

	digest := sha256.Sum256([]byte(payload))
	assertion, err := s.auth.GetAssertion(ctx, AssertionRequest{
		RelyingPartyID:       s.cfg.RelyingPartyID,
		Challenge:            digest[:],
		AllowedCredentialIDs: s.cfg.AllowedCredentialIDs,
		UserVerification:     s.cfg.UserVerification,
		Timeout:              s.cfg.Timeout,
	})
	if err != nil {
		return stamp.Stamp{}, fmt.Errorf("requesting assertion: %w", err)
	}
	if assertion == nil || len(assertion.Signature) == 0 {
		return stamp.Stamp{}, fmt.Errorf("authenticator returned an empty assertion")
	}

	body, err := json.Marshal(assertion)
	if err != nil {
		return stamp.Stamp{}, fmt.Errorf("marshaling assertion: %w", err)
	}
	return stamp.Stamp{
		HeaderName:  Header,
		HeaderValue: string(body),
	}, nil
}
