//go:build !pkcs11

// Package hsm implements an API-key stamper whose ECDSA P-256 key is held in
// a PKCS#11 token. This is the placeholder build without CGo; rebuild with
// -tags pkcs11 for real HSM support.
package hsm

import (
	"context"
	"fmt"

	"github.com/custodia-labs/custodia-go/stamp"
)

// DefaultKeyLabel is the PKCS#11 label used when Config.KeyLabel is empty.
// Available regardless of build tag for reference by other packages.
const DefaultKeyLabel = "custodia-api-key"

// Config holds the configuration for connecting to a PKCS#11 token.
// This is a placeholder when the pkcs11 build tag is not set.
type Config struct {
	ModulePath string
	TokenLabel string
	PIN        string
	SlotNumber *int
	KeyLabel   string
}

// Stamper is a placeholder type when the pkcs11 build tag is not set.
// It implements stamp.Stamper so callers compile without CGo, but all
// methods return errors directing the user to rebuild with -tags pkcs11.
type Stamper struct{}

var _ stamp.Stamper = (*Stamper)(nil)

// New returns an error when compiled without the pkcs11 build tag.
// Rebuild with: go build -tags pkcs11
func New(_ Config) (*Stamper, error) {
	return nil, fmt.Errorf("%w: PKCS#11 support not compiled; rebuild with: go build -tags pkcs11", stamp.ErrBackendUnavailable)
}

func (s *Stamper) PublicKeyHex() string { return "" }

func (s *Stamper) Stamp(_ context.Context, _ string) (stamp.Stamp, error) {
	return stamp.Stamp{}, fmt.Errorf("%w: PKCS#11 support not compiled; rebuild with: go build -tags pkcs11", stamp.ErrBackendUnavailable)
}

// Close is a no-op for the stub.
func (s *Stamper) Close() error { return nil }
