//go:build pkcs11

// Package hsm implements an API-key stamper whose ECDSA P-256 key is held in
// a PKCS#11 token. The private key never leaves the HSM; stamps carry the same
// X-Stamp header as the in-memory API-key backend.
package hsm

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"

	"github.com/custodia-labs/custodia-go/internal/util"
	"github.com/custodia-labs/custodia-go/stamp"
)

// DefaultKeyLabel is the PKCS#11 label used when Config.KeyLabel is empty.
const DefaultKeyLabel = "custodia-api-key"

// Config holds the configuration for connecting to a PKCS#11 token.
type Config struct {
	// ModulePath is the path to the PKCS#11 shared library
	// (e.g., /usr/lib/softhsm/libsofthsm2.so).
	ModulePath string

	// TokenLabel identifies the HSM token/slot by label.
	TokenLabel string

	// PIN is the user PIN for the token.
	PIN string

	// SlotNumber optionally specifies a slot number. When non-nil,
	// it overrides TokenLabel for slot selection.
	SlotNumber *int

	// KeyLabel is the PKCS#11 label of the stamping key. A key pair with
	// this label is generated on first use.
	KeyLabel string
}

// Stamper signs payloads with an ECDSA P-256 key resident in a PKCS#11 HSM.
type Stamper struct {
	ctx          *crypto11.Context
	signer       crypto11.Signer
	publicKeyHex string
	mu           sync.Mutex
}

var _ stamp.Stamper = (*Stamper)(nil)

// New connects to the configured token and resolves the stamping key pair,
// generating one under Config.KeyLabel when none exists. The caller must call
// Close when finished.
func New(cfg Config) (*Stamper, error) {
	config := &crypto11.Config{
		Path:       cfg.ModulePath,
		TokenLabel: cfg.TokenLabel,
		Pin:        cfg.PIN,
	}
	if cfg.SlotNumber != nil {
		config.SlotNumber = cfg.SlotNumber
	}

	c11, err := crypto11.Configure(config)
	if err != nil {
		return nil, fmt.Errorf("%w: configuring PKCS#11: %v", stamp.ErrBackendUnavailable, err)
	}

	label := cfg.KeyLabel
	if label == "" {
		label = DefaultKeyLabel
	}
	labelBytes := []byte(label)

	signer, err := c11.FindKeyPair(nil, labelBytes)
	if err != nil {
		c11.Close()
		return nil, fmt.Errorf("%w: finding key in HSM: %v", stamp.ErrBackendUnavailable, err)
	}
	if signer == nil {
		signer, err = c11.GenerateECDSAKeyPairWithLabel(labelBytes, labelBytes, elliptic.P256())
		if err != nil {
			c11.Close()
			return nil, fmt.Errorf("generating ECDSA P-256 key in HSM: %w", err)
		}
	}

	pub, ok := signer.Public().(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		c11.Close()
		return nil, fmt.Errorf("HSM key %q is not ECDSA P-256", label)
	}

	return &Stamper{
		ctx:          c11,
		signer:       signer,
		publicKeyHex: util.HexEncode(elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y)),
	}, nil
}

// PublicKeyHex returns the hex compressed public key this stamper signs under.
func (s *Stamper) PublicKeyHex() string {
	return s.publicKeyHex
}

// Stamp signs SHA-256(payload) inside the HSM and serializes the stamp
// header value.
func (s *Stamper) Stamp(ctx context.Context, payload string) (stamp.Stamp, error) {
	if payload == "" {
		return stamp.Stamp{}, fmt.Errorf("%w: empty payload", stamp.ErrMalformedPayload)
	}
	if err := ctx.Err(); err != nil {
		return stamp.Stamp{}, err
	}

	digest := sha256.Sum256([]byte(payload))

	s.mu.Lock()
	sig, err := s.signer.Sign(rand.Reader, digest[:], crypto.SHA256)
	s.mu.Unlock()
	if err != nil {
		return stamp.Stamp{}, fmt.Errorf("%w: signing in HSM: %v", stamp.ErrBackendUnavailable, err)
	}

	return stamp.EncodeAPIKeyStamp(s.publicKeyHex, sig)
}

// Close releases the PKCS#11 context.
func (s *Stamper) Close() error {
	if s.ctx != nil {
		return s.ctx.Close()
	}
	return nil
}
