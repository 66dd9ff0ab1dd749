// Package local implements the device-local persistent stamper backend.
//
// The backend owns a device-resident recipient key pair: the public half is
// the address the custody service encrypts credential bundles to, the private
// half is persisted encrypted at rest under a passphrase-derived key. The
// backend can only stamp after a credential bundle has been injected and
// decrypted; the decrypted API key never leaves process memory.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/custodia-labs/custodia-go/bundle"
	"github.com/custodia-labs/custodia-go/internal/util"
	"github.com/custodia-labs/custodia-go/stamp"
	"github.com/custodia-labs/custodia-go/storage"
)

const (
	deviceBucket    = "local-stamper"
	deviceRecordKey = "recipient-key"
	saltLen         = 16
)

// deviceKeyRecord is the persisted form of the device key pair: public key in
// the clear, private key sealed under an Argon2id-derived AES key.
type deviceKeyRecord struct {
	PublicKey           string              `json:"publicKey"`
	Salt                string              `json:"salt"`
	KDFParams           util.Argon2idParams `json:"kdfParams"`
	EncryptedPrivateKey string              `json:"encryptedPrivateKey"`
}

// Stamper is the device-local backend. Construction loads or creates the
// device key pair; InjectCredentialBundle arms it for stamping.
type Stamper struct {
	store storage.Store
	kp    *bundle.KeyPair

	mu    sync.RWMutex
	inner *stamp.APIKeyStamper
}

var _ stamp.Stamper = (*Stamper)(nil)

// New loads the device key pair from the store, creating and persisting a
// fresh one on first use. The passphrase protects the private half at rest
// and must be stable across restarts.
func New(ctx context.Context, store storage.Store, passphrase string) (*Stamper, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: no persistent storage configured", stamp.ErrBackendUnavailable)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}

	s := &Stamper{store: store}

	rec, err := store.Get(ctx, deviceBucket, deviceRecordKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := s.createDeviceKey(ctx, passphrase); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("%w: reading device key: %v", stamp.ErrBackendUnavailable, err)
	default:
		if err := s.loadDeviceKey(rec.Value, passphrase); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Stamper) createDeviceKey(ctx context.Context, passphrase string) error {
	kp, err := bundle.NewKeyPair()
	if err != nil {
		return err
	}
	privRaw, err := kp.PrivateKeyBytes()
	if err != nil {
		return err
	}
	defer util.WipeBytes(privRaw)

	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return err
	}
	params := util.DefaultArgon2idParams()
	key, err := util.DeriveArgon2idKey(util.Normalize(passphrase), salt, params)
	if err != nil {
		return err
	}
	defer util.WipeBytes(key)

	sealed, err := util.EncryptAES(privRaw, key)
	if err != nil {
		return fmt.Errorf("sealing device private key: %w", err)
	}

	value, err := json.Marshal(deviceKeyRecord{
		PublicKey:           kp.PublicKeyHex(),
		Salt:                util.HexEncode(salt),
		KDFParams:           params,
		EncryptedPrivateKey: util.HexEncode(sealed),
	})
	if err != nil {
		return fmt.Errorf("marshaling device key record: %w", err)
	}
	if err := s.store.Put(ctx, deviceBucket, deviceRecordKey, value); err != nil {
		return fmt.Errorf("persisting device key record: %w", err)
	}

	s.kp = kp
	return nil
}

func (s *Stamper) loadDeviceKey(value []byte, passphrase string) error {
	var rec deviceKeyRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return fmt.Errorf("corrupt device key record: %w", err)
	}
	salt, err := util.HexDecode(rec.Salt)
	if err != nil {
		return fmt.Errorf("corrupt device key salt: %w", err)
	}
	sealed, err := util.HexDecode(rec.EncryptedPrivateKey)
	if err != nil {
		return fmt.Errorf("corrupt device private key: %w", err)
	}

	key, err := util.DeriveArgon2idKey(util.Normalize(passphrase), salt, rec.KDFParams)
	if err != nil {
		return err
	}
	defer util.WipeBytes(key)

	privRaw, err := util.DecryptAES(sealed, key)
	if err != nil {
		return fmt.Errorf("unsealing device private key (wrong passphrase?): %w", err)
	}
	defer util.WipeBytes(privRaw)

	kp, err := bundle.KeyPairFromPrivate(privRaw)
	if err != nil {
		return err
	}
	if kp.PublicKeyHex() != rec.PublicKey {
		return fmt.Errorf("device key record public key mismatch")
	}
	s.kp = kp
	return nil
}

// PublicKeyHex returns the device public key credential bundles must be
// encrypted to.
func (s *Stamper) PublicKeyHex() string {
	return s.kp.PublicKeyHex()
}

// InjectCredentialBundle decrypts an API-key bundle addressed to the device
// key and arms the stamper with it. A previously injected key is replaced.
func (s *Stamper) InjectCredentialBundle(ctx context.Context, encoded string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	secret, err := bundle.Decrypt(encoded, s.kp)
	if err != nil {
		return err
	}
	defer util.WipeBytes(secret)

	inner, err := apiKeyFromBundleSecret(secret)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.inner != nil {
		s.inner.Destroy()
	}
	s.inner = inner
	s.mu.Unlock()
	return nil
}

// apiKeyFromBundleSecret accepts the two payload encodings used for API-key
// bundles: the raw 32-byte scalar, or its hex text.
func apiKeyFromBundleSecret(secret []byte) (*stamp.APIKeyStamper, error) {
	if len(secret) == 32 {
		return stamp.NewAPIKeyStamperFromPrivate(util.HexEncode(secret))
	}
	return stamp.NewAPIKeyStamperFromPrivate(string(secret))
}

// Injected reports whether a credential bundle has been injected.
func (s *Stamper) Injected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner != nil
}

// Stamp signs with the injected API key. Before injection it returns
// stamp.ErrNotInitialized.
func (s *Stamper) Stamp(ctx context.Context, payload string) (stamp.Stamp, error) {
	s.mu.RLock()
	inner := s.inner
	s.mu.RUnlock()
	if inner == nil {
		return stamp.Stamp{}, fmt.Errorf("%w: no credential bundle injected", stamp.ErrNotInitialized)
	}
	return inner.Stamp(ctx, payload)
}
