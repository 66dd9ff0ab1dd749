// Package cloud implements an API-key stamper whose key pair lives in a
// platform key-value store scoped to the running app (the Telegram mini-app
// cloud storage is the canonical backend). Init lazily resolves an existing
// pair or creates and persists a new one; stamping is delegated to the
// in-memory API-key backend once resolved.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/custodia-labs/custodia-go/stamp"
	"github.com/custodia-labs/custodia-go/storage"
)

const (
	defaultBucket    = "cloud-stamper"
	defaultRecordKey = "api-key"
)

// keyRecord is the stored form of the resolved key pair. The platform store
// is assumed to be private to the app; it is the same trust the platform
// extends to any cloud-synced app secret.
type keyRecord struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// Stamper resolves its API key pair from a storage.Store on Init and then
// stamps like the in-memory API-key backend. Stamp calls made before Init
// completes return stamp.ErrNotInitialized.
type Stamper struct {
	store     storage.Store
	bucket    string
	recordKey string
	logger    *slog.Logger

	mu    sync.RWMutex
	inner *stamp.APIKeyStamper
}

var _ stamp.Stamper = (*Stamper)(nil)

// Option configures the cloud stamper.
type Option func(*Stamper)

// WithBucket overrides the store bucket holding the key record.
func WithBucket(bucket string) Option {
	return func(s *Stamper) { s.bucket = bucket }
}

// WithRecordKey overrides the record key holding the key pair.
func WithRecordKey(key string) Option {
	return func(s *Stamper) { s.recordKey = key }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stamper) { s.logger = logger }
}

// New creates a cloud stamper. Init must be called before stamping.
func New(store storage.Store, opts ...Option) *Stamper {
	s := &Stamper{
		store:     store,
		bucket:    defaultBucket,
		recordKey: defaultRecordKey,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init resolves the key pair from the store, generating and persisting a
// fresh one when none exists. Concurrent first-time initialization across
// instances is resolved by compare-and-swap: the loser adopts the winner's
// pair.
func (s *Stamper) Init(ctx context.Context) error {
	if s.store == nil {
		return fmt.Errorf("%w: no cloud storage configured", stamp.ErrBackendUnavailable)
	}

	rec, err := s.store.Get(ctx, s.bucket, s.recordKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec, err = s.createKeyRecord(ctx)
		if err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("%w: reading cloud storage: %v", stamp.ErrBackendUnavailable, err)
	}

	var kr keyRecord
	if err := json.Unmarshal(rec.Value, &kr); err != nil {
		return fmt.Errorf("corrupt cloud key record: %w", err)
	}
	inner, err := stamp.NewAPIKeyStamper(kr.PublicKey, kr.PrivateKey)
	if err != nil {
		return fmt.Errorf("loading cloud key pair: %w", err)
	}

	s.mu.Lock()
	s.inner = inner
	s.mu.Unlock()
	return nil
}

func (s *Stamper) createKeyRecord(ctx context.Context) (storage.Record, error) {
	pub, priv, err := stamp.GenerateAPIKeyPair()
	if err != nil {
		return storage.Record{}, err
	}
	value, err := json.Marshal(keyRecord{PublicKey: pub, PrivateKey: priv})
	if err != nil {
		return storage.Record{}, fmt.Errorf("marshaling key record: %w", err)
	}

	err = s.store.PutCAS(ctx, s.bucket, s.recordKey, 0, value)
	if errors.Is(err, storage.ErrCASFailed) {
		// Another instance created the record first; use theirs.
		s.logger.Debug("cloud key record already created, adopting existing")
		return s.store.Get(ctx, s.bucket, s.recordKey)
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("%w: persisting key record: %v", stamp.ErrBackendUnavailable, err)
	}
	return storage.Record{Value: value, Version: 1}, nil
}

// Initialized reports whether Init has completed successfully.
func (s *Stamper) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inner != nil
}

// PublicKeyHex returns the resolved public key, or an error before Init.
func (s *Stamper) PublicKeyHex() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inner == nil {
		return "", stamp.ErrNotInitialized
	}
	return s.inner.PublicKeyHex(), nil
}

// Stamp delegates to the resolved API-key backend.
func (s *Stamper) Stamp(ctx context.Context, payload string) (stamp.Stamp, error) {
	s.mu.RLock()
	inner := s.inner
	s.mu.RUnlock()
	if inner == nil {
		return stamp.Stamp{}, fmt.Errorf("%w: Init has not completed", stamp.ErrNotInitialized)
	}
	return inner.Stamp(ctx, payload)
}
