// Package storage provides the key-value store abstraction used by stamper
// backends for persisted key material and cached records.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Record is a stored value together with its monotonically increasing
// version. Version 0 never occurs on a stored record; PutCAS with
// expectedVersion 0 therefore means "create, must not exist yet".
type Record struct {
	Value   []byte
	Version uint64
}

// Store defines versioned key-value storage scoped by bucket. Values are
// public material or ciphertext; the store never sees plaintext secrets.
type Store interface {
	Get(ctx context.Context, bucket, key string) (Record, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	PutCAS(ctx context.Context, bucket, key string, expectedVersion uint64, value []byte) error
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket string) ([]string, error)
}
