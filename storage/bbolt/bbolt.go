// Package bbolt provides a BBolt-backed storage.Store for device-local
// persistence of stamper key material.
package bbolt

import (
	"context"
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/custodia-labs/custodia-go/storage"
)

// Store implements storage.Store backed by a BBolt database. Each record is
// stored as an 8-byte big-endian version followed by the value bytes.
type Store struct {
	db *bbolt.DB
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewStoreFromFile opens a BBolt database at the given path and returns a new Store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeRecord(version uint64, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf, version)
	copy(buf[8:], value)
	return buf
}

func decodeRecord(data []byte) (storage.Record, error) {
	if len(data) < 8 {
		return storage.Record{}, fmt.Errorf("corrupt record: %d bytes", len(data))
	}
	return storage.Record{
		Version: binary.BigEndian.Uint64(data[:8]),
		Value:   append([]byte(nil), data[8:]...),
	}, nil
}

func (s *Store) Get(_ context.Context, bucket, key string) (storage.Record, error) {
	var rec storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return storage.Record{}, err
	}
	return rec, nil
}

func (s *Store) Put(_ context.Context, bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		version := uint64(1)
		if existing := b.Get([]byte(key)); existing != nil {
			rec, err := decodeRecord(existing)
			if err != nil {
				return err
			}
			version = rec.Version + 1
		}
		return b.Put([]byte(key), encodeRecord(version, value))
	})
}

func (s *Store) PutCAS(_ context.Context, bucket, key string, expectedVersion uint64, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		existing := b.Get([]byte(key))

		if expectedVersion == 0 {
			if existing != nil {
				return storage.ErrCASFailed
			}
			return b.Put([]byte(key), encodeRecord(1, value))
		}

		if existing == nil {
			return storage.ErrCASFailed
		}
		rec, err := decodeRecord(existing)
		if err != nil {
			return err
		}
		if rec.Version != expectedVersion {
			return storage.ErrCASFailed
		}
		return b.Put([]byte(key), encodeRecord(rec.Version+1, value))
	})
}

func (s *Store) Delete(_ context.Context, bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
		}
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

func (s *Store) List(_ context.Context, bucket string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}
