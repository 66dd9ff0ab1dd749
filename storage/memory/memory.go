// Package memory provides a thread-safe in-memory implementation of storage.Store.
package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/custodia-go/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
// Suitable for testing, demos, and single-process use cases.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]storage.Record
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{data: make(map[string]map[string]storage.Record)}
}

func cloneRecord(rec storage.Record) storage.Record {
	return storage.Record{
		Value:   append([]byte(nil), rec.Value...),
		Version: rec.Version,
	}
}

func (s *Store) Get(_ context.Context, bucket, key string) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(bucket, key)
}

func (s *Store) getLocked(bucket, key string) (storage.Record, error) {
	b, ok := s.data[bucket]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	rec, ok := b[key]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) Put(_ context.Context, bucket, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(bucket, key, value)
	return nil
}

func (s *Store) putLocked(bucket, key string, value []byte) {
	b, ok := s.data[bucket]
	if !ok {
		b = make(map[string]storage.Record)
		s.data[bucket] = b
	}
	b[key] = storage.Record{
		Value:   append([]byte(nil), value...),
		Version: b[key].Version + 1,
	}
}

func (s *Store) PutCAS(_ context.Context, bucket, key string, expectedVersion uint64, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getLocked(bucket, key)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		s.putLocked(bucket, key, value)
		return nil
	}
	if existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	s.putLocked(bucket, key, value)
	return nil
}

func (s *Store) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[bucket]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := b[key]; !ok {
		return storage.ErrNotFound
	}
	delete(b, key)
	return nil
}

func (s *Store) List(_ context.Context, bucket string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data[bucket] {
		keys = append(keys, k)
	}
	return keys, nil
}
