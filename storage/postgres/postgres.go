// Package postgres implements storage.Store backed by PostgreSQL.
//
// The records table uses a composite primary key (bucket, key) mirroring the
// key space of the BBolt and in-memory backends. Values are stored as BYTEA;
// they are public material or ciphertext, never plaintext secrets.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/custodia-labs/custodia-go/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given pgx connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromDSN creates a connection pool from a DSN string, ensures the
// schema exists, and returns a new Store.
func NewStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewStore(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Get(ctx context.Context, bucket, key string) (storage.Record, error) {
	var rec storage.Record
	err := s.pool.QueryRow(ctx,
		`SELECT value, version FROM records WHERE bucket = $1 AND key = $2`,
		bucket, key).Scan(&rec.Value, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Record{}, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Record{}, err
	}
	return rec, nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (bucket, key, value, version)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (bucket, key)
		 DO UPDATE SET value = $3, version = records.version + 1`,
		bucket, key, value)
	return err
}

func (s *Store) PutCAS(ctx context.Context, bucket, key string, expectedVersion uint64, value []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var currentVersion uint64
	err = tx.QueryRow(ctx,
		`SELECT version FROM records WHERE bucket = $1 AND key = $2 FOR UPDATE`,
		bucket, key).Scan(&currentVersion)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO records (bucket, key, value, version) VALUES ($1, $2, $3, 1)`,
			bucket, key, value); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if expectedVersion == 0 || currentVersion != expectedVersion {
			return storage.ErrCASFailed
		}
		if _, err := tx.Exec(ctx,
			`UPDATE records SET value = $3, version = version + 1 WHERE bucket = $1 AND key = $2`,
			bucket, key, value); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE bucket = $1 AND key = $2`, bucket, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, bucket string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM records WHERE bucket = $1`, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
