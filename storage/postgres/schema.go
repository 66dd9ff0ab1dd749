package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the records table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			bucket  TEXT   NOT NULL,
			key     TEXT   NOT NULL,
			value   BYTEA  NOT NULL,
			version BIGINT NOT NULL,
			PRIMARY KEY (bucket, key)
		)`)
	return err
}
