package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository persists processed-message fingerprints.
type Repository interface {
	// Seen reports whether the fingerprint was recorded before.
	Seen(ctx context.Context, fingerprint string) (bool, error)
	// Mark records the fingerprint. Marking an existing fingerprint is a
	// no-op, not an error.
	Mark(ctx context.Context, fingerprint string, at time.Time) error
}

// PostgresRepository stores fingerprints in the processed_messages table.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Seen(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_messages WHERE fingerprint = $1)`,
		fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("fingerprint lookup failed: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) Mark(ctx context.Context, fingerprint string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO processed_messages (fingerprint, first_seen)
		 VALUES ($1, $2)
		 ON CONFLICT (fingerprint) DO NOTHING`,
		fingerprint, at,
	)
	if err != nil {
		return fmt.Errorf("fingerprint insert failed: %w", err)
	}
	return nil
}
