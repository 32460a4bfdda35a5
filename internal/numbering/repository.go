package numbering

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
)

// PGStore keeps one counter row per scope in document_sequences.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Next increments the scope counter. The upsert takes the row lock, which
// concurrent callers wait on until the holding transaction finishes. Called
// outside a transaction it opens its own.
func (s *PGStore) Next(ctx context.Context, scope string) (int64, error) {
	var next int64
	err := db.WithTx(ctx, s.pool, func(ctx context.Context) error {
		return db.Conn(ctx, s.pool).QueryRow(ctx, `INSERT INTO document_sequences (scope, last_value, updated_at)
VALUES ($1, 1, NOW())
ON CONFLICT (scope) DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
RETURNING last_value`, scope).Scan(&next)
	})
	return next, err
}
