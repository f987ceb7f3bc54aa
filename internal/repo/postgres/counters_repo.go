package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/fieldserve-api/internal/domain"
)

// CountersRepoImpl backs the number generator with an atomic
// increment-and-return per (owner, type, year) counter row, so two
// concurrent creations can never read the same ordinal.
type CountersRepoImpl struct{ pool *pgxpool.Pool }

func NewCountersRepo(pool *pgxpool.Pool) *CountersRepoImpl { return &CountersRepoImpl{pool: pool} }

func (r *CountersRepoImpl) NextOrdinal(ctx context.Context, ownerID int64, docType domain.DocType, year int) (int64, error) {
	const q = `
INSERT INTO document_counters (owner_id, doc_type, year, last_value)
VALUES ($1,$2,$3,1)
ON CONFLICT (owner_id, doc_type, year)
DO UPDATE SET last_value = document_counters.last_value + 1
RETURNING last_value
`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var ordinal int64
	if err := r.pool.QueryRow(ctx, q, ownerID, docType, year).Scan(&ordinal); err != nil {
		return 0, err
	}
	return ordinal, nil
}

func (r *CountersRepoImpl) SeedFloor(ctx context.Context, ownerID int64, docType domain.DocType, year int, floor int64) error {
	const q = `
INSERT INTO document_counters (owner_id, doc_type, year, last_value)
VALUES ($1,$2,$3,$4)
ON CONFLICT (owner_id, doc_type, year)
DO UPDATE SET last_value = GREATEST(document_counters.last_value, EXCLUDED.last_value)
`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, ownerID, docType, year, floor)
	return err
}
