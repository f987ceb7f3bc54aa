package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/fieldserve-api/internal/domain"
)

// SettingsRepo holds per-owner numbering prefixes. It doubles as the
// numbering.PrefixProvider; a missing row falls back to type defaults
// at the generator, never an error.
type SettingsRepo interface {
	Prefix(ctx context.Context, ownerID int64, docType domain.DocType) (string, error)
	UpsertPrefixes(ctx context.Context, ownerID int64, quote, invoice, receipt string) error
}

type SettingsRepoImpl struct{ pool *pgxpool.Pool }

func NewSettingsRepo(pool *pgxpool.Pool) *SettingsRepoImpl { return &SettingsRepoImpl{pool: pool} }

func (r *SettingsRepoImpl) Prefix(ctx context.Context, ownerID int64, docType domain.DocType) (string, error) {
	const q = `SELECT quote_prefix, invoice_prefix, receipt_prefix FROM owner_settings WHERE owner_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var quote, invoice, receipt string
	err := r.pool.QueryRow(ctx, q, ownerID).Scan(&quote, &invoice, &receipt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	switch docType {
	case domain.DocTypeInvoice:
		return invoice, nil
	case domain.DocTypeReceipt:
		return receipt, nil
	default:
		return quote, nil
	}
}

func (r *SettingsRepoImpl) UpsertPrefixes(ctx context.Context, ownerID int64, quote, invoice, receipt string) error {
	const q = `
INSERT INTO owner_settings (owner_id, quote_prefix, invoice_prefix, receipt_prefix)
VALUES ($1,$2,$3,$4)
ON CONFLICT (owner_id)
DO UPDATE SET quote_prefix=EXCLUDED.quote_prefix,
              invoice_prefix=EXCLUDED.invoice_prefix,
              receipt_prefix=EXCLUDED.receipt_prefix
`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, ownerID, quote, invoice, receipt)
	return err
}

var _ SettingsRepo = (*SettingsRepoImpl)(nil)
