package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/fieldserve-api/internal/domain"
)

// LoginCodesRepo owns the passwordless sign-in codes. Consume runs the
// whole verification inside one transaction: the conditional update
// that claims the code row is the serialization point, so the account
// lookup/provision that follows cannot race another verifier.
type LoginCodesRepo interface {
	// Create supersedes every prior code for the email and inserts a
	// fresh one.
	Create(ctx context.Context, email, code string, expiresAt time.Time) error
	// Consume atomically claims the (email, code) row, re-checks
	// expiry, resolves or auto-provisions the account, and deletes the
	// row. Returns domain.ErrInvalidCode or domain.ErrCodeExpired.
	Consume(ctx context.Context, email, code string) (*domain.Account, error)
	// SweepExpired deletes rows whose expiry has passed. Idempotent.
	SweepExpired(ctx context.Context) (int64, error)
}

type LoginCodesRepoImpl struct{ pool *pgxpool.Pool }

func NewLoginCodesRepo(pool *pgxpool.Pool) *LoginCodesRepoImpl {
	return &LoginCodesRepoImpl{pool: pool}
}

func (r *LoginCodesRepoImpl) Create(ctx context.Context, email, code string, expiresAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM login_codes WHERE lower(email)=lower($1)`, email); err != nil {
		return fmt.Errorf("failed to supersede prior codes: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO login_codes (email, code, expires_at) VALUES ($1,$2,$3)`,
		email, code, expiresAt,
	); err != nil {
		return fmt.Errorf("failed to insert code: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *LoginCodesRepoImpl) Consume(ctx context.Context, email, code string) (*domain.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Winner-take-all claim: exactly one concurrent verifier can flip
	// verified here; everyone else sees no rows. A read-then-write
	// would allow double consumption.
	var (
		codeID    int64
		expiresAt time.Time
	)
	err = tx.QueryRow(ctx, `
UPDATE login_codes
SET verified = true
WHERE lower(email) = lower($1)
  AND code = $2
  AND verified = false
RETURNING id, expires_at
`, email, code).Scan(&codeID, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvalidCode
	}
	if err != nil {
		return nil, err
	}

	if time.Now().After(expiresAt) {
		if _, err := tx.Exec(ctx, `DELETE FROM login_codes WHERE id=$1`, codeID); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, domain.ErrCodeExpired
	}

	account, err := resolveAccountTx(ctx, tx, email)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM login_codes WHERE id=$1`, codeID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

// resolveAccountTx looks up the account for a verified email inside the
// consuming transaction, auto-provisioning one on first sign-in.
func resolveAccountTx(ctx context.Context, tx pgx.Tx, email string) (*domain.Account, error) {
	var a domain.Account
	err := tx.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE lower(email)=lower($1)`, email,
	).Scan(
		&a.ID, &a.Email, &a.Username, &a.Name, &a.Phone, &a.PasswordHash,
		&a.EmailVerified, &a.CreatedAt, &a.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		username := domain.DeriveUsername(email, uuid.NewString()[:8])
		err = tx.QueryRow(ctx, `
INSERT INTO accounts (email, username, name, phone, password_hash, email_verified)
VALUES ($1,$2,'','','',true)
RETURNING `+accountCols, email, username).Scan(
			&a.ID, &a.Email, &a.Username, &a.Name, &a.Phone, &a.PasswordHash,
			&a.EmailVerified, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to provision account: %w", err)
		}
		return &a, nil
	}
	if err != nil {
		return nil, err
	}

	if !a.EmailVerified {
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET email_verified=true, updated_at=now() WHERE id=$1`, a.ID,
		); err != nil {
			return nil, err
		}
		a.EmailVerified = true
	}
	return &a, nil
}

func (r *LoginCodesRepoImpl) SweepExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `DELETE FROM login_codes WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ LoginCodesRepo = (*LoginCodesRepoImpl)(nil)
