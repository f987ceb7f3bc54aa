package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/fieldserve-api/internal/domain"
)

type AccountsRepo interface {
	Create(ctx context.Context, email, username, name, phone, passwordHash string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByID(ctx context.Context, id int64) (*domain.Account, error)
	MarkEmailVerified(ctx context.Context, id int64) error
}

type AccountsRepoImpl struct{ pool *pgxpool.Pool }

func NewAccountsRepo(pool *pgxpool.Pool) *AccountsRepoImpl { return &AccountsRepoImpl{pool: pool} }

const accountCols = `id, email, username, name, phone, password_hash, email_verified, created_at, updated_at`

func (r *AccountsRepoImpl) Create(ctx context.Context, email, username, name, phone, passwordHash string) (*domain.Account, error) {
	const q = `
INSERT INTO accounts (email, username, name, phone, password_hash)
VALUES ($1,$2,$3,$4,$5)
RETURNING ` + accountCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var a domain.Account
	err := r.pool.QueryRow(ctx, q, email, username, name, phone, passwordHash).Scan(
		&a.ID, &a.Email, &a.Username, &a.Name, &a.Phone, &a.PasswordHash,
		&a.EmailVerified, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountsRepoImpl) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE lower(email)=lower($1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var a domain.Account
	err := r.pool.QueryRow(ctx, q, email).Scan(
		&a.ID, &a.Email, &a.Username, &a.Name, &a.Phone, &a.PasswordHash,
		&a.EmailVerified, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountsRepoImpl) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var a domain.Account
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&a.ID, &a.Email, &a.Username, &a.Name, &a.Phone, &a.PasswordHash,
		&a.EmailVerified, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountsRepoImpl) MarkEmailVerified(ctx context.Context, id int64) error {
	const q = `UPDATE accounts SET email_verified=true, updated_at=now() WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

var _ AccountsRepo = (*AccountsRepoImpl)(nil)
