package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/internal/platform/mailer"
	"github.com/fieldserve/fieldserve-api/internal/repo/postgres"
	"github.com/fieldserve/fieldserve-api/pkg/auth"
	"github.com/fieldserve/fieldserve-api/pkg/config"
	"github.com/fieldserve/fieldserve-api/pkg/events"
	"github.com/fieldserve/fieldserve-api/pkg/logger"
)

type AuthService interface {
	Register(ctx context.Context, req *domain.RegisterRequest) (*domain.SessionResponse, error)
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.SessionResponse, error)
	RequestCode(ctx context.Context, req *domain.CodeRequest) error
	VerifyCode(ctx context.Context, req *domain.CodeVerify) (*domain.SessionResponse, error)
	SweepExpired(ctx context.Context) (int64, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
}

type authService struct {
	accounts postgres.AccountsRepo
	codes    postgres.LoginCodesRepo
	mailer   mailer.Service
	eventBus events.Publisher
	config   *config.Config
}

func NewAuthService(
	accounts postgres.AccountsRepo,
	codes postgres.LoginCodesRepo,
	mailer mailer.Service,
	eventBus events.Publisher,
	config *config.Config,
) AuthService {
	return &authService{
		accounts: accounts,
		codes:    codes,
		mailer:   mailer,
		eventBus: eventBus,
		config:   config,
	}
}

func (s *authService) Register(ctx context.Context, req *domain.RegisterRequest) (*domain.SessionResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	existing, err := s.accounts.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if existing != nil {
		return nil, domain.ErrEmailTaken
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	username := domain.DeriveUsername(req.Email, uuid.NewString()[:8])
	account, err := s.accounts.Create(ctx, req.Email, username, req.Name, req.Phone, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	if err := s.eventBus.Publish(ctx, events.AccountProvisioned, events.AccountProvisionedEvent{
		AccountID: account.ID,
		Email:     account.Email,
		CreatedAt: account.CreatedAt,
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish account event", "error", err)
	}

	return s.session(account)
}

func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.SessionResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	account, err := s.accounts.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil || account.PasswordHash == "" {
		return nil, domain.ErrInvalidCredentials
	}

	valid, err := argon2id.ComparePasswordAndHash(req.Password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, domain.ErrInvalidCredentials
	}

	return s.session(account)
}

// RequestCode supersedes any earlier code for the email and issues a
// fresh one. The mailer delivers it out of band; a delivery failure
// does not fail the request since the code row already exists.
func (s *authService) RequestCode(ctx context.Context, req *domain.CodeRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	code, err := generateLoginCode(s.config.Auth.LoginCodeLength)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	expiresAt := time.Now().Add(s.config.Auth.LoginCodeTTL)

	if err := s.codes.Create(ctx, req.Email, code, expiresAt); err != nil {
		return fmt.Errorf("failed to store login code: %w", err)
	}

	if err := s.mailer.SendLoginCode(req.Email, code); err != nil {
		logger.ErrorContext(ctx, "Failed to send login code", "error", err, "email", req.Email)
	}

	if err := s.eventBus.Publish(ctx, events.LoginCodeRequested, events.LoginCodeRequestedEvent{
		Email:       req.Email,
		ExpiresAt:   expiresAt,
		RequestedAt: time.Now(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish login code event", "error", err)
	}

	return nil
}

// VerifyCode consumes the code and resolves the account in one store
// transaction. Serialization failures are retried a bounded number of
// times; ErrInvalidCode and ErrCodeExpired pass through untouched.
func (s *authService) VerifyCode(ctx context.Context, req *domain.CodeVerify) (*domain.SessionResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var account *domain.Account
	backoff := retry.WithMaxRetries(domain.VerifyMaxRetries, retry.NewConstant(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		account, err = s.codes.Consume(ctx, req.Email, req.Code)
		if err != nil && postgres.IsSerializationFailure(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.session(account)
}

func (s *authService) SweepExpired(ctx context.Context) (int64, error) {
	return s.codes.SweepExpired(ctx)
}

func (s *authService) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrNotFound
	}
	return account, nil
}

func (s *authService) session(account *domain.Account) (*domain.SessionResponse, error) {
	tok, err := auth.NewSessionToken(account.ID, account.Email, s.config.Auth.JWTSecret, s.config.Auth.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}
	return &domain.SessionResponse{
		SessionToken: tok,
		ExpiresIn:    int64(s.config.Auth.SessionTTL.Seconds()),
		Account:      account.ToAccountInfo(),
	}, nil
}

// generateLoginCode draws each digit from crypto/rand.
func generateLoginCode(length int) (string, error) {
	if length <= 0 {
		length = domain.LoginCodeLength
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
