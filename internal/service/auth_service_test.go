package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fieldserve/fieldserve-api/internal/domain"
	"github.com/fieldserve/fieldserve-api/pkg/config"
)

// Shared fakes for the service tests.

type fakeEventBus struct {
	published []string
}

func (f *fakeEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	f.published = append(f.published, subject)
	return nil
}

func (f *fakeEventBus) Close() error { return nil }

type fakeMailer struct {
	codes []string
	links []string
	fail  bool
}

func (f *fakeMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	return "msg-1", nil
}

func (f *fakeMailer) SendLoginCode(email, code string) error {
	if f.fail {
		return errors.New("smtp down")
	}
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeMailer) SendDocumentLink(email, clientName, number, link string) error {
	if f.fail {
		return errors.New("smtp down")
	}
	f.links = append(f.links, link)
	return nil
}

type fakeAccountsRepo struct {
	byEmail map[string]*domain.Account
	nextID  int64
}

func newFakeAccountsRepo() *fakeAccountsRepo {
	return &fakeAccountsRepo{byEmail: make(map[string]*domain.Account), nextID: 1}
}

func (f *fakeAccountsRepo) Create(ctx context.Context, email, username, name, phone, passwordHash string) (*domain.Account, error) {
	if _, ok := f.byEmail[email]; ok {
		return nil, domain.ErrEmailTaken
	}
	a := &domain.Account{
		ID: f.nextID, Email: email, Username: username, Name: name,
		Phone: phone, PasswordHash: passwordHash, CreatedAt: time.Now(),
	}
	f.nextID++
	f.byEmail[email] = a
	return a, nil
}

func (f *fakeAccountsRepo) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return f.byEmail[strings.ToLower(email)], nil
}

func (f *fakeAccountsRepo) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	for _, a := range f.byEmail {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountsRepo) MarkEmailVerified(ctx context.Context, id int64) error { return nil }

type storedCode struct {
	code      string
	expiresAt time.Time
}

type fakeLoginCodesRepo struct {
	codes    map[string]storedCode
	accounts *fakeAccountsRepo

	// transientErrs is returned from Consume before the real logic
	// runs, once per entry. Used to exercise retry behavior.
	transientErrs []error
	consumeCalls  int
}

func newFakeLoginCodesRepo(accounts *fakeAccountsRepo) *fakeLoginCodesRepo {
	return &fakeLoginCodesRepo{codes: make(map[string]storedCode), accounts: accounts}
}

func (f *fakeLoginCodesRepo) Create(ctx context.Context, email, code string, expiresAt time.Time) error {
	f.codes[strings.ToLower(email)] = storedCode{code: code, expiresAt: expiresAt}
	return nil
}

func (f *fakeLoginCodesRepo) Consume(ctx context.Context, email, code string) (*domain.Account, error) {
	f.consumeCalls++
	if len(f.transientErrs) > 0 {
		err := f.transientErrs[0]
		f.transientErrs = f.transientErrs[1:]
		return nil, err
	}

	key := strings.ToLower(email)
	stored, ok := f.codes[key]
	if !ok || stored.code != code {
		return nil, domain.ErrInvalidCode
	}
	if time.Now().After(stored.expiresAt) {
		delete(f.codes, key)
		return nil, domain.ErrCodeExpired
	}
	delete(f.codes, key)

	account, _ := f.accounts.FindByEmail(ctx, key)
	if account == nil {
		account, _ = f.accounts.Create(ctx, key, "auto-user", "", "", "")
	}
	account.EmailVerified = true
	return account, nil
}

func (f *fakeLoginCodesRepo) SweepExpired(ctx context.Context) (int64, error) {
	var n int64
	for k, v := range f.codes {
		if time.Now().After(v.expiresAt) {
			delete(f.codes, k)
			n++
		}
	}
	return n, nil
}

// serializationFailure mimics the store rejecting a transaction with
// SQLSTATE 40001.
func serializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:       "test-secret",
			SessionTTL:      12 * time.Hour,
			LoginCodeTTL:    10 * time.Minute,
			LoginCodeLength: 6,
		},
		Public: config.PublicConfig{BaseURL: "https://app.example.com"},
	}
}

func newTestAuthService() (AuthService, *fakeAccountsRepo, *fakeLoginCodesRepo, *fakeMailer, *fakeEventBus) {
	accounts := newFakeAccountsRepo()
	codes := newFakeLoginCodesRepo(accounts)
	m := &fakeMailer{}
	bus := &fakeEventBus{}
	svc := NewAuthService(accounts, codes, m, bus, testConfig())
	return svc, accounts, codes, m, bus
}

func TestRequestCode(t *testing.T) {
	t.Run("stores and delivers a fresh code", func(t *testing.T) {
		svc, _, codes, m, _ := newTestAuthService()

		err := svc.RequestCode(context.Background(), &domain.CodeRequest{Email: "Jo@Example.com"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		stored, ok := codes.codes["jo@example.com"]
		if !ok {
			t.Fatal("expected a code stored under the normalized email")
		}
		if len(stored.code) != 6 {
			t.Errorf("expected 6-digit code, got %q", stored.code)
		}
		for _, r := range stored.code {
			if r < '0' || r > '9' {
				t.Errorf("expected digits only, got %q", stored.code)
			}
		}
		if len(m.codes) != 1 || m.codes[0] != stored.code {
			t.Errorf("expected the stored code to be mailed, got %v", m.codes)
		}
	})

	t.Run("a new request supersedes the old code", func(t *testing.T) {
		svc, _, codes, _, _ := newTestAuthService()
		ctx := context.Background()

		if err := svc.RequestCode(ctx, &domain.CodeRequest{Email: "jo@example.com"}); err != nil {
			t.Fatalf("first request: %v", err)
		}
		first := codes.codes["jo@example.com"].code

		if err := svc.RequestCode(ctx, &domain.CodeRequest{Email: "jo@example.com"}); err != nil {
			t.Fatalf("second request: %v", err)
		}
		second := codes.codes["jo@example.com"].code

		if _, err := svc.VerifyCode(ctx, &domain.CodeVerify{Email: "jo@example.com", Code: first}); !errors.Is(err, domain.ErrInvalidCode) {
			if first == second {
				t.Skip("codes collided; cannot distinguish supersession")
			}
			t.Errorf("expected superseded code to be invalid, got %v", err)
		}
	})

	t.Run("delivery failure does not fail the request", func(t *testing.T) {
		accounts := newFakeAccountsRepo()
		codes := newFakeLoginCodesRepo(accounts)
		svc := NewAuthService(accounts, codes, &fakeMailer{fail: true}, &fakeEventBus{}, testConfig())

		if err := svc.RequestCode(context.Background(), &domain.CodeRequest{Email: "jo@example.com"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, ok := codes.codes["jo@example.com"]; !ok {
			t.Error("expected the code stored despite delivery failure")
		}
	})

	t.Run("rejects malformed email", func(t *testing.T) {
		svc, _, _, _, _ := newTestAuthService()
		if err := svc.RequestCode(context.Background(), &domain.CodeRequest{Email: "not-an-email"}); err == nil {
			t.Error("expected a validation error")
		}
	})
}

func TestVerifyCode(t *testing.T) {
	requestAndRead := func(t *testing.T, svc AuthService, codes *fakeLoginCodesRepo, email string) string {
		t.Helper()
		if err := svc.RequestCode(context.Background(), &domain.CodeRequest{Email: email}); err != nil {
			t.Fatalf("request code: %v", err)
		}
		return codes.codes[strings.ToLower(email)].code
	}

	t.Run("provisions a new account on first verify", func(t *testing.T) {
		svc, accounts, codes, _, _ := newTestAuthService()
		code := requestAndRead(t, svc, codes, "new@example.com")

		resp, err := svc.VerifyCode(context.Background(), &domain.CodeVerify{Email: "new@example.com", Code: code})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.SessionToken == "" {
			t.Error("expected a session token")
		}
		if resp.Account == nil || resp.Account.Email != "new@example.com" {
			t.Errorf("expected account info for the verified email, got %+v", resp.Account)
		}
		if accounts.byEmail["new@example.com"] == nil {
			t.Error("expected an auto-provisioned account")
		}
	})

	t.Run("signs in an existing account without creating another", func(t *testing.T) {
		svc, accounts, codes, _, _ := newTestAuthService()
		existing, _ := accounts.Create(context.Background(), "jo@example.com", "jo-1", "Jo", "", "")

		code := requestAndRead(t, svc, codes, "jo@example.com")
		resp, err := svc.VerifyCode(context.Background(), &domain.CodeVerify{Email: "jo@example.com", Code: code})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.Account.ID != existing.ID {
			t.Errorf("expected account %d, got %d", existing.ID, resp.Account.ID)
		}
		if len(accounts.byEmail) != 1 {
			t.Errorf("expected exactly one account, got %d", len(accounts.byEmail))
		}
	})

	t.Run("a code verifies at most once", func(t *testing.T) {
		svc, _, codes, _, _ := newTestAuthService()
		code := requestAndRead(t, svc, codes, "jo@example.com")
		ctx := context.Background()

		if _, err := svc.VerifyCode(ctx, &domain.CodeVerify{Email: "jo@example.com", Code: code}); err != nil {
			t.Fatalf("first verify: %v", err)
		}
		if _, err := svc.VerifyCode(ctx, &domain.CodeVerify{Email: "jo@example.com", Code: code}); !errors.Is(err, domain.ErrInvalidCode) {
			t.Errorf("expected ErrInvalidCode on replay, got %v", err)
		}
	})

	t.Run("wrong code is invalid", func(t *testing.T) {
		svc, _, codes, _, _ := newTestAuthService()
		code := requestAndRead(t, svc, codes, "jo@example.com")
		wrong := "000000"
		if wrong == code {
			wrong = "000001"
		}

		if _, err := svc.VerifyCode(context.Background(), &domain.CodeVerify{Email: "jo@example.com", Code: wrong}); !errors.Is(err, domain.ErrInvalidCode) {
			t.Errorf("expected ErrInvalidCode, got %v", err)
		}
	})

	t.Run("expired code is reported as expired", func(t *testing.T) {
		svc, _, codes, _, _ := newTestAuthService()
		codes.codes["jo@example.com"] = storedCode{code: "123456", expiresAt: time.Now().Add(-time.Minute)}

		if _, err := svc.VerifyCode(context.Background(), &domain.CodeVerify{Email: "jo@example.com", Code: "123456"}); !errors.Is(err, domain.ErrCodeExpired) {
			t.Errorf("expected ErrCodeExpired, got %v", err)
		}
	})

	t.Run("retries serialization failures", func(t *testing.T) {
		svc, _, codes, _, _ := newTestAuthService()
		code := requestAndRead(t, svc, codes, "jo@example.com")
		codes.transientErrs = []error{serializationFailure(), serializationFailure()}

		resp, err := svc.VerifyCode(context.Background(), &domain.CodeVerify{Email: "jo@example.com", Code: code})
		if err != nil {
			t.Fatalf("expected retries to succeed, got %v", err)
		}
		if resp.SessionToken == "" {
			t.Error("expected a session token after retry")
		}
		if codes.consumeCalls != 3 {
			t.Errorf("expected 3 consume attempts, got %d", codes.consumeCalls)
		}
	})

	t.Run("gives up when retries are exhausted", func(t *testing.T) {
		svc, _, codes, _, _ := newTestAuthService()
		code := requestAndRead(t, svc, codes, "jo@example.com")
		codes.transientErrs = []error{
			serializationFailure(), serializationFailure(),
			serializationFailure(), serializationFailure(),
			serializationFailure(),
		}

		if _, err := svc.VerifyCode(context.Background(), &domain.CodeVerify{Email: "jo@example.com", Code: code}); err == nil {
			t.Error("expected an error once retries are exhausted")
		}
	})

	t.Run("does not retry invalid codes", func(t *testing.T) {
		svc, _, codes, _, _ := newTestAuthService()
		requestAndRead(t, svc, codes, "jo@example.com")
		before := codes.consumeCalls

		_, err := svc.VerifyCode(context.Background(), &domain.CodeVerify{Email: "jo@example.com", Code: "999999"})
		if !errors.Is(err, domain.ErrInvalidCode) {
			t.Fatalf("expected ErrInvalidCode, got %v", err)
		}
		if codes.consumeCalls != before+1 {
			t.Errorf("expected a single consume attempt, got %d", codes.consumeCalls-before)
		}
	})
}

func TestRegisterAndLogin(t *testing.T) {
	t.Run("register then login round-trips the password", func(t *testing.T) {
		svc, _, _, _, _ := newTestAuthService()
		ctx := context.Background()

		resp, err := svc.Register(ctx, &domain.RegisterRequest{
			Email: "jo@example.com", Password: "correct horse", Name: "Jo",
		})
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if resp.SessionToken == "" {
			t.Error("expected a session token from register")
		}

		if _, err := svc.Login(ctx, &domain.LoginRequest{Email: "jo@example.com", Password: "correct horse"}); err != nil {
			t.Errorf("expected login to succeed, got %v", err)
		}
		if _, err := svc.Login(ctx, &domain.LoginRequest{Email: "jo@example.com", Password: "wrong"}); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		svc, _, _, _, _ := newTestAuthService()
		ctx := context.Background()

		if _, err := svc.Register(ctx, &domain.RegisterRequest{Email: "jo@example.com", Password: "password1", Name: "Jo"}); err != nil {
			t.Fatalf("first register: %v", err)
		}
		if _, err := svc.Register(ctx, &domain.RegisterRequest{Email: "JO@example.com", Password: "password2", Name: "Jo"}); !errors.Is(err, domain.ErrEmailTaken) {
			t.Errorf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("login against a passwordless account fails", func(t *testing.T) {
		svc, accounts, _, _, _ := newTestAuthService()
		accounts.Create(context.Background(), "code-only@example.com", "code-only", "", "", "")

		if _, err := svc.Login(context.Background(), &domain.LoginRequest{Email: "code-only@example.com", Password: "anything"}); !errors.Is(err, domain.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})
}

func TestSweepExpired(t *testing.T) {
	svc, _, codes, _, _ := newTestAuthService()
	codes.codes["old@example.com"] = storedCode{code: "111111", expiresAt: time.Now().Add(-time.Hour)}
	codes.codes["live@example.com"] = storedCode{code: "222222", expiresAt: time.Now().Add(time.Hour)}

	n, err := svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row swept, got %d", n)
	}
	if _, ok := codes.codes["live@example.com"]; !ok {
		t.Error("expected the live code untouched")
	}
}
