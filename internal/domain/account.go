package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Account struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CodeRequest struct {
	Email string `json:"email"`
}

type CodeVerify struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type SessionResponse struct {
	SessionToken string       `json:"session_token"`
	ExpiresIn    int64        `json:"expires_in"`
	Account      *AccountInfo `json:"account"`
}

type AccountInfo struct {
	ID            int64  `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"email_verified"`
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Validation methods
func (r *RegisterRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(r.Email) {
		return fmt.Errorf("invalid email format")
	}
	if r.Password == "" {
		return fmt.Errorf("password is required")
	}
	if len(r.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

func (r *LoginRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}
	if r.Password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

func (r *CodeRequest) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(r.Email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

func (r *CodeVerify) Validate() error {
	if r.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !emailRegex.MatchString(r.Email) {
		return fmt.Errorf("invalid email format")
	}
	if r.Code == "" {
		return fmt.Errorf("code is required")
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(r.Code) {
		return fmt.Errorf("code must be 6 digits")
	}
	return nil
}

// Normalize methods
func (r *RegisterRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Phone = strings.TrimSpace(r.Phone)
}

func (r *LoginRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
}

func (r *CodeRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
}

func (r *CodeVerify) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Code = strings.TrimSpace(r.Code)
}

// NormalizeEmail lower-cases and trims an address; the same form is
// stored and used in every lookup so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DeriveUsername builds a username for an auto-provisioned account from
// the email's local part plus a random suffix to dodge collisions.
func DeriveUsername(email, suffix string) string {
	local := email
	if i := strings.Index(email, "@"); i > 0 {
		local = email[:i]
	}
	local = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, strings.ToLower(local))
	if local == "" {
		local = "user"
	}
	return local + "-" + suffix
}

// ToAccountInfo converts Account to AccountInfo (without sensitive data)
func (a *Account) ToAccountInfo() *AccountInfo {
	return &AccountInfo{
		ID:            a.ID,
		Email:         a.Email,
		Username:      a.Username,
		Name:          a.Name,
		EmailVerified: a.EmailVerified,
	}
}
