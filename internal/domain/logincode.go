package domain

import "time"

// LoginCode is the one-time numeric credential issued for passwordless
// sign-in. Requesting a new code deletes every earlier row for the same
// email, so at most one unexpired, unverified code is usable at a time.
type LoginCode struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	LoginCodeLength  = 6
	LoginCodeTTL     = 10 * time.Minute
	VerifyMaxRetries = 3
)

func (c *LoginCode) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}
