package domain

import "errors"

var (
	// ErrNotFound covers missing resources and ownership mismatches
	// alike, so callers cannot distinguish "not yours" from "not there".
	ErrNotFound = errors.New("not found")

	// ErrInvalidCode covers a wrong code, a code already consumed by a
	// concurrent verifier, and a code that never existed.
	ErrInvalidCode = errors.New("invalid or already used code")

	ErrCodeExpired = errors.New("code expired")

	ErrEmailTaken = errors.New("email already registered")

	// ErrNumberConflict surfaces the storage-level uniqueness backstop
	// on document numbers; the whole creation should be retried.
	ErrNumberConflict = errors.New("document number conflict")

	ErrInvalidCredentials = errors.New("invalid credentials")
)
