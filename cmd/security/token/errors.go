package token

import "errors"

// Public, stable errors for callers.
var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid token config")

	// ErrSecretTooShort is returned when the revocation secret is below MinSecretBytes.
	ErrSecretTooShort = errors.New("token secret too short")

	// ErrInvalidHandle is returned when a session handle fails verification.
	ErrInvalidHandle = errors.New("invalid session handle")

	// ErrInvalidRevocation is returned when a revocation token fails verification.
	ErrInvalidRevocation = errors.New("invalid revocation token")
)
