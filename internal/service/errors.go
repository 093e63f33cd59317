package service

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials deliberately covers both unknown-user and
	// wrong-password; callers must not be able to tell them apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountNotFound    = errors.New("account not found")
	ErrUsernameTaken      = errors.New("username or email already registered")

	ErrTwoFactorRequired      = errors.New("two-factor challenge required")
	ErrTwoFactorInvalid       = errors.New("invalid two-factor code")
	ErrTwoFactorCodeReused    = errors.New("backup code already used")
	ErrTwoFactorNotConfigured = errors.New("two-factor not configured")

	ErrKeyNotFound    = errors.New("api key not found")
	ErrKeyExpired     = errors.New("api key expired")
	ErrKeyRevoked     = errors.New("api key revoked")
	ErrKeyScopeDenied = errors.New("api key scope denied")
	ErrKeyIPDenied    = errors.New("api key source ip denied")
	ErrKeyRateLimited = errors.New("api key rate limited")

	ErrRequestAlreadyProcessed = errors.New("subject request already processed")
	ErrLegalHoldBlocksErasure  = errors.New("legal hold blocks erasure")
	ErrUnsupportedFormat       = errors.New("unsupported export format")

	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrDeliveryDegraded       = errors.New("email delivery degraded")

	ErrInvalidToken = errors.New("invalid or expired token")
)
