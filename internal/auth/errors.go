package auth

import "errors"

// Credential failures. All of them are rejected with 401.
var (
	ErrCredentialMissing = errors.New("auth: credential missing")
	ErrCredentialInvalid = errors.New("auth: credential invalid")
	ErrCredentialExpired = errors.New("auth: credential expired")
	ErrCredentialRevoked = errors.New("auth: credential revoked")
	ErrUserDisabled      = errors.New("auth: user disabled")
)

// ErrProviderUnavailable means the identity provider could not be reached to
// check a credential. It says nothing about the credential itself.
var ErrProviderUnavailable = errors.New("auth: identity provider unavailable")

// Tenant resolution failures.
var (
	ErrTenantIDMissing = errors.New("auth: tenant id missing")
	ErrTenantIDInvalid = errors.New("auth: tenant id invalid")
	ErrAccessDenied    = errors.New("auth: access denied")
	ErrTenantNotFound  = errors.New("auth: tenant not found")
)

// Handler gate failures.
var (
	ErrInsufficientRole       = errors.New("auth: insufficient role")
	ErrInsufficientPermission = errors.New("auth: insufficient permission")
)

// Store results.
var (
	ErrNotFound = errors.New("auth: not found")
	ErrConflict = errors.New("auth: conflict")
)
