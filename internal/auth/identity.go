package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Verifier validates an opaque bearer credential with the identity provider.
// Failures wrap ErrCredentialInvalid, ErrCredentialExpired or
// ErrCredentialRevoked; anything else is a dependency failure.
type Verifier interface {
	Verify(ctx context.Context, credential string) (ExternalIdentity, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, credential string) (ExternalIdentity, error)

func (f VerifierFunc) Verify(ctx context.Context, credential string) (ExternalIdentity, error) {
	return f(ctx, credential)
}

// VerifierOption configures the JWT and OIDC verifiers.
type VerifierOption func(*verifierConfig)

type verifierConfig struct {
	revocations RevocationStore
	now         func() time.Time
	leeway      time.Duration
}

func newVerifierConfig(opts []VerifierOption) verifierConfig {
	cfg := verifierConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithRevocations enables the revocation check against the given store.
func WithRevocations(store RevocationStore) VerifierOption {
	return func(c *verifierConfig) {
		c.revocations = store
	}
}

// WithVerifierClock overrides the clock used for expiry checks.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(c *verifierConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLeeway tolerates clock skew on time-based claims.
func WithLeeway(d time.Duration) VerifierOption {
	return func(c *verifierConfig) {
		if d > 0 {
			c.leeway = d
		}
	}
}

func (c verifierConfig) checkRevoked(ctx context.Context, id ExternalIdentity) error {
	if c.revocations == nil {
		return nil
	}
	cutoff, ok, err := c.revocations.RevokedBefore(ctx, id.Subject)
	if err != nil {
		return fmt.Errorf("revocation lookup: %w", err)
	}
	if ok && !id.IssuedAt.After(cutoff) {
		return fmt.Errorf("%w: issued %s, revoked before %s", ErrCredentialRevoked,
			id.IssuedAt.UTC().Format(time.RFC3339), cutoff.UTC().Format(time.RFC3339))
	}
	return nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
