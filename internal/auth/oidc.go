package auth

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCConfig points at an OpenID Connect issuer, e.g. Firebase Auth at
// https://securetoken.google.com/<project-id>.
type OIDCConfig struct {
	Issuer   string
	ClientID string // expected audience
}

// OIDCVerifier validates ID tokens with go-oidc.
type OIDCVerifier struct {
	cfg      verifierConfig
	verifier *oidc.IDTokenVerifier
}

var _ Verifier = (*OIDCVerifier)(nil)

type profileClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// NewOIDCVerifier runs provider discovery once and keeps the remote key set.
// Failures to fetch the issuer's keys surface as ErrProviderUnavailable.
func NewOIDCVerifier(ctx context.Context, config OIDCConfig, opts ...VerifierOption) (*OIDCVerifier, error) {
	if err := validateOIDCConfig(config); err != nil {
		return nil, err
	}
	client := &http.Client{Transport: keyFetchTransport{base: http.DefaultTransport}}
	ctx = oidc.ClientContext(ctx, client)
	provider, err := oidc.NewProvider(ctx, config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: oidc discovery for %s: %w", config.Issuer, err)
	}
	var meta struct {
		JWKSURL    string   `json:"jwks_uri"`
		Algorithms []string `json:"id_token_signing_alg_values_supported"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("auth: oidc discovery for %s: %w", config.Issuer, err)
	}
	if meta.JWKSURL == "" {
		return nil, fmt.Errorf("auth: oidc discovery for %s: no jwks_uri", config.Issuer)
	}

	cfg := newVerifierConfig(opts)
	oc := oidcConfig(config, cfg)
	oc.SupportedSigningAlgs = meta.Algorithms
	// The key set refreshes in the background for the verifier's lifetime.
	keys := providerKeySet{remote: oidc.NewRemoteKeySet(context.WithoutCancel(ctx), meta.JWKSURL)}
	return &OIDCVerifier{
		cfg:      cfg,
		verifier: oidc.NewVerifier(config.Issuer, keys, oc),
	}, nil
}

// NewStaticOIDCVerifier verifies against fixed public keys without discovery,
// as used with local identity emulators.
func NewStaticOIDCVerifier(config OIDCConfig, keys []crypto.PublicKey, opts ...VerifierOption) (*OIDCVerifier, error) {
	if err := validateOIDCConfig(config); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.New("auth: at least one public key is required")
	}
	cfg := newVerifierConfig(opts)
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		cfg:      cfg,
		verifier: oidc.NewVerifier(config.Issuer, keySet, oidcConfig(config, cfg)),
	}, nil
}

func validateOIDCConfig(config OIDCConfig) error {
	if strings.TrimSpace(config.Issuer) == "" {
		return errors.New("auth: oidc issuer is required")
	}
	if strings.TrimSpace(config.ClientID) == "" {
		return errors.New("auth: oidc client id is required")
	}
	return nil
}

func oidcConfig(config OIDCConfig, cfg verifierConfig) *oidc.Config {
	now := cfg.now
	if cfg.leeway > 0 {
		leeway := cfg.leeway
		base := cfg.now
		now = func() time.Time { return base().Add(-leeway) }
	}
	return &oidc.Config{ClientID: config.ClientID, Now: now}
}

// Verify validates the ID token and extracts the profile claims.
func (v *OIDCVerifier) Verify(ctx context.Context, credential string) (ExternalIdentity, error) {
	var fetchErr error
	token, err := v.verifier.Verify(context.WithValue(ctx, keyFetchErrKey{}, &fetchErr), credential)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ExternalIdentity{}, fmt.Errorf("oidc verify: %w", ctxErr)
		}
		if fetchErr != nil {
			return ExternalIdentity{}, fetchErr
		}
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return ExternalIdentity{}, fmt.Errorf("%w: %v", ErrCredentialExpired, err)
		}
		return ExternalIdentity{}, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	if strings.TrimSpace(token.Subject) == "" {
		return ExternalIdentity{}, fmt.Errorf("%w: missing subject", ErrCredentialInvalid)
	}
	var claims profileClaims
	if err := token.Claims(&claims); err != nil {
		return ExternalIdentity{}, fmt.Errorf("%w: decode claims: %v", ErrCredentialInvalid, err)
	}

	id := ExternalIdentity{
		Subject:     token.Subject,
		Email:       strings.TrimSpace(claims.Email),
		DisplayName: optionalString(claims.Name),
		AvatarURL:   optionalString(claims.Picture),
		IssuedAt:    token.IssuedAt,
		ExpiresAt:   token.Expiry,
	}
	if err := v.cfg.checkRevoked(ctx, id); err != nil {
		return ExternalIdentity{}, err
	}
	return id, nil
}

// go-oidc flattens key set errors into text, so fetch failures are handed
// back to Verify through a slot in the context instead.
type keyFetchErrKey struct{}

type providerKeySet struct {
	remote oidc.KeySet
}

func (k providerKeySet) VerifySignature(ctx context.Context, jwt string) ([]byte, error) {
	payload, err := k.remote.VerifySignature(ctx, jwt)
	if err != nil && errors.Is(err, ErrProviderUnavailable) {
		if slot, ok := ctx.Value(keyFetchErrKey{}).(*error); ok {
			*slot = err
		}
	}
	return payload, err
}

// keyFetchTransport tags transport failures and non-200 answers from the
// issuer with ErrProviderUnavailable.
type keyFetchTransport struct {
	base http.RoundTripper
}

func (t keyFetchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, req.URL.Redacted(), err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: %s", ErrProviderUnavailable, req.URL.Redacted(), resp.Status)
	}
	return resp, nil
}
