package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures verification of provider-issued JWTs.
type JWTConfig struct {
	SigningKey string // raw HMAC secret or path to a PEM public key
	Issuer     string // expected "iss"; empty skips the check
	Audience   string // expected "aud"; empty skips the check
}

// JWTVerifier validates JWTs signed with a shared secret or a static public key.
type JWTVerifier struct {
	cfg        verifierConfig
	parserOpts []jwt.ParserOption
	keyFunc    jwt.Keyfunc
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier builds a verifier. A SigningKey naming a readable file is
// parsed as an RSA or ECDSA PEM public key; otherwise it is an HMAC secret.
func NewJWTVerifier(config JWTConfig, opts ...VerifierOption) (*JWTVerifier, error) {
	if strings.TrimSpace(config.SigningKey) == "" {
		return nil, errors.New("auth: jwt signing key is required")
	}
	key, methods, err := parseSigningKey(config.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("auth: parse signing key: %w", err)
	}
	cfg := newVerifierConfig(opts)

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(cfg.now),
	}
	if cfg.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(cfg.leeway))
	}
	if config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(config.Audience))
	}

	return &JWTVerifier{
		cfg:        cfg,
		parserOpts: parserOpts,
		keyFunc: func(*jwt.Token) (any, error) {
			return key, nil
		},
	}, nil
}

func parseSigningKey(input string) (any, []string, error) {
	info, err := os.Stat(input)
	if err == nil && !info.IsDir() {
		pemBytes, err := os.ReadFile(input)
		if err != nil {
			return nil, nil, fmt.Errorf("read PEM file: %w", err)
		}
		if key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes); err == nil {
			return key, []string{"RS256", "RS384", "RS512"}, nil
		}
		if key, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
			return key, []string{"ES256", "ES384", "ES512"}, nil
		}
		return nil, nil, errors.New("PEM file contains no recognized RSA or ECDSA public key")
	}
	return []byte(input), []string{"HS256", "HS384", "HS512"}, nil
}

// Verify parses the token and maps the outcome onto the credential errors.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (ExternalIdentity, error) {
	if err := ctx.Err(); err != nil {
		return ExternalIdentity{}, err
	}
	token, err := jwt.Parse(credential, v.keyFunc, v.parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ExternalIdentity{}, fmt.Errorf("%w: %v", ErrCredentialExpired, err)
		}
		return ExternalIdentity{}, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ExternalIdentity{}, fmt.Errorf("%w: unexpected claims type", ErrCredentialInvalid)
	}

	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return ExternalIdentity{}, fmt.Errorf("%w: missing subject", ErrCredentialInvalid)
	}
	id := ExternalIdentity{
		Subject:     sub,
		Email:       stringClaim(claims, "email"),
		DisplayName: optionalString(stringClaim(claims, "name")),
		AvatarURL:   optionalString(stringClaim(claims, "picture")),
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		id.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}

	if err := v.cfg.checkRevoked(ctx, id); err != nil {
		return ExternalIdentity{}, err
	}
	return id, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}
