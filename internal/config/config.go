// Package config reads the API's settings from PSC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	AuthJWT  = "jwt"
	AuthOIDC = "oidc"
)

// Config is the fully parsed service configuration.
type Config struct {
	Addr  string
	PGDSN string
	Store string

	AuthMode      string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	OIDCIssuer    string
	OIDCClientID  string

	DemoCompanyID   string
	PermissionsFile string

	VerifyTimeout     time.Duration
	StoreTimeout      time.Duration
	IdentityCacheSize int
	IdentityCacheTTL  time.Duration

	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
	CORSOrigins  []string
	LogLevel     string
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv and validates it.
func LoadFrom(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		Addr:              p.str("PSC_ADDR", ":8080"),
		PGDSN:             p.str("PSC_PG_DSN", ""),
		Store:             strings.ToLower(p.str("PSC_STORE", "")),
		AuthMode:          strings.ToLower(p.str("PSC_AUTH_MODE", AuthJWT)),
		JWTSigningKey:     p.str("PSC_JWT_SIGNING_KEY", ""),
		JWTIssuer:         p.str("PSC_JWT_ISSUER", ""),
		JWTAudience:       p.str("PSC_JWT_AUDIENCE", ""),
		OIDCIssuer:        p.str("PSC_OIDC_ISSUER", ""),
		OIDCClientID:      p.str("PSC_OIDC_CLIENT_ID", ""),
		DemoCompanyID:     p.str("PSC_DEMO_COMPANY_ID", ""),
		PermissionsFile:   p.str("PSC_PERMISSIONS_FILE", ""),
		VerifyTimeout:     p.duration("PSC_VERIFY_TIMEOUT", 5*time.Second),
		StoreTimeout:      p.duration("PSC_STORE_TIMEOUT", 3*time.Second),
		IdentityCacheSize: p.integer("PSC_IDENTITY_CACHE_SIZE", 1024),
		IdentityCacheTTL:  p.duration("PSC_IDENTITY_CACHE_TTL", time.Minute),
		RateBurst:         p.integer("PSC_RATE_BURST", 20),
		RatePerSec:        p.integer("PSC_RATE_PER_SEC", 10),
		MaxBodyBytes:      int64(p.integer("PSC_MAX_BODY_BYTES", 1<<20)),
		CORSOrigins:       p.list("PSC_CORS_ORIGINS"),
		LogLevel:          p.str("PSC_LOG_LEVEL", "info"),
	}
	if cfg.Store == "" {
		cfg.Store = StoreMemory
		if cfg.PGDSN != "" {
			cfg.Store = StorePostgres
		}
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PGDSN == "" {
			errs = append(errs, errors.New("PSC_PG_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("PSC_STORE: unknown store %q", c.Store))
	}
	switch c.AuthMode {
	case AuthJWT:
		if c.JWTSigningKey == "" {
			errs = append(errs, errors.New("PSC_JWT_SIGNING_KEY is required for jwt auth"))
		}
	case AuthOIDC:
		if c.OIDCIssuer == "" || c.OIDCClientID == "" {
			errs = append(errs, errors.New("PSC_OIDC_ISSUER and PSC_OIDC_CLIENT_ID are required for oidc auth"))
		}
	default:
		errs = append(errs, fmt.Errorf("PSC_AUTH_MODE: unknown mode %q", c.AuthMode))
	}
	if c.VerifyTimeout <= 0 || c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("PSC_MAX_BODY_BYTES must be positive"))
	}
	if c.IdentityCacheSize < 0 || c.IdentityCacheTTL < 0 {
		errs = append(errs, errors.New("identity cache settings must not be negative"))
	}
	return errors.Join(errs...)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(p.getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) list(key string) []string {
	var out []string
	for _, part := range strings.Split(p.getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
