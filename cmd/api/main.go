package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/audit"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/config"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/httpapi"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/obs"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/rbac"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/store/memory"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// accessStore is what the service needs from a storage backend.
type accessStore interface {
	auth.UserStore
	auth.TenantStore
	auth.RevocationStore
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := obs.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	obs.SetLogger(logger)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	table := rbac.Default()
	if cfg.PermissionsFile != "" {
		t, err := rbac.Load(cfg.PermissionsFile)
		if err != nil {
			return err
		}
		table = t
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	verifier, err := newVerifier(startCtx, cfg, store)
	if err != nil {
		return err
	}

	tenants := auth.NewTenantResolver(store)
	demo, err := tenants.DemoCompany(startCtx, cfg.DemoCompanyID)
	if err != nil {
		return fmt.Errorf("demo company: %w", err)
	}

	directory := auth.NewDirectory(store, auth.WithProvisionHook(audit.UserProvisioned))

	builder := httpapi.NewBuilder(verifier, directory, tenants, table, demo,
		httpapi.WithTimeouts(cfg.VerifyTimeout, cfg.StoreTimeout),
		httpapi.WithBodyLimit(cfg.MaxBodyBytes),
	)
	api := httpapi.New(builder, tenants,
		httpapi.WithVersion(version),
		httpapi.WithReadyProbe(httpapi.ReadyProbe{Store: store, Timeout: cfg.StoreTimeout}),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting psc-accounting-api",
		zap.String("version", version),
		zap.String("addr", srv.Addr),
		zap.String("store", cfg.Store),
		zap.String("auth_mode", cfg.AuthMode),
		zap.String("demo_company_id", demo.ID),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-stop:
	}
	logger.Info("shutting down")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}

func openStore(cfg config.Config) (accessStore, func(), error) {
	if cfg.Store == config.StoreMemory {
		st := memory.New()
		if err := st.PutCompany(auth.Company{
			ID:        "demo",
			Name:      "Demo Company",
			Status:    auth.StatusActive,
			IsDemo:    true,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
	st, err := pg.Open(cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}

func newVerifier(ctx context.Context, cfg config.Config, revocations auth.RevocationStore) (auth.Verifier, error) {
	var (
		v   auth.Verifier
		err error
	)
	opts := []auth.VerifierOption{auth.WithRevocations(revocations)}
	switch cfg.AuthMode {
	case config.AuthOIDC:
		v, err = auth.NewOIDCVerifier(ctx, auth.OIDCConfig{Issuer: cfg.OIDCIssuer, ClientID: cfg.OIDCClientID}, opts...)
	default:
		v, err = auth.NewJWTVerifier(auth.JWTConfig{
			SigningKey: cfg.JWTSigningKey,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
		}, opts...)
	}
	if err != nil {
		return nil, err
	}
	if cfg.IdentityCacheSize == 0 {
		return v, nil
	}
	return auth.NewCachedVerifier(v, cfg.IdentityCacheSize, cfg.IdentityCacheTTL, cfg.VerifyTimeout,
		auth.WithCacheObserver(obs.IdentityCacheLookup),
	), nil
}
