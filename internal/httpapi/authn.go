package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/obs"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/rbac"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

const (
	defaultVerifyTimeout = 5 * time.Second
	defaultStoreTimeout  = 3 * time.Second
	defaultMaxBody       = 1 << 20
)

// Decision outcomes recorded in auth_decisions_total.
const (
	outcomeDemo          = "demo"
	outcomeAuthenticated = "authenticated"
	outcomeTenant        = "tenant"
	outcomeRejected      = "rejected"
	outcomeAbandoned     = "abandoned"
)

// errAbandoned marks work dropped because the caller went away.
var errAbandoned = errors.New("httpapi: request abandoned")

// UserDirectory maps a verified identity to an internal user.
type UserDirectory interface {
	FindOrCreate(ctx context.Context, id auth.ExternalIdentity) (auth.User, error)
}

// TenantAccess decides whether a user may act on a company.
type TenantAccess interface {
	Resolve(ctx context.Context, userID, companyID string) (auth.Grant, auth.Company, error)
}

// Builder turns an HTTP request into an auth.RequestContext: demo check,
// credential verification, user lookup, then tenant resolution.
type Builder struct {
	gate          auth.DemoGate
	verifier      auth.Verifier
	directory     UserDirectory
	tenants       TenantAccess
	table         *rbac.Table
	demo          auth.Company
	verifyTimeout time.Duration
	storeTimeout  time.Duration
	maxBody       int64
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithDemoGate replaces the default /demo + /health gate.
func WithDemoGate(g auth.DemoGate) BuilderOption {
	return func(b *Builder) { b.gate = g }
}

// WithTimeouts bounds the identity call and each store call.
func WithTimeouts(verify, store time.Duration) BuilderOption {
	return func(b *Builder) {
		if verify > 0 {
			b.verifyTimeout = verify
		}
		if store > 0 {
			b.storeTimeout = store
		}
	}
}

// WithBodyLimit caps how much of a JSON body is read for the tenant id.
func WithBodyLimit(n int64) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxBody = n
		}
	}
}

// NewBuilder wires the pipeline. demo is the company every demo request is
// bound to.
func NewBuilder(verifier auth.Verifier, directory UserDirectory, tenants TenantAccess, table *rbac.Table, demo auth.Company, opts ...BuilderOption) *Builder {
	if table == nil {
		table = rbac.Default()
	}
	b := &Builder{
		gate:          auth.DefaultDemoGate(),
		verifier:      verifier,
		directory:     directory,
		tenants:       tenants,
		table:         table,
		demo:          demo,
		verifyTimeout: defaultVerifyTimeout,
		storeTimeout:  defaultStoreTimeout,
		maxBody:       defaultMaxBody,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs the whole pipeline for r.
func (b *Builder) Build(r *http.Request) (auth.RequestContext, error) {
	if rc, ok := b.demoContext(r); ok {
		return rc, nil
	}
	user, err := b.authenticate(r)
	if err != nil {
		return auth.RequestContext{}, err
	}
	return b.resolveTenant(r, user)
}

// Authenticate attaches the demo context on demo paths and the verified user
// everywhere else. Requests without a usable credential are rejected here.
func (b *Builder) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || authenticated(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		if rc, ok := b.demoContext(r); ok {
			obs.ObserveAuthDecision(outcomeDemo, "", time.Since(start))
			next.ServeHTTP(w, r.WithContext(auth.ContextWithRequestContext(r.Context(), rc)))
			return
		}
		user, err := b.authenticate(r)
		if err != nil {
			b.reject(w, r, start, err)
			return
		}
		obs.ObserveAuthDecision(outcomeAuthenticated, "", time.Since(start))
		next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
	})
}

// ResolveTenant completes the context for tenant-scoped routes. It must run
// after routing so the {company_id} path parameter is known. Demo contexts
// pass through untouched.
func (b *Builder) ResolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rc, ok := auth.RequestContextFrom(r.Context()); ok && rc.IsDemo() {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			var err error
			if user, err = b.authenticate(r); err != nil {
				b.reject(w, r, start, err)
				return
			}
		}
		rc, err := b.resolveTenant(r, user)
		if err != nil {
			b.reject(w, r, start, err)
			return
		}
		obs.ObserveAuthDecision(outcomeTenant, "", time.Since(start))
		next.ServeHTTP(w, r.WithContext(auth.ContextWithRequestContext(r.Context(), rc)))
	})
}

func authenticated(ctx context.Context) bool {
	if _, ok := auth.RequestContextFrom(ctx); ok {
		return true
	}
	_, ok := auth.UserFromContext(ctx)
	return ok
}

func (b *Builder) demoContext(r *http.Request) (auth.RequestContext, bool) {
	hasCredential := strings.TrimSpace(r.Header.Get(authHeader)) != ""
	if !b.gate.IsDemoRequest(routingPath(r), hasCredential) {
		return auth.RequestContext{}, false
	}
	return auth.NewDemoContext(b.demo, b.table.All()), true
}

// routingPath is the path chi matches routes against: the raw, still escaped
// path when the request carried one.
func routingPath(r *http.Request) string {
	if r.URL.RawPath != "" {
		return r.URL.RawPath
	}
	return r.URL.Path
}

func (b *Builder) authenticate(r *http.Request) (auth.User, error) {
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return auth.User{}, err
	}

	ctx := r.Context()
	vctx, cancel := context.WithTimeout(ctx, b.verifyTimeout)
	id, err := b.verifier.Verify(vctx, token)
	cancel()
	if err != nil {
		return auth.User{}, stageError(ctx, "verify credential", err, auth.ErrCredentialInvalid)
	}

	sctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	user, err := b.directory.FindOrCreate(sctx, id)
	cancel()
	if err != nil {
		return auth.User{}, stageError(ctx, "find user", err, auth.ErrCredentialInvalid)
	}
	return user, nil
}

func (b *Builder) resolveTenant(r *http.Request, user auth.User) (auth.RequestContext, error) {
	raw, err := TenantIDFromRequest(r, b.maxBody)
	if err != nil {
		return auth.RequestContext{}, err
	}
	companyID, err := auth.NormalizeTenantID(raw)
	if err != nil {
		return auth.RequestContext{}, err
	}

	ctx := r.Context()
	sctx, cancel := context.WithTimeout(ctx, b.storeTimeout)
	grant, company, err := b.tenants.Resolve(sctx, user.ID, companyID)
	cancel()
	if err != nil {
		return auth.RequestContext{}, stageError(ctx, "resolve tenant", err, auth.ErrAccessDenied)
	}
	perms := b.table.Resolve(grant.Role, grant.Overrides)
	return auth.NewAuthenticatedContext(user, company, grant.Role, perms), nil
}

// stageError classifies a failure of one pipeline stage. A stage that ran out
// of time is reported as timeoutAs; a caller that went away is abandoned.
func stageError(parent context.Context, stage string, err, timeoutAs error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%w: %s: %v", errAbandoned, stage, parent.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out", timeoutAs, stage)
	}
	return err
}

func (b *Builder) reject(w http.ResponseWriter, r *http.Request, start time.Time, err error) {
	log := obs.Logger().With(
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
	)
	if errors.Is(err, errAbandoned) {
		obs.ObserveAuthDecision(outcomeAbandoned, "", time.Since(start))
		log.Debug("auth_abandoned", zap.Error(err))
		return
	}
	status, code, _ := problemFor(err)
	obs.ObserveAuthDecision(outcomeRejected, code, time.Since(start))
	if status >= http.StatusInternalServerError {
		log.Error("auth_failed", zap.String("code", code), zap.Error(err))
	} else {
		log.Warn("auth_denied", zap.String("code", code), zap.Int("status", status), zap.Error(err))
	}
	writeProblem(w, r, err)
}

// RequireRole rejects requests whose context ranks below min. Demo contexts
// always pass.
func RequireRole(min rbac.Role) func(http.Handler) http.Handler {
	return gate(func(rc auth.RequestContext) error { return rc.RequireRole(min) })
}

// RequirePermission rejects requests whose context lacks the capability.
// Demo contexts always pass.
func RequirePermission(name string) func(http.Handler) http.Handler {
	return gate(func(rc auth.RequestContext) error { return rc.RequirePermission(name) })
}

func gate(check func(auth.RequestContext) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, ok := auth.RequestContextFrom(r.Context())
			if !ok {
				obs.Logger().Error("gate without request context", zap.String("path", r.URL.Path))
				writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
				return
			}
			if err := check(rc); err != nil {
				writeProblem(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", auth.ErrCredentialMissing
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", fmt.Errorf("%w: authorization scheme must be Bearer", auth.ErrCredentialInvalid)
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", auth.ErrCredentialInvalid)
	}
	return token, nil
}
