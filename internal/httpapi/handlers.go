package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/audit"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/obs"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/rbac"
)

const serviceName = "psc-accounting-api"

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the store before the service reports ready.
type ReadyProbe struct {
	Store   Pinger
	Timeout time.Duration
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	timeout := rp.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Directory lists memberships for the read endpoints.
type Directory interface {
	Memberships(ctx context.Context, userID string) ([]auth.Membership, error)
	Members(ctx context.Context, companyID string) ([]auth.Member, error)
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	builder    *Builder
	directory  Directory
	readyProbe ReadyProbe
	version    string
	rateBurst  int
	ratePerSec int
	maxBody    int64
	origins    []string
}

// Option configures API.
type Option func(*API)

func WithReadyProbe(rp ReadyProbe) Option { return func(a *API) { a.readyProbe = rp } }

func WithVersion(v string) Option { return func(a *API) { a.version = v } }

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithCORSOrigins lists browser origins allowed to call the API.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.origins = origins }
}

// New builds the API around a request context builder.
func New(builder *Builder, directory Directory, opts ...Option) *API {
	a := &API{
		builder:    builder,
		directory:  directory,
		version:    "dev",
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    defaultMaxBody,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a
}

// Handler returns the root handler with the middleware chain applied.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON,
		SecurityHeaders,
		CORS(a.origins),
		func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) },
		func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) },
		obs.Instrument,
	)

	r.Method(http.MethodGet, "/metrics", obs.Handler())
	r.Get("/readyz", a.Ready)

	// Unknown paths still authenticate so that they answer 401, not 404,
	// to callers without a credential.
	r.NotFound(a.builder.Authenticate(http.HandlerFunc(notFound)).ServeHTTP)
	r.MethodNotAllowed(a.builder.Authenticate(http.HandlerFunc(methodNotAllowed)).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(a.builder.Authenticate)

		r.Get("/health", a.Health)
		r.Route("/demo", func(r chi.Router) {
			r.Get("/", a.Context)
			r.Get("/context", a.Context)
			r.With(RequireRole(rbac.RoleAdmin)).Get("/members", a.Members)
		})

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", a.Me)
			r.Get("/companies", a.Companies)

			r.With(a.builder.ResolveTenant).Get("/context", a.Context)
			r.With(a.builder.ResolveTenant).Post("/context", a.Context)

			r.Route("/companies/{company_id}", func(r chi.Router) {
				r.Use(a.builder.ResolveTenant)
				r.Get("/context", a.Context)
				r.Get("/permissions", a.Permissions)
				r.With(RequirePermission(rbac.CapManageUsers)).Get("/members", a.Members)
			})
		})
	})
	return r
}

// --- Handlers ---

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	}
	if rc, ok := auth.RequestContextFrom(r.Context()); ok && rc.IsDemo() {
		resp["demo_company_id"] = rc.Company().ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.Logger().Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

type contextView struct {
	Demo        bool               `json:"demo"`
	User        *auth.User         `json:"user"`
	Company     auth.Company       `json:"company"`
	Role        rbac.Role          `json:"role"`
	Permissions rbac.PermissionSet `json:"permissions"`
	Granted     []string           `json:"granted"`
}

func viewOf(rc auth.RequestContext) contextView {
	v := contextView{
		Demo:        rc.IsDemo(),
		Company:     rc.Company(),
		Role:        rc.Role(),
		Permissions: rc.Permissions(),
		Granted:     rc.Permissions().Granted(),
	}
	if u, ok := rc.User(); ok {
		v.User = &u
	}
	return v
}

// Context echoes the resolved request context.
func (a *API) Context(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.requestContext(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rc))
}

func (a *API) Permissions(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.requestContext(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"company_id":  rc.Company().ID,
		"role":        rc.Role(),
		"permissions": rc.Permissions(),
	})
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeProblem(w, r, auth.ErrCredentialMissing)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type membershipView struct {
	Company auth.Company `json:"company"`
	Role    rbac.Role    `json:"role"`
}

func (a *API) Companies(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeProblem(w, r, auth.ErrCredentialMissing)
		return
	}
	ms, err := a.directory.Memberships(r.Context(), user.ID)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	out := make([]membershipView, 0, len(ms))
	for _, m := range ms {
		out = append(out, membershipView{Company: m.Company, Role: m.Grant.Role})
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": out})
}

type memberView struct {
	User      auth.User       `json:"user"`
	Role      rbac.Role       `json:"role"`
	Overrides map[string]bool `json:"overrides,omitempty"`
	Since     time.Time       `json:"since"`
}

// Members lists the grants of the context's company.
func (a *API) Members(w http.ResponseWriter, r *http.Request) {
	rc, ok := a.requestContext(w, r)
	if !ok {
		return
	}
	ms, err := a.directory.Members(r.Context(), rc.Company().ID)
	if err != nil {
		a.internalError(w, r, err)
		return
	}
	out := make([]memberView, 0, len(ms))
	for _, m := range ms {
		out = append(out, memberView{User: m.User, Role: m.Grant.Role, Overrides: m.Grant.Overrides, Since: m.Grant.CreatedAt})
	}
	audit.LogEvent(r.Context(), "company.members.list", map[string]any{"count": len(out)})
	writeJSON(w, http.StatusOK, map[string]any{
		"company_id": rc.Company().ID,
		"members":    out,
	})
}

// --- helpers ---

func (a *API) requestContext(w http.ResponseWriter, r *http.Request) (auth.RequestContext, bool) {
	rc, ok := auth.RequestContextFrom(r.Context())
	if !ok {
		obs.Logger().Error("handler reached without request context", zap.String("path", r.URL.Path))
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
	}
	return rc, ok
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Logger().Error("request failed",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, CodeInternal, "internal error")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, CodeNotFound, "resource not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
}
