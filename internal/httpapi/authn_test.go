package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siarheistar/psc-accounting-app-sub002/internal/auth"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/rbac"
	"github.com/siarheistar/psc-accounting-app-sub002/internal/store/memory"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// identities maps bearer tokens to the subjects the stub verifier vouches for.
var identities = map[string]string{
	"tok-viewer":   "sub-viewer",
	"tok-admin":    "sub-admin",
	"tok-new":      "sub-new",
	"tok-disabled": "sub-disabled",
}

func stubVerifier() auth.Verifier {
	return auth.VerifierFunc(func(ctx context.Context, credential string) (auth.ExternalIdentity, error) {
		switch credential {
		case "tok-expired":
			return auth.ExternalIdentity{}, auth.ErrCredentialExpired
		case "tok-revoked":
			return auth.ExternalIdentity{}, auth.ErrCredentialRevoked
		case "tok-slow":
			<-ctx.Done()
			return auth.ExternalIdentity{}, ctx.Err()
		case "tok-broken":
			return auth.ExternalIdentity{}, fmt.Errorf("%w: jwks endpoint returned 502", auth.ErrProviderUnavailable)
		}
		sub, ok := identities[credential]
		if !ok {
			return auth.ExternalIdentity{}, auth.ErrCredentialInvalid
		}
		return auth.ExternalIdentity{
			Subject:   sub,
			Email:     sub + "@example.com",
			IssuedAt:  testNow,
			ExpiresAt: testNow.Add(time.Hour),
		}, nil
	})
}

type fixture struct {
	store   *memory.Store
	demo    auth.Company
	builder *Builder
	api     *API
}

func newFixture(t *testing.T, tenants TenantAccess, opts ...BuilderOption) *fixture {
	t.Helper()
	st := memory.New()
	demo := auth.Company{ID: "demo", Name: "Demo Ltd", Status: auth.StatusActive, IsDemo: true}
	require.NoError(t, st.PutCompany(demo))
	require.NoError(t, st.PutCompany(auth.Company{ID: "acme", Name: "Acme", Status: auth.StatusActive}))
	require.NoError(t, st.PutCompany(auth.Company{ID: "globex", Name: "Globex", Status: auth.StatusActive}))
	require.NoError(t, st.PutCompany(auth.Company{ID: "closed", Name: "Closed", Status: "suspended"}))

	require.NoError(t, st.PutUser(auth.User{ID: "u-viewer", ExternalSubject: "sub-viewer", Email: "v@example.com"}))
	require.NoError(t, st.PutUser(auth.User{ID: "u-admin", ExternalSubject: "sub-admin", Email: "a@example.com"}))
	require.NoError(t, st.PutUser(auth.User{ID: "u-disabled", ExternalSubject: "sub-disabled", Status: "disabled"}))

	require.NoError(t, st.PutGrant(auth.Grant{UserID: "u-viewer", CompanyID: "acme", Role: rbac.RoleViewer,
		Overrides: map[string]bool{rbac.CapExportData: true}}))
	require.NoError(t, st.PutGrant(auth.Grant{UserID: "u-viewer", CompanyID: "closed", Role: rbac.RoleViewer}))
	require.NoError(t, st.PutGrant(auth.Grant{UserID: "u-admin", CompanyID: "acme", Role: rbac.RoleAdmin}))

	if tenants == nil {
		tenants = auth.NewTenantResolver(st)
	}
	dir := auth.NewDirectory(st, auth.WithDirectoryClock(func() time.Time { return testNow }))
	b := NewBuilder(stubVerifier(), dir, tenants, rbac.Default(), demo, opts...)
	api := New(b, auth.NewTenantResolver(st), WithRateLimit(1000, 1000), WithReadyProbe(ReadyProbe{Store: st}))
	return &fixture{store: st, demo: demo, builder: b, api: api}
}

func (f *fixture) do(t *testing.T, method, target, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = jsonRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set(authHeader, "Bearer "+token)
	}
	req.Header.Set(requestIDHeader, "req-fixed")
	rr := httptest.NewRecorder()
	f.api.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) contextView {
	t.Helper()
	var v contextView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthIsDemoWithoutCredential(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "demo", body["demo_company_id"])
}

func TestProtectedPathWithoutCredentialIsNotDemo(t *testing.T) {
	f := newFixture(t, nil)
	for _, p := range []string{"/api/invoices", "/api/me", "/api/companies/acme/context", "/demonstration"} {
		rr := f.do(t, http.MethodGet, p, "", "")
		require.Equal(t, http.StatusUnauthorized, rr.Code, p)
		assert.Equal(t, CodeCredentialMissing, decodeError(t, rr).Error.Code, p)
		assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"), p)
	}
}

func TestNonCanonicalPathWithoutCredentialIsNotDemo(t *testing.T) {
	f := newFixture(t, nil)
	for _, p := range []string{
		"/api/companies/..%2F..%2F..%2Fdemo/context",
		"/api/companies/..%2F..%2F..%2Fdemo/members",
		"/api/companies/..%2F..%2F..%2Fhealth/permissions",
		"/api/../demo/context",
		"/demo/../api/me",
		"/demo%2F..%2Fapi%2Fme",
		"//demo/context",
	} {
		rr := f.do(t, http.MethodGet, p, "", "")
		require.Equal(t, http.StatusUnauthorized, rr.Code, p)
		assert.Equal(t, CodeCredentialMissing, decodeError(t, rr).Error.Code, p)
		assert.NotContains(t, rr.Body.String(), `"demo":true`, p)
	}
}

func TestBuildRejectsEncodedDemoPath(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.builder.Build(httptest.NewRequest(http.MethodGet, "/api/companies/..%2F..%2F..%2Fdemo/context", nil))
	assert.ErrorIs(t, err, auth.ErrCredentialMissing)
}

func TestDemoIgnoresCallerTenant(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/demo/context?company_id=acme", "tok-viewer", "")
	require.Equal(t, http.StatusOK, rr.Code)

	v := decodeView(t, rr)
	assert.True(t, v.Demo)
	assert.Nil(t, v.User)
	assert.Equal(t, "demo", v.Company.ID)
	assert.Equal(t, rbac.RoleDemo, v.Role)
	assert.Len(t, v.Granted, len(rbac.Default().Capabilities()))
}

func TestDemoPassesRoleGate(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/demo/members", "", "")
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestCredentialFailuresHaveDistinctCodes(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]string{
		"tok-expired":  CodeCredentialExpired,
		"tok-revoked":  CodeCredentialRevoked,
		"garbage":      CodeCredentialInvalid,
		"tok-disabled": CodeCredentialRevoked,
	}
	for token, code := range cases {
		rr := f.do(t, http.MethodGet, "/api/me", token, "")
		require.Equal(t, http.StatusUnauthorized, rr.Code, token)
		assert.Equal(t, code, decodeError(t, rr).Error.Code, token)
	}

	expired := decodeError(t, f.do(t, http.MethodGet, "/api/me", "tok-expired", ""))
	invalid := decodeError(t, f.do(t, http.MethodGet, "/api/me", "garbage", ""))
	assert.NotEqual(t, expired.Error.Message, invalid.Error.Message)
}

func TestNonBearerSchemeIsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	for _, header := range []string{"Basic dXNlcjpwYXNz", "Bearer", "Bearer    "} {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set(authHeader, header)
		rr := httptest.NewRecorder()
		f.api.Handler().ServeHTTP(rr, req)
		require.Equal(t, http.StatusUnauthorized, rr.Code, header)
		assert.Equal(t, CodeCredentialInvalid, decodeError(t, rr).Error.Code, header)
	}
}

func TestFirstLoginProvisionsUser(t *testing.T) {
	f := newFixture(t, nil)
	before := f.store.UserCount()

	rr := f.do(t, http.MethodGet, "/api/me", "tok-new", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var u auth.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &u))
	assert.Equal(t, "sub-new", u.ExternalSubject)
	assert.Equal(t, before+1, f.store.UserCount())

	rr = f.do(t, http.MethodGet, "/api/me", "tok-new", "")
	var again auth.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &again))
	assert.Equal(t, u.ID, again.ID)
	assert.Equal(t, before+1, f.store.UserCount())
}

func TestTenantResolutionFromPathBodyAndQuery(t *testing.T) {
	f := newFixture(t, nil)

	v := decodeView(t, f.do(t, http.MethodGet, "/api/companies/acme/context", "tok-viewer", ""))
	assert.Equal(t, "acme", v.Company.ID)
	require.NotNil(t, v.User)
	assert.Equal(t, "u-viewer", v.User.ID)

	v = decodeView(t, f.do(t, http.MethodPost, "/api/context?company_id=globex", "tok-viewer", `{"company_id":"acme"}`))
	assert.Equal(t, "acme", v.Company.ID)

	v = decodeView(t, f.do(t, http.MethodGet, "/api/context?company_id=acme", "tok-viewer", ""))
	assert.Equal(t, "acme", v.Company.ID)
	assert.Equal(t, rbac.RoleViewer, v.Role)
}

func TestTenantIDErrors(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, http.MethodGet, "/api/context", "tok-viewer", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeTenantIDMissing, decodeError(t, rr).Error.Code)

	rr = f.do(t, http.MethodGet, "/api/context?company_id=a%20b", "tok-viewer", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, CodeTenantIDInvalid, decodeError(t, rr).Error.Code)
}

func TestAccessDeniedBodyDoesNotRevealExistence(t *testing.T) {
	f := newFixture(t, nil)

	existing := f.do(t, http.MethodGet, "/api/companies/globex/context", "tok-viewer", "")
	missing := f.do(t, http.MethodGet, "/api/companies/nope/context", "tok-viewer", "")

	require.Equal(t, http.StatusForbidden, existing.Code)
	require.Equal(t, http.StatusForbidden, missing.Code)
	assert.Equal(t, CodeAccessDenied, decodeError(t, existing).Error.Code)
	assert.Equal(t, existing.Body.String(), missing.Body.String())
}

func TestInactiveCompanyWithGrantIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/api/companies/closed/context", "tok-viewer", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, CodeTenantNotFound, body.Error.Code)

	denied := decodeError(t, f.do(t, http.MethodGet, "/api/companies/globex/context", "tok-viewer", ""))
	assert.Equal(t, denied.Error.Message, body.Error.Message)
}

func TestGrantOverridesApply(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/api/companies/acme/permissions", "tok-viewer", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Role        rbac.Role          `json:"role"`
		Permissions rbac.PermissionSet `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, rbac.RoleViewer, body.Role)
	assert.True(t, body.Permissions.Has(rbac.CapExportData))
	assert.False(t, body.Permissions.Has(rbac.CapCreateInvoices))
}

func TestPermissionGate(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, http.MethodGet, "/api/companies/acme/members", "tok-viewer", "")
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, CodeInsufficientPermission, decodeError(t, rr).Error.Code)

	rr = f.do(t, http.MethodGet, "/api/companies/acme/members", "tok-admin", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Members []memberView `json:"members"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Members, 2)
}

func TestCompaniesListsMemberships(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/api/companies", "tok-viewer", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Companies []membershipView `json:"companies"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Companies, 1)
	assert.Equal(t, "acme", body.Companies[0].Company.ID)
}

func TestVerifierTimeoutIsInvalidCredential(t *testing.T) {
	f := newFixture(t, nil, WithTimeouts(20*time.Millisecond, time.Second))
	rr := f.do(t, http.MethodGet, "/api/me", "tok-slow", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, CodeCredentialInvalid, decodeError(t, rr).Error.Code)
}

type tenantFunc func(ctx context.Context, userID, companyID string) (auth.Grant, auth.Company, error)

func (f tenantFunc) Resolve(ctx context.Context, userID, companyID string) (auth.Grant, auth.Company, error) {
	return f(ctx, userID, companyID)
}

func TestTenantStoreTimeoutIsAccessDenied(t *testing.T) {
	slow := tenantFunc(func(ctx context.Context, _, _ string) (auth.Grant, auth.Company, error) {
		<-ctx.Done()
		return auth.Grant{}, auth.Company{}, ctx.Err()
	})
	f := newFixture(t, slow, WithTimeouts(time.Second, 20*time.Millisecond))

	rr := f.do(t, http.MethodGet, "/api/companies/acme/context", "tok-viewer", "")
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, CodeAccessDenied, decodeError(t, rr).Error.Code)
}

func TestStoreOutageIsGenericInternalError(t *testing.T) {
	down := tenantFunc(func(context.Context, string, string) (auth.Grant, auth.Company, error) {
		return auth.Grant{}, auth.Company{}, errors.New("dial tcp 10.0.0.5:5432: connection refused")
	})
	f := newFixture(t, down)

	rr := f.do(t, http.MethodGet, "/api/companies/acme/context", "tok-viewer", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.NotContains(t, rr.Body.String(), "10.0.0.5")

	rr = f.do(t, http.MethodGet, "/api/me", "tok-broken", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "jwks")
}

func TestCanceledRequestWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	called := false
	h := f.builder.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil).WithContext(ctx)
	req.Header.Set(authHeader, "Bearer tok-slow")
	rr := httptest.NewRecorder()

	time.AfterFunc(10*time.Millisecond, cancel)
	h.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Zero(t, rr.Body.Len())
	assert.False(t, rr.Flushed)
	assert.Empty(t, rr.Header().Get("Content-Type"))
}

func TestBuildRunsWholePipeline(t *testing.T) {
	f := newFixture(t, nil)

	req := withPathParam(httptest.NewRequest(http.MethodGet, "/api/companies/acme/context", nil), "acme")
	req.Header.Set(authHeader, "Bearer tok-admin")
	rc, err := f.builder.Build(req)
	require.NoError(t, err)
	assert.False(t, rc.IsDemo())
	assert.Equal(t, rbac.RoleAdmin, rc.Role())
	assert.NoError(t, rc.RequireRole(rbac.RoleAccountant))
	assert.ErrorIs(t, rc.RequireRole(rbac.RoleOwner), auth.ErrInsufficientRole)

	rc, err = f.builder.Build(httptest.NewRequest(http.MethodGet, "/demo", nil))
	require.NoError(t, err)
	assert.True(t, rc.IsDemo())
	assert.Equal(t, f.demo.ID, rc.Company().ID)

	_, err = f.builder.Build(httptest.NewRequest(http.MethodGet, "/api/x", nil))
	assert.ErrorIs(t, err, auth.ErrCredentialMissing)
}

func TestUnknownDemoPathIsNotFound(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/demo/nothing-here", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestReadyz(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "ready"))
}

func TestProblemForStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{auth.ErrCredentialMissing, http.StatusUnauthorized, CodeCredentialMissing},
		{auth.ErrProviderUnavailable, http.StatusInternalServerError, CodeInternal},
		{auth.ErrUserDisabled, http.StatusUnauthorized, CodeCredentialRevoked},
		{auth.ErrTenantIDMissing, http.StatusBadRequest, CodeTenantIDMissing},
		{auth.ErrAccessDenied, http.StatusForbidden, CodeAccessDenied},
		{auth.ErrTenantNotFound, http.StatusNotFound, CodeTenantNotFound},
		{auth.ErrInsufficientRole, http.StatusForbidden, CodeInsufficientRole},
		{errInvalidBody, http.StatusBadRequest, CodeInvalidBody},
		{errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, code, msg := problemFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
		assert.NotEmpty(t, msg)
	}
}
