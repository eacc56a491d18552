package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRouteLabelUsesPattern(t *testing.T) {
	r := chi.NewRouter()
	var label string
	r.Get("/api/companies/{company_id}/context", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
		label = RouteLabel(req)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/companies/acme-1/context", nil))
	assert.Equal(t, "/api/companies/{company_id}/context", label)

	assert.Equal(t, "unmatched", RouteLabel(httptest.NewRequest(http.MethodGet, "/nowhere", nil)))
}

func TestInstrumentCountsByRoute(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/api/companies/{company_id}/members", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	const route = "/api/companies/{company_id}/members"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, route, "418"))
	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/companies/"+id+"/members", nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, route, "418"))
	assert.Equal(t, float64(3), after-before)
}

func TestAuthCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(authDecisions.WithLabelValues("rejected", "access_denied"))
	ObserveAuthDecision("rejected", "access_denied", 3*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(authDecisions.WithLabelValues("rejected", "access_denied"))-before)

	hits := testutil.ToFloat64(identityCacheRequests.WithLabelValues("hit"))
	IdentityCacheLookup("hit")
	assert.Equal(t, float64(1), testutil.ToFloat64(identityCacheRequests.WithLabelValues("hit"))-hits)

	prov := testutil.ToFloat64(usersProvisioned)
	UserProvisioned()
	assert.Equal(t, float64(1), testutil.ToFloat64(usersProvisioned)-prov)
}

func TestBuildInfo(t *testing.T) {
	InitBuildInfo("1.2.3", "abc123")
	InitBuildInfo("1.2.4", "def456")

	assert.Equal(t, 1, testutil.CollectAndCount(buildInfo))
	assert.Equal(t, float64(1), testutil.ToFloat64(buildInfo.WithLabelValues("1.2.4", "def456")))
}

func TestNewLoggerLevels(t *testing.T) {
	l, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger("")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
