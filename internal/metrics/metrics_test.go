package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector()
	c.Record(http.MethodGet, "/v1/login", 200, 10*time.Millisecond)
	c.Record(http.MethodGet, "/v1/login", 200, 20*time.Millisecond)
	c.Record(http.MethodGet, "", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "/v1/login", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("GET", "unmatched", "404")))
}

func TestCollector_LoginOutcomes(t *testing.T) {
	c := NewCollector()
	c.LoginOutcome("bound")
	c.LoginOutcome("HWID_MISMATCH")
	c.LoginOutcome("HWID_MISMATCH")
	c.Conflict("bind")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.logins.WithLabelValues("HWID_MISMATCH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.store.WithLabelValues("bind")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.LoginOutcome("matched")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `licensegate_logins_total{outcome="matched"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
