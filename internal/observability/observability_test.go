package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"OptionLedger/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getJSON(t *testing.T, h http.HandlerFunc) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthChecker_Lifecycle(t *testing.T) {
	hc := observability.NewHealthChecker()

	code, body := getJSON(t, hc.LivenessHandler)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "starting", body["phase"])

	hc.SetPhase("replaying")
	code, body = getJSON(t, hc.ReadinessHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "replaying", body["phase"])

	hc.SetReady(true)
	assert.True(t, hc.IsReady())
	code, body = getJSON(t, hc.ReadinessHandler)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "serving", body["phase"])
}

func TestHealthChecker_FailingDependency(t *testing.T) {
	hc := observability.NewHealthChecker()
	hc.SetReady(true)

	brokerDown := errors.New("nats: no servers available")
	hc.AddCheck("postgres", func(context.Context) error { return nil })
	hc.AddCheck("nats", func(context.Context) error { return brokerDown })

	failures := hc.RunChecks(context.Background())
	assert.Equal(t, map[string]string{"nats": brokerDown.Error()}, failures)

	code, body := getJSON(t, hc.ReadinessHandler)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body["checks"], "nats")
	assert.NotContains(t, body["checks"], "postgres")
}

func TestNewMetricsWith_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetricsWith(reg)

	m.PublishDrops.Inc()
	m.QueryRequests.WithLabelValues("balances", "OK").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishDrops))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.QueryRequests.WithLabelValues("balances", "OK")))

	// a second set on a fresh registry does not collide
	assert.NotPanics(t, func() { observability.NewMetricsWith(prometheus.NewRegistry()) })
}
