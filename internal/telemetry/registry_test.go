package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllMetricsWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		New()
	})
}

func TestHandler_ServesPrometheusExposition(t *testing.T) {
	r := New()
	r.PatternsDetected.WithLabelValues("fvg", "EURUSD").Inc()
	r.RiskApprovals.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "ictengine_patterns_detected_total")
	require.Contains(t, w.Body.String(), "ictengine_risk_approvals_total")
}
