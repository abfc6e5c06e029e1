package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/baseline"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/execution"
	"github.com/ictengine/core/internal/orchestrator"
	"github.com/ictengine/core/internal/pattern"
	"github.com/ictengine/core/internal/sharedmem"
	"github.com/ictengine/core/internal/telemetry"
)

type fakeSource struct{}

func (fakeSource) Patterns(symbol string, timeframes []string) []pattern.Pattern {
	return []pattern.Pattern{{Kind: pattern.KindFVG, Direction: pattern.Bullish, EnhancedConfidence: 0.8}}
}

type noopBroker struct{}

func (noopBroker) Connected() bool { return true }
func (noopBroker) SubmitOrder(ctx context.Context, req execution.OrderRequest) (execution.OrderResult, error) {
	return execution.OrderResult{Accepted: true}, nil
}

type noopJournal struct{}

func (noopJournal) Append(execution.Event) error { return nil }

type noopSnapshotter struct{}

func (noopSnapshotter) Snapshot(map[string]float64) error { return nil }

func testServer() *Server {
	orch := orchestrator.New(fakeSource{}, sharedmem.New(), config.Orchestrator{
		ConsolidatedTTLMs:       1000,
		HighConfidenceThreshold: 0.75,
		ScalpingTimeframes:      []string{"M5", "M15"},
	})
	execRouter := execution.New(noopBroker{}, noopJournal{}, noopSnapshotter{})
	monitor := baseline.New(config.Baseline{RetentionDays: 30})
	reg := telemetry.New()

	return New(DefaultConfig(), orch, execRouter, monitor, nil, reg, []string{"M15", "H4"})
}

func TestHandleHealth_NoSamplerReturnsOK(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandlePatterns_ReturnsConsolidatedView(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/patterns/eurusd", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "BestOverallSetup")
}

func TestHandlePositions_ReturnsEmptyMap(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/positions", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "{}", rec.Body.String())
}

func TestHandleNotFound(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDMiddleware_SetsResponseHeader(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestShutdown_WithoutStartIsNoop(t *testing.T) {
	s := testServer()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
