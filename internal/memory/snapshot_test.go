package memory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

func TestGetPerformanceWeight_ColdStartReturnsConfiguredMultiplier(t *testing.T) {
	cfg := config.Default().Memory
	store := New(&cfg)

	// fresh store, OrderBlock/H1/EURUSD -> default multiplier 1.0
	require.InDelta(t, 1.0, store.GetPerformanceWeight(pattern.KindOrderBlock, "H1", "EURUSD"), 1e-9)
	require.Equal(t, StateFirstRun, store.SystemStateValue())
}

func TestExportImport_RoundTripYieldsIdenticalWeights(t *testing.T) {
	cfg := config.Default().Memory
	store := New(&cfg)

	// Round(0) strips the monotonic reading so age computations use the
	// wall clock on both sides of the round trip, exactly like the
	// restored timestamps do.
	now := time.Now().Round(0)
	for i := 0; i < 20; i++ {
		store.RecordOutcome(pattern.KindFVG, "EURUSD", string(bar.M15), i%4 != 0,
			map[string]interface{}{"session": SessionLondon}, now.Add(-time.Duration(i)*time.Hour))
	}
	for i := 0; i < 8; i++ {
		store.RecordOutcome(pattern.KindOrderBlock, "GBPUSD", string(bar.H1), i%2 == 0, nil,
			now.Add(-time.Duration(i)*6*time.Hour))
	}

	path := filepath.Join(t.TempDir(), "historical_analysis_cache.json")
	require.NoError(t, store.Export(path))

	restored, err := Import(path, &cfg)
	require.NoError(t, err)

	// same decay evaluation point -> bit-identical weights
	require.Equal(t,
		store.PerformanceWeightAt(pattern.KindFVG, string(bar.M15), "EURUSD", now),
		restored.PerformanceWeightAt(pattern.KindFVG, string(bar.M15), "EURUSD", now))
	require.Equal(t,
		store.PerformanceWeightAt(pattern.KindOrderBlock, string(bar.H1), "GBPUSD", now),
		restored.PerformanceWeightAt(pattern.KindOrderBlock, string(bar.H1), "GBPUSD", now))
	require.Equal(t, store.SystemStateValue(), restored.SystemStateValue())
}

func TestExport_WritesSmartMoneyHistorySection(t *testing.T) {
	cfg := config.Default().Memory
	store := New(&cfg)

	now := time.Now()
	for i := 0; i < 5; i++ {
		store.RecordOutcome(pattern.KindFVG, "EURUSD", string(bar.M15), true,
			map[string]interface{}{"session": SessionNewYork}, now)
	}

	path := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, store.Export(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"smart_money_history"`)
	require.Contains(t, string(data), SessionNewYork)
}

func TestImport_MissingFileStartsCold(t *testing.T) {
	cfg := config.Default().Memory
	store, err := Import(filepath.Join(t.TempDir(), "does-not-exist.json"), &cfg)
	require.NoError(t, err)
	require.Equal(t, StateFirstRun, store.SystemStateValue())
}

func TestImport_CorruptFileStartsCold(t *testing.T) {
	cfg := config.Default().Memory
	path := filepath.Join(t.TempDir(), "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := Import(path, &cfg)
	require.NoError(t, err)
	require.Equal(t, StateFirstRun, store.SystemStateValue())
}
