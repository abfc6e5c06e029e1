package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

func TestUnifiedSystem_ColdStartLeavesConfidenceUnchanged(t *testing.T) {
	cfg := config.Default().Memory
	store := New(&cfg)
	u := NewUnifiedSystem(store)

	p := pattern.Pattern{
		Kind:           pattern.KindFVG,
		Symbol:         "EURUSD",
		Timeframe:      bar.M15,
		BaseConfidence: 0.6,
	}

	enhanced := u.Enhance(p)
	require.False(t, enhanced.MemoryEnhanced)
	require.InDelta(t, 0.6, enhanced.EnhancedConfidence, 1e-9)
}

func TestUnifiedSystem_EnhancesAfterSufficientHistory(t *testing.T) {
	cfg := config.Default().Memory
	cfg.MinSamples = 3
	store := New(&cfg)
	u := NewUnifiedSystem(store)

	now := time.Now()
	for i := 0; i < 10; i++ {
		store.RecordOutcome(pattern.KindFVG, "EURUSD", string(bar.M15), true, nil, now.Add(-time.Duration(i)*time.Hour))
	}

	p := pattern.Pattern{
		Kind:           pattern.KindFVG,
		Symbol:         "EURUSD",
		Timeframe:      bar.M15,
		BaseConfidence: 0.6,
	}

	enhanced := u.Enhance(p)
	require.True(t, enhanced.MemoryEnhanced)
	require.Equal(t, 10, enhanced.HistoricalSamples)
	require.Greater(t, enhanced.HistoricalSuccessRate, 0.9)
	require.InDelta(t, 0.6, enhanced.OriginalConfidence, 1e-9)
	require.LessOrEqual(t, enhanced.EnhancedConfidence, 0.95)
}

func TestUnifiedSystem_RecordOutcomeForwardsToStore(t *testing.T) {
	cfg := config.Default().Memory
	store := New(&cfg)
	u := NewUnifiedSystem(store)

	p := pattern.Pattern{
		Kind:       pattern.KindOrderBlock,
		Symbol:     "GBPUSD",
		Timeframe:  bar.H1,
		DetectedAt: time.Now(),
	}
	u.RecordOutcome(p, true, map[string]interface{}{"rr": 2.0})

	rec, ok := store.Stats(pattern.KindOrderBlock, "GBPUSD", string(bar.H1))
	require.True(t, ok)
	require.Len(t, rec.Outcomes, 1)
	require.True(t, rec.Outcomes[0].Success)
}
