package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
	"github.com/ictengine/core/internal/sharedmem"
)

type fakeSource struct {
	calls    int
	patterns []pattern.Pattern
}

func (f *fakeSource) Patterns(symbol string, timeframes []string) []pattern.Pattern {
	f.calls++
	return f.patterns
}

func testCfg() config.Orchestrator {
	return config.Orchestrator{
		ConsolidatedTTLMs:       50,
		HighConfidenceThreshold: 0.75,
		ScalpingTimeframes:      []string{"M5", "M15"},
	}
}

func TestGet_BuildsViewFromSource(t *testing.T) {
	source := &fakeSource{patterns: []pattern.Pattern{
		{Kind: pattern.KindFVG, Timeframe: bar.M15, Direction: pattern.Bullish, EnhancedConfidence: 0.8},
		{Kind: pattern.KindBOS, Timeframe: bar.H4, Direction: pattern.Bearish, EnhancedConfidence: 0.6},
	}}
	o := New(source, sharedmem.New(), testCfg())

	view := o.Get("EURUSD", []string{"M15", "H4"}, time.Now())

	require.Equal(t, 1, source.calls)
	require.NotNil(t, view.BestOverallSetup)
	require.Equal(t, pattern.KindFVG, view.BestOverallSetup.Kind)
	require.Len(t, view.HighConfidencePatterns, 1)
	require.Len(t, view.ScalpingOpportunities, 1) // FVG on M15, above threshold
	require.Contains(t, view.PatternsSummary, pattern.KindBOS)
}

func TestGet_ServesCachedViewWithinTTL(t *testing.T) {
	source := &fakeSource{patterns: []pattern.Pattern{{Kind: pattern.KindFVG, EnhancedConfidence: 0.5}}}
	o := New(source, sharedmem.New(), testCfg())

	o.Get("EURUSD", []string{"M15"}, time.Now())
	o.Get("EURUSD", []string{"M15"}, time.Now())

	require.Equal(t, 1, source.calls)
}

func TestGet_MaterializesActivePOIsFromPatterns(t *testing.T) {
	now := time.Now()
	source := &fakeSource{patterns: []pattern.Pattern{
		{
			Kind:               pattern.KindOrderBlock,
			Symbol:             "EURUSD",
			Timeframe:          bar.M15,
			Direction:          pattern.Bullish,
			DetectedAt:         now,
			PriceZone:          pattern.PriceZone{Low: 1.1000, High: 1.1010},
			EnhancedConfidence: 0.8,
		},
	}}
	o := New(source, sharedmem.New(), testCfg())

	view := o.Get("EURUSD", []string{"M15"}, now)

	require.Len(t, view.POIs, 1)
	require.Equal(t, pattern.KindOrderBlock, view.POIs[0].Kind)
}

func TestGet_ExcludesExpiredPOIs(t *testing.T) {
	now := time.Now()
	source := &fakeSource{patterns: []pattern.Pattern{
		{
			Kind:       pattern.KindFVG,
			Symbol:     "EURUSD",
			Timeframe:  bar.M15,
			DetectedAt: now.Add(-1000 * pattern.KindFVG.TTL()),
			PriceZone:  pattern.PriceZone{Low: 1.1000, High: 1.1010},
		},
	}}
	o := New(source, sharedmem.New(), testCfg())

	view := o.Get("EURUSD", []string{"M15"}, now)

	require.Empty(t, view.POIs)
}

func TestGet_RebuildsAfterTTLExpires(t *testing.T) {
	source := &fakeSource{patterns: []pattern.Pattern{{Kind: pattern.KindFVG, EnhancedConfidence: 0.5}}}
	cfg := testCfg()
	cfg.ConsolidatedTTLMs = 1
	o := New(source, sharedmem.New(), cfg)

	o.Get("EURUSD", []string{"M15"}, time.Now())
	time.Sleep(5 * time.Millisecond)
	o.Get("EURUSD", []string{"M15"}, time.Now())

	require.Equal(t, 2, source.calls)
}
