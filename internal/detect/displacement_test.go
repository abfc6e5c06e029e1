package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

func TestDetectDisplacement_BullishLeg(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []bar.Bar
	// quiet preamble establishing a small mean body
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		bars = append(bars, mkBar(ts, 1.1000, 1.1003, 1.0998, 1.1001))
	}
	// three consecutive strong bullish candles
	bars = append(bars, mkBar(base.Add(5*time.Minute), 1.1001, 1.1042, 1.1000, 1.1040))
	bars = append(bars, mkBar(base.Add(6*time.Minute), 1.1040, 1.1082, 1.1038, 1.1080))
	bars = append(bars, mkBar(base.Add(7*time.Minute), 1.1080, 1.1122, 1.1078, 1.1120))

	cfg := &config.PatternDetectors{DisplacementMinRun: 3, DisplacementMultiplier: 2.0}
	patterns := DetectDisplacement(bars, "EURUSD", bar.M5, pattern.NewArena(), cfg)

	require.Len(t, patterns, 1)
	p := patterns[0]
	require.Equal(t, pattern.KindDisplacement, p.Kind)
	require.Equal(t, pattern.Bullish, p.Direction)
	require.Equal(t, 1.1000, p.PriceZone.Low)
	require.Equal(t, 1.1122, p.PriceZone.High)
	require.True(t, p.JustFormed)
	require.GreaterOrEqual(t, p.BaseScore, 60.0)
	require.LessOrEqual(t, p.BaseScore, 90.0)
}

func TestDetectDisplacement_ShortRunIsRejected(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []bar.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, mkBar(base.Add(time.Duration(i)*time.Minute), 1.1000, 1.1003, 1.0998, 1.1001))
	}
	// only two strong candles before the direction flips
	bars = append(bars, mkBar(base.Add(5*time.Minute), 1.1001, 1.1042, 1.1000, 1.1040))
	bars = append(bars, mkBar(base.Add(6*time.Minute), 1.1040, 1.1082, 1.1038, 1.1080))
	bars = append(bars, mkBar(base.Add(7*time.Minute), 1.1080, 1.1081, 1.1040, 1.1042))

	cfg := &config.PatternDetectors{DisplacementMinRun: 3, DisplacementMultiplier: 2.0}
	patterns := DetectDisplacement(bars, "EURUSD", bar.M5, pattern.NewArena(), cfg)
	require.Empty(t, patterns)
}

func TestDetectDisplacement_QuietTapeProducesNothing(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []bar.Bar
	for i := 0; i < 20; i++ {
		bars = append(bars, mkBar(base.Add(time.Duration(i)*time.Minute), 1.1000, 1.1003, 1.0998, 1.1001))
	}

	cfg := &config.PatternDetectors{DisplacementMinRun: 3, DisplacementMultiplier: 2.0}
	require.Empty(t, DetectDisplacement(bars, "EURUSD", bar.M5, pattern.NewArena(), cfg))
}
