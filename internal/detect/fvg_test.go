package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

func mkBar(t time.Time, o, h, l, c float64) bar.Bar {
	return bar.Bar{Timestamp: t, Open: o, High: h, Low: l, Close: c}
}

// TestDetectFVG_BullishGapScenario walks a literal three-candle bullish gap.
func TestDetectFVG_BullishGapScenario(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []bar.Bar{
		mkBar(base, 1.0993, 1.1000, 1.0990, 1.0995),
		mkBar(base.Add(15*time.Minute), 1.1002, 1.1020, 1.1000, 1.1018),
		mkBar(base.Add(30*time.Minute), 1.1018, 1.1040, 1.1010, 1.1035),
	}

	cfg := &config.PatternDetectors{MinGapPips: 3.0}
	patterns := DetectFVG(bars, "EURUSD", bar.M15, pattern.NewArena(), cfg)

	require.Len(t, patterns, 1)
	p := patterns[0]
	require.Equal(t, pattern.Bullish, p.Direction)
	require.InDelta(t, 1.1000, p.PriceZone.Low, 1e-9)
	require.InDelta(t, 1.1010, p.PriceZone.High, 1e-9)
	require.InDelta(t, 10.0, p.FVG.GapPips, 1e-6)
	require.InDelta(t, 75.0, p.BaseScore, 1e-9)
	require.InDelta(t, 0.9, p.BaseConfidence, 1e-9)
}

func TestDetectFVG_RejectsShortWindow(t *testing.T) {
	cfg := &config.PatternDetectors{MinGapPips: 3.0}
	patterns := DetectFVG([]bar.Bar{mkBar(time.Now(), 1, 1, 1, 1)}, "EURUSD", bar.M15, pattern.NewArena(), cfg)
	require.Empty(t, patterns)
}

func TestDetectFVG_RejectsSmallGap(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := []bar.Bar{
		mkBar(base, 1.0993, 1.1000, 1.0990, 1.0995),
		mkBar(base.Add(15*time.Minute), 1.1000, 1.1003, 1.1000, 1.1002),
		mkBar(base.Add(30*time.Minute), 1.1002, 1.1005, 1.1001, 1.1004),
	}
	cfg := &config.PatternDetectors{MinGapPips: 3.0}
	patterns := DetectFVG(bars, "EURUSD", bar.M15, pattern.NewArena(), cfg)
	require.Empty(t, patterns)
}

func TestUpdateFillPercentage_NeverDecreases(t *testing.T) {
	p := pattern.Pattern{
		Direction: pattern.Bullish,
		PriceZone: pattern.PriceZone{Low: 1.1000, High: 1.1010},
		Status:    pattern.StatusActive,
		FVG:       &pattern.FVGDetail{},
	}

	p = UpdateFillPercentage(p, 1.1005, 1.1012) // fills halfway
	require.InDelta(t, 50.0, p.FVG.FillPercentage, 1e-6)
	require.Equal(t, pattern.StatusPartial, p.Status)

	p = UpdateFillPercentage(p, 1.1008, 1.1012) // less penetration than before
	require.InDelta(t, 50.0, p.FVG.FillPercentage, 1e-6, "fill percentage must not decrease")

	p = UpdateFillPercentage(p, 1.1000, 1.1012) // fully fills
	require.InDelta(t, 100.0, p.FVG.FillPercentage, 1e-6)
	require.Equal(t, pattern.StatusMitigated, p.Status)
}
