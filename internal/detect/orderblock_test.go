package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

func TestDetectOrderBlocks_ImpulseWithRetest(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []bar.Bar
	// five small-bodied bars to establish the mean
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		bars = append(bars, mkBar(ts, 1.1000, 1.1003, 1.0998, 1.1001))
	}
	// a strong bullish impulse candle
	impulseTS := base.Add(5 * time.Minute)
	bars = append(bars, mkBar(impulseTS, 1.1001, 1.1050, 1.0995, 1.1045))
	// a retest bar overlapping the impulse band
	bars = append(bars, mkBar(base.Add(6*time.Minute), 1.1010, 1.1015, 1.1000, 1.1012))

	cfg := &config.PatternDetectors{OBImpulseMultiplier: 1.5}
	patterns := DetectOrderBlocks(bars, "EURUSD", bar.M15, pattern.NewArena(), cfg)

	require.NotEmpty(t, patterns)
	p := patterns[0]
	require.Equal(t, pattern.KindOrderBlock, p.Kind)
	require.Equal(t, pattern.Bullish, p.Direction)
	require.GreaterOrEqual(t, p.BaseScore, 70.0)
	require.LessOrEqual(t, p.BaseScore, 95.0)
}

func TestDetectOrderBlocks_NoRetestIsRejected(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []bar.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, mkBar(base.Add(time.Duration(i)*time.Minute), 1.1000, 1.1003, 1.0998, 1.1001))
	}
	bars = append(bars, mkBar(base.Add(5*time.Minute), 1.1001, 1.1050, 1.0995, 1.1045))
	// far-away bars that never overlap the impulse band
	for i := 0; i < 10; i++ {
		bars = append(bars, mkBar(base.Add(time.Duration(6+i)*time.Minute), 1.2000, 1.2005, 1.1998, 1.2001))
	}

	cfg := &config.PatternDetectors{OBImpulseMultiplier: 1.5}
	patterns := DetectOrderBlocks(bars, "EURUSD", bar.M15, pattern.NewArena(), cfg)
	require.Empty(t, patterns)
}
