package detect

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// DetectLiquidityPools clusters swing extrema within a tolerance band into
// liquidity pools. A cluster of >=2 highs forms a bearish pool
// (resting sell-side stops above); a cluster of lows forms a bullish pool.
func DetectLiquidityPools(bars []bar.Bar, symbol string, tf bar.Timeframe, arena *pattern.Arena, cfg *config.PatternDetectors) []pattern.Pattern {
	if len(bars) < swingPeakRule*2+1 {
		return nil
	}

	tolerance := cfg.LiquidityTolerancePips * bar.PipSize(symbol)

	var highs, lows []pattern.Swing
	for i := swingPeakRule; i < len(bars)-swingPeakRule; i++ {
		if isSwingHigh(bars, i) {
			highs = append(highs, pattern.Swing{BarIndex: i, Price: bars[i].High, IsHigh: true})
		} else if isSwingLow(bars, i) {
			lows = append(lows, pattern.Swing{BarIndex: i, Price: bars[i].Low, IsHigh: false})
		}
	}

	var out []pattern.Pattern
	out = append(out, clusterPools(bars, highs, tolerance, symbol, tf, pattern.Bearish)...)
	out = append(out, clusterPools(bars, lows, tolerance, symbol, tf, pattern.Bullish)...)
	return out
}

func clusterPools(bars []bar.Bar, swings []pattern.Swing, tolerance float64, symbol string, tf bar.Timeframe, direction pattern.Direction) []pattern.Pattern {
	if len(swings) < 2 {
		return nil
	}
	sort.Slice(swings, func(i, j int) bool { return swings[i].Price < swings[j].Price })

	var out []pattern.Pattern
	cluster := []pattern.Swing{swings[0]}

	flush := func() {
		if len(cluster) < 2 {
			return
		}
		lo, hi := cluster[0].Price, cluster[0].Price
		lastBar := cluster[0].BarIndex
		for _, s := range cluster {
			lo = minFloat(lo, s.Price)
			hi = maxFloat(hi, s.Price)
			if s.BarIndex > lastBar {
				lastBar = s.BarIndex
			}
		}
		if lo == hi {
			hi = lo + tolerance/2
			lo = lo - tolerance/2
		}
		strength := minFloat(60+float64(len(cluster))*10, 95)
		out = append(out, pattern.Pattern{
			ID:                 uuid.NewString(),
			Symbol:             symbol,
			Timeframe:          tf,
			Kind:               pattern.KindLiquidity,
			Direction:          direction,
			DetectedAt:         bars[lastBar].Timestamp,
			OriginBarIndex:     lastBar,
			PriceZone:          pattern.PriceZone{Low: lo, High: hi},
			BaseScore:          strength,
			BaseConfidence:     strength / 100,
			EnhancedConfidence: strength / 100,
			Status:             pattern.StatusActive,
		})
	}

	for i := 1; i < len(swings); i++ {
		if swings[i].Price-cluster[len(cluster)-1].Price <= tolerance {
			cluster = append(cluster, swings[i])
			continue
		}
		flush()
		cluster = []pattern.Swing{swings[i]}
	}
	flush()

	return out
}
