package detect

import (
	"github.com/google/uuid"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// impulseLookback is the number of preceding bars averaged to classify a
// bar as an impulse candle.
const impulseLookback = 5

// overlapLookahead is the window scanned after an impulse for a retest.
const overlapLookahead = 10

// DetectOrderBlocks finds Order Block candidates. A bar is an
// impulse candle if its body exceeds 1.5x the mean body of the preceding 5
// bars; if any of the next 10 bars overlaps the impulse's (low, high) band,
// the impulse becomes an Order Block.
func DetectOrderBlocks(bars []bar.Bar, symbol string, tf bar.Timeframe, arena *pattern.Arena, cfg *config.PatternDetectors) []pattern.Pattern {
	if len(bars) < impulseLookback+2 {
		return nil
	}

	var out []pattern.Pattern

	for i := impulseLookback; i < len(bars); i++ {
		meanBody := meanBodySize(bars[i-impulseLookback : i])
		if meanBody == 0 {
			continue
		}
		impulse := bars[i]
		if impulse.BodySize() <= cfg.OBImpulseMultiplier*meanBody {
			continue
		}

		end := i + 1 + overlapLookahead
		if end > len(bars) {
			end = len(bars)
		}
		retested := false
		for j := i + 1; j < end; j++ {
			if bars[j].High >= impulse.Low && bars[j].Low <= impulse.High {
				retested = true
				break
			}
		}
		if !retested {
			continue
		}

		direction := pattern.Bearish
		if impulse.Bullish() {
			direction = pattern.Bullish
		}

		zone := pattern.PriceZone{Low: impulse.Low, High: impulse.High}
		if !zone.Valid() {
			continue
		}

		strength := clampFloat(70+impulse.BodySize()/meanBody*5, 70, 95)

		p := pattern.Pattern{
			ID:                 uuid.NewString(),
			Symbol:             symbol,
			Timeframe:          tf,
			Kind:               pattern.KindOrderBlock,
			Direction:          direction,
			DetectedAt:         impulse.Timestamp,
			OriginBarIndex:     i,
			PriceZone:          zone,
			BaseScore:          strength,
			BaseConfidence:     strength / 100,
			EnhancedConfidence: strength / 100,
			Status:             pattern.StatusActive,
			JustFormed:         i == len(bars)-1,
			OrderBlock: &pattern.OrderBlockDetail{
				ImpulseMagnitude: impulse.BodySize(),
				TestCount:        0,
				MaxTests:         3,
			},
		}
		out = append(out, p)
	}

	return out
}

func meanBodySize(window []bar.Bar) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, b := range window {
		sum += b.BodySize()
	}
	return sum / float64(len(window))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
