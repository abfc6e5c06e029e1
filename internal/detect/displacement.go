package detect

import (
	"github.com/google/uuid"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// DetectDisplacement finds displacement legs: runs of consecutive
// same-direction candles whose combined body exceeds DisplacementMultiplier
// times the expected body sum over the same span, measured against the mean
// body of the bars preceding the run. The zone spans the full (low, high)
// range of the leg.
func DetectDisplacement(bars []bar.Bar, symbol string, tf bar.Timeframe, arena *pattern.Arena, cfg *config.PatternDetectors) []pattern.Pattern {
	minRun := cfg.DisplacementMinRun
	if minRun <= 0 {
		minRun = 3
	}
	mult := cfg.DisplacementMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	if len(bars) < impulseLookback+minRun {
		return nil
	}

	seen := make(map[string]struct{})
	var out []pattern.Pattern

	i := impulseLookback
	for i < len(bars) {
		runStart := i
		bullish := bars[i].Bullish()
		for i < len(bars) && bars[i].Bullish() == bullish && bars[i].BodySize() > 0 {
			i++
		}
		runLen := i - runStart
		if runLen < minRun {
			if runLen == 0 {
				i++
			}
			continue
		}

		meanBody := meanBodySize(bars[runStart-impulseLookback : runStart])
		if meanBody == 0 {
			continue
		}

		var bodySum float64
		zone := pattern.PriceZone{Low: bars[runStart].Low, High: bars[runStart].High}
		for j := runStart; j < runStart+runLen; j++ {
			bodySum += bars[j].BodySize()
			if bars[j].Low < zone.Low {
				zone.Low = bars[j].Low
			}
			if bars[j].High > zone.High {
				zone.High = bars[j].High
			}
		}

		magnitude := bodySum / (meanBody * float64(runLen))
		if magnitude < mult || !zone.Valid() {
			continue
		}

		key := dedupeKey(symbol, tf, zone, runStart)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		direction := pattern.Bearish
		if bullish {
			direction = pattern.Bullish
		}

		baseScore := clampFloat(60+magnitude*10, 60, 90)

		p := pattern.Pattern{
			ID:                 uuid.NewString(),
			Symbol:             symbol,
			Timeframe:          tf,
			Kind:               pattern.KindDisplacement,
			Direction:          direction,
			DetectedAt:         bars[runStart+runLen-1].Timestamp,
			OriginBarIndex:     runStart,
			PriceZone:          zone,
			BaseScore:          baseScore,
			BaseConfidence:     baseScore / 100,
			EnhancedConfidence: baseScore / 100,
			Status:             pattern.StatusActive,
			JustFormed:         runStart+runLen == len(bars),
		}
		out = append(out, p)
	}

	return out
}
