package detect

import (
	"github.com/google/uuid"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// DetectFVG finds Fair Value Gaps. A bullish FVG exists at index i
// when bars[i+1].low > bars[i-1].high and the middle candle closed bullish;
// the bearish case is symmetric. Gaps under MinGapPips are rejected.
func DetectFVG(bars []bar.Bar, symbol string, tf bar.Timeframe, arena *pattern.Arena, cfg *config.PatternDetectors) []pattern.Pattern {
	if len(bars) < MinWindow {
		return nil
	}

	seen := make(map[string]struct{})
	var out []pattern.Pattern

	for i := 1; i < len(bars)-1; i++ {
		prev, mid, next := bars[i-1], bars[i], bars[i+1]

		var direction pattern.Direction
		var zone pattern.PriceZone
		switch {
		case next.Low > prev.High && mid.Bullish():
			direction = pattern.Bullish
			zone = pattern.PriceZone{Low: prev.High, High: next.Low}
		case next.High < prev.Low && !mid.Bullish():
			direction = pattern.Bearish
			zone = pattern.PriceZone{Low: next.High, High: prev.Low}
		default:
			continue
		}

		gapPips := pipsBetween(zone.Low, zone.High, symbol)
		if gapPips < cfg.MinGapPips {
			continue
		}

		key := dedupeKey(symbol, tf, zone, i)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		baseScore := 55 + minFloat(gapPips*2, 25)
		baseConfidence := minFloat(0.4+gapPips*0.05, 0.9)

		p := pattern.Pattern{
			ID:                 uuid.NewString(),
			Symbol:             symbol,
			Timeframe:          tf,
			Kind:               pattern.KindFVG,
			Direction:          direction,
			DetectedAt:         mid.Timestamp,
			OriginBarIndex:     i,
			PriceZone:          zone,
			BaseScore:          baseScore,
			BaseConfidence:     baseConfidence,
			EnhancedConfidence: baseConfidence,
			Status:             pattern.StatusActive,
			JustFormed:         i == len(bars)-2,
			FVG: &pattern.FVGDetail{
				GapPips:        gapPips,
				FillPercentage: 0,
			},
		}
		out = append(out, p)
	}

	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// UpdateFillPercentage recomputes an FVG's fill_percentage against a new
// low/high excursion, enforcing the monotonic-never-un-mitigate invariant
// on fill progression. It is a no-op (returns the pattern unchanged) if the new
// computed percentage would be lower than the current one.
func UpdateFillPercentage(p pattern.Pattern, excursionLow, excursionHigh float64) pattern.Pattern {
	if p.FVG == nil || !p.PriceZone.Valid() {
		return p
	}

	var filled float64
	width := p.PriceZone.Width()
	switch p.Direction {
	case pattern.Bullish:
		// price trading back down into the gap fills it
		penetration := p.PriceZone.High - excursionLow
		filled = clampPct(penetration / width * 100)
	case pattern.Bearish:
		penetration := excursionHigh - p.PriceZone.Low
		filled = clampPct(penetration / width * 100)
	}

	if filled < p.FVG.FillPercentage {
		return p // monotonic: never un-mitigate
	}

	p.FVG.FillPercentage = filled
	switch {
	case filled >= 100:
		if p.Status.CanTransitionTo(pattern.StatusMitigated) {
			p.Status = pattern.StatusMitigated
		}
	case filled > 0:
		if p.Status.CanTransitionTo(pattern.StatusPartial) {
			p.Status = pattern.StatusPartial
		}
	}
	return p
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
