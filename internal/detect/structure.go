package detect

import (
	"github.com/google/uuid"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// swingPeakRule is the number of bars on either side required for a bar to
// qualify as a swing high/low.
const swingPeakRule = 5

// DetectStructure finds swing points, then classifies each close that
// breaks a swing as BOS (break with the prevailing trend) or CHoCH (break
// against it). Detected swings are recorded in arena so later calls and
// cross-pattern references resolve by stable id.
func DetectStructure(bars []bar.Bar, symbol string, tf bar.Timeframe, arena *pattern.Arena, cfg *config.PatternDetectors) []pattern.Pattern {
	if len(bars) < swingPeakRule*2+1 {
		return nil
	}

	swingIDs := recordSwings(bars, arena)
	trend := pattern.Bullish
	var out []pattern.Pattern

	for i := swingPeakRule; i < len(bars); i++ {
		close := bars[i].Close

		lastHighID, hasHigh := lastSwingBefore(arena, swingIDs, i, true)
		lastLowID, hasLow := lastSwingBefore(arena, swingIDs, i, false)

		var broken pattern.Swing
		var brokeHigh bool
		switch {
		case hasHigh && close > mustSwing(arena, lastHighID).Price:
			broken = mustSwing(arena, lastHighID)
			brokeHigh = true
		case hasLow && close < mustSwing(arena, lastLowID).Price:
			broken = mustSwing(arena, lastLowID)
			brokeHigh = false
		default:
			continue
		}

		breakDirection := pattern.Bearish
		if brokeHigh {
			breakDirection = pattern.Bullish
		}

		kind := pattern.KindBOS
		if breakDirection != trend {
			kind = pattern.KindCHoCH
		}

		zoneLo, zoneHi := broken.Price, close
		if zoneLo > zoneHi {
			zoneLo, zoneHi = zoneHi, zoneLo
		}
		if zoneLo == zoneHi {
			continue
		}

		p := pattern.Pattern{
			ID:                 uuid.NewString(),
			Symbol:             symbol,
			Timeframe:          tf,
			Kind:               kind,
			Direction:          breakDirection,
			DetectedAt:         bars[i].Timestamp,
			OriginBarIndex:     i,
			PriceZone:          pattern.PriceZone{Low: zoneLo, High: zoneHi},
			BaseScore:          70,
			BaseConfidence:     0.65,
			EnhancedConfidence: 0.65,
			Status:             pattern.StatusActive,
			JustFormed:         i == len(bars)-1,
			Structure: &pattern.StructureDetail{
				BreakLevel:        broken.Price,
				PriorStructureRef: broken.ID,
			},
		}
		out = append(out, p)

		if kind == pattern.KindCHoCH {
			trend = breakDirection
		}
	}

	return out
}

// recordSwings applies the 5-bar peak/trough rule and records each swing
// found into the arena, returning the arena ids in bar order.
func recordSwings(bars []bar.Bar, arena *pattern.Arena) []int {
	var ids []int
	for i := swingPeakRule; i < len(bars)-swingPeakRule; i++ {
		if isSwingHigh(bars, i) {
			ids = append(ids, arena.Add(i, bars[i].High, true))
		} else if isSwingLow(bars, i) {
			ids = append(ids, arena.Add(i, bars[i].Low, false))
		}
	}
	return ids
}

func isSwingHigh(bars []bar.Bar, i int) bool {
	for j := i - swingPeakRule; j <= i+swingPeakRule; j++ {
		if j == i || j < 0 || j >= len(bars) {
			continue
		}
		if bars[j].High >= bars[i].High {
			return false
		}
	}
	return true
}

func isSwingLow(bars []bar.Bar, i int) bool {
	for j := i - swingPeakRule; j <= i+swingPeakRule; j++ {
		if j == i || j < 0 || j >= len(bars) {
			continue
		}
		if bars[j].Low <= bars[i].Low {
			return false
		}
	}
	return true
}

// lastSwingBefore returns the most recent swing of the requested type
// (high/low) whose bar index precedes barIdx.
func lastSwingBefore(arena *pattern.Arena, swingIDs []int, barIdx int, wantHigh bool) (int, bool) {
	for i := len(swingIDs) - 1; i >= 0; i-- {
		s, ok := arena.Get(swingIDs[i])
		if !ok || s.BarIndex >= barIdx {
			continue
		}
		if s.IsHigh == wantHigh {
			return s.ID, true
		}
	}
	return -1, false
}

func mustSwing(arena *pattern.Arena, id int) pattern.Swing {
	s, _ := arena.Get(id)
	return s
}
