// Package detect implements the pure, deterministic pattern detectors.
// Every detector is a free function taking an immutable bar window and
// returning candidate patterns; none perform I/O or carry cross-call state
// beyond a per-stream pattern.Arena supplied by the caller.
package detect

import (
	"fmt"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// Detector is the contract implemented by each of the pure detector functions.
type Detector func(bars []bar.Bar, symbol string, tf bar.Timeframe, arena *pattern.Arena, cfg *config.PatternDetectors) []pattern.Pattern

// MinWindow is the minimum bar count any single detector requires before it
// will attempt to produce patterns; shorter windows return empty.
const MinWindow = 3

// dedupeKey builds the (symbol, timeframe, rounded zone, bar index) key a
// detector uses to drop duplicate detections within a single pass; the
// seen-set is per call, so windows are not deduplicated against each other.
func dedupeKey(symbol string, tf bar.Timeframe, zone pattern.PriceZone, barIdx int) string {
	return fmt.Sprintf("%s|%s|%.5f|%.5f|%d", symbol, tf, roundTo(zone.Low, 5), roundTo(zone.High, 5), barIdx)
}

func roundTo(v float64, decimals int) float64 {
	mult := 1.0
	for i := 0; i < decimals; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+0.5)) / mult
}

// pipsBetween converts a price delta to pips using the symbol's pip size.
func pipsBetween(lo, hi float64, symbol string) float64 {
	return (hi - lo) / bar.PipSize(symbol)
}

// Registry dispatches by pattern.Kind, implementing the tagged dispatch
// table (replacing dynamic dispatch across detectors).
var Registry = map[pattern.Kind]Detector{
	pattern.KindFVG:          DetectFVG,
	pattern.KindOrderBlock:   DetectOrderBlocks,
	pattern.KindLiquidity:    DetectLiquidityPools,
	pattern.KindDisplacement: DetectDisplacement,
}

// RunAll executes every detector in kindFilter (or the whole registry when
// kindFilter is empty) against the given window and concatenates results.
// Structure detection (BOS/CHoCH) is driven separately via DetectStructure
// because it needs an arena with persisted swing history across calls.
func RunAll(bars []bar.Bar, symbol string, tf bar.Timeframe, arena *pattern.Arena, cfg *config.PatternDetectors, kindFilter map[pattern.Kind]struct{}) []pattern.Pattern {
	wants := func(k pattern.Kind) bool {
		if len(kindFilter) == 0 {
			return true
		}
		_, ok := kindFilter[k]
		return ok
	}

	var out []pattern.Pattern
	for kind, fn := range Registry {
		if !wants(kind) {
			continue
		}
		out = append(out, fn(bars, symbol, tf, arena, cfg)...)
	}
	if wants(pattern.KindBOS) || wants(pattern.KindCHoCH) {
		out = append(out, DetectStructure(bars, symbol, tf, arena, cfg)...)
	}
	return out
}
