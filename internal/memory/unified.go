package memory

import (
	"time"

	"github.com/ictengine/core/internal/pattern"
)

// UnifiedSystem merges raw detector output with the Historical Memory
// Store to produce memory-enhanced confidence. It holds no state of
// its own beyond a reference to the store.
type UnifiedSystem struct {
	store *Store
}

// NewUnifiedSystem wires a Unified Memory System to a Historical Memory Store.
func NewUnifiedSystem(store *Store) *UnifiedSystem {
	return &UnifiedSystem{store: store}
}

// Enhance takes a raw pattern and returns an enriched copy carrying
// enhanced_confidence and memory metadata:
//
//	enhanced_confidence = clamp(base_confidence * weight + structural_bonus, 0, 0.95)
//
// structural_bonus is the confidence adjustment from GetConfidenceAdjustment,
// scaled down so MTF validation still has headroom to add its own bonuses.
func (u *UnifiedSystem) Enhance(p pattern.Pattern) pattern.Pattern {
	rec, hasHistory := u.store.Stats(p.Kind, p.Symbol, string(p.Timeframe))
	if !hasHistory || len(rec.Outcomes) < u.store.cfg.MinSamples {
		p.MemoryEnhanced = false
		p.EnhancedConfidence = p.BaseConfidence
		return p
	}

	now := time.Now()
	weight := u.store.PerformanceWeightAt(p.Kind, string(p.Timeframe), p.Symbol, now)
	bonus := u.store.ConfidenceAdjustmentAt(p.Kind, string(p.Timeframe), p.Symbol, now)

	rate, samples := weightedSuccessRate(&rec, now, u.store.cfg.TimeDecayFactor)

	p.OriginalConfidence = p.BaseConfidence
	p.EnhancedConfidence = pattern.ClampConfidence(p.BaseConfidence*weight + bonus*0.1)
	p.MemoryEnhanced = true
	p.HistoricalSamples = samples
	p.HistoricalSuccessRate = rate

	return p
}

// RecordOutcome forwards to the store; kept on UnifiedSystem so callers
// downstream of detection never need a direct store reference.
func (u *UnifiedSystem) RecordOutcome(p pattern.Pattern, success bool, context map[string]interface{}) {
	u.store.RecordOutcome(p.Kind, p.Symbol, string(p.Timeframe), success, context, p.DetectedAt)
}
