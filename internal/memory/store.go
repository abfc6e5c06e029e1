// Package memory implements the Historical Memory Store and Unified Memory
// System: a persisted, time-decayed performance ledger that scales
// detector confidence by learned success rates.
package memory

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// Outcome is one recorded detection result, the unit stored in a
// HistoricalRecord's rolling sample.
type Outcome struct {
	Timestamp time.Time              `json:"timestamp"`
	Success   bool                   `json:"success"`
	Context   map[string]interface{} `json:"context"`
}

// maxSampleSize bounds a HistoricalRecord's rolling sample.
const maxSampleSize = 200

// recordKey identifies one (pattern_kind, symbol, timeframe) ledger entry.
type recordKey struct {
	Kind      pattern.Kind
	Symbol    string
	Timeframe string
}

// HistoricalRecord is the rolling outcome sample for one recordKey.
type HistoricalRecord struct {
	Outcomes []Outcome `json:"outcomes"`
}

// SystemState classifies how much history the store has accumulated,
// persisted in snapshot metadata.
type SystemState string

const (
	StateFirstRun   SystemState = "first_run"
	StateLearning   SystemState = "learning"
	StateExperienced SystemState = "experienced"
)

// Store is the single-writer, many-reader Historical Memory Store. Writes
// go through RecordOutcome under the write lock; reads take an RLock.
type Store struct {
	mu      sync.RWMutex
	records map[recordKey]*HistoricalRecord
	cfg     *config.Memory

	updatesSinceSnapshot int
	systemState          SystemState
	totalPatternsAnalyzed int64

	onDirty func() // invoked every SnapshotIntervalUpdates mutations; wired to snapshot scheduling
	mirror  Mirror // optional distributed read cache for computed weights
}

// Mirror is a write-through, best-effort distribution channel for computed
// performance weights, so other engine processes (e.g. a read-only
// dashboard backend) can serve GetPerformanceWeight-equivalent reads
// without linking the whole store. It is never on the detection path's
// critical section: publishes happen off the store's lock, and store
// errors are never propagated to detectors.
type Mirror interface {
	PublishWeight(kind pattern.Kind, symbol, timeframe string, weight float64)
}

// New creates an empty store in first_run state with the given memory config.
func New(cfg *config.Memory) *Store {
	return &Store{
		records:      make(map[recordKey]*HistoricalRecord),
		cfg:          cfg,
		systemState:  StateFirstRun,
	}
}

// SetDirtyHook installs a callback invoked, in its own goroutine, once
// every SnapshotIntervalUpdates recorded outcomes; used by the snapshot
// scheduler.
func (s *Store) SetDirtyHook(fn func()) { s.onDirty = fn }

// SetMirror installs an optional distributed read cache for computed
// performance weights (see Mirror).
func (s *Store) SetMirror(m Mirror) { s.mirror = m }

// RecordOutcome appends an outcome to the rolling sample for (kind, symbol,
// timeframe), trimming to maxSampleSize and never blocking the detection
// path on failure.
func (s *Store) RecordOutcome(kind pattern.Kind, symbol, timeframe string, success bool, context map[string]interface{}, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{Kind: kind, Symbol: symbol, Timeframe: timeframe}
	rec, ok := s.records[key]
	if !ok {
		rec = &HistoricalRecord{}
		s.records[key] = rec
	}

	rec.Outcomes = append(rec.Outcomes, Outcome{Timestamp: ts, Success: success, Context: context})
	if len(rec.Outcomes) > maxSampleSize {
		rec.Outcomes = rec.Outcomes[len(rec.Outcomes)-maxSampleSize:]
	}

	s.totalPatternsAnalyzed++
	s.updatesSinceSnapshot++
	s.advanceSystemState()

	if s.onDirty != nil && s.updatesSinceSnapshot >= s.cfg.SnapshotIntervalUpdates {
		s.updatesSinceSnapshot = 0
		go s.onDirty()
	}
}

func (s *Store) advanceSystemState() {
	switch {
	case s.totalPatternsAnalyzed < int64(s.cfg.MinSamples):
		s.systemState = StateFirstRun
	case s.totalPatternsAnalyzed < int64(s.cfg.MinSamples*20):
		s.systemState = StateLearning
	default:
		s.systemState = StateExperienced
	}
}

// weightedSuccessRate computes the time-decayed weighted success rate for a
// record as of now. samples is the number of outcomes considered.
func weightedSuccessRate(rec *HistoricalRecord, now time.Time, decayFactor float64) (rate float64, samples int) {
	if rec == nil || len(rec.Outcomes) == 0 {
		return 0, 0
	}

	var weightedSum, weightSum float64
	for _, o := range rec.Outcomes {
		days := now.Sub(o.Timestamp).Hours() / 24
		w := 1 - days*decayFactor
		if w < 0.1 {
			w = 0.1
		}
		if o.Success {
			weightedSum += w
		}
		weightSum += w
	}
	if weightSum == 0 {
		return 0, len(rec.Outcomes)
	}
	return weightedSum / weightSum, len(rec.Outcomes)
}

// GetPerformanceWeight returns the performance weight in [0.5, 1.5] for a
// (kind, timeframe, symbol) combination, evaluating time decay as of now.
// Falls back to the configured cold-start multiplier when sample count is
// below min_samples, logging a COLD_START event.
func (s *Store) GetPerformanceWeight(kind pattern.Kind, timeframe, symbol string) float64 {
	return s.PerformanceWeightAt(kind, timeframe, symbol, time.Now())
}

// PerformanceWeightAt is GetPerformanceWeight with an explicit decay
// evaluation point, so a batch of reads (or an export/import comparison)
// sees one consistent set of decay weights.
func (s *Store) PerformanceWeightAt(kind pattern.Kind, timeframe, symbol string, now time.Time) float64 {
	weight := s.performanceWeightAt(kind, timeframe, symbol, now)
	if s.mirror != nil {
		go s.mirror.PublishWeight(kind, symbol, timeframe, weight)
	}
	return weight
}

func (s *Store) performanceWeightAt(kind pattern.Kind, timeframe, symbol string, now time.Time) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := s.cfg.WeightMultipliers[string(kind)]
	if base == 0 {
		base = 1.0
	}

	rec := s.records[recordKey{Kind: kind, Symbol: symbol, Timeframe: timeframe}]
	rate, samples := weightedSuccessRate(rec, now, s.cfg.TimeDecayFactor)

	if samples < s.cfg.MinSamples {
		log.Debug().
			Str("event", "COLD_START").
			Str("kind", string(kind)).
			Str("symbol", symbol).
			Str("timeframe", timeframe).
			Float64("weight", base).
			Msg("insufficient history, using cold-start weight")
		return base
	}

	threshold := s.cfg.SuccessThreshold
	if rate >= threshold {
		w := base * (1 + (rate-threshold)*5.0/3.0)
		return minFloat(w, base*1.5)
	}
	w := base * (0.5 + rate/threshold*0.5)
	return maxFloat(w, base*0.5)
}

// GetConfidenceAdjustment returns a bounded [-0.2, +0.3] confidence delta
// derived from the same historical-success context.
func (s *Store) GetConfidenceAdjustment(kind pattern.Kind, timeframe, symbol string) float64 {
	return s.ConfidenceAdjustmentAt(kind, timeframe, symbol, time.Now())
}

// ConfidenceAdjustmentAt is GetConfidenceAdjustment with an explicit decay
// evaluation point.
func (s *Store) ConfidenceAdjustmentAt(kind pattern.Kind, timeframe, symbol string, now time.Time) float64 {
	weight := s.performanceWeightAt(kind, timeframe, symbol, now)
	// weight in [0.5,1.5] maps linearly to [-0.2,+0.3]
	adj := (weight-1.0)*0.5 + 0.05
	return clamp(adj, -0.2, 0.3)
}

// Stats returns the rolling sample and metadata for a key, used by export
// and diagnostics. The returned record is a copy, safe to read without a lock.
func (s *Store) Stats(kind pattern.Kind, symbol, timeframe string) (HistoricalRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey{Kind: kind, Symbol: symbol, Timeframe: timeframe}]
	if !ok {
		return HistoricalRecord{}, false
	}
	out := HistoricalRecord{Outcomes: append([]Outcome(nil), rec.Outcomes...)}
	return out, true
}

// SystemStateValue reports the store's learning maturity.
func (s *Store) SystemStateValue() SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemState
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

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
