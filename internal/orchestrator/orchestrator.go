// Package orchestrator implements the Pattern Orchestrator: a
// read-only, cached aggregation view over the latest detected patterns for
// a (symbol, timeframe-set), consumed by dashboards and the HTTP surface.
// It performs no detection itself and never writes pattern state.
package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
	"github.com/ictengine/core/internal/poi"
	"github.com/ictengine/core/internal/sharedmem"
)

// PatternsSource supplies the current best-known patterns for a symbol
// across a set of timeframes. The scheduler/memory/mtf pipeline's latest
// results are expected to be fed into whatever backs this interface (e.g.
// a small in-memory latest-by-stream index updated as results arrive).
type PatternsSource interface {
	Patterns(symbol string, timeframes []string) []pattern.Pattern
}

// KindSummary is the per-kind rollup in ConsolidatedView.PatternsSummary.
type KindSummary struct {
	Confidence float64
	Direction  pattern.Direction
}

// ConsolidatedView is the aggregated, read-only response.
type ConsolidatedView struct {
	Symbol                 string
	Timeframes             []string
	BestOverallSetup       *pattern.Pattern
	PatternsSummary        map[pattern.Kind]KindSummary
	ScalpingOpportunities  []pattern.Pattern
	HighConfidencePatterns []pattern.Pattern
	POIs                   []poi.POI
	GeneratedAt            time.Time
}

// Orchestrator caches a ConsolidatedView per (symbol, timeframe-set) for
// consolidated_ttl_ms, rebuilding from the source on a cache miss.
type Orchestrator struct {
	source PatternsSource
	cache  *sharedmem.Cache
	cfg    config.Orchestrator
}

// New wires an Orchestrator to its pattern source and cache.
func New(source PatternsSource, cache *sharedmem.Cache, cfg config.Orchestrator) *Orchestrator {
	return &Orchestrator{source: source, cache: cache, cfg: cfg}
}

// Get returns the consolidated view for symbol across timeframes, serving
// a cached value if still fresh and otherwise re-querying the source.
func (o *Orchestrator) Get(symbol string, timeframes []string, now time.Time) ConsolidatedView {
	key := cacheKey(symbol, timeframes)

	if cached, ok := o.cache.Get(key); ok {
		return cached.(ConsolidatedView)
	}

	view := o.build(symbol, timeframes, now)
	ttl := time.Duration(o.cfg.ConsolidatedTTLMs) * time.Millisecond
	if ttl <= 0 {
		ttl = 500 * time.Millisecond
	}
	o.cache.Set(key, view, ttl)
	return view
}

func cacheKey(symbol string, timeframes []string) string {
	sorted := append([]string(nil), timeframes...)
	sort.Strings(sorted)
	return fmt.Sprintf("consolidated|%s|%s", symbol, strings.Join(sorted, ","))
}

func (o *Orchestrator) build(symbol string, timeframes []string, now time.Time) ConsolidatedView {
	patterns := o.source.Patterns(symbol, timeframes)

	view := ConsolidatedView{
		Symbol:          symbol,
		Timeframes:      timeframes,
		PatternsSummary: make(map[pattern.Kind]KindSummary),
		GeneratedAt:     now,
	}

	scalping := make(map[string]struct{}, len(o.cfg.ScalpingTimeframes))
	for _, tf := range o.cfg.ScalpingTimeframes {
		scalping[tf] = struct{}{}
	}

	var best *pattern.Pattern
	for i := range patterns {
		p := patterns[i]
		conf := confidenceOf(p)

		if existing, ok := view.PatternsSummary[p.Kind]; !ok || conf > existing.Confidence {
			view.PatternsSummary[p.Kind] = KindSummary{Confidence: conf, Direction: p.Direction}
		}

		if best == nil || conf > confidenceOf(*best) {
			best = &patterns[i]
		}

		if conf >= o.cfg.HighConfidenceThreshold {
			view.HighConfidencePatterns = append(view.HighConfidencePatterns, p)
		}

		if _, ok := scalping[string(p.Timeframe)]; ok && conf >= o.cfg.HighConfidenceThreshold {
			view.ScalpingOpportunities = append(view.ScalpingOpportunities, p)
		}
	}
	view.BestOverallSetup = best

	pois := make([]poi.POI, 0, len(patterns))
	for _, p := range patterns {
		pois = append(pois, poi.FromPattern(p))
	}
	view.POIs = poi.Active(poi.Consolidate(pois), now)

	return view
}

func confidenceOf(p pattern.Pattern) float64 {
	if p.MemoryEnhanced || p.MTFValidated {
		return p.EnhancedConfidence
	}
	if p.EnhancedConfidence > 0 {
		return p.EnhancedConfidence
	}
	return p.BaseConfidence
}
