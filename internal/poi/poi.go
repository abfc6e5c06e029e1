// Package poi materializes detector patterns into Points of Interest:
// significance-tagged zones with confluence upgrades, deduplication, and
// expiry.
package poi

import (
	"fmt"
	"time"

	"github.com/ictengine/core/internal/pattern"
)

// Significance is the POI's institutional weight tier.
type Significance string

const (
	SignificanceLow           Significance = "low"
	SignificanceMedium        Significance = "medium"
	SignificanceHigh          Significance = "high"
	SignificanceCritical      Significance = "critical"
	SignificanceInstitutional Significance = "institutional"
)

// baseSignificance is the deterministic significance table: each pattern
// Kind starts at a fixed tier, then confluence rules upgrade it one step
// at a time.
var baseSignificance = map[pattern.Kind]Significance{
	pattern.KindOrderBlock:   SignificanceHigh,
	pattern.KindFVG:          SignificanceMedium,
	pattern.KindBOS:          SignificanceMedium,
	pattern.KindCHoCH:        SignificanceHigh,
	pattern.KindLiquidity:    SignificanceHigh,
	pattern.KindDisplacement: SignificanceMedium,
}

var upgrade = map[Significance]Significance{
	SignificanceLow:      SignificanceMedium,
	SignificanceMedium:   SignificanceHigh,
	SignificanceHigh:     SignificanceCritical,
	SignificanceCritical: SignificanceInstitutional,
}

// POI is a materialized, significance-tagged view of a pattern or
// structural level.
type POI struct {
	ID           string
	Symbol       string
	Timeframe    string
	Kind         pattern.Kind
	PriceLevel   float64
	Zone         pattern.PriceZone
	Significance Significance
	Confluences  []string
	TestCount    int
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// FromPattern materializes one POI from a detected pattern, ungraded
// (confluence upgrades are applied afterward by Consolidate).
func FromPattern(p pattern.Pattern) POI {
	sig, ok := baseSignificance[p.Kind]
	if !ok {
		sig = SignificanceMedium
	}
	mid := p.PriceZone.Low + p.PriceZone.Width()/2
	return POI{
		ID:           fmt.Sprintf("%s_%s_%s_%d", p.Symbol, p.Timeframe, p.Kind, p.OriginBarIndex),
		Symbol:       p.Symbol,
		Timeframe:    string(p.Timeframe),
		Kind:         p.Kind,
		PriceLevel:   mid,
		Zone:         p.PriceZone,
		Significance: sig,
		CreatedAt:    p.DetectedAt,
		ExpiresAt:    p.DetectedAt.Add(p.Kind.TTL()),
	}
}

// proximityThreshold is the price distance (in the same units as
// PriceLevel) below which two POIs are considered the same level;
// confluence grouping uses 2x this distance.
const proximityThreshold = 0.0010

// Consolidate deduplicates near-identical POIs (same kind, within
// proximityThreshold, keeping the higher-significance one), then upgrades
// the significance of any POI with 2+ distinct-kind neighbors within
// 2x proximityThreshold.
func Consolidate(pois []POI) []POI {
	deduped := dedupe(pois)
	return applyConfluence(deduped)
}

func dedupe(pois []POI) []POI {
	var out []POI
	for _, p := range pois {
		dup := -1
		for i, existing := range out {
			if existing.Kind == p.Kind && distance(existing.PriceLevel, p.PriceLevel) <= proximityThreshold {
				dup = i
				break
			}
		}
		if dup == -1 {
			out = append(out, p)
			continue
		}
		if rank(p.Significance) > rank(out[dup].Significance) {
			out[dup] = p
		}
	}
	return out
}

func applyConfluence(pois []POI) []POI {
	for i := range pois {
		seen := make(map[pattern.Kind]struct{})
		for j := range pois {
			if i == j {
				continue
			}
			if distance(pois[i].PriceLevel, pois[j].PriceLevel) <= proximityThreshold*2 {
				seen[pois[j].Kind] = struct{}{}
			}
		}
		if len(seen) == 0 {
			continue
		}
		for k := range seen {
			pois[i].Confluences = append(pois[i].Confluences, fmt.Sprintf("confluence_with_%s", k))
		}
		if len(seen) >= 2 {
			if next, ok := upgrade[pois[i].Significance]; ok {
				pois[i].Significance = next
			}
		}
	}
	return pois
}

func distance(a, b float64) float64 {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

func rank(s Significance) int {
	switch s {
	case SignificanceLow:
		return 0
	case SignificanceMedium:
		return 1
	case SignificanceHigh:
		return 2
	case SignificanceCritical:
		return 3
	case SignificanceInstitutional:
		return 4
	default:
		return 0
	}
}

// Active filters out POIs expired as of now.
func Active(pois []POI, now time.Time) []POI {
	var out []POI
	for _, p := range pois {
		if now.Before(p.ExpiresAt) {
			out = append(out, p)
		}
	}
	return out
}
