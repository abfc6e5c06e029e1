// Package pattern defines the Pattern sum type shared by every
// detector, the memory system, and the risk pipeline.
package pattern

import (
	"time"

	"github.com/ictengine/core/internal/bar"
)

// Kind tags the pattern variant. Detectors are dispatched by Kind rather
// than by dynamic type.
type Kind string

const (
	KindFVG          Kind = "fvg"
	KindOrderBlock   Kind = "order_block"
	KindBOS          Kind = "bos"
	KindCHoCH        Kind = "choch"
	KindLiquidity    Kind = "liquidity"
	KindDisplacement Kind = "displacement"
)

// TTL returns the default pattern_ttl[kind] used by the expiry rule.
func (k Kind) TTL() time.Duration {
	switch k {
	case KindFVG:
		return 48 * time.Hour
	case KindOrderBlock:
		return 72 * time.Hour
	case KindBOS, KindCHoCH:
		return 24 * time.Hour
	case KindLiquidity:
		return 96 * time.Hour
	case KindDisplacement:
		return 12 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Direction is the pattern's directional bias.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Status is the pattern lifecycle state.
type Status string

const (
	StatusActive      Status = "active"
	StatusPartial     Status = "partial"
	StatusMitigated   Status = "mitigated"
	StatusExpired     Status = "expired"
	StatusInvalidated Status = "invalidated"
)

// statusRank orders the monotonic lifecycle so CanTransitionTo can reject
// any backward move (a pattern never un-mitigates).
var statusRank = map[Status]int{
	StatusActive:      0,
	StatusPartial:     1,
	StatusMitigated:   2,
	StatusExpired:     3,
	StatusInvalidated: 3,
}

// CanTransitionTo reports whether moving from the receiver to next respects
// the monotonic fill invariant.
func (s Status) CanTransitionTo(next Status) bool {
	return statusRank[next] >= statusRank[s]
}

// PriceZone is a (low, high) band; invariant low < high.
type PriceZone struct {
	Low  float64
	High float64
}

// Valid reports whether the zone respects the low < high invariant.
func (z PriceZone) Valid() bool { return z.Low < z.High }

// Width returns the zone height in price terms.
func (z PriceZone) Width() float64 { return z.High - z.Low }

// Overlaps reports whether z intersects other.
func (z PriceZone) Overlaps(other PriceZone) bool {
	return z.Low < other.High && other.Low < z.High
}

// Pattern is the common envelope for every detected structure. Kind-specific
// fields live in their own pointer-valued sub-structs; exactly one is set
// per Kind, a tagged union in place of dynamic dispatch.
type Pattern struct {
	ID                 string
	Symbol             string
	Timeframe          bar.Timeframe
	Kind               Kind
	Direction          Direction
	DetectedAt         time.Time
	OriginBarIndex     int
	PriceZone          PriceZone
	BaseScore          float64
	BaseConfidence     float64
	EnhancedConfidence float64
	Status             Status
	Confluences        map[string]struct{}
	JustFormed         bool

	FVG          *FVGDetail
	OrderBlock   *OrderBlockDetail
	Structure    *StructureDetail

	// MemoryEnhanced metadata, attached by the Unified Memory System.
	MemoryEnhanced        bool
	OriginalConfidence    float64
	HistoricalSamples     int
	HistoricalSuccessRate float64

	// MTFValidated guards against re-applying confluence bonuses; MTF
	// validation is idempotent.
	MTFValidated bool
}

// FVGDetail carries Fair Value Gap-specific fields.
type FVGDetail struct {
	GapPips        float64
	FillPercentage float64
	MitigationTS   *time.Time
}

// OrderBlockDetail carries Order Block-specific fields.
type OrderBlockDetail struct {
	ImpulseMagnitude float64
	TestCount        int
	MaxTests         int
}

// StructureDetail carries BOS/CHoCH-specific fields.
type StructureDetail struct {
	BreakLevel        float64
	PriorStructureRef int // arena id of the swing that was broken
}

// AddConfluence records a confluence tag, initializing the set lazily.
func (p *Pattern) AddConfluence(tag string) {
	if p.Confluences == nil {
		p.Confluences = make(map[string]struct{})
	}
	p.Confluences[tag] = struct{}{}
}

// ConfluenceCount returns the number of distinct confluence tags.
func (p *Pattern) ConfluenceCount() int { return len(p.Confluences) }

// Expired reports whether the pattern has aged out or exhausted its test
// budget.
func (p *Pattern) Expired(now time.Time) bool {
	if now.After(p.DetectedAt.Add(p.Kind.TTL())) {
		return true
	}
	if p.OrderBlock != nil && p.OrderBlock.MaxTests > 0 && p.OrderBlock.TestCount >= p.OrderBlock.MaxTests {
		return true
	}
	return false
}

// ClampConfidence enforces the [0, 0.95] bound on enhanced_confidence.
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 0.95 {
		return 0.95
	}
	return v
}
