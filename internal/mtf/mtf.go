// Package mtf implements the Multi-Timeframe Validator: H4 authority,
// M15 alignment, and M5 timing bonuses layered on top of memory-enhanced
// confidence.
package mtf

import (
	"time"

	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// HigherTFContext is the most-recent-bar snapshot for one higher timeframe,
// used to check H4 trend agreement and M15 swing proximity.
type HigherTFContext struct {
	TrendDirection pattern.Direction // zero value means "no data"
	HasTrend       bool
	SwingPrice     float64
	SwingDirection pattern.Direction
	HasSwing       bool
	ATR            float64
}

// Result is the bitmask + bonus breakdown returned alongside the adjusted
// pattern, useful for diagnostics and the orchestrator read API.
type Result struct {
	H4Authority   bool
	M15Alignment  bool
	M5Timing      bool
	Bonus         float64
}

// Validator applies confluence bonuses for higher-timeframe agreement.
type Validator struct {
	cfg *config.MTFValidator
}

// New wires a Validator to its config block.
func New(cfg *config.MTFValidator) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks H4/M15/M5 confluence and returns the pattern with its
// enhanced confidence raised by the summed bonus (capped at 0.95), plus the
// breakdown. A pattern lacking the relevant higher-TF context passes
// through unchanged for that signal. Calling Validate twice on an
// already-validated pattern is a no-op because the pattern's MTFValidated
// flag is checked before re-adding any bonus.
func (v *Validator) Validate(p pattern.Pattern, h4, m15 HigherTFContext, now time.Time) (pattern.Pattern, Result) {
	if p.MTFValidated {
		return p, Result{}
	}

	var res Result

	if h4.HasTrend && h4.TrendDirection == p.Direction {
		res.H4Authority = true
	}

	if m15.HasSwing && m15.SwingDirection == p.Direction && m15.ATR > 0 {
		if withinATR(p.PriceZone, m15.SwingPrice, m15.ATR) {
			res.M15Alignment = true
		}
	}

	window := time.Duration(v.cfg.TimingWindowSec) * time.Second
	if window <= 0 {
		window = 300 * time.Second
	}
	if !p.DetectedAt.IsZero() && now.Sub(p.DetectedAt) <= window && now.Sub(p.DetectedAt) >= 0 {
		res.M5Timing = true
	}

	if res.H4Authority {
		res.Bonus += v.cfg.H4Bonus
	}
	if res.M15Alignment {
		res.Bonus += v.cfg.M15Bonus
	}
	if res.M5Timing {
		res.Bonus += v.cfg.M5Bonus
	}

	base := p.EnhancedConfidence
	if base == 0 {
		base = p.BaseConfidence
	}
	p.EnhancedConfidence = pattern.ClampConfidence(base + res.Bonus)
	p.MTFValidated = true

	return p, res
}

func withinATR(zone pattern.PriceZone, swingPrice, atr float64) bool {
	mid := zone.Low + zone.Width()/2
	d := mid - swingPrice
	if d < 0 {
		d = -d
	}
	return d <= atr
}
