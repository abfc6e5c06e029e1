// Package bar defines the OHLC observation shared by every detector and
// the work scheduler's task payload.
package bar

import (
	"fmt"
	"time"
)

// Timeframe is one of the recognized analysis granularities.
type Timeframe string

const (
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// EstimatedTimeMultiplier returns the per-timeframe scheduler cost multiplier.
func (tf Timeframe) EstimatedTimeMultiplier() float64 {
	switch tf {
	case M5:
		return 1.0
	case M15:
		return 1.2
	case H1:
		return 2.0
	case D1:
		return 3.0
	default:
		return 1.0
	}
}

// Bar is one immutable OHLC observation.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Validate checks the single-bar invariants enforced at the scheduler
// submission boundary: high >= low and close within [low, high].
func (b Bar) Validate() error {
	if b.High < b.Low {
		return fmt.Errorf("bar at %s: high %.5f < low %.5f", b.Timestamp, b.High, b.Low)
	}
	if b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("bar at %s: close %.5f outside [%.5f, %.5f]", b.Timestamp, b.Close, b.Low, b.High)
	}
	return nil
}

// ValidateStream checks a full window: every bar individually valid, and
// ordered monotonically by timestamp with no duplicate timestamps.
func ValidateStream(bars []Bar) error {
	for i, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bar stream out of order at index %d (%s <= %s)", i, bars[i].Timestamp, bars[i-1].Timestamp)
		}
	}
	return nil
}

// BodySize is the absolute candle body, used by impulse/displacement detection.
func (b Bar) BodySize() float64 {
	d := b.Close - b.Open
	if d < 0 {
		return -d
	}
	return d
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// PipSize returns the pip granularity for a symbol: 0.01 for
// JPY-quoted pairs, 0.0001 otherwise. FX-only heuristic; commodities use the
// 0.0001 default unless overridden by broker metadata upstream.
func PipSize(symbol string) float64 {
	if len(symbol) >= 3 && symbol[len(symbol)-3:] == "JPY" {
		return 0.01
	}
	return 0.0001
}
