// Package scheduler implements the detector worker pool: a fixed-size,
// specialty-routed pool with per-stream FIFO ordering and cross-stream
// priority.
package scheduler

import (
	"fmt"

	"github.com/ictengine/core/internal/bar"
	"github.com/ictengine/core/internal/pattern"
)

// AnalysisTask is one unit of detection work submitted to the pool.
type AnalysisTask struct {
	ID         string
	Symbol     string
	Timeframe  bar.Timeframe
	Bars       []bar.Bar
	Priority   uint8
	KindFilter map[pattern.Kind]struct{}

	retryCount int
}

// StreamKey groups tasks that must be processed in submission order.
func (t AnalysisTask) StreamKey() string {
	return fmt.Sprintf("%s|%s", t.Symbol, t.Timeframe)
}

// Validate enforces the submission-boundary checks: reject tasks
// with empty bars, malformed OHLC, or fewer than minBars candles.
func (t AnalysisTask) Validate(minBars int) error {
	if len(t.Bars) == 0 {
		return fmt.Errorf("task %s: empty bar set", t.ID)
	}
	if len(t.Bars) < minBars {
		return fmt.Errorf("task %s: %d bars below minimum %d", t.ID, len(t.Bars), minBars)
	}
	if err := bar.ValidateStream(t.Bars); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	return nil
}

// EstimatedTime derives the scheduler cost estimate from bar count and the
// per-timeframe multiplier.
func (t AnalysisTask) EstimatedTime() float64 {
	return float64(len(t.Bars)) * t.Timeframe.EstimatedTimeMultiplier()
}

// Result is what a completed (or permanently failed) task reports back.
type Result struct {
	TaskID   string
	Patterns []pattern.Pattern
	Err      error
	Retries  int
}
