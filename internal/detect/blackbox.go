package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ictengine/core/internal/pattern"
)

// obBlackBoxRecord is one audited line in the Order Blocks black-box
// journal, carrying enough to reconstruct what the detector saw without
// re-running detection.
type obBlackBoxRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	ID               string    `json:"id"`
	Symbol           string    `json:"symbol"`
	Timeframe        string    `json:"timeframe"`
	Direction        string    `json:"direction"`
	PriceLow         float64   `json:"price_low"`
	PriceHigh        float64   `json:"price_high"`
	BaseScore        float64   `json:"base_score"`
	ImpulseMagnitude float64   `json:"impulse_magnitude"`
	TestCount        int       `json:"test_count"`
	MaxTests         int       `json:"max_tests"`
}

// OBBlackBox tees every Order Block detection through a dedicated JSONL
// sink (journal/order_blocks_YYYYMMDD.jsonl) before it reaches the Unified
// Memory System. It is audit-only: it never drops, mutates, rejects, or
// validates a pattern.
type OBBlackBox struct {
	mu  sync.Mutex
	dir string
}

// NewOBBlackBox wires a bridge rooted at dir.
func NewOBBlackBox(dir string) *OBBlackBox {
	return &OBBlackBox{dir: dir}
}

// Tee logs every Order Block pattern in patterns and returns patterns
// unchanged. A journal write failure is discarded without being logged, so
// the detection path never fails on it.
func (b *OBBlackBox) Tee(patterns []pattern.Pattern, now time.Time) []pattern.Pattern {
	if b == nil {
		return patterns
	}
	var obs []pattern.Pattern
	for _, p := range patterns {
		if p.Kind == pattern.KindOrderBlock {
			obs = append(obs, p)
		}
	}
	if len(obs) == 0 {
		return patterns
	}
	_ = b.append(obs, now)
	return patterns
}

func (b *OBBlackBox) append(obs []pattern.Pattern, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create ob black box dir: %w", err)
	}
	name := fmt.Sprintf("order_blocks_%s.jsonl", now.UTC().Format("20060102"))
	path := filepath.Join(b.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ob black box file: %w", err)
	}
	defer f.Close()

	for _, p := range obs {
		rec := obBlackBoxRecord{
			Timestamp: now,
			ID:        p.ID,
			Symbol:    p.Symbol,
			Timeframe: string(p.Timeframe),
			Direction: string(p.Direction),
			PriceLow:  p.PriceZone.Low,
			PriceHigh: p.PriceZone.High,
			BaseScore: p.BaseScore,
		}
		if p.OrderBlock != nil {
			rec.ImpulseMagnitude = p.OrderBlock.ImpulseMagnitude
			rec.TestCount = p.OrderBlock.TestCount
			rec.MaxTests = p.OrderBlock.MaxTests
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal ob black box record: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("write ob black box record: %w", err)
		}
	}
	return nil
}
