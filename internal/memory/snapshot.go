package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ictengine/core/internal/config"
	"github.com/ictengine/core/internal/pattern"
)

// snapshotVersion is bumped whenever the on-disk schema changes; Import
// passes every loaded document through migrate below.
const snapshotVersion = "v1.0.0"

// snapshotMetadata is the snapshot's metadata block.
type snapshotMetadata struct {
	Version               string      `json:"version"`
	CreatedAt             time.Time   `json:"created_at"`
	LastUpdated           time.Time   `json:"last_updated"`
	SystemState           SystemState `json:"system_state"`
	TotalPatternsAnalyzed int64       `json:"total_patterns_analyzed"`
}

// snapshotRecordKey is the JSON-friendly, string-keyed form of recordKey.
type snapshotRecordKey struct {
	Kind      pattern.Kind `json:"kind"`
	Symbol    string       `json:"symbol"`
	Timeframe string       `json:"timeframe"`
}

type snapshotEntry struct {
	Key     snapshotRecordKey `json:"key"`
	Record  HistoricalRecord  `json:"record"`
}

// SmartMoneyStat is one killzone/session aggregate, matching the
// snapshot's `smart_money_history` section.
// The risk pipeline's strategic-adjustment stage consumes these through
// Store.SessionFactor.
type SmartMoneyStat struct {
	Session     string  `json:"session"`
	SuccessRate float64 `json:"success_rate"`
	Samples     int     `json:"samples"`
}

type snapshotDoc struct {
	Metadata          snapshotMetadata  `json:"metadata"`
	CacheData         []snapshotEntry   `json:"cache_data"`
	TimeframeAnalyzers []string         `json:"timeframe_analyzers"`
	SmartMoneyHistory []SmartMoneyStat  `json:"smart_money_history"`
}

// Export writes an atomic (temp-file + rename) JSON snapshot to path.
// A write error is logged and the caller is expected to retry on the
// next cadence.
func (s *Store) Export(path string) error {
	s.mu.RLock()
	doc := snapshotDoc{
		Metadata: snapshotMetadata{
			Version:               snapshotVersion,
			CreatedAt:             time.Now(),
			LastUpdated:           time.Now(),
			SystemState:           s.systemState,
			TotalPatternsAnalyzed: s.totalPatternsAnalyzed,
		},
	}
	for key, rec := range s.records {
		doc.CacheData = append(doc.CacheData, snapshotEntry{
			Key:    snapshotRecordKey{Kind: key.Kind, Symbol: key.Symbol, Timeframe: key.Timeframe},
			Record: HistoricalRecord{Outcomes: append([]Outcome(nil), rec.Outcomes...)},
		})
	}
	doc.SmartMoneyHistory = s.sessionStatsLocked(time.Now())
	s.mu.RUnlock()

	if err := writeJSONAtomic(path, doc); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("historical memory snapshot write failed, will retry on next cadence")
		return err
	}
	return nil
}

// Import loads a snapshot from path into the store. A missing file is
// non-fatal: the store stays cold.
func Import(path string, cfg *config.Memory) (*Store, error) {
	s := New(cfg)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("no historical memory snapshot found, starting cold")
		return s, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("historical memory snapshot read failed, starting cold")
		return s, nil
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("historical memory snapshot parse failed, starting cold")
		return s, nil
	}

	doc = migrate(doc)

	s.mu.Lock()
	for _, entry := range doc.CacheData {
		key := recordKey{Kind: entry.Key.Kind, Symbol: entry.Key.Symbol, Timeframe: entry.Key.Timeframe}
		rec := entry.Record
		s.records[key] = &rec
	}
	s.systemState = doc.Metadata.SystemState
	s.totalPatternsAnalyzed = doc.Metadata.TotalPatternsAnalyzed
	s.mu.Unlock()

	return s, nil
}

// migrate applies versioned schema upgrades. Only v1.0.0 exists today; this
// is the seam future schema changes hook into.
func migrate(doc snapshotDoc) snapshotDoc {
	switch doc.Metadata.Version {
	case "", snapshotVersion:
		return doc
	default:
		log.Warn().Str("from_version", doc.Metadata.Version).Str("to_version", snapshotVersion).
			Msg("historical memory snapshot version unrecognized, loading as-is")
		return doc
	}
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}
