package execution

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileJournal is an append-only JSONL trade journal, one file per UTC day
// (journal/trades_YYYYMMDD.jsonl, one file per UTC day).
type FileJournal struct {
	mu  sync.Mutex
	dir string
}

// NewFileJournal wires a journal rooted at dir.
func NewFileJournal(dir string) *FileJournal {
	return &FileJournal{dir: dir}
}

// Append writes one journal line, creating the day's file if needed.
func (j *FileJournal) Append(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	name := fmt.Sprintf("trades_%s.jsonl", ev.Timestamp.UTC().Format("20060102"))
	path := filepath.Join(j.dir, name)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal journal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal event: %w", err)
	}
	return nil
}
