package warehouse

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"flowcast/internal/eventlog"
	"flowcast/internal/stats"

	"github.com/rs/zerolog/log"
)

// JSONL is a file-backed warehouse keeping one <table>.jsonl file per table.
type JSONL struct {
	mu          sync.RWMutex
	dir         string
	eventsTable string
}

// NewJSONL opens (and creates if needed) a JSONL warehouse directory.
func NewJSONL(cfg Config) (*JSONL, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("jsonl warehouse requires a directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
	}
	return &JSONL{dir: cfg.Dir, eventsTable: cmp.Or(cfg.EventsTable, "jira_events")}, nil
}

func (s *JSONL) path(table string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.jsonl", table))
}

// readLines returns the raw JSON lines of a table. A missing file is an empty table.
func (s *JSONL) readLines(table string) ([][]byte, error) {
	file, err := os.Open(s.path(table))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open table %s: %w", table, err)
	}
	defer file.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading table %s: %w", table, err)
	}
	return lines, nil
}

// writeLines replaces a table's contents atomically.
func (s *JSONL) writeLines(table string, lines [][]byte) error {
	path := s.path(table)
	tmpPath := path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp table file: %w", err)
	}

	writer := bufio.NewWriter(file)
	for _, line := range lines {
		if _, err := writer.Write(line); err == nil {
			err = writer.WriteByte('\n')
		}
		if err != nil {
			file.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename table file: %w", err)
	}
	return nil
}

// loadEvents decodes the events table, skipping lines that do not parse.
func (s *JSONL) loadEvents() ([]eventlog.EventRow, error) {
	lines, err := s.readLines(s.eventsTable)
	if err != nil {
		return nil, err
	}
	rows := make([]eventlog.EventRow, 0, len(lines))
	for _, line := range lines {
		var r eventlog.EventRow
		if err := json.Unmarshal(line, &r); err != nil {
			log.Warn().Err(err).Str("table", s.eventsTable).Msg("Skipping invalid JSON line in warehouse")
			continue
		}
		r.EventID = eventlog.NormalizeKind(int(r.EventID))
		rows = append(rows, r)
	}
	return rows, nil
}

func (s *JSONL) CountRows(_ context.Context, table string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines, err := s.readLines(table)
	if err != nil {
		return 0, err
	}
	return int64(len(lines)), nil
}

func (s *JSONL) LatestTimestamps(_ context.Context, issueIDs []string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.loadEvents()
	if err != nil {
		return nil, err
	}
	wanted := toSet(issueIDs)
	latest := make(map[string]time.Time)
	for _, r := range rows {
		if !wanted[r.IssueID] {
			continue
		}
		if cur, ok := latest[r.IssueID]; !ok || r.Timestamp.After(cur) {
			latest[r.IssueID] = r.Timestamp.Time
		}
	}
	return latest, nil
}

func (s *JSONL) InsertRows(_ context.Context, table string, rows []Row) ([]RowError, error) {
	if rowErrs := validateRows(rows); len(rowErrs) > 0 {
		return rowErrs, nil
	}

	encoded := make([][]byte, 0, len(rows))
	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return []RowError{{Index: i, Message: err.Error()}}, nil
		}
		encoded = append(encoded, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLines(table)
	if err != nil {
		return nil, err
	}
	if err := s.writeLines(table, append(existing, encoded...)); err != nil {
		return nil, err
	}
	log.Debug().Str("table", table).Int("count", len(rows)).Msg("Rows appended to warehouse")
	return nil, nil
}

func (s *JSONL) CountEvents(_ context.Context, issueIDs []string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.loadEvents()
	if err != nil {
		return 0, err
	}
	wanted := toSet(issueIDs)
	var n int64
	for _, r := range rows {
		if wanted[r.IssueID] {
			n++
		}
	}
	return n, nil
}

func (s *JSONL) DeleteEvents(_ context.Context, issueIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines(s.eventsTable)
	if err != nil {
		return 0, err
	}
	wanted := toSet(issueIDs)
	kept := lines[:0]
	var deleted int64
	for _, line := range lines {
		var key struct {
			IssueID string `json:"issue_id"`
		}
		if err := json.Unmarshal(line, &key); err == nil && wanted[key.IssueID] {
			deleted++
			continue
		}
		kept = append(kept, line)
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := s.writeLines(s.eventsTable, kept); err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *JSONL) Throughput(_ context.Context, q ThroughputQuery) (map[stats.Date]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.loadEvents()
	if err != nil {
		return nil, err
	}
	return CompletionCounts(rows, q), nil
}

func (s *JSONL) Close() error { return nil }

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
