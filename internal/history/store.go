package history

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Store handles run storage operations.
type Store struct {
	basePath string

	// mu serializes record read-modify-write cycles and event appends.
	mu sync.Mutex
}

// NewStore creates a new Store with the given base path.
// The base path should be the workspace root; runs are stored in .tfdeck/runs/.
func NewStore(basePath string) *Store {
	return &Store{basePath: basePath}
}

// runsDir returns the path to the runs directory.
func (s *Store) runsDir() string {
	return filepath.Join(s.basePath, ".tfdeck", "runs")
}

// runDir returns the path to a specific run directory.
func (s *Store) runDir(id string) string {
	return filepath.Join(s.runsDir(), id)
}

// NewRunID generates a sortable run ID: a UTC timestamp plus a short
// random suffix, e.g. run-20260312T154233-4f3a9c12.
func NewRunID() string {
	return fmt.Sprintf("run-%s-%s",
		time.Now().UTC().Format("20060102T150405"),
		uuid.NewString()[:8])
}

// validID rejects IDs that could escape the runs directory. IDs are
// generated by NewRunID, but replay and the HTTP API accept them from
// outside.
func validID(id string) error {
	if id == "" {
		return fmt.Errorf("run id is empty")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid run id: %q", id)
	}
	return nil
}

// CreateRun creates the run directory and writes record.yaml. An empty ID
// gets a fresh generated one, a zero StartedAt gets the current time, and
// an empty Outcome starts as running. The record is updated in place.
func (s *Store) CreateRun(rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = NewRunID()
	}
	if err := validID(rec.ID); err != nil {
		return err
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeRunning
	}

	dir := s.runDir(rec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRecord(rec)
}

// writeRecord marshals and writes record.yaml. Caller holds mu.
func (s *Store) writeRecord(rec *RunRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	path := filepath.Join(s.runDir(rec.ID), "record.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}

// GetRun reads record.yaml for the given run.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	path := filepath.Join(s.runDir(id), "record.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}

	var rec RunRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse run record: %w", err)
	}
	return &rec, nil
}

// ListRuns enumerates all run directories, newest first.
func (s *Store) ListRuns() ([]*RunRecord, error) {
	entries, err := os.ReadDir(s.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*RunRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var runs []*RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.runsDir(), entry.Name(), "record.yaml"))
		if err != nil {
			continue // Skip directories without record.yaml
		}

		var rec RunRecord
		if err := yaml.Unmarshal(data, &rec); err != nil {
			continue // Skip invalid records
		}
		runs = append(runs, &rec)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// UpdateRun applies fn to the stored record and writes it back.
func (s *Store) UpdateRun(id string, fn func(*RunRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.GetRun(id)
	if err != nil {
		return err
	}

	fn(rec)
	rec.ID = id // updates cannot move the run
	return s.writeRecord(rec)
}

// AppendEvent appends one raw stream record to events.ndjson. The line must
// be a single JSON document without a trailing newline.
func (s *Store) AppendEvent(id string, raw string) error {
	return s.AppendEvents(id, []string{raw})
}

// AppendEvents appends a batch of raw stream records in one write.
func (s *Store) AppendEvents(id string, raws []string) error {
	if err := validID(id); err != nil {
		return err
	}
	if len(raws) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.runDir(id), "events.ndjson")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, raw := range raws {
		sb.WriteString(raw)
		sb.WriteByte('\n')
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}
	return nil
}

// ReadEvents returns the raw event lines starting at the given 0-based line
// offset. A missing log means no events yet.
func (s *Store) ReadEvents(id string, fromOffset int) ([]string, error) {
	f, err := s.OpenEventLog(id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return []string{}, nil
	}
	defer f.Close()

	var lines []string
	n := 0
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		if n >= fromOffset {
			lines = append(lines, scanner.Text())
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

// EventCount returns the number of recorded events.
func (s *Store) EventCount(id string) (int, error) {
	f, err := s.OpenEventLog(id)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, nil
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read event log: %w", err)
	}
	return n, nil
}

// OpenEventLog opens events.ndjson for reading, for replay through the
// stream decoder. Returns (nil, nil) when the run has no events yet.
func (s *Store) OpenEventLog(id string) (io.ReadCloser, error) {
	if err := validID(id); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.runDir(id), "events.ndjson"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	return f, nil
}

// DeleteRun removes the run directory and all its contents.
func (s *Store) DeleteRun(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.runDir(id)); err != nil {
		return fmt.Errorf("failed to delete run directory: %w", err)
	}
	return nil
}

// RunExists checks if a run directory with a record exists.
func (s *Store) RunExists(id string) bool {
	if validID(id) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.runDir(id), "record.yaml"))
	return err == nil
}
