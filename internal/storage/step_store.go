// Package storage implements the step sample store on top of jsonldb.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/maruel/steplog/internal/jsonldb"
)

const (
	// LogFileName is the JSONL file holding the samples.
	LogFileName = "steps.jsonl"
	// CountFileName holds the cached sample count when StepsViewCount is used.
	CountFileName = "metadata.json"
)

// StepStore owns the sample log and, in count mode, the count cache.
//
// A single mutex guards both files: an append and its count increment, or a
// delete and its count reset, are observed by other goroutines as one unit.
type StepStore struct {
	mu      sync.Mutex
	log     *jsonldb.Log
	counter *jsonldb.Counter // nil unless view is StepsViewCount
	view    StepsView
}

// NewStepStore creates a store rooted at dataDir.
func NewStepStore(dataDir string, view StepsView) (*StepStore, error) {
	if err := view.Validate(); err != nil {
		return nil, err
	}
	log, err := jsonldb.NewLog(filepath.Join(dataDir, LogFileName))
	if err != nil {
		return nil, err
	}
	s := &StepStore{log: log, view: view}
	if view == StepsViewCount {
		if s.counter, err = jsonldb.NewCounter(filepath.Join(dataDir, CountFileName)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// View returns the GET /steps contract this store was built for.
func (s *StepStore) View() StepsView {
	return s.view
}

// LogPath returns the path of the sample log.
func (s *StepStore) LogPath() string {
	return s.log.Path()
}

// AppendBatch appends samples and returns how many were saved.
//
// The batch is all-or-nothing: if one sample is not a JSON object the error
// wraps jsonldb.ErrInvalidSample and nothing is written.
func (s *StepStore) AppendBatch(ctx context.Context, samples []json.RawMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.log.AppendBatch(samples)
	if err != nil {
		return 0, err
	}
	if s.counter != nil && n > 0 {
		if err := s.counter.IncrementBy(n); err != nil {
			// The rows are on disk; the cache is now behind until the next reset.
			slog.ErrorContext(ctx, "Failed to update sample count", "err", err, "appended", n)
			return n, fmt.Errorf("failed to update sample count: %w", err)
		}
	}
	return n, nil
}

// ReadAll returns every stored sample in append order.
func (s *StepStore) ReadAll(ctx context.Context) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, skipped, err := s.log.ReadAll()
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		slog.DebugContext(ctx, "Skipped malformed log lines", "skipped", skipped, "path", s.log.Path())
	}
	return rows, nil
}

// Count returns the number of stored samples.
//
// In count mode it reads the count cache, otherwise it scans the log.
func (s *StepStore) Count(ctx context.Context) (int, error) {
	if s.counter == nil {
		rows, err := s.ReadAll(ctx)
		if err != nil {
			return 0, err
		}
		return len(rows), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter.Get(), nil
}

// DeleteAll removes every sample and resets the count cache. It reports
// whether there was a log to delete.
func (s *StepStore) DeleteAll(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed, err := s.log.Remove()
	if err != nil {
		return false, err
	}
	if s.counter != nil {
		if err := s.counter.Reset(); err != nil {
			return existed, fmt.Errorf("failed to reset sample count: %w", err)
		}
	}
	if existed {
		slog.InfoContext(ctx, "Deleted sample log", "path", s.log.Path())
	}
	return existed, nil
}
