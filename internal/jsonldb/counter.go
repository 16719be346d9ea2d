package jsonldb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var errNegativeCount = errors.New("count must be non-negative")

// Counter is a persisted non-negative integer stored as {"count": n}.
type Counter struct {
	path string
}

type counterFile struct {
	Count int `json:"count"`
}

// NewCounter returns a Counter stored at path. The file is created by the
// first Set.
func NewCounter(path string) (*Counter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return &Counter{path: path}, nil
}

// Get returns the stored count.
//
// A missing, unreadable or corrupt file reads as 0. Get never fails so that a
// damaged counter cannot take the service down; the next Set repairs it.
func (c *Counter) Get() int {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0
	}
	var v counterFile
	if err := json.Unmarshal(data, &v); err != nil || v.Count < 0 {
		return 0
	}
	return v.Count
}

// Set overwrites the stored count.
//
// The new content is written to a temporary file in the same directory and
// renamed over the old one, so readers see either the old or the new value.
func (c *Counter) Set(n int) error {
	if n < 0 {
		return errNegativeCount
	}
	data, err := json.Marshal(counterFile{Count: n})
	if err != nil {
		return fmt.Errorf("failed to marshal count: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(c.path), "."+filepath.Base(c.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp count file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write count: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close temp count file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace count file: %w", err)
	}
	return nil
}

// IncrementBy adds delta to the stored count.
func (c *Counter) IncrementBy(delta int) error {
	return c.Set(c.Get() + delta)
}

// Reset sets the stored count to zero.
func (c *Counter) Reset() error {
	return c.Set(0)
}
