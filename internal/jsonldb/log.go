package jsonldb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// ErrInvalidSample is returned when a row handed to the log is not a JSON object.
var ErrInvalidSample = errors.New("each sample must be a JSON object")

// Log is an append-only JSONL file.
type Log struct {
	path string
}

// NewLog returns a Log stored at path. The parent directory is created; the
// file itself is created lazily by the first append.
func NewLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return &Log{path: path}, nil
}

// Path returns the location of the log file.
func (l *Log) Path() string {
	return l.path
}

// AppendBatch appends one line per row and returns the number of rows written.
//
// The whole batch is validated and encoded before the file is opened, then
// written with a single call. If any row is not a UTF-8 JSON object, nothing
// is written and the error wraps ErrInvalidSample. A last line left
// unterminated by a crash is closed off before the batch.
func (l *Log) AppendBatch(rows []json.RawMessage) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var buf bytes.Buffer
	for i, row := range rows {
		if err := compactObject(&buf, row); err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		buf.WriteByte('\n')
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // G302: data files are world readable
	if err != nil {
		return 0, fmt.Errorf("failed to open log file for append: %w", err)
	}
	data := buf.Bytes()
	terminated, err := endsWithNewline(f)
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	if !terminated {
		// A torn last line must not swallow the first row of this batch.
		data = append([]byte{'\n'}, data...)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("failed to write rows: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("failed to close log file: %w", err)
	}
	return len(rows), nil
}

// ReadAll returns every valid row in append order, and how many non-empty
// lines were skipped because they were not valid JSON objects.
//
// A missing file yields an empty slice.
func (l *Log) ReadAll() ([]json.RawMessage, int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []json.RawMessage{}, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to open log file %s: %w", l.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows := []json.RawMessage{}
	skipped := 0
	r := bufio.NewReader(f)
	for {
		// ReadBytes instead of bufio.Scanner: samples have no size bound.
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
			if len(line) != 0 {
				if isObject(line) {
					rows = append(rows, json.RawMessage(line))
				} else {
					skipped++
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("failed to read log file %s: %w", l.path, err)
		}
	}
	return rows, skipped, nil
}

// Remove deletes the log file. It reports whether a file existed.
func (l *Log) Remove() (bool, error) {
	if err := os.Remove(l.path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove log file %s: %w", l.path, err)
	}
	return true, nil
}

// endsWithNewline reports whether f is empty or its last byte is a newline.
func endsWithNewline(f *os.File) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat log file: %w", err)
	}
	if fi.Size() == 0 {
		return true, nil
	}
	var last [1]byte
	if _, err := f.ReadAt(last[:], fi.Size()-1); err != nil {
		return false, fmt.Errorf("failed to read log file tail: %w", err)
	}
	return last[0] == '\n', nil
}

// compactObject appends the compact encoding of raw to buf, rejecting
// anything that is not a JSON object.
func compactObject(buf *bytes.Buffer, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !utf8.Valid(trimmed) {
		return ErrInvalidSample
	}
	n := buf.Len()
	if err := json.Compact(buf, trimmed); err != nil {
		buf.Truncate(n)
		return fmt.Errorf("%w: %w", ErrInvalidSample, err)
	}
	return nil
}

func isObject(line []byte) bool {
	return line[0] == '{' && utf8.Valid(line) && json.Valid(line)
}
