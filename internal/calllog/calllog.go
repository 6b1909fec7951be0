// Package calllog records objective evaluations as JSON lines and reads
// them back, so a later session can hand them to the solver as its
// "call_log".
package calllog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/optbridge/internal/protocol"
)

// Entry is one evaluated point.
type Entry struct {
	Point     protocol.Point `json:"point"`
	Value     float64        `json:"value"`
	Timestamp time.Time      `json:"timestamp"`
}

// Writer appends entries to a JSONL file.
// It uses buffered I/O and is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewWriter opens path for writing, creating parent directories.
// If append is true, new entries are added after existing ones.
func NewWriter(path string, append bool) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create call log directory: %w", err)
	}

	var file *os.File
	var err error
	if append {
		file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	} else {
		file, err = os.Create(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}

	return &Writer{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Record appends one evaluation stamped with the current time.
func (w *Writer) Record(p protocol.Point, value float64) error {
	return w.Write(Entry{Point: p, Value: value, Timestamp: time.Now()})
}

// Write appends an entry. It is buffered until Flush or Close.
func (w *Writer) Write(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal call log entry: %w", err)
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write call log entry: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Flush writes buffered entries and syncs the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush call log: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync call log: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close call log: %w", err)
	}
	return nil
}

// Path returns the file path of the log.
func (w *Writer) Path() string {
	return w.path
}

// Reader reads entries from a JSONL call log.
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewReader opens the call log at path.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open call log: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &Reader{file: file, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF at the end of the log.
// Blank lines are skipped.
func (r *Reader) Read() (*Entry, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal call log entry: %w", err)
		}
		return &entry, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan call log: %w", err)
	}
	return nil, io.EOF
}

// ReadAll reads every remaining entry.
func (r *Reader) ReadAll() ([]Entry, error) {
	var entries []Entry
	for {
		entry, err := r.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close call log: %w", err)
	}
	return nil
}

// Load reads the log at path and converts it to the wire form of
// "call_log".
func Load(path string) ([]protocol.CallLogEntry, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	return ToWire(entries), nil
}

// ToWire drops timestamps, keeping point and value.
func ToWire(entries []Entry) []protocol.CallLogEntry {
	out := make([]protocol.CallLogEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.CallLogEntry{Point: e.Point, Value: e.Value}
	}
	return out
}
