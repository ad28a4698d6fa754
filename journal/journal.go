// Package journal is the append-only operation journal: every
// admission, step, terminal transition, and reconciliation change is
// recorded as one JSON line for audit and post-incident replay.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryType defines the type of journal entry.
type EntryType string

const (
	EntryAdmitted   EntryType = "admitted"
	EntryTransition EntryType = "transition"
	EntryStep       EntryType = "step"
	EntryExecuted   EntryType = "executed"
	EntryErred      EntryType = "erred"
	EntryReconciled EntryType = "reconciled"
	EntryDiscovered EntryType = "discovered"
	EntryRemoved    EntryType = "removed"
	EntryForced     EntryType = "forced"
)

// Entry is a single journal line.
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	ResourceID string          `json:"resource_id,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
}

// Journal appends entries to a per-process file, fsynced per write.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
}

// Open creates or opens a journal in the specified directory.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	filename := fmt.Sprintf("ohjaamo-%s.journal", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	j := &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
	}

	if err := j.loadSequence(); err != nil {
		_ = file.Close()
		return nil, err
	}

	return j, nil
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append adds an entry to the journal.
func (j *Journal) Append(entryType EntryType, resourceID, requestID string, data any) error {
	return j.append(entryType, resourceID, requestID, data, nil)
}

// AppendError adds an entry carrying a failure.
func (j *Journal) AppendError(entryType EntryType, resourceID, requestID string, data any, cause error) error {
	return j.append(entryType, resourceID, requestID, data, cause)
}

func (j *Journal) append(entryType EntryType, resourceID, requestID string, data any, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	entry := Entry{
		Timestamp:  time.Now(),
		Sequence:   j.sequence,
		Type:       entryType,
		ResourceID: resourceID,
		RequestID:  requestID,
		Data:       jsonData,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	return j.writeEntry(entry)
}

func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if _, err := j.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return j.file.Sync()
}

// loadSequence resumes numbering from the last entry across existing
// journal files in the directory.
func (j *Journal) loadSequence() error {
	files, err := filepath.Glob(filepath.Join(j.dir, "ohjaamo-*.journal"))
	if err != nil {
		return fmt.Errorf("list journal files: %w", err)
	}
	sort.Strings(files)

	for i := len(files) - 1; i >= 0; i-- {
		last, err := lastSequence(files[i])
		if err != nil {
			return err
		}
		if last > 0 {
			j.sequence = last
			return nil
		}
	}
	return nil
}

func lastSequence(path string) (int64, error) {
	reader, err := NewReader(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = reader.Close() }()

	var last int64
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			return 0, err
		}
		last = entry.Sequence
	}
}

// Reader replays a single journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a reader for the specified file.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry, returning io.EOF at the end.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay walks all journal files in dir and hands entries newer than
// since to the handler, in file order.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, "ohjaamo-*.journal"))
	if err != nil {
		return fmt.Errorf("list journal files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}
