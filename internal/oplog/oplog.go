// Package oplog maintains the append-only operation log. The log is the
// source of truth for undo: every executed mutation appends exactly one
// line before the caller hears about it, and lines are never rewritten.
package oplog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mvasile/fileward/internal/events"
)

// Operation names the mutation recorded by an entry.
type Operation string

const (
	OpMove   Operation = "MOVE"
	OpCopy   Operation = "COPY"
	OpDelete Operation = "DELETE"
)

// Status of the recorded mutation.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusSimulated Status = "SIMULATED"
)

// Entry is one logged mutation.
type Entry struct {
	Timestamp   time.Time
	Operation   Operation
	FilePath    string
	OldLocation string
	NewLocation string
	Status      Status
}

const (
	delimiter  = " | "
	timeLayout = time.RFC3339
)

// Log appends and reads pipe-delimited entries. Appends are serialized so
// concurrent executors never interleave partial lines.
type Log struct {
	path   string
	logger *events.Logger

	mu sync.Mutex
}

// Open prepares the log at path, creating parent directories. The file
// itself is created lazily on first append.
func Open(path string, logger *events.Logger) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("operation log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Log{
		path:   path,
		logger: logger.WithField("component", "oplog"),
	}, nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append writes one entry. The file is opened in append mode per call so
// a crash can lose at most the line being written, never corrupt earlier
// history.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open operation log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(encode(entry) + "\n"); err != nil {
		return fmt.Errorf("append operation log: %w", err)
	}

	l.logger.WithFields(map[string]interface{}{
		"operation": string(entry.Operation),
		"file":      entry.FilePath,
		"status":    string(entry.Status),
	}).Debug("entry appended")

	return nil
}

// Entries reads a snapshot of the whole log. Malformed lines are skipped,
// never fatal; a missing file reads as an empty log.
func (l *Log) Entries() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read operation log: %w", err)
	}

	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		entry, ok := parseLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				l.logger.WithField("line", line).Debug("skipping malformed log line")
			}
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// encode renders the fixed field order. The delimiter cannot be escaped,
// so it is stripped from field values.
func encode(entry Entry) string {
	return strings.Join([]string{
		entry.Timestamp.Format(timeLayout),
		sanitize(string(entry.Operation)),
		sanitize(entry.FilePath),
		sanitize(entry.OldLocation),
		sanitize(entry.NewLocation),
		sanitize(string(entry.Status)),
	}, delimiter)
}

func sanitize(field string) string {
	field = strings.ReplaceAll(field, "|", "/")
	return strings.ReplaceAll(field, "\n", " ")
}

func parseLine(line string) (Entry, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Entry{}, false
	}

	parts := strings.Split(line, "|")
	if len(parts) != 6 {
		return Entry{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	ts, err := time.Parse(timeLayout, parts[0])
	if err != nil {
		return Entry{}, false
	}

	return Entry{
		Timestamp:   ts,
		Operation:   Operation(parts[1]),
		FilePath:    parts[2],
		OldLocation: parts[3],
		NewLocation: parts[4],
		Status:      Status(parts[5]),
	}, true
}
