// Package logbook keeps a plain-text record of one batch run, so an operator
// can see which documents failed on which pass after the process has exited.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level is the severity of an entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook appends timestamped entries to a text file. A nil *Logbook
// discards everything, so callers never need to check for one.
type Logbook struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// New creates a logbook backed by path, creating parent directories.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating logbook directory: %w", err)
	}
	return &Logbook{path: path, now: time.Now}, nil
}

// Path returns the backing file.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one entry. Entries scoped to a document carry its name in
// brackets after the level.
func (l *Logbook) Append(level Level, doc, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(l.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, " %-5s ", level)
	if doc != "" {
		fmt.Fprintf(&sb, "[%s] ", doc)
	}
	sb.WriteString(strings.TrimSpace(message))
	sb.WriteByte('\n')

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(sb.String())
}

// Tail returns up to maxLines of the most recent entries and the total number
// of entries in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	total := len(lines)
	if total > maxLines {
		lines = lines[total-maxLines:]
	}
	return lines, total
}

// Info appends an informational entry for doc.
func (l *Logbook) Info(doc, format string, args ...any) {
	l.Append(LevelInfo, doc, fmt.Sprintf(format, args...))
}

// Warn appends a warning for doc.
func (l *Logbook) Warn(doc, format string, args ...any) {
	l.Append(LevelWarn, doc, fmt.Sprintf(format, args...))
}

// Error appends an error for doc.
func (l *Logbook) Error(doc, format string, args ...any) {
	l.Append(LevelError, doc, fmt.Sprintf(format, args...))
}
