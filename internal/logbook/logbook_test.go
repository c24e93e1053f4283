package logbook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "run.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("", "entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestEntryFormat(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "nested", "run.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	book.Warn("a01.xml", "  missing path  ")
	book.Error("", "pass %d incomplete", 2)

	data, err := os.ReadFile(book.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "2024-03-01T12:00:00Z WARN  [a01.xml] missing path\n" +
		"2024-03-01T12:00:00Z ERROR pass 2 incomplete\n"
	if string(data) != want {
		t.Fatalf("logbook contents = %q, want %q", data, want)
	}
}

func TestNilLogbookIsSilent(t *testing.T) {
	var book *Logbook
	book.Info("doc", "ignored")
	if book.Path() != "" {
		t.Fatalf("nil logbook path = %q", book.Path())
	}
	if lines, total := book.Tail(10); lines != nil || total != 0 {
		t.Fatalf("nil logbook tail = %v, %d", lines, total)
	}
}

func TestTailMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "run.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	if lines, total := book.Tail(3); lines != nil || total != 0 {
		t.Fatalf("tail of empty logbook = %v, %d", lines, total)
	}
}
