package aop

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/scieloorg/pidmanager/internal/pid"
)

// MaxJSONLLineCapacity bounds a single index line.
const MaxJSONLLineCapacity = 1024 * 1024

// Entry is one line of an ahead-of-print index.
type Entry struct {
	DOI        string `json:"doi,omitempty"`
	Filename   string `json:"filename,omitempty"`
	PreviousID string `json:"previous_pid"`
}

// Index maps DOIs and file names to previous short ids.
type Index struct {
	byDOI      map[string]string
	byFilename map[string]string
}

// NewIndex builds an index from entries. Later entries win.
func NewIndex(entries []Entry) *Index {
	idx := &Index{
		byDOI:      make(map[string]string),
		byFilename: make(map[string]string),
	}
	for _, e := range entries {
		if e.PreviousID == "" {
			continue
		}
		if key := normalizeDOI(e.DOI); key != "" {
			idx.byDOI[key] = e.PreviousID
		}
		if key := filenameKey(e.Filename); key != "" {
			idx.byFilename[key] = e.PreviousID
		}
	}
	return idx
}

// LoadIndex reads a JSONL index file.
func LoadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()

	idx, err := ReadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// ReadIndex parses JSONL entries from r. Blank lines are skipped.
func ReadIndex(r io.Reader) (*Index, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return NewIndex(entries), nil
}

// Len returns the number of distinct keys.
func (idx *Index) Len() int {
	return len(idx.byDOI) + len(idx.byFilename)
}

// PreviousID implements Resolver. DOI matches are tried before file names.
func (idx *Index) PreviousID(_ context.Context, ids pid.DocumentIdentifiers) (string, error) {
	if prev, ok := idx.byDOI[normalizeDOI(ids.DOI)]; ok {
		return prev, nil
	}
	if prev, ok := idx.byFilename[filenameKey(ids.Filename)]; ok {
		return prev, nil
	}
	return "", nil
}

func normalizeDOI(doi string) string {
	doi = strings.TrimSpace(strings.ToLower(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return doi
}

func filenameKey(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
