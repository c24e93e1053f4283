// Package sps turns a folder of article XML files into a batch.
package sps

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scieloorg/pidmanager/internal/batch"
	"github.com/scieloorg/pidmanager/internal/document"
	"github.com/scieloorg/pidmanager/internal/pdf"
)

// Loader reads package folders.
type Loader struct {
	// PDFFallback reads the DOI from the document's PDF rendition when the
	// XML declares none.
	PDFFallback bool

	Logger *slog.Logger
}

// Load builds a batch from every .xml file directly inside dir, keyed by file
// name without extension. Files that fail to parse are still included so the
// run reports them. Such a file carries no identifiers, so it resolves only
// when a previous-id source knows its file name; otherwise it stays pending
// and the run ends exhausted.
func (l *Loader) Load(dir string) (batch.Batch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading package folder: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".xml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	b := make(batch.Batch, len(names))
	for _, fname := range names {
		item := l.loadItem(filepath.Join(dir, fname))
		if _, dup := b[item.Name]; dup {
			return nil, fmt.Errorf("duplicate document name %q in %s", item.Name, dir)
		}
		b[item.Name] = item
	}
	return b, nil
}

func (l *Loader) loadItem(path string) batch.Item {
	base := filepath.Base(path)
	item := batch.Item{
		Name: strings.TrimSuffix(base, filepath.Ext(base)),
		Path: path,
	}
	item.IDs.Filename = base

	doc, err := document.Load(path)
	if err != nil {
		msg := "cannot read XML"
		if errors.Is(err, document.ErrMalformed) {
			msg = "unparsable XML"
		}
		l.logger().Warn(msg+"; resolvable only by file name lookup", "path", path, "error", err)
		return item
	}

	ids := doc.Identifiers()
	ids.Filename = base
	if ids.DOI == "" && l.PDFFallback {
		ids.DOI = l.renditionDOI(path)
	}
	item.IDs = ids
	return item
}

func (l *Loader) renditionDOI(xmlPath string) string {
	rendition := pdf.Rendition(xmlPath)
	if rendition == "" {
		return ""
	}
	doi, err := pdf.ExtractDOI(rendition, pdf.DefaultMaxPages)
	if err != nil {
		l.logger().Debug("reading PDF DOI failed", "path", rendition, "error", err)
		return ""
	}
	if doi != "" {
		l.logger().Debug("DOI taken from PDF", "path", rendition, "doi", doi)
	}
	return doi
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.DiscardHandler)
}
