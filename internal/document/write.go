package document

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

var encodingDeclRe = regexp.MustCompile(`encoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)

// Encoding returns the charset named in the XML declaration, or "UTF-8".
func (d *Document) Encoding() string {
	for _, tok := range d.tree.Child {
		pi, ok := tok.(*etree.ProcInst)
		if !ok || pi.Target != "xml" {
			continue
		}
		if m := encodingDeclRe.FindStringSubmatch(pi.Inst); m != nil {
			return m[1]
		}
		break
	}
	return "UTF-8"
}

// Bytes serializes the document in its declared encoding. Characters are
// written literally; only runes the target charset cannot represent become
// numeric character references. The DOCTYPE is emitted as read.
func (d *Document) Bytes() ([]byte, error) {
	d.tree.WriteSettings.CanonicalText = true
	d.tree.WriteSettings.CanonicalAttrVal = true

	var buf bytes.Buffer
	label := d.Encoding()
	if isUTF8(label) {
		if _, err := d.tree.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("serializing XML: %w", err)
		}
		return buf.Bytes(), nil
	}

	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}

	w := transform.NewWriter(&buf, encoding.HTMLEscapeUnsupported(enc.NewEncoder()))
	if _, err := d.tree.WriteTo(w); err != nil {
		return nil, fmt.Errorf("serializing XML as %s: %w", label, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("serializing XML as %s: %w", label, err)
	}
	return buf.Bytes(), nil
}

func isUTF8(label string) bool {
	switch strings.ToLower(label) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// Write serializes doc to path, replacing the file atomically. A symlinked
// path is followed so the link survives and its target is rewritten. The
// existing file's mode and, where the platform allows, owner are kept. It
// does nothing when doc is nil or path is empty.
func Write(doc *Document, path string) error {
	if doc == nil || path == "" {
		return nil
	}

	data, err := doc.Bytes()
	if err != nil {
		return err
	}

	target := path
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		target = resolved
	}

	mode := os.FileMode(0644)
	info, statErr := os.Stat(target)
	if statErr == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // No-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("setting mode on %s: %w", path, err)
	}
	if statErr == nil {
		keepOwner(tmpPath, info)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
