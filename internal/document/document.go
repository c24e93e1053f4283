// Package document reads and patches the identifier elements of JATS article
// XML while leaving the rest of the file as it was.
package document

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/scieloorg/pidmanager/internal/pid"
)

// Values of the specific-use attribute on article-id elements.
const (
	SpecificUseShortID    = "scielo-v2"
	SpecificUseLongID     = "scielo-v3"
	SpecificUsePreviousID = "previous-pid"
)

const (
	articleMetaPath = ".//article-meta"
	articleIDTag    = "article-id"
	publisherIDType = "publisher-id"
)

var (
	// ErrMalformed is returned when a file cannot be parsed as XML.
	ErrMalformed = errors.New("malformed XML")

	// ErrNoArticleMeta is returned when a document has no article-meta element.
	ErrNoArticleMeta = errors.New("article-meta not found")

	// ErrMissingPath is returned when a document has no file to write to.
	ErrMissingPath = errors.New("missing file path")
)

// Document is a parsed article XML tree.
type Document struct {
	tree *etree.Document
}

// Load reads and parses the XML file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse parses XML bytes. Documents declaring a non-UTF-8 encoding are decoded
// with the matching IANA charset.
func Parse(data []byte) (*Document, error) {
	tree := etree.NewDocument()
	tree.ReadSettings.CharsetReader = charsetReader
	tree.ReadSettings.Entity = xml.HTMLEntity
	tree.ReadSettings.PreserveCData = true

	if err := tree.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if tree.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return &Document{tree: tree}, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// Identifiers returns the identifiers declared in the document's article-meta.
func (d *Document) Identifiers() pid.DocumentIdentifiers {
	var ids pid.DocumentIdentifiers
	meta := d.articleMeta()
	if meta == nil {
		return ids
	}

	for _, el := range meta.SelectElements(articleIDTag) {
		value := strings.TrimSpace(el.Text())
		switch el.SelectAttrValue("specific-use", "") {
		case SpecificUseShortID:
			ids.ShortID = value
			continue
		case SpecificUseLongID:
			ids.LongID = value
			continue
		case SpecificUsePreviousID:
			ids.PreviousID = value
			continue
		}
		switch el.SelectAttrValue("pub-id-type", "") {
		case "doi":
			ids.DOI = value
		case "other":
			ids.Order = value
		}
	}
	return ids
}

// HasArticleMeta reports whether the document has somewhere to put ids.
func (d *Document) HasArticleMeta() bool {
	return d.articleMeta() != nil
}

func (d *Document) articleMeta() *etree.Element {
	return d.tree.FindElement(articleMetaPath)
}
