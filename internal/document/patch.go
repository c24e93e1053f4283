package document

import (
	"github.com/beevik/etree"
)

// Field is one identifier to write. An empty Value removes the element.
type Field struct {
	Value       string `json:"value"`
	SpecificUse string `json:"specific_use"`
}

// Apply returns a copy of doc with fields written into its article-meta.
//
// An existing article-id with the same specific-use gets the new value, or is
// removed when the value is empty. A missing one is inserted as the first child
// of article-meta. Apply returns nil when doc is nil, fields is empty, or the
// document has no article-meta. The input document is never modified.
func Apply(doc *Document, fields []Field) *Document {
	if doc == nil || len(fields) == 0 {
		return nil
	}

	out := &Document{tree: doc.tree.Copy()}
	meta := out.articleMeta()
	if meta == nil {
		return nil
	}

	for _, f := range fields {
		existing := articleIDs(meta, f.SpecificUse)
		if len(existing) == 0 {
			if f.Value != "" {
				meta.InsertChildAt(0, newArticleID(f))
			}
			continue
		}
		if f.Value == "" {
			for _, el := range existing {
				meta.RemoveChild(el)
			}
			continue
		}
		existing[0].SetText(f.Value)
		for _, dup := range existing[1:] {
			meta.RemoveChild(dup)
		}
	}
	return out
}

func articleIDs(meta *etree.Element, specificUse string) []*etree.Element {
	var found []*etree.Element
	for _, el := range meta.SelectElements(articleIDTag) {
		if el.SelectAttrValue("specific-use", "") == specificUse {
			found = append(found, el)
		}
	}
	return found
}

func newArticleID(f Field) *etree.Element {
	el := etree.NewElement(articleIDTag)
	el.CreateAttr("specific-use", f.SpecificUse)
	el.CreateAttr("pub-id-type", publisherIDType)
	el.SetText(f.Value)
	return el
}

// UpdateFile applies fields to the XML file at path and rewrites it.
// It reports whether the file was written.
func UpdateFile(path string, fields []Field) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}
	if path == "" {
		return false, ErrMissingPath
	}

	doc, err := Load(path)
	if err != nil {
		return false, err
	}
	return Patch(doc, path, fields)
}

// Patch applies fields to an already loaded doc and writes the result to
// path. It reports whether the file was written; a document without
// article-meta yields ErrNoArticleMeta and leaves the file alone.
func Patch(doc *Document, path string, fields []Field) (bool, error) {
	if doc == nil || len(fields) == 0 {
		return false, nil
	}
	if path == "" {
		return false, ErrMissingPath
	}

	patched := Apply(doc, fields)
	if patched == nil {
		return false, ErrNoArticleMeta
	}
	if err := Write(patched, path); err != nil {
		return false, err
	}
	return true, nil
}
