// Package pdf reads DOIs from the PDF renditions that ship alongside article
// XML, for documents whose XML does not declare one.
package pdf

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxPages is how many leading pages ExtractDOI searches.
const DefaultMaxPages = 3

// DOIs look like 10.NNNN/suffix; the suffix runs until whitespace or markup.
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)

// ExtractDOI returns the first DOI printed on the leading pages of the PDF at
// path, or "" when there is none.
func ExtractDOI(path string, maxPages int) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if r.NumPage() < maxPages {
		maxPages = r.NumPage()
	}

	for i := 1; i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if doi := FindDOI(text); doi != "" {
			return doi, nil
		}
	}
	return "", nil
}

// FindDOI returns the first plausible DOI in text.
func FindDOI(text string) string {
	for _, match := range doiPattern.FindAllString(text, -1) {
		match = strings.TrimRight(match, ".,;:)")
		if isValidDOI(match) {
			return match
		}
	}
	return ""
}

func isValidDOI(doi string) bool {
	if len(doi) < 10 || !strings.HasPrefix(doi, "10.") {
		return false
	}
	slash := strings.Index(doi, "/")
	return slash != -1 && slash < len(doi)-1
}

// Rendition returns the PDF that belongs to the XML file at xmlPath: the file
// with the same base name, else the first translation ("a01-en.pdf"). It
// returns "" when the package has none.
func Rendition(xmlPath string) string {
	dir := filepath.Dir(xmlPath)
	stem := strings.TrimSuffix(filepath.Base(xmlPath), filepath.Ext(xmlPath))

	main := filepath.Join(dir, stem+".pdf")
	if info, err := os.Stat(main); err == nil && !info.IsDir() {
		return main
	}

	translations, err := filepath.Glob(filepath.Join(dir, stem+"-*.pdf"))
	if err != nil || len(translations) == 0 {
		return ""
	}
	sort.Strings(translations)
	return translations[0]
}
