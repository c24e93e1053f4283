// Package pid builds and validates SciELO persistent identifiers.
//
// A short id ("v2") is the legacy identifier derived from the journal ISSN and
// the article's position in the publication year and issue. A long id ("v3") is
// an opaque, globally unique identifier produced by a Generator.
package pid

import (
	"fmt"
	"strings"
)

const (
	// ShortIDPrefix starts every built short id.
	ShortIDPrefix = "S"

	// MaxShortIDLen is the registry column width for short ids.
	MaxShortIDLen = 23
	// MaxLongIDLen is the registry column width for long ids.
	MaxLongIDLen = 255

	yearLen        = 4
	orderInYearLen = 4
)

// DocumentIdentifiers is the identifier view of one article document.
// Empty strings mean the document does not declare the value.
type DocumentIdentifiers struct {
	ShortID    string `json:"v2,omitempty"`
	LongID     string `json:"v3,omitempty"`
	PreviousID string `json:"previous_pid,omitempty"`
	Order      string `json:"order,omitempty"` // sequence in issue
	DOI        string `json:"doi,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

// BuildShortID derives the legacy short id from journal and issue metadata.
//
// yearAndOrder is the 4-digit year followed by the sequence of the issue in the
// year ("20095" is the fifth issue of 2009). The ISSN and orderInIssue are used
// verbatim.
func BuildShortID(issn, yearAndOrder, orderInIssue string) string {
	year := yearAndOrder
	orderInYear := ""
	if len(yearAndOrder) > yearLen {
		year = yearAndOrder[:yearLen]
		orderInYear = yearAndOrder[yearLen:]
	}
	return ShortIDPrefix + issn + year + zeroPad(orderInYear, orderInYearLen) + orderInIssue
}

// zeroPad left-pads s with zeros up to width, like Python's str.zfill.
func zeroPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// ValidateShortID checks that a short id fits the registry schema.
func ValidateShortID(id string) error {
	if id == "" {
		return fmt.Errorf("short id is empty")
	}
	if len(id) > MaxShortIDLen {
		return fmt.Errorf("short id %q exceeds %d characters", id, MaxShortIDLen)
	}
	return nil
}

// ValidateLongID checks that a long id fits the registry schema.
func ValidateLongID(id string) error {
	if id == "" {
		return fmt.Errorf("long id is empty")
	}
	if len(id) > MaxLongIDLen {
		return fmt.Errorf("long id exceeds %d characters", MaxLongIDLen)
	}
	return nil
}
