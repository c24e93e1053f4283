// Package batch drives identifier resolution over a set of documents, retrying
// unresolved ones until every document has a confirmed long id or the attempt
// budget runs out.
package batch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/scieloorg/pidmanager/internal/document"
	"github.com/scieloorg/pidmanager/internal/pid"
	"github.com/scieloorg/pidmanager/internal/registry"
)

// Status is the state of one document in a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Item is one document of a batch.
type Item struct {
	Name string `json:"name"`
	// Path is the XML file to patch. Without one the document is resolved
	// but not written.
	Path string                  `json:"path,omitempty"`
	IDs  pid.DocumentIdentifiers `json:"ids"`
}

// Batch maps document names to items.
type Batch map[string]Item

// Names returns the document names in sorted order.
func (b Batch) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Params holds the issue metadata used to build missing short ids.
type Params struct {
	ISSN         string `json:"issn"`
	YearAndOrder string `json:"year_and_order"`
}

// DocResult records what happened to one document.
type DocResult struct {
	Name     string               `json:"name"`
	Status   Status               `json:"status"`
	LongID   string               `json:"v3,omitempty"`
	Outcome  registry.Outcome     `json:"outcome,omitempty"`
	Conflict bool                 `json:"conflict,omitempty"`
	Writes   []document.Field     `json:"writes,omitempty"`
	Written  bool                 `json:"written"`
	Warnings []string             `json:"warnings,omitempty"`
	Error    string               `json:"error,omitempty"`
	Attempts int                  `json:"attempts"`
	Response *registry.Resolution `json:"response,omitempty"`

	// Transient marks an error expected to clear on retry: a busy registry
	// or a throttled previous-id lookup.
	Transient bool `json:"transient,omitempty"`
}

// Report summarizes a run.
type Report struct {
	Total    int                   `json:"total"`
	Resolved int                   `json:"resolved"`
	Passes   int                   `json:"passes"`
	Results  map[string]*DocResult `json:"results"`
	Logbook  string                `json:"logbook,omitempty"`
}

// Pending returns the names of unresolved documents in sorted order.
func (r *Report) Pending() []string {
	return pendingNames(r.Results)
}

// ExhaustedError is returned when a run stops with unresolved documents.
// Publishing such a batch would leave documents without identifiers.
type ExhaustedError struct {
	Total    int                   `json:"total"`
	Attempts int                   `json:"attempts"`
	Resolved int                   `json:"resolved"`
	Results  map[string]*DocResult `json:"results"`

	// Cause is the unrecoverable error that ended the run, or nil when the
	// attempt budget ran out.
	Cause error `json:"-"`

	// LogTail holds the last lines of the run's logbook.
	LogTail []string `json:"log_tail,omitempty"`
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("batch exhausted after %d attempts: %d of %d documents resolved",
		e.Attempts, e.Resolved, e.Total)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if pending := pendingNames(e.Results); len(pending) > 0 {
		msg += " (pending: " + strings.Join(pending, ", ") + ")"
	}
	return msg
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// MarshalJSON includes the cause as text.
func (e *ExhaustedError) MarshalJSON() ([]byte, error) {
	type alias ExhaustedError
	cause := ""
	if e.Cause != nil {
		cause = e.Cause.Error()
	}
	return json.Marshal(struct {
		*alias
		Cause string `json:"cause,omitempty"`
	}{(*alias)(e), cause})
}

func pendingNames(results map[string]*DocResult) []string {
	var names []string
	for name, res := range results {
		if res.Status != StatusResolved {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
