// Package reconcile decides the identifiers of a single document and lists the
// changes its XML needs to carry them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scieloorg/pidmanager/internal/aop"
	"github.com/scieloorg/pidmanager/internal/document"
	"github.com/scieloorg/pidmanager/internal/pid"
	"github.com/scieloorg/pidmanager/internal/registry"
)

// ErrUnresolved is returned when the registry could not produce a long id for
// a document. The document should be retried.
var ErrUnresolved = errors.New("long id not resolved")

// Reconciler is the registry operation the engine depends on.
type Reconciler interface {
	Reconcile(ctx context.Context, d registry.Declared, gen pid.Generator) (*registry.Resolution, error)
}

// Engine resolves documents against a registry.
type Engine struct {
	Registry Reconciler

	// Generator mints long ids for unseen documents. Defaults to
	// pid.UUIDGenerator.
	Generator pid.Generator

	// Previous looks up ahead-of-print ids for documents that declare none.
	// Optional.
	Previous aop.Resolver

	Logger *slog.Logger
}

// Result is the outcome of resolving one document.
type Result struct {
	// Writes lists the identifier fields to write, in order.
	Writes []document.Field `json:"writes"`

	// Response is the registry's resolution, kept for reporting.
	Response *registry.Resolution `json:"response"`

	LongID string `json:"v3"`
}

// ResolveDocument determines the short, previous and long ids of a document.
//
// A missing short id is built from issn, yearAndOrder and the document's order.
// A missing previous id is looked up through Previous. Any value that the
// document does not already carry is scheduled as a write. Calling it again on
// the patched document yields no writes.
func (e *Engine) ResolveDocument(ctx context.Context, ids pid.DocumentIdentifiers, issn, yearAndOrder string) (*Result, error) {
	var writes []document.Field

	shortID := ids.ShortID
	if shortID == "" && issn != "" && yearAndOrder != "" && ids.Order != "" {
		shortID = pid.BuildShortID(issn, yearAndOrder, ids.Order)
		writes = append(writes, document.Field{Value: shortID, SpecificUse: document.SpecificUseShortID})
	}

	previousID := ids.PreviousID
	if previousID == "" && e.Previous != nil {
		found, err := e.Previous.PreviousID(ctx, ids)
		if err != nil {
			// A failed lookup must not fall through to minting a new long id.
			return nil, fmt.Errorf("looking up previous id of %s: %w", describe(ids, shortID), err)
		}
		if found != "" {
			previousID = found
			writes = append(writes, document.Field{Value: previousID, SpecificUse: document.SpecificUsePreviousID})
		}
	}

	res, err := e.Registry.Reconcile(ctx, registry.Declared{
		ShortID:    shortID,
		LongID:     ids.LongID,
		PreviousID: previousID,
	}, e.generator())
	if err != nil {
		return nil, fmt.Errorf("reconciling %s: %w", describe(ids, shortID), err)
	}
	if res == nil {
		return nil, fmt.Errorf("%s: %w", describe(ids, shortID), ErrUnresolved)
	}

	if res.LongID != ids.LongID {
		writes = append(writes, document.Field{Value: res.LongID, SpecificUse: document.SpecificUseLongID})
	}
	if res.PreviousID != "" && res.PreviousID != previousID && !scheduled(writes, document.SpecificUsePreviousID) {
		writes = append(writes, document.Field{Value: res.PreviousID, SpecificUse: document.SpecificUsePreviousID})
	}

	e.logger().Debug("document resolved",
		"file", ids.Filename,
		"v2", res.ShortID,
		"v3", res.LongID,
		"outcome", res.Outcome,
		"writes", len(writes),
	)

	return &Result{Writes: writes, Response: res, LongID: res.LongID}, nil
}

func (e *Engine) generator() pid.Generator {
	if e.Generator != nil {
		return e.Generator
	}
	return pid.UUIDGenerator{}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func scheduled(writes []document.Field, specificUse string) bool {
	for _, w := range writes {
		if w.SpecificUse == specificUse {
			return true
		}
	}
	return false
}

func describe(ids pid.DocumentIdentifiers, shortID string) string {
	if ids.Filename != "" {
		return ids.Filename
	}
	if shortID != "" {
		return shortID
	}
	return "document"
}
