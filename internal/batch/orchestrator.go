package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/scieloorg/pidmanager/internal/aop"
	"github.com/scieloorg/pidmanager/internal/document"
	"github.com/scieloorg/pidmanager/internal/logbook"
	"github.com/scieloorg/pidmanager/internal/pid"
	"github.com/scieloorg/pidmanager/internal/reconcile"
	"github.com/scieloorg/pidmanager/internal/registry"
)

// logTailLines is how much of the logbook an ExhaustedError carries.
const logTailLines = 50

// Registry is a registry session opened for one pass.
type Registry interface {
	reconcile.Reconciler
	Close() error
}

// RegistryOpener opens the registry at the start of each pass.
type RegistryOpener func(ctx context.Context) (Registry, error)

// OpenSQLite returns an opener for the SQLite registry at path.
func OpenSQLite(path string, opts ...registry.Option) RegistryOpener {
	return func(context.Context) (Registry, error) {
		reg, err := registry.Open(path, opts...)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
}

// Orchestrator runs batches.
type Orchestrator struct {
	Open      RegistryOpener
	Generator pid.Generator
	Previous  aop.Resolver
	Logger    *slog.Logger

	// Book receives a per-run record of document outcomes. Optional.
	Book *logbook.Logbook
}

// Run resolves every document in b.
//
// Each pass visits the documents still pending, one registry transaction per
// document. A pass that leaves documents pending counts as one attempt; once
// attempts exceed the batch size, or the registry cannot be opened, or ctx is
// done, Run returns an *ExhaustedError. Per-document failures are recorded in
// the results and never abort a pass.
func (o *Orchestrator) Run(ctx context.Context, b Batch, params Params) (*Report, error) {
	log := o.logger()
	report := &Report{
		Total:   len(b),
		Results: make(map[string]*DocResult, len(b)),
		Logbook: o.Book.Path(),
	}
	for _, name := range b.Names() {
		report.Results[name] = &DocResult{Name: name, Status: StatusPending}
	}

	attempts := 0
	for report.Resolved < report.Total {
		report.Passes++
		o.Book.Info("", "pass %d: %d of %d documents pending",
			report.Passes, report.Total-report.Resolved, report.Total)

		if err := o.pass(ctx, b, params, report); err != nil {
			log.Error("batch stopped", "pass", report.Passes, "error", err)
			o.Book.Error("", "pass %d stopped: %v", report.Passes, err)
			return nil, o.exhausted(report, report.Passes, err)
		}
		if report.Resolved == report.Total {
			break
		}

		attempts++
		log.Warn("pass incomplete",
			"pass", report.Passes,
			"resolved", report.Resolved,
			"total", report.Total,
		)
		if attempts > report.Total {
			o.Book.Error("", "giving up after %d attempts: %d of %d resolved",
				attempts, report.Resolved, report.Total)
			return nil, o.exhausted(report, attempts, nil)
		}
	}

	log.Info("batch resolved", "documents", report.Total, "passes", report.Passes)
	o.Book.Info("", "batch resolved: %d documents in %d passes", report.Total, report.Passes)
	return report, nil
}

// pass visits pending documents once. Only errors that make further passes
// pointless are returned.
func (o *Orchestrator) pass(ctx context.Context, b Batch, params Params, report *Report) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	reg, err := o.Open(ctx)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer func() {
		if cerr := reg.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing registry: %w", cerr)
		}
	}()

	engine := &reconcile.Engine{
		Registry:  reg,
		Generator: o.Generator,
		Previous:  o.Previous,
		Logger:    o.logger(),
	}

	for _, name := range b.Names() {
		res := report.Results[name]
		if res.Status == StatusResolved {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res.Attempts++
		if err := o.processDocument(ctx, engine, b[name], params, res); err != nil {
			res.Error = err.Error()
			res.Transient = registry.IsTransient(err) || aop.IsRateLimited(err)
			o.logger().Warn("document unresolved", "document", name, "error", err, "transient", res.Transient)
			o.Book.Warn(name, "unresolved: %v", err)
			continue
		}

		res.Status = StatusResolved
		res.Error = ""
		res.Transient = false
		report.Resolved++
		o.Book.Info(name, "resolved v3=%s outcome=%s writes=%d", res.LongID, res.Outcome, len(res.Writes))
	}
	return nil
}

// processDocument resolves one document and patches its file. A returned
// error leaves the document pending.
func (o *Orchestrator) processDocument(ctx context.Context, engine *reconcile.Engine, item Item, params Params, res *DocResult) error {
	log := o.logger().With("document", item.Name)
	res.Warnings = nil

	ids := item.IDs
	var doc *document.Document
	if item.Path == "" {
		res.Warnings = append(res.Warnings, "no file path, patching skipped")
		log.Warn("missing file path; patching skipped")
		o.Book.Warn(item.Name, "missing file path; patching skipped")
	} else {
		loaded, err := document.Load(item.Path)
		switch {
		case errors.Is(err, document.ErrMalformed):
			res.Warnings = append(res.Warnings, "malformed XML, patching skipped")
			log.Warn("malformed XML; patching skipped", "path", item.Path, "error", err)
			o.Book.Warn(item.Name, "malformed XML; patching skipped: %v", err)
		case errors.Is(err, fs.ErrNotExist):
			res.Warnings = append(res.Warnings, "file not found, patching skipped")
			log.Warn("file not found; patching skipped", "path", item.Path)
			o.Book.Warn(item.Name, "file not found; patching skipped: %s", item.Path)
		case err != nil:
			return err
		default:
			doc = loaded
			ids = mergeIdentifiers(doc.Identifiers(), item.IDs)
		}
	}
	if ids.Filename == "" {
		ids.Filename = item.Name
	}

	result, err := engine.ResolveDocument(ctx, ids, params.ISSN, params.YearAndOrder)
	if err != nil {
		return err
	}
	res.LongID = result.LongID
	res.Writes = result.Writes
	res.Response = result.Response
	res.Outcome = result.Response.Outcome
	res.Conflict = result.Response.Conflict
	if res.Conflict {
		o.Book.Warn(item.Name, "registry held conflicting long ids; kept %s", res.LongID)
	}

	if doc == nil || len(result.Writes) == 0 {
		return nil
	}
	written, err := document.Patch(doc, item.Path, result.Writes)
	switch {
	case errors.Is(err, document.ErrNoArticleMeta):
		res.Warnings = append(res.Warnings, "no article-meta, patching skipped")
		log.Warn("no article-meta; patching skipped", "path", item.Path)
		o.Book.Warn(item.Name, "no article-meta; patching skipped")
		return nil
	case err != nil:
		return fmt.Errorf("writing identifiers: %w", err)
	}
	res.Written = written
	log.Debug("identifiers written", "path", item.Path, "fields", len(result.Writes))
	return nil
}

// mergeIdentifiers prefers what the file declares and fills gaps from the
// caller-supplied values.
func mergeIdentifiers(fromFile, given pid.DocumentIdentifiers) pid.DocumentIdentifiers {
	ids := fromFile
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&ids.ShortID, given.ShortID)
	fill(&ids.LongID, given.LongID)
	fill(&ids.PreviousID, given.PreviousID)
	fill(&ids.Order, given.Order)
	fill(&ids.DOI, given.DOI)
	fill(&ids.Filename, given.Filename)
	return ids
}

func (o *Orchestrator) exhausted(report *Report, attempts int, cause error) *ExhaustedError {
	tail, _ := o.Book.Tail(logTailLines)
	return &ExhaustedError{
		Total:    report.Total,
		Attempts: attempts,
		Resolved: report.Resolved,
		Results:  report.Results,
		Cause:    cause,
		LogTail:  tail,
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}
