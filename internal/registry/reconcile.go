package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scieloorg/pidmanager/internal/pid"
)

// Outcome tells how Reconcile arrived at the long id.
type Outcome string

const (
	// OutcomeGenerated means no history existed and a new long id was minted.
	OutcomeGenerated Outcome = "generated"
	// OutcomeRecovered means the long id came from registered records.
	OutcomeRecovered Outcome = "recovered"
	// OutcomeDeclaredOverride means the document's own long id won and the
	// registry was rewritten to match it.
	OutcomeDeclaredOverride Outcome = "declared_override"
)

// Declared holds the identifiers a document states about itself.
type Declared struct {
	ShortID    string `json:"v2,omitempty"`
	LongID     string `json:"v3,omitempty"`
	PreviousID string `json:"previous_pid,omitempty"`
}

// Resolution is the authoritative identifier set for one document.
type Resolution struct {
	ShortID    string  `json:"v2"`
	LongID     string  `json:"v3"`
	PreviousID string  `json:"previous_pid,omitempty"`
	Outcome    Outcome `json:"outcome"`

	// FormerShortID is a short id the registry held for the declared long id
	// that the document no longer carries. When the document declares no
	// previous id it becomes PreviousID.
	FormerShortID string `json:"former_v2,omitempty"`

	// Conflict is set when the registry held several long ids for the
	// document's keys and priority lookup picked one.
	Conflict bool `json:"conflict,omitempty"`
}

// Reconcile decides the long id for a document and normalizes the registry so
// that both the short id and the previous id map to it exactly once.
//
// A declared long id is authoritative: records carrying it, and records under
// the document's keys that carry another long id, are replaced. Without a
// declared long id the records under the previous and short ids are consulted;
// none yields a generated id, one distinct long id is adopted, and several are
// settled by taking the previous id's record over the short id's.
//
// Reconcile returns nil without error when no long id can be produced. All
// changes commit in a single transaction.
func (r *Registry) Reconcile(ctx context.Context, d Declared, gen pid.Generator) (*Resolution, error) {
	if d.ShortID == "" && d.PreviousID == "" {
		return nil, nil
	}

	var res *Resolution
	err := r.withTx(ctx, "reconcile", func(tx *sql.Tx) error {
		var err error
		if d.LongID != "" {
			res, err = overrideWithDeclared(ctx, tx, d)
		} else {
			res, err = resolveFromHistory(ctx, tx, d, gen)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if res != nil {
		r.logger.Debug("reconciled",
			"v2", res.ShortID,
			"v3", res.LongID,
			"previous_pid", res.PreviousID,
			"outcome", res.Outcome,
			"conflict", res.Conflict,
		)
	}
	return res, nil
}

func overrideWithDeclared(ctx context.Context, tx *sql.Tx, d Declared) (*Resolution, error) {
	stale, err := recordsByLongID(ctx, tx, d.LongID)
	if err != nil {
		return nil, err
	}

	previousID := d.PreviousID
	former := ""
	if previousID == "" {
		for _, rec := range stale {
			if rec.ShortID != "" && rec.ShortID != d.ShortID {
				former = rec.ShortID
				break
			}
		}
		previousID = former
	}

	doomed := make(map[int64]bool)
	for _, rec := range stale {
		doomed[rec.ID] = true
	}
	for _, key := range []string{d.ShortID, previousID} {
		recs, err := recordsByShortID(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			if rec.LongID != d.LongID {
				doomed[rec.ID] = true
			}
		}
	}
	for id := range doomed {
		if err := deleteRecord(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	if err := insertPairs(ctx, tx, d.LongID, d.ShortID, previousID); err != nil {
		return nil, err
	}

	return &Resolution{
		ShortID:       d.ShortID,
		LongID:        d.LongID,
		PreviousID:    previousID,
		Outcome:       OutcomeDeclaredOverride,
		FormerShortID: former,
	}, nil
}

func resolveFromHistory(ctx context.Context, tx *sql.Tx, d Declared, gen pid.Generator) (*Resolution, error) {
	prevRecords, err := recordsByShortID(ctx, tx, d.PreviousID)
	if err != nil {
		return nil, err
	}
	shortRecords, err := recordsByShortID(ctx, tx, d.ShortID)
	if err != nil {
		return nil, err
	}

	longIDs := distinctLongIDs(prevRecords, shortRecords)

	switch len(longIDs) {
	case 0:
		return generateFresh(ctx, tx, d, gen)
	case 1:
		return adoptSingle(ctx, tx, d, longIDs[0], prevRecords, shortRecords)
	default:
		return adoptByPriority(ctx, tx, d, prevRecords, shortRecords)
	}
}

// generateFresh handles documents the registry has never seen.
func generateFresh(ctx context.Context, tx *sql.Tx, d Declared, gen pid.Generator) (*Resolution, error) {
	if gen == nil {
		return nil, nil
	}
	longID, err := gen.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating long id: %w", err)
	}
	if longID == "" {
		return nil, nil
	}
	if err := insertPairs(ctx, tx, longID, d.ShortID, d.PreviousID); err != nil {
		return nil, err
	}
	return &Resolution{
		ShortID:    d.ShortID,
		LongID:     longID,
		PreviousID: d.PreviousID,
		Outcome:    OutcomeGenerated,
	}, nil
}

// adoptSingle handles unambiguous history: keep the first record per key, drop
// the surplus, add the missing key.
func adoptSingle(ctx context.Context, tx *sql.Tx, d Declared, longID string, prevRecords, shortRecords []Record) (*Resolution, error) {
	deleted := make(map[int64]bool)
	for _, kr := range []struct {
		key     string
		records []Record
	}{
		{d.PreviousID, prevRecords},
		{d.ShortID, shortRecords},
	} {
		if kr.key == "" {
			continue
		}
		if len(kr.records) == 0 {
			if _, err := insertPair(ctx, tx, kr.key, longID); err != nil {
				return nil, err
			}
			continue
		}
		for _, rec := range kr.records[1:] {
			if deleted[rec.ID] {
				continue
			}
			if err := deleteRecord(ctx, tx, rec.ID); err != nil {
				return nil, err
			}
			deleted[rec.ID] = true
		}
	}

	return &Resolution{
		ShortID:    d.ShortID,
		LongID:     longID,
		PreviousID: d.PreviousID,
		Outcome:    OutcomeRecovered,
	}, nil
}

// adoptByPriority handles conflicting history. The oldest previous-id record
// wins over the oldest short-id record; every other record under either key is
// removed and the winner's long id is registered for both keys.
func adoptByPriority(ctx context.Context, tx *sql.Tx, d Declared, prevRecords, shortRecords []Record) (*Resolution, error) {
	var chosen Record
	if len(prevRecords) > 0 {
		chosen = prevRecords[0]
	} else {
		chosen = shortRecords[0]
	}

	deleted := make(map[int64]bool)
	for _, recs := range [][]Record{prevRecords, shortRecords} {
		for _, rec := range recs {
			if rec.ID == chosen.ID || deleted[rec.ID] {
				continue
			}
			if err := deleteRecord(ctx, tx, rec.ID); err != nil {
				return nil, err
			}
			deleted[rec.ID] = true
		}
	}

	if !containsRecord(prevRecords, chosen.ID) {
		if _, err := insertPair(ctx, tx, d.PreviousID, chosen.LongID); err != nil {
			return nil, err
		}
	}
	if !containsRecord(shortRecords, chosen.ID) {
		if _, err := insertPair(ctx, tx, d.ShortID, chosen.LongID); err != nil {
			return nil, err
		}
	}

	return &Resolution{
		ShortID:    d.ShortID,
		LongID:     chosen.LongID,
		PreviousID: d.PreviousID,
		Outcome:    OutcomeRecovered,
		Conflict:   true,
	}, nil
}

func insertPairs(ctx context.Context, tx *sql.Tx, longID string, shortIDs ...string) error {
	for _, shortID := range shortIDs {
		if _, err := insertPair(ctx, tx, shortID, longID); err != nil {
			return err
		}
	}
	return nil
}

// distinctLongIDs returns the long ids of the given records in first-seen order.
func distinctLongIDs(groups ...[]Record) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, recs := range groups {
		for _, rec := range recs {
			if rec.LongID == "" || seen[rec.LongID] {
				continue
			}
			seen[rec.LongID] = true
			ids = append(ids, rec.LongID)
		}
	}
	return ids
}

func containsRecord(records []Record, id int64) bool {
	for _, rec := range records {
		if rec.ID == id {
			return true
		}
	}
	return false
}
