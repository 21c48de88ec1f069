// Package upload applies candidate documents to the store with minimal
// writes: unchanged records are never rewritten, and every insert or update
// leaves an entry in the per-sample change log.
package upload

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/model"
	"github.com/mimosa-project/mimosa-sync/internal/store"
)

// Mode selects how existing feature records are treated.
type Mode string

const (
	// ModeInsertOnly inserts new samples and leaves existing records alone,
	// except for the QC status which is always brought up to date.
	ModeInsertOnly Mode = "insert_only"
	// ModeReconcile additionally diffs every existing record against its
	// candidate and replaces it when any field changed.
	ModeReconcile Mode = "reconcile"
)

// Result counts the writes of one upload batch.
type Result struct {
	Inserted int
	Updated  int
}

// Engine writes features, similarities, and clustering artefacts to the
// store. Store failures abort the batch; a partial batch is never silently
// completed.
type Engine struct {
	store store.Store
	actor string
	now   func() time.Time
}

// NewEngine creates an upload engine. actor is recorded on change log
// entries.
func NewEngine(st store.Store, actor string) *Engine {
	return &Engine{store: st, actor: actor, now: time.Now}
}

// Features applies candidate feature records for one profile. New samples are
// inserted with a first-time log document; existing samples are updated
// according to mode. QC status changes are applied regardless of mode.
func (e *Engine) Features(ctx context.Context, profile string, candidates []model.Feature, mode Mode) (Result, error) {
	var res Result
	for _, candidate := range candidates {
		id := candidate.Properties.ID
		if id == "" {
			return res, eris.New("upload: candidate feature has no sample ID")
		}

		existing, err := e.store.GetFeature(ctx, id)
		if err != nil {
			return res, err
		}

		if existing == nil {
			if err := e.insertFeature(ctx, profile, candidate); err != nil {
				return res, err
			}
			res.Inserted++
			continue
		}

		updated, err := e.updateFeature(ctx, profile, *existing, candidate, mode)
		if err != nil {
			return res, err
		}
		if updated {
			res.Updated++
		}
	}
	return res, nil
}

func (e *Engine) insertFeature(ctx context.Context, profile string, f model.Feature) error {
	if err := e.store.InsertFeature(ctx, profile, f); err != nil {
		return err
	}
	log, err := e.store.GetSampleLog(ctx, f.Properties.ID)
	if err != nil {
		return err
	}
	if log != nil {
		// A log from a previously deleted sample; keep its history and
		// record the re-insert as an update.
		return e.store.AppendLogUpdate(ctx, f.Properties.ID, model.UpdateEntry{
			Date:          e.now().UTC(),
			UpdatedFields: []string{"ID"},
			Changes:       map[string]model.FieldChange{"ID": {Old: "", New: f.Properties.ID}},
			Actor:         e.actor,
		})
	}
	return e.store.InsertSampleLog(ctx, model.SampleLog{
		SampleID: f.Properties.ID,
		Profile:  profile,
		AddedAt:  e.now().UTC(),
	})
}

func (e *Engine) updateFeature(ctx context.Context, profile string, existing, candidate model.Feature, mode Mode) (bool, error) {
	var changes diff
	replacement := candidate
	switch mode {
	case ModeReconcile:
		changes = diffProperties(existing.Properties, candidate.Properties)
	default:
		changes = diffQC(existing.Properties, candidate.Properties)
		// Only the QC status moves; everything else keeps its stored value.
		replacement = existing
		replacement.Properties.QCStatus = candidate.Properties.QCStatus
	}
	if len(changes) == 0 {
		return false, nil
	}

	if err := e.store.ReplaceFeature(ctx, profile, replacement); err != nil {
		return false, err
	}

	fields := changes.fields()
	zap.L().Debug("feature updated",
		zap.String("sample_id", candidate.Properties.ID),
		zap.Strings("fields", fields))

	err := e.store.AppendLogUpdate(ctx, candidate.Properties.ID, model.UpdateEntry{
		Date:          e.now().UTC(),
		UpdatedFields: fields,
		Changes:       changes,
		Actor:         e.actor,
	})
	if err != nil {
		return false, eris.Wrapf(err, "upload: log update for %s", candidate.Properties.ID)
	}
	return true, nil
}

// Similarities replaces the stored record for every computed similarity.
func (e *Engine) Similarities(ctx context.Context, records []model.Similarity) (int, error) {
	for i, rec := range records {
		if err := e.store.ReplaceSimilarity(ctx, rec); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// Clustering stores a new clustering snapshot for a profile.
func (e *Engine) Clustering(ctx context.Context, res model.ClusteringResult) error {
	return e.store.InsertClustering(ctx, res)
}

// Distance replaces the stored distance matrix for a profile.
func (e *Engine) Distance(ctx context.Context, d model.Distance) error {
	return e.store.ReplaceDistance(ctx, d)
}
