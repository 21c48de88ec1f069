package similarity

import (
	"context"

	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

// Reconcile recomputes neighbor lists for newIDs and for every already-stored
// sample that a fresh result names as a neighbor, then merges the recomputed
// records over the existing snapshot. Only direct neighbors of new data are
// refreshed; second-order drift is accepted to bound the cost of incremental
// runs.
func (e *Engine) Reconcile(ctx context.Context, existing []model.Similarity, newIDs []string) []model.Similarity {
	known := make(map[string]bool, len(existing))
	for _, rec := range existing {
		known[rec.ID] = true
	}

	newResults := e.Compute(ctx, newIDs)

	var affected []string
	affectedSeen := map[string]bool{}
	for _, rec := range newResults {
		for _, n := range rec.Similar {
			if known[n.ID] && !affectedSeen[n.ID] {
				affectedSeen[n.ID] = true
				affected = append(affected, n.ID)
			}
		}
	}

	var affectedResults []model.Similarity
	if len(affected) > 0 {
		zap.L().Info("recomputing neighbor lists for affected samples",
			zap.Int("count", len(affected)))
		affectedResults = e.Compute(ctx, affected)
	}

	recomputed := map[string]bool{}
	merged := make([]model.Similarity, 0, len(existing)+len(newResults))
	for _, rec := range newResults {
		recomputed[rec.ID] = true
		merged = append(merged, rec)
	}
	for _, rec := range affectedResults {
		if recomputed[rec.ID] {
			continue
		}
		recomputed[rec.ID] = true
		merged = append(merged, rec)
	}
	for _, rec := range existing {
		if recomputed[rec.ID] {
			continue
		}
		merged = append(merged, rec)
	}
	return merged
}
