package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/ledger"
	"github.com/mimosa-project/mimosa-sync/internal/model"
	"github.com/mimosa-project/mimosa-sync/internal/profile"
	"github.com/mimosa-project/mimosa-sync/internal/similarity"
	"github.com/mimosa-project/mimosa-sync/internal/store"
	"github.com/mimosa-project/mimosa-sync/internal/upload"
	"github.com/mimosa-project/mimosa-sync/pkg/bonsai"
)

// Options control a pipeline run.
type Options struct {
	// OutputDir is where per-profile working directories are created.
	OutputDir string
	// Supplementary is an optional CSV/XLSX file with PostCode and Hospital
	// data merged into the metadata before upload.
	Supplementary string
	// Update reprocesses metadata for already-stored samples and reconciles
	// every field, skipping clustering entirely.
	Update bool
	// Force processes a profile even when it has no new samples.
	Force bool
	// SkipSimilarity leaves the stored similarity records untouched.
	SkipSimilarity bool
}

// Summary reports what a run changed.
type Summary struct {
	// Results holds upload counts per processed profile.
	Results map[string]upload.Result
	// Failed lists profiles whose stages failed.
	Failed []string
	// SimilarityCount is the number of similarity records written.
	SimilarityCount int
}

// Driver owns one pipeline run: fetch, cluster, upload per profile, then the
// global similarity pass. A profile failure is recorded and the remaining
// profiles still run.
type Driver struct {
	client    bonsai.Client
	store     store.Store
	uploader  *upload.Engine
	simEngine *similarity.Engine
	reportree *ReporTree
	runner    *ledger.Runner
	opts      Options
	now       func() time.Time
}

// NewDriver wires a pipeline run over its collaborators.
func NewDriver(client bonsai.Client, st store.Store, uploader *upload.Engine, simEngine *similarity.Engine, rt *ReporTree, runner *ledger.Runner, opts Options) *Driver {
	return &Driver{
		client:    client,
		store:     st,
		uploader:  uploader,
		simEngine: simEngine,
		reportree: rt,
		runner:    runner,
		opts:      opts,
		now:       time.Now,
	}
}

// Run executes the pipeline over the selected profiles.
func (d *Driver) Run(ctx context.Context, profiles []profile.Profile) (*Summary, error) {
	samples, err := d.client.ListSamples(ctx)
	if err != nil {
		return nil, err
	}
	byProfile := groupSamples(samples)

	summary := &Summary{Results: map[string]upload.Result{}}
	var changedIDs []string

	for _, p := range profiles {
		ids := byProfile[p.Name]
		newIDs, err := d.newSampleIDs(ctx, p.Name, ids)
		if err != nil {
			return nil, err
		}

		if len(ids) == 0 || (len(newIDs) == 0 && !d.opts.Force && !d.opts.Update) {
			zap.L().Info("no new samples for profile, skipping",
				zap.String("profile", p.Name), zap.Int("samples", len(ids)))
			d.skipProfile(p.Name)
			continue
		}

		res, err := d.runProfile(ctx, p, ids)
		if err != nil {
			zap.L().Error("profile failed", zap.String("profile", p.Name), zap.Error(err))
			summary.Failed = append(summary.Failed, p.Name)
			continue
		}
		summary.Results[p.Name] = res
		changedIDs = append(changedIDs, newIDs...)
		if d.opts.Update {
			// Every reprocessed sample may have changed neighbors.
			changedIDs = append(changedIDs, ids...)
		}
	}

	if err := d.runSimilarity(ctx, changedIDs, summary); err != nil {
		return summary, err
	}

	if len(summary.Failed) > 0 {
		return summary, eris.Errorf("pipeline: %d profile(s) failed: %s",
			len(summary.Failed), strings.Join(summary.Failed, ", "))
	}
	return summary, nil
}

// newSampleIDs returns the sample IDs not yet present as stored features.
func (d *Driver) newSampleIDs(ctx context.Context, profileName string, ids []string) ([]string, error) {
	stored, err := d.store.ListFeatureIDs(ctx, profileName)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(stored))
	for _, id := range stored {
		known[id] = true
	}

	var out []string
	for _, id := range ids {
		if !known[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *Driver) runProfile(ctx context.Context, p profile.Profile, ids []string) (upload.Result, error) {
	var res upload.Result
	dir := filepath.Join(d.opts.OutputDir, p.Name)

	var artifacts *Artifacts
	err := d.runner.Run(p.Name, StagePrepareMetadata, len(ids), func() error {
		var err error
		artifacts, err = PrepareMetadata(ctx, d.client, p, ids, dir)
		if err != nil {
			return err
		}
		if d.opts.Supplementary != "" {
			return MergeSupplementary(artifacts.FullMetadata, d.opts.Supplementary)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if d.opts.Update {
		return d.runUpdate(ctx, p.Name, artifacts, len(ids))
	}

	err = d.runner.Run(p.Name, StageRunReportree, len(ids), func() error {
		return d.reportree.Run(ctx, dir, artifacts.ReportreeMetadata, artifacts.CGMLST, p.Name)
	})
	if err != nil {
		return res, err
	}

	partitions, clustersTSV, distTSV, newickPath := OutputPaths(dir, p.Name)

	var features []model.Feature
	err = d.runner.Run(p.Name, StageProcessFeatures, len(ids), func() error {
		var err error
		features, err = ProcessFeatures(partitions, artifacts.FullMetadata)
		return err
	})
	if err != nil {
		return res, err
	}

	err = d.runner.Run(p.Name, StageUploadFeatures, len(features), func() error {
		var err error
		res, err = d.uploader.Features(ctx, p.Name, features, upload.ModeInsertOnly)
		return err
	})
	if err != nil {
		return res, err
	}

	err = d.runner.Run(p.Name, StageUploadClustering, len(ids), func() error {
		clustering, err := ProcessClusters(clustersTSV, p.Name, d.now())
		if err != nil {
			return err
		}
		return d.uploader.Clustering(ctx, *clustering)
	})
	if err != nil {
		return res, err
	}

	if !fileExists(distTSV) || !fileExists(newickPath) {
		zap.L().Warn("distance matrix or newick missing, skipping distance upload",
			zap.String("profile", p.Name))
		d.runner.State().MarkSkipped(p.Name, StageUploadDistance)
		return res, nil
	}
	err = d.runner.Run(p.Name, StageUploadDistance, len(ids), func() error {
		distance, err := ProcessDistance(distTSV, newickPath, p.Name)
		if err != nil {
			return err
		}
		return d.uploader.Distance(ctx, *distance)
	})
	return res, err
}

// runUpdate is the metadata-only path: features are rebuilt from the full
// metadata file alone and every field is reconciled; clustering stages are
// skipped.
func (d *Driver) runUpdate(ctx context.Context, profileName string, artifacts *Artifacts, count int) (upload.Result, error) {
	var res upload.Result

	var features []model.Feature
	err := d.runner.Run(profileName, StageProcessFeatures, count, func() error {
		var err error
		features, err = ProcessFeatures(artifacts.FullMetadata, artifacts.FullMetadata)
		return err
	})
	if err != nil {
		return res, err
	}

	err = d.runner.Run(profileName, StageUploadFeatures, len(features), func() error {
		var err error
		res, err = d.uploader.Features(ctx, profileName, features, upload.ModeReconcile)
		return err
	})

	state := d.runner.State()
	state.MarkSkipped(profileName, StageRunReportree)
	state.MarkSkipped(profileName, StageUploadClustering)
	state.MarkSkipped(profileName, StageUploadDistance)
	return res, err
}

func (d *Driver) runSimilarity(ctx context.Context, changedIDs []string, summary *Summary) error {
	state := d.runner.State()
	if d.opts.SkipSimilarity || len(changedIDs) == 0 {
		state.MarkSkipped(ledger.GlobalScope, StageRunSimilarity)
		state.MarkSkipped(ledger.GlobalScope, StageUploadSimilarity)
		return nil
	}

	var merged []model.Similarity
	state.SetProgress(ledger.GlobalScope, StageRunSimilarity, 0, len(changedIDs))
	err := d.runner.Run(ledger.GlobalScope, StageRunSimilarity, len(changedIDs), func() error {
		existing, err := d.store.ListSimilarities(ctx)
		if err != nil {
			return err
		}
		merged = d.simEngine.Reconcile(ctx, existing, changedIDs)
		return nil
	})
	if err != nil {
		return err
	}

	return d.runner.Run(ledger.GlobalScope, StageUploadSimilarity, len(merged), func() error {
		n, err := d.uploader.Similarities(ctx, merged)
		summary.SimilarityCount = n
		return err
	})
}

func (d *Driver) skipProfile(profileName string) {
	state := d.runner.State()
	for _, stage := range ProfileStages {
		state.MarkSkipped(profileName, stage)
	}
}

func groupSamples(samples []bonsai.Sample) map[string][]string {
	out := map[string][]string{}
	for _, s := range samples {
		if s.SampleID == "" {
			continue
		}
		name := string(s.Profile)
		if name == "" {
			continue
		}
		out[name] = append(out[name], s.SampleID)
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
