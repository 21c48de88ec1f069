package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/ledger"
	"github.com/mimosa-project/mimosa-sync/internal/pipeline"
	"github.com/mimosa-project/mimosa-sync/internal/similarity"
)

var (
	runProfiles       []string
	runOutput         string
	runSupplementary  string
	runUpdate         bool
	runForce          bool
	runSkipSimilarity bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full sync pipeline",
	Long:  "Fetches samples per profile, runs ReporTree clustering, uploads features, clustering, and distance documents, then reconciles similarity records globally.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		client, err := initBonsai(ctx)
		if err != nil {
			return err
		}

		registry, err := loadProfiles()
		if err != nil {
			return err
		}
		profiles, err := registry.Resolve(runProfiles)
		if err != nil {
			return err
		}

		names := make([]string, len(profiles))
		for i, p := range profiles {
			names[i] = p.Name
		}

		state := ledger.NewState(pipeline.Scopes(names), pipeline.AllStages())
		renderer := ledger.NewRenderer(pipeline.RenderConfig())
		defer renderer.Stop()
		runner := ledger.NewRunner(state, renderer.Render)

		engine := initSimilarityEngine(client, similarity.WithProgress(func(done int) {
			entry := state.Entry(ledger.GlobalScope, pipeline.StageRunSimilarity)
			state.SetProgress(ledger.GlobalScope, pipeline.StageRunSimilarity, done, entry.Total)
			renderer.Render(state)
		}))

		reportree := pipeline.NewReporTree()
		reportree.Image = cfg.ReporTree.Image
		reportree.Analysis = cfg.ReporTree.Analysis
		reportree.Method = cfg.ReporTree.Method
		reportree.Threshold = cfg.ReporTree.Threshold

		outputDir := cfg.Pipeline.OutputDir
		if runOutput != "" {
			outputDir = runOutput
		}

		driver := pipeline.NewDriver(client, st, initUploader(st), engine, reportree, runner, pipeline.Options{
			OutputDir:      outputDir,
			Supplementary:  runSupplementary,
			Update:         runUpdate,
			Force:          runForce,
			SkipSimilarity: runSkipSimilarity,
		})

		summary, err := driver.Run(ctx, profiles)
		renderer.Summary(state)
		if summary != nil {
			for name, res := range summary.Results {
				zap.L().Info("profile synced",
					zap.String("profile", name),
					zap.Int("inserted", res.Inserted),
					zap.Int("updated", res.Updated))
			}
			if summary.SimilarityCount > 0 {
				zap.L().Info("similarity records written",
					zap.Int("count", summary.SimilarityCount))
			}
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runProfiles, "profile", nil, "profile(s) to process, or 'all'")
	runCmd.Flags().StringVar(&runOutput, "output", "", "working directory for pipeline artefacts")
	runCmd.Flags().StringVar(&runSupplementary, "supplementary", "", "CSV/XLSX file with PostCode and Hospital metadata")
	runCmd.Flags().BoolVar(&runUpdate, "update", false, "reconcile metadata for stored samples, skipping clustering")
	runCmd.Flags().BoolVar(&runForce, "force", false, "process profiles even without new samples")
	runCmd.Flags().BoolVar(&runSkipSimilarity, "skip-similarity", false, "leave stored similarity records untouched")
	_ = runCmd.MarkFlagRequired("profile")
	rootCmd.AddCommand(runCmd)
}
