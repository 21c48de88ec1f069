package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/model"
)

var (
	simIDs     []string
	simDryRun  bool
	simProfile string
)

var similarityCmd = &cobra.Command{
	Use:   "similarity",
	Short: "Recompute similarity records for specific samples",
	Long:  "Submits neighbor-search jobs for the given sample IDs (or every stored sample of a profile), reconciles the results against the stored snapshot, and writes the merged records back.",
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
		engine := initSimilarityEngine(client)

		ids := simIDs
		if len(ids) == 0 {
			ids, err = st.ListFeatureIDs(ctx, simProfile)
			if err != nil {
				return err
			}
		}
		if len(ids) == 0 {
			zap.L().Info("no samples to recompute")
			return nil
		}

		existing, err := st.ListSimilarities(ctx)
		if err != nil {
			return err
		}

		merged := engine.Reconcile(ctx, existing, ids)
		if simDryRun {
			logSimilaritySummary(merged)
			return nil
		}

		uploader := initUploader(st)
		n, err := uploader.Similarities(ctx, merged)
		if err != nil {
			return err
		}
		zap.L().Info("similarity records written", zap.Int("count", n))
		return nil
	},
}

func logSimilaritySummary(records []model.Similarity) {
	for _, rec := range records {
		zap.L().Info("similarity record",
			zap.String("sample_id", rec.ID),
			zap.Int("neighbors", len(rec.Similar)))
	}
}

func init() {
	similarityCmd.Flags().StringSliceVar(&simIDs, "id", nil, "sample ID(s) to recompute; defaults to every stored sample")
	similarityCmd.Flags().StringVar(&simProfile, "profile", "", "restrict the default sample set to one profile")
	similarityCmd.Flags().BoolVar(&simDryRun, "dry-run", false, "compute and report without writing")
	rootCmd.AddCommand(similarityCmd)
}
