package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/model"
	"github.com/mimosa-project/mimosa-sync/internal/upload"
)

var (
	uploadProfile   string
	uploadReconcile bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <features.json>",
	Short: "Upload a feature file produced by an earlier pipeline run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		features, err := readFeaturesFile(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mode := upload.ModeInsertOnly
		if uploadReconcile {
			mode = upload.ModeReconcile
		}

		res, err := initUploader(st).Features(ctx, uploadProfile, features, mode)
		if err != nil {
			return err
		}
		zap.L().Info("features uploaded",
			zap.String("profile", uploadProfile),
			zap.Int("inserted", res.Inserted),
			zap.Int("updated", res.Updated))
		return nil
	},
}

// readFeaturesFile parses a JSON feature array as written by the pipeline's
// process_features stage.
func readFeaturesFile(path string) ([]model.Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read features file %s", path)
	}

	var features []model.Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, eris.Wrapf(err, "parse features file %s", path)
	}
	for i, f := range features {
		if f.Properties.ID == "" {
			return nil, eris.Errorf("features file %s: entry %d has no ID", path, i)
		}
	}
	return features, nil
}

func init() {
	uploadCmd.Flags().StringVar(&uploadProfile, "profile", "", "analysis profile the features belong to")
	uploadCmd.Flags().BoolVar(&uploadReconcile, "reconcile", false, "diff and update existing records instead of insert-only")
	_ = uploadCmd.MarkFlagRequired("profile")
	rootCmd.AddCommand(uploadCmd)
}
