package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deleteKeepLog bool

var deleteCmd = &cobra.Command{
	Use:   "delete <sample-id>...",
	Short: "Remove samples from every collection",
	Long:  "Deletes the feature, similarity, and change log documents of the given samples. Clustering snapshots are immutable history and are not rewritten.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, id := range args {
			f, err := st.GetFeature(ctx, id)
			if err != nil {
				return err
			}
			if f == nil {
				zap.L().Warn("sample not found", zap.String("sample_id", id))
				continue
			}

			if err := st.DeleteFeature(ctx, id); err != nil {
				return err
			}
			if err := st.DeleteSimilarity(ctx, id); err != nil {
				return err
			}
			if !deleteKeepLog {
				if err := st.DeleteSampleLog(ctx, id); err != nil {
					return eris.Wrapf(err, "delete log for %s", id)
				}
			}
			zap.L().Info("sample deleted", zap.String("sample_id", id))
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteKeepLog, "keep-log", false, "keep the sample's change log document")
	rootCmd.AddCommand(deleteCmd)
}
