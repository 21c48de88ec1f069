package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mimosa-project/mimosa-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mimosa-sync",
	Short: "Staged sync pipeline for genomic surveillance data",
	Long:  "Fetches typed samples from the Bonsai API, clusters them with ReporTree, and incrementally syncs feature, clustering, and similarity documents into the MIMOSA store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
