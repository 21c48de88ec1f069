package main

import (
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored collection counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.Counts(ctx)
		if err != nil {
			return err
		}

		rows := pterm.TableData{
			{"Collection", "Documents"},
			{"features", pterm.Sprintf("%d", counts.Features)},
			{"similarities", pterm.Sprintf("%d", counts.Similarities)},
			{"clusterings", pterm.Sprintf("%d", counts.Clusterings)},
			{"logs", pterm.Sprintf("%d", counts.Logs)},
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}

		if len(counts.ByProfile) == 0 {
			return nil
		}
		profiles := make([]string, 0, len(counts.ByProfile))
		for name := range counts.ByProfile {
			profiles = append(profiles, name)
		}
		sort.Strings(profiles)

		perProfile := pterm.TableData{{"Profile", "Features"}}
		for _, name := range profiles {
			perProfile = append(perProfile, []string{name, pterm.Sprintf("%d", counts.ByProfile[name])})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(perProfile).Render()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
