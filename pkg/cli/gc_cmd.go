package cli

import (
	"github.com/spf13/cobra"
)

func newGCCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Collect stale job records and sweep orphaned artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := rt.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			stats, err := a.Jobs.CollectGarbage(cmd.Context())
			if err != nil {
				return err
			}
			swept, err := a.Retention.Sweep(cmd.Context())
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]int{
					"jobs_scanned":      stats.Scanned,
					"jobs_deleted":      stats.Deleted,
					"artifacts_removed": swept,
				})
			}
			printKV(cmd.OutOrStdout(),
				"jobs scanned", stats.Scanned,
				"jobs deleted", stats.Deleted,
				"artifacts removed", swept,
			)
			return nil
		},
	}
}
