package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storyloom/internal/daemonrun"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Fail stale sequences and purge expired failures now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				result, err := rt.Sweeper.Run(cmd.Context())
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Stale sequences failed: %d\n", result.Stale)
				fmt.Fprintf(out, "Failed sequences purged: %d (%d artifacts deleted)\n", result.Purged, result.BlobsPurged)
				fmt.Fprintf(out, "Finished jobs pruned: %d\n", result.JobsPruned)
				return err
			})
		},
	}
}
