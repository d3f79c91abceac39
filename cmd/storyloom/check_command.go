package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"storyloom/internal/preflight"
	"storyloom/internal/providers"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var skipProvider bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify directories, the source catalog and provider credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var provider preflight.HealthChecker
			if !skipProvider {
				provider = providers.NewOpenAIClient(providers.OpenAIConfigFrom(cfg))
			}
			results := preflight.RunAll(cmd.Context(), cfg, provider)

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusWarn
					if r.Fatal {
						kind = statusError
					}
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return errors.New("preflight checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipProvider, "skip-provider", false, "Skip the OpenAI reachability check")
	return cmd
}
