package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/daemonrun"
	"storyloom/internal/jobqueue"
	"storyloom/internal/pipeline"
	"storyloom/internal/sweep"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the durable job queue",
	}
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	return queueCmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per kind and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				stats, err := rt.Queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				counts := api.FromKindStats(stats)
				if asJSON {
					return writeJSON(cmd, counts)
				}
				if len(counts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(counts))
				for _, c := range counts {
					rows = append(rows, []string{
						c.Kind,
						strconv.Itoa(c.Pending),
						strconv.Itoa(c.Running),
						strconv.Itoa(c.Done),
						strconv.Itoa(c.Dead),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Kind", "Pending", "Running", "Done", "Dead"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var states []string
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "List jobs of one kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseKind(args[0])
			if err != nil {
				return err
			}
			filter := make([]jobqueue.State, 0, len(states))
			for _, s := range states {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					filter = append(filter, jobqueue.State(trimmed))
				}
			}
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				jobs, err := rt.Queue.List(cmd.Context(), kind, filter...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						string(job.State),
						fmt.Sprintf("%d/%d", job.Attempt, job.MaxAttempts),
						api.FormatTime(job.RunAt),
						truncateCell(job.LastError, 48),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "State", "Attempt", "Run At", "Last Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by state (pending, running, done, dead)")
	return cmd
}

func parseKind(value string) (jobqueue.Kind, error) {
	value = strings.TrimSpace(value)
	for _, kind := range append(pipeline.Kinds(), sweep.Kind) {
		if string(kind) == value {
			return kind, nil
		}
	}
	return "", errors.New("unknown job kind " + strconv.Quote(value))
}
