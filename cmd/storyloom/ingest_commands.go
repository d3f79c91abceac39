package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/daemonrun"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest <source-id>",
		Short: "Fetch a book, split it into sequences and enqueue them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				book, err := rt.Orchestrator.Ingest(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return fmt.Errorf("ingest %s: %w", args[0], err)
				}
				dto := api.FromBook(book)
				if asJSON {
					return writeJSON(cmd, api.BookResponse{Book: dto})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Book %d: %s", dto.ID, dto.Title)
				if dto.Author != "" {
					fmt.Fprintf(out, " by %s", dto.Author)
				}
				fmt.Fprintln(out)
				fmt.Fprintf(out, "%d sequences of %d words, status %s\n", dto.TotalSequences, dto.WordsPerSequence, dto.Status)
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func newMoreCommand(ctx *commandContext) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "more <book-id>",
		Short: "Enqueue the next sequences of a book",
		Long: `Enqueue the next never-admitted windows of a book. With pipeline.auto_top_up
the daemon already refills one window per settled sequence; use this to push
a book ahead of that pace.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				enqueued, err := rt.Orchestrator.RequestMoreSequences(cmd.Context(), id, count)
				if err != nil {
					return fmt.Errorf("request more sequences: %w", err)
				}
				out := cmd.OutOrStdout()
				if enqueued == 0 {
					fmt.Fprintf(out, "Book %d has no sequences left to enqueue\n", id)
					return nil
				}
				fmt.Fprintf(out, "Enqueued %d sequences for book %d\n", enqueued, id)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of sequences to enqueue")
	return cmd
}

func parseBookID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid book id %q", value)
	}
	return id, nil
}
