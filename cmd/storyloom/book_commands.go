package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"storyloom/internal/api"
	"storyloom/internal/daemonrun"
)

func newBooksCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List ingested books",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				books, err := api.NewBookService(rt.Store).List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if books == nil {
						books = []api.Book{}
					}
					return writeJSON(cmd, api.BookListResponse{Books: books})
				}
				out := cmd.OutOrStdout()
				if len(books) == 0 {
					fmt.Fprintln(out, "No books ingested")
					return nil
				}
				fmt.Fprintln(out, renderBooksTable(books))
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func renderBooksTable(books []api.Book) string {
	rows := make([][]string, 0, len(books))
	for _, b := range books {
		rows = append(rows, []string{
			strconv.FormatInt(b.ID, 10),
			truncateCell(b.Title, 40),
			truncateCell(b.Author, 24),
			b.Status,
			fmt.Sprintf("%d/%d", b.CompletedSequenceCount, b.TotalSequences),
		})
	}
	return renderTable(
		[]string{"ID", "Title", "Author", "Status", "Completed"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func newBookCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "book <id>",
		Short: "Show a book and its sequences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(func(rt *daemonrun.Runtime) error {
				svc := api.NewBookService(rt.Store)
				book, err := svc.Describe(cmd.Context(), id)
				if err != nil {
					return err
				}
				if book == nil {
					return errors.New("book not found")
				}
				seqs, err := svc.Sequences(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, struct {
						Book      api.Book       `json:"book"`
						Sequences []api.Sequence `json:"sequences"`
					}{*book, seqs})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Book %d: %s\n", book.ID, book.Title)
				if book.Author != "" {
					fmt.Fprintf(out, "Author:    %s\n", book.Author)
				}
				fmt.Fprintf(out, "Source:    %s\n", book.SourceID)
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderStatusLine("Status", bookStatusKind(book.Status, book.CompletedSequenceCount, book.TotalSequences), book.Status, colorize))
				fmt.Fprintln(out, renderStatusLine("Completed", statusInfo, fmt.Sprintf("%d/%d", book.CompletedSequenceCount, book.TotalSequences), colorize))
				if failed := countFailed(seqs); failed > 0 {
					fmt.Fprintln(out, renderStatusLine("Failed", statusError, strconv.Itoa(failed), colorize))
				}
				if len(seqs) > 0 {
					fmt.Fprintln(out, renderSequencesTable(seqs))
				}
				return nil
			})
		},
	}
	addJSONFlag(cmd, &asJSON)
	return cmd
}

func countFailed(seqs []api.Sequence) int {
	n := 0
	for _, s := range seqs {
		if sequenceStatusKind(s.Status) == statusError {
			n++
		}
	}
	return n
}

func renderSequencesTable(seqs []api.Sequence) string {
	rows := make([][]string, 0, len(seqs))
	for _, s := range seqs {
		queued := "no"
		if s.EnqueuedAt != "" {
			queued = "yes"
		}
		rows = append(rows, []string{
			strconv.Itoa(s.SequenceNumber),
			s.Status,
			queued,
			yesNo(s.AudioURL != ""),
			yesNo(s.ImageURL != ""),
			truncateCell(s.Content, 48),
		})
	}
	return renderTable(
		[]string{"#", "Status", "Queued", "Audio", "Image", "Content"},
		rows,
		[]columnAlignment{alignRight},
	)
}
