package testsupport

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/jobqueue"
	"storyloom/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...store.Option) *store.Store {
	t.Helper()

	st, err := store.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustOpenQueue opens the job queue for tests and registers cleanup.
func MustOpenQueue(t testing.TB, cfg *config.Config, opts ...jobqueue.SQLiteOption) *jobqueue.SQLiteQueue {
	t.Helper()

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	q, err := jobqueue.OpenSQLite(cfg.QueuePath(), opts...)
	if err != nil {
		t.Fatalf("jobqueue.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		q.Close()
	})
	return q
}

// Words returns n synthetic words separated by single spaces.
func Words(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

// NewBook stores a book whose sequences each hold wordsPer words.
func NewBook(t testing.TB, st *store.Store, sourceID string, sequences, wordsPer int) (*store.Book, []*store.Sequence) {
	t.Helper()

	ctx := context.Background()
	specs := make([]store.NewSequence, sequences)
	offset := 0
	for i := range specs {
		content := Words(wordsPer)
		specs[i] = store.NewSequence{
			Number:        i,
			Content:       content,
			StartPosition: offset,
			EndPosition:   offset + wordsPer,
		}
		offset += wordsPer
	}
	book, err := st.CreateBook(ctx, store.NewBook{
		SourceID:         sourceID,
		Title:            "Test " + sourceID,
		WordsPerSequence: wordsPer,
	}, specs)
	if err != nil {
		t.Fatalf("CreateBook: %v", err)
	}
	seqs, err := st.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatalf("ListSequences: %v", err)
	}
	return book, seqs
}
