package api

import (
	"time"

	"storyloom/internal/jobqueue"
	"storyloom/internal/store"
)

// FromBook converts a store record to its API representation.
func FromBook(book *store.Book) Book {
	if book == nil {
		return Book{}
	}
	return Book{
		ID:                     book.ID,
		SourceID:               book.SourceID,
		Title:                  book.Title,
		Author:                 book.Author,
		Status:                 string(book.Status),
		WordsPerSequence:       book.WordsPerSequence,
		TotalSequences:         book.TotalSequences,
		CompletedSequenceCount: book.CompletedSequenceCount,
		CreatedAt:              FormatTime(book.CreatedAt),
		UpdatedAt:              FormatTime(book.UpdatedAt),
	}
}

// FromBooks converts a slice of store records.
func FromBooks(books []*store.Book) []Book {
	out := make([]Book, 0, len(books))
	for _, book := range books {
		if book == nil {
			continue
		}
		out = append(out, FromBook(book))
	}
	return out
}

// FromSequence converts a sequence record to its API representation.
func FromSequence(seq *store.Sequence) Sequence {
	if seq == nil {
		return Sequence{}
	}
	dto := Sequence{
		ID:               seq.ID,
		BookID:           seq.BookID,
		SequenceNumber:   seq.Number,
		Content:          seq.Content,
		StartPosition:    seq.StartPosition,
		EndPosition:      seq.EndPosition,
		Status:           string(seq.Status),
		ErrorMessage:     seq.ErrorMessage,
		SceneDescription: seq.SceneDescription,
		AudioURL:         seq.AudioURL,
		ImageURL:         seq.ImageURL,
		UpdatedAt:        FormatTime(seq.UpdatedAt),
	}
	if seq.EnqueuedAt != nil {
		dto.EnqueuedAt = FormatTime(*seq.EnqueuedAt)
	}
	return dto
}

// FromSequences converts a slice of sequence records.
func FromSequences(seqs []*store.Sequence) []Sequence {
	out := make([]Sequence, 0, len(seqs))
	for _, seq := range seqs {
		if seq == nil {
			continue
		}
		out = append(out, FromSequence(seq))
	}
	return out
}

// FromPoolStatus converts worker pool counters.
func FromPoolStatus(status jobqueue.PoolStatus) PoolStatus {
	return PoolStatus{
		Kind:      string(status.Kind),
		Workers:   status.Workers,
		Running:   status.Running,
		Busy:      status.Busy,
		Processed: status.Processed,
		Failed:    status.Failed,
		Dead:      status.Dead,
		LastError: status.LastError,
	}
}

// FromKindStats converts queue counts.
func FromKindStats(stats []jobqueue.KindStats) []JobCounts {
	out := make([]JobCounts, 0, len(stats))
	for _, s := range stats {
		out = append(out, JobCounts{
			Kind:    string(s.Kind),
			Pending: s.Pending,
			Running: s.Running,
			Done:    s.Done,
			Dead:    s.Dead,
		})
	}
	return out
}

// FromHealthSummary converts aggregated sequence counts.
func FromHealthSummary(summary store.HealthSummary) SequenceTotals {
	return SequenceTotals{
		Books:      summary.Books,
		Total:      summary.Total,
		Pending:    summary.Pending,
		InFlight:   summary.InFlight,
		Completed:  summary.Completed,
		Failed:     summary.Failed,
		Unenqueued: summary.Unenqueued,
	}
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
