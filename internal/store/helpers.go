package store

import (
	"database/sql"
	"time"

	"storyloom/internal/sequence"
	"storyloom/internal/sqliteutil"
)

const bookColumns = "id, source_id, title, author, status, words_per_sequence, total_sequences, completed_sequence_count, created_at, updated_at"

const sequenceColumns = `s.id, s.book_id, s.sequence_number, s.content, s.start_position, s.end_position,
    s.status, s.error_message, s.enqueued_at, s.created_at, s.updated_at,
    sc.description,
    (SELECT url FROM sequence_artifacts WHERE sequence_id = s.id AND kind = 'audio'),
    (SELECT url FROM sequence_artifacts WHERE sequence_id = s.id AND kind = 'image')`

const sequenceFrom = ` FROM sequences s LEFT JOIN sequence_scenes sc ON sc.sequence_id = s.id`

type scanner interface{ Scan(dest ...any) error }

func scanBook(row scanner) (*Book, error) {
	var (
		book       Book
		title      sql.NullString
		author     sql.NullString
		status     string
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(
		&book.ID,
		&book.SourceID,
		&title,
		&author,
		&status,
		&book.WordsPerSequence,
		&book.TotalSequences,
		&book.CompletedSequenceCount,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	book.Title = title.String
	book.Author = author.String
	book.Status = BookStatus(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		book.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		book.UpdatedAt = updated
	}
	return &book, nil
}

func scanSequence(row scanner) (*Sequence, error) {
	var (
		seq         Sequence
		status      string
		errorMsg    sql.NullString
		enqueuedRaw sql.NullString
		createdRaw  string
		updatedRaw  string
		description sql.NullString
		audioURL    sql.NullString
		imageURL    sql.NullString
	)
	if err := row.Scan(
		&seq.ID,
		&seq.BookID,
		&seq.Number,
		&seq.Content,
		&seq.StartPosition,
		&seq.EndPosition,
		&status,
		&errorMsg,
		&enqueuedRaw,
		&createdRaw,
		&updatedRaw,
		&description,
		&audioURL,
		&imageURL,
	); err != nil {
		return nil, err
	}
	seq.Status = sequence.Status(status)
	seq.ErrorMessage = errorMsg.String
	seq.SceneDescription = description.String
	seq.AudioURL = audioURL.String
	seq.ImageURL = imageURL.String
	if enqueuedRaw.Valid {
		if enqueued, err := parseTimeString(enqueuedRaw.String); err == nil {
			seq.EnqueuedAt = &enqueued
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		seq.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		seq.UpdatedAt = updated
	}
	return &seq, nil
}

func formatTime(t time.Time) string {
	return sqliteutil.FormatTime(t)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	return sqliteutil.ParseTime(value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []sequence.Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
