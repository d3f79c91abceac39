package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CreateBook inserts a book and all of its sequences in one transaction. The
// book starts pending; nothing is enqueued yet.
func (s *Store) CreateBook(ctx context.Context, book NewBook, sequences []NewSequence) (*Book, error) {
	if strings.TrimSpace(book.SourceID) == "" {
		return nil, errors.New("create book: source id is required")
	}
	if len(sequences) == 0 {
		return nil, errors.New("create book: at least one sequence is required")
	}
	for i, seq := range sequences {
		if seq.Number != i {
			return nil, fmt.Errorf("create book: sequence %d has number %d, numbers must be dense from 0", i, seq.Number)
		}
		if i > 0 && seq.StartPosition != sequences[i-1].EndPosition {
			return nil, fmt.Errorf("create book: sequence %d starts at %d, previous ends at %d", i, seq.StartPosition, sequences[i-1].EndPosition)
		}
	}

	var bookID int64
	err := s.withTx(ctx, func(tx execer) error {
		now := s.timestamp()
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO books (source_id, title, author, status, words_per_sequence, total_sequences, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			book.SourceID,
			nullableString(book.Title),
			nullableString(book.Author),
			string(BookPending),
			book.WordsPerSequence,
			len(sequences),
			now,
			now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: source %s", ErrBookExists, book.SourceID)
			}
			return fmt.Errorf("insert book: %w", err)
		}
		bookID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("book id: %w", err)
		}
		for _, seq := range sequences {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO sequences (book_id, sequence_number, content, start_position, end_position, status, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, 'pending', ?, ?)`,
				bookID,
				seq.Number,
				seq.Content,
				seq.StartPosition,
				seq.EndPosition,
				now,
				now,
			); err != nil {
				return fmt.Errorf("insert sequence %d: %w", seq.Number, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetBook(ctx, bookID)
}

// GetBook fetches a book by id. It returns nil without error when missing.
func (s *Store) GetBook(ctx context.Context, id int64) (*Book, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// FindBookBySource returns the book ingested from sourceID, or nil.
func (s *Store) FindBookBySource(ctx context.Context, sourceID string) (*Book, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+bookColumns+` FROM books WHERE source_id = ?`, sourceID)
	book, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find book by source: %w", err)
	}
	return book, nil
}

// ListBooks returns books ordered by id, optionally filtered by status.
func (s *Store) ListBooks(ctx context.Context, statuses ...BookStatus) ([]*Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// DeleteBook removes a book and, by cascade, its sequences, scenes and
// artifact rows. It reports whether a row was removed.
func (s *Store) DeleteBook(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete book: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// refreshBookReady promotes a processing book to ready once no enqueued
// sequence is still working. It must run in the same transaction as the
// transition that may have finished the last sequence.
func (s *Store) refreshBookReady(ctx context.Context, tx execer, bookID int64) (bool, error) {
	res, err := tx.ExecContext(
		ctx,
		`UPDATE books SET status = 'ready', updated_at = ?
         WHERE id = ? AND status = 'processing'
           AND NOT EXISTS (
               SELECT 1 FROM sequences
               WHERE book_id = ? AND enqueued_at IS NOT NULL AND status NOT IN ('completed', 'failed')
           )`,
		s.timestamp(),
		bookID,
		bookID,
	)
	if err != nil {
		return false, fmt.Errorf("refresh book readiness: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
