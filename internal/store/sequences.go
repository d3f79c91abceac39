package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storyloom/internal/sequence"
)

// GetSequence fetches a sequence with its scene description and artifact
// URLs. It returns nil without error when missing.
func (s *Store) GetSequence(ctx context.Context, id int64) (*Sequence, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sequenceColumns+sequenceFrom+` WHERE s.id = ?`, id)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return seq, nil
}

// ListSequences returns the sequences of a book ordered by sequence number,
// optionally filtered by status.
func (s *Store) ListSequences(ctx context.Context, bookID int64, statuses ...sequence.Status) ([]*Sequence, error) {
	query := `SELECT ` + sequenceColumns + sequenceFrom + ` WHERE s.book_id = ?`
	args := []any{bookID}
	if len(statuses) > 0 {
		query += ` AND s.status IN (` + makePlaceholders(len(statuses)) + `)`
		args = append(args, statusArgs(statuses)...)
	}
	query += ` ORDER BY s.sequence_number`
	return s.querySequences(ctx, query, args...)
}

func (s *Store) querySequences(ctx context.Context, query string, args ...any) ([]*Sequence, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var sequences []*Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		sequences = append(sequences, seq)
	}
	return sequences, rows.Err()
}

// ReserveSequences marks up to limit never-enqueued pending sequences of a
// book as enqueued, lowest sequence numbers first, and moves the book to
// processing when anything was reserved. A limit of zero reserves every
// remaining sequence. Concurrent callers never reserve the same sequence.
func (s *Store) ReserveSequences(ctx context.Context, bookID int64, limit int) ([]*Sequence, error) {
	if limit < 0 {
		return nil, fmt.Errorf("reserve sequences: negative limit %d", limit)
	}
	sqlLimit := limit
	if sqlLimit == 0 {
		sqlLimit = -1
	}

	var ids []int64
	err := s.withTx(ctx, func(tx execer) error {
		ids = ids[:0]
		now := s.timestamp()
		rows, err := tx.QueryContext(
			ctx,
			`UPDATE sequences SET enqueued_at = ?
             WHERE id IN (
                 SELECT id FROM sequences
                 WHERE book_id = ? AND enqueued_at IS NULL AND status = 'pending'
                 ORDER BY sequence_number
                 LIMIT ?
             )
             RETURNING id`,
			now,
			bookID,
			sqlLimit,
		)
		if err != nil {
			return fmt.Errorf("reserve sequences: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan reserved id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE books SET status = 'processing', updated_at = ? WHERE id = ? AND status IN ('pending', 'ready')`,
			now,
			bookID,
		); err != nil {
			return fmt.Errorf("mark book processing: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return s.querySequences(ctx,
		`SELECT `+sequenceColumns+sequenceFrom+` WHERE s.id IN (`+makePlaceholders(len(ids))+`) ORDER BY s.sequence_number`,
		args...,
	)
}

// ReleaseSequences undoes a reservation for sequences whose processing job
// could not be enqueued, then re-applies the book readiness rule.
func (s *Store) ReleaseSequences(ctx context.Context, bookID int64, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, bookID)
	for _, id := range ids {
		args = append(args, id)
	}
	return s.withTx(ctx, func(tx execer) error {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE sequences SET enqueued_at = NULL
             WHERE book_id = ? AND status = 'pending' AND id IN (`+makePlaceholders(len(ids))+`)`,
			args...,
		); err != nil {
			return fmt.Errorf("release sequences: %w", err)
		}
		_, err := s.refreshBookReady(ctx, tx, bookID)
		return err
	})
}
