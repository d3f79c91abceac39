package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"storyloom/internal/sequence"
)

// StartProcessing moves a pending sequence to processing. It returns the
// status after the call and whether this call made the change; replays
// against sequences already past pending change nothing.
func (s *Store) StartProcessing(ctx context.Context, id int64) (sequence.Status, bool, error) {
	var (
		status  sequence.Status
		changed bool
	)
	err := s.withTx(ctx, func(tx execer) error {
		current, _, err := sequenceState(ctx, tx, id)
		if err != nil {
			return err
		}
		status = current
		changed = false
		if !sequence.CanTransition(current, sequence.StatusProcessing) {
			return nil
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE sequences SET status = 'processing', error_message = NULL, updated_at = ? WHERE id = ? AND status = 'pending'`,
			s.timestamp(),
			id,
		); err != nil {
			return fmt.Errorf("start processing: %w", err)
		}
		status = sequence.StatusProcessing
		changed = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return status, changed, nil
}

// MarkFailed moves a non-terminal sequence to failed and re-applies the book
// readiness rule. Only the call that changed the sequence reports Changed, and
// only a call that settled the last in-flight sequence reports BookReady.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) (FailResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "failed"
	}
	var result FailResult
	err := s.withTx(ctx, func(tx execer) error {
		result = FailResult{}
		_, bookID, err := sequenceState(ctx, tx, id)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ctx,
			`UPDATE sequences SET status = 'failed', error_message = ?, updated_at = ?
             WHERE id = ? AND status NOT IN ('completed', 'failed')`,
			reason,
			s.timestamp(),
			id,
		)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		result.Changed = true
		result.BookReady, err = s.refreshBookReady(ctx, tx, bookID)
		return err
	})
	if err != nil {
		return FailResult{}, err
	}
	return result, nil
}

// Touch refreshes updated_at of an in-flight sequence so the staleness sweep
// sees it as making progress. It reports whether a row was touched.
func (s *Store) Touch(ctx context.Context, id int64) (bool, error) {
	inFlight := sequence.InFlightStatuses()
	args := []any{s.timestamp(), id}
	args = append(args, statusArgs(inFlight)...)
	var touched bool
	err := s.withTx(ctx, func(tx execer) error {
		res, err := tx.ExecContext(
			ctx,
			`UPDATE sequences SET updated_at = ? WHERE id = ? AND status IN (`+makePlaceholders(len(inFlight))+`)`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("touch sequence: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		touched = affected > 0
		return nil
	})
	return touched, err
}

// RecordArtifact stores the artifact reference for kind and applies the
// convergence rule in one transaction: the sequence moves to completed when
// the other artifact is already present, otherwise to the kind's own
// complete status. The promotion to completed increments the book's
// completed_sequence_count exactly once.
//
// Failed sequences still get the artifact row so retention cleanup can delete
// the blob; their status is left alone.
func (s *Store) RecordArtifact(ctx context.Context, id int64, kind sequence.ArtifactKind, url string) (ArtifactResult, error) {
	if !kind.Valid() {
		return ArtifactResult{}, fmt.Errorf("record artifact: unknown kind %q", kind)
	}
	if strings.TrimSpace(url) == "" {
		return ArtifactResult{}, errors.New("record artifact: url is required")
	}

	var result ArtifactResult
	err := s.withTx(ctx, func(tx execer) error {
		result = ArtifactResult{}
		current, bookID, err := sequenceState(ctx, tx, id)
		if err != nil {
			return err
		}
		result.Status = current

		_, accepts := sequence.AfterArtifact(current, kind, false)
		if !accepts && current != sequence.StatusFailed {
			return nil
		}

		now := s.timestamp()
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO sequence_artifacts (sequence_id, kind, url, generated_at) VALUES (?, ?, ?, ?)
             ON CONFLICT(sequence_id, kind) DO UPDATE SET url = excluded.url, generated_at = excluded.generated_at`,
			id,
			string(kind),
			url,
			now,
		); err != nil {
			return fmt.Errorf("upsert artifact: %w", err)
		}
		if !accepts {
			return nil
		}

		var next string
		err = tx.QueryRowContext(
			ctx,
			`UPDATE sequences
             SET status = CASE
                     WHEN EXISTS (SELECT 1 FROM sequence_artifacts WHERE sequence_id = ? AND kind = ?) THEN 'completed'
                     ELSE ?
                 END,
                 updated_at = ?
             WHERE id = ? AND status IN ('processing', 'audio-complete', 'image-complete')
             RETURNING status`,
			id,
			string(kind.Other()),
			string(kind.CompleteStatus()),
			now,
			id,
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("converge sequence: %w", err)
		}
		result.Status = sequence.Status(next)
		result.Applied = true
		if result.Status != sequence.StatusCompleted {
			return nil
		}

		result.Completed = true
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE books SET completed_sequence_count = completed_sequence_count + 1, updated_at = ? WHERE id = ?`,
			now,
			bookID,
		); err != nil {
			return fmt.Errorf("increment completed count: %w", err)
		}
		result.BookReady, err = s.refreshBookReady(ctx, tx, bookID)
		return err
	})
	if err != nil {
		return ArtifactResult{}, err
	}
	return result, nil
}

// SaveScene upserts the scene description of a sequence and refreshes its
// updated_at while it is in flight.
func (s *Store) SaveScene(ctx context.Context, id int64, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return errors.New("save scene: description is required")
	}
	return s.withTx(ctx, func(tx execer) error {
		if _, _, err := sequenceState(ctx, tx, id); err != nil {
			return err
		}
		now := s.timestamp()
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO sequence_scenes (sequence_id, description, generated_at) VALUES (?, ?, ?)
             ON CONFLICT(sequence_id) DO UPDATE SET description = excluded.description, generated_at = excluded.generated_at`,
			id,
			description,
			now,
		); err != nil {
			return fmt.Errorf("upsert scene: %w", err)
		}
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE sequences SET updated_at = ? WHERE id = ? AND status IN ('processing', 'audio-complete', 'image-complete')`,
			now,
			id,
		); err != nil {
			return fmt.Errorf("touch sequence: %w", err)
		}
		return nil
	})
}

func sequenceState(ctx context.Context, tx execer, id int64) (sequence.Status, int64, error) {
	var (
		status string
		bookID int64
	)
	err := tx.QueryRowContext(ctx, `SELECT status, book_id FROM sequences WHERE id = ?`, id).Scan(&status, &bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, fmt.Errorf("%w: sequence %d", ErrNotFound, id)
	}
	if err != nil {
		return "", 0, fmt.Errorf("read sequence state: %w", err)
	}
	return sequence.Status(status), bookID, nil
}
