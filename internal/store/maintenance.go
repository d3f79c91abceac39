package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"storyloom/internal/sequence"
)

// StaleReason is the error message recorded on sequences failed by the staleness sweep.
const StaleReason = "stale: no progress within threshold"

// FailStale moves every in-flight sequence last updated before cutoff to
// failed and re-applies the readiness rule for each affected book. Sequences
// in live still have queued or running work and are skipped. Running it
// again finds nothing.
func (s *Store) FailStale(ctx context.Context, cutoff time.Time, live map[int64]struct{}) (StaleResult, error) {
	inFlight := sequence.InFlightStatuses()
	var result StaleResult
	err := s.withTx(ctx, func(tx execer) error {
		result = StaleResult{Books: map[int64]int{}}
		args := append(statusArgs(inFlight), formatTime(cutoff))
		rows, err := tx.QueryContext(
			ctx,
			`SELECT id, book_id FROM sequences
             WHERE status IN (`+makePlaceholders(len(inFlight))+`) AND updated_at < ?
             ORDER BY id`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("list stale sequences: %w", err)
		}
		type candidate struct{ id, bookID int64 }
		var candidates []candidate
		for rows.Next() {
			var c candidate
			if err := rows.Scan(&c.id, &c.bookID); err != nil {
				rows.Close()
				return fmt.Errorf("scan stale sequence: %w", err)
			}
			if _, ok := live[c.id]; ok {
				continue
			}
			candidates = append(candidates, c)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		now := s.timestamp()
		for _, c := range candidates {
			updateArgs := []any{StaleReason, now, c.id}
			updateArgs = append(updateArgs, args...)
			res, err := tx.ExecContext(
				ctx,
				`UPDATE sequences SET status = 'failed', error_message = ?, updated_at = ?
                 WHERE id = ? AND status IN (`+makePlaceholders(len(inFlight))+`) AND updated_at < ?`,
				updateArgs...,
			)
			if err != nil {
				return fmt.Errorf("fail stale sequence %d: %w", c.id, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				continue
			}
			result.Failed++
			result.Books[c.bookID]++
		}

		bookIDs := make([]int64, 0, len(result.Books))
		for bookID := range result.Books {
			bookIDs = append(bookIDs, bookID)
		}
		slices.Sort(bookIDs)
		for _, bookID := range bookIDs {
			ready, err := s.refreshBookReady(ctx, tx, bookID)
			if err != nil {
				return err
			}
			if ready {
				result.ReadyBooks = append(result.ReadyBooks, bookID)
			}
		}
		return nil
	})
	if err != nil {
		return StaleResult{}, err
	}
	return result, nil
}

// PurgeCandidates lists failed sequences last updated before cutoff together
// with the artifact URLs that must be removed from blob storage first.
// A limit of zero lists every candidate.
func (s *Store) PurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]PurgeCandidate, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT s.id, s.book_id, a.url
         FROM (SELECT id, book_id FROM sequences WHERE status = 'failed' AND updated_at < ? ORDER BY id LIMIT ?) s
         LEFT JOIN sequence_artifacts a ON a.sequence_id = s.id
         ORDER BY s.id, a.kind`,
		formatTime(cutoff),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list purge candidates: %w", err)
	}
	defer rows.Close()

	var candidates []PurgeCandidate
	for rows.Next() {
		var (
			seqID  int64
			bookID int64
			url    *string
		)
		if err := rows.Scan(&seqID, &bookID, &url); err != nil {
			return nil, fmt.Errorf("scan purge candidate: %w", err)
		}
		if n := len(candidates); n == 0 || candidates[n-1].SequenceID != seqID {
			candidates = append(candidates, PurgeCandidate{SequenceID: seqID, BookID: bookID})
		}
		if url != nil && *url != "" {
			last := &candidates[len(candidates)-1]
			last.ArtifactURLs = append(last.ArtifactURLs, *url)
		}
	}
	return candidates, rows.Err()
}

// PurgeSequence deletes the artifact rows, scene row and sequence row of a
// failed sequence older than cutoff, children first, in one transaction. It
// reports whether the sequence row was removed; a second call is a no-op.
func (s *Store) PurgeSequence(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx execer) error {
		removed = false
		var exists int
		if err := tx.QueryRowContext(
			ctx,
			`SELECT COUNT(1) FROM sequences WHERE id = ? AND status = 'failed' AND updated_at < ?`,
			id,
			formatTime(cutoff),
		).Scan(&exists); err != nil {
			return fmt.Errorf("check purge target: %w", err)
		}
		if exists == 0 {
			return nil
		}
		for _, stmt := range []string{
			`DELETE FROM sequence_artifacts WHERE sequence_id = ?`,
			`DELETE FROM sequence_scenes WHERE sequence_id = ?`,
			`DELETE FROM sequences WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("purge sequence %d: %w", id, err)
			}
		}
		removed = true
		return nil
	})
	return removed, err
}

// Stats returns a count of sequences grouped by status.
func (s *Store) Stats(ctx context.Context) (map[sequence.Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM sequences GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("sequence stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[sequence.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[sequence.Status(status)] = count
	}
	return stats, rows.Err()
}

// Health aggregates sequence state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch {
		case status == sequence.StatusPending:
			health.Pending += count
		case status == sequence.StatusCompleted:
			health.Completed += count
		case status == sequence.StatusFailed:
			health.Failed += count
		case status.IsInFlight():
			health.InFlight += count
		}
	}
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT (SELECT COUNT(1) FROM books), (SELECT COUNT(1) FROM sequences WHERE enqueued_at IS NULL)`)
	if err := row.Scan(&health.Books, &health.Unenqueued); err != nil {
		return HealthSummary{}, fmt.Errorf("book counts: %w", err)
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the records database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("records database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat records database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("records database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping records database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA quick_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = integrity == "ok"
	return health, nil
}
