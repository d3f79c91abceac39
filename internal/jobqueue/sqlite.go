package jobqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"storyloom/internal/sqliteutil"
)

//go:embed schema.sql
var schemaSQL string

// queueSchemaVersion is stored in PRAGMA user_version.
const queueSchemaVersion = 1

const jobColumns = "id, kind, payload, state, attempt, max_attempts, run_at, lease_until, unique_key, last_error, created_at, updated_at"

// ErrSchemaMismatch indicates the queue database was created by an incompatible version.
var ErrSchemaMismatch = errors.New("queue schema version mismatch")

const maxErrorLength = 2000

// SQLiteQueue is a Queue backed by a SQLite file.
type SQLiteQueue struct {
	db          *sql.DB
	path        string
	maxAttempts int
	now         func() time.Time
}

// SQLiteOption customizes a SQLiteQueue.
type SQLiteOption func(*SQLiteQueue)

// WithDefaultMaxAttempts sets the delivery budget for jobs enqueued without WithMaxAttempts.
func WithDefaultMaxAttempts(n int) SQLiteOption {
	return func(q *SQLiteQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithQueueClock overrides the time source.
func WithQueueClock(now func() time.Time) SQLiteOption {
	return func(q *SQLiteQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// OpenSQLite opens or creates the queue database at path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", sqliteutil.DSN(path))
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	q := &SQLiteQueue{db: db, path: path, maxAttempts: 5, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema(ctx context.Context) error {
	var version int
	if err := q.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read queue schema version: %w", err)
	}
	switch version {
	case queueSchemaVersion:
		return nil
	case 0:
	default:
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, queueSchemaVersion, q.path)
	}
	if _, err := q.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create queue schema: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", queueSchemaVersion)); err != nil {
		return fmt.Errorf("record queue schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (q *SQLiteQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Path returns the queue database location.
func (q *SQLiteQueue) Path() string {
	return q.path
}

// Enqueue persists a new pending job. When a unique key is set and an active
// job already holds it, nothing is inserted and ErrDuplicate is returned.
func (q *SQLiteQueue) Enqueue(ctx context.Context, kind Kind, payload any, opts ...EnqueueOption) (*Job, error) {
	if strings.TrimSpace(string(kind)) == "" {
		return nil, errors.New("enqueue: job kind is required")
	}
	options := enqueueOptions{maxAttempts: q.maxAttempts}
	for _, opt := range opts {
		opt(&options)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: encode payload: %w", kind, err)
	}

	now := q.now().UTC()
	runAt := options.runAt
	if runAt.IsZero() || runAt.Before(now) {
		runAt = now
	}
	job := &Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		Payload:     raw,
		State:       StatePending,
		MaxAttempts: options.maxAttempts,
		RunAt:       runAt.UTC(),
		UniqueKey:   options.uniqueKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var inserted int64
	err = sqliteutil.RetryOnBusy(ctx, func() error {
		res, execErr := q.db.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO jobs (id, kind, payload, state, attempt, max_attempts, run_at, unique_key, created_at, updated_at)
             VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?, ?)`,
			job.ID,
			string(job.Kind),
			string(job.Payload),
			job.MaxAttempts,
			sqliteutil.FormatTime(job.RunAt),
			nullableString(job.UniqueKey),
			sqliteutil.FormatTime(now),
			sqliteutil.FormatTime(now),
		)
		if execErr != nil {
			return execErr
		}
		inserted, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	if inserted == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, job.UniqueKey)
	}
	return job, nil
}

// Claim leases the next visible job of kind. Expired leases with attempts
// left are redelivered. It returns nil when nothing is ready.
func (q *SQLiteQueue) Claim(ctx context.Context, kind Kind, lease time.Duration) (*Job, error) {
	now := q.now().UTC()
	nowText := sqliteutil.FormatTime(now)
	var job *Job
	err := sqliteutil.RetryOnBusy(ctx, func() error {
		row := q.db.QueryRowContext(
			ctx,
			`UPDATE jobs
             SET state = 'running', attempt = attempt + 1, lease_until = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE kind = ?
                   AND ((state = 'pending' AND run_at <= ?)
                        OR (state = 'running' AND lease_until < ? AND attempt < max_attempts))
                 ORDER BY run_at, created_at
                 LIMIT 1
             )
             RETURNING `+jobColumns,
			sqliteutil.FormatTime(now.Add(lease)),
			nowText,
			string(kind),
			nowText,
			nowText,
		)
		var scanErr error
		job, scanErr = scanJob(row)
		if errors.Is(scanErr, sql.ErrNoRows) {
			job = nil
			return nil
		}
		return scanErr
	})
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", kind, err)
	}
	return job, nil
}

// Extend pushes the lease of a running job forward.
func (q *SQLiteQueue) Extend(ctx context.Context, job *Job, lease time.Duration) error {
	now := q.now().UTC()
	until := now.Add(lease)
	err := q.ownedUpdate(ctx, job,
		`UPDATE jobs SET lease_until = ?, updated_at = ? WHERE id = ? AND attempt = ? AND state = 'running'`,
		sqliteutil.FormatTime(until), sqliteutil.FormatTime(now), job.ID, job.Attempt,
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	job.LeaseUntil = &until
	return nil
}

// Complete marks a running job done.
func (q *SQLiteQueue) Complete(ctx context.Context, job *Job) error {
	err := q.ownedUpdate(ctx, job,
		`UPDATE jobs SET state = 'done', lease_until = NULL, updated_at = ? WHERE id = ? AND attempt = ? AND state = 'running'`,
		sqliteutil.FormatTime(q.now()), job.ID, job.Attempt,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	job.State = StateDone
	return nil
}

// Fail records cause and schedules redelivery, or moves the job to dead on
// its final attempt.
func (q *SQLiteQueue) Fail(ctx context.Context, job *Job, cause error, retryAt time.Time) (State, error) {
	next := StatePending
	if job.FinalAttempt() {
		next = StateDead
	}
	message := "unknown error"
	if cause != nil {
		message = truncate(cause.Error(), maxErrorLength)
	}
	err := q.ownedUpdate(ctx, job,
		`UPDATE jobs SET state = ?, run_at = ?, lease_until = NULL, last_error = ?, updated_at = ?
         WHERE id = ? AND attempt = ? AND state = 'running'`,
		string(next), sqliteutil.FormatTime(retryAt), message, sqliteutil.FormatTime(q.now()), job.ID, job.Attempt,
	)
	if err != nil {
		return "", fmt.Errorf("fail job: %w", err)
	}
	job.State = next
	job.LastError = message
	return next, nil
}

// Release returns a running job to pending and gives back its attempt.
func (q *SQLiteQueue) Release(ctx context.Context, job *Job) error {
	now := sqliteutil.FormatTime(q.now())
	err := q.ownedUpdate(ctx, job,
		`UPDATE jobs SET state = 'pending', attempt = attempt - 1, run_at = ?, lease_until = NULL, updated_at = ?
         WHERE id = ? AND attempt = ? AND state = 'running'`,
		now, now, job.ID, job.Attempt,
	)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	job.State = StatePending
	job.Attempt--
	return nil
}

// ReapExpired moves jobs whose lease expired on their final attempt to dead.
func (q *SQLiteQueue) ReapExpired(ctx context.Context, kind Kind) ([]*Job, error) {
	now := sqliteutil.FormatTime(q.now())
	var jobs []*Job
	err := sqliteutil.RetryOnBusy(ctx, func() error {
		jobs = jobs[:0]
		rows, err := q.db.QueryContext(
			ctx,
			`UPDATE jobs SET state = 'dead', lease_until = NULL, last_error = ?, updated_at = ?
             WHERE kind = ? AND state = 'running' AND lease_until < ? AND attempt >= max_attempts
             RETURNING `+jobColumns,
			ErrLeaseExpired.Error(),
			now,
			string(kind),
			now,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("reap expired %s: %w", kind, err)
	}
	return jobs, nil
}

// Prune deletes finished jobs last updated before cutoff.
func (q *SQLiteQueue) Prune(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	err := sqliteutil.RetryOnBusy(ctx, func() error {
		res, err := q.db.ExecContext(ctx,
			`DELETE FROM jobs WHERE state IN ('done', 'dead') AND updated_at < ?`,
			sqliteutil.FormatTime(before),
		)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return removed, nil
}

// Stats returns job counts per kind and state.
func (q *SQLiteQueue) Stats(ctx context.Context) ([]KindStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT kind, state, COUNT(1) FROM jobs GROUP BY kind, state ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats []KindStats
	index := map[Kind]int{}
	for rows.Next() {
		var (
			kind  string
			state string
			count int
		)
		if err := rows.Scan(&kind, &state, &count); err != nil {
			return nil, err
		}
		i, ok := index[Kind(kind)]
		if !ok {
			stats = append(stats, KindStats{Kind: Kind(kind)})
			i = len(stats) - 1
			index[Kind(kind)] = i
		}
		switch State(state) {
		case StatePending:
			stats[i].Pending += count
		case StateRunning:
			stats[i].Running += count
		case StateDone:
			stats[i].Done += count
		case StateDead:
			stats[i].Dead += count
		}
	}
	return stats, rows.Err()
}

// Get returns a job by id, or nil when missing.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs of kind in creation order, optionally filtered by state.
func (q *SQLiteQueue) List(ctx context.Context, kind Kind, states ...State) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE kind = ?`
	args := []any{string(kind)}
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, state := range states {
			placeholders[i] = "?"
			args = append(args, string(state))
		}
		query += ` AND state IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ActiveKeys returns the unique keys of pending and running jobs. Jobs
// enqueued without a key are not reported.
func (q *SQLiteQueue) ActiveKeys(ctx context.Context, kinds ...Kind) ([]string, error) {
	query := `SELECT unique_key FROM jobs WHERE unique_key IS NOT NULL AND state IN ('pending', 'running')`
	args := make([]any, 0, len(kinds))
	if len(kinds) > 0 {
		placeholders := make([]string, len(kinds))
		for i, kind := range kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		query += ` AND kind IN (` + strings.Join(placeholders, ",") + `)`
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan active key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (q *SQLiteQueue) ownedUpdate(ctx context.Context, job *Job, query string, args ...any) error {
	if job == nil {
		return errors.New("nil job")
	}
	var affected int64
	err := sqliteutil.RetryOnBusy(ctx, func() error {
		res, err := q.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s attempt %d", ErrLeaseLost, job.ID, job.Attempt)
	}
	return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (*Job, error) {
	var (
		job        Job
		kind       string
		payload    string
		state      string
		runAtRaw   string
		leaseRaw   sql.NullString
		uniqueKey  sql.NullString
		lastError  sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&payload,
		&state,
		&job.Attempt,
		&job.MaxAttempts,
		&runAtRaw,
		&leaseRaw,
		&uniqueKey,
		&lastError,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Payload = json.RawMessage(payload)
	job.State = State(state)
	job.UniqueKey = uniqueKey.String
	job.LastError = lastError.String
	if t, err := sqliteutil.ParseTime(runAtRaw); err == nil {
		job.RunAt = t
	}
	if leaseRaw.Valid {
		if t, err := sqliteutil.ParseTime(leaseRaw.String); err == nil {
			job.LeaseUntil = &t
		}
	}
	if t, err := sqliteutil.ParseTime(createdRaw); err == nil {
		job.CreatedAt = t
	}
	if t, err := sqliteutil.ParseTime(updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
