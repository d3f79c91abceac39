package jobqueue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind addresses a job to the pool that handles it.
type Kind string

// State is the queue-side lifecycle of a job.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateDead    State = "dead"
)

var (
	// ErrDuplicate is returned by Enqueue when an active job already holds the unique key.
	ErrDuplicate = errors.New("duplicate job")
	// ErrLeaseLost is returned when a job's lease expired and it was reclaimed elsewhere.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrLeaseExpired is the cause reported for jobs that ran out of lease on their final attempt.
	ErrLeaseExpired = errors.New("lease expired on final attempt")
)

// Job is a unit of work {kind, payload, attempt}.
type Job struct {
	ID          string
	Kind        Kind
	Payload     json.RawMessage
	State       State
	Attempt     int
	MaxAttempts int
	RunAt       time.Time
	LeaseUntil  *time.Time
	UniqueKey   string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s: empty payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("job %s: decode payload: %w", j.ID, err)
	}
	return nil
}

// FinalAttempt reports whether a failure now exhausts the redelivery budget.
func (j *Job) FinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// KindStats summarizes job counts for one kind.
type KindStats struct {
	Kind    Kind
	Pending int
	Running int
	Done    int
	Dead    int
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	runAt       time.Time
	uniqueKey   string
	maxAttempts int
}

// WithDelay schedules the job to become visible after d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.runAt = time.Now().Add(d)
		}
	}
}

// WithRunAt schedules the job to become visible at t.
func WithRunAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.runAt = t }
}

// WithUniqueKey suppresses the enqueue while another pending or running job
// holds the same key.
func WithUniqueKey(key string) EnqueueOption {
	return func(o *enqueueOptions) { o.uniqueKey = key }
}

// WithMaxAttempts overrides the queue's default delivery budget.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}
