package jobqueue

import (
	"context"
	"time"
)

// Queue is a durable, at-least-once job transport.
//
// A claimed job stays invisible to other workers until its lease runs out;
// the claim increments Attempt. Complete, Fail, Release and Extend only act
// while the caller still owns the lease and return ErrLeaseLost otherwise.
type Queue interface {
	Enqueue(ctx context.Context, kind Kind, payload any, opts ...EnqueueOption) (*Job, error)
	Claim(ctx context.Context, kind Kind, lease time.Duration) (*Job, error)
	Extend(ctx context.Context, job *Job, lease time.Duration) error
	Complete(ctx context.Context, job *Job) error
	// Fail records cause and either schedules redelivery at retryAt or, on the
	// final attempt, moves the job to dead. It returns the resulting state.
	Fail(ctx context.Context, job *Job, cause error, retryAt time.Time) (State, error)
	// Release returns a job to pending without consuming an attempt.
	Release(ctx context.Context, job *Job) error
	// ReapExpired moves jobs of kind whose lease expired on their final
	// attempt to dead and returns them.
	ReapExpired(ctx context.Context, kind Kind) ([]*Job, error)
	// ActiveKeys returns the unique keys of pending and running jobs of the
	// given kinds, or of every kind when none are named.
	ActiveKeys(ctx context.Context, kinds ...Kind) ([]string, error)
	// Prune deletes done and dead jobs last updated before cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) ([]KindStats, error)
}
