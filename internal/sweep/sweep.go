// Package sweep reconciles sequences the pipeline lost track of. One pass
// fails in-flight sequences that stopped making progress and purges failed
// sequences, with their artifacts, once the retention window has passed.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"storyloom/internal/artifacts"
	"storyloom/internal/config"
	"storyloom/internal/jobqueue"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/store"
)

// Kind is the queue kind of scheduled sweep jobs.
const Kind jobqueue.Kind = "reconcile-sweep"

const purgeBatchSize = 200

// Pruner deletes finished queue jobs.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// LiveFunc reports the sequences that still have queued or running work.
type LiveFunc func(ctx context.Context) (map[int64]struct{}, error)

// TopUpFunc admits up to count more windows of a book and returns how many
// were admitted.
type TopUpFunc func(ctx context.Context, bookID int64, count int) (int, error)

// Result summarizes one sweep.
type Result struct {
	Stale       int64
	ReadyBooks  int
	Purged      int
	BlobsPurged int
	JobsPruned  int64
	Duration    time.Duration
}

// Sweeper runs the staleness and retention passes.
type Sweeper struct {
	store      *store.Store
	blobs      artifacts.Store
	jobs       Pruner
	live       LiveFunc
	topUp      TopUpFunc
	staleAfter time.Duration
	retention  time.Duration
	now        func() time.Time
	notifier   notifications.Service
	logger     *slog.Logger
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPruner prunes done and dead jobs older than the retention window after
// both passes.
func WithPruner(p Pruner) Option {
	return func(s *Sweeper) { s.jobs = p }
}

// WithLiveWork excludes sequences that still have pending or running jobs
// from the staleness pass. Without it every in-flight sequence past the
// threshold is failed.
func WithLiveWork(fn LiveFunc) Option {
	return func(s *Sweeper) { s.live = fn }
}

// WithTopUp refills books whose sequences the staleness pass failed.
func WithTopUp(fn TopUpFunc) Option {
	return func(s *Sweeper) { s.topUp = fn }
}

// WithNotifier publishes a summary of sweeps that changed something.
func WithNotifier(n notifications.Service) Option {
	return func(s *Sweeper) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Sweeper using the [sweep] thresholds.
func New(cfg *config.Config, st *store.Store, blobs artifacts.Store, opts ...Option) (*Sweeper, error) {
	if st == nil || blobs == nil {
		return nil, errors.New("sweep: store and artifact store are required")
	}
	s := &Sweeper{
		store:      st,
		blobs:      blobs,
		staleAfter: cfg.StaleAfter(),
		retention:  cfg.Retention(),
		now:        time.Now,
		notifier:   notifications.Noop(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.staleAfter <= 0 || s.retention <= 0 {
		return nil, fmt.Errorf("sweep: thresholds must be positive (stale %s, retention %s)", s.staleAfter, s.retention)
	}
	s.logger = logging.NewComponentLogger(s.logger, "sweep")
	return s, nil
}

// Run performs one sweep. The passes are independent; a failing pass does
// not stop the next one and every error is returned joined.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	start := s.now()
	var (
		result Result
		errs   []error
	)

	stale, err := s.failStale(ctx, start.Add(-s.staleAfter))
	if err != nil {
		errs = append(errs, fmt.Errorf("stale pass: %w", err))
	}
	result.Stale = stale.Failed
	result.ReadyBooks = s.settle(ctx, stale)

	purged, blobs, err := s.purge(ctx, start.Add(-s.retention))
	if err != nil {
		errs = append(errs, fmt.Errorf("retention pass: %w", err))
	}
	result.Purged = purged
	result.BlobsPurged = blobs

	if s.jobs != nil {
		pruned, err := s.jobs.Prune(ctx, start.Add(-s.retention))
		if err != nil {
			errs = append(errs, fmt.Errorf("prune jobs: %w", err))
		}
		result.JobsPruned = pruned
	}

	result.Duration = s.now().Sub(start)
	logger := logging.WithContext(ctx, s.logger)
	if result.Stale > 0 || result.Purged > 0 || result.JobsPruned > 0 {
		logger.Info("sweep finished",
			logging.Int64("stale_failed", result.Stale),
			logging.Int("books_ready", result.ReadyBooks),
			logging.Int("purged", result.Purged),
			logging.Int("blobs_deleted", result.BlobsPurged),
			logging.Int64("jobs_pruned", result.JobsPruned),
		)
		s.publish(ctx, notifications.EventSweepCompleted, notifications.Payload{
			"stale":  result.Stale,
			"purged": result.Purged,
		})
	} else {
		logger.Debug("sweep found nothing to do")
	}
	err = errors.Join(errs...)
	if err != nil {
		logging.ErrorWithContext(logger, "sweep incomplete", "sweep_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next sweep retries the remaining work"),
		)
	}
	return result, err
}

func (s *Sweeper) failStale(ctx context.Context, cutoff time.Time) (store.StaleResult, error) {
	var live map[int64]struct{}
	if s.live != nil {
		var err error
		if live, err = s.live(ctx); err != nil {
			return store.StaleResult{}, fmt.Errorf("list live work: %w", err)
		}
	}
	return s.store.FailStale(ctx, cutoff, live)
}

// settle refills the books the stale pass touched and announces the ones it
// left ready. It returns how many books were announced.
func (s *Sweeper) settle(ctx context.Context, stale store.StaleResult) int {
	bookIDs := make([]int64, 0, len(stale.Books))
	for bookID := range stale.Books {
		bookIDs = append(bookIDs, bookID)
	}
	slices.Sort(bookIDs)
	if s.topUp != nil {
		for _, bookID := range bookIDs {
			if _, err := s.topUp(ctx, bookID, stale.Books[bookID]); err != nil {
				logging.WarnWithContext(s.logger, "top-up after stale pass failed", "sweep_top_up_failed",
					logging.Int64(logging.FieldBookID, bookID),
					logging.Error(err),
				)
			}
		}
	}

	announced := 0
	for _, bookID := range stale.ReadyBooks {
		book, err := s.store.GetBook(ctx, bookID)
		if err != nil || book == nil || book.Status != store.BookReady {
			continue
		}
		announced++
		s.publish(ctx, notifications.EventBookReady, notifications.Payload{
			"book_id":   book.ID,
			"title":     book.Title,
			"completed": book.CompletedSequenceCount,
			"total":     book.TotalSequences,
		})
	}
	return announced
}

func (s *Sweeper) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := s.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		s.logger.Warn("sweep notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

// purge deletes blobs before rows so an interrupted pass leaves rows that
// the next pass can finish.
func (s *Sweeper) purge(ctx context.Context, cutoff time.Time) (int, int, error) {
	var (
		purged int
		blobs  int
	)
	for {
		candidates, err := s.store.PurgeCandidates(ctx, cutoff, purgeBatchSize)
		if err != nil {
			return purged, blobs, err
		}
		progressed := false
		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return purged, blobs, err
			}
			blobErr := error(nil)
			for _, url := range candidate.ArtifactURLs {
				if err := s.blobs.Delete(ctx, url); err != nil {
					blobErr = errors.Join(blobErr, err)
					continue
				}
				blobs++
			}
			if blobErr != nil {
				logging.WarnWithContext(s.logger, "artifact delete failed; keeping sequence for the next sweep", "sweep_blob_error",
					logging.Int64(logging.FieldBookID, candidate.BookID),
					logging.Int64(logging.FieldSequenceID, candidate.SequenceID),
					logging.Error(blobErr),
				)
				continue
			}
			removed, err := s.store.PurgeSequence(ctx, candidate.SequenceID, cutoff)
			if err != nil {
				return purged, blobs, err
			}
			if removed {
				purged++
				progressed = true
			}
		}
		if len(candidates) < purgeBatchSize || !progressed {
			return purged, blobs, nil
		}
	}
}

// Handler runs the sweep as a queue job.
func (s *Sweeper) Handler(ctx context.Context, _ *jobqueue.Job) error {
	_, err := s.Run(ctx)
	return err
}

// Recurring returns the scheduler entry that enqueues sweeps on schedule.
func Recurring(schedule string) jobqueue.Recurring {
	return jobqueue.Recurring{
		Name:      string(Kind),
		Schedule:  schedule,
		Kind:      Kind,
		Payload:   map[string]string{"reason": "scheduled"},
		UniqueKey: string(Kind),
	}
}
