package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"storyloom/internal/logging"
)

// cronParser accepts standard 5-field expressions and descriptors like "@every 5m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Recurring describes a job enqueued on a schedule.
type Recurring struct {
	Name      string
	Schedule  string
	Kind      Kind
	Payload   any
	UniqueKey string
}

// Scheduler enqueues recurring jobs. Entries carry a unique key, so a tick
// while the previous run is still pending or running is skipped.
type Scheduler struct {
	queue  Queue
	logger *slog.Logger
	cron   *cronlib.Cron

	mu      sync.Mutex
	started bool
	entries map[string]cronlib.EntryID
}

// NewScheduler returns a stopped scheduler.
func NewScheduler(queue Queue, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		queue:   queue,
		logger:  logger,
		cron:    cronlib.New(cronlib.WithParser(cronParser)),
		entries: make(map[string]cronlib.EntryID),
	}
}

// Add registers a recurring entry.
func (s *Scheduler) Add(ctx context.Context, entry Recurring) error {
	if entry.Name == "" || entry.Kind == "" {
		return errors.New("recurring entry requires name and kind")
	}
	if _, err := ParseSchedule(entry.Schedule); err != nil {
		return fmt.Errorf("recurring %s: parse schedule %q: %w", entry.Name, entry.Schedule, err)
	}
	key := entry.UniqueKey
	if key == "" {
		key = "cron:" + entry.Name
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.Name]; exists {
		return fmt.Errorf("recurring %s already registered", entry.Name)
	}
	id, err := s.cron.AddFunc(entry.Schedule, func() {
		s.fire(context.WithoutCancel(ctx), entry, key)
	})
	if err != nil {
		return fmt.Errorf("recurring %s: %w", entry.Name, err)
	}
	s.entries[entry.Name] = id
	return nil
}

// Trigger enqueues a registered entry immediately.
func (s *Scheduler) Trigger(ctx context.Context, entry Recurring) (*Job, error) {
	key := entry.UniqueKey
	if key == "" {
		key = "cron:" + entry.Name
	}
	return s.queue.Enqueue(ctx, entry.Kind, entry.Payload, WithUniqueKey(key))
}

func (s *Scheduler) fire(ctx context.Context, entry Recurring, key string) {
	job, err := s.queue.Enqueue(ctx, entry.Kind, entry.Payload, WithUniqueKey(key))
	switch {
	case errors.Is(err, ErrDuplicate):
		s.logger.Debug("recurring job still active; tick skipped", logging.String("entry", entry.Name))
	case err != nil:
		logging.WarnWithContext(s.logger, "recurring enqueue failed", "cron_enqueue_failed",
			logging.String("entry", entry.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	default:
		s.logger.Debug("recurring job enqueued",
			logging.String("entry", entry.Name),
			logging.String(logging.FieldJobID, job.ID),
		)
	}
}

// Start begins firing entries.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", logging.Int("entries", len(s.entries)))
}

// Stop halts the scheduler and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Next returns the next fire time of the named entry, if registered.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}
