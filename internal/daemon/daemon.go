package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"storyloom/internal/api"
	"storyloom/internal/artifacts"
	"storyloom/internal/config"
	"storyloom/internal/jobqueue"
	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/store"
	"storyloom/internal/sweep"
)

// Deps are the collaborators the daemon runs. Artifacts is optional; when it
// is a local filesystem store the API also serves its files.
type Deps struct {
	Config       *config.Config
	Store        *store.Store
	Queue        *jobqueue.SQLiteQueue
	Orchestrator *pipeline.Orchestrator
	Sweeper      *sweep.Sweeper
	Artifacts    *artifacts.FS
	Logger       *slog.Logger
}

// Daemon runs one worker pool per job kind plus the sweep scheduler and
// enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	queue     *jobqueue.SQLiteQueue
	pools     []*jobqueue.Pool
	scheduler *jobqueue.Scheduler
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized pools and scheduler.
func New(deps Deps) (*Daemon, error) {
	if deps.Config == nil || deps.Store == nil || deps.Queue == nil || deps.Orchestrator == nil || deps.Sweeper == nil {
		return nil, errors.New("daemon requires config, store, queue, orchestrator, and sweeper")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg := deps.Config

	d := &Daemon{
		cfg:       cfg,
		logger:    logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:     deps.Store,
		queue:     deps.Queue,
		scheduler: jobqueue.NewScheduler(deps.Queue, logger.With(logging.String(logging.FieldComponent, "scheduler"))),
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
	}

	backoff := jobqueue.NewExponential(
		time.Duration(cfg.Queue.BackoffInitialMS)*time.Millisecond,
		time.Duration(cfg.Queue.BackoffMaxMS)*time.Millisecond,
	)
	poolLogger := logger.With(logging.String(logging.FieldComponent, "worker"))

	handlers := deps.Orchestrator.Handlers()
	for _, kind := range pipeline.Kinds() {
		pool, err := jobqueue.NewPool(deps.Queue, jobqueue.PoolConfig{
			Kind:         kind,
			Workers:      workersFor(cfg.Workers, kind),
			Lease:        cfg.Lease(),
			PollInterval: cfg.PollInterval(),
			Backoff:      backoff,
			Handler:      handlers[kind],
			OnExhausted:  deps.Orchestrator.OnExhausted,
			OnHeartbeat:  deps.Orchestrator.Heartbeat,
			Logger:       poolLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s pool: %w", kind, err)
		}
		d.pools = append(d.pools, pool)
	}

	sweepPool, err := jobqueue.NewPool(deps.Queue, jobqueue.PoolConfig{
		Kind:         sweep.Kind,
		Workers:      workersFor(cfg.Workers, sweep.Kind),
		Lease:        cfg.Lease(),
		PollInterval: cfg.PollInterval(),
		Backoff:      backoff,
		Handler:      deps.Sweeper.Handler,
		Logger:       poolLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("create sweep pool: %w", err)
	}
	d.pools = append(d.pools, sweepPool)
	if err := d.scheduler.Add(context.Background(), sweep.Recurring(cfg.Sweep.Schedule)); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	root := ""
	if deps.Artifacts != nil {
		root = deps.Artifacts.Root()
	}
	d.api = newAPIServer(cfg, d, api.NewBookService(deps.Store), root, logger)
	return d, nil
}

func workersFor(cfg config.Workers, kind jobqueue.Kind) int {
	switch kind {
	case pipeline.KindSequenceProcessing:
		return cfg.SequenceProcessing
	case pipeline.KindAudioGeneration:
		return cfg.AudioGeneration
	case pipeline.KindSceneAnalysis:
		return cfg.SceneAnalysis
	case pipeline.KindImageGeneration:
		return cfg.ImageGeneration
	case sweep.Kind:
		return cfg.Sweep
	default:
		return 1
	}
}

// Start acquires the daemon lock and launches pools, scheduler and API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another storyloom daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.startComponents(d.ctx); err != nil {
		d.stopComponents()
		d.cancel()
		_ = d.lock.Unlock()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.running.Store(true)
	d.logger.Info("storyloom daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("pools", len(d.pools)),
	)
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	for _, pool := range d.pools {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("start %s pool: %w", pool.Kind(), err)
		}
	}
	d.scheduler.Start()
	if err := d.api.start(ctx); err != nil {
		return err
	}
	return nil
}

func (d *Daemon) stopComponents() {
	d.api.stop()
	d.scheduler.Stop()
	for _, pool := range d.pools {
		pool.Stop()
	}
}

// Stop stops background processing and releases the daemon lock. In-flight
// jobs are handed back to the queue.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopComponents()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("storyloom daemon stopped")
}

// Close stops the daemon and closes the record store and queue.
func (d *Daemon) Close() error {
	d.Stop()
	return errors.Join(d.queue.Close(), d.store.Close())
}

// APIAddress reports the bound API address, or "" when the API is disabled
// or not started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns runtime information. Store and queue lookups that fail are
// logged and left empty.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		RecordsPath:  d.store.Path(),
		QueuePath:    d.queue.Path(),
		LockFilePath: d.lockPath,
		Pools:        make([]api.PoolStatus, 0, len(d.pools)),
	}
	for _, pool := range d.pools {
		status.Pools = append(status.Pools, api.FromPoolStatus(pool.Status()))
	}
	if next, ok := d.scheduler.Next(string(sweep.Kind)); ok {
		status.NextSweep = api.FormatTime(next)
	}
	if stats, err := d.queue.Stats(ctx); err != nil {
		d.logger.Warn("queue stats unavailable", logging.Error(err))
	} else {
		status.Jobs = api.FromKindStats(stats)
	}
	if summary, err := d.store.Health(ctx); err != nil {
		d.logger.Warn("sequence totals unavailable", logging.Error(err))
	} else {
		status.Sequences = api.FromHealthSummary(summary)
	}
	return status
}
