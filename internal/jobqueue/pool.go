package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/services"
)

// Handler processes one delivered job. A nil return acknowledges the job;
// any error schedules a redelivery until the attempt budget is spent.
type Handler func(ctx context.Context, job *Job) error

// ExhaustedFunc runs after a job moved to dead, either because its final
// attempt failed or because its final lease expired.
type ExhaustedFunc func(ctx context.Context, job *Job, cause error)

// HeartbeatFunc runs when a job is claimed and after every lease extension
// while its handler runs.
type HeartbeatFunc func(ctx context.Context, job *Job)

// PoolConfig describes a worker pool bound to one job kind.
type PoolConfig struct {
	Kind         Kind
	Workers      int
	Lease        time.Duration
	PollInterval time.Duration
	Backoff      Backoff
	Handler      Handler
	OnExhausted  ExhaustedFunc
	OnHeartbeat  HeartbeatFunc
	Logger       *slog.Logger
}

// PoolStatus is a point-in-time view of a pool.
type PoolStatus struct {
	Kind      Kind
	Workers   int
	Running   bool
	Busy      int
	Processed int64
	Failed    int64
	Dead      int64
	LastError string
}

// Pool runs a fixed number of workers that claim and execute jobs of one kind.
type Pool struct {
	queue Queue
	cfg   PoolConfig
	now   func() time.Time

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	busy      int
	processed int64
	failed    int64
	dead      int64
	lastErr   error
}

// NewPool validates cfg and returns an idle pool.
func NewPool(queue Queue, cfg PoolConfig) (*Pool, error) {
	if queue == nil {
		return nil, errors.New("pool: queue is required")
	}
	if cfg.Kind == "" {
		return nil, errors.New("pool: kind is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("pool %s: handler is required", cfg.Kind)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Backoff == nil {
		cfg.Backoff = NewExponential(2*time.Second, 5*time.Minute)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	cfg.Logger = cfg.Logger.With(logging.String(logging.FieldJobKind, string(cfg.Kind)))
	return &Pool{queue: queue, cfg: cfg, now: time.Now}, nil
}

// Kind returns the job kind this pool serves.
func (p *Pool) Kind() Kind {
	return p.cfg.Kind
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pool %s already running", p.cfg.Kind)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.runWorker(runCtx, i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Status reports counters and the most recent failure.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := PoolStatus{
		Kind:      p.cfg.Kind,
		Workers:   p.cfg.Workers,
		Running:   p.running,
		Busy:      p.busy,
		Processed: p.processed,
		Failed:    p.failed,
		Dead:      p.dead,
	}
	if p.lastErr != nil {
		status.LastError = p.lastErr.Error()
	}
	return status
}

func (p *Pool) runWorker(ctx context.Context, index int) {
	defer p.wg.Done()
	logger := p.cfg.Logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if index == 0 {
			p.reapExpired(ctx, logger)
		}

		job, err := p.queue.Claim(ctx, p.cfg.Kind, p.cfg.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.setLastError(err)
			logger.Error("failed to claim job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_claim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			p.wait(ctx)
			continue
		}
		if job == nil {
			p.wait(ctx)
			continue
		}
		p.execute(ctx, logger, job)
	}
}

func (p *Pool) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.PollInterval):
	}
}

func (p *Pool) reapExpired(ctx context.Context, logger *slog.Logger) {
	jobs, err := p.queue.ReapExpired(ctx, p.cfg.Kind)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("reap expired jobs failed; stuck jobs may remain",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_reap_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
		}
		return
	}
	for _, job := range jobs {
		p.recordDead()
		logger.Warn("job lease expired on final attempt",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int(logging.FieldAttempt, job.Attempt),
			logging.String(logging.FieldEventType, "job_dead"),
		)
		p.exhausted(ctx, job, ErrLeaseExpired)
	}
}

func (p *Pool) execute(ctx context.Context, logger *slog.Logger, job *Job) {
	p.setBusy(1)
	defer p.setBusy(-1)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobCtx = services.WithJobKind(jobCtx, string(job.Kind))
	jobCtx = services.WithJobID(jobCtx, job.ID)
	jobLogger := logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.Int(logging.FieldAttempt, job.Attempt),
	)

	var (
		heartbeat sync.WaitGroup
		lost      = make(chan struct{})
	)
	p.beat(jobCtx, job)
	heartbeat.Add(1)
	go p.heartbeat(jobCtx, &heartbeat, jobLogger, job, cancel, lost)

	started := p.now()
	err := p.invoke(jobCtx, job)
	cancel()
	heartbeat.Wait()

	select {
	case <-lost:
		p.setLastError(ErrLeaseLost)
		jobLogger.Warn("job lease lost during execution; result discarded",
			logging.String(logging.FieldEventType, "job_lease_lost"),
		)
		return
	default:
	}

	// Shutdown interrupted the handler; hand the job back without spending an attempt.
	if ctx.Err() != nil {
		if relErr := p.queue.Release(context.WithoutCancel(ctx), job); relErr != nil && !errors.Is(relErr, ErrLeaseLost) {
			jobLogger.Warn("release job on shutdown failed", logging.Error(relErr))
		}
		return
	}

	finishCtx := context.WithoutCancel(jobCtx)
	if err == nil {
		if cErr := p.queue.Complete(finishCtx, job); cErr != nil {
			p.setLastError(cErr)
			jobLogger.Warn("acknowledge job failed", logging.Error(cErr))
			return
		}
		p.recordProcessed()
		jobLogger.Debug("job completed", logging.Duration("elapsed", p.now().Sub(started)))
		return
	}

	p.setLastError(err)
	retryAt := p.now().Add(p.cfg.Backoff.Delay(job.Attempt))
	state, fErr := p.queue.Fail(finishCtx, job, err, retryAt)
	if fErr != nil {
		jobLogger.Warn("record job failure failed", logging.Error(fErr))
		return
	}
	p.recordFailed()
	if state == StateDead {
		p.recordDead()
		logging.ErrorWithContext(jobLogger, "job exhausted its attempts", "job_dead",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the job error and the sequence record"),
		)
		p.exhausted(finishCtx, job, err)
		return
	}
	jobLogger.Warn("job failed; redelivery scheduled",
		logging.Error(err),
		logging.Time("retry_at", retryAt),
		logging.String(logging.FieldEventType, "job_retry_scheduled"),
	)
}

func (p *Pool) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.cfg.Handler(ctx, job)
}

func (p *Pool) heartbeat(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, job *Job, cancel context.CancelFunc, lost chan<- struct{}) {
	defer wg.Done()
	interval := p.cfg.Lease / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Extend(ctx, job, p.cfg.Lease); err != nil {
				if errors.Is(err, ErrLeaseLost) {
					close(lost)
					cancel()
					return
				}
				if !errors.Is(err, context.Canceled) {
					logger.Warn("lease extension failed", logging.Error(err))
				}
				continue
			}
			p.beat(ctx, job)
		}
	}
}

func (p *Pool) beat(ctx context.Context, job *Job) {
	if p.cfg.OnHeartbeat != nil {
		p.cfg.OnHeartbeat(ctx, job)
	}
}

func (p *Pool) exhausted(ctx context.Context, job *Job, cause error) {
	if p.cfg.OnExhausted == nil {
		return
	}
	hookCtx := services.WithJobKind(context.WithoutCancel(ctx), string(job.Kind))
	hookCtx = services.WithJobID(hookCtx, job.ID)
	p.cfg.OnExhausted(hookCtx, job, cause)
}

func (p *Pool) setBusy(delta int) {
	p.mu.Lock()
	p.busy += delta
	p.mu.Unlock()
}

func (p *Pool) setLastError(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Pool) recordProcessed() {
	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
}

func (p *Pool) recordFailed() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}

func (p *Pool) recordDead() {
	p.mu.Lock()
	p.dead++
	p.mu.Unlock()
}
