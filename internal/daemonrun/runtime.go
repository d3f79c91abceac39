package daemonrun

import (
	"errors"
	"fmt"
	"log/slog"

	"storyloom/internal/artifacts"
	"storyloom/internal/config"
	"storyloom/internal/jobqueue"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/providers"
	"storyloom/internal/source"
	"storyloom/internal/store"
	"storyloom/internal/sweep"
)

// Runtime holds the opened storage and the services built on it. The CLI
// uses it for one-shot commands; Run hands it to the daemon.
type Runtime struct {
	Config       *config.Config
	Store        *store.Store
	Queue        *jobqueue.SQLiteQueue
	Artifacts    *artifacts.FS
	Provider     *providers.OpenAIClient
	Notifier     notifications.Service
	Orchestrator *pipeline.Orchestrator
	Sweeper      *sweep.Sweeper
}

// Open creates the configured directories, opens both databases and wires
// the orchestrator and sweeper. Callers must Close the runtime.
func Open(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg}
	var err error
	if rt.Store, err = store.Open(cfg); err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if rt.Queue, err = jobqueue.OpenSQLite(cfg.QueuePath(), jobqueue.WithDefaultMaxAttempts(cfg.Queue.MaxAttempts)); err != nil {
		rt.Close()
		return nil, fmt.Errorf("open job queue: %w", err)
	}
	if rt.Artifacts, err = artifacts.NewFromConfig(cfg, logger); err != nil {
		rt.Close()
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	fetcher, err := source.New(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Provider = providers.NewOpenAIClient(providers.OpenAIConfigFrom(cfg))
	rt.Notifier = notifications.NewService(cfg)
	rt.Orchestrator, err = pipeline.New(pipeline.Deps{
		Store:       rt.Store,
		Queue:       rt.Queue,
		Fetcher:     fetcher,
		Artifacts:   rt.Artifacts,
		Narrator:    rt.Provider,
		Describer:   rt.Provider,
		Illustrator: rt.Provider,
		Notifier:    rt.Notifier,
		Logger:      logger,
	}, pipeline.SettingsFromConfig(cfg))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	rt.Sweeper, err = sweep.New(cfg, rt.Store, rt.Artifacts,
		sweep.WithPruner(rt.Queue),
		sweep.WithLiveWork(rt.Orchestrator.LiveSequences),
		sweep.WithTopUp(rt.Orchestrator.TopUp),
		sweep.WithNotifier(rt.Notifier),
		sweep.WithLogger(logger),
	)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create sweeper: %w", err)
	}
	return rt, nil
}

// Close closes the queue and record store.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.Queue != nil {
		errs = append(errs, rt.Queue.Close())
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	return errors.Join(errs...)
}
