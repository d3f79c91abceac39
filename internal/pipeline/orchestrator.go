package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"storyloom/internal/artifacts"
	"storyloom/internal/config"
	"storyloom/internal/jobqueue"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/providers"
	"storyloom/internal/retry"
	"storyloom/internal/services"
	"storyloom/internal/source"
	"storyloom/internal/store"
	"storyloom/internal/textutil"
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Store       *store.Store
	Queue       jobqueue.Queue
	Fetcher     source.Fetcher
	Artifacts   artifacts.Store
	Narrator    providers.Narrator
	Describer   providers.SceneDescriber
	Illustrator providers.Illustrator
	// Notifier is optional; nil drops every event.
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Settings tune ingestion and adapter retries.
type Settings struct {
	WordsPerSequence int
	// InitialBatch caps how many sequences Ingest enqueues. Zero enqueues all.
	InitialBatch int
	// AutoTopUp enqueues the next window whenever a sequence settles.
	AutoTopUp bool
	Retry     retry.Policy
}

// SettingsFromConfig maps the [pipeline] and [retry] sections.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		WordsPerSequence: cfg.Pipeline.WordsPerSequence,
		InitialBatch:     cfg.Pipeline.InitialBatch,
		AutoTopUp:        cfg.Pipeline.AutoTopUp,
		Retry:            retry.FromConfig(cfg.Retry),
	}
}

// Orchestrator ingests books and executes the per-sequence jobs.
type Orchestrator struct {
	store       *store.Store
	queue       jobqueue.Queue
	fetcher     source.Fetcher
	artifacts   artifacts.Store
	narrator    providers.Narrator
	describer   providers.SceneDescriber
	illustrator providers.Illustrator
	notifier    notifications.Service
	settings    Settings
	logger      *slog.Logger
}

// New validates deps and returns an Orchestrator.
func New(deps Deps, settings Settings) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Queue == nil:
		return nil, errors.New("pipeline: queue is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: source fetcher is required")
	case deps.Artifacts == nil:
		return nil, errors.New("pipeline: artifact store is required")
	case deps.Narrator == nil || deps.Describer == nil || deps.Illustrator == nil:
		return nil, errors.New("pipeline: narrator, scene describer and illustrator are required")
	}
	if settings.WordsPerSequence <= 0 {
		return nil, fmt.Errorf("pipeline: words per sequence must be positive, got %d", settings.WordsPerSequence)
	}
	if settings.InitialBatch < 0 {
		settings.InitialBatch = 0
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.Noop()
	}
	return &Orchestrator{
		store:       deps.Store,
		queue:       deps.Queue,
		fetcher:     deps.Fetcher,
		artifacts:   deps.Artifacts,
		narrator:    deps.Narrator,
		describer:   deps.Describer,
		illustrator: deps.Illustrator,
		notifier:    notifier,
		settings:    settings,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
	}, nil
}

// Ingest fetches the source text, persists the book with one sequence per
// word window and enqueues the initial batch of sequence-processing jobs.
// Nothing is left behind when fetching, persisting or enqueueing fails.
// Ingesting a source that already has a book returns that book.
func (o *Orchestrator) Ingest(ctx context.Context, sourceID string) (*store.Book, error) {
	id, err := source.ValidateID(sourceID)
	if err != nil {
		return nil, err
	}
	if existing, err := o.store.FindBookBySource(ctx, id); err != nil {
		return nil, infrastructure("ingest", "lookup book", err)
	} else if existing != nil {
		o.logger.Info("book already ingested",
			logging.String("source_id", id),
			logging.Int64(logging.FieldBookID, existing.ID),
		)
		return existing, nil
	}

	doc, err := o.fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch source %s: %w", id, err)
	}
	windows, err := textutil.SplitWords(doc.Text, o.settings.WordsPerSequence)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "ingest", "split", "invalid window size", err)
	}
	if len(windows) == 0 {
		return nil, services.Wrap(services.ErrValidation, "ingest", "split", fmt.Sprintf("source %s has no words", id), nil)
	}

	sequences := make([]store.NewSequence, 0, len(windows))
	for _, w := range windows {
		sequences = append(sequences, store.NewSequence{
			Number:        w.Number,
			Content:       w.Text,
			StartPosition: w.Start,
			EndPosition:   w.End,
		})
	}
	book, err := o.store.CreateBook(ctx, store.NewBook{
		SourceID:         id,
		Title:            doc.Title,
		Author:           doc.Author,
		WordsPerSequence: o.settings.WordsPerSequence,
	}, sequences)
	if errors.Is(err, store.ErrBookExists) {
		return o.store.FindBookBySource(ctx, id)
	}
	if err != nil {
		return nil, infrastructure("ingest", "create book", err)
	}

	requestID := uuid.NewString()
	ctx = services.WithRequestID(services.WithBookID(ctx, book.ID), requestID)
	logger := logging.WithContext(ctx, o.logger)

	enqueued, err := o.enqueueBatch(ctx, book, o.settings.InitialBatch, requestID)
	if err != nil {
		if _, delErr := o.store.DeleteBook(context.WithoutCancel(ctx), book.ID); delErr != nil {
			logging.ErrorWithContext(logger, "rollback of partially ingested book failed", "ingest_rollback_failed",
				logging.Error(delErr),
				logging.String(logging.FieldErrorHint, "delete the book manually before re-ingesting"),
			)
		}
		return nil, fmt.Errorf("enqueue sequences for %s: %w", id, err)
	}

	logger.Info("book ingested",
		logging.String("source_id", id),
		logging.String("title", book.Title),
		logging.Int("sequences", len(sequences)),
		logging.Int("enqueued", enqueued),
	)
	o.notify(ctx, logger, notifications.EventBookIngested, notifications.Payload{
		"book_id":   book.ID,
		"title":     book.Title,
		"sequences": len(sequences),
	})
	return o.store.GetBook(ctx, book.ID)
}

// RequestMoreSequences enqueues processing for the next count never-enqueued
// sequences of a book and returns how many were enqueued. Zero means the
// book has no windows left.
func (o *Orchestrator) RequestMoreSequences(ctx context.Context, bookID int64, count int) (int, error) {
	if count <= 0 {
		return 0, services.Wrap(services.ErrValidation, "pipeline", "request more", fmt.Sprintf("count must be positive, got %d", count), nil)
	}
	book, err := o.store.GetBook(ctx, bookID)
	if err != nil {
		return 0, infrastructure("pipeline", "load book", err)
	}
	if book == nil {
		return 0, services.Wrap(services.ErrNotFound, "pipeline", "request more", fmt.Sprintf("book %d", bookID), nil)
	}

	requestID := uuid.NewString()
	ctx = services.WithRequestID(services.WithBookID(ctx, book.ID), requestID)
	enqueued, err := o.enqueueBatch(ctx, book, count, requestID)
	if err != nil {
		return enqueued, err
	}
	logging.WithContext(ctx, o.logger).Info("more sequences requested",
		logging.Int("requested", count),
		logging.Int("enqueued", enqueued),
	)
	return enqueued, nil
}

// TopUp enqueues up to count more windows of a book when automatic top-up is
// enabled. It returns how many were enqueued.
func (o *Orchestrator) TopUp(ctx context.Context, bookID int64, count int) (int, error) {
	if !o.settings.AutoTopUp || count <= 0 {
		return 0, nil
	}
	book, err := o.store.GetBook(ctx, bookID)
	if err != nil {
		return 0, infrastructure("pipeline", "load book", err)
	}
	if book == nil {
		return 0, nil
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	enqueued, err := o.enqueueBatch(services.WithBookID(ctx, bookID), book, count, requestID)
	if enqueued > 0 {
		logging.WithContext(ctx, o.logger).Debug("topped up sequences",
			logging.Int64(logging.FieldBookID, bookID),
			logging.Int("enqueued", enqueued),
		)
	}
	return enqueued, err
}

// LiveSequences returns the ids of sequences that still have a pending or
// running pipeline job.
func (o *Orchestrator) LiveSequences(ctx context.Context) (map[int64]struct{}, error) {
	keys, err := o.queue.ActiveKeys(ctx, Kinds()...)
	if err != nil {
		return nil, infrastructure("pipeline", "list active jobs", err)
	}
	live := make(map[int64]struct{}, len(keys))
	for _, key := range keys {
		if id, ok := parseUniqueKey(key); ok {
			live[id] = struct{}{}
		}
	}
	return live, nil
}

// Heartbeat marks the sequence of a claimed or still running job as making
// progress.
func (o *Orchestrator) Heartbeat(ctx context.Context, job *jobqueue.Job) {
	var payload Payload
	if err := job.Decode(&payload); err != nil || payload.SequenceID == 0 {
		return
	}
	if _, err := o.store.Touch(ctx, payload.SequenceID); err != nil && ctx.Err() == nil {
		o.logger.Debug("sequence heartbeat failed",
			logging.Int64(logging.FieldSequenceID, payload.SequenceID),
			logging.Error(err),
		)
	}
}

// enqueueBatch reserves up to limit sequences and enqueues their processing
// jobs. Reservations whose job could not be enqueued are released.
func (o *Orchestrator) enqueueBatch(ctx context.Context, book *store.Book, limit int, requestID string) (int, error) {
	reserved, err := o.store.ReserveSequences(ctx, book.ID, limit)
	if err != nil {
		return 0, infrastructure("pipeline", "reserve sequences", err)
	}
	for i, seq := range reserved {
		payload := Payload{
			BookID:         book.ID,
			SequenceID:     seq.ID,
			SequenceNumber: seq.Number,
			Total:          book.TotalSequences,
			RequestID:      requestID,
		}
		_, err := o.queue.Enqueue(ctx, KindSequenceProcessing, payload,
			jobqueue.WithUniqueKey(UniqueKey(KindSequenceProcessing, seq.ID)),
		)
		if err == nil || errors.Is(err, jobqueue.ErrDuplicate) {
			continue
		}
		rest := make([]int64, 0, len(reserved)-i)
		for _, r := range reserved[i:] {
			rest = append(rest, r.ID)
		}
		if relErr := o.store.ReleaseSequences(context.WithoutCancel(ctx), book.ID, rest...); relErr != nil {
			err = errors.Join(err, relErr)
		}
		return i, infrastructure("pipeline", "enqueue sequence processing", err)
	}
	return len(reserved), nil
}

func infrastructure(stage, operation string, err error) error {
	if err == nil || services.IsInfrastructure(err) {
		return err
	}
	return services.Wrap(services.ErrInfrastructure, stage, operation, "", err)
}

func failureReason(stage string, err error) string {
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return stage + ": " + msg
}

// notify publishes event without letting a delivery failure affect the caller.
func (o *Orchestrator) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(logger, "notification delivery failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
