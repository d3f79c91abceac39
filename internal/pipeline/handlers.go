package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"storyloom/internal/artifacts"
	"storyloom/internal/jobqueue"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/providers"
	"storyloom/internal/retry"
	"storyloom/internal/sequence"
	"storyloom/internal/services"
	"storyloom/internal/store"
)

// Handlers returns the job handler for every pipeline kind.
func (o *Orchestrator) Handlers() map[jobqueue.Kind]jobqueue.Handler {
	return map[jobqueue.Kind]jobqueue.Handler{
		KindSequenceProcessing: o.ProcessSequence,
		KindAudioGeneration:    o.GenerateAudio,
		KindSceneAnalysis:      o.AnalyzeScene,
		KindImageGeneration:    o.GenerateImage,
	}
}

// jobScope is a decoded job bound to its sequence record.
type jobScope struct {
	payload Payload
	seq     *store.Sequence
	ctx     context.Context
	logger  *slog.Logger
}

// load decodes the payload and reads the sequence. A nil scope with a nil
// error means the job should be acknowledged without work.
func (o *Orchestrator) load(ctx context.Context, job *jobqueue.Job) (*jobScope, error) {
	var payload Payload
	if err := job.Decode(&payload); err != nil {
		logging.ErrorWithContext(logging.WithContext(ctx, o.logger), "discarding job with unreadable payload", "job_payload_invalid",
			logging.Error(err),
		)
		return nil, nil
	}
	ctx = services.WithBookID(ctx, payload.BookID)
	ctx = services.WithSequenceID(ctx, payload.SequenceID)
	ctx = services.WithRequestID(ctx, payload.RequestID)
	logger := logging.WithContext(ctx, o.logger).With(
		logging.Int(logging.FieldSequenceNumber, payload.SequenceNumber),
		logging.Int(logging.FieldAttempt, job.Attempt),
	)

	seq, err := o.store.GetSequence(ctx, payload.SequenceID)
	if err != nil {
		return nil, infrastructure(string(job.Kind), "load sequence", err)
	}
	if seq == nil {
		logging.WarnWithContext(logger, "sequence no longer exists; acknowledging job", "sequence_missing",
			logging.String(logging.FieldErrorHint, "the book was deleted or the sequence purged"),
		)
		return nil, nil
	}
	return &jobScope{payload: payload, seq: seq, ctx: ctx, logger: logger}, nil
}

// ProcessSequence moves a pending sequence to processing and fans out the
// audio and scene branches. A replay against a sequence still in processing
// re-issues the fan-out; unique keys drop copies that are still active.
func (o *Orchestrator) ProcessSequence(ctx context.Context, job *jobqueue.Job) error {
	scope, err := o.load(ctx, job)
	if scope == nil || err != nil {
		return err
	}
	ctx, seq := scope.ctx, scope.seq

	status, changed, err := o.store.StartProcessing(ctx, seq.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return infrastructure("process", "start processing", err)
	}
	if status != sequence.StatusProcessing {
		scope.logger.Debug("sequence already past processing; nothing to do", logging.String("status", string(status)))
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, kind := range []jobqueue.Kind{KindAudioGeneration, KindSceneAnalysis} {
		group.Go(func() error {
			_, err := o.queue.Enqueue(groupCtx, kind, scope.payload.next(""), jobqueue.WithUniqueKey(UniqueKey(kind, seq.ID)))
			if err != nil && !errors.Is(err, jobqueue.ErrDuplicate) {
				return fmt.Errorf("enqueue %s: %w", kind, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return o.failSequence(scope, "fan-out", err)
	}

	scope.logger.Info("sequence processing started",
		logging.Int("total", scope.payload.Total),
		logging.Bool("replay", !changed),
	)
	return nil
}

// GenerateAudio narrates the sequence text and records the audio artifact.
func (o *Orchestrator) GenerateAudio(ctx context.Context, job *jobqueue.Job) error {
	scope, err := o.load(ctx, job)
	if scope == nil || err != nil {
		return err
	}
	return o.produceArtifact(scope, sequence.ArtifactAudio, func(ctx context.Context) ([]byte, string, error) {
		audio, err := o.narrator.Narrate(ctx, scope.seq.Content)
		if err != nil {
			return nil, "", err
		}
		return audio.Data, audio.Format, nil
	})
}

// AnalyzeScene derives the scene description and enqueues image generation.
// A stored description is reused without calling the describer again.
func (o *Orchestrator) AnalyzeScene(ctx context.Context, job *jobqueue.Job) error {
	scope, err := o.load(ctx, job)
	if scope == nil || err != nil {
		return err
	}
	ctx, seq := scope.ctx, scope.seq
	if seq.Status.IsTerminal() {
		return nil
	}

	description := seq.SceneDescription
	if description == "" {
		description, err = retry.Do(ctx, o.settings.Retry, func(ctx context.Context) (string, error) {
			return o.describer.DescribeScene(ctx, seq.Content)
		}, o.retryOptions(scope, KindSceneAnalysis)...)
		if err != nil {
			return o.failSequence(scope, "scene analysis", err)
		}
		if err := o.store.SaveScene(ctx, seq.ID, description); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return infrastructure("scene", "save scene", err)
		}
		scope.logger.Info("scene described", logging.Int("description_chars", len(description)))
	}

	if seq.HasArtifact(sequence.ArtifactImage) {
		return nil
	}
	_, err = o.queue.Enqueue(ctx, KindImageGeneration, scope.payload.next(description),
		jobqueue.WithUniqueKey(UniqueKey(KindImageGeneration, seq.ID)),
	)
	if err != nil && !errors.Is(err, jobqueue.ErrDuplicate) {
		return o.failSequence(scope, "enqueue image generation", err)
	}
	return nil
}

// GenerateImage illustrates the scene description and records the image
// artifact.
func (o *Orchestrator) GenerateImage(ctx context.Context, job *jobqueue.Job) error {
	scope, err := o.load(ctx, job)
	if scope == nil || err != nil {
		return err
	}
	description := scope.payload.Description
	if description == "" {
		description = scope.seq.SceneDescription
	}
	if description == "" && !scope.seq.Status.IsTerminal() && !scope.seq.HasArtifact(sequence.ArtifactImage) {
		return o.failSequence(scope, "image generation", errors.New("no scene description available"))
	}
	return o.produceArtifact(scope, sequence.ArtifactImage, func(ctx context.Context) ([]byte, string, error) {
		image, err := o.illustrator.Illustrate(ctx, description)
		if err != nil {
			return nil, "", err
		}
		return image.Data, image.Format, nil
	})
}

type generateFunc func(ctx context.Context) (data []byte, format string, err error)

// produceArtifact runs one terminal branch. Terminal sequences are left
// alone; an artifact already recorded only re-applies convergence.
func (o *Orchestrator) produceArtifact(scope *jobScope, kind sequence.ArtifactKind, generate generateFunc) error {
	ctx, seq := scope.ctx, scope.seq
	if seq.Status.IsTerminal() {
		scope.logger.Debug("sequence is terminal; skipping", logging.String("status", string(seq.Status)), logging.String("kind", string(kind)))
		return nil
	}

	url := seq.ArtifactURL(kind)
	if url == "" {
		type blob struct {
			data   []byte
			format string
		}
		generated, err := retry.Do(ctx, o.settings.Retry, func(ctx context.Context) (blob, error) {
			data, format, err := generate(ctx)
			return blob{data: data, format: format}, err
		}, o.retryOptions(scope, artifactJobKind(kind))...)
		if err != nil {
			return o.failSequence(scope, string(kind)+" generation", err)
		}
		url, err = o.artifacts.Put(ctx, artifacts.Key{BookID: seq.BookID, SequenceID: seq.ID, Kind: kind}, generated.data, generated.format)
		if errors.Is(err, services.ErrValidation) {
			return o.failSequence(scope, string(kind)+" storage", err)
		}
		if err != nil {
			return infrastructure(string(kind), "store artifact", err)
		}
	}

	result, err := o.store.RecordArtifact(ctx, seq.ID, kind, url)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return infrastructure(string(kind), "record artifact", err)
	}

	attrs := []logging.Attr{
		logging.String("kind", string(kind)),
		logging.String("status", string(result.Status)),
	}
	switch {
	case result.Completed:
		scope.logger.Info("sequence completed", logging.Args(attrs...)...)
	case result.Applied:
		scope.logger.Info("artifact recorded", logging.Args(attrs...)...)
	default:
		scope.logger.Debug("artifact recorded without state change", logging.Args(attrs...)...)
	}
	if result.Completed {
		o.settled(scope.ctx, scope.logger, scope.payload.BookID, result.BookReady)
	}
	return nil
}

// settled runs after a sequence of bookID reached a terminal status. The next
// window is topped up first; the book is announced ready only when this call
// promoted it and nothing new was admitted.
func (o *Orchestrator) settled(ctx context.Context, logger *slog.Logger, bookID int64, promoted bool) {
	added, err := o.TopUp(ctx, bookID, 1)
	if err != nil {
		logging.WarnWithContext(logger, "automatic top-up failed", "top_up_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run storyloom more to enqueue the remaining windows"),
		)
	}
	if !promoted || added > 0 {
		return
	}
	logger.Info("book ready", logging.String(logging.FieldEventType, "book_ready"))
	o.notifyBook(ctx, logger, notifications.EventBookReady, bookID, notifications.Payload{})
}

func (o *Orchestrator) retryOptions(scope *jobScope, kind jobqueue.Kind) []retry.Option {
	return []retry.Option{
		retry.WithClassifier(providers.IsTransient),
		retry.OnRetry(func(attempt uint, err error) {
			scope.logger.Warn("adapter call failed; retrying",
				logging.String(logging.FieldJobKind, string(kind)),
				logging.Int("call_attempt", int(attempt)),
				logging.Error(err),
			)
		}),
	}
}

// failSequence turns a job failure into a failed sequence and acknowledges
// the job. Infrastructure errors and cancellation go back to the queue.
func (o *Orchestrator) failSequence(scope *jobScope, stage string, cause error) error {
	if services.IsInfrastructure(cause) || scope.ctx.Err() != nil {
		return cause
	}
	result, err := o.store.MarkFailed(scope.ctx, scope.seq.ID, failureReason(stage, cause))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return infrastructure(stage, "mark failed", errors.Join(cause, err))
	}
	if result.Changed {
		logging.ErrorWithContext(scope.logger, "sequence failed", "sequence_failed",
			logging.String("stage", stage),
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, hintFor(cause)),
		)
		o.notifyBook(scope.ctx, scope.logger, notifications.EventSequenceFailed, scope.payload.BookID, notifications.Payload{
			"sequence": scope.payload.SequenceNumber,
			"reason":   failureReason(stage, cause),
		})
		o.settled(scope.ctx, scope.logger, scope.payload.BookID, result.BookReady)
	}
	return nil
}

// OnExhausted fails the sequence of a job the queue gave up on.
func (o *Orchestrator) OnExhausted(ctx context.Context, job *jobqueue.Job, cause error) {
	var payload Payload
	if err := job.Decode(&payload); err != nil || payload.SequenceID == 0 {
		return
	}
	ctx = services.WithSequenceID(services.WithBookID(ctx, payload.BookID), payload.SequenceID)
	logger := logging.WithContext(ctx, o.logger)

	reason := fmt.Sprintf("%s gave up after %d attempts", job.Kind, job.Attempt)
	if cause != nil {
		reason = failureReason(reason, cause)
	}
	result, err := o.store.MarkFailed(ctx, payload.SequenceID, reason)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.ErrorWithContext(logger, "could not fail sequence of exhausted job", "sequence_fail_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the reconciliation sweep will fail it once stale"),
		)
		return
	}
	if result.Changed {
		logging.WarnWithContext(logger, "sequence failed after queue exhausted retries", "sequence_exhausted",
			logging.String("reason", reason),
		)
		o.notifyBook(ctx, logger, notifications.EventSequenceFailed, payload.BookID, notifications.Payload{
			"sequence": payload.SequenceNumber,
			"reason":   reason,
		})
		o.settled(ctx, logger, payload.BookID, result.BookReady)
	}
}

// notifyBook fills book fields into payload and publishes event.
func (o *Orchestrator) notifyBook(ctx context.Context, logger *slog.Logger, event notifications.Event, bookID int64, payload notifications.Payload) {
	payload["book_id"] = bookID
	book, err := o.store.GetBook(ctx, bookID)
	if err == nil && book != nil {
		payload["title"] = book.Title
		payload["completed"] = book.CompletedSequenceCount
		payload["total"] = book.TotalSequences
	}
	o.notify(ctx, logger, event, payload)
}

func hintFor(err error) string {
	switch {
	case errors.Is(err, services.ErrTimeout):
		return "provider call timed out; consider raising retry.call_timeout_seconds"
	case errors.Is(err, services.ErrTransient):
		return "provider kept failing transiently; check provider status and rate limits"
	case errors.Is(err, services.ErrExternalTool):
		return "provider rejected the request; check credentials and models"
	default:
		return "check logs for details"
	}
}
