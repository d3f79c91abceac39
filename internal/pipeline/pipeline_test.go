package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storyloom/internal/artifacts"
	"storyloom/internal/config"
	"storyloom/internal/jobqueue"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/providers"
	"storyloom/internal/sequence"
	"storyloom/internal/services"
	"storyloom/internal/source"
	"storyloom/internal/store"
	"storyloom/internal/sweep"
	"storyloom/internal/testsupport"
)

type harness struct {
	cfg   *config.Config
	store *store.Store
	queue *jobqueue.SQLiteQueue
	mock  *providers.Mock
	orch  *pipeline.Orchestrator
}

type harnessOption func(*pipeline.Deps)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   map[notifications.Event]notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if r.last == nil {
		r.last = map[notifications.Event]notifications.Payload{}
	}
	r.last[event] = payload
	return nil
}

func (r *recordingNotifier) count(event notifications.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func withNotifier(n notifications.Service) harnessOption {
	return func(d *pipeline.Deps) { d.Notifier = n }
}

// failingQueue rejects enqueues of the listed kinds while armed.
type failingQueue struct {
	jobqueue.Queue
	armed atomic.Bool
	kinds map[jobqueue.Kind]bool
}

func (q *failingQueue) Enqueue(ctx context.Context, kind jobqueue.Kind, payload any, opts ...jobqueue.EnqueueOption) (*jobqueue.Job, error) {
	if q.armed.Load() && q.kinds[kind] {
		return nil, errors.New("queue unavailable")
	}
	return q.Queue.Enqueue(ctx, kind, payload, opts...)
}

func withFailingQueue(fq *failingQueue) harnessOption {
	return func(d *pipeline.Deps) {
		fq.Queue = d.Queue
		d.Queue = fq
	}
}

func withStore(st *store.Store) harnessOption {
	return func(d *pipeline.Deps) { d.Store = st }
}

func withNarrator(n providers.Narrator) harnessOption {
	return func(d *pipeline.Deps) { d.Narrator = n }
}

func newHarness(t *testing.T, cfg *config.Config, opts ...harnessOption) *harness {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	q := testsupport.MustOpenQueue(t, cfg)
	fetcher, err := source.New(cfg)
	if err != nil {
		t.Fatalf("source.New: %v", err)
	}
	blobs, err := artifacts.NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("artifacts.NewFromConfig: %v", err)
	}
	mock := providers.NewMock()
	deps := pipeline.Deps{
		Store:       st,
		Queue:       q,
		Fetcher:     fetcher,
		Artifacts:   blobs,
		Narrator:    mock,
		Describer:   mock,
		Illustrator: mock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	orch, err := pipeline.New(deps, pipeline.SettingsFromConfig(cfg))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return &harness{cfg: cfg, store: deps.Store, queue: q, mock: mock, orch: orch}
}

// drain runs every claimable job to completion, one at a time.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	h.drainKinds(t, pipeline.Kinds()...)
}

// drainKinds runs claimable jobs of the given kinds only.
func (h *harness) drainKinds(t *testing.T, kinds ...jobqueue.Kind) {
	t.Helper()
	ctx := context.Background()
	handlers := h.orch.Handlers()
	for range 200 {
		progressed := false
		for _, kind := range kinds {
			job, err := h.queue.Claim(ctx, kind, time.Minute)
			if err != nil {
				t.Fatalf("Claim %s: %v", kind, err)
			}
			if job == nil {
				continue
			}
			progressed = true
			if err := handlers[kind](ctx, job); err != nil {
				t.Fatalf("handler %s: %v", kind, err)
			}
			if err := h.queue.Complete(ctx, job); err != nil {
				t.Fatalf("Complete: %v", err)
			}
		}
		if !progressed {
			return
		}
	}
	t.Fatal("queue did not drain")
}

func (h *harness) pending(t *testing.T, kind jobqueue.Kind) []*jobqueue.Job {
	t.Helper()
	jobs, err := h.queue.List(context.Background(), kind, jobqueue.StatePending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return jobs
}

func TestIngestCreatesSequencesAndEnqueuesJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"tale": "Title: A Tale\n\n" + testsupport.Words(21)}),
	)
	h := newHarness(t, cfg)

	book, err := h.orch.Ingest(context.Background(), "tale")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if book.Status != store.BookProcessing {
		t.Fatalf("expected processing book, got %s", book.Status)
	}
	if book.Title != "A Tale" {
		t.Fatalf("unexpected title %q", book.Title)
	}
	// The "Title: A Tale" header line contributes three words.
	if book.TotalSequences != 5 {
		t.Fatalf("expected 5 sequences, got %d", book.TotalSequences)
	}

	seqs, err := h.store.ListSequences(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("ListSequences: %v", err)
	}
	for i, seq := range seqs {
		if seq.Number != i || seq.Status != sequence.StatusPending || seq.EnqueuedAt == nil {
			t.Fatalf("sequence %d unexpected: number=%d status=%s enqueued=%v", i, seq.Number, seq.Status, seq.EnqueuedAt)
		}
		if i > 0 && seq.StartPosition != seqs[i-1].EndPosition {
			t.Fatalf("sequence %d does not tile: %d vs %d", i, seq.StartPosition, seqs[i-1].EndPosition)
		}
	}
	if last := seqs[len(seqs)-1]; last.EndPosition-last.StartPosition != 4 {
		t.Fatalf("expected short last window, got %d words", last.EndPosition-last.StartPosition)
	}

	jobs := h.pending(t, pipeline.KindSequenceProcessing)
	if len(jobs) != 5 {
		t.Fatalf("expected 5 sequence-processing jobs, got %d", len(jobs))
	}
	var payload pipeline.Payload
	if err := jobs[0].Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.BookID != book.ID || payload.Total != 5 || payload.RequestID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestIngestFetchFailureCreatesNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSourceFiles(map[string]string{}))
	h := newHarness(t, cfg)

	_, err := h.orch.Ingest(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	books, err := h.store.ListBooks(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 0 {
		t.Fatalf("expected no books, got %d", len(books))
	}
}

func TestIngestIsIdempotentPerSource(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(10),
		testsupport.WithSourceFiles(map[string]string{"b": testsupport.Words(30)}),
	)
	h := newHarness(t, cfg)

	first, err := h.orch.Ingest(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.orch.Ingest(context.Background(), "b")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same book, got %d and %d", first.ID, second.ID)
	}
	if got := len(h.pending(t, pipeline.KindSequenceProcessing)); got != 3 {
		t.Fatalf("expected 3 jobs after re-ingest, got %d", got)
	}
}

func TestFullFlowCompletesBook(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(4),
		testsupport.WithSourceFiles(map[string]string{"full": testsupport.Words(18)}),
	)
	h := newHarness(t, cfg)
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "full")
	if err != nil {
		t.Fatal(err)
	}
	h.drain(t)

	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookReady || book.CompletedSequenceCount != 5 {
		t.Fatalf("expected ready book with 5 completed, got %s %d", book.Status, book.CompletedSequenceCount)
	}
	seqs, err := h.store.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, seq := range seqs {
		if seq.Status != sequence.StatusCompleted || seq.AudioURL == "" || seq.ImageURL == "" || seq.SceneDescription == "" {
			t.Fatalf("sequence %d incomplete: %+v", seq.Number, seq)
		}
	}
	narrations, descriptions, illustrations := h.mock.Calls()
	if narrations != 5 || descriptions != 5 || illustrations != 5 {
		t.Fatalf("unexpected adapter calls %d/%d/%d", narrations, descriptions, illustrations)
	}
}

func TestReplayDoesNotDoubleCount(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"r": testsupport.Words(10)}),
	)
	h := newHarness(t, cfg)
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "r")
	if err != nil {
		t.Fatal(err)
	}
	h.drain(t)
	seqs, err := h.store.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}

	payload := pipeline.Payload{BookID: book.ID, SequenceID: seqs[0].ID, Total: 2}
	for _, kind := range pipeline.Kinds() {
		if _, err := h.queue.Enqueue(ctx, kind, payload); err != nil {
			t.Fatalf("Enqueue %s: %v", kind, err)
		}
	}
	h.drain(t)

	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.CompletedSequenceCount != 2 {
		t.Fatalf("replay changed completed count to %d", book.CompletedSequenceCount)
	}
	narrations, descriptions, illustrations := h.mock.Calls()
	if narrations != 2 || descriptions != 2 || illustrations != 2 {
		t.Fatalf("replay re-invoked adapters: %d/%d/%d", narrations, descriptions, illustrations)
	}
}

func TestSceneFailurePreventsImageJob(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"s": testsupport.Words(10)}),
	)
	h := newHarness(t, cfg)
	h.mock.DescribeErr = errors.New("prompt rejected by policy")
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	h.drain(t)

	seqs, err := h.store.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, seq := range seqs {
		if seq.Status != sequence.StatusFailed {
			t.Fatalf("sequence %d expected failed, got %s", seq.Number, seq.Status)
		}
		if seq.ErrorMessage == "" {
			t.Fatalf("sequence %d has no error message", seq.Number)
		}
	}
	if _, descriptions, illustrations := h.mock.Calls(); descriptions != 2 || illustrations != 0 {
		t.Fatalf("expected 2 non-retried describe calls and no illustrations, got %d/%d", descriptions, illustrations)
	}
	jobs, err := h.queue.List(ctx, pipeline.KindImageGeneration)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no image jobs, got %d", len(jobs))
	}

	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookReady || book.CompletedSequenceCount != 0 {
		t.Fatalf("expected ready book with no completions, got %s %d", book.Status, book.CompletedSequenceCount)
	}
}

type flakyNarrator struct {
	failures atomic.Int32
	calls    atomic.Int32
	next     providers.Narrator
}

func (f *flakyNarrator) Narrate(ctx context.Context, text string) (*providers.Audio, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, &providers.HTTPError{Provider: "test", StatusCode: 503, Message: "overloaded"}
	}
	return f.next.Narrate(ctx, text)
}

func TestTransientAdapterErrorsAreRetried(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"f": testsupport.Words(5)}),
	)
	flaky := &flakyNarrator{next: providers.NewMock()}
	flaky.failures.Store(2)
	h := newHarness(t, cfg, withNarrator(flaky))
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}
	h.drain(t)

	if got := flaky.calls.Load(); got != 3 {
		t.Fatalf("expected 3 narrate calls, got %d", got)
	}
	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.CompletedSequenceCount != 1 {
		t.Fatalf("expected sequence to complete after retries, count=%d", book.CompletedSequenceCount)
	}
}

func TestInitialBatchAndRequestMore(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(2),
		testsupport.WithInitialBatch(2),
		testsupport.WithAutoTopUp(false),
		testsupport.WithSourceFiles(map[string]string{"m": testsupport.Words(10)}),
	)
	h := newHarness(t, cfg)
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "m")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(h.pending(t, pipeline.KindSequenceProcessing)); got != 2 {
		t.Fatalf("expected initial batch of 2, got %d", got)
	}
	h.drain(t)

	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookReady || book.CompletedSequenceCount != 2 {
		t.Fatalf("expected ready after initial batch, got %s %d", book.Status, book.CompletedSequenceCount)
	}

	n, err := h.orch.RequestMoreSequences(ctx, book.ID, 2)
	if err != nil || n != 2 {
		t.Fatalf("RequestMoreSequences = %d, %v", n, err)
	}
	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookProcessing {
		t.Fatalf("expected book back in processing, got %s", book.Status)
	}
	jobs := h.pending(t, pipeline.KindSequenceProcessing)
	numbers := map[int]bool{}
	for _, job := range jobs {
		var p pipeline.Payload
		if err := job.Decode(&p); err != nil {
			t.Fatal(err)
		}
		numbers[p.SequenceNumber] = true
	}
	if !numbers[2] || !numbers[3] || len(numbers) != 2 {
		t.Fatalf("expected sequences 2 and 3 enqueued next, got %v", numbers)
	}

	n, err = h.orch.RequestMoreSequences(ctx, book.ID, 10)
	if err != nil || n != 1 {
		t.Fatalf("expected the last sequence, got %d, %v", n, err)
	}
	n, err = h.orch.RequestMoreSequences(ctx, book.ID, 10)
	if err != nil || n != 0 {
		t.Fatalf("expected exhausted book, got %d, %v", n, err)
	}
	h.drain(t)
	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.CompletedSequenceCount != 5 || book.Status != store.BookReady {
		t.Fatalf("expected all 5 completed, got %d %s", book.CompletedSequenceCount, book.Status)
	}

	if _, err := h.orch.RequestMoreSequences(ctx, 9999, 1); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for unknown book, got %v", err)
	}
	if _, err := h.orch.RequestMoreSequences(ctx, book.ID, 0); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero count, got %v", err)
	}
}

func TestMissingSequenceIsAcknowledged(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"gone": testsupport.Words(5)}),
	)
	h := newHarness(t, cfg)
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "gone")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.DeleteBook(ctx, book.ID); err != nil {
		t.Fatal(err)
	}
	h.drain(t)
	if n, _, _ := h.mock.Calls(); n != 0 {
		t.Fatalf("expected no adapter calls for a deleted book, got %d", n)
	}
}

func TestOnExhaustedFailsSequence(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"x": testsupport.Words(5)}),
	)
	h := newHarness(t, cfg)
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	jobs := h.pending(t, pipeline.KindSequenceProcessing)
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs))
	}
	jobs[0].Attempt = jobs[0].MaxAttempts
	h.orch.OnExhausted(ctx, jobs[0], fmt.Errorf("%w: store locked", services.ErrInfrastructure))

	seqs, err := h.store.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if seqs[0].Status != sequence.StatusFailed {
		t.Fatalf("expected failed sequence, got %s", seqs[0].Status)
	}
	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookReady {
		t.Fatalf("expected book ready once its only sequence failed, got %s", book.Status)
	}
}

func TestNotificationsFollowBookLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(4),
		testsupport.WithSourceFiles(map[string]string{"n": testsupport.Words(8)}),
	)
	rec := &recordingNotifier{}
	h := newHarness(t, cfg, withNotifier(rec))

	book, err := h.orch.Ingest(context.Background(), "n")
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.count(notifications.EventBookIngested); got != 1 {
		t.Fatalf("expected one ingest notification, got %d", got)
	}
	h.drain(t)

	if got := rec.count(notifications.EventBookReady); got != 1 {
		t.Fatalf("expected one ready notification, got %d", got)
	}
	ready := rec.last[notifications.EventBookReady]
	if ready["book_id"] != book.ID || ready["completed"] != 2 {
		t.Fatalf("unexpected ready payload %v", ready)
	}
	if got := rec.count(notifications.EventSequenceFailed); got != 0 {
		t.Fatalf("expected no failure notifications, got %d", got)
	}
}

func TestFailureThatSettlesBookAnnouncesReady(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"f": testsupport.Words(5)}),
	)
	rec := &recordingNotifier{}
	h := newHarness(t, cfg, withNotifier(rec))
	h.mock.DescribeErr = errors.New("prompt rejected by policy")

	if _, err := h.orch.Ingest(context.Background(), "f"); err != nil {
		t.Fatal(err)
	}
	h.drain(t)

	if got := rec.count(notifications.EventSequenceFailed); got != 1 {
		t.Fatalf("expected one failure notification, got %d", got)
	}
	if reason, _ := rec.last[notifications.EventSequenceFailed]["reason"].(string); reason == "" {
		t.Fatal("expected failure reason in payload")
	}
	if got := rec.count(notifications.EventBookReady); got != 1 {
		t.Fatalf("expected ready notification after the only sequence failed, got %d", got)
	}
}

func TestIngestEnqueueFailureLeavesNothingBehind(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(3),
		testsupport.WithSourceFiles(map[string]string{"e": testsupport.Words(9)}),
	)
	fq := &failingQueue{kinds: map[jobqueue.Kind]bool{pipeline.KindSequenceProcessing: true}}
	fq.armed.Store(true)
	h := newHarness(t, cfg, withFailingQueue(fq))
	ctx := context.Background()

	if _, err := h.orch.Ingest(ctx, "e"); err == nil {
		t.Fatal("expected ingest to fail when the queue rejects jobs")
	}
	books, err := h.store.ListBooks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 0 {
		t.Fatalf("expected no books after a failed ingest, got %d", len(books))
	}
	if got := len(h.pending(t, pipeline.KindSequenceProcessing)); got != 0 {
		t.Fatalf("expected no jobs after a failed ingest, got %d", got)
	}

	fq.armed.Store(false)
	book, err := h.orch.Ingest(ctx, "e")
	if err != nil {
		t.Fatalf("ingest after recovery: %v", err)
	}
	if book.TotalSequences != 3 {
		t.Fatalf("expected 3 sequences on retry, got %d", book.TotalSequences)
	}
}

func TestFanOutEnqueueFailureFailsSequence(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"f": testsupport.Words(5)}),
	)
	fq := &failingQueue{kinds: map[jobqueue.Kind]bool{pipeline.KindAudioGeneration: true}}
	h := newHarness(t, cfg, withFailingQueue(fq))
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}
	fq.armed.Store(true)
	h.drainKinds(t, pipeline.KindSequenceProcessing)

	seqs, err := h.store.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if seqs[0].Status != sequence.StatusFailed {
		t.Fatalf("expected failed sequence after fan-out failure, got %s", seqs[0].Status)
	}
	if !strings.Contains(seqs[0].ErrorMessage, "fan-out") {
		t.Fatalf("expected fan-out reason, got %q", seqs[0].ErrorMessage)
	}
	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookReady || book.CompletedSequenceCount != 0 {
		t.Fatalf("expected ready book with no completions, got %s %d", book.Status, book.CompletedSequenceCount)
	}
}

func TestExhaustedSceneRetriesPreventImageJob(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"u": testsupport.Words(5)}),
	)
	h := newHarness(t, cfg)
	h.mock.DescribeErr = &providers.HTTPError{Provider: "test", StatusCode: 503, Message: "unavailable"}
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	h.drain(t)

	_, descriptions, illustrations := h.mock.Calls()
	if descriptions != cfg.Retry.MaxAttempts {
		t.Fatalf("expected %d describe attempts, got %d", cfg.Retry.MaxAttempts, descriptions)
	}
	if illustrations != 0 {
		t.Fatalf("expected no illustrations, got %d", illustrations)
	}
	jobs, err := h.queue.List(ctx, pipeline.KindImageGeneration)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no image jobs, got %d", len(jobs))
	}
	seqs, err := h.store.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if seqs[0].Status != sequence.StatusFailed || !strings.Contains(seqs[0].ErrorMessage, "scene analysis") {
		t.Fatalf("expected scene failure, got %s %q", seqs[0].Status, seqs[0].ErrorMessage)
	}
}

func TestSweepSparesSequencesWithQueuedWork(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(4),
		testsupport.WithSourceFiles(map[string]string{"q": testsupport.Words(40)}),
	)
	h := newHarness(t, cfg)
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	admitted := cfg.Pipeline.InitialBatch
	if got := len(h.pending(t, pipeline.KindSequenceProcessing)); got != admitted {
		t.Fatalf("expected %d admitted sequences, got %d", admitted, got)
	}
	h.drainKinds(t, pipeline.KindSequenceProcessing)

	blobs, err := artifacts.NewFromConfig(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	later := func() time.Time { return time.Now().Add(16 * time.Minute) }
	sweeper, err := sweep.New(cfg, h.store, blobs,
		sweep.WithClock(later),
		sweep.WithLiveWork(h.orch.LiveSequences),
		sweep.WithTopUp(h.orch.TopUp),
	)
	if err != nil {
		t.Fatal(err)
	}

	result, err := sweeper.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Stale != 0 {
		t.Fatalf("sequences with pending audio and scene jobs were failed: %d", result.Stale)
	}

	// Drop the branch jobs without running them; the sequences are now orphaned.
	for _, kind := range []jobqueue.Kind{pipeline.KindAudioGeneration, pipeline.KindSceneAnalysis} {
		for {
			job, err := h.queue.Claim(ctx, kind, time.Minute)
			if err != nil {
				t.Fatal(err)
			}
			if job == nil {
				break
			}
			if err := h.queue.Complete(ctx, job); err != nil {
				t.Fatal(err)
			}
		}
	}
	result, err = sweeper.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if int(result.Stale) != admitted {
		t.Fatalf("expected %d orphaned sequences to fail, got %d", admitted, result.Stale)
	}
	if got := len(h.pending(t, pipeline.KindSequenceProcessing)); got != book.TotalSequences-admitted {
		t.Fatalf("expected the remaining windows to be admitted, got %d", got)
	}
	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookProcessing {
		t.Fatalf("expected book processing its refilled windows, got %s", book.Status)
	}
}

func TestCompletionTopsUpRemainingWindows(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(2),
		testsupport.WithInitialBatch(2),
		testsupport.WithSourceFiles(map[string]string{"t": testsupport.Words(10)}),
	)
	rec := &recordingNotifier{}
	h := newHarness(t, cfg, withNotifier(rec))
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(h.pending(t, pipeline.KindSequenceProcessing)); got != 2 {
		t.Fatalf("expected 2 admitted sequences, got %d", got)
	}
	h.drain(t)

	book, err = h.store.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if book.Status != store.BookReady || book.CompletedSequenceCount != 5 {
		t.Fatalf("expected all 5 sequences completed, got %s %d", book.Status, book.CompletedSequenceCount)
	}
	if n := rec.count(notifications.EventBookReady); n != 1 {
		t.Fatalf("expected one ready notification, got %d", n)
	}
}

func TestHeartbeatRefreshesInFlightSequence(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithWordsPerSequence(5),
		testsupport.WithSourceFiles(map[string]string{"h": testsupport.Words(5)}),
	)
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clocked := testsupport.MustOpenStore(t, cfg, store.WithClock(func() time.Time { return now }))
	h := newHarness(t, cfg, withStore(clocked))
	ctx := context.Background()

	book, err := h.orch.Ingest(ctx, "h")
	if err != nil {
		t.Fatal(err)
	}
	h.drainKinds(t, pipeline.KindSequenceProcessing)
	jobs := h.pending(t, pipeline.KindAudioGeneration)
	if len(jobs) != 1 {
		t.Fatalf("expected one audio job, got %d", len(jobs))
	}

	now = now.Add(10 * time.Minute)
	h.orch.Heartbeat(ctx, jobs[0])
	seqs, err := h.store.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !seqs[0].UpdatedAt.Equal(now) {
		t.Fatalf("expected heartbeat to refresh updated_at to %s, got %s", now, seqs[0].UpdatedAt)
	}
}
