package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storyloom/internal/sequence"
	"storyloom/internal/store"
	"storyloom/internal/testsupport"
)

func TestCreateBookPersistsSequences(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	book, seqs := testsupport.NewBook(t, st, "1342", 3, 4)
	if book.ID == 0 {
		t.Fatal("expected book id to be assigned")
	}
	if book.Status != store.BookPending {
		t.Fatalf("expected pending book, got %s", book.Status)
	}
	if book.TotalSequences != 3 || book.CompletedSequenceCount != 0 {
		t.Fatalf("unexpected totals: %+v", book)
	}
	if len(seqs) != 3 {
		t.Fatalf("expected 3 sequences, got %d", len(seqs))
	}
	for i, seq := range seqs {
		if seq.Number != i {
			t.Fatalf("sequence %d has number %d", i, seq.Number)
		}
		if seq.Status != sequence.StatusPending {
			t.Fatalf("sequence %d status %s", i, seq.Status)
		}
		if seq.EnqueuedAt != nil {
			t.Fatalf("sequence %d should not be enqueued yet", i)
		}
	}
	if seqs[1].StartPosition != seqs[0].EndPosition {
		t.Fatalf("sequences do not tile: %d vs %d", seqs[1].StartPosition, seqs[0].EndPosition)
	}

	found, err := st.FindBookBySource(context.Background(), "1342")
	if err != nil {
		t.Fatalf("FindBookBySource: %v", err)
	}
	if found == nil || found.ID != book.ID {
		t.Fatalf("expected to find book %d, got %+v", book.ID, found)
	}
}

func TestCreateBookRejectsDuplicatesAndGaps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewBook(t, st, "84", 1, 2)
	_, err := st.CreateBook(ctx, store.NewBook{SourceID: "84", WordsPerSequence: 2}, []store.NewSequence{
		{Number: 0, Content: "a b", StartPosition: 0, EndPosition: 2},
	})
	if !errors.Is(err, store.ErrBookExists) {
		t.Fatalf("expected ErrBookExists, got %v", err)
	}

	_, err = st.CreateBook(ctx, store.NewBook{SourceID: "85", WordsPerSequence: 2}, []store.NewSequence{
		{Number: 0, Content: "a b", StartPosition: 0, EndPosition: 2},
		{Number: 2, Content: "c d", StartPosition: 2, EndPosition: 4},
	})
	if err == nil {
		t.Fatal("expected gap in numbering to be rejected")
	}

	_, err = st.CreateBook(ctx, store.NewBook{SourceID: "86", WordsPerSequence: 2}, []store.NewSequence{
		{Number: 0, Content: "a b", StartPosition: 0, EndPosition: 2},
		{Number: 1, Content: "c d", StartPosition: 3, EndPosition: 5},
	})
	if err == nil {
		t.Fatal("expected overlapping offsets to be rejected")
	}

	books, err := st.ListBooks(ctx)
	if err != nil {
		t.Fatalf("ListBooks: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("expected rejected books to leave no rows, got %d books", len(books))
	}
}

func TestReserveSequencesInBatches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	book, _ := testsupport.NewBook(t, st, "11", 5, 3)

	first, err := st.ReserveSequences(ctx, book.ID, 2)
	if err != nil {
		t.Fatalf("ReserveSequences: %v", err)
	}
	if len(first) != 2 || first[0].Number != 0 || first[1].Number != 1 {
		t.Fatalf("unexpected first batch: %+v", first)
	}
	for _, seq := range first {
		if seq.EnqueuedAt == nil {
			t.Fatalf("sequence %d should carry enqueued_at", seq.Number)
		}
	}

	fetched, err := st.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if fetched.Status != store.BookProcessing {
		t.Fatalf("expected processing book, got %s", fetched.Status)
	}

	rest, err := st.ReserveSequences(ctx, book.ID, 0)
	if err != nil {
		t.Fatalf("ReserveSequences rest: %v", err)
	}
	if len(rest) != 3 || rest[0].Number != 2 {
		t.Fatalf("unexpected remaining batch: %+v", rest)
	}

	none, err := st.ReserveSequences(ctx, book.ID, 0)
	if err != nil {
		t.Fatalf("ReserveSequences empty: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected nothing left to reserve, got %d", len(none))
	}

	if err := st.ReleaseSequences(ctx, book.ID, rest[0].ID); err != nil {
		t.Fatalf("ReleaseSequences: %v", err)
	}
	again, err := st.ReserveSequences(ctx, book.ID, 0)
	if err != nil {
		t.Fatalf("ReserveSequences after release: %v", err)
	}
	if len(again) != 1 || again[0].ID != rest[0].ID {
		t.Fatalf("expected released sequence to be reservable again, got %+v", again)
	}
}

func TestStartProcessingIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	_, seqs := testsupport.NewBook(t, st, "12", 1, 3)
	id := seqs[0].ID

	status, changed, err := st.StartProcessing(ctx, id)
	if err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	if !changed || status != sequence.StatusProcessing {
		t.Fatalf("expected first call to move to processing, got %s changed=%v", status, changed)
	}

	status, changed, err = st.StartProcessing(ctx, id)
	if err != nil {
		t.Fatalf("StartProcessing replay: %v", err)
	}
	if changed || status != sequence.StatusProcessing {
		t.Fatalf("expected replay to change nothing, got %s changed=%v", status, changed)
	}

	if _, _, err := st.StartProcessing(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing sequence, got %v", err)
	}
}

func TestRecordArtifactConvergesOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	book, seqs := testsupport.NewBook(t, st, "13", 1, 3)
	if _, err := st.ReserveSequences(ctx, book.ID, 0); err != nil {
		t.Fatalf("ReserveSequences: %v", err)
	}
	id := seqs[0].ID
	if _, _, err := st.StartProcessing(ctx, id); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}

	res, err := st.RecordArtifact(ctx, id, sequence.ArtifactAudio, "file:///a.mp3")
	if err != nil {
		t.Fatalf("RecordArtifact audio: %v", err)
	}
	if !res.Applied || res.Status != sequence.StatusAudioComplete || res.Completed {
		t.Fatalf("unexpected audio result: %+v", res)
	}

	res, err = st.RecordArtifact(ctx, id, sequence.ArtifactImage, "file:///a.png")
	if err != nil {
		t.Fatalf("RecordArtifact image: %v", err)
	}
	if !res.Completed || res.Status != sequence.StatusCompleted || !res.BookReady {
		t.Fatalf("expected completion and ready book, got %+v", res)
	}

	res, err = st.RecordArtifact(ctx, id, sequence.ArtifactImage, "file:///a.png")
	if err != nil {
		t.Fatalf("RecordArtifact replay: %v", err)
	}
	if res.Applied || res.Completed {
		t.Fatalf("expected replay to be ignored, got %+v", res)
	}

	fetched, err := st.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if fetched.CompletedSequenceCount != 1 {
		t.Fatalf("expected completed count 1, got %d", fetched.CompletedSequenceCount)
	}
	if fetched.Status != store.BookReady {
		t.Fatalf("expected ready book, got %s", fetched.Status)
	}

	seq, err := st.GetSequence(ctx, id)
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if seq.AudioURL != "file:///a.mp3" || seq.ImageURL != "file:///a.png" {
		t.Fatalf("unexpected artifact urls: %q %q", seq.AudioURL, seq.ImageURL)
	}
}

func TestRecordArtifactConcurrentBranchesComplete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		book, seqs := testsupport.NewBook(t, st, "race-"+string(rune('a'+round)), 1, 2)
		if _, err := st.ReserveSequences(ctx, book.ID, 0); err != nil {
			t.Fatalf("ReserveSequences: %v", err)
		}
		id := seqs[0].ID
		if _, _, err := st.StartProcessing(ctx, id); err != nil {
			t.Fatalf("StartProcessing: %v", err)
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			completes int
			errs      []error
		)
		for _, kind := range []sequence.ArtifactKind{sequence.ArtifactAudio, sequence.ArtifactImage} {
			wg.Add(1)
			go func(kind sequence.ArtifactKind) {
				defer wg.Done()
				res, err := st.RecordArtifact(ctx, id, kind, "file:///"+string(kind))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if res.Completed {
					completes++
				}
			}(kind)
		}
		wg.Wait()
		if len(errs) > 0 {
			t.Fatalf("round %d: RecordArtifact errors: %v", round, errs)
		}
		if completes != 1 {
			t.Fatalf("round %d: expected exactly one completing call, got %d", round, completes)
		}
		seq, err := st.GetSequence(ctx, id)
		if err != nil {
			t.Fatalf("GetSequence: %v", err)
		}
		if seq.Status != sequence.StatusCompleted {
			t.Fatalf("round %d: expected completed, got %s", round, seq.Status)
		}
	}
}

func TestConcurrentFailuresSettleBookOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		book, seqs := testsupport.NewBook(t, st, "settle-"+string(rune('a'+round)), 2, 2)
		if _, err := st.ReserveSequences(ctx, book.ID, 0); err != nil {
			t.Fatalf("ReserveSequences: %v", err)
		}
		for _, seq := range seqs {
			if _, _, err := st.StartProcessing(ctx, seq.ID); err != nil {
				t.Fatalf("StartProcessing: %v", err)
			}
		}

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			ready int
			errs  []error
		)
		for _, seq := range seqs {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				res, err := st.MarkFailed(ctx, id, "provider down")
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if res.BookReady {
					ready++
				}
			}(seq.ID)
		}
		wg.Wait()
		if len(errs) > 0 {
			t.Fatalf("round %d: MarkFailed errors: %v", round, errs)
		}
		if ready != 1 {
			t.Fatalf("round %d: expected exactly one call to settle the book, got %d", round, ready)
		}
	}
}

func TestCompletedCountUnderConcurrentSequences(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const n = 12
	book, seqs := testsupport.NewBook(t, st, "count", n, 2)
	if _, err := st.ReserveSequences(ctx, book.ID, 0); err != nil {
		t.Fatalf("ReserveSequences: %v", err)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, n*3)
	for _, seq := range seqs {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, _, err := st.StartProcessing(ctx, id); err != nil {
				errCh <- err
				return
			}
			if _, err := st.RecordArtifact(ctx, id, sequence.ArtifactAudio, "file:///audio"); err != nil {
				errCh <- err
			}
			if _, err := st.RecordArtifact(ctx, id, sequence.ArtifactImage, "file:///image"); err != nil {
				errCh <- err
			}
		}(seq.ID)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent update failed: %v", err)
	}

	fetched, err := st.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if fetched.CompletedSequenceCount != n {
		t.Fatalf("expected completed count %d, got %d", n, fetched.CompletedSequenceCount)
	}
	if fetched.Status != store.BookReady {
		t.Fatalf("expected ready book, got %s", fetched.Status)
	}
}

func TestFailedSequenceKeepsLateArtifactWithoutCompleting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	book, seqs := testsupport.NewBook(t, st, "late", 1, 2)
	if _, err := st.ReserveSequences(ctx, book.ID, 0); err != nil {
		t.Fatalf("ReserveSequences: %v", err)
	}
	id := seqs[0].ID
	if _, _, err := st.StartProcessing(ctx, id); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}
	failed, err := st.MarkFailed(ctx, id, "speech adapter unavailable")
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if !failed.Changed {
		t.Fatal("expected MarkFailed to change the sequence")
	}
	if failed.BookReady {
		t.Fatal("book still has an in-flight sequence; it must not be ready")
	}
	if again, _ := st.MarkFailed(ctx, id, "again"); again.Changed || again.BookReady {
		t.Fatalf("expected second MarkFailed to be a no-op, got %+v", again)
	}

	res, err := st.RecordArtifact(ctx, id, sequence.ArtifactImage, "file:///late.png")
	if err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}
	if res.Applied || res.Status != sequence.StatusFailed {
		t.Fatalf("expected failed sequence to stay failed, got %+v", res)
	}

	seq, err := st.GetSequence(ctx, id)
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if seq.ImageURL != "file:///late.png" {
		t.Fatalf("expected late artifact row to be kept for cleanup, got %q", seq.ImageURL)
	}
	if seq.ErrorMessage != "speech adapter unavailable" {
		t.Fatalf("unexpected error message %q", seq.ErrorMessage)
	}

	fetched, err := st.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if fetched.Status != store.BookReady || fetched.CompletedSequenceCount != 0 {
		t.Fatalf("expected ready book with zero completions, got %+v", fetched)
	}
}

func TestFailStaleAndPurge(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := testsupport.MustOpenStore(t, cfg, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	book, seqs := testsupport.NewBook(t, st, "stale", 3, 2)
	if _, err := st.ReserveSequences(ctx, book.ID, 0); err != nil {
		t.Fatalf("ReserveSequences: %v", err)
	}
	for _, seq := range seqs[:2] {
		if _, _, err := st.StartProcessing(ctx, seq.ID); err != nil {
			t.Fatalf("StartProcessing: %v", err)
		}
	}
	if _, err := st.RecordArtifact(ctx, seqs[1].ID, sequence.ArtifactAudio, "file:///stale.mp3"); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}

	now = now.Add(20 * time.Minute)
	if _, _, err := st.StartProcessing(ctx, seqs[2].ID); err != nil {
		t.Fatalf("StartProcessing fresh: %v", err)
	}

	cutoff := now.Add(-15 * time.Minute)
	stale, err := st.FailStale(ctx, cutoff, nil)
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if stale.Failed != 2 || stale.Books[book.ID] != 2 {
		t.Fatalf("expected 2 stale sequences, got %+v", stale)
	}
	if len(stale.ReadyBooks) != 0 {
		t.Fatalf("fresh sequence is still in flight; book must not be ready, got %v", stale.ReadyBooks)
	}
	if again, err := st.FailStale(ctx, cutoff, nil); err != nil || again.Failed != 0 {
		t.Fatalf("expected second FailStale to find nothing, got %+v, %v", again, err)
	}

	fresh, err := st.GetSequence(ctx, seqs[2].ID)
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if fresh.Status != sequence.StatusProcessing {
		t.Fatalf("expected fresh sequence untouched, got %s", fresh.Status)
	}
	staleSeq, err := st.GetSequence(ctx, seqs[0].ID)
	if err != nil {
		t.Fatalf("GetSequence stale: %v", err)
	}
	if staleSeq.Status != sequence.StatusFailed || staleSeq.ErrorMessage != store.StaleReason {
		t.Fatalf("unexpected stale sequence: %s %q", staleSeq.Status, staleSeq.ErrorMessage)
	}

	// Failed at now; nothing crosses a 24h retention yet.
	candidates, err := st.PurgeCandidates(ctx, now.Add(-24*time.Hour), 0)
	if err != nil {
		t.Fatalf("PurgeCandidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates inside retention, got %d", len(candidates))
	}

	now = now.Add(25 * time.Hour)
	retentionCutoff := now.Add(-24 * time.Hour)
	candidates, err = st.PurgeCandidates(ctx, retentionCutoff, 0)
	if err != nil {
		t.Fatalf("PurgeCandidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 purge candidates, got %d", len(candidates))
	}
	var withArtifact *store.PurgeCandidate
	for i := range candidates {
		if candidates[i].SequenceID == seqs[1].ID {
			withArtifact = &candidates[i]
		}
	}
	if withArtifact == nil || len(withArtifact.ArtifactURLs) != 1 || withArtifact.ArtifactURLs[0] != "file:///stale.mp3" {
		t.Fatalf("expected artifact url on candidate, got %+v", withArtifact)
	}

	for _, candidate := range candidates {
		removed, err := st.PurgeSequence(ctx, candidate.SequenceID, retentionCutoff)
		if err != nil {
			t.Fatalf("PurgeSequence: %v", err)
		}
		if !removed {
			t.Fatalf("expected sequence %d to be purged", candidate.SequenceID)
		}
		removed, err = st.PurgeSequence(ctx, candidate.SequenceID, retentionCutoff)
		if err != nil {
			t.Fatalf("PurgeSequence replay: %v", err)
		}
		if removed {
			t.Fatalf("expected second purge of %d to be a no-op", candidate.SequenceID)
		}
	}

	remaining, err := st.ListSequences(ctx, book.ID)
	if err != nil {
		t.Fatalf("ListSequences: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != seqs[2].ID {
		t.Fatalf("expected only the fresh sequence to remain, got %+v", remaining)
	}

	// Fresh sequence was updated at the pre-jump clock; it is now stale too.
	last, err := st.FailStale(ctx, now.Add(-15*time.Minute), nil)
	if err != nil || last.Failed != 1 {
		t.Fatalf("expected the remaining in-flight sequence to go stale, got %+v, %v", last, err)
	}
	if len(last.ReadyBooks) != 1 || last.ReadyBooks[0] != book.ID {
		t.Fatalf("expected this pass to settle the book, got %v", last.ReadyBooks)
	}
	fetched, err := st.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("GetBook: %v", err)
	}
	if fetched.Status != store.BookReady {
		t.Fatalf("expected book ready once nothing is in flight, got %s", fetched.Status)
	}
	if fetched.TotalSequences != 3 {
		t.Fatalf("expected total_sequences to stay 3 after purge, got %d", fetched.TotalSequences)
	}
}

func TestFailStaleSkipsSequencesWithLiveWork(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := testsupport.MustOpenStore(t, cfg, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	book, seqs := testsupport.NewBook(t, st, "live", 2, 2)
	if _, err := st.ReserveSequences(ctx, book.ID, 0); err != nil {
		t.Fatalf("ReserveSequences: %v", err)
	}
	for _, seq := range seqs {
		if _, _, err := st.StartProcessing(ctx, seq.ID); err != nil {
			t.Fatalf("StartProcessing: %v", err)
		}
	}

	now = now.Add(20 * time.Minute)
	live := map[int64]struct{}{seqs[0].ID: {}}
	stale, err := st.FailStale(ctx, now.Add(-15*time.Minute), live)
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if stale.Failed != 1 {
		t.Fatalf("expected only the sequence without live work to fail, got %+v", stale)
	}
	kept, err := st.GetSequence(ctx, seqs[0].ID)
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if kept.Status != sequence.StatusProcessing {
		t.Fatalf("expected sequence with queued work to stay processing, got %s", kept.Status)
	}
	lost, err := st.GetSequence(ctx, seqs[1].ID)
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if lost.Status != sequence.StatusFailed {
		t.Fatalf("expected orphaned sequence to fail, got %s", lost.Status)
	}
}

func TestTouchKeepsInFlightSequenceFresh(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := testsupport.MustOpenStore(t, cfg, store.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	book, seqs := testsupport.NewBook(t, st, "touch", 2, 2)
	if _, err := st.ReserveSequences(ctx, book.ID, 0); err != nil {
		t.Fatalf("ReserveSequences: %v", err)
	}
	if touched, err := st.Touch(ctx, seqs[0].ID); err != nil || touched {
		t.Fatalf("pending sequences are not in flight, got %v, %v", touched, err)
	}
	for _, seq := range seqs {
		if _, _, err := st.StartProcessing(ctx, seq.ID); err != nil {
			t.Fatalf("StartProcessing: %v", err)
		}
	}

	now = now.Add(10 * time.Minute)
	if touched, err := st.Touch(ctx, seqs[0].ID); err != nil || !touched {
		t.Fatalf("Touch = %v, %v", touched, err)
	}
	now = now.Add(10 * time.Minute)
	stale, err := st.FailStale(ctx, now.Add(-15*time.Minute), nil)
	if err != nil {
		t.Fatalf("FailStale: %v", err)
	}
	if stale.Failed != 1 {
		t.Fatalf("expected only the untouched sequence to go stale, got %+v", stale)
	}
	seq, err := st.GetSequence(ctx, seqs[0].ID)
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if seq.Status != sequence.StatusProcessing {
		t.Fatalf("expected touched sequence to stay processing, got %s", seq.Status)
	}
}

func TestDeleteBookCascades(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	book, seqs := testsupport.NewBook(t, st, "gone", 2, 2)
	if err := st.SaveScene(ctx, seqs[0].ID, "a lantern-lit kitchen"); err != nil {
		t.Fatalf("SaveScene: %v", err)
	}
	removed, err := st.DeleteBook(ctx, book.ID)
	if err != nil || !removed {
		t.Fatalf("DeleteBook: removed=%v err=%v", removed, err)
	}
	seq, err := st.GetSequence(ctx, seqs[0].ID)
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if seq != nil {
		t.Fatalf("expected sequence to be removed with its book, got %+v", seq)
	}
}

func TestHealthAndCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	book, seqs := testsupport.NewBook(t, st, "health", 3, 2)
	if _, err := st.ReserveSequences(ctx, book.ID, 2); err != nil {
		t.Fatalf("ReserveSequences: %v", err)
	}
	if _, _, err := st.StartProcessing(ctx, seqs[0].ID); err != nil {
		t.Fatalf("StartProcessing: %v", err)
	}

	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Books != 1 || health.Total != 3 || health.InFlight != 1 || health.Pending != 2 || health.Unenqueued != 1 {
		t.Fatalf("unexpected health summary: %+v", health)
	}

	db, err := st.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !db.DatabaseExists || !db.DatabaseReadable || !db.IntegrityCheck || db.SchemaVersion != 1 {
		t.Fatalf("unexpected database health: %+v", db)
	}
}

func TestParseBookStatus(t *testing.T) {
	if status, ok := store.ParseBookStatus(" Ready "); !ok || status != store.BookReady {
		t.Fatalf("expected ready, got %q ok=%v", status, ok)
	}
	if _, ok := store.ParseBookStatus("archived"); ok {
		t.Fatal("expected archived to be rejected")
	}
}
