package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"podforge/internal/adapter/repo"
	"podforge/internal/domain"
	"podforge/internal/progress"
	"podforge/internal/provider"
)

func newTestReconciler(jobs domain.JobRepository, store *fakeStore, fetcher *fakeFetcher) (*Reconciler, *recordingPublisher) {
	events := &recordingPublisher{}
	opts := ReconcilerOptions{
		Jobs:   jobs,
		Events: events,
		Logger: zerolog.Nop(),
	}
	if store != nil {
		opts.Store = store
	}
	if fetcher != nil {
		opts.Fetcher = fetcher
	}
	return NewReconciler(opts), events
}

func okCallback(requestID, url string) provider.Callback {
	return provider.Callback{
		RequestID: requestID,
		Status:    provider.CallbackStatusOK,
		Payload:   &provider.CallbackPayload{URL: url},
	}
}

func TestHandleCallbackConvergesUnderPermutationAndDuplication(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	job := seedJob(jobs, "job-perm", domain.JobKindAudio, 3)
	rec, events := newTestReconciler(jobs, nil, nil)

	// Out of order, with a duplicate in the middle.
	order := []int{2, 0, 0, 1}
	for _, i := range order {
		cb := okCallback(fmt.Sprintf("req-%d", i), fmt.Sprintf("https://provider/result-%d.wav", i))
		if err := rec.HandleCallback(ctx, cb); err != nil {
			t.Fatalf("callback for chunk %d: %v", i, err)
		}
	}

	got, err := jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	for i, ch := range got.Chunks {
		want := fmt.Sprintf("https://provider/result-%d.wav", i)
		if ch.ArtifactURL != want {
			t.Fatalf("chunk %d artifact = %q, want %q", i, ch.ArtifactURL, want)
		}
	}
	if done := events.doneEvents(); len(done) != 1 {
		t.Fatalf("done events = %d, want exactly 1", len(done))
	}
}

func TestHandleCallbackAfterTerminalIsNoOp(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	job := seedJob(jobs, "job-idem", domain.JobKindAudio, 1)
	rec, events := newTestReconciler(jobs, nil, nil)

	cb := okCallback("req-0", "https://provider/result-0.wav")
	if err := rec.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := rec.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	got, _ := jobs.Get(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if done := events.doneEvents(); len(done) != 1 {
		t.Fatalf("done events = %d, want 1 after redelivery", len(done))
	}
}

func TestHandleCallbackConcurrentChunksLoseNoUpdate(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	job := seedJob(jobs, "job-race", domain.JobKindAudio, 2)
	rec, events := newTestReconciler(jobs, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cb := okCallback(fmt.Sprintf("req-%d", i), fmt.Sprintf("https://provider/result-%d.wav", i))
			errs[i] = rec.HandleCallback(ctx, cb)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("callback %d: %v", i, err)
		}
	}

	got, _ := jobs.Get(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	for i, ch := range got.Chunks {
		if ch.ArtifactURL == "" {
			t.Fatalf("chunk %d lost its artifact under concurrency", i)
		}
	}
	if done := events.doneEvents(); len(done) != 1 {
		t.Fatalf("done events = %d, want exactly 1", len(done))
	}
}

func TestHandleCallbackUnmatched(t *testing.T) {
	jobs := repo.NewJobRepositoryMemory()
	rec, _ := newTestReconciler(jobs, nil, nil)

	err := rec.HandleCallback(context.Background(), okCallback("req-unknown", "https://provider/x.wav"))
	if !errors.Is(err, domain.ErrUnmatchedCallback) {
		t.Fatalf("error = %v, want ErrUnmatchedCallback", err)
	}

	err = rec.HandleCallback(context.Background(), provider.Callback{Status: provider.CallbackStatusOK})
	if !errors.Is(err, domain.ErrUnmatchedCallback) {
		t.Fatalf("empty request id: error = %v, want ErrUnmatchedCallback", err)
	}
}

func TestHandleCallbackFailureFailsJobAndSticks(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	job := seedJob(jobs, "job-fail", domain.JobKindAudio, 2)
	rec, events := newTestReconciler(jobs, nil, nil)

	fail := provider.Callback{RequestID: "req-1", Status: provider.CallbackStatusError, Error: "synthesis crashed"}
	if err := rec.HandleCallback(ctx, fail); err != nil {
		t.Fatalf("failure callback: %v", err)
	}

	got, _ := jobs.Get(ctx, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error != "synthesis crashed" {
		t.Fatalf("error message = %q", got.Error)
	}

	// A late success for the other chunk must not revive the job.
	if err := rec.HandleCallback(ctx, okCallback("req-0", "https://provider/result-0.wav")); err != nil {
		t.Fatalf("late success: %v", err)
	}
	got, _ = jobs.Get(ctx, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("terminal status reverted to %s", got.Status)
	}

	var failed int
	for _, ev := range events.snapshot() {
		if ev.Type == progress.EventJobFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("failure events = %d, want 1", failed)
	}
}

func TestHandleCallbackMissingPayloadFailsJob(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	job := seedJob(jobs, "job-empty", domain.JobKindAudio, 1)
	rec, _ := newTestReconciler(jobs, nil, nil)

	cb := provider.Callback{RequestID: "req-0", Status: provider.CallbackStatusOK}
	if err := rec.HandleCallback(ctx, cb); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	got, _ := jobs.Get(ctx, job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}

func TestHandleCallbackStorageFailureKeepsProviderURL(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	job := seedJob(jobs, "job-store", domain.JobKindAudio, 2)
	store := newFakeStore()
	store.putErr = errors.New("disk full")
	rec, _ := newTestReconciler(jobs, store, &fakeFetcher{})

	if err := rec.HandleCallback(ctx, okCallback("req-0", "https://provider/result-0.wav")); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	got, _ := jobs.Get(ctx, job.ID)
	ch, _ := got.ChunkAt(0)
	if ch.ArtifactURL != "https://provider/result-0.wav" {
		t.Fatalf("artifact = %q, want provider url fallback", ch.ArtifactURL)
	}
	if got.Status != domain.JobStatusGenerating {
		t.Fatalf("status = %s, want generating", got.Status)
	}
}

func TestHandleCallbackAudioAssembly(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	job := seedJob(jobs, "job-audio", domain.JobKindAudio, 2)
	store := newFakeStore()
	fetcher := &fakeFetcher{data: map[string][]byte{
		store.PublicURL("jobs/" + job.ID + "/chunk-000.wav"): wavBytes([]byte{1, 1, 1, 1}),
		store.PublicURL("jobs/" + job.ID + "/chunk-001.wav"): wavBytes([]byte{2, 2, 2, 2}),
	}}
	rec, events := newTestReconciler(jobs, store, fetcher)

	for i := 0; i < 2; i++ {
		cb := okCallback(fmt.Sprintf("req-%d", i), fmt.Sprintf("https://provider/result-%d.wav", i))
		if err := rec.HandleCallback(ctx, cb); err != nil {
			t.Fatalf("callback %d: %v", i, err)
		}
	}

	finalKey := "jobs/" + job.ID + "/final.wav"
	merged, ok := store.writes[finalKey]
	if !ok {
		t.Fatalf("assembled artifact not stored under %s", finalKey)
	}
	if len(merged) != 44+8 {
		t.Fatalf("merged size = %d, want %d", len(merged), 44+8)
	}

	got, _ := jobs.Get(ctx, job.ID)
	if got.ArtifactURL != store.PublicURL(finalKey) {
		t.Fatalf("job artifact = %q, want %q", got.ArtifactURL, store.PublicURL(finalKey))
	}

	done := events.doneEvents()
	if len(done) != 1 {
		t.Fatalf("done events = %d, want 1", len(done))
	}
	if done[0].ArtifactURL != store.PublicURL(finalKey) || len(done[0].Chunks) != 2 {
		t.Fatalf("completion event incomplete: %+v", done[0])
	}
}

func TestHandleCallbackNilFetcherFallsBackToHTTP(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	job := seedJob(jobs, "job-httpfetch", domain.JobKindAudio, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(wavBytes([]byte{7, 7, 7, 7}))
	}))
	defer srv.Close()

	// Uploads fail so the chunks keep their provider URLs, which point at
	// the test server. Assembly must then fetch them over plain HTTP even
	// though no fetcher was configured.
	store := newFakeStore()
	store.putErr = errors.New("bucket unavailable")
	events := &recordingPublisher{}
	rec := NewReconciler(ReconcilerOptions{
		Jobs:   jobs,
		Store:  store,
		Events: events,
		Logger: zerolog.Nop(),
	})

	for i := 0; i < 2; i++ {
		cb := okCallback(fmt.Sprintf("req-%d", i), srv.URL+fmt.Sprintf("/result-%d.wav", i))
		if err := rec.HandleCallback(ctx, cb); err != nil {
			t.Fatalf("callback %d: %v", i, err)
		}
	}

	got, _ := jobs.Get(ctx, job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	finalKey := "jobs/" + job.ID + "/final.wav"
	merged, ok := store.writes[finalKey]
	if !ok {
		t.Fatalf("assembled artifact not stored under %s", finalKey)
	}
	if len(merged) != 44+8 {
		t.Fatalf("merged size = %d, want %d", len(merged), 44+8)
	}
	if got.ArtifactURL != store.PublicURL(finalKey) {
		t.Fatalf("job artifact = %q, want %q", got.ArtifactURL, store.PublicURL(finalKey))
	}
}

func TestHandleCallbackConflictExhausted(t *testing.T) {
	ctx := context.Background()
	jobs := repo.NewJobRepositoryMemory()
	seedJob(jobs, "job-conflict", domain.JobKindAudio, 1)
	rec, _ := newTestReconciler(&conflictRepo{JobRepository: jobs}, nil, nil)

	err := rec.HandleCallback(ctx, okCallback("req-0", "https://provider/result-0.wav"))
	if !errors.Is(err, domain.ErrConflictExhausted) {
		t.Fatalf("error = %v, want ErrConflictExhausted", err)
	}
}
