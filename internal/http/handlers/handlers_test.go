package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"podforge/internal/adapter/repo"
	"podforge/internal/domain"
	"podforge/internal/http/handlers"
	"podforge/internal/http/httpapi"
	"podforge/internal/infra"
	"podforge/internal/orchestrator"
	"podforge/internal/progress"
	"podforge/internal/provider"
)

type stubProvider struct{}

func (stubProvider) Submit(ctx context.Context, in provider.SubmitInput) (string, error) {
	return "", errors.New("submission not available in tests")
}

func (stubProvider) PullStatus(ctx context.Context, requestID string) (*provider.PullResult, error) {
	return &provider.PullResult{Status: provider.StatusInProgress}, nil
}

func newTestServer(t *testing.T) (http.Handler, *repo.JobRepositoryMemory) {
	t.Helper()
	jobs := repo.NewJobRepositoryMemory()
	broker := progress.NewBroker()
	logger := zerolog.Nop()

	reconciler := orchestrator.NewReconciler(orchestrator.ReconcilerOptions{
		Jobs:   jobs,
		Events: broker,
		Logger: logger,
	})
	app := &handlers.App{
		Cfg:        &infra.Config{RateLimitPerMin: 1000, StuckJobAge: 10 * time.Minute},
		Logger:     logger,
		Service:    orchestrator.NewService(jobs),
		Reconciler: reconciler,
		Recoverer:  orchestrator.NewRecoverer(jobs, stubProvider{}, reconciler, logger),
		Broker:     broker,
	}
	return httpapi.NewRouter(app, ""), jobs
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid json response %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return rr, out
}

func seedGeneratingJob(t *testing.T, jobs *repo.JobRepositoryMemory, id, parentID string, reqIDs ...string) {
	t.Helper()
	now := time.Now().UTC()
	job := &domain.GenerationJob{
		ID:                 id,
		Kind:               domain.JobKindAudio,
		ParentID:           parentID,
		Status:             domain.JobStatusGenerating,
		ExternalRequestIDs: reqIDs,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for i, reqID := range reqIDs {
		job.Chunks = append(job.Chunks, domain.Chunk{Index: i, SourceText: "seg", ExternalRequestID: reqID})
	}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t)
	rr, body := doJSON(t, h, http.MethodGet, "/v1/healthz", "")
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("code=%d body=%v", rr.Code, body)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	h, _ := newTestServer(t)

	rr, body := doJSON(t, h, http.MethodPost, "/v1/jobs",
		`{"kind":"audio","parent_id":"ep-1","chunks":[{"text":"part one"},{"text":"part two"}]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create code = %d, body = %v", rr.Code, body)
	}
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("no job_id in %v", body)
	}
	if body["status"] != "queued" || body["chunks"] != float64(2) {
		t.Fatalf("create body = %v", body)
	}

	rr, body = doJSON(t, h, http.MethodGet, "/v1/jobs/"+jobID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get code = %d", rr.Code)
	}
	if body["id"] != jobID || body["parent_id"] != "ep-1" || body["status"] != "queued" {
		t.Fatalf("get body = %v", body)
	}
	chunks, _ := body["chunks"].([]any)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %v", body["chunks"])
	}
}

func TestCreateJobValidation(t *testing.T) {
	h, _ := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"unknown kind", `{"kind":"hologram","chunks":[{"text":"x"}]}`},
		{"no chunks", `{"kind":"audio","chunks":[]}`},
		{"audio chunk without text", `{"kind":"audio","chunks":[{"label":"a"}]}`},
		{"video chunk without media url", `{"kind":"video","chunks":[{"text":"x"}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr, _ := doJSON(t, h, http.MethodPost, "/v1/jobs", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("code = %d, want 400", rr.Code)
			}
		})
	}
}

func TestGetJobNotFound(t *testing.T) {
	h, _ := newTestServer(t)
	rr, _ := doJSON(t, h, http.MethodGet, "/v1/jobs/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rr.Code)
	}
}

func TestDeleteJobs(t *testing.T) {
	h, jobs := newTestServer(t)
	seedGeneratingJob(t, jobs, "j1", "ep-1", "req-a")
	seedGeneratingJob(t, jobs, "j2", "ep-1", "req-b")
	seedGeneratingJob(t, jobs, "j3", "ep-2", "req-c")

	rr, _ := doJSON(t, h, http.MethodDelete, "/v1/jobs", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing parent_id: code = %d, want 400", rr.Code)
	}

	rr, body := doJSON(t, h, http.MethodDelete, "/v1/jobs?parent_id=ep-1", "")
	if rr.Code != http.StatusOK || body["deleted"] != float64(2) {
		t.Fatalf("code=%d body=%v", rr.Code, body)
	}
}

func TestCallbackUnmatchedIsAcknowledged(t *testing.T) {
	h, _ := newTestServer(t)
	rr, body := doJSON(t, h, http.MethodPost, "/v1/callbacks/generation",
		`{"request_id":"req-unknown","status":"OK","payload":{"url":"https://provider/x.wav"}}`)
	if rr.Code != http.StatusOK || body["status"] != "ignored" {
		t.Fatalf("code=%d body=%v", rr.Code, body)
	}
}

func TestCallbackCompletesJob(t *testing.T) {
	h, jobs := newTestServer(t)
	seedGeneratingJob(t, jobs, "j1", "ep-1", "req-a")

	rr, body := doJSON(t, h, http.MethodPost, "/v1/callbacks/generation",
		`{"request_id":"req-a","status":"OK","payload":{"url":"https://provider/result.wav"}}`)
	if rr.Code != http.StatusOK || body["status"] != "accepted" {
		t.Fatalf("code=%d body=%v", rr.Code, body)
	}

	got, err := jobs.Get(context.Background(), "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

func TestCallbackFailureFailsJob(t *testing.T) {
	h, jobs := newTestServer(t)
	seedGeneratingJob(t, jobs, "j1", "ep-1", "req-a")

	rr, _ := doJSON(t, h, http.MethodPost, "/v1/callbacks/generation",
		`{"request_id":"req-a","status":"ERROR","error":"synthesis crashed"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	got, _ := jobs.Get(context.Background(), "j1")
	if got.Status != domain.JobStatusFailed || got.Error != "synthesis crashed" {
		t.Fatalf("job = %s / %q", got.Status, got.Error)
	}
}

func TestRecoverJob(t *testing.T) {
	h, jobs := newTestServer(t)
	seedGeneratingJob(t, jobs, "j1", "ep-1", "req-a")

	rr, body := doJSON(t, h, http.MethodPost, "/v1/jobs/j1/recovery", "")
	if rr.Code != http.StatusOK || body["outcome"] != "still_processing" {
		t.Fatalf("code=%d body=%v", rr.Code, body)
	}

	rr, _ = doJSON(t, h, http.MethodPost, "/v1/jobs/nope/recovery", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing job: code = %d, want 404", rr.Code)
	}
}

func TestListStuckJobs(t *testing.T) {
	h, jobs := newTestServer(t)
	old := time.Now().UTC().Add(-time.Hour)
	stale := &domain.GenerationJob{
		ID:                 "j-stale",
		Kind:               domain.JobKindAudio,
		ParentID:           "ep-1",
		Status:             domain.JobStatusGenerating,
		Chunks:             []domain.Chunk{{Index: 0}},
		ExternalRequestIDs: []string{"req-a"},
		CreatedAt:          old,
		UpdatedAt:          old,
	}
	if err := jobs.Create(context.Background(), stale); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr, body := doJSON(t, h, http.MethodGet, "/v1/jobs/stuck", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d", rr.Code)
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", body["items"])
	}
}

func TestEventsStreamSendsConnectionAck(t *testing.T) {
	h, _ := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/ep-1", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	if eventLine != "event: connected" {
		t.Fatalf("first event = %q", eventLine)
	}
	var ev progress.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &ev); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ev.ParentID != "ep-1" || ev.ConnectionID == "" {
		t.Fatalf("ack = %+v", ev)
	}
}
