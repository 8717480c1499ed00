package orchestrator

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"podforge/internal/domain"
	"podforge/internal/progress"
	"podforge/internal/provider"
)

// fakeProvider records submissions and serves canned pull results. The gate
// channel, when set, blocks Submit until released so tests can hold a
// submission pass open.
type fakeProvider struct {
	mu        sync.Mutex
	submits   []provider.SubmitInput
	nextID    int
	submitErr error

	entered chan struct{}
	gate    chan struct{}

	statuses map[string]*provider.PullResult
	pullErr  error
	pulled   []string
}

func (p *fakeProvider) Submit(ctx context.Context, in provider.SubmitInput) (string, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.gate != nil {
		<-p.gate
	}
	if p.submitErr != nil {
		return "", p.submitErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, in)
	id := fmt.Sprintf("req-%d", p.nextID)
	p.nextID++
	return id, nil
}

func (p *fakeProvider) PullStatus(ctx context.Context, requestID string) (*provider.PullResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pulled = append(p.pulled, requestID)
	if p.pullErr != nil {
		return nil, p.pullErr
	}
	res, ok := p.statuses[requestID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return res, nil
}

// fakeStore mirrors the FileStore contract without touching disk.
type fakeStore struct {
	mu     sync.Mutex
	putErr error
	writes map[string][]byte
	puts   map[string]string // key -> source url
}

func newFakeStore() *fakeStore {
	return &fakeStore{writes: make(map[string][]byte), puts: make(map[string]string)}
}

func (s *fakeStore) IsConfigured() bool { return true }

func (s *fakeStore) PublicURL(key string) string { return "https://store.local/" + key }

func (s *fakeStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes[key] = append([]byte(nil), data...)
	return s.PublicURL(key), nil
}

func (s *fakeStore) PutFromURL(ctx context.Context, sourceURL, key, contentType string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[key] = sourceURL
	return s.PublicURL(key), nil
}

// fakeFetcher serves chunk artifact bytes by URL.
type fakeFetcher struct {
	data map[string][]byte
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if b, ok := f.data[url]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("fetch %s: not found", url)
}

// recordingPublisher captures published progress events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, parentID string, ev progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev.ParentID = parentID
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) snapshot() []progress.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progress.Event(nil), p.events...)
}

func (p *recordingPublisher) doneEvents() []progress.Event {
	var out []progress.Event
	for _, ev := range p.snapshot() {
		if ev.Done {
			out = append(out, ev)
		}
	}
	return out
}

// conflictRepo wraps a repository so every Update reports a version conflict.
type conflictRepo struct {
	domain.JobRepository
}

func (r *conflictRepo) Update(ctx context.Context, job *domain.GenerationJob) error {
	return domain.ErrConflict
}

// seedJob stores a generating job with n chunks, all already submitted under
// request ids req-0..req-(n-1).
func seedJob(repo domain.JobRepository, id string, kind domain.JobKind, n int) *domain.GenerationJob {
	now := time.Now().UTC()
	job := &domain.GenerationJob{
		ID:       id,
		Kind:     kind,
		ParentID: "parent-" + id,
		Status:   domain.JobStatusGenerating,

		ExternalRequestIDs: make([]string, 0, n),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for i := 0; i < n; i++ {
		reqID := fmt.Sprintf("req-%d", i)
		job.Chunks = append(job.Chunks, domain.Chunk{
			Index:             i,
			SourceText:        fmt.Sprintf("segment %d", i),
			ExternalRequestID: reqID,
		})
		job.ExternalRequestIDs = append(job.ExternalRequestIDs, reqID)
	}
	if err := repo.Create(context.Background(), job); err != nil {
		panic(err)
	}
	return job
}

// wavBytes builds a minimal PCM WAV buffer around the payload.
func wavBytes(payload []byte) []byte {
	buf := make([]byte, 44+len(payload))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)+36))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 2)
	binary.LittleEndian.PutUint32(buf[24:28], 44100)
	binary.LittleEndian.PutUint32(buf[28:32], 176400)
	binary.LittleEndian.PutUint16(buf[32:34], 4)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(payload)))
	copy(buf[44:], payload)
	return buf
}
