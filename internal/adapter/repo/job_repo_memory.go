package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"podforge/internal/domain"
)

// JobRepositoryMemory is an in-memory domain.JobRepository with the same
// optimistic concurrency semantics as the PostgreSQL implementation. It backs
// tests and development environments without a DATABASE_URL.
type JobRepositoryMemory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.GenerationJob
}

// NewJobRepositoryMemory creates an empty in-memory job repository.
func NewJobRepositoryMemory() *JobRepositoryMemory {
	return &JobRepositoryMemory{jobs: make(map[string]*domain.GenerationJob)}
}

// Create stores a new job record.
func (r *JobRepositoryMemory) Create(ctx context.Context, job *domain.GenerationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return domain.ErrConflict
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job with the given id.
func (r *JobRepositoryMemory) Get(ctx context.Context, id string) (*domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return job.Clone(), nil
}

// List returns jobs matching the parent id and status filters, oldest first.
func (r *JobRepositoryMemory) List(ctx context.Context, parentID string, status domain.JobStatus) ([]*domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.GenerationJob
	for _, job := range r.jobs {
		if parentID != "" && job.ParentID != parentID {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

// OldestSubmittable returns the oldest job with unsubmitted chunks.
func (r *JobRepositoryMemory) OldestSubmittable(ctx context.Context) (*domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var oldest *domain.GenerationJob
	for _, job := range r.jobs {
		if !submittable(job) {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	return oldest.Clone(), nil
}

func submittable(job *domain.GenerationJob) bool {
	switch job.Status {
	case domain.JobStatusQueued:
		return true
	case domain.JobStatusGenerating:
		return job.NextUnsubmittedIndex() >= 0
	default:
		return false
	}
}

// FindByExternalRequestID scans jobs for a matching provider request id.
func (r *JobRepositoryMemory) FindByExternalRequestID(ctx context.Context, requestID string) (*domain.GenerationJob, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		for idx, rid := range job.ExternalRequestIDs {
			if rid == requestID {
				return job.Clone(), idx, nil
			}
		}
	}
	return nil, 0, domain.ErrNotFound
}

// ListStuck returns generating jobs whose last update predates olderThan.
func (r *JobRepositoryMemory) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.GenerationJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.GenerationJob
	for _, job := range r.jobs {
		if job.Status == domain.JobStatusGenerating && job.UpdatedAt.Before(olderThan) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return out, nil
}

// Update writes the whole aggregate back, guarded by the version the caller
// read. A mismatch means another writer merged first: domain.ErrConflict.
func (r *JobRepositoryMemory) Update(ctx context.Context, job *domain.GenerationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != job.Version {
		return domain.ErrConflict
	}
	next := job.Clone()
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	r.jobs[job.ID] = next
	job.Version = next.Version
	job.UpdatedAt = next.UpdatedAt
	return nil
}

// DeleteByParent removes all jobs owned by the given parent entity.
func (r *JobRepositoryMemory) DeleteByParent(ctx context.Context, parentID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, job := range r.jobs {
		if parentID == "" || job.ParentID == parentID {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

var _ domain.JobRepository = (*JobRepositoryMemory)(nil)
