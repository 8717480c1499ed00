// Package orchestrator owns the generation job lifecycle: creating jobs with
// their full chunk placeholder list, dispatching chunks to the provider one
// at a time, reconciling asynchronous provider results back into the job
// aggregate, and recovering jobs whose callbacks never arrived.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"podforge/internal/domain"
)

// ChunkSpec describes one chunk at job creation time.
type ChunkSpec struct {
	Text     string
	MediaURL string
	Label    string
}

// Service provides the caller-facing job operations. Jobs are created
// atomically: the job row and every chunk placeholder are written before any
// chunk is dispatched.
type Service struct {
	jobs domain.JobRepository
}

// NewService creates the job service on top of a repository.
func NewService(jobs domain.JobRepository) *Service {
	return &Service{jobs: jobs}
}

// CreateJob validates the chunk specs and stores a queued job with contiguous
// chunk indices 0..N-1. N is fixed here and never grows.
func (s *Service) CreateJob(ctx context.Context, kind domain.JobKind, specs []ChunkSpec, parentID string) (*domain.GenerationJob, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unsupported job kind %q", kind)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("job needs at least one chunk")
	}
	for i, spec := range specs {
		switch kind {
		case domain.JobKindAudio:
			if spec.Text == "" {
				return nil, fmt.Errorf("chunk %d: audio chunks require source text", i)
			}
		case domain.JobKindVideo:
			if spec.MediaURL == "" {
				return nil, fmt.Errorf("chunk %d: video chunks require a source media url", i)
			}
		}
	}

	now := time.Now().UTC()
	job := &domain.GenerationJob{
		ID:                 uuid.NewString(),
		Kind:               kind,
		ParentID:           parentID,
		Status:             domain.JobStatusQueued,
		Chunks:             make([]domain.Chunk, 0, len(specs)),
		ExternalRequestIDs: []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for i, spec := range specs {
		job.Chunks = append(job.Chunks, domain.Chunk{
			Index:          i,
			SourceText:     spec.Text,
			SourceMediaURL: spec.MediaURL,
			Label:          spec.Label,
		})
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*domain.GenerationJob, error) {
	return s.jobs.Get(ctx, id)
}

// ListJobs returns jobs filtered by parent id and/or status.
func (s *Service) ListJobs(ctx context.Context, parentID string, status domain.JobStatus) ([]*domain.GenerationJob, error) {
	return s.jobs.List(ctx, parentID, status)
}

// DeleteJobs removes all jobs for a parent entity and returns the count.
func (s *Service) DeleteJobs(ctx context.Context, parentID string) (int64, error) {
	return s.jobs.DeleteByParent(ctx, parentID)
}
