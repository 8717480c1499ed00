package domain

import (
	"context"
	"time"
)

// JobRepository is the authoritative store for generation jobs. The chunk
// list and request id list are stored as aggregate values; Update writes the
// whole aggregate and succeeds only when job.Version matches the stored
// version, incrementing it on success. A mismatch returns ErrConflict and the
// caller re-reads, re-merges and retries.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	Get(ctx context.Context, id string) (*GenerationJob, error)
	// List filters by parent id and/or status; empty values match everything.
	List(ctx context.Context, parentID string, status JobStatus) ([]*GenerationJob, error)
	// OldestSubmittable returns the oldest job that still has work for the
	// submission worker: queued, or generating with an unsubmitted chunk.
	// ErrNotFound when no such job exists.
	OldestSubmittable(ctx context.Context) (*GenerationJob, error)
	// FindByExternalRequestID resolves a provider request id to the owning
	// job and the chunk index it was recorded against.
	FindByExternalRequestID(ctx context.Context, requestID string) (*GenerationJob, int, error)
	// ListStuck returns generating jobs not updated since the given time.
	ListStuck(ctx context.Context, olderThan time.Time) ([]*GenerationJob, error)
	Update(ctx context.Context, job *GenerationJob) error
	DeleteByParent(ctx context.Context, parentID string) (int64, error)
}

// ParentSnapshotStore receives a denormalized copy of the finished chunk list
// when a job completes. The core does not otherwise depend on the parent
// entity's schema.
type ParentSnapshotStore interface {
	SaveCompleted(ctx context.Context, parentID, artifactURL string, chunks []Chunk) error
}
