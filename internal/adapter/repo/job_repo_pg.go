package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"podforge/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. The chunk
// list and request id list live in JSONB columns and are written as whole
// aggregates; a version column guards every update so concurrent
// read-merge-write cycles cannot silently overwrite each other.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, kind, parent_id, status, chunks, external_request_ids, artifact_url, error_message, submit_attempts, version, created_at, updated_at, completed_at`

// Create inserts a new job record with its full chunk placeholder list.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	chunks, reqIDs, err := marshalAggregates(job)
	if err != nil {
		return err
	}
	query := `
INSERT INTO generation_jobs (id, kind, parent_id, status, chunks, external_request_ids, artifact_url, error_message, submit_attempts, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.Kind,
		job.ParentID,
		job.Status,
		chunks,
		reqIDs,
		job.ArtifactURL,
		job.Error,
		job.SubmitAttempts,
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

// List returns jobs filtered by parent id and/or status, oldest first.
func (r *JobRepositoryPG) List(ctx context.Context, parentID string, status domain.JobStatus) ([]*domain.GenerationJob, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE ($1 = '' OR parent_id = $1)
  AND ($2 = '' OR status = $2)
ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, query, parentID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectJobs(rows)
}

// OldestSubmittable returns the oldest job the submission worker can act on.
func (r *JobRepositoryPG) OldestSubmittable(ctx context.Context) (*domain.GenerationJob, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE status = 'queued'
   OR (status = 'generating' AND jsonb_array_length(external_request_ids) < jsonb_array_length(chunks))
ORDER BY created_at
LIMIT 1;
`
	return r.scanJob(r.pool.QueryRow(ctx, query))
}

// FindByExternalRequestID resolves a provider request id to its job and the
// chunk index it was recorded against.
func (r *JobRepositoryPG) FindByExternalRequestID(ctx context.Context, requestID string) (*domain.GenerationJob, int, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE external_request_ids @> to_jsonb($1::text)
LIMIT 1;
`
	job, err := r.scanJob(r.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		return nil, 0, err
	}
	for idx, rid := range job.ExternalRequestIDs {
		if rid == requestID {
			return job, idx, nil
		}
	}
	return nil, 0, domain.ErrNotFound
}

// ListStuck returns generating jobs whose last update predates olderThan.
func (r *JobRepositoryPG) ListStuck(ctx context.Context, olderThan time.Time) ([]*domain.GenerationJob, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE status = 'generating' AND updated_at < $1
ORDER BY updated_at;
`
	rows, err := r.pool.Query(ctx, query, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectJobs(rows)
}

// Update writes the whole aggregate back guarded by the version the caller
// read. Zero affected rows with an existing job means domain.ErrConflict.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.GenerationJob) error {
	chunks, reqIDs, err := marshalAggregates(job)
	if err != nil {
		return err
	}
	query := `
UPDATE generation_jobs
SET status = $3,
    chunks = $4,
    external_request_ids = $5,
    artifact_url = $6,
    error_message = $7,
    submit_attempts = $8,
    completed_at = $9,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2;
`
	tag, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Version,
		job.Status,
		chunks,
		reqIDs,
		job.ArtifactURL,
		job.Error,
		job.SubmitAttempts,
		job.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.Get(ctx, job.ID); errors.Is(getErr, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	job.Version++
	return nil
}

// DeleteByParent removes jobs owned by the given parent entity. An empty
// parent id removes every job; that path is reserved for admin tooling.
func (r *JobRepositoryPG) DeleteByParent(ctx context.Context, parentID string) (int64, error) {
	query := `DELETE FROM generation_jobs WHERE ($1 = '' OR parent_id = $1);`
	tag, err := r.pool.Exec(ctx, query, parentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepositoryPG) scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	var chunks, reqIDs []byte
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.ParentID,
		&job.Status,
		&chunks,
		&reqIDs,
		&job.ArtifactURL,
		&job.Error,
		&job.SubmitAttempts,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if err := unmarshalAggregates(&job, chunks, reqIDs); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepositoryPG) collectJobs(rows pgx.Rows) ([]*domain.GenerationJob, error) {
	var out []*domain.GenerationJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func marshalAggregates(job *domain.GenerationJob) ([]byte, []byte, error) {
	chunkList := job.Chunks
	if chunkList == nil {
		chunkList = []domain.Chunk{}
	}
	chunks, err := json.Marshal(chunkList)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal chunks: %w", err)
	}
	idList := job.ExternalRequestIDs
	if idList == nil {
		idList = []string{}
	}
	reqIDs, err := json.Marshal(idList)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request ids: %w", err)
	}
	return chunks, reqIDs, nil
}

func unmarshalAggregates(job *domain.GenerationJob, chunks, reqIDs []byte) error {
	if len(chunks) > 0 {
		if err := json.Unmarshal(chunks, &job.Chunks); err != nil {
			return fmt.Errorf("unmarshal chunks: %w", err)
		}
	}
	if len(reqIDs) > 0 {
		if err := json.Unmarshal(reqIDs, &job.ExternalRequestIDs); err != nil {
			return fmt.Errorf("unmarshal request ids: %w", err)
		}
	}
	return nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
