package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"podforge/internal/domain"
)

// ParentRepositoryPG writes denormalized completion snapshots back to the
// owning podcast/article row. The core only touches these two columns.
type ParentRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewParentRepository creates a parent snapshot store backed by PostgreSQL.
func NewParentRepository(pool *pgxpool.Pool) *ParentRepositoryPG {
	return &ParentRepositoryPG{pool: pool}
}

// SaveCompleted stores the finished chunk list and artifact reference on the
// parent entity.
func (r *ParentRepositoryPG) SaveCompleted(ctx context.Context, parentID, artifactURL string, chunks []domain.Chunk) error {
	snapshot, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshal chunk snapshot: %w", err)
	}
	query := `
UPDATE parent_entities
SET generation_status = 'completed',
    artifact_url = $2,
    chunk_snapshot = $3,
    updated_at = NOW()
WHERE id = $1;
`
	_, err = r.pool.Exec(ctx, query, parentID, artifactURL, snapshot)
	return err
}

var _ domain.ParentSnapshotStore = (*ParentRepositoryPG)(nil)
