package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"podforge/internal/domain"
	"podforge/internal/media"
	"podforge/internal/progress"
	"podforge/internal/provider"
	"podforge/internal/storage"
)

const (
	// mergeAttempts bounds the optimistic read-merge-write cycle. Exhausting
	// it is surfaced as an error so the provider redelivers, but stored state
	// stays uncorrupted.
	mergeAttempts = 5
	mergeBackoff  = 50 * time.Millisecond
)

// VideoAssembler concatenates normalized clips into one file and returns its
// path. Implemented by media.Assembler.
type VideoAssembler interface {
	Concat(ctx context.Context, inputs []string) (string, error)
}

// ReconcilerOptions wires the reconciliation engine's collaborators. Store,
// Parents and Video are optional; a nil Store keeps provider URLs as-is.
type ReconcilerOptions struct {
	Jobs    domain.JobRepository
	Store   storage.ObjectStore
	Fetcher storage.Fetcher
	Parents domain.ParentSnapshotStore
	Events  progress.Publisher
	Video   VideoAssembler
	Logger  zerolog.Logger
}

// Reconciler merges asynchronous provider results back into the job
// aggregate. This is the only component with real concurrency hazards:
// independent callbacks for different chunks of one job race through
// HandleCallback concurrently, and correctness rests entirely on the
// version-guarded read-merge-write cycle.
type Reconciler struct {
	jobs    domain.JobRepository
	store   storage.ObjectStore
	fetcher storage.Fetcher
	parents domain.ParentSnapshotStore
	events  progress.Publisher
	video   VideoAssembler
	logger  zerolog.Logger
}

// NewReconciler constructs the engine. A nil Fetcher falls back to plain
// HTTP fetching so a configured Store always has a way to read artifacts.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = storage.NewHTTPFetcher()
	}
	return &Reconciler{
		jobs:    opts.Jobs,
		store:   opts.Store,
		fetcher: fetcher,
		parents: opts.Parents,
		events:  opts.Events,
		video:   opts.Video,
		logger:  opts.Logger,
	}
}

// HandleCallback processes one provider callback. Delivery is at-least-once
// and unordered: duplicates and late arrivals for terminal jobs are absorbed
// as no-ops, and a failure of one chunk fails the whole job.
func (r *Reconciler) HandleCallback(ctx context.Context, cb provider.Callback) error {
	if cb.RequestID == "" {
		return domain.ErrUnmatchedCallback
	}

	job, idx, err := r.jobs.FindByExternalRequestID(ctx, cb.RequestID)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn().Str("request_id", cb.RequestID).Msg("callback for unknown request id")
		return domain.ErrUnmatchedCallback
	}
	if err != nil {
		return fmt.Errorf("resolve callback %s: %w", cb.RequestID, err)
	}

	if cb.Status != provider.CallbackStatusOK {
		msg := cb.Error
		if msg == "" {
			msg = "provider reported failure"
		}
		return r.failJob(ctx, job.ID, msg)
	}
	if cb.Payload == nil || cb.Payload.URL == "" {
		return r.failJob(ctx, job.ID, "provider callback carried no result payload")
	}

	artifactURL := r.persistArtifact(ctx, job, idx, cb.Payload)

	merged, completedNow, err := r.mergeChunk(ctx, job.ID, idx, artifactURL, cb.RequestID)
	if err != nil {
		return err
	}
	if merged == nil {
		// Job already terminal; accepted, nothing to do.
		return nil
	}

	if completedNow {
		r.finishJob(ctx, merged)
		return nil
	}

	chunkIdx := idx
	r.events.Publish(ctx, merged.ParentID, progress.Event{
		Type:       progress.EventJobCompleted,
		JobID:      merged.ID,
		ChunkIndex: &chunkIdx,
		Completed:  merged.CompletedChunks(),
		Total:      len(merged.Chunks),
	})
	return nil
}

// persistArtifact copies the provider result into durable storage. On upload
// failure the provider's transient URL is kept instead; the chunk never
// fails for storage reasons.
func (r *Reconciler) persistArtifact(ctx context.Context, job *domain.GenerationJob, idx int, payload *provider.CallbackPayload) string {
	if r.store == nil || !r.store.IsConfigured() {
		return payload.URL
	}
	key := fmt.Sprintf("jobs/%s/chunk-%03d%s", job.ID, idx, artifactExtension(job.Kind))
	url, err := r.store.PutFromURL(ctx, payload.URL, key, payload.ContentType)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Int("chunk_index", idx).
			Msg("artifact upload failed, keeping provider url")
		return payload.URL
	}
	return url
}

// mergeChunk runs the bounded optimistic read-merge-write: re-fetch the
// latest snapshot, upsert the finished chunk by index, recompute completion,
// write back guarded by the version read. Returns the merged job and whether
// this write transitioned it to completed; (nil, false, nil) when the job
// was already terminal.
func (r *Reconciler) mergeChunk(ctx context.Context, jobID string, idx int, artifactURL, requestID string) (*domain.GenerationJob, bool, error) {
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		job, err := r.jobs.Get(ctx, jobID)
		if err != nil {
			return nil, false, err
		}
		if job.Status.Terminal() {
			return nil, false, nil
		}

		job.UpsertChunk(domain.Chunk{
			Index:             idx,
			ArtifactURL:       artifactURL,
			ExternalRequestID: requestID,
		})

		completed := job.AllChunksComplete()
		if completed {
			now := time.Now().UTC()
			job.Status = domain.JobStatusCompleted
			job.CompletedAt = &now
		} else {
			job.Status = domain.JobStatusGenerating
		}

		if err := r.jobs.Update(ctx, job); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				sleepBackoff(ctx)
				continue
			}
			return nil, false, err
		}
		return job, completed, nil
	}
	return nil, false, fmt.Errorf("merge chunk %d into job %s: %w", idx, jobID, domain.ErrConflictExhausted)
}

// finishJob runs the assembly step for the single callback that completed
// the job, stores the assembled artifact reference, snapshots the chunk list
// onto the parent entity, and emits exactly one completion event.
func (r *Reconciler) finishJob(ctx context.Context, job *domain.GenerationJob) {
	artifactURL, err := r.assemble(ctx, job)
	if err != nil {
		// The job stays completed: every chunk artifact is present and
		// terminal status never reverts. Only the merged artifact is missing.
		r.logger.Error().Err(err).Str("job_id", job.ID).Msg("media assembly failed")
	} else if artifactURL != "" {
		if err := r.storeFinalArtifact(ctx, job.ID, artifactURL); err != nil {
			r.logger.Error().Err(err).Str("job_id", job.ID).Msg("store assembled artifact reference")
		} else {
			job.ArtifactURL = artifactURL
		}
	}

	if r.parents != nil && job.ParentID != "" {
		if err := r.parents.SaveCompleted(ctx, job.ParentID, job.ArtifactURL, job.Chunks); err != nil {
			r.logger.Error().Err(err).
				Str("job_id", job.ID).
				Str("parent_id", job.ParentID).
				Msg("write parent completion snapshot")
		}
	}

	r.events.Publish(ctx, job.ParentID, progress.Event{
		Type:        progress.EventJobCompleted,
		JobID:       job.ID,
		Completed:   len(job.Chunks),
		Total:       len(job.Chunks),
		Done:        true,
		ArtifactURL: job.ArtifactURL,
		Chunks:      job.Chunks,
	})

	r.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int("chunks", len(job.Chunks)).
		Msg("job completed")
}

// assemble fetches every chunk artifact and merges them in index order.
func (r *Reconciler) assemble(ctx context.Context, job *domain.GenerationJob) (string, error) {
	if r.store == nil || !r.store.IsConfigured() {
		return "", errors.New("no durable store configured for assembled artifact")
	}

	switch job.Kind {
	case domain.JobKindAudio:
		buffers := make([][]byte, 0, len(job.Chunks))
		for _, chunk := range job.Chunks {
			data, err := r.fetcher.Fetch(ctx, chunk.ArtifactURL)
			if err != nil {
				return "", fmt.Errorf("fetch chunk %d: %w", chunk.Index, err)
			}
			buffers = append(buffers, data)
		}
		merged, err := media.MergeWAV(buffers)
		if err != nil {
			return "", err
		}
		return r.store.Write(ctx, fmt.Sprintf("jobs/%s/final.wav", job.ID), merged)

	case domain.JobKindVideo:
		if r.video == nil {
			return "", errors.New("video assembler not configured")
		}
		tmpDir, err := os.MkdirTemp("", "assemble-"+job.ID)
		if err != nil {
			return "", fmt.Errorf("create assembly dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		paths := make([]string, 0, len(job.Chunks))
		for _, chunk := range job.Chunks {
			data, err := r.fetcher.Fetch(ctx, chunk.ArtifactURL)
			if err != nil {
				return "", fmt.Errorf("fetch chunk %d: %w", chunk.Index, err)
			}
			path := filepath.Join(tmpDir, fmt.Sprintf("clip_%03d.mp4", chunk.Index))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return "", fmt.Errorf("stage chunk %d: %w", chunk.Index, err)
			}
			paths = append(paths, path)
		}
		outPath, err := r.video.Concat(ctx, paths)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(outPath)
		if err != nil {
			return "", fmt.Errorf("read assembled video: %w", err)
		}
		// The assembler stages each run in its own directory; reclaim it now
		// that the bytes are in memory.
		_ = os.RemoveAll(filepath.Dir(outPath))
		return r.store.Write(ctx, fmt.Sprintf("jobs/%s/final.mp4", job.ID), data)

	default:
		return "", fmt.Errorf("unsupported job kind %q", job.Kind)
	}
}

// storeFinalArtifact records the assembled artifact reference with its own
// bounded merge cycle; the job is already completed at this point.
func (r *Reconciler) storeFinalArtifact(ctx context.Context, jobID, artifactURL string) error {
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		job, err := r.jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		job.ArtifactURL = artifactURL
		if err := r.jobs.Update(ctx, job); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				sleepBackoff(ctx)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("store artifact for job %s: %w", jobID, domain.ErrConflictExhausted)
}

// failJob marks the owning job failed with the provider's message and emits
// a failure event. Terminal jobs are left untouched.
func (r *Reconciler) failJob(ctx context.Context, jobID, message string) error {
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		job, err := r.jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
		job.Status = domain.JobStatusFailed
		job.Error = message

		if err := r.jobs.Update(ctx, job); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				sleepBackoff(ctx)
				continue
			}
			return err
		}

		r.events.Publish(ctx, job.ParentID, progress.Event{
			Type:  progress.EventJobFailed,
			JobID: job.ID,
			Error: message,
		})
		r.logger.Warn().Str("job_id", job.ID).Str("error", message).Msg("job failed")
		return nil
	}
	return fmt.Errorf("fail job %s: %w", jobID, domain.ErrConflictExhausted)
}

func artifactExtension(kind domain.JobKind) string {
	if kind == domain.JobKindVideo {
		return ".mp4"
	}
	return ".wav"
}
