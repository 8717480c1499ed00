package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"podforge/internal/domain"
	"podforge/internal/progress"
	"podforge/internal/provider"
)

// Submitter dispatches queued chunk requests to the generation provider, one
// chunk per invocation, recording the provider's request identifier
// positionally against the chunk index. A mutex guarantees at most one
// active submission pass per store instance, so the worker never has two
// outstanding submissions in flight.
type Submitter struct {
	jobs        domain.JobRepository
	client      provider.Client
	callbackURL string
	maxAttempts int
	events      progress.Publisher
	logger      zerolog.Logger

	mu sync.Mutex
}

// NewSubmitter wires the submission worker. maxAttempts caps how often a
// job's submissions may fail before the job is marked failed; events carries
// that failure to progress subscribers.
func NewSubmitter(jobs domain.JobRepository, client provider.Client, callbackURL string, maxAttempts int, events progress.Publisher, logger zerolog.Logger) *Submitter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Submitter{
		jobs:        jobs,
		client:      client,
		callbackURL: callbackURL,
		maxAttempts: maxAttempts,
		events:      events,
		logger:      logger,
	}
}

// RunOnce submits the next unsubmitted chunk of the oldest claimable job.
// It reports whether more work may remain so the caller can re-invoke.
// domain.ErrWorkerBusy means another pass is already active.
func (s *Submitter) RunOnce(ctx context.Context) (bool, error) {
	if !s.mu.TryLock() {
		return false, domain.ErrWorkerBusy
	}
	defer s.mu.Unlock()

	job, err := s.jobs.OldestSubmittable(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}

	idx := job.NextUnsubmittedIndex()
	if idx < 0 {
		return true, nil
	}
	chunk, ok := job.ChunkAt(idx)
	if !ok {
		return true, fmt.Errorf("job %s has no chunk at index %d", job.ID, idx)
	}

	requestID, err := s.client.Submit(ctx, provider.SubmitInput{
		Kind:        job.Kind,
		Text:        chunk.SourceText,
		MediaURL:    chunk.SourceMediaURL,
		Label:       chunk.Label,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		s.recordSubmitFailure(ctx, job.ID, err)
		return true, fmt.Errorf("submit chunk %d of job %s: %w", idx, job.ID, err)
	}

	if err := s.recordSubmission(ctx, job.ID, idx, requestID); err != nil {
		return true, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Int("chunk_index", idx).
		Str("request_id", requestID).
		Msg("worker: chunk submitted")
	return true, nil
}

// recordSubmission appends the provider request id and flips the job to
// generating, retrying the read-merge-write on version conflicts with
// concurrently reconciled callbacks.
func (s *Submitter) recordSubmission(ctx context.Context, jobID string, idx int, requestID string) error {
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		job, err := s.jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Status.Terminal() {
			// Job failed while the provider call was in flight. The orphan
			// request will complete provider-side; its callback is absorbed
			// as a no-op.
			return nil
		}
		if containsString(job.ExternalRequestIDs, requestID) {
			return nil
		}
		job.ExternalRequestIDs = append(job.ExternalRequestIDs, requestID)
		job.UpsertChunk(domain.Chunk{Index: idx, ExternalRequestID: requestID})
		job.Status = domain.JobStatusGenerating

		if err := s.jobs.Update(ctx, job); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				sleepBackoff(ctx)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("record submission for job %s: %w", jobID, domain.ErrConflictExhausted)
}

// recordSubmitFailure counts the attempt. The job stays claimable so the
// next worker invocation retries, until the attempt cap turns it failed.
func (s *Submitter) recordSubmitFailure(ctx context.Context, jobID string, submitErr error) {
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		job, err := s.jobs.Get(ctx, jobID)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: load job after submit failure")
			return
		}
		if job.Status.Terminal() {
			return
		}
		job.SubmitAttempts++
		if job.SubmitAttempts >= s.maxAttempts {
			job.Status = domain.JobStatusFailed
			job.Error = fmt.Sprintf("submission failed after %d attempts: %v", job.SubmitAttempts, submitErr)
		}

		if err := s.jobs.Update(ctx, job); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				sleepBackoff(ctx)
				continue
			}
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: record submit failure")
			return
		}
		if job.Status == domain.JobStatusFailed {
			s.events.Publish(ctx, job.ParentID, progress.Event{
				Type:  progress.EventJobFailed,
				JobID: job.ID,
				Error: job.Error,
			})
			s.logger.Error().
				Str("job_id", jobID).
				Int("attempts", job.SubmitAttempts).
				Msg("worker: submission retry cap reached, job failed")
		}
		return
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sleepBackoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(mergeBackoff):
	}
}
