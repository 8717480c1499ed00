package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"podforge/internal/domain"
	"podforge/internal/provider"
)

// Outcome classifies one recovery pass over a job.
type Outcome string

const (
	// OutcomeRecovered: results were available and applied (or the job had
	// already completed).
	OutcomeRecovered Outcome = "recovered"
	// OutcomeStillProcessing: the provider reports work in progress; the job
	// was left untouched.
	OutcomeStillProcessing Outcome = "still_processing"
	// OutcomeNoResult: the provider reports done but supplied no artifact.
	// Reported, not failed.
	OutcomeNoResult Outcome = "no_result"
	// OutcomeFailed: the provider reported an error; the job was failed.
	OutcomeFailed Outcome = "failed"
)

// Recoverer is the pull-based fallback for jobs whose callbacks never
// arrived. It is invoked on demand rather than on a schedule, and it never
// downgrades a job that has already completed.
type Recoverer struct {
	jobs       domain.JobRepository
	client     provider.Client
	reconciler *Reconciler
	logger     zerolog.Logger
}

// NewRecoverer wires the recovery poller. Pulled results are applied through
// the same reconciliation path as live callbacks.
func NewRecoverer(jobs domain.JobRepository, client provider.Client, reconciler *Reconciler, logger zerolog.Logger) *Recoverer {
	return &Recoverer{jobs: jobs, client: client, reconciler: reconciler, logger: logger}
}

// Recover pulls the provider's current status for every outstanding chunk of
// the job and classifies the result.
func (r *Recoverer) Recover(ctx context.Context, jobID string) (Outcome, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return "", err
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		return OutcomeRecovered, nil
	case domain.JobStatusFailed:
		return OutcomeFailed, nil
	case domain.JobStatusQueued:
		// Nothing submitted yet; the worker owns this job.
		return OutcomeStillProcessing, nil
	}

	var stillProcessing, noResult bool
	for idx, requestID := range job.ExternalRequestIDs {
		if chunk, ok := job.ChunkAt(idx); ok && chunk.ArtifactURL != "" {
			continue
		}

		result, err := r.client.PullStatus(ctx, requestID)
		if err != nil {
			return "", fmt.Errorf("pull status for request %s: %w", requestID, err)
		}

		switch result.Status {
		case provider.StatusInQueue, provider.StatusInProgress:
			stillProcessing = true

		case provider.StatusCompleted:
			if result.ResultURL == "" {
				r.logger.Warn().
					Str("job_id", jobID).
					Str("request_id", requestID).
					Msg("recovery: provider reports done without a result")
				noResult = true
				continue
			}
			cb := provider.Callback{
				RequestID: requestID,
				Status:    provider.CallbackStatusOK,
				Payload:   &provider.CallbackPayload{URL: result.ResultURL},
			}
			if err := r.reconciler.HandleCallback(ctx, cb); err != nil {
				return "", fmt.Errorf("apply recovered result for request %s: %w", requestID, err)
			}

		default:
			msg := result.Error
			if msg == "" {
				msg = fmt.Sprintf("provider reported status %q", result.Status)
			}
			cb := provider.Callback{RequestID: requestID, Status: provider.CallbackStatusError, Error: msg}
			if err := r.reconciler.HandleCallback(ctx, cb); err != nil {
				return "", err
			}
			return OutcomeFailed, nil
		}
	}

	if stillProcessing {
		return OutcomeStillProcessing, nil
	}
	if noResult {
		return OutcomeNoResult, nil
	}
	return OutcomeRecovered, nil
}

// ListStuck returns generating jobs whose last update is older than the
// given age, candidates for an on-demand recovery trigger.
func (r *Recoverer) ListStuck(ctx context.Context, age time.Duration) ([]*domain.GenerationJob, error) {
	return r.jobs.ListStuck(ctx, time.Now().UTC().Add(-age))
}
