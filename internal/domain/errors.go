package domain

import "errors"

var (
	// ErrNotFound reports a missing job or parent entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports an optimistic write rejected because the stored
	// aggregate changed underneath the caller.
	ErrConflict = errors.New("version conflict")
	// ErrConflictExhausted reports a read-merge-write cycle that ran out of
	// retries. Stored state is untouched; the caller may redeliver.
	ErrConflictExhausted = errors.New("reconciliation retries exhausted")
	// ErrWorkerBusy reports that another submission pass is already active
	// against this store.
	ErrWorkerBusy = errors.New("submission worker busy")
	// ErrUnmatchedCallback reports a provider request id that no known job
	// carries.
	ErrUnmatchedCallback = errors.New("unmatched callback request id")
	// ErrProviderFailure reports a generation reported failed by the provider.
	ErrProviderFailure = errors.New("provider failure")
)
