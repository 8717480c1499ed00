// Package provider talks to the external asynchronous generation service.
// Work is submitted per chunk; results arrive either through webhook
// callbacks delivered to the API or through explicit status pulls used by the
// recovery path.
package provider

import (
	"context"

	"podforge/internal/domain"
)

// SubmitInput carries one chunk's generation request.
type SubmitInput struct {
	Kind        domain.JobKind
	Text        string
	MediaURL    string
	Label       string
	CallbackURL string
}

// PullStatus values reported by the provider for an outstanding request.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// PullResult is the provider's current view of one request.
type PullResult struct {
	Status    string
	ResultURL string
	Error     string
}

// Callback is the webhook payload the provider posts when a request
// finishes. Delivery is at-least-once and unordered.
type Callback struct {
	RequestID string           `json:"request_id"`
	Status    string           `json:"status"` // "OK" or "ERROR"
	Payload   *CallbackPayload `json:"payload,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// CallbackPayload carries the finished artifact's location.
type CallbackPayload struct {
	URL         string  `json:"url"`
	ContentType string  `json:"content_type,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
}

// CallbackStatusOK and CallbackStatusError are the two callback outcomes.
const (
	CallbackStatusOK    = "OK"
	CallbackStatusError = "ERROR"
)

// Client is the generation provider contract consumed by the orchestrator.
type Client interface {
	// Submit enqueues one chunk and synchronously returns the provider's
	// request identifier.
	Submit(ctx context.Context, in SubmitInput) (string, error)
	// PullStatus fetches the current status/result for a request id.
	PullStatus(ctx context.Context, requestID string) (*PullResult, error)
}
