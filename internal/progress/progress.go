// Package progress delivers near-real-time job state to subscribers keyed by
// parent entity. The channel is fire-and-forget and non-durable: events
// published before a subscriber attaches are not replayed, so clients
// re-fetch current job state on (re)connect.
package progress

import (
	"context"

	"podforge/internal/domain"
)

// EventType enumerates the events carried on the channel.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
	EventKeepAlive    EventType = "keepalive"
)

// Event is one progress notification. A job_completed event either reports a
// single chunk progressing (Done false, ChunkIndex/Completed/Total set) or
// the entire job completing (Done true, Chunks carrying the full list).
type Event struct {
	Type         EventType      `json:"type"`
	ParentID     string         `json:"parent_id,omitempty"`
	JobID        string         `json:"job_id,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	ChunkIndex   *int           `json:"chunk_index,omitempty"`
	Completed    int            `json:"completed,omitempty"`
	Total        int            `json:"total,omitempty"`
	Done         bool           `json:"done,omitempty"`
	ArtifactURL  string         `json:"artifact_url,omitempty"`
	Chunks       []domain.Chunk `json:"chunks,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Publisher pushes an event to every subscriber of the parent topic.
// Publishing never blocks on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, parentID string, ev Event)
}
