package domain

import (
	"sort"
	"time"
)

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindAudio JobKind = "audio"
	JobKindVideo JobKind = "video"
)

// Valid reports whether the kind is one the service knows how to generate.
func (k JobKind) Valid() bool {
	return k == JobKindAudio || k == JobKindVideo
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusGenerating JobStatus = "generating"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal jobs never move
// again; late provider callbacks are absorbed as no-ops.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Chunk is the smallest unit submitted to the generation provider. Its index
// defines both submission order and assembly order.
type Chunk struct {
	Index             int    `json:"index"`
	SourceText        string `json:"source_text,omitempty"`
	SourceMediaURL    string `json:"source_media_url,omitempty"`
	ArtifactURL       string `json:"artifact_url,omitempty"`
	Label             string `json:"label,omitempty"`
	ExternalRequestID string `json:"external_request_id,omitempty"`
}

// GenerationJob encapsulates one logical generation request composed of one
// or more chunks. The chunk list is a single aggregate value: it is always
// persisted sorted by index with no duplicate indices, and it is mutated only
// through whole-aggregate read-merge-write cycles guarded by Version.
type GenerationJob struct {
	ID                 string     `json:"id"`
	Kind               JobKind    `json:"kind"`
	ParentID           string     `json:"parent_id,omitempty"`
	Status             JobStatus  `json:"status"`
	Chunks             []Chunk    `json:"chunks"`
	ExternalRequestIDs []string   `json:"external_request_ids"`
	ArtifactURL        string     `json:"artifact_url,omitempty"`
	Error              string     `json:"error,omitempty"`
	SubmitAttempts     int        `json:"submit_attempts"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers can merge in memory without aliasing
// the stored aggregate.
func (j *GenerationJob) Clone() *GenerationJob {
	cp := *j
	cp.Chunks = append([]Chunk(nil), j.Chunks...)
	cp.ExternalRequestIDs = append([]string(nil), j.ExternalRequestIDs...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// UpsertChunk replaces the chunk at ch.Index or inserts it keeping the list
// sorted. Fields left empty on ch are preserved from the existing entry so a
// callback result does not erase the source recorded at creation.
func (j *GenerationJob) UpsertChunk(ch Chunk) {
	for i := range j.Chunks {
		if j.Chunks[i].Index == ch.Index {
			if ch.SourceText == "" {
				ch.SourceText = j.Chunks[i].SourceText
			}
			if ch.SourceMediaURL == "" {
				ch.SourceMediaURL = j.Chunks[i].SourceMediaURL
			}
			if ch.Label == "" {
				ch.Label = j.Chunks[i].Label
			}
			if ch.ExternalRequestID == "" {
				ch.ExternalRequestID = j.Chunks[i].ExternalRequestID
			}
			j.Chunks[i] = ch
			return
		}
	}
	j.Chunks = append(j.Chunks, ch)
	sort.Slice(j.Chunks, func(a, b int) bool { return j.Chunks[a].Index < j.Chunks[b].Index })
}

// ChunkAt returns the chunk with the given index, if present.
func (j *GenerationJob) ChunkAt(index int) (Chunk, bool) {
	for _, ch := range j.Chunks {
		if ch.Index == index {
			return ch, true
		}
	}
	return Chunk{}, false
}

// CompletedChunks counts chunks that already carry an artifact.
func (j *GenerationJob) CompletedChunks() int {
	n := 0
	for _, ch := range j.Chunks {
		if ch.ArtifactURL != "" {
			n++
		}
	}
	return n
}

// AllChunksComplete reports whether every chunk has been submitted and every
// chunk carries an artifact. A job is completed if and only if this holds.
func (j *GenerationJob) AllChunksComplete() bool {
	if len(j.Chunks) == 0 || len(j.ExternalRequestIDs) < len(j.Chunks) {
		return false
	}
	return j.CompletedChunks() == len(j.Chunks)
}

// NextUnsubmittedIndex returns the index of the next chunk without a recorded
// provider request id, or -1 when every chunk has been submitted. Request ids
// are positionally aligned to chunk indices at submission time.
func (j *GenerationJob) NextUnsubmittedIndex() int {
	if len(j.ExternalRequestIDs) >= len(j.Chunks) {
		return -1
	}
	return len(j.ExternalRequestIDs)
}
