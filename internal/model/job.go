package model

import (
	"encoding/json"
	"time"
)

// JobKind names the remote resource a job tracks.
type JobKind string

const (
	JobKindCrawl   JobKind = "crawl"
	JobKindScraper JobKind = "scraper"
	JobKindChatbot JobKind = "chatbot"
)

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindCrawl, JobKindScraper, JobKindChatbot:
		return true
	}
	return false
}

// JobStatus represents the locally recorded state of a remote job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusComplete JobStatus = "complete"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Job is a local ledger entry for a crawl, scraper, or chatbot created on
// the remote service. Request and Stats hold the JSON that was sent and the
// last status snapshot received.
type Job struct {
	ID        string          `json:"id"`
	Kind      JobKind         `json:"kind"`
	RemoteID  string          `json:"remote_id"`
	Target    string          `json:"target"`
	Status    JobStatus       `json:"status"`
	Request   json.RawMessage `json:"request,omitempty"`
	Stats     json.RawMessage `json:"stats,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobUpdate carries a status transition. Nil Stats leaves the stored
// snapshot unchanged.
type JobUpdate struct {
	Status JobStatus
	Stats  json.RawMessage
	Error  string
}
