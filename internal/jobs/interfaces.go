package jobs

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store persists job records. Records may expire.
type Store interface {
	Create(ctx context.Context, job Job) error
	Get(ctx context.Context, id string) (Job, error)
	Update(ctx context.Context, id string, update Update) (Job, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Job, error)
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ErrObjectNotFound is returned by blob readers for unknown paths.
var ErrObjectNotFound = errors.New("object not found")

// ReportReader is implemented by blob stores that can serve stored reports.
type ReportReader interface {
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes job completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string  `json:"job_id"`
	URL       string  `json:"url"`
	Options   Options `json:"options"`
	Submitted int64   `json:"submitted"`
	// Trace carries the submitting request's trace context.
	Trace map[string]string `json:"trace,omitempty"`
}

// Options are the per-job overrides accepted by the API.
type Options struct {
	Headless         *bool   `json:"headless,omitempty"`
	MemoryLimitMB    float64 `json:"memory_limit_mb,omitempty"`
	MaxContentLength int     `json:"max_content_length,omitempty"`
}
