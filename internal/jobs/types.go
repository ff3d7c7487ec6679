// Package jobs defines the asynchronous scrape job model and the interfaces
// the job service depends on.
package jobs

import (
	"errors"
	"time"

	"github.com/iantaiahn/topicscraper/internal/pipeline"
)

// ErrNotFound is returned by stores for unknown or expired job IDs.
var ErrNotFound = errors.New("job not found")

// ErrExists is returned when creating a job whose ID is taken.
var ErrExists = errors.New("job already exists")

// ErrQueueClosed is returned by queues after shutdown.
var ErrQueueClosed = errors.New("queue closed")

// Status represents the lifecycle state of a job.
type Status string

// Job status values persisted in the job store.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the record kept for each submitted URL.
type Job struct {
	ID         string           `json:"job_id"`
	URL        string           `json:"url"`
	Status     Status           `json:"status"`
	Progress   int              `json:"progress"`
	Message    string           `json:"message"`
	MemoryMB   float64          `json:"memory_mb"`
	Result     *pipeline.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorKind  string           `json:"error_kind,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// Summary is the short form used by job listings.
type Summary struct {
	ID        string    `json:"job_id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary returns the listing form of the job.
func (j Job) Summary() Summary {
	return Summary{ID: j.ID, Status: j.Status, Progress: j.Progress, URL: j.URL, CreatedAt: j.CreatedAt}
}

// Update is a partial change applied to a stored job. Zero-valued optional
// fields leave the stored value untouched.
type Update struct {
	Status    Status
	Progress  int
	Message   string
	MemoryMB  float64
	Result    *pipeline.Result
	Error     string
	ErrorKind string
	At        time.Time
}

// Apply merges u into j. Updates to a terminal job are ignored unless they
// are terminal themselves, so late progress reports cannot reopen a job.
func (u Update) Apply(j Job) (Job, bool) {
	if j.Status.Terminal() && !u.Status.Terminal() {
		return j, false
	}
	if u.Status != "" {
		j.Status = u.Status
	}
	j.Progress = u.Progress
	if u.Message != "" {
		j.Message = u.Message
	}
	if u.MemoryMB > 0 {
		j.MemoryMB = u.MemoryMB
	}
	if u.Result != nil {
		j.Result = u.Result
	}
	if u.Error != "" {
		j.Error = u.Error
		j.ErrorKind = u.ErrorKind
	}
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	j.UpdatedAt = at
	if j.Status == StatusProcessing && j.StartedAt == nil {
		j.StartedAt = &at
	}
	if j.Status.Terminal() && j.FinishedAt == nil {
		j.FinishedAt = &at
	}
	return j, true
}
