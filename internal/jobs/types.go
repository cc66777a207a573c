// Package jobs defines the trigger queue: webhook events become sweep jobs
// that workers hand to the controller. The queue abstraction keeps the
// transport swappable; the in-memory implementation under inmemory/ serves
// single-instance deployments.
package jobs

import (
	"context"
	"time"

	"github.com/kzoteam/qbo-bridge/internal/control"
)

// Status is the lifecycle state of a queued sweep.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

// SweepJob asks the controller to sweep one stage across active clients.
// Client optionally narrows the sweep to a single client by name.
type SweepJob struct {
	JobID  string        `json:"job_id"`
	Stage  control.Stage `json:"stage"`
	Client string        `json:"client,omitempty"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the last failure when Status is failed or retrying.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Handler processes one sweep job. A returned error marks the job failed and
// schedules a retry while attempts remain.
type Handler func(ctx context.Context, job *SweepJob) error

// Publisher enqueues sweep jobs.
type Publisher interface {
	PublishSweep(ctx context.Context, job *SweepJob) error
	Close() error
}

// Consumer pulls queued jobs and runs the handler against them.
type Consumer interface {
	Start(ctx context.Context, handler Handler) error

	// Stop stops consuming and waits for in-flight jobs to finish.
	Stop(ctx context.Context) error
}

// Store tracks job state so the API can report on queued and finished sweeps.
type Store interface {
	SaveJob(ctx context.Context, job *SweepJob) error
	GetJob(ctx context.Context, jobID string) (*SweepJob, error)
	ListJobs(ctx context.Context, filter Filter) ([]*SweepJob, error)
}

// Filter narrows ListJobs. Zero values match everything.
type Filter struct {
	Stage  control.Stage
	Status Status
	Limit  int
	Offset int
}
