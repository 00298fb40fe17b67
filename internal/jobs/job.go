// Package jobs records the progress of ingestion runs.
package jobs

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Source types.
const (
	SourceGitHub = "github"
	SourceLocal  = "local"
)

// ErrNotFound is returned by Get for unknown job ids.
var ErrNotFound = errors.New("jobs: job not found")

// Job is one ingestion run's progress record.
type Job struct {
	ID              string     `json:"id"`
	SourceType      string     `json:"source_type"`
	SourceURL       string     `json:"source_url"`
	Status          Status     `json:"status"`
	TotalFiles      int        `json:"total_files"`
	ProcessedFiles  int        `json:"processed_files"`
	FailedFiles     int        `json:"failed_files"`
	CurrentFile     string     `json:"current_file"`
	ProgressPercent int        `json:"progress_percent"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Update is a partial upsert. Nil fields are left as they are.
type Update struct {
	SourceType      *string
	SourceURL       *string
	Status          *Status
	TotalFiles      *int
	ProcessedFiles  *int
	FailedFiles     *int
	CurrentFile     *string
	ProgressPercent *int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ErrorMessage    *string
}

// Ptr returns a pointer to v, for building Updates.
func Ptr[T any](v T) *T {
	return &v
}

// Apply copies the set fields of u onto j.
func (u Update) Apply(j *Job) {
	if u.SourceType != nil {
		j.SourceType = *u.SourceType
	}
	if u.SourceURL != nil {
		j.SourceURL = *u.SourceURL
	}
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.TotalFiles != nil {
		j.TotalFiles = *u.TotalFiles
	}
	if u.ProcessedFiles != nil {
		j.ProcessedFiles = *u.ProcessedFiles
	}
	if u.FailedFiles != nil {
		j.FailedFiles = *u.FailedFiles
	}
	if u.CurrentFile != nil {
		j.CurrentFile = *u.CurrentFile
	}
	if u.ProgressPercent != nil {
		j.ProgressPercent = *u.ProgressPercent
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		j.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		j.CompletedAt = &t
	}
	if u.ErrorMessage != nil {
		j.ErrorMessage = *u.ErrorMessage
	}
}

// Store is the job update contract. Update is an idempotent upsert keyed
// by id and may be called many times per second.
type Store interface {
	Update(ctx context.Context, id string, u Update) error
	Get(ctx context.Context, id string) (Job, error)
	// Recent lists jobs by most recent update first.
	Recent(ctx context.Context, limit int) ([]Job, error)
	Close() error
}
