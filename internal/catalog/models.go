// Package catalog persists render jobs and runs them one at a time through
// the render pipeline.
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/avatar-agent/internal/media"
	"github.com/heimdex/avatar-agent/internal/pipeline"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Where a job was submitted from.
const (
	OriginAPI   = "api"
	OriginInbox = "inbox"
)

// Job is one persisted render.
type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	Progress    int        `json:"progress"`
	Origin      string     `json:"origin"`
	Text        string     `json:"text"`
	ImagePath   string     `json:"image_path"`
	Gender      string     `json:"gender,omitempty"`
	Nationality string     `json:"nationality,omitempty"`
	Captions    string     `json:"captions,omitempty"`
	Voice       string     `json:"voice,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	Workspace   string     `json:"workspace,omitempty"`
	FinalPath   string     `json:"final_path,omitempty"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// Request converts the job into a pipeline request.
func (j *Job) Request() pipeline.Request {
	return pipeline.Request{
		Text:        j.Text,
		ImagePath:   j.ImagePath,
		Gender:      j.Gender,
		Nationality: j.Nationality,
		Captions:    media.CaptionMode(j.Captions),
	}
}

// Terminal reports whether the job will not run again.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// NewID returns a random job id.
func NewID() string {
	return uuid.NewString()
}
