package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobStatus is the lifecycle state of a SummaryJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Active reports whether a job in this state blocks new jobs for the same book.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	}
	return false
}

// SummaryJob tracks one asynchronous summary generation for a book.
type SummaryJob struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	BookID        string     `gorm:"size:36;not null;index" json:"book_id"`
	Status        JobStatus  `gorm:"size:16;not null;index" json:"status"`
	Style         string     `gorm:"size:32" json:"style,omitempty"`
	Regenerate    bool       `gorm:"default:false" json:"regenerate"`
	ErrorMessage  *string    `gorm:"type:text" json:"error_message,omitempty"`
	ExtendedError *string    `gorm:"type:text" json:"extended_error,omitempty"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	// Reused is set on the in-memory job returned when an existing summary
	// satisfied the request. Such jobs are never persisted.
	Reused    bool   `gorm:"-" json:"reused,omitempty"`
	SummaryID string `gorm:"-" json:"summary_id,omitempty"`
}

// NewSummaryJob returns a pending job for bookID.
func NewSummaryJob(bookID, style string, regenerate bool) *SummaryJob {
	return &SummaryJob{
		ID:         uuid.NewString(),
		BookID:     bookID,
		Status:     JobPending,
		Style:      style,
		Regenerate: regenerate,
	}
}

// FailureMessage returns the recorded failure message, or "".
func (j *SummaryJob) FailureMessage() string {
	return deref(j.ErrorMessage)
}

func (j *SummaryJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	return nil
}

// JobUpdate describes a status transition written by the store.
type JobUpdate struct {
	Status        JobStatus
	ErrorMessage  string
	ExtendedError string
	At            time.Time
}
