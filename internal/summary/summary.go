// Package summary owns the summary lifecycle: the job queue that schedules
// generation, the worker that runs it and the service that writes results.
package summary

import (
	"context"
	"errors"

	"github.com/drallgood/catalog-summarizer/internal/models"
)

var (
	// ErrBookNotFound is returned when a summary is requested for an unknown book.
	ErrBookNotFound = errors.New("book not found")
	// ErrJobNotFound is returned when polling an unknown job.
	ErrJobNotFound = errors.New("summary job not found")
	// ErrSummaryNotFound is returned when updating a summary that does not exist.
	ErrSummaryNotFound = errors.New("summary not found")
	// ErrSummaryReplaced is returned when an extended summary arrives for a
	// primary summary that has since been replaced.
	ErrSummaryReplaced = errors.New("summary was replaced")
	// ErrValidation is returned when the summarizer output is malformed.
	ErrValidation = errors.New("summary validation failed")
	// ErrSummarizerFailed wraps errors returned by the summarizer.
	ErrSummarizerFailed = errors.New("summarizer failed")
)

// Styles accepted by the summarizer.
const (
	StyleConcise  = "concise"
	StyleDetailed = "detailed"
)

// PrimaryRequest describes the book to summarize.
type PrimaryRequest struct {
	BookID      string   `json:"book_id"`
	Title       string   `json:"title"`
	Subtitle    string   `json:"subtitle,omitempty"`
	Authors     []string `json:"authors"`
	Description string   `json:"description,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Style       string   `json:"style"`
}

// ExtendedRequest asks for a long-form summary building on the primary one.
type ExtendedRequest struct {
	PrimaryRequest
	Primary *models.SummaryContent `json:"primary"`
}

// NewPrimaryRequest builds a request for book.
func NewPrimaryRequest(book *models.Book, style string) PrimaryRequest {
	req := PrimaryRequest{
		BookID:      book.ID,
		Title:       book.Title,
		Authors:     append([]string(nil), book.Authors...),
		Description: book.Description,
		Categories:  append([]string(nil), book.Categories...),
		Style:       style,
	}
	if book.Subtitle != nil {
		req.Subtitle = *book.Subtitle
	}
	return req
}

// Summarizer generates summaries. Implementations call an external service.
type Summarizer interface {
	GeneratePrimary(ctx context.Context, req PrimaryRequest) (*models.SummaryContent, error)
	GenerateExtended(ctx context.Context, req ExtendedRequest) (string, error)
}

// BookStore loads books.
type BookStore interface {
	GetBook(ctx context.Context, id string) (*models.Book, error)
}

// SummaryStore persists summaries. Finds return (nil, nil) when nothing exists.
type SummaryStore interface {
	FindSummaryByBook(ctx context.Context, bookID string) (*models.Summary, error)
	InsertSummary(ctx context.Context, summary *models.Summary) error
	UpdateSummary(ctx context.Context, summary *models.Summary) error
	DeleteSummary(ctx context.Context, bookID string) error
	DeleteBook(ctx context.Context, id string) error
}

// JobStore persists summary jobs.
type JobStore interface {
	InsertJob(ctx context.Context, job *models.SummaryJob) error
	GetJob(ctx context.Context, id string) (*models.SummaryJob, error)
	FindActiveJobForBook(ctx context.Context, bookID string) (*models.SummaryJob, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.SummaryJob, error)
	UpdateJobStatus(ctx context.Context, id string, update models.JobUpdate) error
	RecordExtendedError(ctx context.Context, id, message string) error
	ClaimNextPendingJob(ctx context.Context) (*models.SummaryJob, error)
}

// Store is everything the summary package needs from the catalog store.
type Store interface {
	BookStore
	SummaryStore
	JobStore
}
