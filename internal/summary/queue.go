package summary

import (
	"context"
	"fmt"
	"sync"

	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
)

// QueueStore is the store subset used by Queue.
type QueueStore interface {
	BookStore
	FindSummaryByBook(ctx context.Context, bookID string) (*models.Summary, error)
	JobStore
}

// Queue creates and hands out summary jobs.
type Queue struct {
	store        QueueStore
	defaultStyle string
	logger       *logger.Logger

	// mu serializes requests so the active-job check and insert are atomic
	// within this process.
	mu sync.Mutex
}

// RequestOption customizes a summary request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	style string
}

// WithStyle overrides the queue's default summary style.
func WithStyle(style string) RequestOption {
	return func(o *requestOptions) { o.style = style }
}

// NewQueue creates a job queue. An empty defaultStyle means StyleConcise.
func NewQueue(store QueueStore, defaultStyle string, log *logger.Logger) *Queue {
	if defaultStyle == "" {
		defaultStyle = StyleConcise
	}
	if log == nil {
		log = logger.Get()
	}
	return &Queue{
		store:        store,
		defaultStyle: defaultStyle,
		logger:       log.With(map[string]interface{}{"component": "summary_queue"}),
	}
}

// RequestSummary asks for a summary of bookID.
//
// An existing summary is reused unless regenerate is set; the returned job is
// then a completed in-memory record with Reused set and nothing is enqueued.
// If a job for the book is already pending or processing it is returned
// instead of creating a second one.
func (q *Queue) RequestSummary(ctx context.Context, bookID string, regenerate bool, opts ...RequestOption) (*models.SummaryJob, error) {
	o := requestOptions{style: q.defaultStyle}
	for _, opt := range opts {
		opt(&o)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	book, err := q.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load book: %w", err)
	}
	if book == nil {
		return nil, fmt.Errorf("book %s: %w", bookID, ErrBookNotFound)
	}

	log := q.logger.With(map[string]interface{}{"book_id": bookID})

	if !regenerate {
		existing, err := q.store.FindSummaryByBook(ctx, bookID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up summary: %w", err)
		}
		if existing != nil {
			log.Debug("Reusing existing summary", map[string]interface{}{"summary_id": existing.ID})
			completed := existing.UpdatedAt
			return &models.SummaryJob{
				BookID:      bookID,
				Status:      models.JobCompleted,
				Style:       existing.Style,
				CompletedAt: &completed,
				CreatedAt:   existing.CreatedAt,
				UpdatedAt:   existing.UpdatedAt,
				Reused:      true,
				SummaryID:   existing.ID,
			}, nil
		}
	}

	if active, err := q.store.FindActiveJobForBook(ctx, bookID); err != nil {
		return nil, fmt.Errorf("failed to look up active job: %w", err)
	} else if active != nil {
		log.Debug("Returning active job", map[string]interface{}{
			"job_id": active.ID,
			"status": string(active.Status),
		})
		return active, nil
	}

	job := models.NewSummaryJob(bookID, o.style, regenerate)
	if err := q.store.InsertJob(ctx, job); err != nil {
		// Another process may have won the race for the active slot.
		if active, findErr := q.store.FindActiveJobForBook(ctx, bookID); findErr == nil && active != nil {
			return active, nil
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	log.Info("Summary job created", map[string]interface{}{
		"job_id":     job.ID,
		"regenerate": regenerate,
		"style":      o.style,
	})
	return job, nil
}

// DequeueNext claims the oldest pending job, or returns (nil, nil).
func (q *Queue) DequeueNext(ctx context.Context) (*models.SummaryJob, error) {
	job, err := q.store.ClaimNextPendingJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// GetJob returns the job with id, or ErrJobNotFound.
func (q *Queue) GetJob(ctx context.Context, id string) (*models.SummaryJob, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, nil
}

// ListJobs returns recent jobs, newest first. An empty status lists all.
func (q *Queue) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.SummaryJob, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	jobs, err := q.store.ListJobs(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}
