package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
)

var (
	// ErrNotFound is returned by updates and deletes that match no row.
	// Lookups report a missing row as (nil, nil) instead.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a job is not in the state an update expects.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

var activeStatuses = []string{string(models.JobPending), string(models.JobProcessing)}

// Repository implements the catalog store on top of GORM.
type Repository struct {
	db     *Database
	logger *logger.Logger
	now    func() time.Time
}

// NewRepository creates a new repository instance
func NewRepository(db *Database, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.Get()
	}
	return &Repository{
		db:     db,
		logger: log.With(map[string]interface{}{"component": "repository"}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.GetDB().WithContext(ctx)
}

func firstOrNil[T any](tx *gorm.DB, what string) (*T, error) {
	var out T
	err := tx.First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", what, err)
	}
	return &out, nil
}

// Books

func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*models.Book, error) {
	return firstOrNil[models.Book](r.conn(ctx).Where("external_id = ?", externalID).Order("created_at ASC"), "book by external id")
}

func (r *Repository) FindByISBN13(ctx context.Context, isbn13 string) (*models.Book, error) {
	return firstOrNil[models.Book](r.conn(ctx).Where("isbn13 = ?", isbn13).Order("created_at ASC"), "book by isbn13")
}

func (r *Repository) FindByISBN10(ctx context.Context, isbn10 string) (*models.Book, error) {
	return firstOrNil[models.Book](r.conn(ctx).Where("isbn10 = ?", isbn10).Order("created_at ASC"), "book by isbn10")
}

// FindByTitleAuthor matches title and primary author case-insensitively.
func (r *Repository) FindByTitleAuthor(ctx context.Context, title, author string) (*models.Book, error) {
	return firstOrNil[models.Book](r.conn(ctx).
		Where("title_key = ? AND author_key = ?", models.NormalizeKey(title), models.NormalizeKey(author)).
		Order("created_at ASC"), "book by title and author")
}

func (r *Repository) GetBook(ctx context.Context, id string) (*models.Book, error) {
	return firstOrNil[models.Book](r.conn(ctx).Where("id = ?", id), "book")
}

func (r *Repository) InsertBook(ctx context.Context, book *models.Book) error {
	if err := r.conn(ctx).Create(book).Error; err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

func (r *Repository) CountBooks(ctx context.Context) (int64, error) {
	var n int64
	if err := r.conn(ctx).Model(&models.Book{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return n, nil
}

// DeleteBook removes a book together with its summary and jobs.
func (r *Repository) DeleteBook(ctx context.Context, id string) error {
	return r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("book_id = ?", id).Delete(&models.SummaryJob{}).Error; err != nil {
			return fmt.Errorf("failed to delete jobs: %w", err)
		}
		if err := tx.Where("book_id = ?", id).Delete(&models.Summary{}).Error; err != nil {
			return fmt.Errorf("failed to delete summary: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Book{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete book: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("book %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// Summaries

func (r *Repository) FindSummaryByBook(ctx context.Context, bookID string) (*models.Summary, error) {
	return firstOrNil[models.Summary](r.conn(ctx).Where("book_id = ?", bookID), "summary")
}

func (r *Repository) InsertSummary(ctx context.Context, summary *models.Summary) error {
	if err := r.conn(ctx).Create(summary).Error; err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

// UpdateSummary overwrites every mutable column of an existing summary.
func (r *Repository) UpdateSummary(ctx context.Context, summary *models.Summary) error {
	res := r.conn(ctx).Model(summary).
		Select("*").
		Omit("id", "book_id", "created_at").
		Updates(summary)
	if res.Error != nil {
		return fmt.Errorf("failed to update summary: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("summary %s: %w", summary.ID, ErrNotFound)
	}
	return nil
}

// DeleteSummary removes the summary of a book. Deleting a missing summary is not an error.
func (r *Repository) DeleteSummary(ctx context.Context, bookID string) error {
	if err := r.conn(ctx).Where("book_id = ?", bookID).Delete(&models.Summary{}).Error; err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	return nil
}

// Jobs

func (r *Repository) InsertJob(ctx context.Context, job *models.SummaryJob) error {
	if err := r.conn(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id string) (*models.SummaryJob, error) {
	return firstOrNil[models.SummaryJob](r.conn(ctx).Where("id = ?", id), "job")
}

func (r *Repository) FindActiveJobForBook(ctx context.Context, bookID string) (*models.SummaryJob, error) {
	return firstOrNil[models.SummaryJob](r.conn(ctx).
		Where("book_id = ? AND status IN ?", bookID, activeStatuses).
		Order("created_at ASC"), "active job")
}

// ListJobs returns the most recent jobs, optionally filtered by status.
func (r *Repository) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.SummaryJob, error) {
	q := r.conn(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var jobs []models.SummaryJob
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobStatus moves a job to update.Status. The row is only changed when
// the job is in the state that precedes the target; anything else is
// ErrInvalidTransition. A failure increments retry_count.
func (r *Repository) UpdateJobStatus(ctx context.Context, id string, update models.JobUpdate) error {
	var from models.JobStatus
	switch update.Status {
	case models.JobProcessing:
		from = models.JobPending
	case models.JobCompleted, models.JobFailed:
		from = models.JobProcessing
	default:
		return fmt.Errorf("%w: cannot move job to %q", ErrInvalidTransition, update.Status)
	}

	at := update.At
	if at.IsZero() {
		at = r.now()
	}

	fields := map[string]interface{}{
		"status":     string(update.Status),
		"updated_at": at,
	}
	switch update.Status {
	case models.JobProcessing:
		fields["started_at"] = at
	case models.JobCompleted:
		fields["completed_at"] = at
		fields["error_message"] = nil
	case models.JobFailed:
		fields["completed_at"] = at
		fields["error_message"] = update.ErrorMessage
		fields["retry_count"] = gorm.Expr("retry_count + 1")
	}
	if update.ExtendedError != "" {
		fields["extended_error"] = update.ExtendedError
	}

	res := r.conn(ctx).Model(&models.SummaryJob{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update job status: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	job, err := r.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", ErrInvalidTransition, id, job.Status, from)
}

// RecordExtendedError stores a failure of the secondary summary step without
// touching the job's status.
func (r *Repository) RecordExtendedError(ctx context.Context, id, message string) error {
	res := r.conn(ctx).Model(&models.SummaryJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"extended_error": message, "updated_at": r.now()})
	if res.Error != nil {
		return fmt.Errorf("failed to record extended error: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimNextPendingJob atomically moves the oldest pending job to processing
// and returns it, or (nil, nil) when nothing is pending. A claim lost to
// another worker is retried for as long as pending jobs remain.
func (r *Repository) ClaimNextPendingJob(ctx context.Context) (*models.SummaryJob, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		job, err := firstOrNil[models.SummaryJob](r.conn(ctx).
			Where("status = ?", string(models.JobPending)).
			Order("created_at ASC"), "pending job")
		if err != nil || job == nil {
			return nil, err
		}

		now := r.now()
		res := r.conn(ctx).Model(&models.SummaryJob{}).
			Where("id = ? AND status = ?", job.ID, string(models.JobPending)).
			Updates(map[string]interface{}{
				"status":     string(models.JobProcessing),
				"started_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim job: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			job.Status = models.JobProcessing
			job.StartedAt = &now
			job.UpdatedAt = now
			return job, nil
		}

		r.logger.Debug("Lost race claiming job, retrying", map[string]interface{}{
			"job_id":  job.ID,
			"attempt": attempt,
		})
	}
}
