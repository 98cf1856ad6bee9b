package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drallgood/catalog-summarizer/internal/database"
	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/metrics"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/util"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultCallTimeout  = 2 * time.Minute

	statusWriteAttempts = 4
	statusWriteBackoff  = 250 * time.Millisecond
)

// WorkerConfig controls job execution.
type WorkerConfig struct {
	PollInterval time.Duration
	Concurrency  int
	// CallTimeout bounds each summarizer call.
	CallTimeout time.Duration
	// StaleAfter is how long a job may stay processing before ReapStale
	// fails it. Defaults to four call timeouts.
	StaleAfter time.Duration
}

// Worker executes summary jobs.
type Worker struct {
	store      Store
	service    *Service
	summarizer Summarizer
	cfg        WorkerConfig
	logger     *logger.Logger
	now        func() time.Time
	sleep      util.Sleeper
}

// NewWorker creates a worker. Zero config values fall back to defaults.
func NewWorker(store Store, service *Service, summarizer Summarizer, cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 4 * cfg.CallTimeout
	}
	if log == nil {
		log = logger.Get()
	}
	return &Worker{
		store:      store,
		service:    service,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     log.With(map[string]interface{}{"component": "summary_worker"}),
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      util.SleepContext,
	}
}

// Process runs a claimed job to a terminal state. The primary summary decides
// the job outcome; a failed extended summary is recorded on the job and logged
// but leaves it completed. The job stays processing until the extended step
// has finished, so no other job for the book can start while a summarizer
// call for it is in flight.
func (w *Worker) Process(ctx context.Context, job *models.SummaryJob) error {
	log := w.logger.With(map[string]interface{}{
		"job_id":  job.ID,
		"book_id": job.BookID,
	})
	ctx = logger.NewContext(ctx, log)
	log.Info("Processing summary job", map[string]interface{}{"regenerate": job.Regenerate})

	book, saved, err := w.generatePrimary(ctx, job)
	if err != nil {
		log.Error("Summary job failed", map[string]interface{}{"error": err.Error()})
		if updErr := w.finish(ctx, job.ID, models.JobUpdate{
			Status:       models.JobFailed,
			ErrorMessage: err.Error(),
		}); updErr != nil {
			return fmt.Errorf("%w (and marking failed: %v)", err, updErr)
		}
		metrics.RecordJob(string(models.JobFailed))
		return err
	}

	w.generateExtended(ctx, job, book, saved)

	if err := w.finish(ctx, job.ID, models.JobUpdate{Status: models.JobCompleted}); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	metrics.RecordJob(string(models.JobCompleted))
	log.Info("Summary job completed", map[string]interface{}{"summary_id": saved.ID})
	return nil
}

// finish writes a terminal status, retrying store errors with backoff. A job
// that still cannot be finished stays processing until ReapStale fails it.
func (w *Worker) finish(ctx context.Context, id string, update models.JobUpdate) error {
	log := logger.Ctx(ctx, w.logger)
	delay := statusWriteBackoff

	var err error
	for attempt := 1; ; attempt++ {
		update.At = w.now()
		err = w.store.UpdateJobStatus(ctx, id, update)
		if err == nil || errors.Is(err, database.ErrInvalidTransition) || errors.Is(err, database.ErrNotFound) {
			return err
		}
		if attempt == statusWriteAttempts {
			break
		}
		log.Warn("Failed to write job status, retrying", map[string]interface{}{
			"status":  string(update.Status),
			"attempt": attempt,
			"error":   err.Error(),
		})
		if w.sleep(ctx, delay) != nil {
			break
		}
		delay *= 2
	}
	log.Error("Giving up writing job status", map[string]interface{}{
		"status": string(update.Status),
		"error":  err.Error(),
	})
	return err
}

func (w *Worker) generatePrimary(ctx context.Context, job *models.SummaryJob) (*models.Book, *models.Summary, error) {
	book, err := w.store.GetBook(ctx, job.BookID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load book: %w", err)
	}
	if book == nil {
		return nil, nil, fmt.Errorf("book %s: %w", job.BookID, ErrBookNotFound)
	}

	req := NewPrimaryRequest(book, job.Style)
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	start := time.Now()
	content, err := w.summarizer.GeneratePrimary(callCtx, req)
	cancel()
	metrics.ObserveSummarizer("primary", err == nil, time.Since(start).Seconds())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrSummarizerFailed, err)
	}
	if err := content.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	saved, err := w.service.Save(ctx, job.BookID, job.Style, content)
	if err != nil {
		return nil, nil, err
	}
	return book, saved, nil
}

func (w *Worker) generateExtended(ctx context.Context, job *models.SummaryJob, book *models.Book, saved *models.Summary) {
	log := logger.Ctx(ctx, w.logger)
	req := ExtendedRequest{
		PrimaryRequest: NewPrimaryRequest(book, job.Style),
		Primary:        saved.Content(),
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	start := time.Now()
	text, err := w.summarizer.GenerateExtended(callCtx, req)
	cancel()
	metrics.ObserveSummarizer("extended", err == nil, time.Since(start).Seconds())

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSummarizerFailed, err)
	} else {
		err = w.service.SetExtended(ctx, saved, text)
	}
	if err == nil {
		log.Debug("Extended summary stored", nil)
		return
	}

	metrics.RecordExtendedFailure()
	log.Warn("Extended summary failed, keeping primary summary", map[string]interface{}{
		"error": err.Error(),
	})
	if recErr := w.store.RecordExtendedError(ctx, job.ID, err.Error()); recErr != nil {
		log.Error("Failed to record extended summary error", map[string]interface{}{"error": recErr.Error()})
	}
}

// RunOnce claims and processes one job. It reports whether a job was found.
// A claimed job runs to completion even if ctx is cancelled meanwhile.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextPendingJob(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, w.Process(context.WithoutCancel(ctx), job)
}

// ReapStale fails jobs that have been processing for longer than StaleAfter.
// Those belong to a worker that died or could not record the outcome, and
// they would otherwise hold the book's active slot forever. It returns the
// number of jobs failed.
func (w *Worker) ReapStale(ctx context.Context) (int, error) {
	jobs, err := w.store.ListJobs(ctx, models.JobProcessing, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list processing jobs: %w", err)
	}

	now := w.now()
	reaped := 0
	for _, job := range jobs {
		if job.StartedAt == nil || now.Sub(*job.StartedAt) < w.cfg.StaleAfter {
			continue
		}
		err := w.store.UpdateJobStatus(ctx, job.ID, models.JobUpdate{
			Status:       models.JobFailed,
			ErrorMessage: fmt.Sprintf("abandoned: processing since %s", job.StartedAt.Format(time.RFC3339)),
			At:           now,
		})
		switch {
		case err == nil:
			reaped++
			metrics.RecordJob(string(models.JobFailed))
			w.logger.Warn("Marked abandoned summary job failed", map[string]interface{}{
				"job_id":     job.ID,
				"book_id":    job.BookID,
				"started_at": job.StartedAt.Format(time.RFC3339),
			})
		case errors.Is(err, database.ErrInvalidTransition):
			// finished meanwhile
		default:
			return reaped, fmt.Errorf("failed to reap job %s: %w", job.ID, err)
		}
	}
	return reaped, nil
}

// Run polls for jobs with cfg.Concurrency goroutines until ctx is done.
// Stale jobs are reaped at start and on every poll tick.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Summary worker started", map[string]interface{}{
		"concurrency":   w.cfg.Concurrency,
		"poll_interval": w.cfg.PollInterval.String(),
		"stale_after":   w.cfg.StaleAfter.String(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.reapLoop(gctx)
		return nil
	})
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.loop(gctx)
			return nil
		})
	}
	err := g.Wait()
	w.logger.Info("Summary worker stopped", nil)
	return err
}

func (w *Worker) loop(ctx context.Context) {
	for ctx.Err() == nil {
		processed, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("Summary job run ended with error", map[string]interface{}{"error": err.Error()})
		}
		if processed {
			continue
		}
		if util.SleepContext(ctx, w.cfg.PollInterval) != nil {
			return
		}
	}
}

func (w *Worker) reapLoop(ctx context.Context) {
	for {
		if _, err := w.ReapStale(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Warn("Failed to reap stale jobs", map[string]interface{}{"error": err.Error()})
		}
		if util.SleepContext(ctx, w.cfg.PollInterval) != nil {
			return
		}
	}
}
