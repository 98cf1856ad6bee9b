package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/drallgood/catalog-summarizer/internal/cache"
	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
)

// ServiceStore is the store subset used by Service.
type ServiceStore interface {
	BookStore
	SummaryStore
}

// Service is the only writer of summaries. Every successful write
// invalidates the cache entry for the book before returning.
type Service struct {
	store  ServiceStore
	cache  *cache.SummaryCache
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates a summary service. A nil cache disables caching.
func NewService(store ServiceStore, c *cache.SummaryCache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		store:  store,
		cache:  c,
		logger: log.With(map[string]interface{}{"component": "summary_service"}),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// Get returns the summary for bookID, reading through the cache. It returns
// (nil, nil) when the book has no summary.
func (s *Service) Get(ctx context.Context, bookID string) (*models.Summary, error) {
	if cached, ok := s.cache.Get(ctx, bookID); ok {
		return cached, nil
	}

	version := s.cache.Version(bookID)
	summary, err := s.store.FindSummaryByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}
	if summary == nil {
		return nil, nil
	}
	if !s.cache.Put(ctx, bookID, summary, version) {
		s.logger.Debug("Summary not cached", map[string]interface{}{"book_id": bookID})
	}
	return summary, nil
}

// Save stores content as the summary of bookID, inserting or replacing it.
// Replacing clears the extended summary. GeneratedAt strictly increases
// across saves of the same book.
func (s *Service) Save(ctx context.Context, bookID, style string, content *models.SummaryContent) (*models.Summary, error) {
	if err := content.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	existing, err := s.store.FindSummaryByBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}

	now := s.now()
	var saved *models.Summary
	if existing == nil {
		saved = models.NewSummary(bookID, style, content, now)
		err = s.store.InsertSummary(ctx, saved)
	} else {
		if !now.After(existing.GeneratedAt) {
			now = existing.GeneratedAt.Add(time.Millisecond)
		}
		existing.Apply(style, content, now)
		saved = existing
		err = s.store.UpdateSummary(ctx, saved)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save summary: %w", err)
	}

	s.cache.Invalidate(ctx, bookID)
	logger.Ctx(ctx, s.logger).Info("Summary saved", map[string]interface{}{
		"book_id":    bookID,
		"summary_id": saved.ID,
		"replaced":   existing != nil,
	})
	return saved, nil
}

// SetExtended attaches an extended summary derived from base. It returns
// ErrSummaryReplaced without writing if the stored summary is no longer base.
func (s *Service) SetExtended(ctx context.Context, base *models.Summary, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty extended summary", ErrValidation)
	}

	existing, err := s.store.FindSummaryByBook(ctx, base.BookID)
	if err != nil {
		return fmt.Errorf("failed to load summary: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("book %s: %w", base.BookID, ErrSummaryNotFound)
	}
	if existing.ID != base.ID || !existing.GeneratedAt.Equal(base.GeneratedAt) {
		logger.Ctx(ctx, s.logger).Warn("Discarding extended summary for replaced summary", map[string]interface{}{
			"book_id":      base.BookID,
			"generated_at": base.GeneratedAt.Format(time.RFC3339Nano),
			"current_at":   existing.GeneratedAt.Format(time.RFC3339Nano),
		})
		return fmt.Errorf("book %s: %w", base.BookID, ErrSummaryReplaced)
	}

	existing.ExtendedSummary = &text
	if err := s.store.UpdateSummary(ctx, existing); err != nil {
		return fmt.Errorf("failed to save extended summary: %w", err)
	}
	s.cache.Invalidate(ctx, base.BookID)
	return nil
}

// Delete removes the summary of bookID.
func (s *Service) Delete(ctx context.Context, bookID string) error {
	if err := s.store.DeleteSummary(ctx, bookID); err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	s.cache.Invalidate(ctx, bookID)
	return nil
}

// DeleteBook removes a book along with its summary and jobs.
func (s *Service) DeleteBook(ctx context.Context, bookID string) error {
	if err := s.store.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	s.cache.Invalidate(ctx, bookID)
	s.logger.Info("Book deleted", map[string]interface{}{"book_id": bookID})
	return nil
}
