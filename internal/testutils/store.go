// Package testutils provides in-memory doubles shared by package tests.
package testutils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drallgood/catalog-summarizer/internal/database"
	"github.com/drallgood/catalog-summarizer/internal/models"
)

// ErrActiveJobExists mirrors the unique-index violation raised by the SQL store.
var ErrActiveJobExists = errors.New("UNIQUE constraint failed: summary_jobs.book_id")

// MemoryStore is an in-memory catalog store with the same contract as
// database.Repository. Every record handed out is a copy.
type MemoryStore struct {
	mu        sync.Mutex
	books     map[string]*models.Book
	summaries map[string]*models.Summary // by book id
	jobs      map[string]*models.SummaryJob
	order     []string // book ids in insertion order
	jobOrder  []string
	failures  map[string]error
	calls     map[string]int
	clock     time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:     make(map[string]*models.Book),
		summaries: make(map[string]*models.Summary),
		jobs:      make(map[string]*models.SummaryJob),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
		clock:     time.Now().UTC(),
	}
}

// FailNext makes the next call to method return err.
func (s *MemoryStore) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// Calls returns how many times method was invoked.
func (s *MemoryStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// enter records a call and returns an injected failure, if any. Callers hold mu.
func (s *MemoryStore) enter(method string) error {
	s.calls[method]++
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

// tick returns a strictly increasing timestamp so ordering by time is stable.
func (s *MemoryStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func cloneBook(b *models.Book) *models.Book {
	c := *b
	c.Authors = append([]string(nil), b.Authors...)
	c.Categories = append([]string(nil), b.Categories...)
	return &c
}

func cloneJob(j *models.SummaryJob) *models.SummaryJob {
	c := *j
	return &c
}

func ptrEq(p *string, v string) bool {
	return p != nil && *p == v
}

func (s *MemoryStore) findBook(match func(*models.Book) bool) *models.Book {
	for _, id := range s.order {
		if b := s.books[id]; match(b) {
			return cloneBook(b)
		}
	}
	return nil
}

// Books

func (s *MemoryStore) FindByExternalID(_ context.Context, externalID string) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindByExternalID"); err != nil {
		return nil, err
	}
	return s.findBook(func(b *models.Book) bool { return ptrEq(b.ExternalID, externalID) }), nil
}

func (s *MemoryStore) FindByISBN13(_ context.Context, isbn13 string) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindByISBN13"); err != nil {
		return nil, err
	}
	return s.findBook(func(b *models.Book) bool { return ptrEq(b.ISBN13, isbn13) }), nil
}

func (s *MemoryStore) FindByISBN10(_ context.Context, isbn10 string) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindByISBN10"); err != nil {
		return nil, err
	}
	return s.findBook(func(b *models.Book) bool { return ptrEq(b.ISBN10, isbn10) }), nil
}

func (s *MemoryStore) FindByTitleAuthor(_ context.Context, title, author string) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindByTitleAuthor"); err != nil {
		return nil, err
	}
	tk, ak := models.NormalizeKey(title), models.NormalizeKey(author)
	return s.findBook(func(b *models.Book) bool { return b.TitleKey == tk && b.AuthorKey == ak }), nil
}

func (s *MemoryStore) GetBook(_ context.Context, id string) (*models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetBook"); err != nil {
		return nil, err
	}
	if b, ok := s.books[id]; ok {
		return cloneBook(b), nil
	}
	return nil, nil
}

func (s *MemoryStore) InsertBook(_ context.Context, book *models.Book) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertBook"); err != nil {
		return err
	}
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	if _, ok := s.books[book.ID]; ok {
		return fmt.Errorf("book %s already exists", book.ID)
	}
	book.RefreshKeys()
	now := s.tick()
	book.CreatedAt, book.UpdatedAt = now, now
	s.books[book.ID] = cloneBook(book)
	s.order = append(s.order, book.ID)
	return nil
}

func (s *MemoryStore) CountBooks(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CountBooks"); err != nil {
		return 0, err
	}
	return int64(len(s.books)), nil
}

// Books returns every stored book in insertion order.
func (s *MemoryStore) Books() []*models.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Book, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneBook(s.books[id]))
	}
	return out
}

func (s *MemoryStore) DeleteBook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteBook"); err != nil {
		return err
	}
	if _, ok := s.books[id]; !ok {
		return fmt.Errorf("book %s: %w", id, database.ErrNotFound)
	}
	delete(s.books, id)
	delete(s.summaries, id)
	for i, bid := range s.order {
		if bid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	for jid, j := range s.jobs {
		if j.BookID == id {
			delete(s.jobs, jid)
		}
	}
	return nil
}

// Summaries

func (s *MemoryStore) FindSummaryByBook(_ context.Context, bookID string) (*models.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindSummaryByBook"); err != nil {
		return nil, err
	}
	return s.summaries[bookID].Clone(), nil
}

func (s *MemoryStore) InsertSummary(_ context.Context, summary *models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertSummary"); err != nil {
		return err
	}
	if _, ok := s.summaries[summary.BookID]; ok {
		return fmt.Errorf("UNIQUE constraint failed: summaries.book_id")
	}
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	now := s.tick()
	summary.CreatedAt, summary.UpdatedAt = now, now
	s.summaries[summary.BookID] = summary.Clone()
	return nil
}

func (s *MemoryStore) UpdateSummary(_ context.Context, summary *models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateSummary"); err != nil {
		return err
	}
	existing, ok := s.summaries[summary.BookID]
	if !ok || existing.ID != summary.ID {
		return fmt.Errorf("summary %s: %w", summary.ID, database.ErrNotFound)
	}
	summary.CreatedAt = existing.CreatedAt
	summary.UpdatedAt = s.tick()
	s.summaries[summary.BookID] = summary.Clone()
	return nil
}

func (s *MemoryStore) DeleteSummary(_ context.Context, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("DeleteSummary"); err != nil {
		return err
	}
	delete(s.summaries, bookID)
	return nil
}

// Jobs

func (s *MemoryStore) InsertJob(_ context.Context, job *models.SummaryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertJob"); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if job.Status.Active() {
		for _, j := range s.jobs {
			if j.BookID == job.BookID && j.Status.Active() {
				return ErrActiveJobExists
			}
		}
	}
	now := s.tick()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = cloneJob(job)
	s.jobOrder = append(s.jobOrder, job.ID)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.SummaryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetJob"); err != nil {
		return nil, err
	}
	if j, ok := s.jobs[id]; ok {
		return cloneJob(j), nil
	}
	return nil, nil
}

func (s *MemoryStore) FindActiveJobForBook(_ context.Context, bookID string) (*models.SummaryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindActiveJobForBook"); err != nil {
		return nil, err
	}
	for _, id := range s.jobOrder {
		if j, ok := s.jobs[id]; ok && j.BookID == bookID && j.Status.Active() {
			return cloneJob(j), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, status models.JobStatus, limit int) ([]models.SummaryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListJobs"); err != nil {
		return nil, err
	}
	var out []models.SummaryJob
	for _, id := range s.jobOrder {
		j, ok := s.jobs[id]
		if !ok || (status != "" && j.Status != status) {
			continue
		}
		out = append(out, *j)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Jobs returns every job for bookID in creation order.
func (s *MemoryStore) Jobs(bookID string) []*models.SummaryJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SummaryJob
	for _, id := range s.jobOrder {
		if j, ok := s.jobs[id]; ok && j.BookID == bookID {
			out = append(out, cloneJob(j))
		}
	}
	return out
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id string, update models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateJobStatus"); err != nil {
		return err
	}
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, database.ErrNotFound)
	}
	if !j.Status.CanTransition(update.Status) {
		return fmt.Errorf("%w: job %s is %s, cannot move to %s", database.ErrInvalidTransition, id, j.Status, update.Status)
	}
	at := update.At
	if at.IsZero() {
		at = s.tick()
	}
	j.Status = update.Status
	j.UpdatedAt = at
	switch update.Status {
	case models.JobProcessing:
		j.StartedAt = &at
	case models.JobCompleted:
		j.CompletedAt = &at
		j.ErrorMessage = nil
	case models.JobFailed:
		j.CompletedAt = &at
		msg := update.ErrorMessage
		j.ErrorMessage = &msg
		j.RetryCount++
	}
	if update.ExtendedError != "" {
		msg := update.ExtendedError
		j.ExtendedError = &msg
	}
	return nil
}

func (s *MemoryStore) RecordExtendedError(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("RecordExtendedError"); err != nil {
		return err
	}
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, database.ErrNotFound)
	}
	j.ExtendedError = &message
	j.UpdatedAt = s.tick()
	return nil
}

func (s *MemoryStore) ClaimNextPendingJob(_ context.Context) (*models.SummaryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ClaimNextPendingJob"); err != nil {
		return nil, err
	}
	for _, id := range s.jobOrder {
		j, ok := s.jobs[id]
		if !ok || j.Status != models.JobPending {
			continue
		}
		now := s.tick()
		j.Status = models.JobProcessing
		j.StartedAt = &now
		j.UpdatedAt = now
		return cloneJob(j), nil
	}
	return nil, nil
}
