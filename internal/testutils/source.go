package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/drallgood/catalog-summarizer/internal/catalog"
	"github.com/drallgood/catalog-summarizer/internal/models"
)

// FakeSource is a scripted catalog.Source. Errors queued for a call key are
// returned one per call before the scripted data is consulted. Keys are
// "search", "id:<external id>" and "isbn:<isbn>".
type FakeSource struct {
	SourceName string
	Results    []models.Candidate
	ByID       map[string]*models.Candidate
	ByISBN     map[string]*models.Candidate

	mu     sync.Mutex
	errs   map[string][]error
	called []string
}

var _ catalog.Source = (*FakeSource)(nil)

// NewFakeSource returns a source with no data.
func NewFakeSource(name string) *FakeSource {
	return &FakeSource{
		SourceName: name,
		ByID:       make(map[string]*models.Candidate),
		ByISBN:     make(map[string]*models.Candidate),
		errs:       make(map[string][]error),
	}
}

// QueueError makes the next len(errs) calls for key fail in order.
func (f *FakeSource) QueueError(key string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = append(f.errs[key], errs...)
}

// Called returns the call keys in the order they were made.
func (f *FakeSource) Called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.called...)
}

func (f *FakeSource) next(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, key)
	if q := f.errs[key]; len(q) > 0 {
		f.errs[key] = q[1:]
		return q[0]
	}
	return nil
}

func (f *FakeSource) Name() string { return f.SourceName }

func (f *FakeSource) Search(_ context.Context, _ string, maxResults int) ([]models.Candidate, error) {
	if err := f.next("search"); err != nil {
		return nil, err
	}
	out := append([]models.Candidate(nil), f.Results...)
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out, nil
}

func (f *FakeSource) FetchByID(_ context.Context, externalID string) (*models.Candidate, error) {
	if err := f.next("id:" + externalID); err != nil {
		return nil, err
	}
	c, ok := f.ByID[externalID]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", externalID, catalog.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *FakeSource) FetchByISBN(_ context.Context, isbn string) (*models.Candidate, error) {
	if err := f.next("isbn:" + isbn); err != nil {
		return nil, err
	}
	c, ok := f.ByISBN[isbn]
	if !ok {
		return nil, fmt.Errorf("fetch isbn %s: %w", isbn, catalog.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}
