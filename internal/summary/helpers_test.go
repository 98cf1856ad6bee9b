package summary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/catalog-summarizer/internal/cache"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/testutils"
)

// MockSummarizer is a testify mock of Summarizer.
type MockSummarizer struct {
	mock.Mock
}

func (m *MockSummarizer) GeneratePrimary(ctx context.Context, req PrimaryRequest) (*models.SummaryContent, error) {
	args := m.Called(ctx, req)
	content, _ := args.Get(0).(*models.SummaryContent)
	return content, args.Error(1)
}

func (m *MockSummarizer) GenerateExtended(ctx context.Context, req ExtendedRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func testContent(hook string) *models.SummaryContent {
	return &models.SummaryContent{
		Hook: hook,
		KeyIdeas: []models.KeyIdea{
			{Title: "Systems over goals", Explanation: "You fall to the level of your systems."},
		},
		Applications: []models.ApplicationPoint{{Title: "Habit stacking", Action: "Pair a new habit with an existing one."}},
		Critiques:    []string{"Anecdotal evidence"},
		Pitfalls:     []string{"Tracking too many habits at once"},
		Citations:    []models.Citation{{Source: "Atomic Habits", Reference: "ch. 1"}},
		Model:        "test-model",
	}
}

type fixture struct {
	store   *testutils.MemoryStore
	cache   *cache.SummaryCache
	service *Service
	queue   *Queue
	sum     *MockSummarizer
	worker  *Worker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutils.NewMemoryStore()
	sc := cache.NewSummaryCache(cache.NewMemoryCache[string, *models.Summary](nil), 20*time.Minute, nil)
	service := NewService(store, sc, nil)
	sum := &MockSummarizer{}
	worker := NewWorker(store, service, sum, WorkerConfig{PollInterval: 10 * time.Millisecond, CallTimeout: time.Second}, nil)
	worker.sleep = func(context.Context, time.Duration) error { return nil }
	return &fixture{
		store:   store,
		cache:   sc,
		service: service,
		queue:   NewQueue(store, StyleConcise, nil),
		sum:     sum,
		worker:  worker,
	}
}

func (f *fixture) addBook(t *testing.T, title string) *models.Book {
	t.Helper()
	book := &models.Book{Title: title, Authors: []string{"James Clear"}, Source: "test"}
	require.NoError(t, f.store.InsertBook(context.Background(), book))
	return book
}
