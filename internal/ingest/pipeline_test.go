package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/catalog-summarizer/internal/catalog"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/testutils"
	"github.com/drallgood/catalog-summarizer/internal/util"
)

// fakeClock advances only when a limiter sleeps.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return nil
}

func (c *fakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

const testCooldown = 15 * time.Second

func newTestPipeline(store *testutils.MemoryStore, clock *fakeClock, opts ...Option) *Pipeline {
	cfg := Config{Window: time.Minute, MaxCalls: 100, Cooldown: testCooldown}
	opts = append(opts, WithLimiterOptions(util.WithClock(clock.Now), util.WithSleeper(clock.Sleep)))
	return NewPipeline(store, cfg, nil, opts...)
}

func candidate(source, id, title, isbn13 string) models.Candidate {
	return models.Candidate{
		Source:      source,
		ExternalID:  id,
		Title:       title,
		Authors:     []string{"Author " + title},
		Description: "About " + title,
		ISBN13:      isbn13,
	}
}

func partial(source, id, title string) models.Candidate {
	return models.Candidate{Source: source, ExternalID: id, Title: title, Partial: true}
}

func TestRun_AddsNewBooks(t *testing.T) {
	store := testutils.NewMemoryStore()
	src := testutils.NewFakeSource("books")
	src.Results = []models.Candidate{
		candidate("books", "1", "Atomic Habits", "9780735211292"),
		candidate("books", "2", "Deep Work", "9781455586691"),
	}

	var enqueued []string
	p := newTestPipeline(store, newFakeClock(), WithEnqueue(func(_ context.Context, bookID string) error {
		enqueued = append(enqueued, bookID)
		return nil
	}))

	stats, err := p.Run(context.Background(), src, Query{Text: "habits"}, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 0, stats.Duplicate)
	assert.Equal(t, 0, stats.Failed)

	books := store.Books()
	require.Len(t, books, 2)
	assert.Equal(t, []string{books[0].ID, books[1].ID}, enqueued)
	assert.Equal(t, "books", books[0].Source)
}

func TestRun_EmptyQuery(t *testing.T) {
	p := newTestPipeline(testutils.NewMemoryStore(), newFakeClock())
	_, err := p.Run(context.Background(), testutils.NewFakeSource("books"), Query{Text: "  "}, 5, nil)
	assert.Error(t, err)
}

func TestRun_ExistingBookIsDuplicate(t *testing.T) {
	store := testutils.NewMemoryStore()
	existing := candidate("other", "x", "Atomic Habits", "9780735211292")
	require.NoError(t, store.InsertBook(context.Background(), existing.ToBook()))

	src := testutils.NewFakeSource("books")
	src.Results = []models.Candidate{candidate("books", "1", "Atomic Habits", "978-0-7352-1129-2")}

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "habits"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicate)
	assert.Equal(t, 0, stats.Added)
	assert.Len(t, store.Books(), 1)
}

func TestRun_SeenInRunIsDuplicate(t *testing.T) {
	store := testutils.NewMemoryStore()
	src := testutils.NewFakeSource("books")
	src.Results = []models.Candidate{
		candidate("books", "1", "Atomic Habits", "9780735211292"),
		candidate("books", "2", "Atomic Habits (Large Print)", "9780735211292"),
	}

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "habits"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Duplicate)
	assert.Equal(t, 1, store.Calls("InsertBook"))
}

func TestRun_InvalidCandidateFails(t *testing.T) {
	store := testutils.NewMemoryStore()
	src := testutils.NewFakeSource("books")
	noAuthor := candidate("books", "1", "Anonymous", "")
	noAuthor.Authors = nil
	src.Results = []models.Candidate{noAuthor, candidate("books", "2", "Deep Work", "")}

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "work"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Failures, 1)
	assert.Equal(t, "books:1", stats.Failures[0].Candidate)
	assert.ErrorIs(t, stats.Failures[0].Err, ErrInvalidCandidate)

	name, ok := catalog.GetCandidate(stats.Failures[0].Err)
	assert.True(t, ok)
	assert.Equal(t, "books:1", name)
}

func TestRun_PartialCandidateFetchesDetail(t *testing.T) {
	store := testutils.NewMemoryStore()
	src := testutils.NewFakeSource("books")
	src.Results = []models.Candidate{partial("books", "1", "Atomic Habits")}
	detail := candidate("books", "1", "", "9780735211292")
	detail.Authors = []string{"James Clear"}
	detail.Categories = []string{"Self-Help"}
	src.ByID["1"] = &detail

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "habits"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)

	books := store.Books()
	require.Len(t, books, 1)
	assert.Equal(t, "Atomic Habits", books[0].Title)
	assert.Equal(t, []string{"James Clear"}, books[0].Authors)
	require.NotNil(t, books[0].ISBN13)
	assert.Equal(t, "9780735211292", *books[0].ISBN13)
	assert.Equal(t, []string{"search", "id:1"}, src.Called())
}

func TestRun_PartialKnownBookSkipsDetailFetch(t *testing.T) {
	store := testutils.NewMemoryStore()
	known := candidate("books", "1", "Atomic Habits", "9780735211292")
	require.NoError(t, store.InsertBook(context.Background(), known.ToBook()))

	src := testutils.NewFakeSource("books")
	src.Results = []models.Candidate{partial("books", "1", "Atomic Habits")}

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "habits"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicate)
	assert.Equal(t, []string{"search"}, src.Called())
}

func TestRun_PartialWithoutIDFailsWithoutFetch(t *testing.T) {
	store := testutils.NewMemoryStore()
	src := testutils.NewFakeSource("books")
	src.Results = []models.Candidate{partial("books", "", "Atomic Habits")}

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "habits"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Failures, 1)
	assert.ErrorIs(t, stats.Failures[0].Err, ErrInvalidCandidate)
	assert.Equal(t, []string{"search"}, src.Called())
	assert.Equal(t, 1, p.Limiter("books").Calls())
	assert.Empty(t, store.Books())
}

func TestRun_FetchByIDsAndISBNs(t *testing.T) {
	store := testutils.NewMemoryStore()
	src := testutils.NewFakeSource("books")
	byID := candidate("books", "42", "Deep Work", "9781455586691")
	byISBN := candidate("books", "7", "Atomic Habits", "9780735211292")
	src.ByID["42"] = &byID
	src.ByISBN["9780735211292"] = &byISBN

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{
		ExternalIDs: []string{"42", "missing"},
		ISBNs:       []string{"9780735211292"},
	}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, "books:missing", stats.Failures[0].Candidate)
	assert.ErrorIs(t, stats.Failures[0].Err, catalog.ErrNotFound)
}

func TestRun_PriorityAndTarget(t *testing.T) {
	store := testutils.NewMemoryStore()
	src := testutils.NewFakeSource("books")
	plain := candidate("books", "1", "Plain", "")
	best := candidate("books", "2", "Best", "")
	best.IsBestseller = true
	nyt := candidate("books", "3", "NYT", "")
	nyt.IsNYTBestseller = true
	src.Results = []models.Candidate{plain, best, nyt}

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "books"}, 2, BestsellersFirst)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Attempted)

	var titles []string
	for _, b := range store.Books() {
		titles = append(titles, b.Title)
	}
	assert.Equal(t, []string{"Best", "NYT"}, titles)
}

func TestRun_SearchRequestsOverFetch(t *testing.T) {
	src := testutils.NewFakeSource("books")
	for i := 0; i < 60; i++ {
		src.Results = append(src.Results, candidate("books", fmt.Sprint(i), fmt.Sprintf("Book %d", i), ""))
	}

	p := newTestPipeline(testutils.NewMemoryStore(), newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "books"}, 30, nil)
	require.NoError(t, err)
	// 30 x 2 is capped at MaxSearchResults; the target still bounds attempts.
	assert.Equal(t, 30, stats.Attempted)
	assert.Equal(t, 30, stats.Added)
}

func TestRun_RateLimitedCandidateRetriedOnce(t *testing.T) {
	store := testutils.NewMemoryStore()
	clock := newFakeClock()
	src := testutils.NewFakeSource("books")
	for i := 1; i <= 5; i++ {
		id := fmt.Sprint(i)
		src.Results = append(src.Results, partial("books", id, "Book "+id))
		detail := candidate("books", id, "", "")
		src.ByID[id] = &detail
	}
	src.QueueError("id:3", &catalog.RateLimitError{Source: "books", RetryAfter: 30 * time.Second})

	p := newTestPipeline(store, clock)
	stats, err := p.Run(context.Background(), src, Query{Text: "books"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Attempted)
	assert.Equal(t, 5, stats.Added)
	assert.Equal(t, 0, stats.Failed)
	assert.GreaterOrEqual(t, clock.Slept(), 30*time.Second)

	var fetches3 int
	for _, call := range src.Called() {
		if call == "id:3" {
			fetches3++
		}
	}
	assert.Equal(t, 2, fetches3)
}

func TestRun_RateLimitedTwiceFailsCandidate(t *testing.T) {
	store := testutils.NewMemoryStore()
	clock := newFakeClock()
	src := testutils.NewFakeSource("books")
	for i := 1; i <= 3; i++ {
		id := fmt.Sprint(i)
		src.Results = append(src.Results, partial("books", id, "Book "+id))
		detail := candidate("books", id, "", "")
		src.ByID[id] = &detail
	}
	src.QueueError("id:2", catalog.ErrRateLimited, catalog.ErrRateLimited)

	p := newTestPipeline(store, clock)
	stats, err := p.Run(context.Background(), src, Query{Text: "books"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Attempted)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 1, stats.Failed)
	assert.ErrorIs(t, stats.Failures[0].Err, catalog.ErrRateLimited)
	assert.GreaterOrEqual(t, clock.Slept(), testCooldown)
}

func TestRun_EnqueueFailureDoesNotFailCandidate(t *testing.T) {
	store := testutils.NewMemoryStore()
	src := testutils.NewFakeSource("books")
	src.Results = []models.Candidate{candidate("books", "1", "Atomic Habits", "")}

	p := newTestPipeline(store, newFakeClock(), WithEnqueue(func(context.Context, string) error {
		return errors.New("queue down")
	}))
	stats, err := p.Run(context.Background(), src, Query{Text: "habits"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 0, stats.Failed)
}

func TestRun_StoreErrorFailsCandidate(t *testing.T) {
	store := testutils.NewMemoryStore()
	store.FailNext("InsertBook", errors.New("disk full"))
	src := testutils.NewFakeSource("books")
	src.Results = []models.Candidate{
		candidate("books", "1", "Atomic Habits", ""),
		candidate("books", "2", "Deep Work", ""),
	}

	p := newTestPipeline(store, newFakeClock())
	stats, err := p.Run(context.Background(), src, Query{Text: "x"}, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Added)
	assert.Contains(t, stats.Failures[0].Message, "disk full")
}

func TestRunSources_SharedISBNStoredOnce(t *testing.T) {
	store := testutils.NewMemoryStore()
	a := testutils.NewFakeSource("google_books")
	a.Results = []models.Candidate{candidate("google_books", "g1", "Atomic Habits", "9780735211292")}
	b := testutils.NewFakeSource("hardcover")
	b.Results = []models.Candidate{candidate("hardcover", "h1", "Atomic Habits", "978-0735211292")}

	p := newTestPipeline(store, newFakeClock())
	report, err := p.RunSources(context.Background(), []catalog.Source{a, b}, Query{Text: "habits"}, 5, nil, nil)
	require.NoError(t, err)

	assert.Len(t, store.Books(), 1)
	assert.Equal(t, 2, report.Total.Attempted)
	assert.Equal(t, 1, report.Total.Added)
	assert.Equal(t, 1, report.Total.Duplicate)
	assert.Equal(t, []string{"google_books", "hardcover"}, report.SourceNames())
}

func TestRunSources_FailingSearchDoesNotStopOthers(t *testing.T) {
	store := testutils.NewMemoryStore()
	bad := testutils.NewFakeSource("bad")
	bad.QueueError("search", catalog.ErrUnavailable)
	good := testutils.NewFakeSource("good")
	good.Results = []models.Candidate{candidate("good", "1", "Deep Work", "")}

	p := newTestPipeline(store, newFakeClock())
	report, err := p.RunSources(context.Background(), []catalog.Source{bad, good}, Query{Text: "x"}, 5, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
	assert.Contains(t, err.Error(), "bad")

	assert.Equal(t, 1, report.Sources["good"].Added)
	assert.Equal(t, 0, report.Sources["bad"].Attempted)
	assert.Len(t, store.Books(), 1)
}

func TestRunSources_Selector(t *testing.T) {
	a := testutils.NewFakeSource("a")
	b := testutils.NewFakeSource("b")
	b.Results = []models.Candidate{candidate("b", "1", "Deep Work", "")}

	p := newTestPipeline(testutils.NewMemoryStore(), newFakeClock())
	report, err := p.RunSources(context.Background(), []catalog.Source{a, b}, Query{Text: "x"}, 5, nil, catalog.SelectNames("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, report.SourceNames())
	assert.Empty(t, a.Called())

	_, err = p.RunSources(context.Background(), []catalog.Source{a, b}, Query{Text: "x"}, 5, nil, catalog.SelectNames("none"))
	assert.Error(t, err)
}

func TestPipeline_LimiterPerSource(t *testing.T) {
	p := newTestPipeline(testutils.NewMemoryStore(), newFakeClock())
	assert.Same(t, p.Limiter("a"), p.Limiter("a"))
	assert.NotSame(t, p.Limiter("a"), p.Limiter("b"))
}

func TestReport_String(t *testing.T) {
	r := newReport()
	r.Sources["a"] = &Stats{Source: "a", Attempted: 2, Added: 1, Duplicate: 1}
	r.Total.Merge(r.Sources["a"])
	assert.Equal(t,
		"a: attempted=2 added=1 duplicate=1 failed=0\ntotal: attempted=2 added=1 duplicate=1 failed=0",
		r.String())
	assert.NoError(t, r.Err())
}
