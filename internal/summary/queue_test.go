package summary

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/testutils"
)

func TestRequestSummary_UnknownBook(t *testing.T) {
	f := newFixture(t)

	job, err := f.queue.RequestSummary(context.Background(), "missing", false)
	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrBookNotFound)
	assert.Equal(t, 0, f.store.Calls("InsertJob"))
}

func TestRequestSummary_CreatesPendingJob(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, "Atomic Habits")

	job, err := f.queue.RequestSummary(context.Background(), book.ID, false, WithStyle(StyleDetailed))
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, StyleDetailed, job.Style)
	assert.Equal(t, 0, job.RetryCount)
	assert.False(t, job.Reused)

	polled, err := f.queue.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, polled.ID)
}

func TestRequestSummary_ReusesExistingSummary(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, "Atomic Habits")
	saved, err := f.service.Save(context.Background(), book.ID, StyleConcise, testContent("existing"))
	require.NoError(t, err)

	job, err := f.queue.RequestSummary(context.Background(), book.ID, false)
	require.NoError(t, err)
	assert.True(t, job.Reused)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, saved.ID, job.SummaryID)
	assert.Empty(t, f.store.Jobs(book.ID))

	processed, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	f.sum.AssertNotCalled(t, "GeneratePrimary")
}

func TestRequestSummary_RegenerateIgnoresExistingSummary(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, "Atomic Habits")
	_, err := f.service.Save(context.Background(), book.ID, StyleConcise, testContent("existing"))
	require.NoError(t, err)

	job, err := f.queue.RequestSummary(context.Background(), book.ID, true)
	require.NoError(t, err)
	assert.False(t, job.Reused)
	assert.True(t, job.Regenerate)
	assert.Len(t, f.store.Jobs(book.ID), 1)
}

func TestRequestSummary_ReturnsActiveJob(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, "Atomic Habits")
	ctx := context.Background()

	first, err := f.queue.RequestSummary(ctx, book.ID, false)
	require.NoError(t, err)

	claimed, err := f.queue.DequeueNext(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, claimed.ID)

	second, err := f.queue.RequestSummary(ctx, book.ID, true)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.JobProcessing, second.Status)
}

func TestRequestSummary_ConcurrentRequestsShareOneJob(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, "Atomic Habits")

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := f.queue.RequestSummary(context.Background(), book.ID, false)
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.store.Jobs(book.ID), 1)
}

// racingStore simulates another process inserting an active job between the
// queue's check and its insert.
type racingStore struct {
	*testutils.MemoryStore
	competitor *models.SummaryJob
}

func (r *racingStore) InsertJob(ctx context.Context, job *models.SummaryJob) error {
	if r.competitor == nil {
		r.competitor = models.NewSummaryJob(job.BookID, job.Style, false)
		if err := r.MemoryStore.InsertJob(ctx, r.competitor); err != nil {
			return err
		}
	}
	return r.MemoryStore.InsertJob(ctx, job)
}

func TestRequestSummary_LostInsertRaceReturnsWinner(t *testing.T) {
	mem := testutils.NewMemoryStore()
	store := &racingStore{MemoryStore: mem}
	book := &models.Book{Title: "Deep Work", Authors: []string{"Cal Newport"}}
	require.NoError(t, mem.InsertBook(context.Background(), book))

	q := NewQueue(store, "", nil)
	job, err := q.RequestSummary(context.Background(), book.ID, false)
	require.NoError(t, err)
	assert.Equal(t, store.competitor.ID, job.ID)
	assert.Len(t, mem.Jobs(book.ID), 1)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addBook(t, "Atomic Habits")
	b := f.addBook(t, "Deep Work")

	_, err := f.queue.RequestSummary(ctx, a.ID, false)
	require.NoError(t, err)
	_, err = f.queue.RequestSummary(ctx, b.ID, false)
	require.NoError(t, err)
	_, err = f.queue.DequeueNext(ctx)
	require.NoError(t, err)

	pending, err := f.queue.ListJobs(ctx, models.JobPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].BookID)

	all, err := f.queue.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.queue.ListJobs(ctx, models.JobStatus("bogus"), 0)
	assert.Error(t, err)
}

func TestGetJob_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDequeueNext_Empty(t *testing.T) {
	f := newFixture(t)
	job, err := f.queue.DequeueNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}
