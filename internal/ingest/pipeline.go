// Package ingest pulls candidates from catalog sources into the store,
// skipping duplicates and scheduling summaries for new books.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drallgood/catalog-summarizer/internal/catalog"
	"github.com/drallgood/catalog-summarizer/internal/dedup"
	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/metrics"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/util"
)

const (
	DefaultTarget    = 20
	DefaultOverFetch = 2
	// MaxSearchResults caps a single search request.
	MaxSearchResults = 40

	matchedBySeen = "seen_in_run"
)

// ErrInvalidCandidate is recorded for candidates without a title or author,
// and for partial records that carry no id to fetch details by.
var ErrInvalidCandidate = errors.New("candidate is missing title or author")

// Store is the catalog store subset used for ingestion.
type Store interface {
	dedup.BookFinder
	InsertBook(ctx context.Context, book *models.Book) error
}

// EnqueueFunc schedules a summary for a newly added book.
type EnqueueFunc func(ctx context.Context, bookID string) error

// Query selects what a run ingests. Text searches the source; ExternalIDs
// and ISBNs are fetched one by one. All three may be combined.
type Query struct {
	Text        string
	ExternalIDs []string
	ISBNs       []string
}

// IsEmpty reports whether the query selects nothing.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.Text) == "" && len(q.ExternalIDs) == 0 && len(q.ISBNs) == 0
}

// Priority reports whether a candidate should be processed ahead of others.
type Priority func(models.Candidate) bool

// BestsellersFirst prioritizes candidates flagged as bestsellers.
func BestsellersFirst(c models.Candidate) bool {
	return c.IsBestseller || c.IsNYTBestseller
}

// Config tunes pacing and fetch sizes. Zero values fall back to the limiter
// defaults, except MinInterval where zero disables spacing.
type Config struct {
	OverFetch   int
	Window      time.Duration
	MaxCalls    int
	MinInterval time.Duration
	Cooldown    time.Duration
}

// Pipeline ingests candidates. Each source gets its own rate limiter.
type Pipeline struct {
	store   Store
	engine  *dedup.Engine
	enqueue EnqueueFunc
	cfg     Config
	logger  *logger.Logger

	limiterOpts []util.Option
	mu          sync.Mutex
	limiters    map[string]*util.RateLimiter

	// writeMu makes the final dedup check and the insert atomic across
	// sources running concurrently.
	writeMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEnqueue schedules a summary for every added book.
func WithEnqueue(fn EnqueueFunc) Option {
	return func(p *Pipeline) { p.enqueue = fn }
}

// WithEngine replaces the default dedup chain.
func WithEngine(e *dedup.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithLimiterOptions passes options to every per-source rate limiter.
func WithLimiterOptions(opts ...util.Option) Option {
	return func(p *Pipeline) { p.limiterOpts = append(p.limiterOpts, opts...) }
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(store Store, cfg Config, log *logger.Logger, opts ...Option) *Pipeline {
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = DefaultOverFetch
	}
	if log == nil {
		log = logger.Get()
	}
	p := &Pipeline{
		store:    store,
		engine:   dedup.NewEngine(store),
		cfg:      cfg,
		logger:   log.With(map[string]interface{}{"component": "ingest"}),
		limiters: make(map[string]*util.RateLimiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Limiter returns the rate limiter used for source, creating it on first use.
func (p *Pipeline) Limiter(source string) *util.RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[source]; ok {
		return l
	}
	opts := append([]util.Option{util.WithName(source)}, p.limiterOpts...)
	l := util.NewRateLimiter(p.cfg.Window, p.cfg.MaxCalls, p.cfg.MinInterval, p.cfg.Cooldown, opts...)
	p.limiters[source] = l
	return l
}

type item struct {
	cand      models.Candidate
	fetchID   string
	fetchISBN string
}

func (it *item) identifier() string {
	switch {
	case it.fetchID != "":
		return it.cand.Source + ":" + it.fetchID
	case it.fetchISBN != "":
		return "isbn:" + it.fetchISBN
	default:
		return it.cand.Identifier()
	}
}

// run holds the per-run state of one source.
type run struct {
	src     catalog.Source
	limiter *util.RateLimiter
	seen    map[string]struct{}
	stats   *Stats
	log     *logger.Logger
}

// Run ingests up to target candidates from src. Candidates matching priority
// are processed first. Per-candidate failures are counted and do not stop the
// run; only a failed search is returned as an error.
func (p *Pipeline) Run(ctx context.Context, src catalog.Source, q Query, target int, priority Priority) (*Stats, error) {
	if target <= 0 {
		target = DefaultTarget
	}
	r := &run{
		src:     src,
		limiter: p.Limiter(src.Name()),
		seen:    make(map[string]struct{}),
		stats:   &Stats{Source: src.Name()},
		log:     p.logger.With(map[string]interface{}{"source": src.Name()}),
	}
	if q.IsEmpty() {
		return r.stats, fmt.Errorf("empty query for source %s", src.Name())
	}

	started := time.Now()
	r.log.Info("Starting ingestion run", map[string]interface{}{
		"query":  q.Text,
		"ids":    len(q.ExternalIDs),
		"isbns":  len(q.ISBNs),
		"target": target,
	})

	items, err := p.collect(ctx, r, q, target)
	if err != nil {
		r.log.Error("Search failed", map[string]interface{}{"error": err.Error()})
		return r.stats, err
	}
	prioritize(items, priority)

	for i := range items {
		if r.stats.Attempted >= target {
			break
		}
		if err := ctx.Err(); err != nil {
			r.log.Warn("Ingestion run canceled", map[string]interface{}{"attempted": r.stats.Attempted})
			return r.stats, err
		}
		p.process(ctx, r, &items[i])
	}

	r.log.Info("Ingestion run complete", map[string]interface{}{
		"attempted": r.stats.Attempted,
		"added":     r.stats.Added,
		"duplicate": r.stats.Duplicate,
		"failed":    r.stats.Failed,
		"duration":  time.Since(started).String(),
	})
	for _, f := range r.stats.Failures {
		r.log.Warn("Candidate failed, retry manually", map[string]interface{}{
			"candidate": f.Candidate,
			"error":     f.Message,
		})
	}
	return r.stats, nil
}

// RunSources runs every selected source concurrently. Each source is processed
// sequentially. Per-source run errors are collected in the report; one failing
// source never stops the others.
func (p *Pipeline) RunSources(ctx context.Context, sources []catalog.Source, q Query, target int, priority Priority, selector catalog.Selector) (*Report, error) {
	if selector == nil {
		selector = catalog.SelectAll
	}
	report := newReport()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, src := range sources {
		if !selector(src.Name()) {
			continue
		}
		src := src
		g.Go(func() error {
			stats, err := p.Run(ctx, src, q, target, priority)
			mu.Lock()
			defer mu.Unlock()
			report.Sources[src.Name()] = stats
			report.Total.Merge(stats)
			if err != nil {
				report.Errors[src.Name()] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(report.Sources) == 0 {
		return report, fmt.Errorf("no catalog source selected")
	}
	return report, report.Err()
}

func (p *Pipeline) collect(ctx context.Context, r *run, q Query, target int) ([]item, error) {
	var items []item

	if text := strings.TrimSpace(q.Text); text != "" {
		maxResults := target * p.cfg.OverFetch
		if maxResults > MaxSearchResults {
			maxResults = MaxSearchResults
		}
		var results []models.Candidate
		err := p.call(ctx, r, func(ctx context.Context) error {
			var err error
			results, err = r.src.Search(ctx, text, maxResults)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", r.src.Name(), err)
		}
		for _, c := range results {
			if c.Source == "" {
				c.Source = r.src.Name()
			}
			items = append(items, item{cand: c})
		}
	}

	for _, id := range q.ExternalIDs {
		if id = strings.TrimSpace(id); id != "" {
			items = append(items, item{cand: models.Candidate{Source: r.src.Name(), ExternalID: id}, fetchID: id})
		}
	}
	for _, isbn := range q.ISBNs {
		if isbn = strings.TrimSpace(isbn); isbn != "" {
			items = append(items, item{cand: models.Candidate{Source: r.src.Name()}, fetchISBN: isbn})
		}
	}
	return items, nil
}

// prioritize moves priority candidates to the front, keeping relative order.
func prioritize(items []item, priority Priority) {
	if priority == nil {
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		return priority(items[i].cand) && !priority(items[j].cand)
	})
}

// call runs one external request under the source's rate limiter. A rate-limit
// response triggers a cooldown and exactly one retry.
func (p *Pipeline) call(ctx context.Context, r *run, fn func(context.Context) error) error {
	if err := r.limiter.Acquire(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if err == nil || !catalog.IsRetryable(err) {
		return err
	}

	cooldown := r.limiter.OnRateLimit(catalog.RetryAfter(err))
	metrics.RecordCooldown(r.src.Name())
	r.log.Warn("Rate limited, retrying once after cooldown", map[string]interface{}{
		"cooldown": cooldown.String(),
	})
	if err := r.limiter.Acquire(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

func (p *Pipeline) process(ctx context.Context, r *run, it *item) {
	r.stats.Attempted++
	id := it.identifier()

	if err := p.ingest(ctx, r, it); err != nil {
		r.stats.addFailure(id, catalog.WithCandidate(err, id))
		metrics.RecordCandidate(r.src.Name(), metrics.ResultFailed)
		r.log.Debug("Candidate failed", map[string]interface{}{
			"candidate": id,
			"error":     err.Error(),
		})
	}
}

// ingest handles one candidate. Duplicates and additions update the stats
// directly; any returned error is a failure.
func (p *Pipeline) ingest(ctx context.Context, r *run, it *item) error {
	c := it.cand

	switch {
	case it.fetchID != "":
		fetched, err := p.fetch(ctx, r, func(ctx context.Context) (*models.Candidate, error) {
			return r.src.FetchByID(ctx, it.fetchID)
		})
		if err != nil {
			return err
		}
		c = *fetched
	case it.fetchISBN != "":
		fetched, err := p.fetch(ctx, r, func(ctx context.Context) (*models.Candidate, error) {
			return r.src.FetchByISBN(ctx, it.fetchISBN)
		})
		if err != nil {
			return err
		}
		c = *fetched
	}
	if c.Source == "" {
		c.Source = r.src.Name()
	}
	c.Normalize()

	if !c.Partial && !valid(&c) {
		return ErrInvalidCandidate
	}
	if r.seenBefore(&c) {
		p.duplicate(r, &c, matchedBySeen)
		return nil
	}

	if c.Partial {
		// Skip the detail fetch for candidates already known by id or ISBN.
		m, err := p.engine.Match(ctx, &c)
		if err != nil {
			return err
		}
		if m != nil {
			p.duplicate(r, &c, m.MatchedBy)
			return nil
		}
		if c.ExternalID == "" {
			return fmt.Errorf("%w: partial record without id", ErrInvalidCandidate)
		}

		detail, err := p.fetch(ctx, r, func(ctx context.Context) (*models.Candidate, error) {
			return r.src.FetchByID(ctx, c.ExternalID)
		})
		if err != nil {
			return fmt.Errorf("detail fetch: %w", err)
		}
		detail.Normalize()
		c.Merge(detail)
		c.Normalize()
		if !valid(&c) {
			return ErrInvalidCandidate
		}
		if r.seenBefore(&c) {
			p.duplicate(r, &c, matchedBySeen)
			return nil
		}
	}

	book, matchedBy, err := p.insert(ctx, &c)
	if err != nil {
		return err
	}
	if book == nil {
		p.duplicate(r, &c, matchedBy)
		return nil
	}

	r.markSeen(&c)
	r.stats.Added++
	metrics.RecordCandidate(r.src.Name(), metrics.ResultAdded)
	r.log.Debug("Book added", map[string]interface{}{
		"book_id": book.ID,
		"title":   book.Title,
	})

	if p.enqueue != nil {
		if err := p.enqueue(ctx, book.ID); err != nil {
			r.log.Warn("Failed to enqueue summary for new book", map[string]interface{}{
				"book_id": book.ID,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

// insert stores c unless a matching book exists. It returns the new book, or
// nil and the name of the matching key.
func (p *Pipeline) insert(ctx context.Context, c *models.Candidate) (*models.Book, string, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	m, err := p.engine.Match(ctx, c)
	if err != nil {
		return nil, "", err
	}
	if m != nil {
		return nil, m.MatchedBy, nil
	}

	book := c.ToBook()
	if err := p.store.InsertBook(ctx, book); err != nil {
		return nil, "", err
	}
	return book, "", nil
}

func (p *Pipeline) fetch(ctx context.Context, r *run, fn func(context.Context) (*models.Candidate, error)) (*models.Candidate, error) {
	var out *models.Candidate
	err := p.call(ctx, r, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, catalog.ErrNotFound
	}
	return out, nil
}

func (p *Pipeline) duplicate(r *run, c *models.Candidate, matchedBy string) {
	r.markSeen(c)
	r.stats.Duplicate++
	metrics.RecordDuplicate(r.src.Name(), matchedBy)
	r.log.Debug("Duplicate candidate skipped", map[string]interface{}{
		"candidate":  c.Identifier(),
		"matched_by": matchedBy,
	})
}

func valid(c *models.Candidate) bool {
	return c.Title != "" && len(c.Authors) > 0
}

func seenKeys(c *models.Candidate) []string {
	var keys []string
	if c.ExternalID != "" {
		keys = append(keys, "id:"+c.Source+":"+c.ExternalID)
	}
	if c.ISBN13 != "" {
		keys = append(keys, "isbn13:"+c.ISBN13)
	}
	if c.ISBN10 != "" {
		keys = append(keys, "isbn10:"+c.ISBN10)
	}
	return keys
}

func (r *run) seenBefore(c *models.Candidate) bool {
	for _, k := range seenKeys(c) {
		if _, ok := r.seen[k]; ok {
			return true
		}
	}
	return false
}

func (r *run) markSeen(c *models.Candidate) {
	for _, k := range seenKeys(c) {
		r.seen[k] = struct{}{}
	}
}
