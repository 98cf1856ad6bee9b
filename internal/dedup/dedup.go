// Package dedup decides whether an incoming catalog candidate describes a book
// that is already stored.
package dedup

import (
	"context"
	"fmt"

	"github.com/drallgood/catalog-summarizer/internal/models"
)

// BookFinder is the subset of the catalog store used for matching. Each
// method returns (nil, nil) when nothing matches.
type BookFinder interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.Book, error)
	FindByISBN13(ctx context.Context, isbn13 string) (*models.Book, error)
	FindByISBN10(ctx context.Context, isbn10 string) (*models.Book, error)
	FindByTitleAuthor(ctx context.Context, title, author string) (*models.Book, error)
}

// Matcher is one step of the match chain.
type Matcher interface {
	Name() string
	// Match returns the stored book the candidate duplicates, or nil. A
	// matcher whose key is absent on the candidate returns nil without
	// querying the store.
	Match(ctx context.Context, c *models.Candidate) (*models.Book, error)
}

// Match is a positive dedup result.
type Match struct {
	Book      *models.Book
	MatchedBy string
}

// Engine runs matchers in order and stops at the first hit.
type Engine struct {
	matchers []Matcher
}

// NewEngine returns the default chain: external id, ISBN-13, ISBN-10, then
// title with primary author.
func NewEngine(store BookFinder) *Engine {
	return NewEngineWithMatchers(
		ExternalIDMatcher{Store: store},
		ISBN13Matcher{Store: store},
		ISBN10Matcher{Store: store},
		TitleAuthorMatcher{Store: store},
	)
}

// NewEngineWithMatchers builds an engine from an explicit chain.
func NewEngineWithMatchers(matchers ...Matcher) *Engine {
	return &Engine{matchers: matchers}
}

// Matchers returns the names of the configured steps in order.
func (e *Engine) Matchers() []string {
	names := make([]string, len(e.matchers))
	for i, m := range e.matchers {
		names[i] = m.Name()
	}
	return names
}

// Match returns the first matching stored book, or nil if the candidate is new.
func (e *Engine) Match(ctx context.Context, c *models.Candidate) (*Match, error) {
	for _, m := range e.matchers {
		book, err := m.Match(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("dedup %s: %w", m.Name(), err)
		}
		if book != nil {
			return &Match{Book: book, MatchedBy: m.Name()}, nil
		}
	}
	return nil, nil
}
