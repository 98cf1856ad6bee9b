// Package catalog defines the contract every external book catalog adapter
// implements, along with the errors adapters report.
package catalog

import (
	"context"

	"github.com/drallgood/catalog-summarizer/internal/models"
)

// Source is an external catalog that can be searched for candidates.
//
// Implementations return ErrNotFound (possibly wrapped) when a lookup by id or
// ISBN has no result, a *RateLimitError when the upstream throttles, and an
// error wrapping ErrUnavailable for transport failures and 5xx responses.
type Source interface {
	// Name returns the stable source identifier stored on ingested books.
	Name() string

	// Search returns at most maxResults candidates for a free-text query.
	// Results may be Partial and need a FetchByID call before insertion.
	Search(ctx context.Context, query string, maxResults int) ([]models.Candidate, error)

	// FetchByID returns the full record for a source-specific id.
	FetchByID(ctx context.Context, externalID string) (*models.Candidate, error)

	// FetchByISBN returns the record for an ISBN-10 or ISBN-13.
	FetchByISBN(ctx context.Context, isbn string) (*models.Candidate, error)
}

// Selector reports whether a source takes part in a batch.
type Selector func(name string) bool

// SelectAll selects every source.
func SelectAll(string) bool { return true }

// SelectNames returns a Selector for the given source names. An empty list selects all.
func SelectNames(names ...string) Selector {
	if len(names) == 0 {
		return SelectAll
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[name]
		return ok
	}
}
