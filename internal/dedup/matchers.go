package dedup

import (
	"context"

	"github.com/drallgood/catalog-summarizer/internal/models"
)

const (
	MatchExternalID  = "external_id"
	MatchISBN13      = "isbn13"
	MatchISBN10      = "isbn10"
	MatchTitleAuthor = "title_author"
)

type ExternalIDMatcher struct{ Store BookFinder }

func (ExternalIDMatcher) Name() string { return MatchExternalID }

func (m ExternalIDMatcher) Match(ctx context.Context, c *models.Candidate) (*models.Book, error) {
	if c.ExternalID == "" {
		return nil, nil
	}
	return m.Store.FindByExternalID(ctx, c.ExternalID)
}

type ISBN13Matcher struct{ Store BookFinder }

func (ISBN13Matcher) Name() string { return MatchISBN13 }

func (m ISBN13Matcher) Match(ctx context.Context, c *models.Candidate) (*models.Book, error) {
	if c.ISBN13 == "" {
		return nil, nil
	}
	return m.Store.FindByISBN13(ctx, c.ISBN13)
}

type ISBN10Matcher struct{ Store BookFinder }

func (ISBN10Matcher) Name() string { return MatchISBN10 }

func (m ISBN10Matcher) Match(ctx context.Context, c *models.Candidate) (*models.Book, error) {
	if c.ISBN10 == "" {
		return nil, nil
	}
	return m.Store.FindByISBN10(ctx, c.ISBN10)
}

// TitleAuthorMatcher compares the case-folded title and first author.
type TitleAuthorMatcher struct{ Store BookFinder }

func (TitleAuthorMatcher) Name() string { return MatchTitleAuthor }

func (m TitleAuthorMatcher) Match(ctx context.Context, c *models.Candidate) (*models.Book, error) {
	if models.NormalizeKey(c.Title) == "" || models.NormalizeKey(c.PrimaryAuthor()) == "" {
		return nil, nil
	}
	return m.Store.FindByTitleAuthor(ctx, c.Title, c.PrimaryAuthor())
}
