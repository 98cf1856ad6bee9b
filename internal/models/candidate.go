package models

import (
	"strings"
)

// Candidate is an unvalidated book record produced by a catalog source.
type Candidate struct {
	Source          string   `json:"source"`
	ExternalID      string   `json:"external_id,omitempty"`
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle,omitempty"`
	Authors         []string `json:"authors,omitempty"`
	Description     string   `json:"description,omitempty"`
	ISBN10          string   `json:"isbn10,omitempty"`
	ISBN13          string   `json:"isbn13,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	PopularityRank  *int     `json:"popularity_rank,omitempty"`
	IsBestseller    bool     `json:"is_bestseller,omitempty"`
	IsNYTBestseller bool     `json:"is_nyt_bestseller,omitempty"`
	PublishedDate   string   `json:"published_date,omitempty"`
	PageCount       int      `json:"page_count,omitempty"`
	CoverURL        string   `json:"cover_url,omitempty"`

	// Partial marks a search hit that still needs a detail fetch.
	Partial bool `json:"partial,omitempty"`
}

// Normalize trims text fields and canonicalizes identifiers in place.
func (c *Candidate) Normalize() {
	c.ExternalID = strings.TrimSpace(c.ExternalID)
	c.Title = strings.TrimSpace(c.Title)
	c.Subtitle = strings.TrimSpace(c.Subtitle)
	c.ISBN10 = NormalizeISBN(c.ISBN10)
	c.ISBN13 = NormalizeISBN(c.ISBN13)
	if len(c.ISBN10) == 13 && c.ISBN13 == "" {
		c.ISBN13, c.ISBN10 = c.ISBN10, ""
	}
	if len(c.ISBN13) == 10 {
		if c.ISBN10 == "" {
			c.ISBN10 = c.ISBN13
		}
		c.ISBN13 = ""
	}
	if len(c.ISBN10) != 10 {
		c.ISBN10 = ""
	}
	authors := c.Authors[:0:0]
	for _, a := range c.Authors {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	c.Authors = authors
	c.Categories = NormalizeSet(c.Categories)
}

// PrimaryAuthor returns the first listed author, or "".
func (c *Candidate) PrimaryAuthor() string {
	if len(c.Authors) == 0 {
		return ""
	}
	return c.Authors[0]
}

// Identifier returns a human-readable key for logs and failure reports.
func (c *Candidate) Identifier() string {
	switch {
	case c.ExternalID != "":
		return c.Source + ":" + c.ExternalID
	case c.ISBN13 != "":
		return "isbn13:" + c.ISBN13
	case c.ISBN10 != "":
		return "isbn10:" + c.ISBN10
	default:
		return "title:" + c.Title
	}
}

// Merge fills empty fields of c from detail. Identifiers already present on c win.
func (c *Candidate) Merge(detail *Candidate) {
	if detail == nil {
		return
	}
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&c.ExternalID, detail.ExternalID)
	fill(&c.Title, detail.Title)
	fill(&c.Subtitle, detail.Subtitle)
	fill(&c.Description, detail.Description)
	fill(&c.ISBN10, detail.ISBN10)
	fill(&c.ISBN13, detail.ISBN13)
	fill(&c.PublishedDate, detail.PublishedDate)
	fill(&c.CoverURL, detail.CoverURL)
	if len(c.Authors) == 0 {
		c.Authors = append([]string(nil), detail.Authors...)
	}
	if len(detail.Categories) > 0 {
		c.Categories = NormalizeSet(append(c.Categories, detail.Categories...))
	}
	if c.PopularityRank == nil {
		c.PopularityRank = detail.PopularityRank
	}
	if c.PageCount == 0 {
		c.PageCount = detail.PageCount
	}
	c.IsBestseller = c.IsBestseller || detail.IsBestseller
	c.IsNYTBestseller = c.IsNYTBestseller || detail.IsNYTBestseller
	c.Partial = false
}

// ToBook converts the candidate into a new, unsaved Book.
func (c *Candidate) ToBook() *Book {
	b := &Book{
		Title:           c.Title,
		Subtitle:        stringPtr(c.Subtitle),
		Authors:         append([]string(nil), c.Authors...),
		Description:     c.Description,
		ISBN10:          stringPtr(c.ISBN10),
		ISBN13:          stringPtr(c.ISBN13),
		ExternalID:      stringPtr(c.ExternalID),
		Source:          c.Source,
		Categories:      NormalizeSet(c.Categories),
		PopularityRank:  c.PopularityRank,
		IsBestseller:    c.IsBestseller,
		IsNYTBestseller: c.IsNYTBestseller,
		PublishedDate:   c.PublishedDate,
		PageCount:       c.PageCount,
		CoverURL:        c.CoverURL,
	}
	b.RefreshKeys()
	return b
}
