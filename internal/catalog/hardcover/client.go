// Package hardcover adapts the Hardcover GraphQL API to catalog.Source.
package hardcover

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	graphql "github.com/hasura/go-graphql-client"

	"github.com/drallgood/catalog-summarizer/internal/catalog"
	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/util"
)

const (
	// SourceName is stored on books ingested from Hardcover
	SourceName = "hardcover"
	// DefaultBaseURL is the Hardcover GraphQL endpoint
	DefaultBaseURL = "https://api.hardcover.app/v1/graphql"
	// DefaultTimeout bounds a single GraphQL request
	DefaultTimeout = 30 * time.Second
	// MaxPageSize is the largest page the search endpoint returns
	MaxPageSize = 25
)

// ClientConfig holds the configuration for the Hardcover client
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client is a catalog.Source backed by the Hardcover GraphQL API.
type Client struct {
	baseURL   string
	gqlClient *graphql.Client
	logger    *logger.Logger
	now       func() time.Time
}

var _ catalog.Source = (*Client)(nil)

type statusKey struct{}

// responseStatus is filled in by the transport so that HTTP-level outcomes
// survive the GraphQL client's error handling.
type responseStatus struct {
	code       int
	retryAfter string
}

// headerAddingTransport is an http.RoundTripper that adds the required headers
// for authenticating with the Hardcover API and records the response status.
type headerAddingTransport struct {
	token string
	rt    http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *headerAddingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.token != "" {
		token := strings.TrimSpace(t.token)
		if !strings.HasPrefix(token, "Bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.rt.RoundTrip(req)
	if st, ok := req.Context().Value(statusKey{}).(*responseStatus); ok && resp != nil {
		st.code = resp.StatusCode
		st.retryAfter = resp.Header.Get("Retry-After")
	}
	return resp, err
}

// NewClient creates a new Hardcover client
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Get()
	}

	authClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerAddingTransport{
			token: cfg.Token,
			rt:    http.DefaultTransport,
		},
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		gqlClient: graphql.NewClient(cfg.BaseURL, authClient),
		logger:    log.With(map[string]interface{}{"component": "hardcover_client"}),
		now:       time.Now,
	}
}

// Name implements catalog.Source
func (c *Client) Name() string { return SourceName }

const bookFields = `
	id
	title
	subtitle
	description
	release_date
	pages
	users_count
	cached_tags
	image { url }
	contributions(order_by: {id: asc}) { author { name } }
	editions(order_by: {users_count: desc}, limit: 10) { isbn_10 isbn_13 }
`

type hcBook struct {
	ID          json.Number     `json:"id"`
	Title       string          `json:"title"`
	Subtitle    *string         `json:"subtitle"`
	Description *string         `json:"description"`
	ReleaseDate *string         `json:"release_date"`
	Pages       *int            `json:"pages"`
	UsersCount  int             `json:"users_count"`
	CachedTags  json.RawMessage `json:"cached_tags"`
	Image       *struct {
		URL string `json:"url"`
	} `json:"image"`
	Contributions []struct {
		Author struct {
			Name string `json:"name"`
		} `json:"author"`
	} `json:"contributions"`
	Editions []struct {
		ISBN10 *string `json:"isbn_10"`
		ISBN13 *string `json:"isbn_13"`
	} `json:"editions"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// genres extracts the Genre tags from the cached_tags blob. Unknown shapes yield nil.
func genres(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var tags map[string][]struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	var out []string
	for _, t := range tags["Genre"] {
		out = append(out, t.Tag)
	}
	return out
}

func (b *hcBook) toCandidate() models.Candidate {
	c := models.Candidate{
		Source:        SourceName,
		ExternalID:    b.ID.String(),
		Title:         b.Title,
		Subtitle:      deref(b.Subtitle),
		Description:   deref(b.Description),
		PublishedDate: deref(b.ReleaseDate),
		Categories:    genres(b.CachedTags),
	}
	if b.Pages != nil {
		c.PageCount = *b.Pages
	}
	if b.Image != nil {
		c.CoverURL = b.Image.URL
	}
	for _, contrib := range b.Contributions {
		if contrib.Author.Name != "" {
			c.Authors = append(c.Authors, contrib.Author.Name)
		}
	}
	for _, ed := range b.Editions {
		if c.ISBN13 == "" {
			c.ISBN13 = deref(ed.ISBN13)
		}
		if c.ISBN10 == "" {
			c.ISBN10 = deref(ed.ISBN10)
		}
	}
	c.Normalize()
	return c
}

// Search implements catalog.Source
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]models.Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query cannot be empty")
	}
	if maxResults <= 0 || maxResults > MaxPageSize {
		maxResults = MaxPageSize
	}

	const searchQuery = `
		query SearchBooks($query: String!, $perPage: Int!) {
			search(query: $query, query_type: "Book", per_page: $perPage) {
				error
				results
			}
		}`

	var response struct {
		Search struct {
			Error   *string         `json:"error"`
			Results json.RawMessage `json:"results"`
		} `json:"search"`
	}
	if err := c.exec(ctx, searchQuery, map[string]interface{}{
		"query":   query,
		"perPage": maxResults,
	}, &response); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if msg := deref(response.Search.Error); msg != "" {
		return nil, fmt.Errorf("search API error: %s", msg)
	}
	if len(response.Search.Results) == 0 {
		return nil, nil
	}

	var results struct {
		Hits []struct {
			Document struct {
				ID          json.Number `json:"id"`
				Title       string      `json:"title"`
				Subtitle    string      `json:"subtitle"`
				AuthorNames []string    `json:"author_names"`
				ISBNs       []string    `json:"isbns"`
				Description string      `json:"description"`
				ReleaseDate string      `json:"release_date"`
				Pages       int         `json:"pages"`
				Genres      []string    `json:"genres"`
				Image       struct {
					URL string `json:"url"`
				} `json:"image"`
			} `json:"document"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(response.Search.Results, &results); err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	candidates := make([]models.Candidate, 0, len(results.Hits))
	for _, hit := range results.Hits {
		doc := hit.Document
		cand := models.Candidate{
			Source:        SourceName,
			ExternalID:    doc.ID.String(),
			Title:         doc.Title,
			Subtitle:      doc.Subtitle,
			Authors:       doc.AuthorNames,
			Description:   doc.Description,
			PublishedDate: doc.ReleaseDate,
			PageCount:     doc.Pages,
			Categories:    doc.Genres,
			CoverURL:      doc.Image.URL,
			Partial:       true,
		}
		for _, isbn := range doc.ISBNs {
			switch n := models.NormalizeISBN(isbn); len(n) {
			case 13:
				if cand.ISBN13 == "" {
					cand.ISBN13 = n
				}
			case 10:
				if cand.ISBN10 == "" {
					cand.ISBN10 = n
				}
			}
		}
		cand.Normalize()
		candidates = append(candidates, cand)
	}

	c.logger.Debug("Search completed", map[string]interface{}{
		"query":   query,
		"results": len(candidates),
	})
	return candidates, nil
}

// FetchByID implements catalog.Source
func (c *Client) FetchByID(ctx context.Context, externalID string) (*models.Candidate, error) {
	id, err := strconv.Atoi(strings.TrimSpace(externalID))
	if err != nil {
		return nil, fmt.Errorf("invalid Hardcover book ID %q: %w", externalID, err)
	}

	query := `query BookByID($id: Int!) { books_by_pk(id: $id) {` + bookFields + `} }`

	var response struct {
		Book *hcBook `json:"books_by_pk"`
	}
	if err := c.exec(ctx, query, map[string]interface{}{"id": id}, &response); err != nil {
		return nil, fmt.Errorf("fetch book %d: %w", id, err)
	}
	if response.Book == nil {
		return nil, fmt.Errorf("fetch book %d: %w", id, catalog.ErrNotFound)
	}
	cand := response.Book.toCandidate()
	return &cand, nil
}

// FetchByISBN implements catalog.Source
func (c *Client) FetchByISBN(ctx context.Context, isbn string) (*models.Candidate, error) {
	normalized := models.NormalizeISBN(isbn)
	field := "isbn_13"
	switch len(normalized) {
	case 13:
	case 10:
		field = "isbn_10"
	default:
		return nil, fmt.Errorf("invalid ISBN %q", isbn)
	}

	query := fmt.Sprintf(`
	query BookByISBN($isbn: String!) {
	  books(where: {editions: {%s: {_eq: $isbn}}}, limit: 1) {%s}
	}`, field, bookFields)

	var response struct {
		Books []*hcBook `json:"books"`
	}
	if err := c.exec(ctx, query, map[string]interface{}{"isbn": normalized}, &response); err != nil {
		return nil, fmt.Errorf("fetch isbn %s: %w", normalized, err)
	}
	if len(response.Books) == 0 || response.Books[0] == nil {
		return nil, fmt.Errorf("fetch isbn %s: %w", normalized, catalog.ErrNotFound)
	}
	cand := response.Books[0].toCandidate()
	// The edition that matched may not be among the most popular ones listed.
	if field == "isbn_13" {
		cand.ISBN13 = normalized
	} else {
		cand.ISBN10 = normalized
	}
	return &cand, nil
}

// exec runs a GraphQL operation and decodes its data into out, mapping HTTP
// failures onto the catalog error taxonomy.
func (c *Client) exec(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	status := &responseStatus{}
	reqCtx := context.WithValue(ctx, statusKey{}, status)

	data, err := c.gqlClient.ExecRaw(reqCtx, query, variables)
	if err != nil {
		return c.classify(ctx, status, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode GraphQL response: %w", err)
	}
	return nil
}

func (c *Client) classify(ctx context.Context, status *responseStatus, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case status.code == http.StatusTooManyRequests:
		retryAfter := util.ParseRetryAfter(status.retryAfter, c.now())
		c.logger.Warn("Rate limited by Hardcover", map[string]interface{}{
			"retry_after": retryAfter.String(),
		})
		return &catalog.RateLimitError{Source: SourceName, RetryAfter: retryAfter}
	case status.code == 0 || status.code >= 500:
		c.logger.Error("GraphQL request failed", map[string]interface{}{
			"status": status.code,
			"error":  err.Error(),
		})
		return fmt.Errorf("%w: %w", catalog.ErrUnavailable, err)
	default:
		return fmt.Errorf("GraphQL error: %w", err)
	}
}
