// Package googlebooks adapts the Google Books volumes API to catalog.Source.
package googlebooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drallgood/catalog-summarizer/internal/catalog"
	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/util"
)

const (
	// SourceName is stored on books ingested from Google Books
	SourceName = "google_books"
	// DefaultBaseURL is the public volumes API root
	DefaultBaseURL = "https://www.googleapis.com/books/v1"
	// DefaultTimeout bounds a single HTTP request
	DefaultTimeout = 20 * time.Second
	// MaxPageSize is the largest maxResults the API accepts
	MaxPageSize = 40
)

// ClientConfig holds the settings for a Google Books client
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a catalog.Source backed by the Google Books REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logger.Logger
	now     func() time.Time
}

var _ catalog.Source = (*Client)(nil)

// NewClient creates a new Google Books client
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
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  log.With(map[string]interface{}{"component": "google_books_client"}),
		now:     time.Now,
	}
}

// Name implements catalog.Source
func (c *Client) Name() string { return SourceName }

type volumeList struct {
	TotalItems int      `json:"totalItems"`
	Items      []volume `json:"items"`
}

type volume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Subtitle            string   `json:"subtitle"`
		Authors             []string `json:"authors"`
		Description         string   `json:"description"`
		Categories          []string `json:"categories"`
		PublishedDate       string   `json:"publishedDate"`
		PageCount           int      `json:"pageCount"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		ImageLinks struct {
			Thumbnail      string `json:"thumbnail"`
			SmallThumbnail string `json:"smallThumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

func (v *volume) toCandidate(partial bool) models.Candidate {
	info := v.VolumeInfo
	c := models.Candidate{
		Source:        SourceName,
		ExternalID:    v.ID,
		Title:         info.Title,
		Subtitle:      info.Subtitle,
		Authors:       info.Authors,
		Description:   info.Description,
		Categories:    info.Categories,
		PublishedDate: info.PublishedDate,
		PageCount:     info.PageCount,
		CoverURL:      info.ImageLinks.Thumbnail,
	}
	if c.CoverURL == "" {
		c.CoverURL = info.ImageLinks.SmallThumbnail
	}
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			c.ISBN13 = id.Identifier
		case "ISBN_10":
			c.ISBN10 = id.Identifier
		}
	}
	// Search hits carry truncated records; a hit without a description or
	// identifiers gets a detail fetch before it is stored.
	c.Partial = partial && (c.Description == "" || (c.ISBN13 == "" && c.ISBN10 == ""))
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

	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("printType", "books")

	var list volumeList
	if err := c.get(ctx, "/volumes", params, &list); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	candidates := make([]models.Candidate, 0, len(list.Items))
	for i := range list.Items {
		candidates = append(candidates, list.Items[i].toCandidate(true))
	}

	c.logger.Debug("Search completed", map[string]interface{}{
		"query":   query,
		"results": len(candidates),
		"total":   list.TotalItems,
	})
	return candidates, nil
}

// FetchByID implements catalog.Source
func (c *Client) FetchByID(ctx context.Context, externalID string) (*models.Candidate, error) {
	if externalID == "" {
		return nil, fmt.Errorf("volume ID cannot be empty")
	}

	var v volume
	if err := c.get(ctx, "/volumes/"+url.PathEscape(externalID), nil, &v); err != nil {
		return nil, fmt.Errorf("fetch volume %s: %w", externalID, err)
	}
	if v.ID == "" {
		return nil, fmt.Errorf("fetch volume %s: %w", externalID, catalog.ErrNotFound)
	}
	cand := v.toCandidate(false)
	return &cand, nil
}

// FetchByISBN implements catalog.Source
func (c *Client) FetchByISBN(ctx context.Context, isbn string) (*models.Candidate, error) {
	normalized := models.NormalizeISBN(isbn)
	if normalized == "" {
		return nil, fmt.Errorf("invalid ISBN %q", isbn)
	}

	params := url.Values{}
	params.Set("q", "isbn:"+normalized)
	params.Set("maxResults", "1")

	var list volumeList
	if err := c.get(ctx, "/volumes", params, &list); err != nil {
		return nil, fmt.Errorf("fetch isbn %s: %w", normalized, err)
	}
	if len(list.Items) == 0 {
		return nil, fmt.Errorf("fetch isbn %s: %w", normalized, catalog.ErrNotFound)
	}
	cand := list.Items[0].toCandidate(false)
	return &cand, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("Request failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %w", catalog.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", catalog.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := util.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		c.logger.Warn("Rate limited by Google Books", map[string]interface{}{
			"path":        path,
			"retry_after": retryAfter.String(),
		})
		return &catalog.RateLimitError{Source: SourceName, RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusNotFound:
		return catalog.ErrNotFound
	case resp.StatusCode >= 500:
		c.logger.Error("Unexpected status code", map[string]interface{}{
			"path":     path,
			"status":   resp.StatusCode,
			"response": string(body),
		})
		return fmt.Errorf("%w: status %d", catalog.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
