// Package summarizer is an HTTP client for the external summarization service.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/drallgood/catalog-summarizer/internal/logger"
	"github.com/drallgood/catalog-summarizer/internal/models"
	"github.com/drallgood/catalog-summarizer/internal/summary"
)

const (
	primaryPath  = "/v1/summaries/primary"
	extendedPath = "/v1/summaries/extended"

	// DefaultTimeout bounds one HTTP request
	DefaultTimeout = 2 * time.Minute
	// maxErrorBody caps how much of an error response is kept
	maxErrorBody = 2048
)

// ErrEmptyResponse is returned when the service answers without content.
var ErrEmptyResponse = errors.New("empty response from summarizer")

// StatusError reports a non-200 answer from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return fmt.Sprintf("summarizer returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again later.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Config holds the settings for the summarizer client
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements summary.Summarizer over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logger.Logger
}

var _ summary.Summarizer = (*Client)(nil)

// NewClient creates a new summarizer client
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("summarizer base URL is required")
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
		logger:  log.With(map[string]interface{}{"component": "summarizer_client"}),
	}, nil
}

// GeneratePrimary implements summary.Summarizer
func (c *Client) GeneratePrimary(ctx context.Context, req summary.PrimaryRequest) (*models.SummaryContent, error) {
	var content models.SummaryContent
	if err := c.post(ctx, primaryPath, req, &content); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content.Hook) == "" && len(content.KeyIdeas) == 0 {
		return nil, ErrEmptyResponse
	}
	c.logger.Info("Primary summary generated", map[string]interface{}{
		"book_id":   req.BookID,
		"key_ideas": len(content.KeyIdeas),
		"model":     content.Model,
	})
	return &content, nil
}

// GenerateExtended implements summary.Summarizer
func (c *Client) GenerateExtended(ctx context.Context, req summary.ExtendedRequest) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	if err := c.post(ctx, extendedPath, req, &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	c.logger.Info("Extended summary generated", map[string]interface{}{
		"book_id": req.BookID,
		"length":  len(text),
	})
	return text, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("Calling summarizer", map[string]interface{}{"path": path})
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to summarizer failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("Summarizer returned non-200 status", map[string]interface{}{
			"path":   path,
			"status": resp.StatusCode,
			"body":   string(b),
		})
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyResponse
		}
		return fmt.Errorf("failed to decode summarizer response: %w", err)
	}
	return nil
}
