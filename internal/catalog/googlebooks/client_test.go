package googlebooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/catalog-summarizer/internal/catalog"
)

const volumeJSON = `{
  "id": "vol-1",
  "volumeInfo": {
    "title": "Atomic Habits",
    "subtitle": "An Easy & Proven Way to Build Good Habits",
    "authors": ["James Clear"],
    "description": "Tiny changes, remarkable results.",
    "categories": ["Self-Help", "Psychology", "Self-Help"],
    "publishedDate": "2018-10-16",
    "pageCount": 320,
    "industryIdentifiers": [
      {"type": "ISBN_13", "identifier": "9780735211292"},
      {"type": "ISBN_10", "identifier": "0735211299"}
    ],
    "imageLinks": {"thumbnail": "http://books.example/cover.jpg"}
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key", Timeout: 5 * time.Second}, nil)
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{}, nil)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, DefaultTimeout, client.client.Timeout)
	assert.Equal(t, SourceName, client.Name())
}

func TestSearch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/volumes", r.URL.Path)
		assert.Equal(t, "atomic habits", r.URL.Query().Get("q"))
		assert.Equal(t, "10", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalItems": 2, "items": [` + volumeJSON + `,
			{"id": "vol-2", "volumeInfo": {"title": "Partial Hit", "authors": ["Someone"]}}]}`))
	})

	results, err := client.Search(context.Background(), "atomic habits", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, SourceName, first.Source)
	assert.Equal(t, "vol-1", first.ExternalID)
	assert.Equal(t, "9780735211292", first.ISBN13)
	assert.Equal(t, "0735211299", first.ISBN10)
	assert.Equal(t, []string{"Psychology", "Self-Help"}, first.Categories)
	assert.False(t, first.Partial)

	assert.True(t, results[1].Partial)
}

func TestSearch_CapsPageSize(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "40", r.URL.Query().Get("maxResults"))
		_, _ = w.Write([]byte(`{"totalItems": 0}`))
	})

	results, err := client.Search(context.Background(), "anything", 500)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = client.Search(context.Background(), "  ", 5)
	assert.Error(t, err)
}

func TestFetchByID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/volumes/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "/volumes/vol-1", r.URL.Path)
		_, _ = w.Write([]byte(volumeJSON))
	})

	cand, err := client.FetchByID(context.Background(), "vol-1")
	require.NoError(t, err)
	assert.Equal(t, "Atomic Habits", cand.Title)
	assert.Equal(t, []string{"James Clear"}, cand.Authors)
	assert.Equal(t, 320, cand.PageCount)

	_, err = client.FetchByID(context.Background(), "missing")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestFetchByISBN(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("q") {
		case "isbn:9780735211292":
			_, _ = w.Write([]byte(`{"totalItems": 1, "items": [` + volumeJSON + `]}`))
		default:
			_, _ = w.Write([]byte(`{"totalItems": 0}`))
		}
	})

	cand, err := client.FetchByISBN(context.Background(), "978-0-7352-1129-2")
	require.NoError(t, err)
	assert.Equal(t, "vol-1", cand.ExternalID)

	_, err = client.FetchByISBN(context.Background(), "9781111111111")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = client.FetchByISBN(context.Background(), "123")
	assert.Error(t, err)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		check      func(t *testing.T, err error)
	}{
		{
			name:       "rate limited with hint",
			status:     http.StatusTooManyRequests,
			retryAfter: "42",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, catalog.ErrRateLimited)
				assert.Equal(t, 42*time.Second, catalog.RetryAfter(err))
			},
		},
		{
			name:   "rate limited without hint",
			status: http.StatusTooManyRequests,
			check: func(t *testing.T, err error) {
				var rl *catalog.RateLimitError
				require.True(t, errors.As(err, &rl))
				assert.Equal(t, SourceName, rl.Source)
				assert.Zero(t, rl.RetryAfter)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, catalog.ErrUnavailable)
			},
		},
		{
			name:   "client error",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				assert.NotErrorIs(t, err, catalog.ErrUnavailable)
				assert.NotErrorIs(t, err, catalog.ErrRateLimited)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			})

			_, err := client.Search(context.Background(), "query", 5)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(ClientConfig{BaseURL: url, Timeout: time.Second}, nil)
	_, err := client.FetchByID(context.Background(), "vol-1")
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
}
