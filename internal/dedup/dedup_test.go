package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/drallgood/catalog-summarizer/internal/models"
)

type MockBookFinder struct {
	mock.Mock
}

func (m *MockBookFinder) FindByExternalID(ctx context.Context, externalID string) (*models.Book, error) {
	args := m.Called(ctx, externalID)
	return bookArg(args, 0), args.Error(1)
}

func (m *MockBookFinder) FindByISBN13(ctx context.Context, isbn13 string) (*models.Book, error) {
	args := m.Called(ctx, isbn13)
	return bookArg(args, 0), args.Error(1)
}

func (m *MockBookFinder) FindByISBN10(ctx context.Context, isbn10 string) (*models.Book, error) {
	args := m.Called(ctx, isbn10)
	return bookArg(args, 0), args.Error(1)
}

func (m *MockBookFinder) FindByTitleAuthor(ctx context.Context, title, author string) (*models.Book, error) {
	args := m.Called(ctx, title, author)
	return bookArg(args, 0), args.Error(1)
}

func bookArg(args mock.Arguments, i int) *models.Book {
	if b, ok := args.Get(i).(*models.Book); ok {
		return b
	}
	return nil
}

var existing = &models.Book{ID: "book-1", Title: "Atomic Habits", Authors: []string{"James Clear"}}

func TestEngine_ExternalIDMatchSkipsOtherLookups(t *testing.T) {
	store := new(MockBookFinder)
	store.On("FindByExternalID", mock.Anything, "lFhbDwAAQBAJ").Return(existing, nil)

	engine := NewEngine(store)
	match, err := engine.Match(context.Background(), &models.Candidate{
		ExternalID: "lFhbDwAAQBAJ",
		ISBN13:     "9780735211292",
		ISBN10:     "0735211299",
		Title:      "Atomic Habits",
		Authors:    []string{"James Clear"},
	})

	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, "book-1", match.Book.ID)
	assert.Equal(t, MatchExternalID, match.MatchedBy)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "FindByISBN13", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "FindByISBN10", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "FindByTitleAuthor", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_ISBN13MatchWithoutExternalID(t *testing.T) {
	store := new(MockBookFinder)
	store.On("FindByISBN13", mock.Anything, "9780735211292").Return(existing, nil)

	match, err := NewEngine(store).Match(context.Background(), &models.Candidate{
		ISBN13:  "9780735211292",
		Title:   "Atomic Habits",
		Authors: []string{"James Clear"},
	})

	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, MatchISBN13, match.MatchedBy)
	store.AssertNotCalled(t, "FindByExternalID", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "FindByTitleAuthor", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_FallsThroughInOrder(t *testing.T) {
	tests := []struct {
		name      string
		candidate models.Candidate
		setup     func(s *MockBookFinder)
		wantBy    string
	}{
		{
			name:      "unknown external id falls through to isbn13",
			candidate: models.Candidate{ExternalID: "new", ISBN13: "9780735211292"},
			setup: func(s *MockBookFinder) {
				s.On("FindByExternalID", mock.Anything, "new").Return(nil, nil)
				s.On("FindByISBN13", mock.Anything, "9780735211292").Return(existing, nil)
			},
			wantBy: MatchISBN13,
		},
		{
			name:      "isbn10 after isbn13 misses",
			candidate: models.Candidate{ISBN13: "9780735211292", ISBN10: "0735211299"},
			setup: func(s *MockBookFinder) {
				s.On("FindByISBN13", mock.Anything, "9780735211292").Return(nil, nil)
				s.On("FindByISBN10", mock.Anything, "0735211299").Return(existing, nil)
			},
			wantBy: MatchISBN10,
		},
		{
			name:      "title and primary author last",
			candidate: models.Candidate{Title: "atomic habits", Authors: []string{"JAMES CLEAR", "Other"}},
			setup: func(s *MockBookFinder) {
				s.On("FindByTitleAuthor", mock.Anything, "atomic habits", "JAMES CLEAR").Return(existing, nil)
			},
			wantBy: MatchTitleAuthor,
		},
		{
			name:      "nothing matches",
			candidate: models.Candidate{ExternalID: "x", Title: "New Book", Authors: []string{"New Author"}},
			setup: func(s *MockBookFinder) {
				s.On("FindByExternalID", mock.Anything, "x").Return(nil, nil)
				s.On("FindByTitleAuthor", mock.Anything, "New Book", "New Author").Return(nil, nil)
			},
		},
		{
			name:      "no keys at all queries nothing",
			candidate: models.Candidate{Title: "Untitled"},
			setup:     func(s *MockBookFinder) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(MockBookFinder)
			tt.setup(store)

			match, err := NewEngine(store).Match(context.Background(), &tt.candidate)
			require.NoError(t, err)
			if tt.wantBy == "" {
				assert.Nil(t, match)
			} else {
				require.NotNil(t, match)
				assert.Equal(t, tt.wantBy, match.MatchedBy)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestEngine_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	store := new(MockBookFinder)
	store.On("FindByExternalID", mock.Anything, "x").Return(nil, boom)

	match, err := NewEngine(store).Match(context.Background(), &models.Candidate{ExternalID: "x", ISBN13: "9780735211292"})
	assert.Nil(t, match)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), MatchExternalID)
	store.AssertNotCalled(t, "FindByISBN13", mock.Anything, mock.Anything)
}

func TestEngine_Matchers(t *testing.T) {
	assert.Equal(t,
		[]string{MatchExternalID, MatchISBN13, MatchISBN10, MatchTitleAuthor},
		NewEngine(new(MockBookFinder)).Matchers())
}
