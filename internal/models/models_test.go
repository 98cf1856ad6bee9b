package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeISBN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain isbn13", "9780735211292", "9780735211292"},
		{"hyphenated isbn13", "978-0-7352-1129-2", "9780735211292"},
		{"isbn10 lower x", "0-8044-2957-x", "080442957X"},
		{"x not last in isbn10", "08044X9571", ""},
		{"x in isbn13", "978073521129X", ""},
		{"wrong length", "12345", ""},
		{"letters", "97807352112AB", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeISBN(tt.in))
		})
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, NormalizeKey("Atomic  Habits"), NormalizeKey("atomic habits "))
	assert.Equal(t, NormalizeKey("JAMES CLEAR"), NormalizeKey("James Clear"))
	assert.NotEqual(t, NormalizeKey("Atomic Habits"), NormalizeKey("Atomic Habit"))
}

func TestNormalizeSet(t *testing.T) {
	assert.Equal(t, []string{"Business", "Self-Help"}, NormalizeSet([]string{" Self-Help", "Business", "Self-Help", ""}))
	assert.Nil(t, NormalizeSet(nil))
}

func TestCandidateNormalize(t *testing.T) {
	c := Candidate{
		Title:      "  Atomic Habits ",
		Authors:    []string{" James Clear", ""},
		ISBN10:     "978-0-7352-1129-2",
		Categories: []string{"b", "a", "b"},
	}
	c.Normalize()

	assert.Equal(t, "Atomic Habits", c.Title)
	assert.Equal(t, []string{"James Clear"}, c.Authors)
	assert.Equal(t, "9780735211292", c.ISBN13)
	assert.Empty(t, c.ISBN10)
	assert.Equal(t, []string{"a", "b"}, c.Categories)
}

func TestCandidateMergeKeepsOwnIdentifiers(t *testing.T) {
	c := Candidate{Source: "google_books", ExternalID: "abc", Title: "Deep Work", Partial: true}
	rank := 4
	c.Merge(&Candidate{
		ExternalID:     "other",
		Title:          "Deep Work: Rules",
		Authors:        []string{"Cal Newport"},
		ISBN13:         "9781455586691",
		Description:    "Focus.",
		PopularityRank: &rank,
		IsBestseller:   true,
	})

	assert.Equal(t, "abc", c.ExternalID)
	assert.Equal(t, "Deep Work", c.Title)
	assert.Equal(t, []string{"Cal Newport"}, c.Authors)
	assert.Equal(t, "9781455586691", c.ISBN13)
	assert.Equal(t, "Focus.", c.Description)
	assert.Equal(t, 4, *c.PopularityRank)
	assert.True(t, c.IsBestseller)
	assert.False(t, c.Partial)
}

func TestCandidateToBook(t *testing.T) {
	c := Candidate{
		Source:     "hardcover",
		ExternalID: "42",
		Title:      "Atomic Habits",
		Authors:    []string{"James Clear", "Someone Else"},
		ISBN13:     "9780735211292",
	}
	b := c.ToBook()

	require.NotNil(t, b.ExternalID)
	assert.Equal(t, "42", *b.ExternalID)
	assert.Nil(t, b.ISBN10)
	assert.Nil(t, b.Subtitle)
	assert.Equal(t, "atomic habits", b.TitleKey)
	assert.Equal(t, "james clear", b.AuthorKey)
	assert.Equal(t, "James Clear", b.PrimaryAuthor())
	assert.Equal(t, "hardcover:42", c.Identifier())
}

func TestSummaryContentValidate(t *testing.T) {
	valid := SummaryContent{
		Hook:     "Small changes compound.",
		KeyIdeas: []KeyIdea{{Title: "1%", Explanation: "Tiny gains add up."}},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *SummaryContent)
	}{
		{"missing hook", func(c *SummaryContent) { c.Hook = " " }},
		{"no key ideas", func(c *SummaryContent) { c.KeyIdeas = nil }},
		{"incomplete key idea", func(c *SummaryContent) { c.KeyIdeas = []KeyIdea{{Title: "x"}} }},
		{"untitled application", func(c *SummaryContent) { c.Applications = []ApplicationPoint{{Action: "do"}} }},
		{"citation without source", func(c *SummaryContent) { c.Citations = []Citation{{Reference: "p. 3"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidContent))
		})
	}

	var nilContent *SummaryContent
	assert.ErrorIs(t, nilContent.Validate(), ErrInvalidContent)
}

func TestSummaryApplyClearsExtended(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSummary("book-1", "concise", &SummaryContent{Hook: "old", KeyIdeas: []KeyIdea{{"a", "b"}}}, now)
	ext := "long form"
	s.ExtendedSummary = &ext

	clone := s.Clone()
	s.Apply("detailed", &SummaryContent{Hook: "new", KeyIdeas: []KeyIdea{{"c", "d"}}, Model: "m"}, now.Add(time.Hour))

	assert.Equal(t, "new", s.Hook)
	assert.Nil(t, s.ExtendedSummary)
	assert.Equal(t, "detailed", s.Style)
	assert.Equal(t, "old", clone.Hook)
	assert.Equal(t, "long form", clone.Extended())
}

func TestJobStatusTransitions(t *testing.T) {
	assert.True(t, JobPending.CanTransition(JobProcessing))
	assert.False(t, JobPending.CanTransition(JobCompleted))
	assert.True(t, JobProcessing.CanTransition(JobCompleted))
	assert.True(t, JobProcessing.CanTransition(JobFailed))
	assert.False(t, JobCompleted.CanTransition(JobProcessing))
	assert.False(t, JobFailed.CanTransition(JobPending))

	assert.True(t, JobPending.Active())
	assert.True(t, JobProcessing.Active())
	assert.False(t, JobFailed.Active())
	assert.True(t, JobCompleted.Terminal())
	assert.False(t, JobStatus("queued").Valid())
}

func TestNewSummaryJob(t *testing.T) {
	j := NewSummaryJob("book-1", "concise", true)
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, JobPending, j.Status)
	assert.Equal(t, 0, j.RetryCount)
	assert.True(t, j.Regenerate)
	assert.Empty(t, j.FailureMessage())
}
