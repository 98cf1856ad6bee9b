package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KeyIdea is one of the central ideas of a book.
type KeyIdea struct {
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
}

// ApplicationPoint is a concrete way to apply the book.
type ApplicationPoint struct {
	Title  string `json:"title"`
	Action string `json:"action"`
}

// Citation points at a passage or external reference backing the summary.
type Citation struct {
	Source    string `json:"source"`
	Reference string `json:"reference,omitempty"`
}

// SummaryContent is the structured output of a primary summarization call.
type SummaryContent struct {
	Hook         string             `json:"hook"`
	KeyIdeas     []KeyIdea          `json:"key_ideas"`
	Applications []ApplicationPoint `json:"applications"`
	Critiques    []string           `json:"critiques"`
	Pitfalls     []string           `json:"pitfalls"`
	Citations    []Citation         `json:"citations"`
	Model        string             `json:"model,omitempty"`
}

// ErrInvalidContent is returned by SummaryContent.Validate.
var ErrInvalidContent = errors.New("invalid summary content")

// Validate checks that the content is complete enough to be stored.
func (c *SummaryContent) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: empty response", ErrInvalidContent)
	}
	if strings.TrimSpace(c.Hook) == "" {
		return fmt.Errorf("%w: missing hook", ErrInvalidContent)
	}
	if len(c.KeyIdeas) == 0 {
		return fmt.Errorf("%w: no key ideas", ErrInvalidContent)
	}
	for i, idea := range c.KeyIdeas {
		if strings.TrimSpace(idea.Title) == "" || strings.TrimSpace(idea.Explanation) == "" {
			return fmt.Errorf("%w: key idea %d is incomplete", ErrInvalidContent, i)
		}
	}
	for i, app := range c.Applications {
		if strings.TrimSpace(app.Title) == "" {
			return fmt.Errorf("%w: application %d has no title", ErrInvalidContent, i)
		}
	}
	for i, cit := range c.Citations {
		if strings.TrimSpace(cit.Source) == "" {
			return fmt.Errorf("%w: citation %d has no source", ErrInvalidContent, i)
		}
	}
	return nil
}

// Summary is the stored summary of a book. There is at most one per book.
type Summary struct {
	ID              string             `gorm:"primaryKey;size:36" json:"id"`
	BookID          string             `gorm:"size:36;not null;uniqueIndex" json:"book_id"`
	Hook            string             `gorm:"type:text" json:"hook"`
	KeyIdeas        []KeyIdea          `gorm:"serializer:json" json:"key_ideas"`
	Applications    []ApplicationPoint `gorm:"serializer:json" json:"applications"`
	Critiques       []string           `gorm:"serializer:json" json:"critiques"`
	Pitfalls        []string           `gorm:"serializer:json" json:"pitfalls"`
	Citations       []Citation         `gorm:"serializer:json" json:"citations"`
	ExtendedSummary *string            `gorm:"type:text" json:"extended_summary,omitempty"`
	Style           string             `gorm:"size:32" json:"style"`
	Model           string             `gorm:"size:128" json:"model,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewSummary builds a summary for bookID from generated content.
func NewSummary(bookID, style string, content *SummaryContent, now time.Time) *Summary {
	s := &Summary{BookID: bookID}
	s.Apply(style, content, now)
	return s
}

// Apply replaces the primary content. The extended summary is cleared since it
// was derived from the previous content.
func (s *Summary) Apply(style string, content *SummaryContent, now time.Time) {
	s.Hook = content.Hook
	s.KeyIdeas = append([]KeyIdea(nil), content.KeyIdeas...)
	s.Applications = append([]ApplicationPoint(nil), content.Applications...)
	s.Critiques = append([]string(nil), content.Critiques...)
	s.Pitfalls = append([]string(nil), content.Pitfalls...)
	s.Citations = append([]Citation(nil), content.Citations...)
	s.Model = content.Model
	s.Style = style
	s.ExtendedSummary = nil
	s.GeneratedAt = now
}

// Content returns the primary content of the summary.
func (s *Summary) Content() *SummaryContent {
	return &SummaryContent{
		Hook:         s.Hook,
		KeyIdeas:     s.KeyIdeas,
		Applications: s.Applications,
		Critiques:    s.Critiques,
		Pitfalls:     s.Pitfalls,
		Citations:    s.Citations,
		Model:        s.Model,
	}
}

// Clone returns a deep copy.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	c := *s
	c.KeyIdeas = append([]KeyIdea(nil), s.KeyIdeas...)
	c.Applications = append([]ApplicationPoint(nil), s.Applications...)
	c.Critiques = append([]string(nil), s.Critiques...)
	c.Pitfalls = append([]string(nil), s.Pitfalls...)
	c.Citations = append([]Citation(nil), s.Citations...)
	if s.ExtendedSummary != nil {
		ext := *s.ExtendedSummary
		c.ExtendedSummary = &ext
	}
	return &c
}

// Extended returns the extended summary text, or "".
func (s *Summary) Extended() string {
	return deref(s.ExtendedSummary)
}

func (s *Summary) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
