package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Book is the canonical catalog entry for a title.
//
// ExternalID, ISBN13 and ISBN10 are unique in practice but not declared unique
// in the schema: uniqueness is established by the dedup engine before insert.
type Book struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Title           string    `gorm:"not null" json:"title"`
	Subtitle        *string   `json:"subtitle,omitempty"`
	Authors         []string  `gorm:"serializer:json;not null" json:"authors"`
	Description     string    `gorm:"type:text" json:"description,omitempty"`
	ISBN10          *string   `gorm:"column:isbn10;size:10;index" json:"isbn10,omitempty"`
	ISBN13          *string   `gorm:"column:isbn13;size:13;index" json:"isbn13,omitempty"`
	ExternalID      *string   `gorm:"size:255;index" json:"external_id,omitempty"`
	Source          string    `gorm:"size:64;index" json:"source"`
	Categories      []string  `gorm:"serializer:json" json:"categories,omitempty"`
	PopularityRank  *int      `json:"popularity_rank,omitempty"`
	Featured        bool      `gorm:"default:false" json:"featured"`
	IsBestseller    bool      `gorm:"default:false" json:"is_bestseller"`
	IsNYTBestseller bool      `gorm:"column:is_nyt_bestseller;default:false" json:"is_nyt_bestseller"`
	PublishedDate   string    `gorm:"size:32" json:"published_date,omitempty"`
	PageCount       int       `json:"page_count,omitempty"`
	CoverURL        string    `json:"cover_url,omitempty"`
	TitleKey        string    `gorm:"size:512;index:idx_books_title_author,priority:1" json:"-"`
	AuthorKey       string    `gorm:"size:255;index:idx_books_title_author,priority:2" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PrimaryAuthor returns the first listed author, or "".
func (b *Book) PrimaryAuthor() string {
	if b == nil || len(b.Authors) == 0 {
		return ""
	}
	return strings.TrimSpace(b.Authors[0])
}

// RefreshKeys recomputes the derived lookup keys.
func (b *Book) RefreshKeys() {
	b.TitleKey = NormalizeKey(b.Title)
	b.AuthorKey = NormalizeKey(b.PrimaryAuthor())
	b.Categories = NormalizeSet(b.Categories)
}

// BeforeCreate assigns an ID when missing.
func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave keeps derived keys in sync with title and authors.
func (b *Book) BeforeSave(tx *gorm.DB) error {
	b.RefreshKeys()
	return nil
}
