package models

import (
	"time"

	"xhs-scraper/pkg/types"
)

// Note is a stored note. NoteID is the platform's ID and is unique; the
// latest run that saw a note owns its keyword, run ID and content.
type Note struct {
	ID        int64     `json:"id" db:"id"`
	NoteID    string    `json:"note_id" db:"note_id"`
	Keyword   string    `json:"keyword" db:"keyword"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	RunID     string    `json:"run_id" db:"run_id"`
	ScrapedAt time.Time `json:"scraped_at" db:"scraped_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (n *Note) Detail() types.PostDetail {
	return types.PostDetail{ID: n.NoteID, Title: n.Title, Content: n.Content}
}

func Details(notes []*Note) []types.PostDetail {
	details := make([]types.PostDetail, 0, len(notes))
	for _, n := range notes {
		details = append(details, n.Detail())
	}
	return details
}

type KeywordCount struct {
	Keyword string `json:"keyword"`
	Notes   int    `json:"notes"`
}

type Stats struct {
	TotalNotes    int            `json:"total_notes"`
	Keywords      int            `json:"keywords"`
	Runs          int            `json:"runs"`
	LastScrapedAt *time.Time     `json:"last_scraped_at"`
	TopKeywords   []KeywordCount `json:"top_keywords"`
}
