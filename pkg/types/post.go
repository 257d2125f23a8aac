package types

import (
	"fmt"
	"time"
)

// CookieRecord is one session cookie as injected into a browser context.
type CookieRecord struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// SearchResultStub is a lightweight search result used only to drive a
// detail fetch. ID and URL are always set; Title and Author are best-effort.
type SearchResultStub struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

// PostDetail is the terminal record handed to persistence.
type PostDetail struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s SearchResultStub) String() string {
	return fmt.Sprintf("%s (%s) by %q: %q", s.ID, s.URL, s.Author, s.Title)
}

// Columns lists the stable output field names of a PostDetail, in order.
func Columns() []string {
	return []string{"id", "title", "content"}
}

// Row returns the detail's values in Columns order.
func (d PostDetail) Row() []string {
	return []string{d.ID, d.Title, d.Content}
}

// NoteBatch is what a run hands to persistence: every detail it collected,
// stamped with the run that produced them.
type NoteBatch struct {
	RunID     string       `json:"run_id"`
	Keyword   string       `json:"keyword"`
	ScrapedAt time.Time    `json:"scraped_at"`
	Notes     []PostDetail `json:"notes"`
}
