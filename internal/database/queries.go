package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"xhs-scraper/internal/database/models"
	"xhs-scraper/pkg/types"
)

var ErrNoteNotFound = errors.New("note not found")

const noteColumns = `id, note_id, keyword, title, content, run_id, scraped_at, created_at, updated_at`

// SaveNotes upserts a run's notes by note ID in one transaction.
func (db *DB) SaveNotes(ctx context.Context, batch types.NoteBatch) error {
	scrapedAt := batch.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}
	scrapedAt = scrapedAt.UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, db.rebind(`
		INSERT INTO notes (
			note_id, keyword, title, content, run_id, scraped_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (note_id) DO UPDATE SET
			keyword = excluded.keyword,
			title = excluded.title,
			content = excluded.content,
			run_id = excluded.run_id,
			scraped_at = excluded.scraped_at,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("failed to prepare note upsert: %w", err)
	}
	defer stmt.Close()

	for _, note := range batch.Notes {
		_, err := stmt.ExecContext(ctx,
			note.ID, batch.Keyword, note.Title, note.Content, batch.RunID,
			scrapedAt, scrapedAt, scrapedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save note %s: %w", note.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notes: %w", err)
	}
	db.logger.Infof("Saved %d notes for %q to the database", len(batch.Notes), batch.Keyword)
	return nil
}

// GetNotesWithPagination lists notes newest first. An empty keyword matches
// every note.
func (db *DB) GetNotesWithPagination(ctx context.Context, page, pageSize int, keyword string) ([]*models.Note, error) {
	offset := (page - 1) * pageSize

	query := `SELECT ` + noteColumns + ` FROM notes`
	args := []any{}
	if keyword != "" {
		query += ` WHERE keyword = ?`
		args = append(args, keyword)
	}
	query += ` ORDER BY scraped_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, offset)

	return db.queryNotes(ctx, query, args...)
}

func (db *DB) GetNotesCount(ctx context.Context, keyword string) (int, error) {
	query := `SELECT COUNT(*) FROM notes`
	args := []any{}
	if keyword != "" {
		query += ` WHERE keyword = ?`
		args = append(args, keyword)
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, db.rebind(query), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get notes count: %w", err)
	}
	return count, nil
}

// GetNote looks a note up by its platform ID.
func (db *DB) GetNote(ctx context.Context, noteID string) (*models.Note, error) {
	notes, err := db.queryNotes(ctx, `SELECT `+noteColumns+` FROM notes WHERE note_id = ?`, noteID)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, ErrNoteNotFound
	}
	return notes[0], nil
}

// GetNotesForExport returns every note for keyword, or all notes.
func (db *DB) GetNotesForExport(ctx context.Context, keyword string) ([]*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes`
	args := []any{}
	if keyword != "" {
		query += ` WHERE keyword = ?`
		args = append(args, keyword)
	}
	query += ` ORDER BY keyword, scraped_at DESC`

	return db.queryNotes(ctx, query, args...)
}

func (db *DB) queryNotes(ctx context.Context, query string, args ...any) ([]*models.Note, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.Note
	for rows.Next() {
		note := &models.Note{}
		err := rows.Scan(
			&note.ID, &note.NoteID, &note.Keyword, &note.Title, &note.Content,
			&note.RunID, &note.ScrapedAt, &note.CreatedAt, &note.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// GetScrapingStats summarises what has been stored so far.
func (db *DB) GetScrapingStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{TopKeywords: []models.KeywordCount{}}

	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT keyword), COUNT(DISTINCT run_id) FROM notes`,
	).Scan(&stats.TotalNotes, &stats.Keywords, &stats.Runs)
	if err != nil {
		return nil, fmt.Errorf("failed to get note totals: %w", err)
	}

	var last time.Time
	err = db.conn.QueryRowContext(ctx,
		`SELECT scraped_at FROM notes ORDER BY scraped_at DESC LIMIT 1`,
	).Scan(&last)
	switch {
	case err == nil:
		stats.LastScrapedAt = &last
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to get last scraped time: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT keyword, COUNT(*) AS notes FROM notes
		GROUP BY keyword
		ORDER BY notes DESC, keyword
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("failed to get notes by keyword: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kc models.KeywordCount
		if err := rows.Scan(&kc.Keyword, &kc.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan keyword count: %w", err)
		}
		stats.TopKeywords = append(stats.TopKeywords, kc)
	}
	return stats, rows.Err()
}
