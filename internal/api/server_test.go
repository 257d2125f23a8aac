package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"xhs-scraper/internal/config"
	"xhs-scraper/internal/database"
	"xhs-scraper/internal/monitoring"
	"xhs-scraper/pkg/types"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := t.TempDir()

	db, err := database.NewConnection(&config.DatabaseConfig{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(dir, "notes.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.RunMigrations(ctx))
	require.NoError(t, db.SaveNotes(ctx, types.NoteBatch{
		RunID:     "run-1",
		Keyword:   "coffee",
		ScrapedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Notes: []types.PostDetail{
			{ID: "abc123", Title: "Latte", Content: "oat milk, please"},
			{ID: "def456", Title: "Mocha", Content: "chocolate"},
		},
	}))

	monitor := monitoring.NewMonitor(logger, filepath.Join(dir, "metrics.json"))
	return NewServer(db, monitor, logger, "0").Router()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListNotes(t *testing.T) {
	h := newTestServer(t)

	w := get(t, h, "/api/notes?keyword=coffee&page_size=1")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Notes []struct {
				NoteID string `json:"note_id"`
			} `json:"notes"`
			TotalCount int `json:"total_count"`
			PageSize   int `json:"page_size"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Len(t, resp.Data.Notes, 1)
	assert.Equal(t, 2, resp.Data.TotalCount)
	assert.Equal(t, 1, resp.Data.PageSize)
}

func TestGetNote(t *testing.T) {
	h := newTestServer(t)

	w := get(t, h, "/api/notes/abc123")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"content":"oat milk, please"`)

	missing := get(t, h, "/api/notes/nope")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestStats(t *testing.T) {
	w := get(t, newTestServer(t), "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_notes":2`)
}

func TestExportCSV(t *testing.T) {
	w := get(t, newTestServer(t), "/api/export/csv?keyword=coffee")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Contains(t, w.Header().Get("Content-Disposition"), "coffee_results.csv")
	body := strings.TrimPrefix(w.Body.String(), "\ufeff")
	assert.True(t, strings.HasPrefix(body, "id,title,content\n"))
	assert.Contains(t, body, `abc123,Latte,"oat milk, please"`)
}

func TestHealth(t *testing.T) {
	w := get(t, newTestServer(t), "/api/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.Crawler)
	assert.Equal(t, 0, resp.Crawler.TotalRuns)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/notes", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
