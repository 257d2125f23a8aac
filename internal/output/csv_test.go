package output

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"xhs-scraper/pkg/types"
)

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	notes := []types.PostDetail{
		{ID: "abc123", Title: "咖啡", Content: "line one\nline, \"two\""},
		{ID: "def456"},
	}

	require.NoError(t, WriteCSV(&buf, notes, false))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"id", "title", "content"},
		{"abc123", "咖啡", "line one\nline, \"two\""},
		{"def456", "", ""},
	}, records)
}

func TestCSVSinkSavesWithBOM(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := filepath.Join(t.TempDir(), "data")
	sink := NewCSVSink(dir, logger)

	err := sink.SaveNotes(context.Background(), types.NoteBatch{
		Keyword: "latte art",
		Notes:   []types.PostDetail{{ID: "abc123", Title: "t", Content: "c"}},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "latte art_results.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "\ufeffid,title,content\n"))
	assert.Contains(t, string(data), "abc123,t,c")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "咖啡_results.csv", FileName(" 咖啡 "))
	assert.Equal(t, "a_b_results.csv", FileName("a/b"))
}
