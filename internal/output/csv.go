package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"xhs-scraper/pkg/types"
)

// utf8BOM lets spreadsheet tools detect the encoding of Chinese text.
const utf8BOM = "\ufeff"

// WriteCSV writes notes with a header row in types.Columns order.
func WriteCSV(w io.Writer, notes []types.PostDetail, withBOM bool) error {
	if withBOM {
		if _, err := io.WriteString(w, utf8BOM); err != nil {
			return err
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(types.Columns()); err != nil {
		return err
	}
	for _, note := range notes {
		if err := cw.Write(note.Row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVSink writes each run to <dir>/<keyword>_results.csv, replacing the
// file from any earlier run with the same keyword.
type CSVSink struct {
	dir    string
	logger *logrus.Logger
}

func NewCSVSink(dir string, logger *logrus.Logger) *CSVSink {
	return &CSVSink{dir: dir, logger: logger}
}

func (s *CSVSink) Path(keyword string) string {
	return filepath.Join(s.dir, FileName(keyword))
}

func (s *CSVSink) SaveNotes(_ context.Context, batch types.NoteBatch) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	path := s.Path(batch.Keyword)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteCSV(f, batch.Notes, true); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Infof("Saved %d notes to %s", len(batch.Notes), path)
	return nil
}

// FileName keeps the keyword readable but strips path separators.
func FileName(keyword string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(keyword))
	return name + "_results.csv"
}
