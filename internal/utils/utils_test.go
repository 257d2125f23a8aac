package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "crawler.log")

	logger, closeLog, err := NewLogger("debug", file)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.Info("hello from the crawler")
	closeLog()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the crawler")
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	logger, closeLog, err := NewLogger("verbose", "")
	require.NoError(t, err)
	defer closeLog()
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "850ms", FormatDuration(850*time.Millisecond))
	assert.Equal(t, "12.3s", FormatDuration(12300*time.Millisecond))
	assert.Equal(t, "4m05s", FormatDuration(4*time.Minute+5*time.Second))
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "never", FormatTimestamp(time.Time{}))
	assert.Equal(t, "2024-03-01 08:30:00", FormatTimestamp(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)))
}

func TestIsWithin(t *testing.T) {
	assert.True(t, IsWithin(time.Now().Add(-time.Minute), time.Hour))
	assert.False(t, IsWithin(time.Now().Add(-2*time.Hour), time.Hour))
}
