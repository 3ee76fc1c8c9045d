package logger_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ms-checkin/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWriterLogger(&buf)
	l.SetLevel(logger.WARN)

	l.Info("SCAN", "should be dropped")
	l.Warn("SCAN", "kept warning")
	l.LogSync("RUN", "dropped info helper")

	out := buf.String()
	assert.NotContains(t, out, "should be dropped")
	assert.NotContains(t, out, "dropped info helper")
	assert.Contains(t, out, "kept warning")
	assert.Contains(t, out, "[SCAN")
}

func TestLoggerInDir_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	l := logger.NewLoggerInDir(dir, "test")
	l.LogCommit("MAIN", "QR-1", "committed 2 entries")
	l.Close()

	files, err := filepath.Glob(filepath.Join(dir, "test-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"category":"COMMIT"`))
	assert.True(t, strings.Contains(string(data), "committed 2 entries"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logger.DEBUG, logger.ParseLevel("debug"))
	assert.Equal(t, logger.ERROR, logger.ParseLevel("ERROR"))
	assert.Equal(t, logger.INFO, logger.ParseLevel("whatever"))
}
