package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZerologLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "chatrelay", zerolog.DebugLevel)

	log.For(Auth).With(Field{Key: "addr", Value: "10.0.0.1"}).Info("client failed to connect", Field{Key: "outcome", Value: "bad_password"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "chatrelay", lines[0]["service"])
	assert.Equal(t, "auth", lines[0]["category"])
	assert.Equal(t, "10.0.0.1", lines[0]["addr"])
	assert.Equal(t, "bad_password", lines[0]["outcome"])
	assert.Equal(t, "info", lines[0]["level"])
}

func TestZerologLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewZerologLogger(zerolog.New(&buf), "chatrelay", zerolog.WarnLevel)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	log.Error("shown", Err(assert.AnError))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, assert.AnError.Error(), lines[1]["error"])
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)

	level, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.For(Network).Info("ignored")
	assert.NoError(t, log.Close())
}

func TestDailyFileWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDailyFileWriter("chatrelay", dir)
	require.NoError(t, err)

	day := time.Date(2026, 10, 19, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return day }

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chatrelay_2026-10-19.log"), w.CurrentLogFile())

	day = day.Add(2 * time.Minute)
	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chatrelay_2026-10-20.log"), w.CurrentLogFile())

	content, err := os.ReadFile(filepath.Join(dir, "chatrelay_2026-10-20.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(content))

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Write([]byte("late\n"))
	assert.ErrorIs(t, err, errWriterClosed)
	assert.Empty(t, w.CurrentLogFile())
}

func TestNewFileLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := NewFileLogger("chatrelay", dir, zerolog.InfoLevel)
	require.NoError(t, err)

	log.Info("started")
	require.NoError(t, log.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "chatrelay_"))
}
