package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"INFO":   slog.LevelInfo,
		" warn ": slog.LevelWarn,
		"error":  slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "logs", "readmesync.log")

	logger, closer := New(Options{Level: slog.LevelInfo, Console: &console, File: logFile})
	logger.Info("content sync published", "item", "mod-42")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "content sync published")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "item=mod-42")
}

func TestFanout_LevelsPerHandler(t *testing.T) {
	var debugBuf, errorBuf bytes.Buffer
	h := NewFanout(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).With("component", "test").WithGroup("g")

	logger.Debug("quiet", "k", 1)
	logger.Error("loud", "k", 2)

	assert.Contains(t, debugBuf.String(), "quiet")
	assert.Contains(t, debugBuf.String(), "component=test")
	assert.Contains(t, debugBuf.String(), "g.k=2")
	assert.NotContains(t, errorBuf.String(), "quiet")
	assert.Contains(t, errorBuf.String(), "loud")
}
