package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_FansOutAndStampsParticipant(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var stdout bytes.Buffer
	file := filepath.Join(t.TempDir(), "host.log")
	logger, closer, err := initTo(&stdout, "debug", "text", file, "alice")
	require.NoError(t, err)

	logger.Debug("app ready", "app", "a1")
	require.NoError(t, closer.Close())

	assert.Contains(t, stdout.String(), "participant=alice")
	assert.Contains(t, stdout.String(), "app=a1")

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &record))
	assert.Equal(t, "app ready", record["msg"])
	assert.Equal(t, "alice", record["participant"])
}

func TestInit_Level(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var stdout bytes.Buffer
	logger, _, err := initTo(&stdout, "warn", "json", "", "")
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), `"msg":"shown"`)
	assert.NotContains(t, stdout.String(), "participant")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
