package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "info", "json"))
	logger.Debug("hidden")
	logger.Info("image ingested", "event_id", "wedding")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "image ingested", line["msg"])
	assert.Equal(t, "wedding", line["event_id"])
}

func TestNewHandlerText(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, "debug", "text")).Debug("snapshot", "faces", 3)
	assert.Contains(t, buf.String(), "faces=3")
}
