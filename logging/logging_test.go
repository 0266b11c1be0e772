package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "escrowflow", Env: "test"})

	logger.Warn("contract operation rejected", "kind", "limit")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "WARN", line["severity"])
	require.Equal(t, "contract operation rejected", line["message"])
	require.Equal(t, "escrowflow", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "limit", line["kind"])
	require.Contains(t, line, "timestamp")
	require.NotContains(t, line, "msg")
}

func TestNewHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, Options{Service: "escrowflow", Level: slog.LevelWarn})

	logger.Info("dropped")
	require.Zero(t, buf.Len())
}
