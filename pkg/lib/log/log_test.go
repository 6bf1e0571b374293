package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type secret struct{}

func (secret) LogValue() slog.Value { return slog.StringValue("visible-part") }

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := make(map[string]any)
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZapHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewZapHandler(&buf, LevelInfo, true))

	l.With("component", "dht").Info("lookup done",
		"peers", 3,
		"took", 2*time.Second,
		"err", errors.New("boom"),
		"locator", secret{},
		slog.Group("rpc", "type", "PING"),
	)
	l.Debug("dropped")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	m := lines[0]
	assert.Equal(t, "lookup done", m["msg"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "dht", m["component"])
	assert.EqualValues(t, 3, m["peers"])
	assert.Equal(t, "boom", m["err"])
	assert.Equal(t, "visible-part", m["locator"])
	assert.Equal(t, "PING", m["rpc.type"])
}

func TestZapHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewZapHandler(&buf, LevelDebug, true)).WithGroup("transfer")
	l.Debug("chunk", "index", 2)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.EqualValues(t, 2, lines[0]["transfer.index"])
}

func TestLazyLogger_FollowsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	logger := Logger("content")

	var buf bytes.Buffer
	SetOutputWithLevel(&buf, LevelWarn, true)
	logger.Info("ignored")
	logger.Warn("stored", "chunks", 5)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "content", lines[0]["component"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
