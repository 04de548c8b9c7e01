package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"Error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for name, want := range cases {
		got, ok := ParseLevel(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}

	got, ok := ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, slog.LevelInfo, got)
}

func TestNewWritesJSONAndWarnsOnUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "loud")
	l.Debug("hidden")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "loud", entry["configured_level"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	l := Discard()
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
}
