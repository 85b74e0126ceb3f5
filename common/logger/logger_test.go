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

func newBuffered(buf *bytes.Buffer) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestContextualFields(t *testing.T) {
	var buf bytes.Buffer
	log := newBuffered(&buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	log.WithContext(ctx).WithRunID("run-1").WithResidue("A 123").WithOwner("u1").Info("mutation applied", "rotamer", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, "A 123", line["residue"])
	assert.Equal(t, "u1", line["owner_id"])
	assert.EqualValues(t, 2, line["rotamer"])
}

func TestErrorAddsStack(t *testing.T) {
	var buf bytes.Buffer
	log := newBuffered(&buf)

	log.Error("primitive failed", "error", "boom")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Contains(t, line["stack"], "TestErrorAddsStack")
}
