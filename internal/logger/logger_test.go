package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"debug level", "debug", zerolog.DebugLevel},
		{"info level", "info", zerolog.InfoLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"error level", "error", zerolog.ErrorLevel},
		{"uppercase level", "DEBUG", zerolog.DebugLevel},
		{"default level", "", zerolog.InfoLevel},
		{"invalid level", "chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetForTesting()
			var buf bytes.Buffer
			Setup(Config{Level: tt.level, Output: &buf})

			l := Get()
			require.NotNil(t, l)
			assert.Equal(t, tt.expected, l.GetLevel())
		})
	}
}

func TestSetupOnlyOnce(t *testing.T) {
	ResetForTesting()
	var first, second bytes.Buffer
	Setup(Config{Level: "debug", Output: &first})
	Setup(Config{Level: "error", Output: &second})

	assert.Equal(t, zerolog.DebugLevel, Get().GetLevel())

	ForceSetup(Config{Level: "error", Output: &second})
	assert.Equal(t, zerolog.ErrorLevel, Get().GetLevel())
}

func TestParseLogFormat(t *testing.T) {
	assert.Equal(t, FormatConsole, ParseLogFormat("Console"))
	assert.Equal(t, FormatJSON, ParseLogFormat("json"))
	assert.Equal(t, FormatJSON, ParseLogFormat("yaml"))
}

func TestFieldsAreWritten(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: FormatJSON, Output: &buf})

	l.With(map[string]interface{}{"component": "ingest"}).Info("candidate added", map[string]interface{}{
		"source": "google_books",
		"added":  3,
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "candidate added", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "ingest", entry["component"])
	assert.Equal(t, "google_books", entry["source"])
	assert.EqualValues(t, 3, entry["added"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: FormatJSON, Output: &buf})

	l.Debug("hidden")
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("nothing")
		l.Error("nothing", map[string]interface{}{"k": "v"})
	})
	assert.Equal(t, zerolog.NoLevel, l.GetLevel())
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf})
	fallback := New(Config{Output: &buf})

	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Same(t, fallback, Ctx(ctx, fallback))
	assert.Equal(t, ctx, NewContext(ctx, nil))

	ctx = NewContext(ctx, l)
	assert.Same(t, l, FromContext(ctx))
	assert.Same(t, l, Ctx(ctx, fallback))
}
