package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json config", config: &Config{Level: "debug", Format: "json", Output: io.Discard}},
		{name: "console config", config: &Config{Level: "info", Format: "console", Output: io.Discard}},
		{name: "nil output falls back to stdout", config: &Config{Level: "warn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, New(tt.config))
		})
	}
}

func TestLogger_JSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Service: "pha", Output: buf})

	log.Info("query generated")

	entry := decode(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "query generated", entry["message"])
	assert.Equal(t, "pha", entry["service"])
	assert.NotEmpty(t, entry["time"])
}

func TestLogger_OmitsEmptyService(t *testing.T) {
	buf := &bytes.Buffer{}
	New(&Config{Level: "info", Output: buf}).Info("x")

	entry := decode(t, buf)
	_, ok := entry["service"]
	assert.False(t, ok)
}

func TestLogger_WithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	child := log.With().
		Str("dialect", "postgresql").
		Int("limit", 10).
		Bool("patient_filter", true).
		Logger()

	child.Info("query generated")

	entry := decode(t, buf)
	assert.Equal(t, "postgresql", entry["dialect"])
	assert.Equal(t, float64(10), entry["limit"])
	assert.Equal(t, true, entry["patient_filter"])
}

func TestLogger_ErrorWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "error", Format: "json", Output: buf})

	log.ErrorWith("introspection failed", errors.New("connection refused"), map[string]any{
		"connection": "ehr-main",
		"port":       5432,
	})

	entry := decode(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "connection refused", entry["error"])
	assert.Equal(t, "ehr-main", entry["connection"])
	assert.Equal(t, float64(5432), entry["port"])
}

func TestLogger_Context(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(&Config{Level: "info", Format: "json", Output: buf})

	ctx := log.WithContext(context.Background())
	FromContext(ctx).Info("from context")

	assert.Equal(t, "from context", decode(t, buf)["message"])
}

func TestFromContext_Empty(t *testing.T) {
	log := FromContext(context.Background())
	require.NotNil(t, log)
	log.Info("discarded")
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logFunc  func(*Logger)
		expected bool
	}{
		{"debug level logs debug", "debug", func(l *Logger) { l.Debug("m") }, true},
		{"info level skips debug", "info", func(l *Logger) { l.Debug("m") }, false},
		{"warn level logs warn fields", "warn", func(l *Logger) { l.WarnWith("m", map[string]any{"a": 1}) }, true},
		{"error level logs error", "error", func(l *Logger) { l.Error("m") }, true},
		{"error level skips info", "error", func(l *Logger) { l.Info("m") }, false},
		{"unknown level means info", "loud", func(l *Logger) { l.Info("m") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.logFunc(New(&Config{Level: tt.level, Format: "json", Output: buf}))

			if tt.expected {
				assert.NotEmpty(t, buf.String(), "expected log output")
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel("DEBUG"))
	assert.True(t, ValidLevel("warn"))
	assert.False(t, ValidLevel("trace"))
}

func BenchmarkLogger_WithFields(b *testing.B) {
	log := New(&Config{Level: "info", Format: "json", Output: io.Discard})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		log.With().
			Str("dialect", "mysql").
			Int("request", i).
			Logger().
			Info("benchmark message")
	}
}
