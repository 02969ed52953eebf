package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/logger"
)

func TestSlogLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		level     logger.LogLevel
		logFunc   func(l logger.Logger)
		wantEmpty bool
	}{
		{"debug suppressed at info", logger.LogLevelInfo, func(l logger.Logger) { l.Debug("hidden") }, true},
		{"info shown at info", logger.LogLevelInfo, func(l logger.Logger) { l.Info("shown") }, false},
		{"warn shown at info", logger.LogLevelInfo, func(l logger.Logger) { l.Warn("shown") }, false},
		{"trace suppressed at debug", logger.LogLevelDebug, func(l logger.Logger) { l.Trace("hidden") }, true},
		{"trace shown at trace", logger.LogLevelTrace, func(l logger.Logger) { l.Trace("shown") }, false},
		{"error always shown", logger.LogLevelError, func(l logger.Logger) { l.Error("shown") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			l := logger.NewSlogLogger(buf, tt.level, time.UTC)
			tt.logFunc(l)
			if tt.wantEmpty {
				assert.Empty(t, buf.String())
			} else {
				assert.NotEmpty(t, buf.String())
			}
		})
	}
}

func TestSlogLogger_ModuleAndFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	l := logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC).
		Module("pipeline").
		Module("redetect").
		With(logger.String("date", "20250101"))

	l.Info("clip processed",
		logger.Int("lines", 3),
		logger.Float64("fps", 14.98765),
		logger.Error(errors.New("boom")),
		logger.Duration("elapsed", 1500*time.Millisecond))

	out := buf.String()
	assert.Contains(t, out, "module=pipeline.redetect")
	assert.Contains(t, out, "date=20250101")
	assert.Contains(t, out, "lines=3")
	assert.Contains(t, out, "fps=14.988")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "elapsed=1.5s")
	assert.NotContains(t, out, "time=")
}

func TestSlogLogger_WithContextTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	l := logger.NewSlogLogger(buf, logger.LogLevelInfo, time.UTC)

	ctx := logger.WithTraceID(t.Context(), "task-42")
	l.WithContext(ctx).Info("started")

	assert.Contains(t, buf.String(), "trace_id=task-42")
}

func TestCentralLogger_FileOutputIsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "meteor.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"datastore": "warn"},
	})
	require.NoError(t, err)

	cl.Module("detector").Info("detected", logger.Int("groups", 2))
	cl.Module("datastore").Info("suppressed")
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "detected", entry["msg"])
	assert.Equal(t, "detector", entry["module"])
	assert.InDelta(t, 2, entry["groups"], 0)
	assert.NotEmpty(t, entry["time"])
}

func TestNewCentralLogger_InvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestGlobal_FallbackNeverNil(t *testing.T) {
	t.Parallel()

	require.NotNil(t, logger.Global())
	require.NotNil(t, logger.Global().Module("test"))
}
