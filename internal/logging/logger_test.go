package logging

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		minLevel  Level
		logLevel  Level
		shouldLog bool
	}{
		{"debug allowed at debug", LevelDebug, LevelDebug, true},
		{"info allowed at debug", LevelDebug, LevelInfo, true},
		{"warn allowed at debug", LevelDebug, LevelWarn, true},
		{"error allowed at debug", LevelDebug, LevelError, true},
		{"debug blocked at info", LevelInfo, LevelDebug, false},
		{"info allowed at info", LevelInfo, LevelInfo, true},
		{"warn allowed at info", LevelInfo, LevelWarn, true},
		{"error allowed at info", LevelInfo, LevelError, true},
		{"debug blocked at warn", LevelWarn, LevelDebug, false},
		{"info blocked at warn", LevelWarn, LevelInfo, false},
		{"warn allowed at warn", LevelWarn, LevelWarn, true},
		{"error allowed at warn", LevelWarn, LevelError, true},
		{"debug blocked at error", LevelError, LevelDebug, false},
		{"info blocked at error", LevelError, LevelInfo, false},
		{"warn blocked at error", LevelError, LevelWarn, false},
		{"error allowed at error", LevelError, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New()
			logger.SetLevel(tt.minLevel)
			logger.SetOutput(log.New(&buf, "", 0))

			switch tt.logLevel {
			case LevelDebug:
				logger.Debug("test message")
			case LevelInfo:
				logger.Info("test message")
			case LevelWarn:
				logger.Warn("test message")
			case LevelError:
				logger.Error("test message")
			}

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String(), "expected log output")
				assert.Contains(t, buf.String(), "test message")
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(log.New(&buf, "", 0))

	childLogger := logger.With("component", "stream")
	childLogger.Warn("Disconnected from feed")

	output := buf.String()
	assert.Contains(t, output, "WARN: Disconnected from feed")
	assert.Contains(t, output, "component=stream")
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(log.New(&buf, "", 0))

	childLogger := logger.WithFields(map[string]interface{}{
		"url":       "ws://localhost:8000/ws/dashboard/",
		"component": "stream",
	})
	childLogger.Error("Giving up on feed")

	assert.Equal(t,
		"ERROR: Giving up on feed | component=stream url=ws://localhost:8000/ws/dashboard/\n",
		buf.String())
}

func TestLoggerInlineKeyVals(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(log.New(&buf, "", 0))

	logger.Warn("Failed to connect to feed", "error", errors.New("connection refused"), "attempt", 3)

	output := buf.String()
	assert.Contains(t, output, "WARN: Failed to connect to feed")
	assert.Contains(t, output, "error=\"connection refused\"")
	assert.Contains(t, output, "attempt=3")
}

func TestLoggerChainingPreservesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(log.New(&buf, "", 0))

	hubLogger := logger.With("component", "hub")
	connLogger := hubLogger.With("conn", "7f3c")
	connLogger.Info("Client connected")

	output := buf.String()
	assert.Contains(t, output, "component=hub")
	assert.Contains(t, output, "conn=7f3c")
}

func TestLoggerOriginalUnmodified(t *testing.T) {
	var buf bytes.Buffer
	logger := New()
	logger.SetLevel(LevelDebug)
	logger.SetOutput(log.New(&buf, "", 0))

	_ = logger.With("component", "stream")
	logger.Info("original logger")

	output := buf.String()
	assert.NotContains(t, output, "component=stream")
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{"simple string", "hello", "hello"},
		{"string with spaces", "hello world", `"hello world"`},
		{"string with newline", "hello\nworld", `"hello\nworld"`},
		{"integer", 42, "42"},
		{"error", errors.New("oops"), `"oops"`},
		{"bool", true, "true"},
		{"empty string", "", `""`},
		{"string with quote", `say "hi"`, `"say \"hi\""`},
		{"duration", 3 * time.Second, "3s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := formatValue(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	// Test that package-level functions work
	var buf bytes.Buffer
	SetOutput(log.New(&buf, "", 0))
	SetLevel(LevelWarn)

	// Debug should be filtered out
	Debug("debug message")
	assert.Empty(t, buf.String())

	// Warn should be logged
	Warn("warn message")
	assert.Contains(t, buf.String(), "WARN: warn message")

	buf.Reset()

	// With should return a child logger
	childLogger := With("component", "test")
	childLogger.Error("error message")
	assert.Contains(t, buf.String(), "component=test")
}

func TestLevelNames(t *testing.T) {
	tests := []struct {
		level Level
		name  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New()
			logger.SetLevel(LevelDebug)
			logger.SetOutput(log.New(&buf, "", 0))

			switch tt.level {
			case LevelDebug:
				logger.Debug("test")
			case LevelInfo:
				logger.Info("test")
			case LevelWarn:
				logger.Warn("test")
			case LevelError:
				logger.Error("test")
			}

			assert.True(t, strings.HasPrefix(buf.String(), tt.name+":"))
		})
	}
}

func TestLoggerSortsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, LevelDebug).With("z", 1)

	logger.Info("ordered", "b", 2, "a", 3)

	assert.Equal(t, "INFO: ordered | a=3 b=2 z=1\n", buf.String())
}

func TestLoggerIgnoresDanglingKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, LevelDebug)

	logger.Info("odd", "a", 1, "dangling")

	assert.Equal(t, "INFO: odd | a=1\n", buf.String())
}

func TestLoggerChildrenShareSink(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriter(&buf, LevelError)
	child := root.With("component", "hub")

	child.Info("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, child.Enabled(LevelInfo))

	root.SetLevel(LevelInfo)
	child.Info("visible")
	assert.Contains(t, buf.String(), "INFO: visible | component=hub")
	assert.True(t, child.Enabled(LevelInfo))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{" Error ", LevelError},
		{"", LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, "LEVEL(9)", Level(9).String())
}
