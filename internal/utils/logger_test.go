package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", Debug},
		{"INFO", Info},
		{" warn ", Warning},
		{"error", Error},
		{"", Warning},
		{"verbose", Warning},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.input), "input %q", tt.input)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("dispatcher", Info)
	logger.SetOutput(&buf)

	logger.Debug("hidden")
	logger.Info("delivered", "provider", "memory/recent", "index", 3)
	logger.Error("failed", "error", "boom")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[dispatcher] ")
	assert.Contains(t, out, "[INFO] delivered provider=memory/recent index=3")
	assert.Contains(t, out, "[ERROR] failed error=boom")
}

func TestLogger_SetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("test", Error)
	logger.SetOutput(&buf)

	logger.Warn("first")
	logger.SetLogLevel(Debug)
	logger.Warn("second")

	assert.False(t, strings.Contains(buf.String(), "first"))
	assert.True(t, strings.Contains(buf.String(), "second"))
	assert.True(t, logger.Enabled(Debug))
}

func TestFormatKeyvals(t *testing.T) {
	assert.Equal(t, "", FormatKeyvals())
	assert.Equal(t, " a=1 b=two", FormatKeyvals("a", 1, "b", "two"))
	assert.Equal(t, " a=1 dangling=<missing>", FormatKeyvals("a", 1, "dangling"))
}

func TestSetDefaultOutput(t *testing.T) {
	var buf bytes.Buffer
	SetDefaultOutput(&buf)
	defer SetDefaultOutput(nil)

	NewLogger("captured", Debug).Info("hello")
	assert.Contains(t, buf.String(), "[captured] ")
}
