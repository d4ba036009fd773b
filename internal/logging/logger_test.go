package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Warn("visible warning")
	logger.Error("visible error")

	output := buf.String()
	assert.NotContains(t, output, "hidden debug")
	assert.NotContains(t, output, "hidden info")
	assert.Contains(t, output, "visible warning")
	assert.Contains(t, output, "visible error")
}

func TestKeyValueFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("configured", "cells", 1024, "batch", 2)

	output := buf.String()
	assert.Contains(t, output, "configured")
	assert.Contains(t, output, "cells=1024")
	assert.Contains(t, output, "batch=2")
}

func TestFormattedVariants(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debugf("query %d of %d", 3, 8)
	if !strings.Contains(buf.String(), "query 3 of 8") {
		t.Errorf("expected formatted message, got: %s", buf.String())
	}
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	prev := Default()
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	defer SetDefault(prev)

	Debug("debug message", "key", "value")
	output := buf.String()
	assert.Contains(t, output, "debug message")
	assert.Contains(t, output, "key=value")

	buf.Reset()
	Info("info message")
	assert.Contains(t, buf.String(), "info message")

	buf.Reset()
	Warn("warning message")
	assert.Contains(t, buf.String(), "warning message")

	buf.Reset()
	Error("error message")
	assert.Contains(t, buf.String(), "error message")
}

func TestNilConfigDefaults(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
}
