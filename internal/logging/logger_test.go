package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestComponentLogger_RespectsEnabledLevels(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(nil)

	logger := NewComponentLogger(ComponentLoggerConfig{
		ComponentName: "TEST",
		Color:         color.FgRed,
		EnabledLevels: []LogLevel{INFO, ERROR},
	})

	logger.Info("hello %s", "world")
	assert.Contains(t, buf.String(), "[TEST]")
	assert.Contains(t, buf.String(), "hello world")

	buf.Reset()
	logger.Debug("should not appear")
	assert.Empty(t, buf.String())

	buf.Reset()
	logger.Error("boom")
	assert.Contains(t, buf.String(), "boom")
}

func TestComponentLogger_DefaultEnablesAllLevels(t *testing.T) {
	logger := NewComponentLogger(ComponentLoggerConfig{ComponentName: "TEST"})
	for _, lvl := range []LogLevel{DEBUG, INFO, WARN, ERROR} {
		assert.True(t, logger.enabled[lvl])
	}
}

func TestLoggerFactory_KnownAndUnknownComponents(t *testing.T) {
	factory := LoggerFactory{}
	assert.Equal(t, SupervisorLogger, factory.GetLogger("SUPERVISOR"))
	assert.NotNil(t, factory.GetLogger("SOMETHING_NEW"))
}

func TestOrNop_NilSafe(t *testing.T) {
	var l Logger
	wrapped := OrNop(l)
	assert.NotPanics(t, func() {
		wrapped.Info("fine")
	})
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "UNKNOWN", LogLevel(99).String())
}

func TestConvenienceFunctions(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(nil)

	LogInfo("TEST", "via convenience")
	assert.True(t, strings.Contains(buf.String(), "via convenience"))
}
