// Package logging provides leveled, colorized, per-component loggers used
// across the engine. It mirrors the teacher's ComponentLogger: a small
// wrapper over the standard log package rather than a full logging
// framework, since every component already knows its own name.
package logging

import (
	"fmt"
	"log"
	"sync"

	"github.com/fatih/color"
)

// LogLevel is the severity of a single log line.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal interface the rest of the engine depends on, so
// components never import this package's concrete type directly.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// ComponentLoggerConfig configures a ComponentLogger.
type ComponentLoggerConfig struct {
	ComponentName string
	Color         color.Attribute
	EnabledLevels []LogLevel // empty = all levels enabled
}

// ComponentLogger prefixes every line with a colorized component tag.
type ComponentLogger struct {
	mu      sync.Mutex
	name    string
	colorFn func(format string, a ...interface{}) string
	enabled map[LogLevel]bool
}

// NewComponentLogger creates a logger for one named subsystem.
func NewComponentLogger(cfg ComponentLoggerConfig) *ComponentLogger {
	enabled := map[LogLevel]bool{}
	if len(cfg.EnabledLevels) == 0 {
		enabled[DEBUG], enabled[INFO], enabled[WARN], enabled[ERROR] = true, true, true, true
	} else {
		for _, lvl := range cfg.EnabledLevels {
			enabled[lvl] = true
		}
	}
	attr := cfg.Color
	if attr == 0 {
		attr = color.FgWhite
	}
	return &ComponentLogger{
		name:    cfg.ComponentName,
		colorFn: color.New(attr).SprintfFunc(),
		enabled: enabled,
	}
}

func (c *ComponentLogger) log(level LogLevel, format string, args ...interface{}) {
	if !c.enabled[level] {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	log.Print(c.colorFn("[%s] %s: %s", c.name, level, msg))
}

func (c *ComponentLogger) Debug(format string, args ...interface{}) { c.log(DEBUG, format, args...) }
func (c *ComponentLogger) Info(format string, args ...interface{})  { c.log(INFO, format, args...) }
func (c *ComponentLogger) Warn(format string, args ...interface{})  { c.log(WARN, format, args...) }
func (c *ComponentLogger) Error(format string, args ...interface{}) { c.log(ERROR, format, args...) }

// nopLogger discards everything; used when no logger is injected.
type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// OrNop returns l, or a no-op logger if l is nil, so callers never need a
// nil check before logging.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// Well-known component loggers, mirroring the teacher's package-level
// singletons (ReactLogger, ToolLogger, ...).
var (
	SupervisorLogger = NewComponentLogger(ComponentLoggerConfig{ComponentName: "SUPERVISOR", Color: color.FgCyan})
	SignalLogger     = NewComponentLogger(ComponentLoggerConfig{ComponentName: "SIGNAL", Color: color.FgYellow})
	RouterLogger     = NewComponentLogger(ComponentLoggerConfig{ComponentName: "ROUTER", Color: color.FgMagenta})
	EffectLogger     = NewComponentLogger(ComponentLoggerConfig{ComponentName: "EFFECT", Color: color.FgGreen})
	KVLogger         = NewComponentLogger(ComponentLoggerConfig{ComponentName: "KVSTORE", Color: color.FgBlue})
)

// LoggerFactory resolves a Logger by component name, for code that only
// knows the name at runtime (e.g. module-contributed detectors).
type LoggerFactory struct{}

// GetLogger returns the well-known logger for component, or a fresh
// default-colored logger if the name is not recognised.
func (LoggerFactory) GetLogger(component string) Logger {
	switch component {
	case "SUPERVISOR":
		return SupervisorLogger
	case "SIGNAL":
		return SignalLogger
	case "ROUTER":
		return RouterLogger
	case "EFFECT":
		return EffectLogger
	case "KVSTORE":
		return KVLogger
	default:
		return NewComponentLogger(ComponentLoggerConfig{ComponentName: component})
	}
}

// LogInfo and LogError are convenience functions for call sites that don't
// hold a Logger reference (e.g. package init or one-off CLI output).
func LogInfo(component, format string, args ...interface{}) {
	(LoggerFactory{}).GetLogger(component).Info(format, args...)
}

func LogError(component, format string, args ...interface{}) {
	(LoggerFactory{}).GetLogger(component).Error(format, args...)
}
