// Package logger provides the levelled logging interface used across the pipeline.
package logger

import (
	"fmt"
	"log"
	"strings"
)

// LogLevel - log level type
type LogLevel int

const (
	// LogDebug - DEBUG log level
	LogDebug LogLevel = iota
	// LogInfo - INFO log level
	LogInfo
	// LogError - ERROR log level (does not call os.Exit!)
	LogError
)

var logLevelPrefix = map[LogLevel]string{
	LogDebug: "DEBUG",
	LogInfo:  "INFO",
	LogError: "ERROR",
}

// ParseLevel converts "debug", "info" or "error" to a LogLevel. Anything else is LogInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogDebug
	case "error":
		return LogError
	default:
		return LogInfo
	}
}

// ILogger - Generic logger interface
type ILogger interface {
	Printf(level LogLevel, format string, a ...interface{})
	Debugf(format string, a ...interface{})
	Infof(format string, a ...interface{})
	Errorf(format string, a ...interface{})
}

// StdOutLogger writes through the standard log package, dropping messages below its level.
type StdOutLogger struct {
	logLevel LogLevel
}

// NewStdOutLogger creates a logger at the given level.
func NewStdOutLogger(level LogLevel) *StdOutLogger {
	return &StdOutLogger{logLevel: level}
}

func (l *StdOutLogger) Printf(level LogLevel, format string, a ...interface{}) {
	if l.logLevel > level {
		return
	}
	txt := logLevelPrefix[level] + ": " + fmt.Sprintf(format, a...)
	_ = log.Output(3, txt)
}
func (l *StdOutLogger) Debugf(format string, a ...interface{}) {
	l.Printf(LogDebug, format, a...)
}
func (l *StdOutLogger) Infof(format string, a ...interface{}) {
	l.Printf(LogInfo, format, a...)
}
func (l *StdOutLogger) Errorf(format string, a ...interface{}) {
	l.Printf(LogError, format, a...)
}

func (l *StdOutLogger) SetLogLevel(level LogLevel) {
	l.logLevel = level
}
func (l *StdOutLogger) GetLogLevel() LogLevel {
	return l.logLevel
}

// NullLogger - For mocking out in tests
type NullLogger struct {
}

func (l NullLogger) Printf(level LogLevel, format string, a ...interface{}) {
	// We do nothing!
}
func (l NullLogger) Debugf(format string, a ...interface{}) {
	// We do nothing!
}
func (l NullLogger) Infof(format string, a ...interface{}) {
	// We do nothing!
}
func (l NullLogger) Errorf(format string, a ...interface{}) {
	// We do nothing!
}
