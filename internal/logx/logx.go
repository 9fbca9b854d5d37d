// Package logx provides the logger factory handed to every component.
// Loggers satisfy pion/logging's LeveledLogger so the same factory also
// serves pion's internals; output is rendered by pterm.
package logx

import (
	"fmt"
	"io"
	"os"

	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// Factory creates scoped pterm-backed loggers.
type Factory struct {
	base  pterm.Logger
	level logging.LogLevel
}

var _ logging.LoggerFactory = (*Factory)(nil)

// NewFactory returns a factory writing to w (stderr when nil). Messages
// below level are discarded.
func NewFactory(w io.Writer, level logging.LogLevel) *Factory {
	if w == nil {
		w = os.Stderr
	}
	base := pterm.DefaultLogger
	base.Writer = w
	base.ShowTime = true
	base.TimeFormat = "02 Jan 15:04:05.000"
	base.MaxWidth = 1000
	base.Level = pterm.LogLevelTrace
	return &Factory{base: base, level: level}
}

// NewLogger implements logging.LoggerFactory.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &logger{base: f.base, scope: scope, level: f.level}
}

type logger struct {
	base  pterm.Logger
	scope string
	level logging.LogLevel
}

func (l *logger) emit(level logging.LogLevel, msg string) {
	if l.level < level {
		return
	}
	msg = "[" + l.scope + "] " + msg
	switch level {
	case logging.LogLevelTrace:
		l.base.Trace(msg)
	case logging.LogLevelDebug:
		l.base.Debug(msg)
	case logging.LogLevelInfo:
		l.base.Info(msg)
	case logging.LogLevelWarn:
		l.base.Warn(msg)
	default:
		l.base.Error(msg)
	}
}

func (l *logger) Trace(msg string) { l.emit(logging.LogLevelTrace, msg) }
func (l *logger) Tracef(format string, args ...interface{}) {
	l.emit(logging.LogLevelTrace, fmt.Sprintf(format, args...))
}
func (l *logger) Debug(msg string) { l.emit(logging.LogLevelDebug, msg) }
func (l *logger) Debugf(format string, args ...interface{}) {
	l.emit(logging.LogLevelDebug, fmt.Sprintf(format, args...))
}
func (l *logger) Info(msg string) { l.emit(logging.LogLevelInfo, msg) }
func (l *logger) Infof(format string, args ...interface{}) {
	l.emit(logging.LogLevelInfo, fmt.Sprintf(format, args...))
}
func (l *logger) Warn(msg string) { l.emit(logging.LogLevelWarn, msg) }
func (l *logger) Warnf(format string, args ...interface{}) {
	l.emit(logging.LogLevelWarn, fmt.Sprintf(format, args...))
}
func (l *logger) Error(msg string) { l.emit(logging.LogLevelError, msg) }
func (l *logger) Errorf(format string, args ...interface{}) {
	l.emit(logging.LogLevelError, fmt.Sprintf(format, args...))
}

// Discard returns a factory whose loggers drop everything. Components fall
// back to it when no factory is configured.
func Discard() logging.LoggerFactory {
	return &logging.DefaultLoggerFactory{
		Writer:          io.Discard,
		DefaultLogLevel: logging.LogLevelDisabled,
		ScopeLevels:     map[string]logging.LogLevel{},
	}
}
