// Package pionlogger adapts the engine logger to pion's LoggerFactory so the
// ICE and DTLS internals log through the same namespaced configuration as
// everything else.
package pionlogger

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/soundmap/soundmap/engine/logger"
)

// Factory hands pion one LeveledLogger per subsystem. Subsystem names become
// namespace segments, so a single env entry can tune e.g. pion:ice.
type Factory struct {
	log logger.Logger
}

var _ logging.LoggerFactory = &Factory{}

func NewFactory(log logger.Logger) *Factory {
	return &Factory{
		log: log.WithNamespaceAppended("pion"),
	}
}

func (f *Factory) NewLogger(subsystem string) logging.LeveledLogger {
	return &leveled{
		log: f.log.WithNamespaceAppended(subsystem),
	}
}

// leveled checks the configured level before formatting. Pion is chatty at
// trace, and the Sprintf would otherwise run for every dropped line.
type leveled struct {
	log logger.Logger
}

func (l *leveled) Trace(msg string) {
	l.log.Trace(msg, nil)
}

func (l *leveled) Tracef(format string, args ...interface{}) {
	if l.log.IsLevelEnabled(logger.LevelTrace) {
		l.log.Trace(fmt.Sprintf(format, args...), nil)
	}
}

func (l *leveled) Debug(msg string) {
	l.log.Debug(msg, nil)
}

func (l *leveled) Debugf(format string, args ...interface{}) {
	if l.log.IsLevelEnabled(logger.LevelDebug) {
		l.log.Debug(fmt.Sprintf(format, args...), nil)
	}
}

func (l *leveled) Info(msg string) {
	l.log.Info(msg, nil)
}

func (l *leveled) Infof(format string, args ...interface{}) {
	if l.log.IsLevelEnabled(logger.LevelInfo) {
		l.log.Info(fmt.Sprintf(format, args...), nil)
	}
}

func (l *leveled) Warn(msg string) {
	l.log.Warn(msg, nil)
}

func (l *leveled) Warnf(format string, args ...interface{}) {
	if l.log.IsLevelEnabled(logger.LevelWarn) {
		l.log.Warn(fmt.Sprintf(format, args...), nil)
	}
}

func (l *leveled) Error(msg string) {
	l.log.Error(msg, nil, nil)
}

func (l *leveled) Errorf(format string, args ...interface{}) {
	if l.log.IsLevelEnabled(logger.LevelError) {
		l.log.Error(fmt.Sprintf(format, args...), nil, nil)
	}
}
