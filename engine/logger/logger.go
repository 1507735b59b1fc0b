package logger

import (
	"os"
	"sync"
	"time"

	"io"
)

// Logger is an interface for a namespaced leveled logger.
type Logger interface {
	// Ctx returns the current logger's context.
	Ctx() Ctx

	// WithCtx returns a new Logger with context appended to existing context.
	WithCtx(Ctx) Logger

	// WithFormatter returns a new Logger with formatter set.
	WithFormatter(Formatter) Logger

	// WithWriter returns a new Logger with writer set.
	WithWriter(io.Writer) Logger

	// WithNamespace returns a new Logger with namespace set.
	WithNamespace(namespace string) Logger

	// WithNamespaceAppended returns a new Logger with namespace appended.
	WithNamespaceAppended(namespace string) Logger

	// WithConfig returns a new Logger with config set.
	WithConfig(config Config) Logger

	// Level returns the current logger's level.
	Level() Level

	Namespace() string

	// IsLevelEnabled returns true when level is enabled, false otherwise.
	IsLevelEnabled(level Level) bool

	// Trace adds a log entry with level trace.
	Trace(message string, ctx Ctx)

	// Debug adds a log entry with level debug.
	Debug(message string, ctx Ctx)

	// Info adds a log entry with level info.
	Info(message string, ctx Ctx)

	// Warn adds a log entry with level warn.
	Warn(message string, ctx Ctx)

	// Error adds a log entry with level error.
	Error(message string, err error, ctx Ctx)
}

// logger writes formatted entries to an io.Writer when its level is enabled.
type logger struct {
	config    Config
	ctx       Ctx
	formatter Formatter
	namespace string
	writer    io.Writer
	mu        *sync.Mutex
}

// New returns a new Logger with the default StringFormatter and logging
// disabled. Use WithConfig to set the levels for different namespaces.
func New() Logger {
	return &logger{
		config:    LevelDisabled,
		ctx:       nil,
		formatter: NewStringFormatter(StringFormatterParams{}),
		namespace: "",
		writer:    os.Stderr,
		mu:        &sync.Mutex{},
	}
}

// NewFromEnv creates a new logger configured from the environment variable
// named key.
func NewFromEnv(key string) Logger {
	return New().WithConfig(NewConfigMapFromString(os.Getenv(key)))
}

// compile-time assertion that logger implements Logger.
var _ Logger = &logger{}

func (l *logger) clone() *logger {
	return &logger{
		config:    l.config,
		ctx:       l.ctx,
		formatter: l.formatter,
		namespace: l.namespace,
		writer:    l.writer,
		mu:        l.mu,
	}
}

// Ctx implements Logger.
func (l *logger) Ctx() Ctx {
	return l.ctx
}

// WithCtx implements Logger.
func (l *logger) WithCtx(ctx Ctx) Logger {
	ret := l.clone()
	ret.ctx = l.ctx.WithCtx(ctx)

	return ret
}

// WithFormatter implements Logger.
func (l *logger) WithFormatter(formatter Formatter) Logger {
	ret := l.clone()
	ret.formatter = formatter

	return ret
}

// WithWriter implements Logger.
func (l *logger) WithWriter(writer io.Writer) Logger {
	ret := l.clone()
	ret.writer = writer

	return ret
}

// WithNamespace implements Logger.
func (l *logger) WithNamespace(namespace string) Logger {
	ret := l.clone()
	ret.namespace = namespace

	return ret
}

// WithNamespaceAppended implements Logger.
func (l *logger) WithNamespaceAppended(namespace string) Logger {
	if l.namespace != "" {
		namespace = l.namespace + ":" + namespace
	}

	return l.WithNamespace(namespace)
}

// WithConfig implements Logger.
func (l *logger) WithConfig(config Config) Logger {
	if config == nil {
		return l
	}

	ret := l.clone()
	ret.config = config

	return ret
}

// Level implements Logger.
func (l *logger) Level() Level {
	return l.config.LevelForNamespace(l.namespace)
}

// Namespace implements Logger.
func (l *logger) Namespace() string {
	return l.namespace
}

// IsLevelEnabled implements Logger.
func (l *logger) IsLevelEnabled(level Level) bool {
	return l.Level() >= level
}

func (l *logger) log(level Level, body string, ctx Ctx) {
	if !l.IsLevelEnabled(level) {
		return
	}

	message := Message{
		Timestamp: time.Now(),
		Namespace: l.namespace,
		Level:     level,
		Body:      body,
		Ctx:       l.ctx.WithCtx(ctx),
	}

	b, err := l.formatter.Format(message)
	if err != nil {
		return
	}

	l.mu.Lock()
	_, _ = l.writer.Write(b)
	l.mu.Unlock()
}

// Trace implements Logger.
func (l *logger) Trace(message string, ctx Ctx) {
	l.log(LevelTrace, message, ctx)
}

// Debug implements Logger.
func (l *logger) Debug(message string, ctx Ctx) {
	l.log(LevelDebug, message, ctx)
}

// Info implements Logger.
func (l *logger) Info(message string, ctx Ctx) {
	l.log(LevelInfo, message, ctx)
}

// Warn implements Logger.
func (l *logger) Warn(message string, ctx Ctx) {
	l.log(LevelWarn, message, ctx)
}

// Error implements Logger.
func (l *logger) Error(message string, err error, ctx Ctx) {
	if err != nil {
		ctx = ctx.WithCtx(Ctx{"error": err})
	}

	l.log(LevelError, message, ctx)
}
