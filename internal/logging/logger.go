package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Format selects the log line encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

type Logger struct {
	entry *logrus.Entry
}

var (
	base          *logrus.Logger
	defaultLogger *Logger
	once          sync.Once
)

// Init configures the process logger. Only the first call has an effect.
func Init(level Level, format Format) {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetLevel(toLogrus(level))
		base.SetFormatter(formatter(format))
		defaultLogger = &Logger{entry: logrus.NewEntry(base)}
	})
}

func GetLogger() *Logger {
	Init(LevelInfo, FormatText)
	return defaultLogger
}

// NewLogger returns a logger tagging every line with component=name.
func NewLogger(name string) *Logger {
	return &Logger{entry: GetLogger().entry.WithField("component", name)}
}

// New wraps an existing logrus logger, mainly for tests.
func New(l *logrus.Logger) *Logger {
	return &Logger{entry: logrus.NewEntry(l)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return New(l)
}

// FieldLogger exposes the underlying logrus logger to packages that take a
// logrus.FieldLogger.
func (l *Logger) FieldLogger() logrus.FieldLogger {
	return l.entry
}

func (l *Logger) SetLevel(level Level) {
	l.entry.Logger.SetLevel(toLogrus(level))
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.with(fields).Debug(msg)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.with(fields).Info(msg)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.with(fields).Warn(msg)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.with(fields).Error(msg)
}

func (l *Logger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			data[f.Key] = err.Error()
			continue
		}
		data[f.Key] = f.Value
	}
	return l.entry.WithFields(data)
}

type Field struct {
	Key   string
	Value interface{}
}

// ParseLevel maps LOG_LEVEL style names onto a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func toLogrus(level Level) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func formatter(format Format) logrus.Formatter {
	if format == FormatJSON {
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000000"}
}

func Debug(msg string, fields ...Field) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...Field) {
	GetLogger().Error(msg, fields...)
}
