package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Logger is the structured logger handed to every component. Fields are
// alternating key/value pairs; an "error" key carrying an error is attached
// as the event error.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

type Options struct {
	Level  string // debug|info|warn|error
	Format string // console|json
	File   string // rotating file path; empty disables
}

type zlogger struct {
	zl zerolog.Logger
}

// New builds a zerolog-backed Logger from opts.
func New(opts Options) (Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	var writers []io.Writer
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		writers = append(writers, ConsoleWriter(os.Stdout))
	case "json":
		writers = append(writers, os.Stdout)
	default:
		return nil, fmt.Errorf("invalid log format: %q", opts.Format)
	}
	if opts.File != "" {
		writers = append(writers, FileWriter(opts.File))
	}
	return NewWithWriters(level, writers...), nil
}

// NewWithWriters returns a Logger writing to every writer at the given level.
func NewWithWriters(level zerolog.Level, writers ...io.Writer) Logger {
	multi := io.MultiWriter(writers...)
	zl := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	return &zlogger{zl: zl}
}

// Nop discards everything.
func Nop() Logger {
	return &zlogger{zl: zerolog.Nop()}
}

func ConsoleWriter(out io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// FileWriter returns a size-rotated, compressed log file.
func FileWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

func (l *zlogger) Debug(msg string, fields ...interface{}) { logWithFields(l.zl.Debug(), msg, fields...) }
func (l *zlogger) Info(msg string, fields ...interface{})  { logWithFields(l.zl.Info(), msg, fields...) }
func (l *zlogger) Warn(msg string, fields ...interface{})  { logWithFields(l.zl.Warn(), msg, fields...) }
func (l *zlogger) Error(msg string, fields ...interface{}) { logWithFields(l.zl.Error(), msg, fields...) }

func (l *zlogger) With(fields ...interface{}) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &zlogger{zl: ctx.Logger()}
}

func logWithFields(event *zerolog.Event, msg string, fields ...interface{}) {
	if event == nil {
		return
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if key == "error" {
			if err, ok := fields[i+1].(error); ok && err != nil {
				event = event.Err(err)
				continue
			}
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

func parseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("invalid log level: %q", s)
	}
}
