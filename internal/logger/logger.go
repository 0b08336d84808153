// Package logger builds the process-wide slog logger: a pterm-styled
// terminal handler when attached to a TTY, plain JSON otherwise, and an
// optional lumberjack-rotated file sink alongside either.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/weldr-proxy/weldr/internal/util"
	"github.com/weldr-proxy/weldr/theme"
)

type Config struct {
	Level      string
	LogDir     string
	Theme      string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	FileOutput bool
	PrettyLogs bool
}

const (
	DefaultLogOutputName = "weldr.log"

	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarn    = "warn"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// New assembles the slog.Logger described by cfg and returns it with a
// cleanup function that flushes and closes any file sink.
func New(cfg *Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)
	appTheme := theme.GetTheme(cfg.Theme)

	var cleanups []func()
	var handlers []slog.Handler

	if cfg.PrettyLogs {
		handlers = append(handlers, newTerminalHandler(level, appTheme))
	} else {
		handlers = append(handlers, newJSONHandler(os.Stdout, level))
	}

	if cfg.FileOutput {
		fileHandler, closeFile, err := newFileHandler(cfg, level)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, closeFile)
		handlers = append(handlers, fileHandler)
	}

	var logInstance *slog.Logger
	if len(handlers) == 1 {
		logInstance = slog.New(handlers[0])
	} else {
		logInstance = slog.New(&teeHandler{handlers: handlers})
	}

	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}
	return logInstance, cleanup, nil
}

// newTerminalHandler picks pterm's colourful slog bridge when colours
// are usable and falls back to JSON when stdout is not a terminal.
func newTerminalHandler(level slog.Level, appTheme *theme.Theme) slog.Handler {
	if !util.ShouldUseColors() {
		return newJSONHandler(os.Stdout, level)
	}

	plogger := pterm.DefaultLogger.
		WithLevel(ptermLevel(level)).
		WithWriter(os.Stdout).
		WithFormatter(pterm.LogFormatterColorful).
		WithKeyStyles(map[string]pterm.Style{
			"level": *appTheme.Info,
			"msg":   *appTheme.Info,
			"time":  *appTheme.Muted,
		})
	return pterm.NewSlogHandler(plogger)
}

func newJSONHandler(w *os.File, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: scrubAttr,
	})
}

func newFileHandler(cfg *Config, level slog.Level) (slog.Handler, func(), error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, DefaultLogOutputName),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: scrubAttr,
	})
	return handler, func() { _ = rotator.Close() }, nil
}

// scrubAttr normalises timestamps and strips ANSI colour codes so
// styled messages stay readable in the JSON and file sinks.
func scrubAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		return slog.Attr{
			Key:   "timestamp",
			Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05")),
		}
	default:
		switch a.Value.Kind() {
		case slog.KindString:
			if str := a.Value.String(); strings.ContainsRune(str, '\x1b') {
				return slog.Attr{Key: a.Key, Value: slog.StringValue(stripAnsiCodes(str))}
			}
		case slog.KindAny:
		default:
			return slog.Attr{Key: a.Key, Value: slog.StringValue(fmt.Sprintf("%v", a.Value.Any()))}
		}
	}
	return a
}

// teeHandler forwards each record to every sink that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn, LogLevelWarning:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ptermLevel(level slog.Level) pterm.LogLevel {
	switch level {
	case slog.LevelDebug:
		return pterm.LogLevelTrace
	case slog.LevelInfo:
		return pterm.LogLevelInfo
	case slog.LevelWarn:
		return pterm.LogLevelWarn
	case slog.LevelError:
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}
