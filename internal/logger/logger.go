package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

var (
	globalLevel  = slog.LevelInfo
	handlerMutex sync.RWMutex
)

// SetLevel sets the global log level
func SetLevel(levelStr string) {
	level := ParseLevel(levelStr)
	handlerMutex.Lock()
	defer handlerMutex.Unlock()
	globalLevel = level
}

// GetLevel returns the current log level as a string
func GetLevel() string {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()

	switch globalLevel {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel parses a string to an slog level
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// lineHandler writes "[15:04:05] [LEVEL] msg k=v" lines to every output.
// Attributes bound with With are rendered before the record's own attributes.
type lineHandler struct {
	outs   []io.Writer
	mu     *sync.Mutex
	bound  []string
	prefix string // group prefix, "a.b."
}

// Handle implements slog.Handler
func (h *lineHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.Enabled(ctx, record.Level) {
		return nil
	}

	attrs := make([]string, 0, len(h.bound)+record.NumAttrs())
	attrs = append(attrs, h.bound...)
	record.Attrs(func(a slog.Attr) bool {
		attrs = appendAttr(attrs, h.prefix, a)
		return true
	})

	message := record.Message
	if len(attrs) > 0 {
		message = message + " " + strings.Join(attrs, " ")
	}
	line := "[" + record.Time.Format("15:04:05") + "] [" + strings.ToUpper(record.Level.String()) + "] " + message + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, out := range h.outs {
		if out != nil {
			_, _ = out.Write([]byte(line))
		}
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	bound := make([]string, len(h.bound), len(h.bound)+len(attrs))
	copy(bound, h.bound)
	for _, a := range attrs {
		bound = appendAttr(bound, h.prefix, a)
	}
	return &lineHandler{outs: h.outs, mu: h.mu, bound: bound, prefix: h.prefix}
}

// WithGroup implements slog.Handler
func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &lineHandler{outs: h.outs, mu: h.mu, bound: h.bound, prefix: h.prefix + name + "."}
}

// Enabled implements slog.Handler
func (h *lineHandler) Enabled(ctx context.Context, level slog.Level) bool {
	handlerMutex.RLock()
	defer handlerMutex.RUnlock()
	return level >= globalLevel
}

func appendAttr(dst []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			dst = appendAttr(dst, prefix+a.Key+".", ga)
		}
		return dst
	}
	return append(dst, prefix+a.Key+"="+a.Value.String())
}

// NewHandler returns the line handler writing to the given outputs.
func NewHandler(outputs ...io.Writer) slog.Handler {
	return &lineHandler{outs: outputs, mu: &sync.Mutex{}}
}

// InitLogger initializes the global logger with one or more output writers
func InitLogger(outputs ...io.Writer) {
	slog.SetDefault(slog.New(NewHandler(outputs...)))
}

// Convenience functions that use the default logger
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}
