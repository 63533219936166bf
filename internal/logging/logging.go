// Package logging builds the process slog logger and carries request-scoped
// attributes (principal, scheduled item, trace) through context.
//
// Output is text on a TTY and JSON otherwise; LOG_FORMAT (text/json) and
// LOG_LEVEL (debug/info/warn/error) override the defaults.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// ContextKey is the type of keys this package stores on a context.
type ContextKey string

const (
	// PrincipalKey carries the authenticated principal id.
	PrincipalKey ContextKey = "log_principal_id"
	// ItemIDKey carries the scheduled item being dispatched.
	ItemIDKey ContextKey = "log_item_id"
)

// New creates a logger writing to stdout.
func New() *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")
	useText := logFormat == "text" || (logFormat == "" && isatty(os.Stdout))
	return NewWithWriter(os.Stdout, useText, parseLogLevel(os.Getenv("LOG_LEVEL")))
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(w io.Writer, text bool, level slog.Level) *slog.Logger {
	wd, _ := os.Getwd()

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key != slog.SourceKey {
				return a
			}
			if src, ok := a.Value.Any().(*slog.Source); ok {
				if rel, err := filepath.Rel(wd, src.File); err == nil {
					src.File = rel
				} else {
					src.File = filepath.Base(src.File)
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// SetDefault creates a new logger and sets it as the default slog logger.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// WithPrincipal stores the principal id on ctx.
func WithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principalID)
}

// WithItemID stores the scheduled item id on ctx.
func WithItemID(ctx context.Context, itemID string) context.Context {
	return context.WithValue(ctx, ItemIDKey, itemID)
}

// GetPrincipal returns the principal id from ctx, or "".
func GetPrincipal(ctx context.Context) string {
	v, _ := ctx.Value(PrincipalKey).(string)
	return v
}

// GetItemID returns the scheduled item id from ctx, or "".
func GetItemID(ctx context.Context) string {
	v, _ := ctx.Value(ItemIDKey).(string)
	return v
}

// FromContext returns logger annotated with whatever ctx carries. The
// original logger is returned unchanged when ctx carries nothing.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	var attrs []any
	if v := GetPrincipal(ctx); v != "" {
		attrs = append(attrs, "principal_id", v)
	}
	if v := GetItemID(ctx); v != "" {
		attrs = append(attrs, "item_id", v)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs, "trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
