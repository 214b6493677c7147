package logger

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

// contextKey is a private type to avoid collisions in context.
type contextKey string

const (
	ctxRID     contextKey = "rid"
	ctxEventID contextKey = "event_id"
	ctxUserID  contextKey = "user_id"
	ctxStage   contextKey = "stage"
	ctxLogger  contextKey = "logger"
	ctxHandler contextKey = "handler"
	ctxTask    contextKey = "task"
)

// WithLogger stores the provided slog.Logger in context for propagation across layers.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext extracts slog.Logger from context or returns global default.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return L
	}
	if l, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return l
	}
	return L
}

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// WithRID attaches request correlation id into context.
func WithRID(ctx context.Context, rid string) context.Context {
	return withString(ctx, ctxRID, rid)
}

// RIDFrom extracts rid from context if present.
func RIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxRID) }

// WithEventMeta attaches the inbound event id and the acting user to context.
func WithEventMeta(ctx context.Context, eventID, userID string) context.Context {
	ctx = withString(ctx, ctxEventID, eventID)
	return withString(ctx, ctxUserID, userID)
}

// EventIDFrom extracts the inbound event id from context.
func EventIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxEventID) }

// UserIDFrom extracts the conversation user id from context.
func UserIDFrom(ctx context.Context) string { return stringFrom(ctx, ctxUserID) }

// WithStage records the conversation stage active while handling an event.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, ctxStage, stage)
}

// StageFrom returns the conversation stage stored in context.
func StageFrom(ctx context.Context) string { return stringFrom(ctx, ctxStage) }

// WithHandler stores handler identifier in context for downstream logs.
func WithHandler(ctx context.Context, handler string) context.Context {
	return withString(ctx, ctxHandler, handler)
}

// HandlerFrom returns handler identifier from context if present.
func HandlerFrom(ctx context.Context) string { return stringFrom(ctx, ctxHandler) }

// WithTask names the background task a context belongs to.
func WithTask(ctx context.Context, task string) context.Context {
	return withString(ctx, ctxTask, task)
}

// TaskFrom returns the background task name from context.
func TaskFrom(ctx context.Context) string { return stringFrom(ctx, ctxTask) }

// Sanitize trims non-printable runes from s to keep logs clean.
// It removes control characters (Unicode categories Cc, Cf) except for tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SanitizeLimit applies Sanitize and limits the output length in runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "…"
}

// BuildRID returns a correlation identifier in the format eventID:userID.
func BuildRID(eventID, userID string) string {
	return eventID + ":" + userID
}

// CompactRID shortens numeric colon-separated RID segments into base36 for readability.
// Non-numeric segments are kept as is; an input without separators is returned unchanged.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	if rid == "" || !strings.Contains(rid, ":") {
		return rid
	}
	parts := strings.Split(rid, ":")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return rid
		}
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = strconv.FormatInt(n, 36)
		}
	}
	return strings.Join(parts, ".")
}
