package router

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/storylens/core/logger"
	tghelpers "github.com/m3rciful/storylens/core/telegram/helpers"
	"github.com/m3rciful/storylens/core/telegram/middleware"
	tgsender "github.com/m3rciful/storylens/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// summary describes how one routed update ended.
type summary struct {
	handler string
	status  string
	extras  []slog.Attr
}

func handleWithSummary(c tele.Context, handlerName string, fn tele.HandlerFunc, extras ...slog.Attr) error {
	start := time.Now()
	tghelpers.WithHandler(c, handlerName)
	err := fn(c)
	logHandlerSummary(c, summary{handler: handlerName, extras: extras}, start, err)
	return err
}

func logHandlerSummary(c tele.Context, s summary, start time.Time, err error) {
	ctx := tghelpers.WithHandler(c, s.handler)
	msgs, kb := middleware.GetCounters(c)

	status := s.status
	if status == "" {
		status = logger.Status(err)
	}
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("outcome", logger.Status(err)),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(tgsender.SanitizeError(err), 256)),
			slog.String("err_code", deriveErrorCode(err)),
		)
	}
	logger.LogEvent(ctx, logger.TG, slog.LevelInfo, "handler.handled", append(attrs, s.extras...)...)
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	return strings.ToLower(strings.ReplaceAll(name, " ", "_"))
}

// deriveErrorCode prefers an explicit Code() on the error chain and falls back to the transport kind.
func deriveErrorCode(err error) string {
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	return strings.ToUpper(tgsender.ClassifyError(err))
}
