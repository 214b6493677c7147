package router

import (
	"time"

	tg "github.com/m3rciful/storylens/core/telegram"

	tele "gopkg.in/telebot.v4"
)

// MessageHandlers receives the message kinds the bot reacts to; nil entries are skipped.
type MessageHandlers struct {
	Text    tele.HandlerFunc
	Photo   tele.HandlerFunc
	Sticker tele.HandlerFunc
}

// MessageRoutes builds handlers for text, photo and sticker messages.
// Text that names a registered command or alias is routed to that command;
// admin-only commands are reachable only through their own endpoint.
func MessageRoutes(reg *tg.Registry, h MessageHandlers) []tg.Route {
	text := func(c tele.Context) error {
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), cmd.Handler)
			}
		}
		return routeOrSkip(c, "message.text", h.Text)
	}
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: text},
		{Endpoint: tele.OnPhoto, Handler: func(c tele.Context) error { return routeOrSkip(c, "message.photo", h.Photo) }},
		{Endpoint: tele.OnSticker, Handler: func(c tele.Context) error { return routeOrSkip(c, "message.sticker", h.Sticker) }},
	}
}

func routeOrSkip(c tele.Context, name string, h tele.HandlerFunc) error {
	if h == nil {
		logHandlerSummary(c, summary{handler: name, status: "skip"}, time.Now(), nil)
		return nil
	}
	return handleWithSummary(c, name, h)
}
