package router

import (
	"log/slog"

	tg "github.com/m3rciful/storylens/core/telegram"
	"github.com/m3rciful/storylens/core/telegram/callbacks"

	tele "gopkg.in/telebot.v4"
)

// CallbackRoute returns the OnCallback route dispatching inline button presses through the registry.
// The spinner on the pressed button is left to the handler, which may answer with a toast.
func CallbackRoute(reg *tg.Registry) tg.Route {
	handler := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}
		key := callbacks.Key(c)
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}

		cbHandler, ok := reg.Callback(key)
		if !ok {
			return handleWithSummary(c, name, reg.CallbackNotFound(), append(extras, slog.String("cause", "not_found"))...)
		}
		return handleWithSummary(c, name, cbHandler, extras...)
	}
	return tg.Route{Endpoint: tele.OnCallback, Handler: handler}
}
