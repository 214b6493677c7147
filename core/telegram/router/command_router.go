package router

import (
	"context"
	"log/slog"

	"github.com/m3rciful/storylens/core/logger"
	tg "github.com/m3rciful/storylens/core/telegram"
	"github.com/m3rciful/storylens/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes binds every registered command, guarding admin-only ones.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}
	admin := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})

	cmds := reg.Commands()
	routes := make([]tg.Route, 0, len(cmds))
	for name, def := range cmds {
		h := def.Handler
		if def.AdminOnly {
			h = admin(h)
		}
		handlerName := normalizeHandlerName(name)
		wrapped := func(c tele.Context) error {
			return handleWithSummary(c, handlerName, h)
		}
		routes = append(routes, tg.Route{Endpoint: name, Handler: wrapped})
	}

	logger.TWire.LogAttrs(context.Background(), slog.LevelInfo, "tg.wire.commands",
		slog.Int("count", len(cmds)),
		slog.Int("callbacks", reg.CallbackCount()),
	)
	return routes
}
