package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/storylens/core/telegram"
	"github.com/m3rciful/storylens/core/telegram/commands"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	b, err := tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
	require.NoError(t, err)
	return b
}

func textFrom(b *tele.Bot, text string) tele.Context {
	return b.NewContext(tele.Update{ID: 1, Message: &tele.Message{
		Sender: &tele.User{ID: 7}, Chat: &tele.Chat{ID: 7}, Text: text,
	}})
}

func routeFor(routes []tg.Route, endpoint any) tele.HandlerFunc {
	for _, r := range routes {
		if r.Endpoint == endpoint {
			return r.Handler
		}
	}
	return nil
}

func TestCallbackRouteDispatchesByKey(t *testing.T) {
	b := offlineBot(t)
	reg := tg.NewRegistry()
	var got string
	require.NoError(t, reg.RegisterCallback("pb", func(c tele.Context) error {
		got = c.Callback().Data
		return nil
	}))
	missing := errors.New("missing")
	reg.SetCallbackNotFound(func(tele.Context) error { return missing })

	route := CallbackRoute(reg)
	assert.Equal(t, tele.OnCallback, route.Endpoint)

	c := b.NewContext(tele.Update{ID: 2, Callback: &tele.Callback{Sender: &tele.User{ID: 7}, Data: "\fpb|k1"}})
	require.NoError(t, route.Handler(c))
	assert.Equal(t, "\fpb|k1", got)

	other := b.NewContext(tele.Update{ID: 3, Callback: &tele.Callback{Sender: &tele.User{ID: 7}, Data: "\fzz|k1"}})
	assert.ErrorIs(t, route.Handler(other), missing)
}

func TestMessageRoutesPreferCommandAliases(t *testing.T) {
	b := offlineBot(t)
	reg := tg.NewRegistry()
	var calls []string
	require.NoError(t, reg.RegisterCommand("/reset", commands.Command{
		Description: "reset",
		Aliases:     []string{"restart"},
		Handler:     func(tele.Context) error { calls = append(calls, "reset"); return nil },
	}))
	require.NoError(t, reg.RegisterCommand("/tasks", commands.Command{
		Description: "tasks",
		AdminOnly:   true,
		Aliases:     []string{"t"},
		Handler:     func(tele.Context) error { calls = append(calls, "tasks"); return nil },
	}))

	routes := MessageRoutes(reg, MessageHandlers{
		Text: func(c tele.Context) error { calls = append(calls, "text:"+c.Text()); return nil },
	})
	text := routeFor(routes, tele.OnText)
	require.NotNil(t, text)

	require.NoError(t, text(textFrom(b, "/restart")))
	require.NoError(t, text(textFrom(b, "/t")))
	require.NoError(t, text(textFrom(b, "once upon a time")))
	assert.Equal(t, []string{"reset", "text:/t", "text:once upon a time"}, calls)

	photo := routeFor(routes, tele.OnPhoto)
	require.NotNil(t, photo)
	assert.NoError(t, photo(textFrom(b, "")))
}

func TestCommandRoutesGuardAdminOnly(t *testing.T) {
	b := offlineBot(t)
	reg := tg.NewRegistry()
	reached := false
	require.NoError(t, reg.RegisterCommand("/tasks", commands.Command{
		Description: "tasks",
		AdminOnly:   true,
		Handler:     func(tele.Context) error { reached = true; return nil },
	}))
	routes := CommandRoutes(reg, CommandRouteOptions{AdminID: 99})
	h := routeFor(routes, "/tasks")
	require.NotNil(t, h)

	require.NoError(t, h(textFrom(b, "/tasks")))
	assert.False(t, reached)
}

func TestDeriveErrorCode(t *testing.T) {
	assert.Equal(t, "UNKNOWN", deriveErrorCode(errors.New("x")))
	assert.Equal(t, "HTTP_4XX", deriveErrorCode(&tele.Error{Code: 400}))
}
