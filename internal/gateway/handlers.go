package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/m3rciful/storylens/core/logger"
	coretelegram "github.com/m3rciful/storylens/core/telegram"
	"github.com/m3rciful/storylens/core/telegram/callbacks"
	"github.com/m3rciful/storylens/core/telegram/commands"
	tghelpers "github.com/m3rciful/storylens/core/telegram/helpers"
	"github.com/m3rciful/storylens/core/telegram/router"
	"github.com/m3rciful/storylens/internal/catalog"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/tasks"

	tele "gopkg.in/telebot.v4"
)

// Conversation consumes inbound events.
type Conversation interface {
	Dispatch(ctx context.Context, ev entity.Event) error
	Reset(ctx context.Context, userID string) error
}

// TaskLister reports background work for the admin diagnostics command.
type TaskLister interface {
	InFlight() []tasks.Info
	Stats() tasks.Stats
}

// Handlers turns Telegram updates into events for a Conversation.
type Handlers struct {
	gw      *Gateway
	conv    Conversation
	replies *catalog.Replies
	tasks   TaskLister
	now     func() time.Time
}

// NewHandlers wires update handlers; tl may be nil.
func NewHandlers(gw *Gateway, conv Conversation, replies *catalog.Replies, tl TaskLister) *Handlers {
	return &Handlers{gw: gw, conv: conv, replies: replies, tasks: tl, now: time.Now}
}

// Register adds the bot commands and the quick reply callback to reg.
func (h *Handlers) Register(reg *coretelegram.Registry) error {
	cmds := []struct {
		name string
		cmd  commands.Command
	}{
		{"/start", commands.Command{Handler: h.onStart, Description: "Start a new story"}},
		{"/help", commands.Command{Handler: h.onHelp, Description: "How it works"}},
		{"/reset", commands.Command{Handler: h.onReset, Description: "Start over", Aliases: []string{"restart"}}},
		{"/tasks", commands.Command{Handler: h.onTasks, Description: "Background tasks", AdminOnly: true}},
	}
	for _, c := range cmds {
		if err := reg.RegisterCommand(c.name, c.cmd); err != nil {
			return err
		}
	}
	if err := reg.RegisterCallback(PostbackUnique, h.OnPostback); err != nil {
		return err
	}
	reg.SetCallbackNotFound(h.onStaleCallback)
	return nil
}

// Routes returns every route the bot handles.
func (h *Handlers) Routes(reg *coretelegram.Registry, adminID int64) []coretelegram.Route {
	routes := router.MessageRoutes(reg, router.MessageHandlers{
		Text:    h.OnText,
		Photo:   h.OnPhoto,
		Sticker: h.OnSticker,
	})
	routes = append(routes, router.CommandRoutes(reg, router.CommandRouteOptions{AdminID: adminID})...)
	return append(routes, router.CallbackRoute(reg))
}

// OnText forwards plain text.
func (h *Handlers) OnText(c tele.Context) error {
	return h.dispatch(c, "text", func(ev *entity.Event) {
		ev.Kind = entity.KindText
		ev.Text = c.Text()
	})
}

// OnPhoto forwards the largest photo size as a content reference.
func (h *Handlers) OnPhoto(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.Photo == nil {
		return nil
	}
	ref := msg.Photo.FileID
	return h.dispatch(c, "photo", func(ev *entity.Event) {
		ev.Kind = entity.KindImage
		ev.ContentRef = ref
	})
}

// OnSticker forwards a sticker event.
func (h *Handlers) OnSticker(c tele.Context) error {
	return h.dispatch(c, "sticker", func(ev *entity.Event) {
		ev.Kind = entity.KindSticker
		if msg := c.Message(); msg != nil && msg.Sticker != nil {
			ev.Text = msg.Sticker.Emoji
		}
	})
}

// OnPostback resolves a quick reply button to its postback data.
func (h *Handlers) OnPostback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	opt, ok := h.gw.postbacks.get(callbacks.Payload(c))
	if !ok {
		return h.onStaleCallback(c)
	}
	h.answer(c, opt.DisplayText)
	if cb.Message != nil {
		// buttons of an answered prompt must not be pressed twice
		if _, err := h.gw.bot.EditReplyMarkup(cb.Message, nil); err != nil {
			logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelDebug, "gateway.markup.clear",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}
	data := opt.Data
	return h.dispatch(c, "postback", func(ev *entity.Event) {
		ev.Kind = entity.KindPostback
		ev.Text = opt.DisplayText
		ev.Postback = &data
	})
}

// dispatch validates the sender, issues a reply token valid while the update is handled and forwards the event.
func (h *Handlers) dispatch(c tele.Context, handler string, fill func(*entity.Event)) error {
	ctx := tghelpers.WithHandler(c, handler)
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil {
		logger.LogEvent(ctx, logger.TG, slog.LevelWarn, "gateway.reject",
			slog.String("status", "skip"),
			slog.String("reason", "no sender"),
		)
		return nil
	}

	token := h.gw.tokens.issue(chat, c)
	defer h.gw.tokens.release(token)

	ev := entity.Event{
		ID:          tghelpers.EventID(c),
		UserID:      tghelpers.UserID(c),
		DisplayName: DisplayName(sender),
		ReplyToken:  token,
		ReceivedAt:  h.now(),
	}
	fill(&ev)
	return h.conv.Dispatch(ctx, ev)
}

func (h *Handlers) onStart(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "start")
	if c.Sender() == nil {
		return nil
	}
	if err := h.conv.Reset(ctx, tghelpers.UserID(c)); err != nil {
		return err
	}
	return h.gw.send(ctx, c.Recipient(), c, []entity.Message{
		entity.Text(h.replies.Phrase(catalog.PhraseWelcome, DisplayName(c.Sender()))),
	})
}

func (h *Handlers) onHelp(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "help")
	return h.gw.send(ctx, c.Recipient(), c, []entity.Message{entity.Text(h.replies.Phrase(catalog.PhraseHelp))})
}

func (h *Handlers) onReset(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "reset")
	if c.Sender() == nil {
		return nil
	}
	if err := h.conv.Reset(ctx, tghelpers.UserID(c)); err != nil {
		return err
	}
	return h.gw.send(ctx, c.Recipient(), c, []entity.Message{entity.Text(h.replies.Phrase(catalog.PhraseReset))})
}

func (h *Handlers) onTasks(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "tasks")
	if h.tasks == nil {
		return nil
	}
	return h.gw.send(ctx, c.Recipient(), c, []entity.Message{entity.Text(FormatTasks(h.tasks, h.now()))})
}

// OnRateLimited tells the user their update was dropped.
func (h *Handlers) OnRateLimited(c tele.Context) error {
	if c.Callback() != nil {
		h.answer(c, h.replies.Phrase(catalog.PhraseRateLimited))
		return nil
	}
	if c.Recipient() == nil {
		return nil
	}
	ctx := tghelpers.WithHandler(c, "rate_limited")
	return h.gw.send(ctx, c.Recipient(), c, []entity.Message{entity.Text(h.replies.Phrase(catalog.PhraseRateLimited))})
}

// onStaleCallback answers buttons whose postback is no longer cached.
func (h *Handlers) onStaleCallback(c tele.Context) error {
	h.answer(c, h.replies.Phrase(catalog.PhraseFallback))
	return nil
}

func (h *Handlers) answer(c tele.Context, text string) {
	cb := c.Callback()
	if cb == nil {
		return
	}
	if err := h.gw.bot.Respond(cb, &tele.CallbackResponse{Text: logger.SanitizeLimit(text, 200)}); err != nil {
		logger.LogEvent(tghelpers.BuildContext(c), logger.TG, slog.LevelDebug, "gateway.callback.answer",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

// DisplayName is the profile name of u, falling back to the username.
func DisplayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.Username
}

// FormatTasks renders runner counters and in-flight tasks as plain text.
func FormatTasks(tl TaskLister, now time.Time) string {
	st := tl.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "submitted=%d completed=%d failed=%d rejected=%d queued=%d\n",
		st.Submitted, st.Completed, st.Failed, st.Rejected, st.Queued)
	infos := tl.InFlight()
	if len(infos) == 0 {
		b.WriteString("no tasks running")
		return b.String()
	}
	for _, in := range infos {
		fmt.Fprintf(&b, "%s user=%s running=%s", in.Name, in.UserID, now.Sub(in.Started).Round(time.Second))
		if !in.Deadline.IsZero() {
			fmt.Fprintf(&b, " left=%s", in.Deadline.Sub(now).Round(time.Second))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
