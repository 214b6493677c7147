// Package gateway adapts Telegram updates to conversation events and sends conversation messages back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/core/telegram/callbacks"
	"github.com/m3rciful/storylens/core/telegram/keyboard"
	"github.com/m3rciful/storylens/core/telegram/middleware"
	tgsender "github.com/m3rciful/storylens/core/telegram/sender"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/domain/port"

	tele "gopkg.in/telebot.v4"
)

// PostbackUnique is the callback key of every quick reply button.
const PostbackUnique = "pb"

// waitingText replaces the placeholder sticker when none is configured.
const waitingText = "⏳"

var _ port.Gateway = (*Gateway)(nil)

// botAPI is the subset of *tele.Bot the gateway calls.
type botAPI interface {
	Send(to tele.Recipient, what any, opts ...any) (*tele.Message, error)
	FileByID(fileID string) (tele.File, error)
	File(file *tele.File) (io.ReadCloser, error)
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
	EditReplyMarkup(msg tele.Editable, markup *tele.ReplyMarkup) (*tele.Message, error)
}

// Options configure a Gateway.
type Options struct {
	// ReplyWindow bounds how long after an update its reply token works.
	ReplyWindow time.Duration
	// PostbackTTL and PostbackLimit bound the quick reply cache.
	PostbackTTL   time.Duration
	PostbackLimit int
	// MaxContentBytes caps downloaded media.
	MaxContentBytes int64
}

// Gateway implements port.Gateway over a Telegram bot.
type Gateway struct {
	bot       botAPI
	sender    *tgsender.Sender
	tokens    *replyTokens
	postbacks *postbacks
	maxBytes  int64
}

// New returns a gateway that must be attached to a bot before use.
func New(opts Options) *Gateway {
	if opts.ReplyWindow <= 0 {
		opts.ReplyWindow = time.Minute
	}
	if opts.PostbackTTL <= 0 {
		opts.PostbackTTL = 24 * time.Hour
	}
	if opts.PostbackLimit <= 0 {
		opts.PostbackLimit = 10000
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = 20 << 20
	}
	return &Gateway{
		tokens:    newReplyTokens(opts.ReplyWindow),
		postbacks: newPostbacks(opts.PostbackTTL, opts.PostbackLimit),
		maxBytes:  opts.MaxContentBytes,
	}
}

// Attach binds the bot and sender created by the Telegram runtime. It must run before the bot starts.
func (g *Gateway) Attach(bot botAPI, snd *tgsender.Sender) {
	g.bot = bot
	if snd == nil {
		snd = tgsender.New(tgsender.Options{})
	}
	g.sender = snd
}

// Reply answers the update that issued replyToken. The token is consumed even when sending fails.
func (g *Gateway) Reply(ctx context.Context, replyToken string, msgs ...entity.Message) error {
	target, err := g.tokens.take(replyToken)
	if err != nil {
		logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "gateway.reply.reject",
			slog.String("status", "skip"),
			slog.String("err", err.Error()),
		)
		return err
	}
	return g.send(ctx, target.chat, target.c, msgs)
}

// Push sends messages to a user outside any update.
func (g *Gateway) Push(ctx context.Context, userID string, msgs ...entity.Message) error {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("gateway: push: invalid user id %q: %w", userID, err)
	}
	return g.send(ctx, tele.ChatID(id), nil, msgs)
}

// FetchContent downloads a file referenced by its Telegram file id.
func (g *Gateway) FetchContent(ctx context.Context, ref string) ([]byte, error) {
	if g.bot == nil {
		return nil, errors.New("gateway: bot not attached")
	}
	var data []byte
	err := g.sender.Do(ctx, "fetch.content", "getFile", func(context.Context) error {
		f, err := g.bot.FileByID(ref)
		if err != nil {
			return err
		}
		if f.FileSize > 0 && int64(f.FileSize) > g.maxBytes {
			return fmt.Errorf("gateway: file of %d bytes exceeds limit", f.FileSize)
		}
		rc, err := g.bot.File(&f)
		if err != nil {
			return err
		}
		defer rc.Close()
		data, err = io.ReadAll(io.LimitReader(rc, g.maxBytes+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > g.maxBytes {
			return fmt.Errorf("gateway: file exceeds %d bytes", g.maxBytes)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: fetch content: %w", err)
	}
	return data, nil
}

// send delivers msgs in order and stops at the first failure.
func (g *Gateway) send(ctx context.Context, to tele.Recipient, c tele.Context, msgs []entity.Message) error {
	if g.bot == nil {
		return errors.New("gateway: bot not attached")
	}
	for _, m := range msgs {
		what, opts, endpoint := g.render(m)
		if what == nil {
			continue
		}
		err := g.sender.Do(ctx, "send."+entity.KindOf(m), endpoint, func(context.Context) error {
			_, err := g.bot.Send(to, what, opts...)
			return err
		})
		if err != nil {
			return fmt.Errorf("gateway: send %s: %w", entity.KindOf(m), err)
		}
		middleware.Record(c, len(opts) > 0)
	}
	return nil
}

// render converts a conversation message into a telebot payload.
func (g *Gateway) render(m entity.Message) (any, []any, string) {
	switch msg := m.(type) {
	case entity.TextMessage:
		if msg.Text == "" {
			return nil, nil, ""
		}
		if len(msg.QuickReply) == 0 {
			return msg.Text, nil, "sendMessage"
		}
		return msg.Text, []any{g.markup(msg.QuickReply)}, "sendMessage"
	case entity.StickerMessage:
		if msg.StickerID == "" {
			return waitingText, nil, "sendMessage"
		}
		return &tele.Sticker{File: tele.File{FileID: msg.StickerID}}, nil, "sendSticker"
	case entity.AudioMessage:
		return &tele.Audio{File: tele.FromURL(msg.URL), Duration: (msg.DurationMS + 999) / 1000}, nil, "sendAudio"
	default:
		return nil, nil, ""
	}
}

// markup stores each option in the postback cache and lays the buttons out by label width.
func (g *Gateway) markup(opts []entity.Option) *tele.ReplyMarkup {
	btns := make([]keyboard.InlineBtn, 0, len(opts))
	for _, opt := range opts {
		key := g.postbacks.put(opt)
		if !callbacks.Fits(PostbackUnique, key) {
			continue
		}
		btns = append(btns, keyboard.InlineBtn{Text: opt.Label, Unique: PostbackUnique, Data: key})
	}
	return keyboard.InlineButtonsFit(btns, 3, 28)
}
