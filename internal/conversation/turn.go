package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/domain/fsm"
)

// Turn is one event being handled for one user while the user's lock is held.
type Turn struct {
	d       *Dispatcher
	ev      entity.Event
	state   *entity.UserState
	dirty   bool
	replied bool
}

// Event returns the inbound event.
func (t *Turn) Event() entity.Event { return t.ev }

// State returns the loaded record; changes are saved when the turn ends.
func (t *Turn) State() *entity.UserState { return t.state }

// apply runs a transition and marks the record for saving when it succeeds.
func (t *Turn) apply(ctx context.Context, action entity.Action) bool {
	if !fsm.Apply(ctx, t.state, action) {
		return false
	}
	t.dirty = true
	return true
}

// Respond answers with the reply token on first use and pushes afterwards
// or when the token can no longer be used.
func (t *Turn) Respond(ctx context.Context, msgs ...entity.Message) error {
	gw := t.d.deps.Gateway
	if !t.replied && t.ev.ReplyToken != "" {
		t.replied = true
		err := gw.Reply(ctx, t.ev.ReplyToken, msgs...)
		if err == nil {
			return nil
		}
		logger.LogEvent(ctx, logger.Conv, slog.LevelDebug, "turn.reply.fallback",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	if err := gw.Push(ctx, t.state.ID, msgs...); err != nil {
		return fmt.Errorf("conversation: respond: %w", err)
	}
	return nil
}

func (t *Turn) save(ctx context.Context) error {
	if !t.dirty {
		return nil
	}
	if err := t.d.deps.Store.Save(ctx, t.state); err != nil {
		return fmt.Errorf("conversation: save %s: %w", t.state.ID, err)
	}
	t.dirty = false
	return nil
}
