package conversation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/catalog"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

// interrupt answers with a random stage reply and leaves the stage alone.
func (d *Dispatcher) interrupt(ctx context.Context, t *Turn) error {
	return t.Respond(ctx, entity.Text(d.deps.Replies.Pick(t.state.Stage, t.ev.Kind)))
}

// interruptWithCaption repeats the caption and its options after the stage reply.
func (d *Dispatcher) interruptWithCaption(ctx context.Context, t *Turn) error {
	return t.Respond(ctx,
		entity.Text(d.deps.Replies.Pick(t.state.Stage, t.ev.Kind)),
		entity.Text(t.state.ImageCaption),
		d.captionPrompt(t.state),
	)
}

// interruptWithPreview repeats the last segment with the options valid for the story size.
func (d *Dispatcher) interruptWithPreview(ctx context.Context, t *Turn) error {
	msgs := []entity.Message{entity.Text(d.deps.Replies.Pick(t.state.Stage, t.ev.Kind))}
	if last, ok := t.state.LastStory(); ok {
		msgs = append(msgs, entity.Text(last))
	}
	return t.Respond(ctx, append(msgs, d.previewPrompt(t.state))...)
}

func (d *Dispatcher) onPhoto(ctx context.Context, t *Turn) error {
	if t.ev.ContentRef == "" {
		return nil
	}
	if !t.apply(ctx, entity.ActionPhotoReceived) {
		return nil
	}
	if err := t.Respond(ctx, entity.Text(d.deps.Replies.Phrase(catalog.PhraseLooking))); err != nil {
		logRespondFailure(ctx, err)
	}
	return d.scheduleCaption(ctx, t)
}

// onActionChosen handles the option picked under a caption.
func (d *Dispatcher) onActionChosen(ctx context.Context, t *Turn) error {
	action, ok := postbackAction(ctx, t)
	if !ok {
		return nil
	}
	switch action {
	case entity.ActionTypeConfirm:
		genre := strings.TrimSpace(t.ev.Postback.Type)
		if genre == "" {
			logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "postback.invalid",
				slog.String("status", "skip"),
				slog.String("action", action.String()),
				slog.String("reason", "missing type"),
			)
			return nil
		}
		if !t.apply(ctx, action) {
			return nil
		}
		if t.state.StoryType == "" {
			t.state.StoryType = genre
		}
		return d.startStory(ctx, t, entity.StageUserActioning)
	case entity.ActionModifyRequest:
		if !t.apply(ctx, action) {
			return nil
		}
		return t.Respond(ctx, entity.Text(d.deps.Replies.Phrase(catalog.PhraseModifyPrompt)))
	case entity.ActionStoryClosed:
		if !t.apply(ctx, action) {
			return nil
		}
		return d.startAudio(ctx, t, entity.StageUserActioning)
	default:
		t.apply(ctx, action)
		return nil
	}
}

// onPreviewChosen handles the option picked under a story segment.
func (d *Dispatcher) onPreviewChosen(ctx context.Context, t *Turn) error {
	action, ok := postbackAction(ctx, t)
	if !ok {
		return nil
	}
	switch action {
	case entity.ActionStoryExtend:
		if d.atMaxSize(t.state) {
			return d.maxReached(ctx, t)
		}
		if !t.apply(ctx, action) {
			return nil
		}
		return d.startStory(ctx, t, entity.StageStoryPreview)
	case entity.ActionUserProduceRequest:
		// buttons of older prompts stay tappable, so the size is checked here too
		if d.atMaxSize(t.state) {
			return d.maxReached(ctx, t)
		}
		if !t.apply(ctx, action) {
			return nil
		}
		return t.Respond(ctx, entity.Text(d.deps.Replies.Phrase(catalog.PhraseYourTurn)))
	case entity.ActionModifyRequest:
		if !t.apply(ctx, action) {
			return nil
		}
		return t.Respond(ctx, entity.Text(d.deps.Replies.Phrase(catalog.PhraseModifyPrompt)))
	case entity.ActionStoryClosed:
		if !t.apply(ctx, action) {
			return nil
		}
		return d.startAudio(ctx, t, entity.StageStoryPreview)
	default:
		t.apply(ctx, action)
		return nil
	}
}

func (d *Dispatcher) onCaptionText(ctx context.Context, t *Turn) error {
	text := strings.TrimSpace(t.ev.Text)
	if text == "" {
		return nil
	}
	prev := t.state.ImageCaption
	t.state.ImageCaption = text
	if !t.apply(ctx, entity.ActionModified) {
		t.state.ImageCaption = prev
		return nil
	}
	return t.Respond(ctx,
		entity.Text(d.deps.Replies.Phrase(catalog.PhraseModified)),
		entity.Text(text),
		d.captionPrompt(t.state),
	)
}

func (d *Dispatcher) onSegmentEdited(ctx context.Context, t *Turn) error {
	text := strings.TrimSpace(t.ev.Text)
	if text == "" {
		return nil
	}
	prev, _ := t.state.LastStory()
	if err := t.state.ReplaceLastStory(text); err != nil {
		return err
	}
	if !t.apply(ctx, entity.ActionModified) {
		_ = t.state.ReplaceLastStory(prev)
		return nil
	}
	return t.Respond(ctx,
		entity.Text(d.deps.Replies.Phrase(catalog.PhraseModified)),
		entity.Text(text),
		d.previewPrompt(t.state),
	)
}

func (d *Dispatcher) onSegmentWritten(ctx context.Context, t *Turn) error {
	text := strings.TrimSpace(t.ev.Text)
	if text == "" {
		return nil
	}
	if d.atMaxSize(t.state) {
		// the story cannot take another segment; return to the preview without it
		if !t.apply(ctx, entity.ActionUserProduced) {
			return nil
		}
		return d.maxReached(ctx, t)
	}
	t.state.AppendStory(text)
	if !t.apply(ctx, entity.ActionUserProduced) {
		t.state.StoryList = t.state.StoryList[:len(t.state.StoryList)-1]
		return nil
	}
	return t.Respond(ctx,
		entity.Text(d.deps.Replies.Phrase(catalog.PhraseContinued)),
		entity.Text(text),
		d.previewPrompt(t.state),
	)
}

func (d *Dispatcher) atMaxSize(st *entity.UserState) bool {
	return st.StorySize() >= d.cfg.MaxStorySize
}

// maxReached explains the story is full and re-offers the preview options.
func (d *Dispatcher) maxReached(ctx context.Context, t *Turn) error {
	return t.Respond(ctx, entity.Text(d.deps.Replies.Phrase(catalog.PhraseMaxReached)), d.previewPrompt(t.state))
}

// onImageWhileRecording shows the waiting sticker; the image itself is dropped.
func (d *Dispatcher) onImageWhileRecording(ctx context.Context, t *Turn) error {
	return t.Respond(ctx, d.cfg.WaitingSticker)
}

// postbackAction parses the action of a postback event; unknown actions are logged and skipped.
func postbackAction(ctx context.Context, t *Turn) (entity.Action, bool) {
	if t.ev.Postback == nil {
		return entity.Action{}, false
	}
	action, ok := entity.ParseAction(t.ev.Postback.Action)
	if !ok {
		logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "postback.invalid",
			slog.String("status", "skip"),
			slog.String("action", logger.SanitizeLimit(t.ev.Postback.Action, 64)),
		)
	}
	return action, ok
}

func logRespondFailure(ctx context.Context, err error) {
	logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "turn.respond",
		slog.String("status", "fail"),
		slog.String("err", err.Error()),
	)
}
