package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/catalog"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/domain/fsm"
	"github.com/m3rciful/storylens/internal/services"
	"github.com/m3rciful/storylens/internal/tasks"
)

// ErrStale is returned by a completion that found the user in another stage.
var ErrStale = errors.New("conversation: stage changed while task was running")

// submit schedules work that completes in stage busy; previous is restored if it fails.
func (d *Dispatcher) submit(ctx context.Context, t *Turn, name string, busy, previous entity.Stage, run func(ctx context.Context) error) error {
	userID := t.state.ID
	task := tasks.Task{
		Name:    name,
		UserID:  userID,
		Timeout: d.deadline(busy),
		Run:     run,
		OnError: func(ctx context.Context, err error) {
			d.fail(ctx, userID, busy, previous, err)
		},
	}
	if err := d.deps.Scheduler.Submit(ctx, task); err != nil {
		// nothing will complete this stage, so undo it while the lock is still held
		fsm.Rollback(ctx, t.state, previous)
		clearUnconfirmed(t.state)
		t.dirty = true
		msgs := []entity.Message{entity.Text(d.deps.Replies.Phrase(catalog.PhraseApology))}
		if opts := d.options(t.state, t.state.ImageCaption); len(opts) > 0 {
			msgs = append(msgs, entity.TextMessage{Text: d.deps.Replies.Phrase(catalog.PhraseFallback), QuickReply: opts})
		}
		if rerr := t.Respond(ctx, msgs...); rerr != nil {
			logRespondFailure(ctx, rerr)
		}
		return fmt.Errorf("conversation: schedule %s: %w", name, err)
	}
	return nil
}

// scheduleCaption downloads, captions and translates the photo of the current event.
func (d *Dispatcher) scheduleCaption(ctx context.Context, t *Turn) error {
	userID, ref := t.state.ID, t.ev.ContentRef
	lang := d.cfg.Language
	return d.submit(ctx, t, "caption", entity.StagePhotoCaptioning, entity.StageNone, func(ctx context.Context) error {
		image, err := d.deps.Gateway.FetchContent(ctx, ref)
		if err != nil {
			return err
		}
		if d.deps.Images != nil {
			if _, err := d.deps.Images.Save(userID, image); err != nil {
				logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "image.save",
					slog.String("status", "fail"),
					slog.String("err", err.Error()),
				)
			}
		}
		caption, err := d.deps.Captioner.Caption(ctx, image)
		if err != nil {
			return err
		}
		if !services.IsEnglish(lang) {
			if caption, err = d.deps.Translator.Translate(ctx, caption, lang); err != nil {
				return err
			}
		}
		caption = strings.TrimSpace(caption)
		if caption == "" {
			return errors.New("conversation: empty caption")
		}
		return d.complete(ctx, userID, entity.StagePhotoCaptioning, func(ctx context.Context, st *entity.UserState) ([]entity.Message, error) {
			st.ImageCaption = caption
			if !fsm.Apply(ctx, st, entity.ActionGenerated) {
				return nil, ErrStale
			}
			return []entity.Message{entity.Text(caption), d.captionPrompt(st)}, nil
		})
	})
}

// StoryRequest builds the generation input for the user's next segment.
func (d *Dispatcher) StoryRequest(st *entity.UserState) entity.StoryRequest {
	prior := st.StorySize()
	req := entity.StoryRequest{
		Genre:     st.StoryType,
		Language:  d.cfg.Language,
		MaxTokens: d.cfg.BaseTokens + d.cfg.SegmentTokens*prior,
	}
	if prior == 0 {
		req.Mode = entity.StoryFirst
		req.Segments = []string{st.ImageCaption}
		req.MinWords, req.MaxWords = d.cfg.FirstMinWords, d.cfg.FirstMaxWords
	} else {
		req.Mode = entity.StoryExtend
		req.Segments = append([]string(nil), st.StoryList...)
		req.MinWords, req.MaxWords = d.cfg.ExtendMinWords, d.cfg.ExtendMaxWords
	}
	return req
}

// startStory acknowledges and schedules the next story segment.
func (d *Dispatcher) startStory(ctx context.Context, t *Turn, previous entity.Stage) error {
	req := d.StoryRequest(t.state)
	userID := t.state.ID
	if err := t.Respond(ctx, entity.Text(d.deps.Replies.Phrase(catalog.PhraseThinking))); err != nil {
		logRespondFailure(ctx, err)
	}
	return d.submit(ctx, t, "story", entity.StageStoryGenerating, previous, func(ctx context.Context) error {
		text, err := d.deps.Story.Generate(ctx, req)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return errors.New("conversation: empty story segment")
		}
		return d.complete(ctx, userID, entity.StageStoryGenerating, func(ctx context.Context, st *entity.UserState) ([]entity.Message, error) {
			st.AppendStory(text)
			if !fsm.Apply(ctx, st, entity.ActionGenerated) {
				return nil, ErrStale
			}
			var msgs []entity.Message
			if req.Mode == entity.StoryExtend {
				msgs = append(msgs, entity.Text(d.deps.Replies.Phrase(catalog.PhraseContinued)))
			}
			return append(msgs, entity.Text(text), d.previewPrompt(st)), nil
		})
	})
}

// startAudio acknowledges and schedules speech for every segment, or the caption when there is no story.
func (d *Dispatcher) startAudio(ctx context.Context, t *Turn, previous entity.Stage) error {
	texts := append([]string(nil), t.state.StoryList...)
	if len(texts) == 0 {
		texts = []string{t.state.ImageCaption}
	}
	userID := t.state.ID
	if err := t.Respond(ctx, entity.Text(d.deps.Replies.Phrase(catalog.PhraseRecording))); err != nil {
		logRespondFailure(ctx, err)
	}
	return d.submit(ctx, t, "audio", entity.StageAudioGenerating, previous, func(ctx context.Context) error {
		clips, err := d.synthesize(ctx, userID, texts)
		if err != nil {
			return err
		}
		return d.complete(ctx, userID, entity.StageAudioGenerating, func(ctx context.Context, st *entity.UserState) ([]entity.Message, error) {
			if !fsm.Apply(ctx, st, entity.ActionGenerated) {
				return nil, ErrStale
			}
			st.ResetCycle()
			msgs := make([]entity.Message, 0, len(clips)+1)
			for _, c := range clips {
				msgs = append(msgs, entity.AudioMessage{URL: d.deps.AudioURL(c.Name), DurationMS: c.DurationMS})
			}
			return append(msgs, entity.Text(d.deps.Replies.Phrase(catalog.PhraseFinished))), nil
		})
	})
}

// synthesize renders texts with bounded parallelism; clips keep the order of texts.
func (d *Dispatcher) synthesize(ctx context.Context, userID string, texts []string) ([]entity.AudioClip, error) {
	clips := make([]entity.AudioClip, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.SynthesisParallelism)
	for i, text := range texts {
		g.Go(func() error {
			clip, err := d.deps.Speech.Synthesize(gctx, userID, text)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			clips[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

// complete re-acquires the user, checks the stage is still expect, applies fn, saves and pushes.
// A user who moved on (reset, watchdog) is left alone.
func (d *Dispatcher) complete(ctx context.Context, userID string, expect entity.Stage,
	fn func(ctx context.Context, st *entity.UserState) ([]entity.Message, error)) error {
	// a late result is still worth saving once the model call has returned
	ctx = context.WithoutCancel(ctx)

	unlock := d.locks.Lock(userID)
	defer unlock()

	st, err := d.deps.Store.Load(ctx, userID)
	if err != nil {
		return fmt.Errorf("conversation: load %s: %w", userID, err)
	}
	if st.Stage != expect {
		logStale(ctx, expect, st.Stage)
		return nil
	}
	msgs, err := fn(ctx, st)
	if err != nil {
		return err
	}
	if err := d.deps.Store.Save(ctx, st); err != nil {
		return fmt.Errorf("conversation: save %s: %w", userID, err)
	}
	if err := d.deps.Gateway.Push(ctx, userID, msgs...); err != nil {
		// the record is saved; the user sees the result through the next interrupt reply
		logger.LogEvent(ctx, logger.Conv, slog.LevelError, "task.push",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	return nil
}

// fail handles a task error: deadline overruns reset the user, other errors roll back with an apology.
func (d *Dispatcher) fail(ctx context.Context, userID string, busy, previous entity.Stage, cause error) {
	unlock := d.locks.Lock(userID)
	defer unlock()

	st, err := d.deps.Store.Load(ctx, userID)
	if err != nil {
		logger.LogEvent(ctx, logger.Conv, slog.LevelError, "task.fail.load",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	if st.Stage != busy {
		logStale(ctx, busy, st.Stage)
		return
	}

	var msgs []entity.Message
	if errors.Is(cause, context.DeadlineExceeded) {
		st.ResetCycle()
		msgs = append(msgs, entity.Text(d.deps.Replies.Phrase(catalog.PhraseTimeout)))
	} else {
		if !fsm.Rollback(ctx, st, previous) {
			st.ResetCycle()
		}
		clearUnconfirmed(st)
		msgs = append(msgs, entity.Text(d.deps.Replies.Phrase(catalog.PhraseApology)))
		switch st.Stage {
		case entity.StageUserActioning:
			msgs = append(msgs, d.captionPrompt(st))
		case entity.StageStoryPreview:
			msgs = append(msgs, d.previewPrompt(st))
		}
	}
	logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "task.recover",
		slog.String("status", logger.Status(cause)),
		slog.String("stage", busy.String()),
		slog.String("next_stage", st.Stage.String()),
		slog.String("err", cause.Error()),
	)
	if err := d.deps.Store.Save(ctx, st); err != nil {
		logger.LogEvent(ctx, logger.Conv, slog.LevelError, "task.fail.save",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return
	}
	if err := d.deps.Gateway.Push(ctx, userID, msgs...); err != nil {
		logger.LogEvent(ctx, logger.Conv, slog.LevelError, "task.push",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

// clearUnconfirmed drops the genre of a story that was never written, so the next pick applies.
func clearUnconfirmed(st *entity.UserState) {
	if st.Stage == entity.StageUserActioning {
		st.StoryType = ""
	}
}

func logStale(ctx context.Context, expect, got entity.Stage) {
	logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "task.stale",
		slog.String("status", "skip"),
		slog.String("stage", expect.String()),
		slog.String("next_stage", got.String()),
	)
}
