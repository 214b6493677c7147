// Package conversation drives each user through the photo, caption, story and audio stages.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/catalog"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/domain/port"
	"github.com/m3rciful/storylens/internal/tasks"
)

// staleGrace is added to a stage deadline before the load-time watchdog resets a user.
const staleGrace = 30 * time.Second

// Scheduler runs background work; *tasks.Runner satisfies it.
type Scheduler interface {
	Submit(ctx context.Context, t tasks.Task) error
}

// ImageSaver keeps a copy of downloaded images; *storage.Downloads satisfies it.
type ImageSaver interface {
	Save(userID string, data []byte) (string, error)
}

// Config holds story shaping and per-stage deadlines.
type Config struct {
	MaxStorySize int
	Language     string

	FirstMinWords  int
	FirstMaxWords  int
	ExtendMinWords int
	ExtendMaxWords int
	BaseTokens     int
	SegmentTokens  int

	CaptionTimeout       time.Duration
	StoryTimeout         time.Duration
	AudioTimeout         time.Duration
	SynthesisParallelism int

	// WaitingSticker is replied to images sent while audio is being recorded.
	WaitingSticker entity.StickerMessage
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Store      port.UserStore
	Gateway    port.Gateway
	Captioner  port.Captioner
	Translator port.Translator
	Story      port.StoryGenerator
	Speech     port.Synthesizer

	QuickReplies *catalog.QuickReplies
	Replies      *catalog.Replies
	Scheduler    Scheduler
	// Images is optional.
	Images ImageSaver
	// AudioURL maps a clip name to its public URL.
	AudioURL func(name string) string
}

type route struct {
	stage entity.Stage
	kind  entity.EventKind
}

type handlerFunc func(ctx context.Context, t *Turn) error

// Dispatcher is the single entry point for inbound events.
type Dispatcher struct {
	deps   Deps
	cfg    Config
	locks  *userLocks
	routes map[route]handlerFunc
	now    func() time.Time
}

// New validates deps and builds the stage route table.
func New(deps Deps, cfg Config) (*Dispatcher, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("conversation: nil store")
	case deps.Gateway == nil:
		return nil, errors.New("conversation: nil gateway")
	case deps.Captioner == nil || deps.Translator == nil || deps.Story == nil || deps.Speech == nil:
		return nil, errors.New("conversation: model services are required")
	case deps.QuickReplies == nil || deps.Replies == nil:
		return nil, errors.New("conversation: catalogs are required")
	case deps.Scheduler == nil:
		return nil, errors.New("conversation: nil scheduler")
	}
	if deps.AudioURL == nil {
		deps.AudioURL = func(name string) string { return name }
	}
	if cfg.MaxStorySize <= 0 {
		cfg.MaxStorySize = 5
	}
	if cfg.SynthesisParallelism <= 0 {
		cfg.SynthesisParallelism = 1
	}
	d := &Dispatcher{deps: deps, cfg: cfg, locks: newUserLocks(), now: time.Now}
	d.routes = d.buildRoutes()
	return d, nil
}

// buildRoutes binds every (stage, kind) pair the bot reacts to. Pairs not listed are ignored.
func (d *Dispatcher) buildRoutes() map[route]handlerFunc {
	routes := make(map[route]handlerFunc)
	on := func(stage entity.Stage, h handlerFunc, kinds ...entity.EventKind) {
		for _, k := range kinds {
			routes[route{stage, k}] = h
		}
	}
	text, image, sticker, postback := entity.KindText, entity.KindImage, entity.KindSticker, entity.KindPostback

	on(entity.StageNone, d.onPhoto, image)
	on(entity.StageNone, d.interrupt, text, sticker)

	on(entity.StagePhotoCaptioning, d.interrupt, text, image, sticker)

	on(entity.StageUserActioning, d.onActionChosen, postback)
	on(entity.StageUserActioning, d.interruptWithCaption, text, image, sticker)

	on(entity.StageStoryGenerating, d.interrupt, text, image, sticker)

	on(entity.StageStoryPreview, d.onPreviewChosen, postback)
	on(entity.StageStoryPreview, d.interruptWithPreview, text, image, sticker)

	on(entity.StageCaptionModifying, d.onCaptionText, text)
	on(entity.StageCaptionModifying, d.interrupt, image, sticker)

	on(entity.StageStoryModifying, d.onSegmentEdited, text)
	on(entity.StageStoryModifying, d.interrupt, image, sticker)

	on(entity.StageStoryUserProducing, d.onSegmentWritten, text)
	on(entity.StageStoryUserProducing, d.interrupt, image, sticker)

	on(entity.StageAudioGenerating, d.onImageWhileRecording, image)
	return routes
}

// Dispatch handles one event under the user's lock: load, route, transition and save.
func (d *Dispatcher) Dispatch(ctx context.Context, ev entity.Event) error {
	if ev.UserID == "" {
		return errors.New("conversation: event without user id")
	}
	unlock := d.locks.Lock(ev.UserID)
	defer unlock()

	state, err := d.deps.Store.Load(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("conversation: load %s: %w", ev.UserID, err)
	}
	t := &Turn{d: d, ev: ev, state: state}
	if state.DisplayName == "" && ev.DisplayName != "" {
		state.DisplayName = ev.DisplayName
		t.dirty = true
	}
	d.resetIfStale(ctx, t)

	ctx = logger.WithStage(ctx, state.Stage.String())
	h, ok := d.routes[route{state.Stage, ev.Kind}]
	if !ok {
		logger.LogEvent(ctx, logger.Conv, slog.LevelDebug, "dispatch.ignored",
			slog.String("status", "skip"),
			slog.String("kind", string(ev.Kind)),
		)
		return t.save(ctx)
	}

	start := time.Now()
	herr := h(ctx, t)
	serr := t.save(ctx)
	logger.LogEvent(ctx, logger.Conv, slog.LevelDebug, "dispatch.done",
		slog.String("status", logger.Status(errors.Join(herr, serr))),
		slog.String("kind", string(ev.Kind)),
		slog.String("next_stage", t.state.Stage.String()),
		slog.Duration("duration", logger.Took(start)),
	)
	return errors.Join(herr, serr)
}

// Reset clears the user's progress, e.g. on /reset.
func (d *Dispatcher) Reset(ctx context.Context, userID string) error {
	unlock := d.locks.Lock(userID)
	defer unlock()
	if _, err := d.deps.Store.Reset(ctx, userID); err != nil {
		return fmt.Errorf("conversation: reset %s: %w", userID, err)
	}
	logger.LogEvent(ctx, logger.Conv, slog.LevelInfo, "conversation.reset", slog.String("status", "ok"))
	return nil
}

// resetIfStale returns users stuck in a busy stage past its deadline to NONE, e.g. after a restart.
func (d *Dispatcher) resetIfStale(ctx context.Context, t *Turn) {
	st := t.state
	if !st.Stage.Busy() || st.UpdatedAt.IsZero() {
		return
	}
	age := d.now().Sub(st.UpdatedAt)
	if age <= d.deadline(st.Stage)+staleGrace {
		return
	}
	logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "conversation.stale",
		slog.String("status", "timeout"),
		slog.String("stage", st.Stage.String()),
		slog.Duration("duration", logger.RoundMS(age)),
	)
	st.ResetCycle()
	t.dirty = true
	if err := d.deps.Gateway.Push(ctx, st.ID, entity.Text(d.deps.Replies.Phrase(catalog.PhraseTimeout))); err != nil {
		logger.LogEvent(ctx, logger.Conv, slog.LevelWarn, "conversation.push",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

func (d *Dispatcher) deadline(stage entity.Stage) time.Duration {
	switch stage {
	case entity.StagePhotoCaptioning:
		return d.cfg.CaptionTimeout
	case entity.StageStoryGenerating:
		return d.cfg.StoryTimeout
	case entity.StageAudioGenerating:
		return d.cfg.AudioTimeout
	}
	return 0
}

// options returns the quick replies for the user's current stage.
func (d *Dispatcher) options(st *entity.UserState, message string) []entity.Option {
	return d.deps.QuickReplies.OptionsFor(st.Stage, catalog.Context{
		StorySize:    st.StorySize(),
		MaxStorySize: d.cfg.MaxStorySize,
		Message:      message,
	})
}

// previewPrompt asks what to do next, mentioning extension only while the story can grow.
func (d *Dispatcher) previewPrompt(st *entity.UserState) entity.TextMessage {
	key := catalog.PhrasePreviewMore
	if st.StorySize() >= d.cfg.MaxStorySize {
		key = catalog.PhrasePreviewMax
	}
	return entity.TextMessage{Text: d.deps.Replies.Phrase(key), QuickReply: d.options(st, "")}
}

// captionPrompt re-offers the story types for the current caption.
func (d *Dispatcher) captionPrompt(st *entity.UserState) entity.TextMessage {
	return entity.TextMessage{
		Text:       d.deps.Replies.Phrase(catalog.PhraseCaptionOptions),
		QuickReply: d.options(st, st.ImageCaption),
	}
}
