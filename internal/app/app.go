// Package app wires configuration, storage, model services and the Telegram runtime together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/m3rciful/storylens/core/bootstrap"
	corecmd "github.com/m3rciful/storylens/core/cmd"
	coreconfig "github.com/m3rciful/storylens/core/config"
	"github.com/m3rciful/storylens/core/logger"
	coretelegram "github.com/m3rciful/storylens/core/telegram"
	tgsender "github.com/m3rciful/storylens/core/telegram/sender"
	"github.com/m3rciful/storylens/internal/audio"
	"github.com/m3rciful/storylens/internal/catalog"
	"github.com/m3rciful/storylens/internal/conversation"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/gateway"
	"github.com/m3rciful/storylens/internal/services"
	"github.com/m3rciful/storylens/internal/storage"
	"github.com/m3rciful/storylens/internal/tasks"
)

// App holds every long-lived component of the bot.
type App struct {
	cfg *coreconfig.Config

	infra    *bootstrap.Result
	store    storage.Store
	models   *services.Set
	runner   *tasks.Runner
	clips    *audio.Store
	audioSrv *audio.Server

	gateway  *gateway.Gateway
	handlers *gateway.Handlers
	registry *coretelegram.Registry
	conv     *conversation.Dispatcher
}

// Bootstrap satisfies the runner's bootstrap hook.
func Bootstrap(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	return New(ctx, carrier.CoreConfig(), bootstrap.Options{})
}

// New builds the application. infra customises the logger and database bootstrap; its Config is set here.
func New(ctx context.Context, cfg *coreconfig.Config, infra bootstrap.Options) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close(context.WithoutCancel(ctx))
		}
	}()

	infra.Config = cfg
	if a.infra, err = bootstrap.Run(ctx, infra); err != nil {
		return nil, err
	}

	if a.store, err = storage.Open(ctx, storage.Params{
		Driver:     cfg.Storage.Driver,
		Dir:        cfg.Storage.Dir,
		SQLitePath: cfg.Storage.SQLitePath,
		DB:         a.infra.DB,
		Options:    storage.Options{MaxSegments: cfg.Story.MaxStorySize},
	}); err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	if a.clips, err = audio.NewStore(cfg.Audio.Dir, cfg.Audio.BaseURL, cfg.Audio.Route); err != nil {
		return nil, err
	}
	if a.models, err = services.Build(ctx, cfg.Services, a.clips, nil); err != nil {
		return nil, fmt.Errorf("app: build services: %w", err)
	}

	quickReplies, err := catalog.LoadQuickReplies(cfg.Catalog.QuickRepliesPath)
	if err != nil {
		return nil, err
	}
	replies, err := catalog.LoadReplies(cfg.Catalog.RepliesPath)
	if err != nil {
		return nil, err
	}

	if dir := cfg.Storage.DownloadDir; dir != "" {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("app: mkdir %s: %w", dir, err)
		}
	}

	a.runner = tasks.New(tasks.Options{Workers: cfg.Tasks.Workers, QueueSize: cfg.Tasks.QueueSize})
	a.gateway = gateway.New(gateway.Options{
		ReplyWindow: time.Duration(cfg.Telegram.ReplyWindowSeconds) * time.Second,
	})

	a.conv, err = conversation.New(conversation.Deps{
		Store:        a.store,
		Gateway:      a.gateway,
		Captioner:    a.models.Captioner,
		Translator:   a.models.Translator,
		Story:        a.models.Story,
		Speech:       a.models.Speech,
		QuickReplies: quickReplies,
		Replies:      replies,
		Scheduler:    a.runner,
		Images:       storage.Downloads{Dir: cfg.Storage.DownloadDir},
		AudioURL:     a.clips.URL,
	}, conversationConfig(cfg))
	if err != nil {
		return nil, err
	}

	a.handlers = gateway.NewHandlers(a.gateway, a.conv, replies, a.runner)
	a.registry = coretelegram.NewRegistry()
	if err = a.handlers.Register(a.registry); err != nil {
		return nil, fmt.Errorf("app: register commands: %w", err)
	}

	logger.L.LogAttrs(ctx, slog.LevelInfo, "app.wired",
		slog.String("component", "app"),
		slog.String("status", "ok"),
		slog.String("driver", cfg.Storage.Driver),
		slog.String("caption", cfg.Services.Caption.Provider),
		slog.String("story", cfg.Services.Story.Provider),
		slog.String("speech", cfg.Services.Speech.Provider),
	)
	return a, nil
}

func conversationConfig(cfg *coreconfig.Config) conversation.Config {
	return conversation.Config{
		MaxStorySize:         cfg.Story.MaxStorySize,
		Language:             cfg.Story.Language,
		FirstMinWords:        cfg.Story.FirstMinWords,
		FirstMaxWords:        cfg.Story.FirstMaxWords,
		ExtendMinWords:       cfg.Story.ExtendMinWords,
		ExtendMaxWords:       cfg.Story.ExtendMaxWords,
		BaseTokens:           cfg.Story.BaseTokens,
		SegmentTokens:        cfg.Story.SegmentTokens,
		CaptionTimeout:       cfg.Tasks.CaptionTimeout(),
		StoryTimeout:         cfg.Tasks.StoryTimeout(),
		AudioTimeout:         cfg.Tasks.AudioTimeout(),
		SynthesisParallelism: cfg.Tasks.SynthesisParallelism,
		WaitingSticker: entity.StickerMessage{
			PackageID: cfg.Telegram.WaitingStickerPackage,
			StickerID: cfg.Telegram.WaitingStickerID,
		},
	}
}

// TelegramRunOptions satisfies corecmd.TelegramApp.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	return coretelegram.RunOptions{
		Config:        a.cfg,
		Registry:      a.registry,
		SenderOptions: tgsender.Options{MaxRetries: 2},
		Middlewares:   coretelegram.DefaultMiddlewares(a.cfg, a.handlers.OnRateLimited),
		RoutesFunc: func(rt coretelegram.Runtime) []coretelegram.Route {
			a.gateway.Attach(rt.Bot, rt.Sender)
			return a.handlers.Routes(a.registry, a.cfg.Telegram.AdminID)
		},
		OnStart: a.start,
		OnStop: func(ctx context.Context, _ coretelegram.Runtime) error {
			return a.close(ctx)
		},
	}, nil
}

// start serves the audio directory; clip URLs sent to users point at it.
func (a *App) start(ctx context.Context, _ coretelegram.Runtime) error {
	srv, err := a.clips.Listen(ctx, a.cfg.Audio.Listen)
	if err != nil {
		return err
	}
	a.audioSrv = srv
	return nil
}

// close stops intake first, then drains tasks, then releases backends.
func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: drain tasks: %w", err))
		}
	}
	if a.audioSrv != nil {
		if err := a.audioSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: audio server: %w", err))
		}
	}
	if a.models != nil {
		errs = append(errs, a.models.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.infra != nil {
		errs = append(errs, a.infra.Close())
	}
	return errors.Join(errs...)
}
