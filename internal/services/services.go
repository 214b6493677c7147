// Package services adapts model backends to the conversation ports.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	coreconfig "github.com/m3rciful/storylens/core/config"
	"github.com/m3rciful/storylens/core/logger"
	"github.com/m3rciful/storylens/internal/audio"
	"github.com/m3rciful/storylens/internal/domain/entity"
	"github.com/m3rciful/storylens/internal/domain/port"
)

type (
	Captioner      = port.Captioner
	Translator     = port.Translator
	StoryGenerator = port.StoryGenerator
	Synthesizer    = port.Synthesizer
)

// Set is the wired group of model backends.
type Set struct {
	Captioner  Captioner
	Translator Translator
	Story      StoryGenerator
	Speech     Synthesizer

	closers []io.Closer
}

// Close releases backend clients.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Passthrough returns text unchanged.
type Passthrough struct{}

func (Passthrough) Translate(_ context.Context, text, _ string) (string, error) { return text, nil }

// Build creates only the providers that some operation selects.
func Build(ctx context.Context, cfg coreconfig.ServicesConfig, clips *audio.Store, httpClient *http.Client) (*Set, error) {
	set := &Set{}
	var (
		oa  *OpenAI
		gm  *Gemini
		inf *Inference
	)
	openAI := func() *OpenAI {
		if oa == nil {
			oa = NewOpenAI(cfg.OpenAI, httpClient)
		}
		return oa
	}
	gemini := func() (*Gemini, error) {
		if gm == nil {
			var err error
			if gm, err = NewGemini(ctx, cfg.Gemini, httpClient); err != nil {
				return nil, err
			}
		}
		return gm, nil
	}
	inference := func() (*Inference, error) {
		if inf == nil {
			var err error
			if inf, err = NewInference(cfg.Inference); err != nil {
				return nil, err
			}
			set.closers = append(set.closers, inf)
		}
		return inf, nil
	}

	switch cfg.Caption.Provider {
	case coreconfig.ProviderGemini:
		g, err := gemini()
		if err != nil {
			return nil, err
		}
		set.Captioner = g.Captioner(cfg.Caption.Model)
	case coreconfig.ProviderInference:
		i, err := inference()
		if err != nil {
			return nil, err
		}
		set.Captioner = i.Captioner()
	default:
		set.Captioner = openAI().Captioner(cfg.Caption.Model)
	}

	switch cfg.Translate.Provider {
	case coreconfig.ProviderNone:
		set.Translator = Passthrough{}
	case coreconfig.ProviderGemini:
		g, err := gemini()
		if err != nil {
			return nil, err
		}
		set.Translator = g.Translator(cfg.Translate.Model)
	case coreconfig.ProviderInference:
		i, err := inference()
		if err != nil {
			return nil, err
		}
		set.Translator = i.Translator()
	default:
		set.Translator = openAI().Translator(cfg.Translate.Model)
	}

	switch cfg.Story.Provider {
	case coreconfig.ProviderGemini:
		g, err := gemini()
		if err != nil {
			return nil, err
		}
		set.Story = g.StoryGenerator(cfg.Story.Model)
	case coreconfig.ProviderInference:
		i, err := inference()
		if err != nil {
			return nil, err
		}
		set.Story = i.StoryGenerator()
	default:
		set.Story = openAI().StoryGenerator(cfg.Story.Model)
	}

	switch cfg.Speech.Provider {
	case coreconfig.ProviderInference:
		i, err := inference()
		if err != nil {
			return nil, err
		}
		set.Speech = i.Synthesizer(cfg.Speech, clips)
	default:
		set.Speech = openAI().Synthesizer(cfg.Speech, clips)
	}

	set.Captioner = instrumentedCaptioner{set.Captioner, meta{"caption", cfg.Caption.Provider, cfg.Caption.Model}}
	set.Translator = instrumentedTranslator{set.Translator, meta{"translate", cfg.Translate.Provider, cfg.Translate.Model}}
	set.Story = instrumentedStory{set.Story, meta{"story", cfg.Story.Provider, cfg.Story.Model}}
	set.Speech = instrumentedSpeech{set.Speech, meta{"speech", cfg.Speech.Provider, cfg.Speech.Model}}

	logger.Models.LogAttrs(ctx, slog.LevelInfo, "models.ready",
		slog.String("status", "ok"),
		slog.String("caption", cfg.Caption.Provider),
		slog.String("translate", cfg.Translate.Provider),
		slog.String("story", cfg.Story.Provider),
		slog.String("speech", cfg.Speech.Provider),
	)
	return set, nil
}

type meta struct {
	op       string
	provider string
	model    string
}

func (m meta) log(ctx context.Context, start time.Time, err error, extra ...slog.Attr) {
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("op", m.op),
		slog.String("provider", m.provider),
		slog.String("model", m.model),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 300)))
	}
	logger.Models.LogAttrs(ctx, level, "model.call", append(attrs, extra...)...)
}

type instrumentedCaptioner struct {
	next Captioner
	meta
}

func (c instrumentedCaptioner) Caption(ctx context.Context, image []byte) (string, error) {
	start := time.Now()
	out, err := c.next.Caption(ctx, image)
	c.log(ctx, start, err, slog.Int("count", len(image)))
	if err != nil {
		return "", fmt.Errorf("caption: %w", err)
	}
	return out, nil
}

type instrumentedTranslator struct {
	next Translator
	meta
}

func (t instrumentedTranslator) Translate(ctx context.Context, text, lang string) (string, error) {
	start := time.Now()
	out, err := t.next.Translate(ctx, text, lang)
	t.log(ctx, start, err)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return out, nil
}

type instrumentedStory struct {
	next StoryGenerator
	meta
}

func (s instrumentedStory) Generate(ctx context.Context, req entity.StoryRequest) (string, error) {
	start := time.Now()
	out, err := s.next.Generate(ctx, req)
	s.log(ctx, start, err,
		slog.String("story_type", req.Genre),
		slog.Int("segments", len(req.Segments)),
	)
	if err != nil {
		return "", fmt.Errorf("story: %w", err)
	}
	return out, nil
}

type instrumentedSpeech struct {
	next Synthesizer
	meta
}

func (s instrumentedSpeech) Synthesize(ctx context.Context, userID, text string) (entity.AudioClip, error) {
	start := time.Now()
	clip, err := s.next.Synthesize(ctx, userID, text)
	s.log(ctx, start, err, slog.Int("count", len([]rune(text))))
	if err != nil {
		return entity.AudioClip{}, fmt.Errorf("speech: %w", err)
	}
	return clip, nil
}
