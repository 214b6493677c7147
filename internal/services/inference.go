package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	coreconfig "github.com/m3rciful/storylens/core/config"
	"github.com/m3rciful/storylens/internal/audio"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

// Inference talks to a self-hosted model server exposing caption, translate,
// generate and tts endpoints.
type Inference struct {
	client *resty.Client
}

type textResult struct {
	Text string `json:"text"`
}

type errorResult struct {
	Error string `json:"error"`
}

// NewInference builds a client for baseURL.
func NewInference(cfg coreconfig.InferenceConfig) (*Inference, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("inference: base url is required")
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetRetryCount(1).
		SetHeader("Accept", "application/json")
	return &Inference{client: c}, nil
}

// Close releases idle connections.
func (i *Inference) Close() error { return i.client.Close() }

func (i *Inference) postText(ctx context.Context, path string, body any) (string, error) {
	var out textResult
	var apiErr errorResult
	res, err := i.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return "", fmt.Errorf("inference: %s: %w", path, err)
	}
	if res.IsError() {
		return "", fmt.Errorf("inference: %s: %s: %s", path, res.Status(), apiErr.Error)
	}
	if out.Text == "" {
		return "", fmt.Errorf("inference: %s: empty response", path)
	}
	return out.Text, nil
}

type inferenceCaptioner struct{ i *Inference }

func (c inferenceCaptioner) Caption(ctx context.Context, image []byte) (string, error) {
	var out textResult
	var apiErr errorResult
	res, err := c.i.client.R().
		SetContext(ctx).
		SetFileReader("image", "image.jpg", bytes.NewReader(image)).
		SetResult(&out).
		SetError(&apiErr).
		Post("/caption")
	if err != nil {
		return "", fmt.Errorf("inference: /caption: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("inference: /caption: %s: %s", res.Status(), apiErr.Error)
	}
	if out.Text == "" {
		return "", fmt.Errorf("inference: /caption: empty response")
	}
	return out.Text, nil
}

type inferenceTranslator struct{ i *Inference }

func (t inferenceTranslator) Translate(ctx context.Context, text, lang string) (string, error) {
	return t.i.postText(ctx, "/translate", map[string]string{"text": text, "target": lang})
}

type inferenceStory struct{ i *Inference }

func (s inferenceStory) Generate(ctx context.Context, req entity.StoryRequest) (string, error) {
	system, user := StoryPrompt(req)
	return s.i.postText(ctx, "/generate", map[string]any{
		"system":     system,
		"prompt":     user,
		"max_tokens": req.MaxTokens,
	})
}

type inferenceSpeech struct {
	i     *Inference
	voice string
	speed float64
	store *audio.Store
}

func (s inferenceSpeech) Synthesize(ctx context.Context, userID, text string) (entity.AudioClip, error) {
	var apiErr errorResult
	res, err := s.i.client.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/wav").
		SetBody(map[string]any{"text": text, "voice": s.voice, "speed": s.speed}).
		SetError(&apiErr).
		Post("/tts")
	if err != nil {
		return entity.AudioClip{}, fmt.Errorf("inference: /tts: %w", err)
	}
	if res.IsError() {
		return entity.AudioClip{}, fmt.Errorf("inference: /tts: %s: %s", res.Status(), apiErr.Error)
	}
	return s.store.Save(userID, "wav", res.Bytes(), audio.EstimateMS(text, s.speed))
}

// Captioner returns the server's captioning endpoint.
func (i *Inference) Captioner() Captioner { return inferenceCaptioner{i: i} }

// Translator returns the server's translation endpoint.
func (i *Inference) Translator() Translator { return inferenceTranslator{i: i} }

// StoryGenerator returns the server's generation endpoint.
func (i *Inference) StoryGenerator() StoryGenerator { return inferenceStory{i: i} }

// Synthesizer returns the server's speech endpoint storing clips in store.
func (i *Inference) Synthesizer(op coreconfig.OperationConfig, store *audio.Store) Synthesizer {
	return inferenceSpeech{i: i, voice: op.Voice, speed: op.Speed, store: store}
}
