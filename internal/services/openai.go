package services

import (
	"cmp"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	coreconfig "github.com/m3rciful/storylens/core/config"
	"github.com/m3rciful/storylens/internal/audio"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

// OpenAI adapts an OpenAI-compatible API to the model ports.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI builds a client; a custom base URL targets compatible servers.
func NewOpenAI(cfg coreconfig.OpenAIConfig, httpClient *http.Client) *OpenAI {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(config)}
}

func (o *OpenAI) chat(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty completion")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("openai: empty completion")
	}
	return text, nil
}

type openAICaptioner struct {
	o     *OpenAI
	model string
}

func (c openAICaptioner) Caption(ctx context.Context, image []byte) (string, error) {
	dataURL := "data:" + http.DetectContentType(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
	return c.o.chat(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: CaptionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
		MaxCompletionTokens: 200,
	})
}

type openAITranslator struct {
	o     *OpenAI
	model string
}

func (t openAITranslator) Translate(ctx context.Context, text, lang string) (string, error) {
	return t.o.chat(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: TranslatePrompt(lang)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
}

type openAIStory struct {
	o     *OpenAI
	model string
}

func (s openAIStory) Generate(ctx context.Context, req entity.StoryRequest) (string, error) {
	system, user := StoryPrompt(req)
	return s.o.chat(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxCompletionTokens: req.MaxTokens,
	})
}

type openAISpeech struct {
	o     *OpenAI
	model string
	voice string
	speed float64
	store *audio.Store
}

func (s openAISpeech) Synthesize(ctx context.Context, userID, text string) (entity.AudioClip, error) {
	resp, err := s.o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
		Speed:          s.speed,
	})
	if err != nil {
		return entity.AudioClip{}, err
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return entity.AudioClip{}, fmt.Errorf("openai: read speech: %w", err)
	}
	return s.store.Save(userID, "wav", data, audio.EstimateMS(text, s.speed))
}

// Captioner returns a vision captioner for model.
func (o *OpenAI) Captioner(model string) Captioner {
	return openAICaptioner{o: o, model: cmp.Or(model, openai.GPT4oMini)}
}

// Translator returns a chat translator for model.
func (o *OpenAI) Translator(model string) Translator {
	return openAITranslator{o: o, model: cmp.Or(model, openai.GPT4oMini)}
}

// StoryGenerator returns a chat story writer for model.
func (o *OpenAI) StoryGenerator(model string) StoryGenerator {
	return openAIStory{o: o, model: cmp.Or(model, openai.GPT4oMini)}
}

// Synthesizer returns a text-to-speech backend storing clips in store.
func (o *OpenAI) Synthesizer(op coreconfig.OperationConfig, store *audio.Store) Synthesizer {
	return openAISpeech{
		o:     o,
		model: cmp.Or(op.Model, string(openai.TTSModel1)),
		voice: cmp.Or(op.Voice, string(openai.VoiceNova)),
		speed: op.Speed,
		store: store,
	}
}
