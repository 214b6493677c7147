package services

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	coreconfig "github.com/m3rciful/storylens/core/config"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini adapts the Google Gemini API to the text and vision ports.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, cfg coreconfig.GeminiConfig, httpClient *http.Client) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) generate(ctx context.Context, model string, parts []*genai.Part, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

type geminiCaptioner struct {
	g     *Gemini
	model string
}

func (c geminiCaptioner) Caption(ctx context.Context, image []byte) (string, error) {
	return c.g.generate(ctx, c.model, []*genai.Part{
		genai.NewPartFromBytes(image, http.DetectContentType(image)),
		genai.NewPartFromText(CaptionPrompt),
	}, nil)
}

type geminiTranslator struct {
	g     *Gemini
	model string
}

func (t geminiTranslator) Translate(ctx context.Context, text, lang string) (string, error) {
	return t.g.generate(ctx, t.model, []*genai.Part{genai.NewPartFromText(text)}, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(TranslatePrompt(lang), genai.RoleUser),
	})
}

type geminiStory struct {
	g     *Gemini
	model string
}

func (s geminiStory) Generate(ctx context.Context, req entity.StoryRequest) (string, error) {
	system, user := StoryPrompt(req)
	return s.g.generate(ctx, s.model, []*genai.Part{genai.NewPartFromText(user)}, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   int32(req.MaxTokens),
	})
}

// Captioner returns a multimodal captioner for model.
func (g *Gemini) Captioner(model string) Captioner {
	return geminiCaptioner{g: g, model: cmp.Or(model, defaultGeminiModel)}
}

// Translator returns a translator for model.
func (g *Gemini) Translator(model string) Translator {
	return geminiTranslator{g: g, model: cmp.Or(model, defaultGeminiModel)}
}

// StoryGenerator returns a story writer for model.
func (g *Gemini) StoryGenerator(model string) StoryGenerator {
	return geminiStory{g: g, model: cmp.Or(model, defaultGeminiModel)}
}

