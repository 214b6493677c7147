package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/storylens/core/config"
	"github.com/m3rciful/storylens/internal/audio"
	"github.com/m3rciful/storylens/internal/domain/entity"
)

func TestStoryPromptModes(t *testing.T) {
	system, user := StoryPrompt(entity.StoryRequest{
		Mode: entity.StoryFirst, Genre: "adventure", Language: "zh-TW",
		Segments: []string{"a dog on a hill"}, MinWords: 100, MaxWords: 200,
	})
	require.Contains(t, system, "Traditional Chinese")
	require.Contains(t, user, `"a dog on a hill"`)
	require.Contains(t, user, "100 to 200 words")
	require.False(t, strings.HasPrefix(user, "\t"))

	_, user = StoryPrompt(entity.StoryRequest{
		Mode: entity.StoryExtend, Genre: "mystery",
		Segments: []string{"Part one.", "Part two."}, MinWords: 150, MaxWords: 250,
	})
	require.Contains(t, user, "Part one.\nPart two.")
	require.Contains(t, user, `"mystery" genre`)
}

func TestIsEnglish(t *testing.T) {
	require.True(t, IsEnglish("en"))
	require.True(t, IsEnglish("en-GB"))
	require.False(t, IsEnglish("zh-TW"))
}

func newClips(t *testing.T) *audio.Store {
	t.Helper()
	s, err := audio.NewStore(t.TempDir(), "https://bot.example.com", "/static/audio")
	require.NoError(t, err)
	return s
}

func TestInferenceBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/caption":
			_, hdr, err := r.FormFile("image")
			require.NoError(t, err)
			require.Equal(t, "image.jpg", hdr.Filename)
			_, _ = io.WriteString(w, `{"text":"a red bicycle"}`)
		case "/translate":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, _ = io.WriteString(w, `{"text":"`+body["target"]+`:`+body["text"]+`"}`)
		case "/generate":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"model loading"}`)
		case "/tts":
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write([]byte("not really a wav"))
		}
	}))
	defer srv.Close()

	inf, err := NewInference(coreconfig.InferenceConfig{BaseURL: srv.URL, TimeoutSeconds: 5})
	require.NoError(t, err)
	defer inf.Close()
	ctx := context.Background()

	caption, err := inf.Captioner().Caption(ctx, []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	require.Equal(t, "a red bicycle", caption)

	tr, err := inf.Translator().Translate(ctx, "hello", "ja")
	require.NoError(t, err)
	require.Equal(t, "ja:hello", tr)

	_, err = inf.StoryGenerator().Generate(ctx, entity.StoryRequest{Mode: entity.StoryFirst})
	require.ErrorContains(t, err, "model loading")

	clip, err := inf.Synthesizer(coreconfig.OperationConfig{Speed: 1}, newClips(t)).Synthesize(ctx, "1001", "one two three")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(clip.Name, "audio_1001_"))
	require.Equal(t, 1200, clip.DurationMS)
}

func TestOpenAIBackend(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			var req struct {
				Model string `json:"model"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			gotModel = req.Model
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"  Once upon a time.  "}}]}`)
		case "/v1/audio/speech":
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write([]byte("RIFF-ish"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	oa := NewOpenAI(coreconfig.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, srv.Client())
	ctx := context.Background()

	story, err := oa.StoryGenerator("gpt-test").Generate(ctx, entity.StoryRequest{Mode: entity.StoryFirst, MaxTokens: 500})
	require.NoError(t, err)
	require.Equal(t, "Once upon a time.", story)
	require.Equal(t, "gpt-test", gotModel)

	caption, err := oa.Captioner("").Caption(ctx, []byte("\x89PNG\r\n\x1a\n"))
	require.NoError(t, err)
	require.NotEmpty(t, caption)
	require.Equal(t, "gpt-4o-mini", gotModel)

	clip, err := oa.Synthesizer(coreconfig.OperationConfig{Speed: 0.8}, newClips(t)).Synthesize(ctx, "1001", "hello there")
	require.NoError(t, err)
	require.Equal(t, 1000, clip.DurationMS)
}

func TestBuildSelectsProviders(t *testing.T) {
	cfg := coreconfig.ServicesConfig{
		Caption:   coreconfig.OperationConfig{Provider: coreconfig.ProviderOpenAI},
		Translate: coreconfig.OperationConfig{Provider: coreconfig.ProviderNone},
		Story:     coreconfig.OperationConfig{Provider: coreconfig.ProviderInference},
		Speech:    coreconfig.OperationConfig{Provider: coreconfig.ProviderInference},
		Inference: coreconfig.InferenceConfig{BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 1},
	}
	set, err := Build(context.Background(), cfg, newClips(t), nil)
	require.NoError(t, err)
	defer set.Close()

	out, err := set.Translator.Translate(context.Background(), "same", "fr")
	require.NoError(t, err)
	require.Equal(t, "same", out)
	require.Len(t, set.closers, 1)

	cfg.Story.Provider = coreconfig.ProviderGemini
	_, err = Build(context.Background(), cfg, newClips(t), nil)
	require.ErrorContains(t, err, "api key")
}
