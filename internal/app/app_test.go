package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/storylens/core/bootstrap"
	coreconfig "github.com/m3rciful/storylens/core/config"
	coretelegram "github.com/m3rciful/storylens/core/telegram"
	tgsender "github.com/m3rciful/storylens/core/telegram/sender"
)

func noLogger(*coreconfig.Config) error { return nil }

func testConfig(t *testing.T) *coreconfig.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{Token: "123:abc"},
		Storage: coreconfig.StorageConfig{
			Driver:      coreconfig.StorageMemory,
			DownloadDir: filepath.Join(dir, "downloads"),
		},
		Audio: coreconfig.AudioConfig{
			Dir:     filepath.Join(dir, "audio"),
			BaseURL: "https://bot.example",
			Listen:  "127.0.0.1:0",
		},
	}
	require.NoError(t, coreconfig.Normalize(cfg))
	return cfg
}

func TestNewWiresRuntime(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), bootstrap.Options{LoggerInit: noLogger})
	require.NoError(t, err)

	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.Len(t, opts.Registry.ListCommands(true), 3)

	var names []string
	for _, mw := range opts.Middlewares {
		names = append(names, mw.Name)
	}
	assert.Equal(t, []string{"recover", "logger", "metrics"}, names)

	bot, err := tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
	require.NoError(t, err)
	rt := coretelegram.Runtime{Bot: bot, Sender: tgsender.New(tgsender.Options{}), Registry: opts.Registry}
	assert.Len(t, opts.RoutesFunc(rt), 8)

	require.NoError(t, opts.OnStart(ctx, rt))
	res, err := http.Get("http://" + a.audioSrv.Addr() + "/static/audio/missing.wav")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	require.NoError(t, opts.OnStop(ctx, rt))
	assert.DirExists(t, a.cfg.Storage.DownloadDir)
}

func TestNewReleasesOnFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.RepliesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := New(context.Background(), cfg, bootstrap.Options{LoggerInit: noLogger})
	assert.Error(t, err)
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, bootstrap.Options{})
	assert.Error(t, err)
}
