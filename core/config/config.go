package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// AppConfig identifies the running application.
type AppConfig struct {
	Name string `yaml:"name" envconfig:"APP_NAME"`
	// Mode selects the env file profile: dev, test or prod.
	Mode string `yaml:"mode" envconfig:"APP_MODE"`
}

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// ReplyWindowSeconds bounds how long a reply token stays usable.
	ReplyWindowSeconds int `yaml:"reply_window_seconds" envconfig:"TELEGRAM_REPLY_WINDOW_SECONDS"`
	// WaitingStickerPackage and WaitingStickerID name the placeholder sticker.
	WaitingStickerPackage string `yaml:"waiting_sticker_package" envconfig:"TELEGRAM_WAITING_STICKER_PACKAGE"`
	WaitingStickerID      string `yaml:"waiting_sticker_id" envconfig:"TELEGRAM_WAITING_STICKER_ID"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
	// SecretToken is checked by Telegram on every webhook delivery.
	SecretToken string `yaml:"secret_token" envconfig:"WEBHOOK_SECRET_TOKEN"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file"`
	// MaxSizeMB and MaxBackups control file rotation.
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": quick reply button presses
// - "message": text, photo and sticker messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// StorageConfig selects the user state backend.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	// Dir is the JSON file store directory.
	Dir string `yaml:"dir" envconfig:"STORAGE_DIR"`
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `yaml:"sqlite_path" envconfig:"STORAGE_SQLITE_PATH"`
	// DownloadDir keeps the last downloaded image per user; empty disables it.
	DownloadDir string `yaml:"download_dir" envconfig:"STORAGE_DOWNLOAD_DIR"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// StoryConfig shapes story generation.
type StoryConfig struct {
	MaxStorySize int    `yaml:"max_story_size" envconfig:"STORY_MAX_SIZE"`
	Language     string `yaml:"language" envconfig:"STORY_LANGUAGE"`
	// FirstMinWords..ExtendMaxWords are the target word ranges per prompt mode.
	FirstMinWords  int `yaml:"first_min_words"`
	FirstMaxWords  int `yaml:"first_max_words"`
	ExtendMinWords int `yaml:"extend_min_words"`
	ExtendMaxWords int `yaml:"extend_max_words"`
	// BaseTokens plus SegmentTokens per prior segment bound the generation length.
	BaseTokens    int `yaml:"base_tokens"`
	SegmentTokens int `yaml:"segment_tokens"`
}

// AudioConfig describes where synthesized clips live and how they are served.
type AudioConfig struct {
	Dir     string `yaml:"dir" envconfig:"AUDIO_DIR"`
	BaseURL string `yaml:"base_url" envconfig:"AUDIO_BASE_URL"`
	Route   string `yaml:"route"`
	Listen  string `yaml:"listen" envconfig:"AUDIO_LISTEN"`
}

// TasksConfig sizes the background runner and its per-stage deadlines.
type TasksConfig struct {
	Workers               int `yaml:"workers" envconfig:"TASKS_WORKERS"`
	QueueSize             int `yaml:"queue_size" envconfig:"TASKS_QUEUE_SIZE"`
	CaptionTimeoutSeconds int `yaml:"caption_timeout_seconds"`
	StoryTimeoutSeconds   int `yaml:"story_timeout_seconds"`
	AudioTimeoutSeconds   int `yaml:"audio_timeout_seconds"`
	SynthesisParallelism  int `yaml:"synthesis_parallelism"`
}

// CaptionTimeout returns the captioning deadline.
func (t TasksConfig) CaptionTimeout() time.Duration {
	return time.Duration(t.CaptionTimeoutSeconds) * time.Second
}

// StoryTimeout returns the story generation deadline.
func (t TasksConfig) StoryTimeout() time.Duration {
	return time.Duration(t.StoryTimeoutSeconds) * time.Second
}

// AudioTimeout returns the speech synthesis deadline.
func (t TasksConfig) AudioTimeout() time.Duration {
	return time.Duration(t.AudioTimeoutSeconds) * time.Second
}

const (
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderInference = "inference"
	ProviderNone      = "none"
)

// OperationConfig binds one model operation to a provider.
type OperationConfig struct {
	Provider string  `yaml:"provider"`
	Model    string  `yaml:"model"`
	Voice    string  `yaml:"voice"`
	Speed    float64 `yaml:"speed"`
}

// OpenAIConfig holds OpenAI-compatible API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" envconfig:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" envconfig:"OPENAI_BASE_URL"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key" envconfig:"GEMINI_API_KEY"`
}

// InferenceConfig points at a self-hosted model server.
type InferenceConfig struct {
	BaseURL        string `yaml:"base_url" envconfig:"INFERENCE_BASE_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ServicesConfig wires each model operation to a backend.
type ServicesConfig struct {
	Caption   OperationConfig `yaml:"caption"`
	Translate OperationConfig `yaml:"translate"`
	Story     OperationConfig `yaml:"story"`
	Speech    OperationConfig `yaml:"speech"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Inference InferenceConfig `yaml:"inference"`
}

// CatalogConfig optionally overrides the embedded message catalogs.
type CatalogConfig struct {
	QuickRepliesPath string `yaml:"quick_replies_path"`
	RepliesPath      string `yaml:"replies_path"`
}

// Config aggregates the whole application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Story     StoryConfig     `yaml:"story"`
	Audio     AudioConfig     `yaml:"audio"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Services  ServicesConfig  `yaml:"services"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// CoreConfig satisfies the runner's config carrier contract.
func (c *Config) CoreConfig() *Config {
	return c
}

// LoadEnvFiles loads .env.<mode> followed by .env; missing files are ignored.
// Variables already present in the environment are never overwritten.
func LoadEnvFiles(mode string) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(os.Getenv("APP_MODE")))
	}
	if mode == "" {
		mode = "dev"
	}
	_ = godotenv.Load(".env." + mode)
	_ = godotenv.Load()
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}
	if strings.TrimSpace(cfg.App.Name) == "" {
		cfg.App.Name = "StoryLens"
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm
	if cfg.Telegram.ReplyWindowSeconds <= 0 {
		cfg.Telegram.ReplyWindowSeconds = 60
	}

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if err := normalizeStorage(cfg); err != nil {
		return err
	}
	normalizeStory(&cfg.Story)
	normalizeTasks(&cfg.Tasks)
	if err := normalizeAudio(&cfg.Audio); err != nil {
		return err
	}
	return normalizeServices(&cfg.Services)
}

func normalizeStorage(cfg *Config) error {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = StorageFile
	}
	switch driver {
	case StorageMemory:
	case StorageFile:
		if strings.TrimSpace(cfg.Storage.Dir) == "" {
			cfg.Storage.Dir = "data/users"
		}
	case StorageSQLite:
		if strings.TrimSpace(cfg.Storage.SQLitePath) == "" {
			cfg.Storage.SQLitePath = "data/storylens.sqlite"
		}
	case StoragePostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required when storage.driver is 'postgres'")
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
		if cfg.Database.MaxConnections <= 0 {
			cfg.Database.MaxConnections = 5
		}
		if cfg.Database.MigrationsDir == "" {
			cfg.Database.MigrationsDir = "migrations"
		}
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: memory, file, sqlite, postgres", cfg.Storage.Driver)
	}
	cfg.Storage.Driver = driver
	return nil
}

func normalizeStory(s *StoryConfig) {
	if s.MaxStorySize <= 0 {
		s.MaxStorySize = 5
	}
	if strings.TrimSpace(s.Language) == "" {
		s.Language = "en"
	}
	if s.FirstMinWords <= 0 {
		s.FirstMinWords = 100
	}
	if s.FirstMaxWords < s.FirstMinWords {
		s.FirstMaxWords = s.FirstMinWords + 100
	}
	if s.ExtendMinWords <= 0 {
		s.ExtendMinWords = 150
	}
	if s.ExtendMaxWords < s.ExtendMinWords {
		s.ExtendMaxWords = s.ExtendMinWords + 100
	}
	if s.BaseTokens <= 0 {
		s.BaseTokens = 500
	}
	if s.SegmentTokens <= 0 {
		s.SegmentTokens = 120
	}
}

func normalizeTasks(t *TasksConfig) {
	if t.Workers <= 0 {
		t.Workers = 4
	}
	if t.QueueSize <= 0 {
		t.QueueSize = 64
	}
	if t.CaptionTimeoutSeconds <= 0 {
		t.CaptionTimeoutSeconds = 120
	}
	if t.StoryTimeoutSeconds <= 0 {
		t.StoryTimeoutSeconds = 180
	}
	if t.AudioTimeoutSeconds <= 0 {
		t.AudioTimeoutSeconds = 300
	}
	if t.SynthesisParallelism <= 0 {
		t.SynthesisParallelism = 2
	}
}

func normalizeAudio(a *AudioConfig) error {
	if strings.TrimSpace(a.Dir) == "" {
		a.Dir = "data/audio"
	}
	if strings.TrimSpace(a.Route) == "" {
		a.Route = "/static/audio"
	}
	a.Route = "/" + strings.Trim(a.Route, "/")
	a.BaseURL = strings.TrimRight(strings.TrimSpace(a.BaseURL), "/")
	if a.BaseURL == "" {
		return fmt.Errorf("audio.base_url is required; clips are sent to users by URL")
	}
	if strings.TrimSpace(a.Listen) == "" {
		a.Listen = ":8081"
	}
	return nil
}

func normalizeServices(s *ServicesConfig) error {
	ops := map[string]*OperationConfig{
		"caption":   &s.Caption,
		"translate": &s.Translate,
		"story":     &s.Story,
		"speech":    &s.Speech,
	}
	for name, op := range ops {
		p := strings.ToLower(strings.TrimSpace(op.Provider))
		if p == "" {
			p = ProviderOpenAI
		}
		switch p {
		case ProviderOpenAI, ProviderInference:
		case ProviderGemini:
			if name == "speech" {
				return fmt.Errorf("services.speech.provider %q is not supported; use openai or inference", op.Provider)
			}
		case ProviderNone:
			if name != "translate" {
				return fmt.Errorf("services.%s.provider 'none' is only allowed for translate", name)
			}
		default:
			return fmt.Errorf("invalid services.%s.provider %q; allowed: openai, gemini, inference", name, op.Provider)
		}
		op.Provider = p
	}
	if s.Speech.Speed <= 0 {
		s.Speech.Speed = 0.8
	}
	if s.Inference.TimeoutSeconds <= 0 {
		s.Inference.TimeoutSeconds = 120
	}
	return nil
}
