package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfighcl"
)

type Config struct {
	TelegramBotToken      string        `hcl:"telegram_bot_token" env:"TELEGRAM_BOT_TOKEN" required:"true"`
	TelegramChannelID     int64         `hcl:"telegram_channel_id" env:"TELEGRAM_CHANNEL_ID" required:"true"`
	TelegramLogsChannelID int64         `hcl:"telegram_logs_channel_id" env:"TELEGRAM_LOGS_CHANNEL_ID"`
	FeedURL               string        `hcl:"feed_url" env:"FEED_URL" default:"https://www.dday.it/rss"`
	FeedParser            string        `hcl:"feed_parser" env:"FEED_PARSER" default:"gofeed"`
	CacheBust             bool          `hcl:"cache_bust" env:"CACHE_BUST" default:"true"`
	UserAgent             string        `hcl:"user_agent" env:"USER_AGENT" default:"feed-relay/1.0"`
	HTTPTimeout           time.Duration `hcl:"http_timeout" env:"HTTP_TIMEOUT" default:"30s"`
	DatabaseDriver        string        `hcl:"database_driver" env:"DATABASE_DRIVER" default:"sqlite"`
	DatabaseDSN           string        `hcl:"database_dsn" env:"DATABASE_DSN" default:"dday.db"`
	FetchInterval         time.Duration `hcl:"fetch_interval" env:"FETCH_INTERVAL" default:"9m"`
	CleanInterval         time.Duration `hcl:"clean_interval" env:"CLEAN_INTERVAL" default:"24h"`
	Retention             int           `hcl:"retention" env:"RETENTION" default:"200"`
	ImagesDir             string        `hcl:"images_dir" env:"IMAGES_DIR" default:"images"`
	EditRejectionPolicy   string        `hcl:"edit_rejection_policy" env:"EDIT_REJECTION_POLICY" default:"advance"`
	EditTimeLayout        string        `hcl:"edit_time_layout" env:"EDIT_TIME_LAYOUT" default:"02/01/2006 15:04"`
	Timezone              string        `hcl:"timezone" env:"TIMEZONE" default:"Europe/Rome"`
	TagSelector           string        `hcl:"tag_selector" env:"TAG_SELECTOR"`
	PublishRate           time.Duration `hcl:"publish_rate" env:"PUBLISH_RATE" default:"3s"`
	ListenAddr            string        `hcl:"listen_addr" env:"LISTEN_ADDR" default:"127.0.0.1:8088"`
	LogLevel              string        `hcl:"log_level" env:"LOG_LEVEL" default:"info"`
	AIType                string        `hcl:"ai_type" env:"AI_TYPE" default:"none"`
	AIBaseURL             string        `hcl:"ai_base_url" env:"AI_BASE_URL"`
	AIKey                 string        `hcl:"ai_key" env:"AI_KEY"`
	AIPrompt              string        `hcl:"ai_prompt" env:"AI_PROMPT"`
	AIModel               string        `hcl:"ai_model" env:"AI_MODEL" default:"llama3"`
	AITimeout             time.Duration `hcl:"ai_timeout" env:"AI_TIMEOUT" default:"5m"`
}

var (
	cfg  Config
	once sync.Once
)

var defaultFiles = []string{"./config.hcl", "./config.local.hcl", "$HOME/.config/feed-relay/config.hcl"}

func Get() Config {
	once.Do(func() {
		var err error
		if cfg, err = Load(defaultFiles...); err != nil {
			slog.Error("failed to load config", "err", err)
		}
	})

	return cfg
}

// Load reads defaults, then the given HCL files, then DDB_* environment variables.
func Load(files ...string) (Config, error) {
	var c Config

	loader := aconfig.LoaderFor(&c, aconfig.Config{
		EnvPrefix: "DDB",
		SkipFlags: true,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".hcl": aconfighcl.New(),
		},
	})

	err := loader.Load()
	return c, err
}

// Location resolves Timezone, falling back to the local zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("unknown timezone, using local time", "timezone", c.Timezone, "err", err)
		return time.Local
	}
	return loc
}

// SlogLevel maps LogLevel to a slog level. Unknown names mean info.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
