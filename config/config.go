// Package config loads environment variables and provides a typed Config used across the bot.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required stream credentials, use ValidateStreamReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Stream feed
	MediaID   string
	LiveID    string
	GID       string
	AuthToken string
	FeedURL   string

	// Reply policy
	ResponseRate   float64
	ContextLength  int
	Cooldown       time.Duration
	CooldownBypass []string
	HistoryCutoff  time.Duration

	// Generation
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	Temperature   float64
	GenTimeout    time.Duration
	MaxReplyRunes int
	BotNickname   string

	// Delivery
	ADBBinary     string
	ADBDeviceAddr string
	ADBInputX     int
	ADBInputY     int
	ADBSendX      int
	ADBSendY      int
	SendSpacing   time.Duration
	SendJitterMin time.Duration
	SendJitterMax time.Duration
	SendRetries   int

	// Feed resilience
	ReconnectBase time.Duration
	ReconnectCap  time.Duration
	MaxReconnects int
	StableAfter   time.Duration
	StaleAfter    time.Duration

	// Files
	PresetsPath   string
	CharacterPath string
	FilterPath    string
	TranscriptDB  string
	// TranscriptRetention drops transcript rows older than this; zero
	// keeps everything.
	TranscriptRetention time.Duration
	DataDir             string

	// HTTP surface. Admin auth env vars (ADMIN_TOKEN etc.) are read by the
	// server middleware directly.
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if stream creds are
// missing; use ValidateStreamReady() when you require the live feed. Missing optional variables
// disable features (e.g., generation without OPENAI_API_KEY).
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.MediaID = os.Getenv("REPLY_MEDIA_ID")
	cfg.LiveID = os.Getenv("REPLY_VLIVE_ID")
	if cfg.LiveID == "" && cfg.MediaID != "" {
		id, err := ParseMediaID(cfg.MediaID)
		if err != nil {
			return nil, fmt.Errorf("invalid REPLY_MEDIA_ID: %w", err)
		}
		cfg.LiveID = id
	}
	cfg.GID = os.Getenv("REPLY_GID")
	cfg.AuthToken = os.Getenv("REPLY_AUTH_TOKEN")
	cfg.FeedURL = os.Getenv("REPLY_FEED_URL")
	if cfg.FeedURL == "" {
		cfg.FeedURL = "wss://comment.reality.app/v1/comment_viewer"
	}

	cfg.ResponseRate = envFloat("REPLY_RESPONSE_RATE", 0.2)
	if cfg.ResponseRate < 0 || cfg.ResponseRate > 1 {
		return nil, fmt.Errorf("REPLY_RESPONSE_RATE must be in [0,1], got %v", cfg.ResponseRate)
	}
	cfg.ContextLength = envInt("REPLY_CONTEXT_LENGTH", 10)
	cfg.Cooldown = envDuration("REPLY_COOLDOWN", 5*time.Second)
	cfg.CooldownBypass = envList("REPLY_COOLDOWN_BYPASS", []string{"gift"})
	cfg.HistoryCutoff = envDuration("REPLY_HISTORY_CUTOFF", 5*time.Second)

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_API_BASE")
	cfg.OpenAIModel = os.Getenv("OPENAI_MODEL")
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = "gpt-4o-mini"
	}
	cfg.Temperature = envFloat("OPENAI_TEMPERATURE", 0.8)
	cfg.GenTimeout = envDuration("REPLY_GEN_TIMEOUT", 30*time.Second)
	cfg.MaxReplyRunes = envInt("REPLY_MAX_RUNES", 200)
	cfg.BotNickname = os.Getenv("BOT_NICKNAME")

	cfg.ADBBinary = os.Getenv("ADB_BINARY")
	if cfg.ADBBinary == "" {
		cfg.ADBBinary = "adb"
	}
	cfg.ADBDeviceAddr = os.Getenv("ADB_DEVICE_ADDR")
	cfg.ADBInputX = envInt("ADB_INPUT_X", 540)
	cfg.ADBInputY = envInt("ADB_INPUT_Y", 1750)
	cfg.ADBSendX = envInt("ADB_SEND_X", 1000)
	cfg.ADBSendY = envInt("ADB_SEND_Y", 1750)
	cfg.SendSpacing = envDuration("REPLY_SEND_SPACING", 2*time.Second)
	cfg.SendJitterMin = envDuration("REPLY_SEND_JITTER_MIN", 500*time.Millisecond)
	cfg.SendJitterMax = envDuration("REPLY_SEND_JITTER_MAX", 2*time.Second)
	cfg.SendRetries = envInt("REPLY_SEND_RETRIES", 3)

	cfg.ReconnectBase = envDuration("REPLY_RECONNECT_BASE", 2*time.Second)
	cfg.ReconnectCap = envDuration("REPLY_RECONNECT_CAP", 32*time.Second)
	cfg.MaxReconnects = envInt("REPLY_MAX_RECONNECTS", 5)
	cfg.StableAfter = envDuration("REPLY_STABLE_AFTER", 10*time.Second)
	cfg.StaleAfter = envDuration("REPLY_STALE_AFTER", 10*time.Second)

	cfg.DataDir = os.Getenv("DATA_DIR")
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	cfg.PresetsPath = envPath("REPLY_PRESETS", cfg.DataDir+"/presets.json")
	cfg.CharacterPath = envPath("REPLY_CHARACTER", cfg.DataDir+"/character.md")
	cfg.FilterPath = envPath("REPLY_FILTERS", cfg.DataDir+"/filter_list.json")
	cfg.TranscriptDB = envPath("REPLY_TRANSCRIPT_DB", cfg.DataDir+"/transcript.db")
	cfg.TranscriptRetention = envDuration("REPLY_TRANSCRIPT_RETENTION", 0)

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	return cfg, nil
}

// ValidateStreamReady checks required fields for connecting to the live feed.
func (c *Config) ValidateStreamReady() error {
	if c.LiveID == "" || c.GID == "" || c.AuthToken == "" {
		return fmt.Errorf("missing stream env: require REPLY_MEDIA_ID (or REPLY_VLIVE_ID), REPLY_GID, REPLY_AUTH_TOKEN")
	}
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return def
}

func envPath(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
