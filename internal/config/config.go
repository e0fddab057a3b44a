// package config loads application configuration from environment variables
// and the chat list file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// telegram
	TGApiID      int
	TGApiHash    string
	TGPhone      string
	SessionDB    string
	RateLimitRPS float64

	// chat list
	ChatsFile   string
	Sources     []string
	Destination string

	// classifier
	LLMBaseURL    string
	LLMModel      string
	LLMAPIKey     string
	LLMPrompt     string
	LLMTimeoutSec int

	// forwarding
	StateFile          string
	HashFile           string
	HashStoreSize      int
	GroupSettleSeconds int
	PollIntervalSec    int
	FetchLimit         int
	ShutdownGraceSec   int

	// nats
	NatsURL string

	// server
	HTTPPort int

	// logging
	LogLevel string
	LogFile  string
}

// ChatsFile is the on-disk chat list: which chats to watch and where
// accepted messages go. Entries are usernames or numeric chat ids.
type ChatsFile struct {
	Sources     []string `yaml:"sources"`
	Destination string   `yaml:"destination"`
}

// Load reads configuration from environment variables with sensible defaults,
// then merges the chat list file.
func Load() (*Config, error) {
	cfg := &Config{
		TGApiID:      getEnvInt("TG_API_ID", 0),
		TGApiHash:    getEnv("TG_API_HASH", ""),
		TGPhone:      getEnv("TG_PHONE", ""),
		SessionDB:    getEnv("TG_SESSION_DB", "./data/session.db"),
		RateLimitRPS: getEnvFloat("TG_RATE_LIMIT_RPS", 2.0),

		ChatsFile:   getEnv("CHATS_FILE", "./chats.yaml"),
		Destination: getEnv("DESTINATION_CHAT", ""),

		LLMBaseURL:    getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMModel:      getEnv("LLM_MODEL", "google/gemini-2.0-flash-001"),
		LLMAPIKey:     getEnv("LLM_API_KEY", ""),
		LLMPrompt:     getEnv("LLM_PROMPT", ""),
		LLMTimeoutSec: getEnvInt("LLM_TIMEOUT_SECONDS", 30),

		StateFile:          getEnv("STATE_FILE", "./data/chat_states.json"),
		HashFile:           getEnv("HASH_FILE", "./data/message_hashes.json"),
		HashStoreSize:      getEnvInt("HASH_STORE_SIZE", 1000),
		GroupSettleSeconds: getEnvInt("GROUP_SETTLE_SECONDS", 2),
		PollIntervalSec:    getEnvInt("POLL_INTERVAL_SECONDS", 10),
		FetchLimit:         getEnvInt("FETCH_LIMIT", 100),
		ShutdownGraceSec:   getEnvInt("SHUTDOWN_GRACE_SECONDS", 10),

		NatsURL: getEnv("NATS_URL", ""),

		HTTPPort: getEnvInt("HTTP_PORT", 3100),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	if err := cfg.loadChats(); err != nil {
		return nil, err
	}

	// env list overrides the file, useful for one-off runs
	if raw := getEnv("SOURCE_CHATS", ""); raw != "" {
		cfg.Sources = splitList(raw)
	}

	return cfg, nil
}

// loadChats merges the YAML chat list into the config. A missing file is not
// an error: sources may come from SOURCE_CHATS instead.
func (c *Config) loadChats() error {
	data, err := os.ReadFile(c.ChatsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read chats file: %w", err)
	}

	var chats ChatsFile
	if err := yaml.Unmarshal(data, &chats); err != nil {
		return fmt.Errorf("parse chats file %s: %w", c.ChatsFile, err)
	}

	c.Sources = chats.Sources
	if c.Destination == "" {
		c.Destination = chats.Destination
	}
	return nil
}

// Validate checks the settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.TGApiID == 0 || c.TGApiHash == "" {
		return fmt.Errorf("TG_API_ID and TG_API_HASH are required")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("no source chats configured (chats file or SOURCE_CHATS)")
	}
	if c.Destination == "" {
		return fmt.Errorf("no destination chat configured")
	}
	return nil
}

// splitList splits a comma-separated env value, trimming blanks.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
