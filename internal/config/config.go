package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel       = "gpt-4o"
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.7

	DefaultEmbeddingModel     = "text-embedding-3-small"
	DefaultEmbeddingDimension = 1536
	DefaultEmbeddingTimeoutMs = 30000
	DefaultEmbeddingMaxChars  = 8000

	DefaultSummarizeEvery      = 10
	DefaultMinSummaryBatch     = 3
	DefaultMaxShortTerm        = 30
	DefaultContextTokenBudget  = 6000
	DefaultSummaryMaxTokens    = 120
	DefaultVectorStoreCap      = 100
	DefaultSimilarityThreshold = 0.3
	DefaultRetrieveTopK        = 3

	DefaultHealthHost        = "0.0.0.0"
	DefaultHealthPort        = 18890
	DefaultHealthMaxAgeMin   = 10
	DefaultHeartbeatExpr     = "0 */10 * * * *"
	DefaultMaxProactiveCalls = 2
	DefaultBufSize           = 100
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Provider  ProviderConfig  `json:"provider"`
	Channels  ChannelsConfig  `json:"channels"`
	Memory    MemoryConfig    `json:"memory"`
	Health    HealthConfig    `json:"health"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
}

type AgentConfig struct {
	DataDir     string  `json:"dataDir"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type MemoryConfig struct {
	SummarizeEvery     int             `json:"summarizeEvery,omitempty"`
	MaxShortTerm       int             `json:"maxShortTerm,omitempty"`
	TokenBudget        int             `json:"tokenBudget,omitempty"`
	RetryFailedBatches bool            `json:"retryFailedBatches,omitempty"`
	Model              string          `json:"model,omitempty"`
	MaxTokens          int             `json:"maxTokens,omitempty"`
	Provider           *ProviderConfig `json:"provider,omitempty"`
	Embedding          EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
}

type HeartbeatConfig struct {
	Enabled            bool   `json:"enabled"`
	CheckExpr          string `json:"checkExpr,omitempty"`
	QuietStartHour     int    `json:"quietStartHour,omitempty"`
	QuietEndHour       int    `json:"quietEndHour,omitempty"`
	MaxProactivePerDay int    `json:"maxProactivePerDay,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			DataDir:     filepath.Join(home, ".aven", "data"),
			Model:       DefaultModel,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Memory: MemoryConfig{
			SummarizeEvery: DefaultSummarizeEvery,
			MaxShortTerm:   DefaultMaxShortTerm,
			TokenBudget:    DefaultContextTokenBudget,
			Embedding: EmbeddingConfig{
				Model:     DefaultEmbeddingModel,
				Dimension: DefaultEmbeddingDimension,
				TimeoutMs: DefaultEmbeddingTimeoutMs,
			},
		},
		Health: HealthConfig{
			Host: DefaultHealthHost,
			Port: DefaultHealthPort,
		},
		Heartbeat: HeartbeatConfig{
			CheckExpr:          DefaultHeartbeatExpr,
			QuietStartHour:     0,
			QuietEndHour:       8,
			MaxProactivePerDay: DefaultMaxProactiveCalls,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".aven")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("AVEN_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("AVEN_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("AVEN_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" && cfg.Channels.Telegram.Token == "" {
		cfg.Channels.Telegram.Token = token
	}
	if dir := os.Getenv("AVEN_DATA_DIR"); dir != "" {
		cfg.Agent.DataDir = dir
	}
	if model := os.Getenv("AVEN_MEMORY_MODEL"); model != "" {
		cfg.Memory.Model = model
	}
	if key := os.Getenv("AVEN_MEMORY_API_KEY"); key != "" {
		if cfg.Memory.Provider == nil {
			cfg.Memory.Provider = &ProviderConfig{}
		}
		cfg.Memory.Provider.APIKey = key
	}
	if url := os.Getenv("AVEN_MEMORY_BASE_URL"); url != "" {
		if cfg.Memory.Provider == nil {
			cfg.Memory.Provider = &ProviderConfig{}
		}
		cfg.Memory.Provider.BaseURL = url
	}
	if model := os.Getenv("AVEN_EMBEDDING_MODEL"); model != "" {
		cfg.Memory.Embedding.Model = model
	}
	if dim := os.Getenv("AVEN_EMBEDDING_DIMENSION"); dim != "" {
		if parsed, err := strconv.Atoi(dim); err == nil && parsed > 0 {
			cfg.Memory.Embedding.Dimension = parsed
		}
	}
	if retry := os.Getenv("AVEN_MEMORY_RETRY_FAILED"); retry != "" {
		if parsed, err := strconv.ParseBool(retry); err == nil {
			cfg.Memory.RetryFailedBatches = parsed
		}
	}
	if key := os.Getenv("AVEN_HEALTH_API_KEY"); key != "" {
		cfg.Health.APIKey = key
	}

	// Fill defaults the file may have zeroed out
	if cfg.Agent.DataDir == "" {
		cfg.Agent.DataDir = DefaultConfig().Agent.DataDir
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Memory.SummarizeEvery <= 0 {
		cfg.Memory.SummarizeEvery = DefaultSummarizeEvery
	}
	if cfg.Memory.MaxShortTerm <= 0 {
		cfg.Memory.MaxShortTerm = DefaultMaxShortTerm
	}
	if cfg.Memory.TokenBudget <= 0 {
		cfg.Memory.TokenBudget = DefaultContextTokenBudget
	}
	if cfg.Memory.Embedding.Model == "" {
		cfg.Memory.Embedding.Model = DefaultEmbeddingModel
	}
	if cfg.Memory.Embedding.Dimension <= 0 {
		cfg.Memory.Embedding.Dimension = DefaultEmbeddingDimension
	}
	if cfg.Memory.Embedding.TimeoutMs <= 0 {
		cfg.Memory.Embedding.TimeoutMs = DefaultEmbeddingTimeoutMs
	}
	if cfg.Health.Host == "" {
		cfg.Health.Host = DefaultHealthHost
	}
	if cfg.Health.Port <= 0 {
		cfg.Health.Port = DefaultHealthPort
	}
	if cfg.Heartbeat.CheckExpr == "" {
		cfg.Heartbeat.CheckExpr = DefaultHeartbeatExpr
	}
	if cfg.Heartbeat.MaxProactivePerDay <= 0 {
		cfg.Heartbeat.MaxProactivePerDay = DefaultMaxProactiveCalls
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// MemoryAPIKey resolves the credential for memory-side provider calls,
// falling back to the main provider.
func (c *Config) MemoryAPIKey() string {
	if c.Memory.Provider != nil && c.Memory.Provider.APIKey != "" {
		return c.Memory.Provider.APIKey
	}
	return c.Provider.APIKey
}

// MemoryBaseURL resolves the endpoint for memory-side provider calls,
// falling back to the main provider.
func (c *Config) MemoryBaseURL() string {
	if c.Memory.Provider != nil && c.Memory.Provider.BaseURL != "" {
		return c.Memory.Provider.BaseURL
	}
	return c.Provider.BaseURL
}

// MemoryModel resolves the completion model used for summarization.
func (c *Config) MemoryModel() string {
	if c.Memory.Model != "" {
		return c.Memory.Model
	}
	return c.Agent.Model
}
