package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	HackerNews HackerNewsConfig `yaml:"hackernews"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Content    ContentConfig    `yaml:"content"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Redis      RedisConfig      `yaml:"redis"`
	Readwise   ReadwiseConfig   `yaml:"readwise"`
	Sync       SyncConfig       `yaml:"sync"`
	Show       ShowConfig       `yaml:"show"`
	Clean      CleanConfig      `yaml:"clean"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	UI         UIConfig         `yaml:"ui"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level       string   `yaml:"level"`
	Development bool     `yaml:"development"`
	OutputPaths []string `yaml:"output_paths"`
}

type HackerNewsConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

type FetchConfig struct {
	Feed       string `yaml:"feed"`
	Limit      int    `yaml:"limit"`
	Hours      int    `yaml:"hours"`
	MinScore   int    `yaml:"min_score"`
	BatchSize  int    `yaml:"batch_size"`
	MaxBatches int    `yaml:"max_batches"`
}

type ContentConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Concurrency    int           `yaml:"concurrency"`
	MinTextLength  int           `yaml:"min_text_length"`
	SummaryChars   int           `yaml:"summary_chars"`
	ErrorBackoff   time.Duration `yaml:"error_backoff"`
	UserAgent      string        `yaml:"user_agent"`
	BlockedDomains []string      `yaml:"blocked_domains"`
	Hours          int           `yaml:"hours"`
	MinRelevance   int           `yaml:"min_relevance"`
	Limit          int           `yaml:"limit"`
}

type ScoringConfig struct {
	Provider           string            `yaml:"provider"`
	Concurrency        int               `yaml:"concurrency"`
	MaxStories         int               `yaml:"max_stories"`
	Hours              int               `yaml:"hours"`
	MinScore           int               `yaml:"min_score"`
	MaxAttempts        int               `yaml:"max_attempts"`
	IncludeContent     bool              `yaml:"include_content"`
	PromptTemplatePath string            `yaml:"prompt_template_path"`
	SystemPromptPath   string            `yaml:"system_prompt_path"`
	DomainCache        DomainCacheConfig `yaml:"domain_cache"`
}

type DomainCacheConfig struct {
	// Mode is one of off, bias, short_circuit.
	Mode       string `yaml:"mode"`
	MinSamples int    `yaml:"min_samples"`
	// Backend is sqlite or redis.
	Backend string `yaml:"backend"`
}

type AnthropicConfig struct {
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int64         `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

type OllamaConfig struct {
	Host  string `yaml:"host"`
	Model string `yaml:"model"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ReadwiseConfig struct {
	APIToken          string        `yaml:"api_token"`
	BaseURL           string        `yaml:"base_url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	Timeout           time.Duration `yaml:"timeout"`
	Author            string        `yaml:"author"`
	Tags              []string      `yaml:"tags"`
}

type SyncConfig struct {
	Hours        int     `yaml:"hours"`
	MinScore     int     `yaml:"min_score"`
	MinRelevance int     `yaml:"min_relevance"`
	MinComments  int     `yaml:"min_comments"`
	MaxStories   int     `yaml:"max_stories"`
	HNWeight     float64 `yaml:"hn_weight"`
	VerifyExists bool    `yaml:"verify_exists"`
}

type ShowConfig struct {
	Hours        int     `yaml:"hours"`
	MinScore     int     `yaml:"min_score"`
	MinRelevance int     `yaml:"min_relevance"`
	Limit        int     `yaml:"limit"`
	HNWeight     float64 `yaml:"hn_weight"`
}

type CleanConfig struct {
	BatchSize  int `yaml:"batch_size"`
	MaxBatches int `yaml:"max_batches"`
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type UIConfig struct {
	Hours int `yaml:"hours"`
	Limit int `yaml:"limit"`
	// GlamourStyle is passed to glamour.WithStandardStyle; "auto" picks by terminal.
	GlamourStyle string `yaml:"glamour_style"`
}

const (
	FeedTop  = "top"
	FeedBest = "best"
	FeedNew  = "new"

	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"

	CacheOff          = "off"
	CacheBias         = "bias"
	CacheShortCircuit = "short_circuit"

	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "~/.local/share/hnpoll/hn_stories.db"},
		Logging:  LoggingConfig{Level: "info"},
		HackerNews: HackerNewsConfig{
			BaseURL:           "https://hacker-news.firebaseio.com/v0",
			Timeout:           10 * time.Second,
			Concurrency:       20,
			RequestsPerSecond: 50,
			MaxAttempts:       3,
		},
		Fetch: FetchConfig{
			Feed:       FeedNew,
			Limit:      500,
			Hours:      24,
			MinScore:   0,
			BatchSize:  100,
			MaxBatches: 10,
		},
		Content: ContentConfig{
			Enabled:        false,
			Timeout:        15 * time.Second,
			MaxAttempts:    3,
			BaseDelay:      time.Second,
			MaxDelay:       20 * time.Second,
			Concurrency:    4,
			MinTextLength:  200,
			SummaryChars:   500,
			ErrorBackoff:   24 * time.Hour,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			BlockedDomains: DefaultBlockedDomains(),
			Hours:          48,
			MinRelevance:   0,
			Limit:          100,
		},
		Scoring: ScoringConfig{
			Provider:       ProviderAnthropic,
			Concurrency:    5,
			MaxStories:     0,
			Hours:          0,
			MinScore:       0,
			MaxAttempts:    3,
			IncludeContent: true,
			DomainCache: DomainCacheConfig{
				Mode:       CacheBias,
				MinSamples: 5,
				Backend:    BackendSQLite,
			},
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-3-haiku-20240307",
			BaseURL:   "",
			MaxTokens: 100,
			Timeout:   30 * time.Second,
		},
		Ollama: OllamaConfig{
			Host:  "http://localhost:11434",
			Model: "llama3.2",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "hnpoll:domain:",
		},
		Readwise: ReadwiseConfig{
			BaseURL:           "https://readwise.io/api/v3",
			RequestsPerSecond: 0.5,
			MaxAttempts:       5,
			BaseDelay:         2 * time.Second,
			Timeout:           30 * time.Second,
			Author:            "hn-poll",
			Tags:              []string{"hackernews"},
		},
		Sync: SyncConfig{
			Hours:        24,
			MinScore:     0,
			MinRelevance: 75,
			MinComments:  0,
			MaxStories:   20,
			HNWeight:     0.7,
			VerifyExists: true,
		},
		Show: ShowConfig{
			Hours:        24,
			MinScore:     0,
			MinRelevance: 0,
			Limit:        30,
			HNWeight:     0.7,
		},
		Clean: CleanConfig{
			BatchSize:  100,
			MaxBatches: 5,
		},
		Metrics: MetricsConfig{Job: "hnpoll"},
		UI: UIConfig{
			Hours:        48,
			Limit:        200,
			GlamourStyle: "auto",
		},
	}
}

// DefaultBlockedDomains lists sites that reject automated fetches or sit
// behind paywalls.
func DefaultBlockedDomains() []string {
	return []string{
		"x.com", "twitter.com", "t.co",
		"instagram.com", "facebook.com", "linkedin.com",
		"wsj.com", "economist.com", "nytimes.com", "ft.com",
		"washingtonpost.com", "bloomberg.com", "newyorker.com",
		"wired.com", "medium.com", "substack.com", "phys.org",
	}
}

// Load reads configuration from path, layered over Default. A missing file is
// not an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(expandPath(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnv(cfg)
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Scoring.PromptTemplatePath = expandPath(cfg.Scoring.PromptTemplatePath)
	cfg.Scoring.SystemPromptPath = expandPath(cfg.Scoring.SystemPromptPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HNPOLL_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("HNPOLL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("READWISE_API_KEY"); v != "" {
		cfg.Readwise.APIToken = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Ollama.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		cfg.Metrics.PushgatewayURL = v
	}
}

// Validate rejects unknown selectors and clamps weights into [0,1].
func (c *Config) Validate() error {
	switch c.Fetch.Feed {
	case FeedTop, FeedBest, FeedNew:
	default:
		return fmt.Errorf("invalid fetch.feed %q: want top, best or new", c.Fetch.Feed)
	}
	switch c.Scoring.Provider {
	case ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("invalid scoring.provider %q", c.Scoring.Provider)
	}
	switch c.Scoring.DomainCache.Mode {
	case CacheOff, CacheBias, CacheShortCircuit:
	default:
		return fmt.Errorf("invalid scoring.domain_cache.mode %q", c.Scoring.DomainCache.Mode)
	}
	switch c.Scoring.DomainCache.Backend {
	case BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("invalid scoring.domain_cache.backend %q", c.Scoring.DomainCache.Backend)
	}
	c.Sync.HNWeight = ClampWeight(c.Sync.HNWeight)
	c.Show.HNWeight = ClampWeight(c.Show.HNWeight)
	return nil
}

func ClampWeight(w float64) float64 {
	switch {
	case w < 0:
		return 0
	case w > 1:
		return 1
	default:
		return w
	}
}

// Save writes configuration to file
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// DefaultConfigPath returns the default configuration file path
func DefaultConfigPath() string {
	if v := os.Getenv("HNPOLL_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "hnpoll", "config.yaml")
}

// Exists reports whether a config file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(expandPath(path))
	return err == nil
}
