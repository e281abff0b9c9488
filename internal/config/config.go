package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/conversation"
	"github.com/nidhogg/lingochat/internal/provider"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Completion CompletionConfig `json:"completion"`
	Compressor CompressorConfig `json:"compressor"`
	Defaults   DefaultsConfig   `json:"defaults"`
	Gateway    GatewayConfig    `json:"gateway"`
	Database   DatabaseConfig   `json:"database"`
	Cache      CacheConfig      `json:"cache"`
	Sessions   SessionsConfig   `json:"sessions"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// CompletionConfig lists the completion providers in fallback order.
type CompletionConfig struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	Providers []ProviderConfig `json:"providers"`
}

type ProviderConfig struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"` // "openai" or "anthropic"
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	Model          string            `json:"model"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Extra          map[string]string `json:"extra,omitempty"`
}

type CompressorConfig struct {
	Backend           string   `json:"backend"`
	Tokenizer         string   `json:"tokenizer"`
	Endpoint          string   `json:"endpoint"`
	Model             string   `json:"model"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	ForceTokens       []string `json:"force_tokens,omitempty"`
	PassthroughAtZero bool     `json:"passthrough_at_zero"`
}

// DefaultsConfig seeds every new session's settings.
type DefaultsConfig struct {
	SystemMessage       string  `json:"system_message"`
	CompressionStrength float64 `json:"compression_strength"`
	Temperature         float64 `json:"temperature"`
	AllowUncompressed   bool    `json:"allow_uncompressed"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// CacheConfig controls the compression memo kept in Redis.
type CacheConfig struct {
	Enabled    bool `json:"enabled"`
	TTLSeconds int  `json:"ttl_seconds"`
}

type SessionsConfig struct {
	IdleTimeoutMinutes int `json:"idle_timeout_minutes"`
}

// Default returns a configuration that runs with only a GROQ_API_KEY.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, LogLevel: "info"},
		Completion: CompletionConfig{
			Model:     "llama3-8b-8192",
			MaxTokens: provider.DefaultMaxTokens,
			Providers: []ProviderConfig{{
				ID:       "groq",
				Type:     "openai",
				Name:     "Groq",
				Endpoint: provider.DefaultOpenAIEndpoint,
				APIKey:   os.Getenv("GROQ_API_KEY"),
				Model:    "llama3-8b-8192",
			}},
		},
		Compressor: CompressorConfig{Backend: "local", Tokenizer: "word"},
		Defaults: DefaultsConfig{
			SystemMessage:       conversation.DefaultSystemMessage,
			CompressionStrength: 100,
			Temperature:         0.1,
		},
		Cache:    CacheConfig{TTLSeconds: 3600},
		Sessions: SessionsConfig{IdleTimeoutMinutes: 60},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file over Default and substitutes environment
// variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	// Unmarshal decodes array elements over existing ones, so providers
	// from the file would inherit fields of the default provider.
	defaults := cfg.Completion.Providers
	cfg.Completion.Providers = nil
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Completion.Providers) == 0 {
		cfg.Completion.Providers = defaults
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if len(c.Completion.Providers) == 0 {
		errs = append(errs, errors.New("completion.providers is empty"))
	}
	for i, p := range c.Completion.Providers {
		switch p.Type {
		case "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("completion.providers[%d]: unknown type %q", i, p.Type))
		}
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("completion.providers[%d]: id is required", i))
		}
	}
	if c.Compressor.Backend == "remote" && c.Compressor.Endpoint == "" {
		errs = append(errs, errors.New("compressor.endpoint is required for the remote backend"))
	}
	if s := c.Defaults.CompressionStrength; s < 0 || s > 100 {
		errs = append(errs, fmt.Errorf("defaults.compression_strength %v not in [0,100]", s))
	}
	if t := c.Defaults.Temperature; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("defaults.temperature %v not in [0,1]", t))
	}
	if c.Gateway.Slack.Enabled && (c.Gateway.Slack.BotToken == "" || c.Gateway.Slack.AppToken == "") {
		errs = append(errs, errors.New("gateway.slack requires bot_token and app_token"))
	}
	if c.Gateway.Discord.Enabled && c.Gateway.Discord.BotToken == "" {
		errs = append(errs, errors.New("gateway.discord requires bot_token"))
	}
	if c.Cache.Enabled && c.Database.Redis.URL == "" {
		errs = append(errs, errors.New("cache.enabled requires database.redis.url"))
	}
	return errors.Join(errs...)
}

// ProviderConfigs converts the completion section for provider constructors.
func (c *Config) ProviderConfigs() []provider.ProviderConfig {
	out := make([]provider.ProviderConfig, 0, len(c.Completion.Providers))
	for _, p := range c.Completion.Providers {
		model := p.Model
		if model == "" {
			model = c.Completion.Model
		}
		out = append(out, provider.ProviderConfig{
			ID:       p.ID,
			Type:     p.Type,
			Name:     p.Name,
			Endpoint: p.Endpoint,
			APIKey:   p.APIKey,
			Model:    model,
			Extra:    p.Extra,
			Timeout:  time.Duration(p.TimeoutSeconds) * time.Second,
		})
	}
	return out
}

// CompressorSettings converts the compressor section.
func (c *Config) CompressorSettings() compressor.Config {
	return compressor.Config{
		Backend:           c.Compressor.Backend,
		Tokenizer:         c.Compressor.Tokenizer,
		Endpoint:          c.Compressor.Endpoint,
		Model:             c.Compressor.Model,
		Timeout:           time.Duration(c.Compressor.TimeoutSeconds) * time.Second,
		ForceTokens:       c.Compressor.ForceTokens,
		PassthroughAtZero: c.Compressor.PassthroughAtZero,
	}
}

// CacheTTL returns the compression memo lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// IdleTimeout returns how long a session may sit unused before eviction.
// Zero disables eviction.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Sessions.IdleTimeoutMinutes) * time.Minute
}
