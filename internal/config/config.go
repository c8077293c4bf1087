// Package config provides configuration management for avatarserver
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. AVATAR_LLM_API_KEY.
const EnvPrefix = "AVATAR"

const masked = "****"

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	LLM          LLMConfig          `mapstructure:"llm" yaml:"llm"`
	TTS          TTSConfig          `mapstructure:"tts" yaml:"tts"`
	Emotion      EmotionConfig      `mapstructure:"emotion" yaml:"emotion"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Conversation ConversationConfig `mapstructure:"conversation" yaml:"conversation"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Journal      JournalConfig      `mapstructure:"journal" yaml:"journal"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host           string        `mapstructure:"host" yaml:"host"`
	Port           int           `mapstructure:"port" yaml:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	Greeting       string        `mapstructure:"greeting" yaml:"greeting"`
	StaticDir      string        `mapstructure:"static_dir" yaml:"static_dir"`           // built frontend, served as a SPA
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"` // "*" allows any
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig configures the language model
type LLMConfig struct {
	Provider      string        `mapstructure:"provider" yaml:"provider"` // openai, canned
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey        string        `mapstructure:"api_key" yaml:"api_key"`
	Model         string        `mapstructure:"model" yaml:"model"`
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature   float64       `mapstructure:"temperature" yaml:"temperature"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	AssistantName string        `mapstructure:"assistant_name" yaml:"assistant_name"`
	SystemPrompt  string        `mapstructure:"system_prompt" yaml:"system_prompt"` // {name}, {emotion} and {tone} are substituted
}

// TTSConfig configures text-to-speech
type TTSConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"` // openai, http, none
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Model    string        `mapstructure:"model" yaml:"model"`
	Voice    string        `mapstructure:"voice" yaml:"voice"`
	Speed    float64       `mapstructure:"speed" yaml:"speed"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmotionConfig configures emotion detection
type EmotionConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"` // remote, rules
	URL      string        `mapstructure:"url" yaml:"url"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CacheConfig configures the response cache
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxSize       int           `mapstructure:"max_size" yaml:"max_size"`
	PurgeSchedule string        `mapstructure:"purge_schedule" yaml:"purge_schedule"` // cron spec; empty disables
}

// ConversationConfig configures per-connection history
type ConversationConfig struct {
	MaxHistory int `mapstructure:"max_history" yaml:"max_history"`
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxHistory int    `mapstructure:"max_history" yaml:"max_history"`
}

// JournalConfig configures the Redis turn journal
type JournalConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	Stream    string `mapstructure:"stream" yaml:"stream"`
	MaxLen    int64  `mapstructure:"max_len" yaml:"max_len"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   120 * time.Second,
			IdleTimeout:    120 * time.Second,
			Greeting:       "Hello! I'm your assistant. How can I help you today?",
			AllowedOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			MaxTokens:     300,
			Temperature:   0.7,
			Timeout:       30 * time.Second,
			MaxRetries:    1,
			AssistantName: "Ava",
		},
		TTS: TTSConfig{
			Provider: "none",
			Model:    "tts-1",
			Voice:    "nova",
			Speed:    1.0,
			Timeout:  30 * time.Second,
		},
		Emotion: EmotionConfig{
			Provider: "rules",
			Timeout:  10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           time.Hour,
			MaxSize:       1000,
			PurgeSchedule: "@every 10m",
		},
		Conversation: ConversationConfig{
			MaxHistory: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxHistory: 500,
		},
		Journal: JournalConfig{
			RedisAddr: "localhost:6379",
			Stream:    "avatar:turns",
			MaxLen:    10000,
		},
	}
}

// setDefaults registers every key so environment overrides apply even when
// the key is absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.greeting", cfg.Server.Greeting)
	v.SetDefault("server.static_dir", cfg.Server.StaticDir)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)

	v.SetDefault("llm.provider", cfg.LLM.Provider)
	v.SetDefault("llm.base_url", cfg.LLM.BaseURL)
	v.SetDefault("llm.api_key", cfg.LLM.APIKey)
	v.SetDefault("llm.model", cfg.LLM.Model)
	v.SetDefault("llm.max_tokens", cfg.LLM.MaxTokens)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.timeout", cfg.LLM.Timeout)
	v.SetDefault("llm.max_retries", cfg.LLM.MaxRetries)
	v.SetDefault("llm.assistant_name", cfg.LLM.AssistantName)
	v.SetDefault("llm.system_prompt", cfg.LLM.SystemPrompt)

	v.SetDefault("tts.provider", cfg.TTS.Provider)
	v.SetDefault("tts.base_url", cfg.TTS.BaseURL)
	v.SetDefault("tts.api_key", cfg.TTS.APIKey)
	v.SetDefault("tts.model", cfg.TTS.Model)
	v.SetDefault("tts.voice", cfg.TTS.Voice)
	v.SetDefault("tts.speed", cfg.TTS.Speed)
	v.SetDefault("tts.timeout", cfg.TTS.Timeout)

	v.SetDefault("emotion.provider", cfg.Emotion.Provider)
	v.SetDefault("emotion.url", cfg.Emotion.URL)
	v.SetDefault("emotion.api_key", cfg.Emotion.APIKey)
	v.SetDefault("emotion.timeout", cfg.Emotion.Timeout)

	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.max_size", cfg.Cache.MaxSize)
	v.SetDefault("cache.purge_schedule", cfg.Cache.PurgeSchedule)

	v.SetDefault("conversation.max_history", cfg.Conversation.MaxHistory)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.dir", cfg.Logging.Dir)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.max_history", cfg.Logging.MaxHistory)

	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.redis_addr", cfg.Journal.RedisAddr)
	v.SetDefault("journal.password", cfg.Journal.Password)
	v.SetDefault("journal.db", cfg.Journal.DB)
	v.SetDefault("journal.stream", cfg.Journal.Stream)
	v.SetDefault("journal.max_len", cfg.Journal.MaxLen)
}

// Loader reads configuration from a file and the environment and can watch
// the file for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader. An empty path searches ./config.yaml and
// ~/.avatarserver/config.yaml; a missing file is not an error in that case.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, path: path}
}

// Viper exposes the underlying instance so command-line flags can be bound.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads the file (if any), applies environment overrides and validates
// the result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

// FileUsed returns the path of the config file that was read, if any.
func (l *Loader) FileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch reloads the file whenever it changes and hands the new configuration
// to fn. Reloads that fail validation are logged and dropped. Watch is a
// no-op when no file was read.
func (l *Loader) Watch(logger zerolog.Logger, fn func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		logger.Info().Str("file", e.Name).Msg("Config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Load is a shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// applyFallbacks fills credentials from the conventional OpenAI variable.
func (c *Config) applyFallbacks() {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.TTS.APIKey == "" && c.TTS.Provider == "openai" {
		c.TTS.APIKey = c.LLM.APIKey
	}
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.LLM.Provider {
	case "openai", "canned":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be openai or canned, got %q", c.LLM.Provider))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature must be between 0 and 2, got %g", c.LLM.Temperature))
	}

	switch c.TTS.Provider {
	case "openai", "none":
	case "http":
		if c.TTS.BaseURL == "" {
			errs = append(errs, errors.New("tts.base_url is required for the http provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("tts.provider must be openai, http or none, got %q", c.TTS.Provider))
	}

	switch c.Emotion.Provider {
	case "rules":
	case "remote":
		if c.Emotion.URL == "" {
			errs = append(errs, errors.New("emotion.url is required for the remote provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("emotion.provider must be remote or rules, got %q", c.Emotion.Provider))
	}

	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
		}
		if c.Cache.MaxSize <= 0 {
			errs = append(errs, fmt.Errorf("cache.max_size must be positive, got %d", c.Cache.MaxSize))
		}
		if c.Cache.PurgeSchedule != "" {
			if _, err := cron.ParseStandard(c.Cache.PurgeSchedule); err != nil {
				errs = append(errs, fmt.Errorf("cache.purge_schedule: %w", err))
			}
		}
	}

	if c.Conversation.MaxHistory <= 0 {
		errs = append(errs, fmt.Errorf("conversation.max_history must be positive, got %d", c.Conversation.MaxHistory))
	}

	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}

	if c.Journal.Enabled && c.Journal.RedisAddr == "" {
		errs = append(errs, errors.New("journal.redis_addr is required when the journal is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Masked returns a copy with credentials hidden, suitable for display.
func (c *Config) Masked() *Config {
	cp := *c
	cp.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	cp.LLM.APIKey = mask(c.LLM.APIKey)
	cp.TTS.APIKey = mask(c.TTS.APIKey)
	cp.Emotion.APIKey = mask(c.Emotion.APIKey)
	cp.Journal.Password = mask(c.Journal.Password)
	return &cp
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return masked
}

// YAML renders the configuration with credentials masked.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Masked())
}

// ConfigDir returns the per-user configuration directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".avatarserver"), nil
}
