package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
	assert.Equal(t, 10, cfg.Conversation.MaxHistory)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, `
server:
  port: 9000
  greeting: Hi there
llm:
  provider: canned
  temperature: 0.2
cache:
  ttl: 5m
  max_size: 50
tts:
  provider: http
  base_url: http://localhost:5002
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "Hi there", cfg.Server.Greeting)
	assert.Equal(t, "canned", cfg.LLM.Provider)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 50, cfg.Cache.MaxSize)
	assert.Equal(t, "http", cfg.TTS.Provider)

	// untouched keys keep defaults
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("AVATAR_SERVER_PORT", "9100")
	t.Setenv("AVATAR_LLM_API_KEY", "sk-test")
	t.Setenv("AVATAR_CACHE_ENABLED", "false")

	path := writeConfig(t, "server:\n  port: 9000\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoadOpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")

	path := writeConfig(t, "tts:\n  provider: openai\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "sk-env", cfg.TTS.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: llama\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad tts", func(c *Config) { c.TTS.Provider = "espeak" }, "tts.provider"},
		{"http tts needs url", func(c *Config) { c.TTS.Provider = "http" }, "tts.base_url"},
		{"remote emotion needs url", func(c *Config) { c.Emotion.Provider = "remote" }, "emotion.url"},
		{"bad emotion", func(c *Config) { c.Emotion.Provider = "model" }, "emotion.provider"},
		{"cache ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"cache size", func(c *Config) { c.Cache.MaxSize = -1 }, "cache.max_size"},
		{"purge schedule", func(c *Config) { c.Cache.PurgeSchedule = "every now and then" }, "cache.purge_schedule"},
		{"history", func(c *Config) { c.Conversation.MaxHistory = 0 }, "conversation.max_history"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"log level", func(c *Config) { c.Logging.Level = "shout" }, "logging.level"},
		{"journal addr", func(c *Config) { c.Journal.Enabled = true; c.Journal.RedisAddr = "" }, "journal.redis_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateIgnoresCacheWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Enabled = false
	cfg.Cache.TTL = 0
	assert.NoError(t, cfg.Validate())
}

func TestMaskedYAML(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-secret"
	cfg.Journal.Password = "hunter2"

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-secret")
	assert.NotContains(t, string(out), "hunter2")

	var back map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "****", back["llm"]["api_key"])
	assert.Equal(t, "", back["tts"]["api_key"])

	// original untouched
	assert.Equal(t, "sk-secret", cfg.LLM.APIKey)
}

func TestWatchReloads(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, "logging:\n  level: info\n")

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, path, loader.FileUsed())

	changed := make(chan *Config, 8)
	loader.Watch(zerolog.Nop(), func(c *Config) { changed <- c })

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Logging.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
