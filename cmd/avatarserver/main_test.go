package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarserver/internal/bus"
	"github.com/normanking/avatarserver/internal/config"
	"github.com/normanking/avatarserver/internal/logging"
)

func testLogs(t *testing.T) *logging.Logger {
	t.Helper()
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	logs, err := logging.New(logging.Config{Level: "error", MaxHistory: 50})
	require.NoError(t, err)
	return logs
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"version", "--env", ""})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "avatarserver dev\n", out.String())
}

func TestConfigShowMasksSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: sk-very-secret\n"), 0644))

	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"config", "show", "--config", path, "--env", ""})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "# source: "+path)
	assert.Contains(t, out.String(), "****")
	assert.NotContains(t, out.String(), "sk-very-secret")
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AVATAR_TEST_DOTENV=loaded\n"), 0644))
	t.Setenv("AVATAR_TEST_DOTENV", "")
	os.Unsetenv("AVATAR_TEST_DOTENV")

	require.NoError(t, loadEnv(path))
	assert.Equal(t, "loaded", os.Getenv("AVATAR_TEST_DOTENV"))

	assert.NoError(t, loadEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestBuildAppSelectsAdapters(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "canned"
	cfg.TTS.Provider = "none"

	a, err := buildApp(cfg, testLogs(t))
	require.NoError(t, err)
	defer a.close()

	health := a.orch.Health()
	assert.Equal(t, "canned", health.Services["llm"].Provider)
	assert.Equal(t, "none", health.Services["tts"].Provider)
	assert.Equal(t, "rules", health.Services["emotion"].Provider)
	assert.NotNil(t, health.Cache)
	assert.Equal(t, 1, a.scheduler.Jobs())
	assert.Nil(t, a.journal)
}

func TestBuildAppWithoutCache(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "canned"
	cfg.Cache.Enabled = false

	a, err := buildApp(cfg, testLogs(t))
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.orch.Health().Cache)
	assert.Equal(t, 0, a.scheduler.Jobs())
}

func TestBuildAppRejectsUnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TTS.Provider = "espeak"

	_, err := buildApp(cfg, testLogs(t))
	assert.Error(t, err)
}

func TestAppRunStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "canned"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	a, err := buildApp(cfg, testLogs(t))
	require.NoError(t, err)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestAppCloseDrainsBus(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "canned"

	a, err := buildApp(cfg, testLogs(t))
	require.NoError(t, err)

	var handled atomic.Bool
	a.bus.Subscribe(bus.EventTypeConnectionClosed, func(bus.Event) {
		time.Sleep(50 * time.Millisecond)
		handled.Store(true)
	})
	a.orch.Register("drain-01")
	a.orch.Unregister("drain-01")

	a.close()
	assert.True(t, handled.Load())
}
