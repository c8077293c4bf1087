package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/avatarserver/internal/bus"
	"github.com/normanking/avatarserver/internal/cache"
	"github.com/normanking/avatarserver/internal/config"
	"github.com/normanking/avatarserver/internal/conversation"
	"github.com/normanking/avatarserver/internal/emotion"
	"github.com/normanking/avatarserver/internal/journal"
	"github.com/normanking/avatarserver/internal/llm"
	"github.com/normanking/avatarserver/internal/logging"
	"github.com/normanking/avatarserver/internal/metrics"
	"github.com/normanking/avatarserver/internal/orchestrator"
	"github.com/normanking/avatarserver/internal/scheduler"
	"github.com/normanking/avatarserver/internal/server"
	"github.com/normanking/avatarserver/internal/speech"
)

// app holds the wired components of a running server.
type app struct {
	cfg       *config.Config
	logs      *logging.Logger
	bus       *bus.EventBus
	metrics   *metrics.Metrics
	orch      *orchestrator.Orchestrator
	server    *server.Server
	scheduler *scheduler.Scheduler
	journal   *journal.Journal
}

// buildApp selects adapters from configuration and wires them together.
func buildApp(cfg *config.Config, logs *logging.Logger) (*app, error) {
	log := logs.Component("main")

	a := &app{
		cfg:     cfg,
		logs:    logs,
		bus:     bus.NewEventBus(),
		metrics: metrics.New(),
	}
	a.metrics.Attach(a.bus)

	classifier := newClassifier(cfg.Emotion, logs.Component("emotion"))

	llmCfg := llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
	}
	provider, err := llm.NewProvider(cfg.LLM.Provider, llmCfg, logs.Component("llm"))
	if err != nil {
		return nil, err
	}
	if !provider.Available() {
		log.Warn().Str("provider", provider.Name()).Msg("LLM credentials missing, replies will use the fallback text")
	}

	synth, err := speech.NewSynthesizer(cfg.TTS.Provider,
		speech.OpenAIConfig{
			BaseURL: cfg.TTS.BaseURL,
			APIKey:  cfg.TTS.APIKey,
			Model:   cfg.TTS.Model,
			Voice:   cfg.TTS.Voice,
			Speed:   cfg.TTS.Speed,
			Timeout: cfg.TTS.Timeout,
		},
		speech.HTTPConfig{
			URL:     cfg.TTS.BaseURL,
			APIKey:  cfg.TTS.APIKey,
			Voice:   cfg.TTS.Voice,
			Timeout: cfg.TTS.Timeout,
		},
		logs.Component("tts"),
	)
	if err != nil {
		return nil, err
	}

	var responseCache *cache.ResponseCache
	if cfg.Cache.Enabled {
		responseCache = cache.New(cache.Config{TTL: cfg.Cache.TTL, MaxSize: cfg.Cache.MaxSize})
	}

	a.orch = orchestrator.New(orchestrator.Deps{
		Classifier:    classifier,
		LLM:           provider,
		Prompt:        llm.NewPromptBuilder(cfg.LLM.AssistantName, cfg.LLM.SystemPrompt, llmCfg),
		Speech:        synth,
		Cache:         responseCache,
		Conversations: conversation.NewRegistry(cfg.Conversation.MaxHistory),
		Bus:           a.bus,
		Logger:        logs.Component("orchestrator"),
	})

	a.scheduler = scheduler.New(logs.Component("scheduler"))
	if responseCache != nil && cfg.Cache.PurgeSchedule != "" {
		if err := a.scheduler.SchedulePurge(cfg.Cache.PurgeSchedule, a.orch.PurgeCache); err != nil {
			return nil, err
		}
	}

	if cfg.Journal.Enabled {
		j, err := journal.New(journal.Config{
			Addr:     cfg.Journal.RedisAddr,
			Password: cfg.Journal.Password,
			DB:       cfg.Journal.DB,
			Stream:   cfg.Journal.Stream,
			MaxLen:   cfg.Journal.MaxLen,
		}, logs.Component("journal"))
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Journal.RedisAddr).Msg("Turn journal disabled")
		} else {
			j.Attach(a.bus)
			a.journal = j
		}
	}

	a.server = server.New(server.Options{
		Config:       cfg.Server,
		TTSProvider:  cfg.TTS.Provider,
		CacheEnabled: cfg.Cache.Enabled,
		Version:      version,
		Orchestrator: a.orch,
		Metrics:      a.metrics,
		Logs:         logs,
		Logger:       logs.Component("server"),
	})

	log.Info().
		Str("llm", provider.Name()).
		Str("tts", synth.Name()).
		Str("emotion", classifier.Name()).
		Bool("cache", cfg.Cache.Enabled).
		Bool("journal", a.journal != nil).
		Msg("Components ready")

	return a, nil
}

func newClassifier(cfg config.EmotionConfig, logger zerolog.Logger) emotion.Classifier {
	rules := emotion.NewRuleClassifier()
	if cfg.Provider != "remote" {
		return rules
	}
	return emotion.NewRemoteClassifier(emotion.RemoteConfig{
		URL:     cfg.URL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	}, rules, logger)
}

// run serves until ctx is cancelled or the listener fails.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Start(gctx)
	})

	g.Go(func() error {
		a.scheduler.Start()
		<-gctx.Done()
		a.scheduler.Stop()
		return nil
	})

	return g.Wait()
}

// close releases resources after run returns.
func (a *app) close() {
	a.orch.Close()
	if a.journal != nil {
		a.journal.Close()
	}
}

func serve(ctx context.Context, loader *config.Loader, cfg *config.Config) error {
	logs, err := logging.New(logging.Config{
		Dir:        cfg.Logging.Dir,
		Level:      cfg.Logging.Level,
		MaxHistory: cfg.Logging.MaxHistory,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logs.Close()

	log := logs.Component("main")
	if used := loader.FileUsed(); used != "" {
		log.Info().Str("file", used).Msg("Loaded config")
	}

	a, err := buildApp(cfg, logs)
	if err != nil {
		return err
	}
	defer a.close()

	loader.Watch(log, func(next *config.Config) {
		if err := logs.SetLevel(next.Logging.Level); err != nil {
			log.Warn().Err(err).Msg("Keeping previous log level")
			return
		}
		log.Info().Str("level", next.Logging.Level).Msg("Log level updated")
	})

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return err
	}
	return nil
}
