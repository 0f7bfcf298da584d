package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexvoice/internal/actions"
	"github.com/normanking/cortexvoice/internal/command"
	"github.com/normanking/cortexvoice/internal/config"
	"github.com/normanking/cortexvoice/internal/devices"
	"github.com/normanking/cortexvoice/internal/domain"
	"github.com/normanking/cortexvoice/internal/history"
	"github.com/normanking/cortexvoice/internal/llm"
	"github.com/normanking/cortexvoice/internal/scheduler"
	"github.com/normanking/cortexvoice/internal/search"
	"github.com/normanking/cortexvoice/internal/server"
	"github.com/normanking/cortexvoice/internal/session"
	"github.com/normanking/cortexvoice/internal/speech"
	"github.com/normanking/cortexvoice/internal/stt"
	"github.com/normanking/cortexvoice/internal/tts"
	"github.com/normanking/cortexvoice/internal/vision"
	"github.com/normanking/cortexvoice/internal/workspace"
)

const actionTimeout = 10 * time.Second

// healthFunc adapts a ping-style function to a health check.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket voice server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.Zerolog()
	logger.Info().Str("version", version).Str("log", log.LogPath()).Msg("cortexvoice starting")

	disabled, err := command.ParseKinds(cfg.Commands.Disabled)
	if err != nil {
		return err
	}

	// Generation and classification share one Ollama client.
	ollama := newOllama(cfg)
	if !ollama.Available(ctx) {
		logger.Warn().Str("endpoint", cfg.LLM.Endpoint).Msg("Ollama not reachable; generation will fail until it is")
	}
	var primary command.Classifier
	if cfg.Classifier.Enabled {
		primary = newClassifier(ollama, cfg, disabled, logger)
	}
	resolver := command.NewResolver(primary, command.NewCascade(), disabled, logger)

	router, err := domain.NewRouter(cfg.Router.Domains, domain.WithThreshold(cfg.Router.Threshold))
	if err != nil {
		return fmt.Errorf("domain router: %w", err)
	}

	sttRouter := stt.NewRouter(logger, newTranscriber(cfg, cfg.STT.Provider, logger), newTranscriber(cfg, cfg.STT.Fallback, logger))
	sttRouter.Refresh(ctx)
	ttsRouter := tts.NewRouter(logger, newSynthesizer(cfg, cfg.TTS.Provider, logger), newSynthesizer(cfg, cfg.TTS.Fallback, logger))

	store, err := workspace.NewSQLiteStore(cfg.Workspace.DBPath)
	if err != nil {
		return fmt.Errorf("workspace store: %w", err)
	}
	defer store.Close()

	camera := vision.NewClient(vision.Config{
		Endpoint: cfg.Vision.Endpoint,
		Timeout:  cfg.Vision.Timeout,
		Enabled:  cfg.Vision.Enabled,
	}, logger)

	actionDeps := actions.Deps{
		Workspace: store,
		Search:    newSearcher(cfg, logger),
		Vision:    camera,
	}
	checks := map[string]healthFunc{
		"llm": func(ctx context.Context) error {
			if !ollama.Available(ctx) {
				return errors.New("ollama unavailable")
			}
			return nil
		},
		"stt": sttRouter.Health,
		"tts": ttsRouter.Health,
	}
	if cfg.Vision.Enabled {
		checks["vision"] = camera.Health
	}
	if cfg.Devices.Enabled {
		home := devices.NewClient(cfg.Devices.URL, cfg.Devices.Token, logger)
		actionDeps.Devices = home
		checks["devices"] = home.Ping
	}
	dispatcher := actions.NewDispatcher(actionDeps, actionTimeout, logger)

	var recorder history.Recorder = history.Nop{}
	if cfg.History.Enabled {
		rec, err := history.NewRedisRecorder(ctx, history.RedisConfig{
			Addr:     cfg.History.RedisAddr,
			Password: cfg.History.Password,
			DB:       cfg.History.DB,
			Stream:   cfg.History.Stream,
			MaxLen:   cfg.History.MaxLen,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Turn history disabled")
		} else {
			recorder = rec
		}
	}
	defer recorder.Close()

	sched, err := newScheduler(cfg, sttRouter, checks, store, logger)
	if err != nil {
		return err
	}

	serverChecks := make(map[string]server.HealthChecker, len(checks))
	for name, c := range checks {
		serverChecks[name] = c
	}

	srv := server.New(server.Options{
		Config:  cfg.Server,
		Session: session.ConfigFrom(cfg, disabled),
		Deps: session.Deps{
			Generator:   ollama,
			Synthesizer: ttsRouter,
			Transcriber: sttRouter,
			Resolver:    resolver,
			Dispatcher:  dispatcher,
			Router:      router,
			Vision:      camera,
			History:     recorder,
			Filter:      speech.NewTranscriptFilter(cfg.STT.FillerWords),
		},
		Logs:      log,
		Checks:    serverChecks,
		Scheduler: sched,
		Version:   version,
		Logger:    logger,
	})

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	logger.Info().Msg("cortexvoice stopped")
	return nil
}

func newOllama(cfg *config.Config) *llm.OllamaProvider {
	return llm.NewOllamaProvider(&llm.ProviderConfig{
		Endpoint:    cfg.LLM.Endpoint,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, llm.WithTimeoutConfig(llm.TimeoutConfig{
		ConnectionTimeout: time.Duration(cfg.LLM.ConnectionTimeoutSec) * time.Second,
		FirstTokenTimeout: time.Duration(cfg.LLM.FirstTokenTimeoutSec) * time.Second,
		StreamIdleTimeout: time.Duration(cfg.LLM.StreamIdleTimeoutSec) * time.Second,
	}))
}

// newTranscriber returns nil for an empty or unknown name; the router
// treats a nil fallback as none.
func newTranscriber(cfg *config.Config, name string, logger zerolog.Logger) stt.Provider {
	switch name {
	case "groq":
		c := stt.DefaultGroqConfig()
		c.APIKey = cfg.STT.GroqAPIKey
		c.Language = cfg.STT.Language
		return stt.NewGroqProvider(logger, c)
	case "openai":
		c := stt.DefaultOpenAIConfig()
		c.APIKey = cfg.STT.OpenAIAPIKey
		c.Language = cfg.STT.Language
		return stt.NewOpenAIProvider(logger, c)
	}
	return nil
}

func newSynthesizer(cfg *config.Config, name string, logger zerolog.Logger) tts.Provider {
	switch name {
	case "openai":
		c := tts.DefaultOpenAIConfig()
		c.APIKey = cfg.TTS.OpenAIAPIKey
		c.Endpoint = cfg.TTS.OpenAIEndpoint
		c.DefaultVoice = cfg.TTS.Voice
		c.Speed = cfg.TTS.Speed
		return tts.NewOpenAIProvider(logger, c)
	case "elevenlabs":
		c := tts.DefaultElevenLabsConfig()
		c.APIKey = cfg.TTS.ElevenLabsAPIKey
		c.Stability = cfg.TTS.Stability
		c.Similarity = cfg.TTS.Similarity
		return tts.NewElevenLabsProvider(logger, c)
	}
	return nil
}

// newSearcher prefers Tavily and falls back to the DuckDuckGo HTML page.
func newSearcher(cfg *config.Config, logger zerolog.Logger) search.Searcher {
	var searchers []search.Searcher
	if cfg.Search.TavilyAPIKey != "" {
		searchers = append(searchers, search.NewTavily(cfg.Search.TavilyAPIKey, search.WithMaxResults(cfg.Search.MaxResults)))
	}
	if cfg.Search.HTMLFallback {
		searchers = append(searchers, search.NewDuckDuckGo(search.WithMaxResults(cfg.Search.MaxResults)))
	}
	return search.NewFallback(logger, searchers...)
}

func newScheduler(cfg *config.Config, refresher scheduler.Refresher, checks map[string]healthFunc, store *workspace.SQLiteStore, logger zerolog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(logger, time.Minute)

	if cfg.Scheduler.HealthCron != "" {
		jobChecks := make(map[string]scheduler.HealthChecker, len(checks))
		for name, c := range checks {
			jobChecks[name] = c
		}
		if err := sched.Add("health", cfg.Scheduler.HealthCron, scheduler.HealthJob(refresher, jobChecks, logger)); err != nil {
			return nil, err
		}
	}
	if cfg.Scheduler.PruneCron != "" && cfg.Workspace.RetentionDays > 0 {
		retention := time.Duration(cfg.Workspace.RetentionDays) * 24 * time.Hour
		if err := sched.Add("prune", cfg.Scheduler.PruneCron, scheduler.PruneJob(store, retention, nil, logger)); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
