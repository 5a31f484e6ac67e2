package main

// Package main is the entry point for the GuardianAI analysis server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and GUARDIAN_* environment variables
//   - Wire the AI client, analyzers, record store, emitter, and worker pool
//   - Start the HTTP/WebSocket surface and the optional broker intake
//   - Implement graceful shutdown with context cancellation
//
// Exit codes:
//   0  clean shutdown
//   1  configuration error
//   2  a required dependency failed its startup probe
//   3  unrecoverable internal error

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/RONNYKD/GUARDIAN-AI/internal/analysis/anomaly"
	"github.com/RONNYKD/GUARDIAN-AI/internal/analysis/quality"
	"github.com/RONNYKD/GUARDIAN-AI/internal/analysis/threat"
	"github.com/RONNYKD/GUARDIAN-AI/internal/config"
	"github.com/RONNYKD/GUARDIAN-AI/internal/emit"
	"github.com/RONNYKD/GUARDIAN-AI/internal/incident"
	"github.com/RONNYKD/GUARDIAN-AI/internal/ingest"
	"github.com/RONNYKD/GUARDIAN-AI/internal/llm"
	"github.com/RONNYKD/GUARDIAN-AI/internal/llm/gemini"
	"github.com/RONNYKD/GUARDIAN-AI/internal/logging"
	"github.com/RONNYKD/GUARDIAN-AI/internal/pipeline"
	"github.com/RONNYKD/GUARDIAN-AI/internal/server"
	"github.com/RONNYKD/GUARDIAN-AI/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()

	configPath := os.Getenv("GUARDIAN_CONFIG")
	if configPath == "" {
		configPath = "/etc/guardianai/config.yaml"
	}

	manager := config.NewManager(configPath)
	if err := manager.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if err := manager.Validate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}
	cfg := manager.Get(ctx)

	logger, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		return 1
	}
	defer logger.Sync()

	client, err := newAIClient(cfg)
	if err != nil {
		logger.Error("ai client initialization failed", zap.Error(err))
		return 1
	}
	if cfg.AI.RequireOnStartup {
		if prober, ok := client.(llm.Prober); ok {
			if err := prober.Probe(ctx); err != nil {
				logger.Error("ai provider probe failed", zap.Error(err))
				return 2
			}
			logger.Info("ai provider probe succeeded", zap.String("provider", cfg.AI.Provider))
		}
	}

	sink, err := newSink(cfg, logger)
	if err != nil {
		logger.Error("emitter sink initialization failed", zap.Error(err))
		return 1
	}
	emitter := emit.NewEmitter(cfg.Emitter.Namespace, sink, logger)

	sqlStore, err := store.NewSQLite(cfg.Store.DatabasePath)
	if err != nil {
		logger.Error("record store initialization failed",
			zap.String("path", cfg.Store.DatabasePath), zap.Error(err))
		return 2
	}
	st := store.NewRetrying(sqlStore, logger, emitter.StoreWriteFailure)
	defer st.Close()

	p := pipeline.New(cfg, logger,
		quality.New(client, cfg, logger),
		threat.New(client, cfg, logger),
		anomaly.New(cfg, logger),
		incident.New(cfg, logger),
		st,
		emitter,
	)

	srv, err := server.NewServer(cfg, logger, p)
	if err != nil {
		logger.Error("server initialization failed", zap.Error(err))
		return 3
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.Start(runCtx)
	if err := srv.Start(); err != nil {
		logger.Error("server start failed", zap.Error(err))
		return 3
	}

	var intake *ingest.RedisIntake
	if cfg.Intake.RedisAddr != "" {
		intake = ingest.NewRedisIntake(cfg, logger, p)
		if err := intake.Start(runCtx); err != nil {
			logger.Error("broker intake start failed", zap.Error(err))
			return 2
		}
	}

	// Threshold changes on disk need a restart to take effect; the watch
	// only surfaces a hint.
	go func() {
		for range manager.Watch(runCtx) {
			logger.Info("configuration file changed on disk, restart to apply")
		}
	}()

	logger.Info("guardianai server started",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("emitter_sink", cfg.Emitter.Sink),
		zap.Bool("broker_intake", intake != nil))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	if intake != nil {
		if err := intake.Stop(); err != nil {
			logger.Warn("broker intake stop", zap.Error(err))
		}
	}
	if err := srv.Stop(); err != nil {
		logger.Warn("server stop", zap.Error(err))
	}
	cancel()
	p.Stop()

	logger.Info("shutdown complete")
	return 0
}

// newAIClient picks the classifier backend. The stub provider answers
// every prompt with a fixed benign verdict and exists for local runs
// without an API key.
func newAIClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.AI.Provider {
	case "gemini":
		return gemini.NewClient(cfg.AI.APIKey, cfg.AI.ModelName)
	case "stub":
		return llm.NewStubClient(
			`{"coherence":0.8,"relevance":0.8,"completeness":0.8,"explanation":"stub provider",` +
				`"kind":"none","confidence":0.0,"severity":"low","indicators":[]}`,
		), nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}
}

func newSink(cfg *config.Config, logger *zap.Logger) (emit.Sink, error) {
	switch cfg.Emitter.Sink {
	case "datadog":
		return emit.NewDatadogSink(cfg.Emitter.DatadogAPIKey, cfg.Emitter.DatadogSite)
	case "log":
		return emit.NewLogSink(logger), nil
	default:
		return nil, fmt.Errorf("unknown emitter sink %q", cfg.Emitter.Sink)
	}
}
