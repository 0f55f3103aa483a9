package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/agent"
	"github.com/nextlevelbuilder/hivemind/internal/archive"
	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/bootstrap"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/content"
	"github.com/nextlevelbuilder/hivemind/internal/conversation"
	"github.com/nextlevelbuilder/hivemind/internal/gateway"
	"github.com/nextlevelbuilder/hivemind/internal/llm"
	"github.com/nextlevelbuilder/hivemind/internal/org"
	"github.com/nextlevelbuilder/hivemind/internal/sandbox"
	"github.com/nextlevelbuilder/hivemind/internal/schedule"
	"github.com/nextlevelbuilder/hivemind/internal/tools"
	"github.com/nextlevelbuilder/hivemind/internal/tracing"
	"github.com/nextlevelbuilder/hivemind/internal/workspace"
	"github.com/nextlevelbuilder/hivemind/pkg/protocol"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))
	logger := slog.Default()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := tracing.Setup(context.Background(), "hivemind", logger)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	arc, err := archive.Open(cfg.ArchivePath(), logger)
	if err != nil {
		logger.Error("failed to open message archive", "error", err)
		os.Exit(1)
	}
	defer arc.Close()

	hub := bus.NewEventHub()
	msgBus := bus.New(arc, logger)

	// The local model is just another endpoint under a reserved id.
	// Enabled without any base URL stays not-ready rather than routing
	// local calls to the default cloud service.
	if cfg.LocalLLM.Enabled {
		switch {
		case cfg.LocalLLM.BaseURL != "":
			if _, exists := cfg.Services.Endpoints[tools.LocalServiceID]; !exists {
				cfg.Services.Endpoints[tools.LocalServiceID] = config.ServiceConfig{
					BaseURL:       cfg.LocalLLM.BaseURL,
					Model:         cfg.LocalLLM.Model,
					ContextWindow: 32000,
				}
			}
		case cfg.Services.Endpoints[tools.LocalServiceID].BaseURL != "":
			cfg.LocalLLM.BaseURL = cfg.Services.Endpoints[tools.LocalServiceID].BaseURL
		default:
			logger.Warn("localllm enabled without a base url; localllm_chat will report not ready")
		}
	}
	client := llm.NewClient(cfg.Services, cfg.Runtime.LLMConcurrency, hub, logger)

	conv, err := conversation.NewManager(conversation.Options{
		Dir:              cfg.ConversationsDir(),
		Summarizer:       agent.NewSummarizer(client),
		CompressionRatio: cfg.Runtime.CompressionRatio,
		RetainedTurns:    cfg.Runtime.RetainedTurns,
		Logger:           logger,
	})
	if err != nil {
		logger.Error("failed to open conversation store", "error", err)
		os.Exit(1)
	}
	ws, err := workspace.NewManager(cfg.WorkspacesDir(), logger)
	if err != nil {
		logger.Error("failed to open workspace root", "error", err)
		os.Exit(1)
	}
	arts, err := artifacts.NewStore(cfg.ArtifactsDir(), logger)
	if err != nil {
		logger.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}
	store, err := org.NewStore(cfg.OrgDir(), logger)
	if err != nil {
		logger.Error("failed to open org store", "error", err)
		os.Exit(1)
	}

	mgr := agent.NewManager(store, msgBus, conv, ws, client, hub, logger)

	if _, err := bootstrap.Seed(store, msgBus, logger); err != nil {
		logger.Error("failed to seed organisation", "error", err)
		os.Exit(1)
	}

	runner := sandbox.NewRunner(sandbox.Options{
		Timeout:       time.Duration(cfg.Sandbox.TimeoutSec) * time.Second,
		MaxCanvasEdge: cfg.Sandbox.MaxCanvasEdge,
		Logger:        logger,
	})

	registry := tools.NewRegistry(logger)
	tools.RegisterBuiltins(registry, tools.Deps{
		Org:        store,
		Bus:        msgBus,
		Artifacts:  arts,
		Workspaces: ws,
		Sandbox:    runner,
		Spawner:    mgr,
		Terminator: mgr,
		Reporter:   conv,
		LocalLLM:   cfg.LocalLLM,
		LocalChat:  client,
	})
	defer registry.Shutdown(context.Background())

	builder := agent.NewContextBuilder(store, conv)
	router := content.NewRouter(arts, logger)
	handler := agent.NewHandler(mgr, conv, client, registry, builder, router, store, msgBus, hub, cfg.Runtime.MaxToolRounds, logger)
	processor := agent.NewProcessor(msgBus, store, mgr, handler, cfg.Runtime.MaxConcurrentAgents, logger)
	scheduler := schedule.NewRunner(msgBus, hub, cfg.Schedules, logger)
	server := gateway.NewServer(cfg, msgBus, hub, store, arc, arts, mgr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("graceful shutdown initiated", "signal", sig)
		hub.Broadcast(bus.Event{Name: protocol.EventShutdown})
		cancel()

		grace := time.Duration(cfg.Runtime.ShutdownGraceSec) * time.Second
		select {
		case <-sigCh:
			logger.Warn("second signal, forcing exit")
			os.Exit(130)
		case <-time.After(grace):
			logger.Error("shutdown grace period expired, forcing exit")
			os.Exit(1)
		}
	}()

	go processor.Run(ctx)
	go scheduler.Run(ctx)
	go conv.Run(ctx, time.Duration(cfg.Runtime.SnapshotIntervalSec)*time.Second)
	go server.PumpUserMessages(ctx)

	logger.Info("hivemind starting",
		"version", Version,
		"data_dir", cfg.DataDir,
		"agents", len(store.ListAgents()),
		"services", len(cfg.Services.Endpoints),
	)

	if err := server.Start(ctx); err != nil {
		logger.Error("gateway error", "error", err)
		os.Exit(1)
	}

	// Final flush so a clean shutdown loses no conversation state.
	conv.SnapshotAll()
	if err := shutdownTracing(context.Background()); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}
