// Command arawn runs the conversation-turn runtime server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dylanbstorey/arawn/internal/agent"
	"github.com/dylanbstorey/arawn/internal/config"
	"github.com/dylanbstorey/arawn/internal/hooks"
	"github.com/dylanbstorey/arawn/internal/indexer"
	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/internal/memory"
	"github.com/dylanbstorey/arawn/internal/observability"
	"github.com/dylanbstorey/arawn/internal/server"
	"github.com/dylanbstorey/arawn/internal/subagent"
	"github.com/dylanbstorey/arawn/internal/subscription"
	"github.com/dylanbstorey/arawn/internal/tools"
	"github.com/dylanbstorey/arawn/internal/workstream"
)

func main() {
	root := &cobra.Command{
		Use:   "arawn",
		Short: "arawn is a long-running LLM agent runtime",
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var token string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if token != "" {
				cfg.Server.Token = token
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&token, "token", "", "explicit auth token (overrides server-token file)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	observability.SetupLogging(cfg.Logging.Level, cfg.Logging.Format)
	metrics, registry := observability.NewMetrics()

	basePath := cfg.Workstream.BasePath
	if basePath == "" {
		basePath = workstream.DefaultBasePath()
	}

	// Directory layout and session persistence.
	dirs := workstream.NewDirectoryManager(basePath)
	if _, err := dirs.CreateWorkstream(workstream.ScratchWorkstream); err != nil {
		return fmt.Errorf("failed to initialize scratch workstream: %w", err)
	}
	store, err := workstream.NewSQLiteManager(filepath.Join(basePath, "sessions.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	// LLM backend.
	chatModel, err := cfg.ProfileModel("chat")
	if err != nil {
		return err
	}
	apiKeyEnv := cfg.LLM.APIKeyEnv
	if apiKeyEnv == "" {
		apiKeyEnv = "ANTHROPIC_API_KEY"
	}
	backend, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
		APIKey:       os.Getenv(apiKeyEnv),
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: chatModel.ID,
	})
	if err != nil {
		return err
	}

	// Hooks.
	dispatcher := hooks.NewDispatcher()

	// Memory store and embedder. The embedder collaborator is external; the
	// runtime starts without one and recall silently skips.
	var memStore memory.Store
	var embedder memory.Embedder
	if cfg.Memory.Enabled {
		path := cfg.Memory.Path
		if path == "" {
			path = filepath.Join(basePath, "memory.db")
		}
		graphPath := cfg.Memory.GraphPath
		if graphPath == "" {
			graphPath = filepath.Join(basePath, "memory.graph.db")
		}
		sqlStore, err := memory.NewSQLiteStore(memory.SQLiteConfig{Path: path, GraphPath: graphPath})
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		memStore = sqlStore
	}

	// Tool registry with built-ins.
	registryTools := tools.NewRegistry()
	registryTools.Register(tools.NewShellTool())
	registryTools.Register(&tools.FileReadTool{})
	registryTools.Register(&tools.FileWriteTool{})
	registryTools.Register(&tools.FileListTool{})
	registryTools.Register(tools.NewWebFetchTool())
	registryTools.Register(&tools.ThinkTool{})
	registryTools.Register(&tools.GrepTool{})
	registryTools.Register(&tools.GlobTool{})
	registryTools.Register(tools.NewWorkstreamTool(dirs))
	if memStore != nil && embedder != nil {
		registryTools.Register(tools.NewMemorySearchTool(memStore, embedder))
		registryTools.Register(tools.NewMemoryStoreTool(memStore, embedder))
	}
	for name, override := range cfg.Tools.Output {
		registryTools.SetOutputConfig(name, tools.OutputConfigWithMaxSize(override.MaxSizeBytes))
	}

	// Turn engine.
	engineCfg := agent.Config{
		Model:            chatModel.ID,
		MaxIterations:    cfg.Session.MaxIterations,
		MaxTokens:        cfg.Session.MaxTokens,
		MaxContextTokens: chatModel.MaxContextTokens,
	}
	engine := agent.New(backend, registryTools, engineCfg).WithHooks(dispatcher)
	if cfg.Logging.InteractionLog != "" {
		interactions, err := llm.NewInteractionLogger(cfg.Logging.InteractionLog)
		if err != nil {
			return err
		}
		defer interactions.Close()
		engine = engine.WithInteractionLogger(interactions)
	}
	if memStore != nil && embedder != nil {
		engine = engine.WithMemory(memStore, embedder, agent.RecallConfig{
			Enabled:   cfg.Recall.Enabled,
			Limit:     cfg.Recall.Limit,
			Threshold: cfg.Recall.Threshold,
		})
	}

	// Subagent spawner, fed by subscription sync.
	spawner := subagent.NewSpawner(registryTools, backend).
		WithCompaction(cfg.Compaction).
		WithHooks(dispatcher)
	if len(cfg.Subscriptions) > 0 {
		subs := make([]subscription.Subscription, 0, len(cfg.Subscriptions))
		for _, s := range cfg.Subscriptions {
			subs = append(subs, subscription.Subscription{
				ID:      s.ID,
				URL:     s.URL,
				Ref:     s.Ref,
				Timeout: time.Duration(s.TimeoutSecs) * time.Second,
			})
		}
		subManager := subscription.NewManager(filepath.Join(basePath, "subscriptions"), subs)
		for _, result := range subManager.SyncAll(ctx) {
			if !result.IsSuccess() {
				slog.Warn("subscription sync failed", "id", result.ID, "error", result.Error)
			}
		}
		agentConfigs, err := subManager.LoadAgentConfigs()
		if err != nil {
			slog.Warn("failed to load agent configs", "error", err)
		}
		for _, ac := range agentConfigs {
			spawner.RegisterAgent(ac)
		}
	}
	registryTools.Register(subagent.NewDelegateTool(spawner))

	// Session indexer.
	var sessionIndexer *indexer.SessionIndexer
	if cfg.Indexing.Enabled && memStore != nil {
		indexModel, err := cfg.ProfileModel(cfg.Indexing.Profile)
		if err != nil {
			return err
		}
		sessionIndexer = indexer.New(backend, memStore, embedder, indexer.Config{
			Model:                  indexModel.ID,
			NERConfidenceThreshold: cfg.Indexing.NERConfidenceThreshold,
		})
	}

	state := server.NewAppState(&server.SharedServices{
		Engine:  engine,
		Config:  cfg,
		Dirs:    dirs,
		Store:   store,
		Indexer: sessionIndexer,
		Hooks:   dispatcher,
		Spawner: spawner,
	})
	state.Runtime.Cache.StartCleanup(ctx, time.Duration(cfg.Session.CleanupIntervalSecs)*time.Second)

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.CachedSessions.Set(float64(state.Runtime.Cache.Len()))
			}
		}
	}()

	authToken, err := server.ResolveAuthToken(basePath, cfg.Server.Bind, cfg.Server.Token)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", server.Handler(state, authToken))
	mux.Handle("/metrics", observability.MetricsHandler(registry))

	httpServer := &http.Server{Addr: cfg.Server.Bind, Handler: mux}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		// Bounded grace for in-flight streams, then hard abort.
		graceCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(graceCtx)
	}()

	slog.Info("arawn server listening", "bind", cfg.Server.Bind, "auth", authToken != "")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
