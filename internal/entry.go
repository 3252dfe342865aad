// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/lifeagent/internal/agent"
	"github.com/starford/lifeagent/internal/analyzer"
	"github.com/starford/lifeagent/internal/api"
	"github.com/starford/lifeagent/internal/blockservice"
	"github.com/starford/lifeagent/internal/embedding"
	"github.com/starford/lifeagent/internal/fill"
	"github.com/starford/lifeagent/internal/index"
	"github.com/starford/lifeagent/internal/llm"
	"github.com/starford/lifeagent/internal/mcpserver"
	"github.com/starford/lifeagent/internal/retrieval"
	"github.com/starford/lifeagent/internal/sse"
	"github.com/starford/lifeagent/internal/storage"
	"github.com/starford/lifeagent/internal/templates"
	"github.com/starford/lifeagent/internal/tools"
)

const defaultVersion = "dev"

// services is the wired object graph shared by every runtime.
type services struct {
	db        *index.DB
	blocks    *blockservice.Service
	search    *retrieval.Engine
	fill      *fill.Engine
	templates *templates.Service
	tplStore  *storage.FS
	registry  *tools.Registry
	chat      *agent.Manager
}

func (s *services) Close() error {
	return s.db.Close()
}

func newApplication(opts []Option) (*application, *slog.Logger, error) {
	app := &application{logOutput: os.Stdout, version: defaultVersion}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return app, logger, nil
}

func newEmbedder(cfg EmbeddingConfig, logger *slog.Logger) (*embedding.Provider, error) {
	var backend embedding.Backend
	switch cfg.Provider {
	case EmbeddingOpenAI:
		b, err := embedding.NewOpenAI(embedding.OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = embedding.NewHash(cfg.Dimension)
	}
	return embedding.NewProvider(backend, cfg.ProviderConfig(), logger)
}

// build wires storage, embedding, retrieval, fill, templates, tools and the
// agent. onEvent, if non-nil, receives every committed block change.
func build(ctx context.Context, cfg *Config, logger *slog.Logger, onEvent blockservice.EventCallback) (*services, error) {
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	svc := &services{db: db}
	fail := func(err error) (*services, error) {
		db.Close()
		return nil, err
	}

	emb, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return fail(fmt.Errorf("init embedding: %w", err))
	}
	model, err := llm.New(cfg.LLM.ModelConfig())
	if err != nil {
		return fail(fmt.Errorf("init llm: %w", err))
	}
	hasModel := cfg.LLM.Provider != llm.ProviderNone

	blockOpts := []blockservice.Option{blockservice.WithLogger(logger)}
	if onEvent != nil {
		blockOpts = append(blockOpts, blockservice.WithEventCallback(onEvent))
	}
	svc.blocks = blockservice.NewService(db, emb, blockOpts...)
	svc.search = retrieval.NewEngine(db, emb, cfg.Search.RetrievalConfig(), logger)

	heuristic := analyzer.NewHeuristic(time.Now)
	var an fill.Analyzer = heuristic
	fillOpts := []fill.Option{fill.WithLogger(logger)}
	if hasModel {
		an = analyzer.NewModel(model, heuristic, logger)
		fillOpts = append(fillOpts, fill.WithClassifier(fill.NewModelClassifier(model)))
	}
	svc.fill = fill.NewEngine(svc.blocks, svc.search, an, fillOpts...)

	if err := os.MkdirAll(cfg.Templates.Path, 0o755); err != nil {
		return fail(fmt.Errorf("create templates dir: %w", err))
	}
	svc.tplStore, err = storage.NewFS(cfg.Templates.Path, ".yaml", ".yml")
	if err != nil {
		return fail(fmt.Errorf("init template storage: %w", err))
	}
	svc.templates = templates.NewService(svc.tplStore, svc.blocks, templates.WithLogger(logger))
	if err := svc.templates.Sync(); err != nil {
		logger.Warn("initial template sync failed", slog.String("error", err.Error()))
	}
	if _, err := svc.templates.SeedDefaults(ctx); err != nil {
		logger.Warn("seeding default templates failed", slog.String("error", err.Error()))
	}

	svc.registry = tools.NewRegistry(logger)
	tools.RegisterAll(svc.registry, tools.Deps{
		Blocks:    svc.blocks,
		Search:    svc.search,
		Templates: svc.templates,
		Fill:      svc.fill,
		Now:       time.Now,
	})

	svc.chat, err = agent.NewManager(model, svc.registry, svc.blocks, cfg.Agent.AgentSettings(),
		cfg.Agent.MaxConversations, logger)
	if err != nil {
		return fail(err)
	}
	return svc, nil
}

func healthOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("templates_path", cfg.Templates.Path),
		slog.String("embedding_provider", cfg.Embedding.Provider),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc, err := build(ctx, cfg, logger, broker.PublishBlockEvent)
	if err != nil {
		return err
	}
	defer svc.Close()

	apiRouter := api.NewRouter(api.Deps{
		Blocks:    svc.blocks,
		Search:    svc.search,
		Fill:      svc.fill,
		Templates: svc.templates,
		Chat:      svc.chat,
	}, cfg.Auth.AuthEnabled(), cfg.Auth.Token, cfg.Agent.DefaultUserID, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", healthOK)
	r.Get("/health/ready", healthOK)

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Reload templates edited on disk.
	if cfg.Templates.Watch {
		g.Go(func() error {
			if err := svc.templates.Watch(gCtx, svc.tplStore.Root(), svc.tplStore.Matches); err != nil {
				logger.Warn("template watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher exits with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the tool registry over MCP on stdin/stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}

	svc, err := build(ctx, app.config, logger, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := mcpserver.New(svc.registry, app.config.Agent.DefaultUserID, app.version, logger)
	logger.Info("MCP server starting on stdio", slog.Int("tools", len(srv.ToolNames())))
	return srv.ServeStdio()
}

// RunReconcile repairs stale or missing vector records and removes orphans.
func RunReconcile(ctx context.Context, opts ...Option) (*blockservice.ReconcileReport, error) {
	app, logger, err := newApplication(opts)
	if err != nil {
		return nil, err
	}

	svc, err := build(ctx, app.config, logger, nil)
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	report, err := svc.blocks.Reconcile(ctx)
	if err != nil {
		return report, fmt.Errorf("reconcile: %w", err)
	}
	logger.Info("Reconcile finished",
		slog.Int("stale", report.Stale),
		slog.Int("repaired", report.Repaired),
		slog.Int("failed", report.Failed),
		slog.Int("purged", report.Purged))
	return report, nil
}
