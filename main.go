package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chronicle-ai/chronicle-engine/pkg/config"
	"github.com/chronicle-ai/chronicle-engine/pkg/database"
	"github.com/chronicle-ai/chronicle-engine/pkg/handlers"
	"github.com/chronicle-ai/chronicle-engine/pkg/llm"
	"github.com/chronicle-ai/chronicle-engine/pkg/logging"
	appmcp "github.com/chronicle-ai/chronicle-engine/pkg/mcp"
	"github.com/chronicle-ai/chronicle-engine/pkg/mcp/tools"
	"github.com/chronicle-ai/chronicle-engine/pkg/middleware"
	"github.com/chronicle-ai/chronicle-engine/pkg/repositories"
	"github.com/chronicle-ai/chronicle-engine/pkg/services"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

const (
	migrationsPath  = "migrations"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Starting chronicle-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URI())),
		zap.String("llm_endpoint", cfg.LLM.Endpoint),
		zap.String("llm_model", cfg.LLM.Model))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Engine terminated", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Local store schema first; tenant stores are migrated lazily by the
	// registry when first scoped.
	if err := migrateLocalStore(cfg, logger); err != nil {
		return err
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URI(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("connecting to local store: %w", err)
	}
	defer db.Close()

	stores := database.NewStoreRegistry(db, cfg.Database.URI(), &cfg.Stores, migrationsPath, logger)
	defer stores.Close()

	factory := llm.NewClientFactory(
		llm.Config{
			Endpoint:       cfg.LLM.Endpoint,
			Model:          cfg.LLM.Model,
			APIKey:         cfg.LLM.APIKey,
			EmbeddingModel: cfg.LLM.EmbeddingModel,
			MaxTokens:      cfg.LLM.MaxTokens,
		},
		llm.CriticConfig{
			APIKey:    cfg.Critics.APIKey,
			Models:    cfg.Critics.Models,
			MaxTokens: cfg.LLM.MaxTokens,
		},
		logger,
	)
	chatClient, err := factory.CreateChatClient()
	if err != nil {
		return fmt.Errorf("creating chat client: %w", err)
	}
	embeddingClient, err := factory.CreateEmbeddingClient()
	if err != nil {
		return fmt.Errorf("creating embedding client: %w", err)
	}
	embed := services.EmbedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return embeddingClient.CreateEmbedding(ctx, text, cfg.LLM.EmbeddingModel)
	})

	// Critics are optional: without an Anthropic key the optimizer still
	// detects issues, but nothing reaches the confidence threshold.
	var critics map[string]llm.Generator
	if cfg.Critics.APIKey != "" {
		critics, err = factory.CreateCriticClients()
		if err != nil {
			return fmt.Errorf("creating critic clients: %w", err)
		}
	} else {
		logger.Warn("No critic API key configured; optimizer issues will not be validated")
	}

	contentRepo := repositories.NewContentRepository()
	sourceRepo := repositories.NewSourceRepository()
	blockRepo := repositories.NewKnowledgeBlockRepository()
	blockMappingRepo := repositories.NewBlockSourceMappingRepository()
	summaryRepo := repositories.NewDocumentSummaryRepository()
	blueprintRepo := repositories.NewBlueprintRepository()
	entityRepo := repositories.NewEntityRepository()
	relRepo := repositories.NewRelationshipRepository()
	graphRepo := repositories.NewGraphRepository()
	graphMappingRepo := repositories.NewGraphMappingRepository()
	statusRepo := repositories.NewBuildStatusRepository()

	splitter := services.NewDocumentSplitter(chatClient, logger)
	knowledgeSvc := services.NewKnowledgeService(
		contentRepo, sourceRepo, blockRepo, blockMappingRepo,
		splitter, chatClient, embed, cfg.Knowledge.PDFConverter, logger)
	uploadSvc := services.NewUploadService(knowledgeSvc, statusRepo, stores, cfg.Knowledge.UploadDir, logger)

	workerPool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.Knowledge.BuildWorkers}, logger)
	qualityStandard := services.LoadQualityStandard(cfg.Knowledge.QualityStandardPath, logger)

	mapSvc := services.NewCognitiveMapService(summaryRepo, contentRepo, chatClient, workerPool, logger)
	blueprintSvc := services.NewBlueprintService(blueprintRepo, chatClient, logger)
	materializer := services.NewMaterializerService(entityRepo, relRepo, graphRepo, embed, logger)
	querySvc := services.NewGraphQueryService(entityRepo, relRepo, blockRepo, graphMappingRepo, embed, logger)
	enhancer := services.NewEnhancementService(
		sourceRepo, contentRepo, summaryRepo, blueprintRepo,
		entityRepo, relRepo, graphRepo,
		querySvc, chatClient, embed, qualityStandard, logger)
	builder := services.NewGraphBuilderService(
		mapSvc, blueprintSvc, materializer, enhancer,
		contentRepo, graphMappingRepo, chatClient, qualityStandard, logger)

	scheduler := services.NewBuildScheduler(statusRepo, sourceRepo, builder, stores, &cfg.Scheduler, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	memorySvc := services.NewMemoryService(uploadSvc, querySvc, stores, logger)

	runOptimizer := newOptimizerRunner(cfg, stores, querySvc, chatClient, critics,
		entityRepo, relRepo, graphRepo, graphMappingRepo, sourceRepo, contentRepo, embed, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewKnowledgeHandler(uploadSvc, statusRepo, stores, logger).RegisterRoutes(mux)
	handlers.NewMemoryHandler(memorySvc, logger).RegisterRoutes(mux)
	handlers.NewOptimizerHandler(runOptimizer, logger).RegisterRoutes(mux)

	mcpServer := appmcp.NewServer("chronicle-engine", cfg.Version, logger)
	tools.RegisterGraphTools(mcpServer.MCP(), &tools.GraphToolDeps{
		Query:      querySvc,
		StatusRepo: statusRepo,
		Stores:     stores,
		Logger:     logger,
	})
	tools.RegisterMemoryTools(mcpServer.MCP(), &tools.MemoryToolDeps{
		Memory: memorySvc,
		Logger: logger,
	})
	mcpHTTP := middleware.MCPRequestLogger(logger)(mcpServer.NewStreamableHTTPServer())
	mux.Handle("/mcp", mcpHTTP)

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler: middleware.RequestLogger(logger)(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			zap.String("addr", server.Addr),
			zap.String("base_url", cfg.BaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// newOptimizerRunner builds one optimization pass per invocation. The
// provider carries the topic, so the optimizer itself is cheap to construct;
// the state file keeps issue progress across passes.
func newOptimizerRunner(
	cfg *config.Config,
	stores *database.StoreRegistry,
	querySvc services.GraphQueryService,
	detector llm.Generator,
	critics map[string]llm.Generator,
	entityRepo repositories.EntityRepository,
	relRepo repositories.RelationshipRepository,
	graphRepo repositories.GraphRepository,
	mappingRepo repositories.GraphMappingRepository,
	sourceRepo repositories.SourceRepository,
	contentRepo repositories.ContentRepository,
	embed services.EmbedFunc,
	logger *zap.Logger,
) handlers.OptimizerRunner {
	return func(ctx context.Context, topicName, query, tenantURI string) (*services.OptimizeReport, error) {
		if tenantURI == "" {
			tenantURI = cfg.Optimizer.DatabaseURI
		}
		scoped, err := stores.WithScope(ctx, tenantURI)
		if err != nil {
			return nil, err
		}

		provider := services.NewVectorSearchGraphProvider(
			querySvc, topicName, cfg.Optimizer.TopK, cfg.Optimizer.SimilarityThreshold)
		optimizer := services.NewGraphOptimizer(
			provider, detector, critics,
			entityRepo, relRepo, graphRepo, mappingRepo, sourceRepo, contentRepo,
			embed, cfg.Optimizer, logger)
		return optimizer.Optimize(scoped, query)
	}
}

// migrateLocalStore applies pending migrations to the engine's local store
// over a short-lived database/sql connection.
func migrateLocalStore(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.Database.URI())
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := database.RunMigrations(db, migrationsPath, logger); err != nil {
		return fmt.Errorf("migrating local store: %w", err)
	}
	return nil
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
