package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/analyzer"
	"github.com/agrirag/benchmark/internal/api/handlers"
	"github.com/agrirag/benchmark/internal/cache/redis"
	"github.com/agrirag/benchmark/internal/evaluation"
	"github.com/agrirag/benchmark/internal/harness"
	"github.com/agrirag/benchmark/internal/kg/neo4j"
	"github.com/agrirag/benchmark/internal/llm"
	"github.com/agrirag/benchmark/internal/metrics"
	"github.com/agrirag/benchmark/internal/middleware/ratelimit"
	"github.com/agrirag/benchmark/internal/retrieval"
	"github.com/agrirag/benchmark/internal/runner"
	"github.com/agrirag/benchmark/internal/storage/sqlite"
	"github.com/agrirag/benchmark/internal/vector/milvus"
	"github.com/agrirag/benchmark/pkg/config"
	appLogger "github.com/agrirag/benchmark/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Configuration rejected: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting AgriRAG benchmark API server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	neo4jClient, err := neo4j.NewClient(
		cfg.Neo4j.URI,
		cfg.Neo4j.Username,
		cfg.Neo4j.Password,
		cfg.Neo4j.Database,
		cfg.Retrieval.TimeoutSec,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
	}
	defer neo4jClient.Close(context.Background())

	if nodes, relations, err := neo4jClient.Stats(context.Background()); err == nil {
		metrics.KGEntitiesTotal.Set(float64(nodes))
		metrics.KGRelationsTotal.Set(float64(relations))
	} else {
		appLogger.Warn("Knowledge graph stats unavailable at startup", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	var embedder evaluation.Embedder = llmClient
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()

		embedder = evaluation.NewCachedEmbedder(
			llmClient,
			redisClient,
			time.Duration(cfg.Redis.TTLHours)*time.Hour,
		)
	}

	var fuzzy analyzer.FuzzyResolver
	if cfg.Milvus.Enabled {
		milvusClient, err := milvus.NewClient(
			cfg.Milvus.Endpoint,
			cfg.Milvus.CollectionName,
			cfg.Milvus.VectorDim,
			llmClient,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer milvusClient.Close()

		created, err := milvusClient.CreateCollection(context.Background())
		if err != nil {
			appLogger.Fatal("Failed to create collection", zap.Error(err))
		}
		if created {
			indexed, err := milvus.SyncSurfaceForms(context.Background(), neo4jClient, llmClient, milvusClient, 100)
			if err != nil {
				appLogger.Warn("Surface form sync incomplete, fuzzy resolution degraded",
					zap.Int("indexed", indexed),
					zap.Error(err),
				)
			}
		}
		fuzzy = milvusClient
	}

	questionAnalyzer := analyzer.New(neo4jClient, fuzzy, cfg.Retrieval.MaxCandidatesPerMention)
	contextBuilder := retrieval.NewBuilder(neo4jClient, retrieval.Options{
		MaxHops:         cfg.Retrieval.MaxHops,
		TokenBudget:     cfg.Retrieval.TokenBudget,
		BudgetUnit:      cfg.Retrieval.BudgetUnit,
		RelationWeights: cfg.Retrieval.RelationWeights,
	})

	runnerOpts := runner.Options{MaxRetries: cfg.Harness.MaxRetries}
	var runners []runner.Runner
	for _, variant := range cfg.Harness.Variants {
		switch variant {
		case runner.VariantBasicLLM:
			runners = append(runners, runner.NewBasicLLM(llmClient, runnerOpts))
		case runner.VariantGraphRAG:
			runners = append(runners, runner.NewGraphRAG(questionAnalyzer, contextBuilder, llmClient, runnerOpts))
		}
	}

	evaluator := evaluation.New(embedder, cfg.Evaluation.BleuMaxOrder)
	comparisonHarness := harness.New(cfg, runners, evaluator, sqliteClient)

	hub := handlers.NewProgressHub()
	comparisonHarness.OnProgress(hub.Publish)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 10})
	defer limiter.Stop()

	runHandler := handlers.NewRunHandler(cfg, comparisonHarness, sqliteClient, neo4jClient)
	wsHandler := handlers.NewWebSocketHandler(hub)

	api := app.Group("/api/v1")

	api.Post("/runs", limiter.Middleware(), runHandler.StartRun)
	api.Get("/runs", runHandler.ListRuns)
	api.Get("/runs/:id", runHandler.GetRun)
	api.Get("/runs/:id/scores", runHandler.GetRunScores)
	api.Post("/runs/:id/reaggregate", runHandler.Reaggregate)
	api.Get("/graph/stats", runHandler.GraphStats)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/runs/:id", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
