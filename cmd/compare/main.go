// Command compare runs the BasicLLM / GraphRAG comparison over a QA
// dataset from the command line and prints the aggregate table.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/analyzer"
	"github.com/agrirag/benchmark/internal/cache/redis"
	"github.com/agrirag/benchmark/internal/dataset"
	"github.com/agrirag/benchmark/internal/evaluation"
	"github.com/agrirag/benchmark/internal/harness"
	"github.com/agrirag/benchmark/internal/kg/neo4j"
	"github.com/agrirag/benchmark/internal/llm"
	"github.com/agrirag/benchmark/internal/metrics"
	"github.com/agrirag/benchmark/internal/retrieval"
	"github.com/agrirag/benchmark/internal/runner"
	"github.com/agrirag/benchmark/internal/storage/models"
	"github.com/agrirag/benchmark/internal/storage/sqlite"
	"github.com/agrirag/benchmark/internal/vector/milvus"
	"github.com/agrirag/benchmark/pkg/config"
	appLogger "github.com/agrirag/benchmark/pkg/logger"
)

func main() {
	datasetPath := flag.String("dataset", "", "path to the QA dataset JSON (overrides config)")
	sampleSize := flag.Int("sample", 0, "limit the run to the first N examples (overrides config)")
	outputPath := flag.String("output", "", "write the full run artifact as JSON to this file")
	noPersist := flag.Bool("no-persist", false, "skip writing the run to the SQLite store")
	flushEmbeddings := flag.Bool("flush-embedding-cache", false, "drop cached embedding vectors before the run (use after changing llm.embeddingModel)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *datasetPath != "" {
		cfg.Harness.DatasetPath = *datasetPath
	}
	if *sampleSize > 0 {
		cfg.Harness.SampleSize = *sampleSize
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration rejected: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	metrics.Init()

	records, err := dataset.Load(cfg.Harness.DatasetPath, cfg.Harness.SampleSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Dataset rejected: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comparisonHarness, cleanup, err := buildHarness(cfg, *noPersist, *flushEmbeddings)
	if err != nil {
		appLogger.Fatal("Failed to assemble pipeline", zap.Error(err))
	}
	defer cleanup()

	comparisonHarness.OnProgress(func(p harness.Progress) {
		fmt.Fprintf(os.Stderr, "\r%d/%d examples", p.Completed, p.Total)
	})

	artifact, err := comparisonHarness.Run(ctx, records)
	fmt.Fprintln(os.Stderr)
	if err != nil && artifact == nil {
		appLogger.Fatal("Run aborted", zap.Error(err))
	}
	if err != nil {
		appLogger.Warn("Run finished with errors", zap.Error(err))
	}

	printSummary(artifact)

	if *outputPath != "" {
		if err := writeArtifact(*outputPath, artifact); err != nil {
			appLogger.Fatal("Failed to write artifact", zap.Error(err))
		}
		fmt.Printf("\nArtifact written to %s\n", *outputPath)
	}

	if artifact.Status == models.RunPartiallyFailed {
		os.Exit(2)
	}
}

// buildHarness wires the full pipeline: graph store, analyzer, context
// builder, model client, evaluator and persistence.
func buildHarness(cfg *config.Config, noPersist, flushEmbeddings bool) (*harness.Harness, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	neo4jClient, err := neo4j.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, cfg.Retrieval.TimeoutSec)
	if err != nil {
		return nil, cleanup, fmt.Errorf("neo4j: %w", err)
	}
	closers = append(closers, func() { neo4jClient.Close(context.Background()) })

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
			return nil, cleanup, fmt.Errorf("redis: %w", err)
		}
		closers = append(closers, func() { redisClient.Close() })
		if flushEmbeddings {
			if err := redisClient.InvalidateEmbeddings(context.Background()); err != nil {
				return nil, cleanup, fmt.Errorf("flush embedding cache: %w", err)
			}
		}
		embedder = evaluation.NewCachedEmbedder(llmClient, redisClient, time.Duration(cfg.Redis.TTLHours)*time.Hour)
	} else if flushEmbeddings {
		appLogger.Warn("-flush-embedding-cache ignored, redis is disabled")
	}

	var fuzzy analyzer.FuzzyResolver
	if cfg.Milvus.Enabled {
		milvusClient, err := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim, llmClient)
		if err != nil {
			return nil, cleanup, fmt.Errorf("milvus: %w", err)
		}
		closers = append(closers, func() { milvusClient.Close() })

		created, err := milvusClient.CreateCollection(context.Background())
		if err != nil {
			return nil, cleanup, fmt.Errorf("milvus collection: %w", err)
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

	var store harness.Store
	if !noPersist {
		sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("sqlite: %w", err)
		}
		closers = append(closers, func() { sqliteClient.Close() })
		if err := sqliteClient.InitSchema(); err != nil {
			return nil, cleanup, fmt.Errorf("sqlite schema: %w", err)
		}
		store = sqliteClient
	}

	evaluator := evaluation.New(embedder, cfg.Evaluation.BleuMaxOrder)
	return harness.New(cfg, runners, evaluator, store), cleanup, nil
}

func printSummary(artifact *models.RunArtifact) {
	fmt.Printf("\nRun %s (%s)\n", artifact.RunID, artifact.Status)
	fmt.Printf("Examples: %d  Failures: %d  Elapsed: %s\n\n",
		artifact.DatasetSize,
		artifact.Failures,
		artifact.FinishedAt.Sub(artifact.StartedAt).Round(time.Second),
	)

	variants := make([]string, 0, len(artifact.Comparison))
	for variant := range artifact.Comparison {
		variants = append(variants, variant)
	}
	sort.Strings(variants)

	metricSet := make(map[string]struct{})
	for _, byMetric := range artifact.Comparison {
		for metric := range byMetric {
			metricSet[metric] = struct{}{}
		}
	}
	metricNames := make([]string, 0, len(metricSet))
	for metric := range metricSet {
		metricNames = append(metricNames, metric)
	}
	sort.Strings(metricNames)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprint(w, "metric")
	for _, variant := range variants {
		fmt.Fprintf(w, "\t%s (mean±std, n)", variant)
	}
	fmt.Fprintln(w)

	for _, metric := range metricNames {
		fmt.Fprint(w, metric)
		for _, variant := range variants {
			agg, ok := artifact.Comparison[variant][metric]
			if !ok || agg.Count == 0 {
				fmt.Fprint(w, "\t-")
				continue
			}
			fmt.Fprintf(w, "\t%.4f±%.4f (%d)", agg.Mean, agg.StdDev, agg.Count)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprint(w, "avg_response_time")
	for _, variant := range variants {
		if mean, ok := artifact.MeanLatencySec[variant]; ok {
			fmt.Fprintf(w, "\t%.2fs", mean)
		} else {
			fmt.Fprint(w, "\t-")
		}
	}
	fmt.Fprintln(w)
	w.Flush()
}

func writeArtifact(path string, artifact *models.RunArtifact) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
