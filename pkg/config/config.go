package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Neo4j      Neo4jConfig
	Milvus     MilvusConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Retrieval  RetrievalConfig
	Evaluation EvaluationConfig
	Harness    HarnessConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	Model          string
	APIKey         string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type RetrievalConfig struct {
	MaxHops                 int
	TokenBudget             int
	BudgetUnit              string
	MaxCandidatesPerMention int
	RelationWeights         map[string]float64
	TimeoutSec              int
}

type EvaluationConfig struct {
	BleuMaxOrder int
}

type HarnessConfig struct {
	Variants    []string
	Workers     int
	MaxRetries  int
	TimeoutSec  int
	SampleSize  int
	DatasetPath string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/agrirag")

	viper.SetEnvPrefix("AGRIRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("neo4j.uri", "bolt://localhost:7687")
	viper.SetDefault("neo4j.username", "neo4j")
	viper.SetDefault("neo4j.password", "password")
	viper.SetDefault("neo4j.database", "neo4j")

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "entity_surface_forms")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("sqlite.path", "./data/benchmark.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 24)

	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.maxTokens", 500)
	viper.SetDefault("llm.timeoutSec", 60)
	viper.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	viper.SetDefault("llm.embeddingDim", 1536)

	viper.SetDefault("retrieval.maxHops", 2)
	viper.SetDefault("retrieval.tokenBudget", 2000)
	viper.SetDefault("retrieval.budgetUnit", "tokens")
	viper.SetDefault("retrieval.maxCandidatesPerMention", 3)
	viper.SetDefault("retrieval.timeoutSec", 15)

	viper.SetDefault("evaluation.bleuMaxOrder", 4)

	viper.SetDefault("harness.variants", []string{"basic_llm", "graph_rag"})
	viper.SetDefault("harness.workers", 4)
	viper.SetDefault("harness.maxRetries", 2)
	viper.SetDefault("harness.timeoutSec", 120)
	viper.SetDefault("harness.sampleSize", 0)
	viper.SetDefault("harness.datasetPath", "./data/agri_qa.json")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}

// Validate rejects configurations that would make a run unable to start.
// Called before any execution begins; failures here are fatal.
func (c *Config) Validate() error {
	if c.Retrieval.MaxHops < 0 {
		return fmt.Errorf("invalid configuration: retrieval.maxHops must be >= 0, got %d", c.Retrieval.MaxHops)
	}
	if c.Retrieval.TokenBudget < 0 {
		return fmt.Errorf("invalid configuration: retrieval.tokenBudget must be >= 0, got %d", c.Retrieval.TokenBudget)
	}
	if c.Retrieval.BudgetUnit != "tokens" && c.Retrieval.BudgetUnit != "bytes" {
		return fmt.Errorf("invalid configuration: retrieval.budgetUnit must be tokens or bytes, got %q", c.Retrieval.BudgetUnit)
	}
	if c.Retrieval.MaxCandidatesPerMention < 1 {
		return fmt.Errorf("invalid configuration: retrieval.maxCandidatesPerMention must be >= 1, got %d", c.Retrieval.MaxCandidatesPerMention)
	}
	if c.Evaluation.BleuMaxOrder < 1 {
		return fmt.Errorf("invalid configuration: evaluation.bleuMaxOrder must be >= 1, got %d", c.Evaluation.BleuMaxOrder)
	}
	if c.Harness.Workers < 1 {
		return fmt.Errorf("invalid configuration: harness.workers must be >= 1, got %d", c.Harness.Workers)
	}
	if c.Harness.MaxRetries < 0 {
		return fmt.Errorf("invalid configuration: harness.maxRetries must be >= 0, got %d", c.Harness.MaxRetries)
	}
	if len(c.Harness.Variants) == 0 {
		return fmt.Errorf("invalid configuration: harness.variants must not be empty")
	}
	for _, v := range c.Harness.Variants {
		if v != "basic_llm" && v != "graph_rag" {
			return fmt.Errorf("invalid configuration: unknown variant %q", v)
		}
	}
	return nil
}

// Fingerprint is a stable string representation of the knobs that affect
// run results. It feeds the run id so artifacts produced under different
// configurations never collide.
func (c *Config) Fingerprint() string {
	return fmt.Sprintf("model=%s;emb=%s;temp=%.2f;maxtok=%d;hops=%d;budget=%d;unit=%s;cand=%d;bleu=%d;retries=%d;variants=%s",
		c.LLM.Model,
		c.LLM.EmbeddingModel,
		c.LLM.Temperature,
		c.LLM.MaxTokens,
		c.Retrieval.MaxHops,
		c.Retrieval.TokenBudget,
		c.Retrieval.BudgetUnit,
		c.Retrieval.MaxCandidatesPerMention,
		c.Evaluation.BleuMaxOrder,
		c.Harness.MaxRetries,
		strings.Join(c.Harness.Variants, ","),
	)
}
