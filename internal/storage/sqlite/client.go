package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/storage/models"
	"github.com/agrirag/benchmark/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		config_json TEXT NOT NULL,
		dataset_size INTEGER NOT NULL,
		failures INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

	CREATE TABLE IF NOT EXISTS answer_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		qa_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		answer_text TEXT,
		context_text TEXT,
		context_facts INTEGER NOT NULL DEFAULT 0,
		context_truncated INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
		UNIQUE (run_id, qa_id, variant)
	);
	CREATE INDEX IF NOT EXISTS idx_answers_run ON answer_records(run_id);

	CREATE TABLE IF NOT EXISTS score_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		qa_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		metric TEXT NOT NULL,
		value REAL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
		UNIQUE (run_id, qa_id, variant, metric)
	);
	CREATE INDEX IF NOT EXISTS idx_scores_run ON score_records(run_id);
	CREATE INDEX IF NOT EXISTS idx_scores_metric ON score_records(run_id, variant, metric);

	CREATE TABLE IF NOT EXISTS comparison_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		metric TEXT NOT NULL,
		mean REAL NOT NULL,
		stddev REAL NOT NULL,
		count INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
		UNIQUE (run_id, variant, metric)
	);
	CREATE INDEX IF NOT EXISTS idx_comparison_run ON comparison_results(run_id);

	CREATE TABLE IF NOT EXISTS run_latencies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		mean_latency_sec REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE,
		UNIQUE (run_id, variant)
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// SaveRun writes the whole artifact in one transaction: the run row,
// every answer, every score and the derived aggregates. A partially
// written run is never visible.
func (c *Client) SaveRun(ctx context.Context, artifact *models.RunArtifact) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, config_json, dataset_size, failures, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		artifact.RunID,
		string(artifact.Status),
		artifact.ConfigJSON,
		artifact.DatasetSize,
		artifact.Failures,
		artifact.StartedAt.Unix(),
		artifact.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i := range artifact.Answers {
		a := &artifact.Answers[i]

		metadata := ""
		if len(a.Metadata) > 0 {
			data, merr := json.Marshal(a.Metadata)
			if merr != nil {
				return fmt.Errorf("failed to marshal answer metadata: %w", merr)
			}
			metadata = string(data)
		}

		truncated := 0
		if a.ContextTruncated {
			truncated = 1
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO answer_records (run_id, qa_id, variant, answer_text, context_text,
				context_facts, context_truncated, latency_ms, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			artifact.RunID,
			a.QAID,
			a.Variant,
			a.AnswerText,
			a.ContextText,
			a.ContextFacts,
			truncated,
			a.Latency.Milliseconds(),
			metadata,
			a.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert answer record: %w", err)
		}
	}

	for _, s := range artifact.Scores {
		var value sql.NullFloat64
		if s.Value != nil {
			value = sql.NullFloat64{Float64: *s.Value, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO score_records (run_id, qa_id, variant, metric, value)
			VALUES (?, ?, ?, ?, ?)
		`, artifact.RunID, s.QAID, s.Variant, s.Metric, value)
		if err != nil {
			return fmt.Errorf("failed to insert score record: %w", err)
		}
	}

	if err := saveAggregates(ctx, tx, artifact.RunID, artifact.Comparison); err != nil {
		return err
	}

	for variant, mean := range artifact.MeanLatencySec {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_latencies (run_id, variant, mean_latency_sec)
			VALUES (?, ?, ?)
		`, artifact.RunID, variant, mean)
		if err != nil {
			return fmt.Errorf("failed to insert run latency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	logger.Info("Run persisted",
		zap.String("run_id", artifact.RunID),
		zap.Int("answers", len(artifact.Answers)),
		zap.Int("scores", len(artifact.Scores)),
	)
	return nil
}

func saveAggregates(ctx context.Context, tx *sql.Tx, runID string, comparison models.ComparisonResult) error {
	for variant, byMetric := range comparison {
		for metric, agg := range byMetric {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO comparison_results (run_id, variant, metric, mean, stddev, count)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(run_id, variant, metric) DO UPDATE SET
					mean = excluded.mean,
					stddev = excluded.stddev,
					count = excluded.count
			`, runID, variant, metric, agg.Mean, agg.StdDev, agg.Count)
			if err != nil {
				return fmt.Errorf("failed to insert comparison result: %w", err)
			}
		}
	}
	return nil
}

// GetRun loads one full artifact, answers and scores included.
func (c *Client) GetRun(ctx context.Context, runID string) (*models.RunArtifact, error) {
	var (
		artifact   models.RunArtifact
		status     string
		startedAt  int64
		finishedAt sql.NullInt64
	)

	err := c.db.QueryRowContext(ctx, `
		SELECT run_id, status, config_json, dataset_size, failures, started_at, finished_at
		FROM runs WHERE run_id = ?
	`, runID).Scan(
		&artifact.RunID,
		&status,
		&artifact.ConfigJSON,
		&artifact.DatasetSize,
		&artifact.Failures,
		&startedAt,
		&finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	artifact.Status = models.RunStatus(status)
	artifact.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		artifact.FinishedAt = time.Unix(finishedAt.Int64, 0)
	}

	if artifact.Answers, err = c.loadAnswers(ctx, runID); err != nil {
		return nil, err
	}
	if artifact.Scores, err = c.loadScores(ctx, runID); err != nil {
		return nil, err
	}
	if artifact.Comparison, err = c.loadComparison(ctx, runID); err != nil {
		return nil, err
	}
	if artifact.MeanLatencySec, err = c.loadLatencies(ctx, runID); err != nil {
		return nil, err
	}

	return &artifact, nil
}

func (c *Client) loadAnswers(ctx context.Context, runID string) ([]models.AnswerRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT qa_id, variant, answer_text, context_text, context_facts,
			context_truncated, latency_ms, metadata, created_at
		FROM answer_records WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load answers: %w", err)
	}
	defer rows.Close()

	var answers []models.AnswerRecord
	for rows.Next() {
		var (
			a         models.AnswerRecord
			truncated int
			latencyMS int64
			metadata  string
			createdAt int64
		)
		err := rows.Scan(&a.QAID, &a.Variant, &a.AnswerText, &a.ContextText,
			&a.ContextFacts, &truncated, &latencyMS, &metadata, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan answer record: %w", err)
		}

		a.ContextTruncated = truncated != 0
		a.Latency = time.Duration(latencyMS) * time.Millisecond
		a.CreatedAt = time.Unix(createdAt, 0)
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal answer metadata: %w", err)
			}
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (c *Client) loadScores(ctx context.Context, runID string) ([]models.ScoreRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT qa_id, variant, metric, value
		FROM score_records WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scores: %w", err)
	}
	defer rows.Close()

	var scores []models.ScoreRecord
	for rows.Next() {
		var (
			s     models.ScoreRecord
			value sql.NullFloat64
		)
		if err := rows.Scan(&s.QAID, &s.Variant, &s.Metric, &value); err != nil {
			return nil, fmt.Errorf("failed to scan score record: %w", err)
		}
		if value.Valid {
			v := value.Float64
			s.Value = &v
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

func (c *Client) loadComparison(ctx context.Context, runID string) (models.ComparisonResult, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT variant, metric, mean, stddev, count
		FROM comparison_results WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load comparison: %w", err)
	}
	defer rows.Close()

	comparison := make(models.ComparisonResult)
	for rows.Next() {
		var (
			variant, metric string
			agg             models.MetricAggregate
		)
		if err := rows.Scan(&variant, &metric, &agg.Mean, &agg.StdDev, &agg.Count); err != nil {
			return nil, fmt.Errorf("failed to scan comparison result: %w", err)
		}
		if comparison[variant] == nil {
			comparison[variant] = make(map[string]models.MetricAggregate)
		}
		comparison[variant][metric] = agg
	}
	return comparison, rows.Err()
}

func (c *Client) loadLatencies(ctx context.Context, runID string) (map[string]float64, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT variant, mean_latency_sec FROM run_latencies WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latencies: %w", err)
	}
	defer rows.Close()

	latencies := make(map[string]float64)
	for rows.Next() {
		var (
			variant string
			mean    float64
		)
		if err := rows.Scan(&variant, &mean); err != nil {
			return nil, fmt.Errorf("failed to scan run latency: %w", err)
		}
		latencies[variant] = mean
	}
	return latencies, rows.Err()
}

// RunSummary is the list view of a run: the header row without its
// answers and scores.
type RunSummary struct {
	RunID       string
	Status      models.RunStatus
	DatasetSize int
	Failures    int
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (c *Client) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT run_id, status, dataset_size, failures, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			summary    RunSummary
			status     string
			startedAt  int64
			finishedAt sql.NullInt64
		)
		err := rows.Scan(&summary.RunID, &status, &summary.DatasetSize,
			&summary.Failures, &startedAt, &finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}

		summary.Status = models.RunStatus(status)
		summary.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			summary.FinishedAt = time.Unix(finishedAt.Int64, 0)
		}
		runs = append(runs, summary)
	}
	return runs, rows.Err()
}

// Reaggregate recomputes a run's comparison table from its persisted
// score rows and stores the result, replacing the previous aggregates.
// The per-example scores are the source of truth; this repairs the
// derived table after schema fixes or manual row surgery.
func (c *Client) Reaggregate(ctx context.Context, runID string, aggregate func([]models.ScoreRecord) models.ComparisonResult) (models.ComparisonResult, error) {
	scores, err := c.loadScores(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("run %s has no score records", runID)
	}

	comparison := aggregate(scores)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM comparison_results WHERE run_id = ?`, runID); err != nil {
		return nil, fmt.Errorf("failed to clear comparison results: %w", err)
	}
	if err := saveAggregates(ctx, tx, runID, comparison); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reaggregation: %w", err)
	}

	logger.Info("Run reaggregated", zap.String("run_id", runID))
	return comparison, nil
}
