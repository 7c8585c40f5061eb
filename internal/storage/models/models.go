package models

import "time"

// QARecord is one reference question-answer pair. Loaded once per run,
// never mutated.
type QARecord struct {
	ID              string
	Question        string
	ReferenceAnswer string
	Metadata        map[string]string
}

// AnswerRecord is the outcome of running one variant on one question.
// Identity is (QAID, Variant).
type AnswerRecord struct {
	QAID             string
	Variant          string
	AnswerText       string
	ContextText      string
	ContextFacts     int
	ContextTruncated bool
	// Latency covers only the successful model call; retrieval time and
	// failed attempts are excluded.
	Latency   time.Duration
	Metadata  map[string]string
	CreatedAt time.Time
}

// ScoreRecord is one metric value for one answer. A nil Value means the
// metric could not be computed for this example; it is excluded from
// aggregation rather than treated as zero.
type ScoreRecord struct {
	QAID    string
	Variant string
	Metric  string
	Value   *float64
}

// MetricAggregate is population mean/stddev over the non-missing values
// of one metric for one variant.
type MetricAggregate struct {
	Mean   float64
	StdDev float64
	Count  int
}

// ComparisonResult maps variant -> metric -> aggregate. Derived wholly
// from the run's ScoreRecords; recomputable at any time.
type ComparisonResult map[string]map[string]MetricAggregate

type RunStatus string

const (
	RunPending         RunStatus = "pending"
	RunRunning         RunStatus = "running"
	RunCompleted       RunStatus = "completed"
	RunPartiallyFailed RunStatus = "partially_failed"
)

// RunArtifact is the self-describing, immutable record of one full
// comparison run. Built incrementally while the run executes and frozen
// at completion.
type RunArtifact struct {
	RunID       string
	Status      RunStatus
	ConfigJSON  string
	DatasetSize int
	Failures    int
	StartedAt   time.Time
	FinishedAt  time.Time

	Answers    []AnswerRecord
	Scores     []ScoreRecord
	Comparison ComparisonResult

	// MeanLatencySec per variant, reported alongside the quality metrics.
	MeanLatencySec map[string]float64
}
