package harness

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrirag/benchmark/internal/dataset"
	"github.com/agrirag/benchmark/internal/evaluation"
	"github.com/agrirag/benchmark/internal/runner"
	"github.com/agrirag/benchmark/internal/storage/models"
	"github.com/agrirag/benchmark/pkg/config"
)

// echoRunner answers with the reference text so lexical metrics come
// out at their maximum, unless failOn matches the example id.
type echoRunner struct {
	name   string
	failOn string
	delay  time.Duration
}

func (r *echoRunner) Name() string { return r.name }

func (r *echoRunner) Run(ctx context.Context, rec models.QARecord) (*models.AnswerRecord, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	out := &models.AnswerRecord{
		QAID:      rec.ID,
		Variant:   r.name,
		Metadata:  map[string]string{},
		CreatedAt: time.Now(),
	}
	if rec.ID == r.failOn {
		out.Metadata["generation_failed"] = "model unavailable"
		return out, nil
	}
	out.AnswerText = rec.ReferenceAnswer
	out.Latency = 10 * time.Millisecond
	return out, nil
}

type memoryStore struct {
	mu    sync.Mutex
	saved []*models.RunArtifact
}

func (s *memoryStore) SaveRun(ctx context.Context, artifact *models.RunArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, artifact)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Harness: config.HarnessConfig{
			Workers:  4,
			Variants: []string{"basic_llm", "graph_rag"},
		},
		Evaluation: config.EvaluationConfig{BleuMaxOrder: 4},
	}
}

func testRecords(n int) []models.QARecord {
	records := make([]models.QARecord, n)
	questions := []string{
		"How to control rice blast?",
		"Best sowing time for wheat?",
		"Which fertilizer for maize?",
		"How often to irrigate cotton?",
	}
	for i := range records {
		records[i] = models.QARecord{
			ID:              questions[i%len(questions)][:10] + string(rune('a'+i)),
			Question:        questions[i%len(questions)],
			ReferenceAnswer: "a practical agronomic recommendation",
		}
	}
	return records
}

func newTestHarness(store Store, runners ...runner.Runner) *Harness {
	eval := evaluation.New(nil, 4)
	return New(testConfig(), runners, eval, store)
}

func TestRunCompletes(t *testing.T) {
	store := &memoryStore{}
	h := newTestHarness(store,
		&echoRunner{name: "basic_llm"},
		&echoRunner{name: "graph_rag"},
	)

	records := testRecords(4)
	artifact, err := h.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, models.RunCompleted, artifact.Status)
	assert.Equal(t, 0, artifact.Failures)
	assert.Equal(t, 4, artifact.DatasetSize)
	assert.Len(t, artifact.Answers, 8)

	// Every (example, variant) pair carries the full metric set.
	assert.Len(t, artifact.Scores, 8*6)

	require.Len(t, store.saved, 1)
	assert.Equal(t, artifact.RunID, store.saved[0].RunID)
}

func TestRunAggregateCounts(t *testing.T) {
	h := newTestHarness(nil,
		&echoRunner{name: "basic_llm"},
		&echoRunner{name: "graph_rag"},
	)

	records := testRecords(4)
	artifact, err := h.Run(context.Background(), records)
	require.NoError(t, err)

	for _, variant := range []string{"basic_llm", "graph_rag"} {
		byMetric := artifact.Comparison[variant]
		require.NotNil(t, byMetric, "variant %s missing from comparison", variant)

		// Echoed answers match the reference exactly.
		bleu := byMetric[evaluation.MetricBleu]
		assert.Equal(t, 4, bleu.Count)
		assert.InDelta(t, 1.0, bleu.Mean, 1e-9)
		assert.InDelta(t, 0.0, bleu.StdDev, 1e-9)

		// No embedder configured: cosine is missing everywhere and must
		// not appear as a zero-count aggregate of zeros.
		_, hasCosine := byMetric[evaluation.MetricCosine]
		assert.False(t, hasCosine)

		assert.InDelta(t, 0.01, artifact.MeanLatencySec[variant], 0.005)
	}
}

func TestRunPartialFailure(t *testing.T) {
	records := testRecords(4)
	h := newTestHarness(nil,
		&echoRunner{name: "basic_llm", failOn: records[1].ID},
		&echoRunner{name: "graph_rag"},
	)

	artifact, err := h.Run(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, models.RunPartiallyFailed, artifact.Status)
	assert.Equal(t, 1, artifact.Failures)

	// The failed example is still present, scored against its empty
	// answer, so it drags the mean down instead of disappearing.
	assert.Len(t, artifact.Answers, 8)
	bleu := artifact.Comparison["basic_llm"][evaluation.MetricBleu]
	assert.Equal(t, 4, bleu.Count)
	assert.Less(t, bleu.Mean, 1.0)
}

func TestRunEmptyDatasetFatal(t *testing.T) {
	h := newTestHarness(nil, &echoRunner{name: "basic_llm"})

	_, err := h.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrDatasetInvalid)
	assert.True(t, IsFatal(err))
}

func TestRunNoVariantsFatal(t *testing.T) {
	h := newTestHarness(nil)

	_, err := h.Run(context.Background(), testRecords(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunProgressEvents(t *testing.T) {
	h := newTestHarness(nil,
		&echoRunner{name: "basic_llm"},
		&echoRunner{name: "graph_rag"},
	)

	var mu sync.Mutex
	var events []Progress
	h.OnProgress(func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	_, err := h.Run(context.Background(), testRecords(3))
	require.NoError(t, err)

	require.Len(t, events, 6)
	last := 0
	for _, e := range events {
		assert.Equal(t, 6, e.Total)
		assert.Greater(t, e.Completed, last)
		last = e.Completed
	}
}

func TestRunConcurrencyBounded(t *testing.T) {
	cfg := testConfig()
	cfg.Harness.Workers = 2
	eval := evaluation.New(nil, 4)
	h := New(cfg, []runner.Runner{
		&echoRunner{name: "basic_llm", delay: 5 * time.Millisecond},
		&echoRunner{name: "graph_rag", delay: 5 * time.Millisecond},
	}, eval, nil)

	start := time.Now()
	artifact, err := h.Run(context.Background(), testRecords(4))
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.Equal(t, models.RunCompleted, artifact.Status)
	// 8 jobs at 5ms each over 2 workers needs at least 4 batches.
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}

func TestRunDeadlineFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Harness.Workers = 1
	cfg.Harness.TimeoutSec = 1
	eval := evaluation.New(nil, 4)
	h := New(cfg, []runner.Runner{
		&echoRunner{name: "basic_llm", delay: 400 * time.Millisecond},
	}, eval, nil)

	// Four 400ms jobs on one worker overrun the one second deadline, so
	// at least one example never starts.
	artifact, err := h.Run(context.Background(), testRecords(4))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, models.RunPartiallyFailed, artifact.Status)
	assert.GreaterOrEqual(t, artifact.Failures, 1)
	assert.Less(t, len(artifact.Answers), 4)
}

func TestNewRunIDStable(t *testing.T) {
	cfg := testConfig()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	id1 := NewRunID(cfg, at)
	id2 := NewRunID(cfg, at)
	assert.Equal(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "20250601T120000Z-"))

	cfg.Harness.MaxRetries = 5
	assert.NotEqual(t, id1, NewRunID(cfg, at))
}

func TestAggregatePopulationStats(t *testing.T) {
	v0, v1 := 0.0, 1.0
	scores := []models.ScoreRecord{
		{QAID: "a", Variant: "basic_llm", Metric: "bleu", Value: &v0},
		{QAID: "b", Variant: "basic_llm", Metric: "bleu", Value: &v1},
		{QAID: "c", Variant: "basic_llm", Metric: "bleu", Value: nil},
	}

	result := Aggregate(scores)
	agg := result["basic_llm"]["bleu"]

	assert.Equal(t, 2, agg.Count)
	assert.InDelta(t, 0.5, agg.Mean, 1e-9)
	assert.InDelta(t, 0.5, agg.StdDev, 1e-9)
}
