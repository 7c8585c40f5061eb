// Package harness orchestrates one full comparison run: every dataset
// example through every variant, scored, aggregated and persisted as a
// single immutable run artifact.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/dataset"
	"github.com/agrirag/benchmark/internal/evaluation"
	"github.com/agrirag/benchmark/internal/metrics"
	"github.com/agrirag/benchmark/internal/runner"
	"github.com/agrirag/benchmark/internal/storage/models"
	"github.com/agrirag/benchmark/pkg/config"
	"github.com/agrirag/benchmark/pkg/logger"
	"github.com/agrirag/benchmark/pkg/utils"
)

// Progress reports one finished (example, variant) job. Events arrive
// from worker goroutines; consumers must be safe for concurrent calls.
type Progress struct {
	RunID     string
	QAID      string
	Variant   string
	Completed int
	Total     int
	Failed    bool
}

type ProgressFunc func(Progress)

// Store persists finished run artifacts.
type Store interface {
	SaveRun(ctx context.Context, artifact *models.RunArtifact) error
}

type Harness struct {
	cfg     *config.Config
	runners []runner.Runner
	eval    *evaluation.Evaluator
	store   Store // nil skips persistence

	mu       sync.Mutex
	progress ProgressFunc
}

func New(cfg *config.Config, runners []runner.Runner, eval *evaluation.Evaluator, store Store) *Harness {
	return &Harness{cfg: cfg, runners: runners, eval: eval, store: store}
}

// OnProgress registers the progress consumer for subsequent runs.
func (h *Harness) OnProgress(fn ProgressFunc) {
	h.mu.Lock()
	h.progress = fn
	h.mu.Unlock()
}

func (h *Harness) notify(p Progress) {
	h.mu.Lock()
	fn := h.progress
	h.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

// NewRunID derives a run identifier from the start time and a hash of
// the effective configuration, so two runs over the same config are
// distinguishable by time while remaining traceable to their settings.
func NewRunID(cfg *config.Config, startedAt time.Time) string {
	return fmt.Sprintf("%s-%s",
		startedAt.UTC().Format("20060102T150405Z"),
		utils.ShortHash(cfg.Fingerprint()),
	)
}

type job struct {
	record  models.QARecord
	variant runner.Runner
}

type jobResult struct {
	answer *models.AnswerRecord
	scores []models.ScoreRecord
	failed bool
}

type jobKey struct {
	qaID    string
	variant string
}

// Run executes the comparison over the given dataset. Validation
// failures abort before any model call; after that, per-example
// failures degrade the run to PartiallyFailed instead of stopping it.
func (h *Harness) Run(ctx context.Context, records []models.QARecord) (*models.RunArtifact, error) {
	return h.RunWithID(ctx, NewRunID(h.cfg, time.Now()), records)
}

// RunWithID is Run with a caller-chosen run id, for callers that need
// the id before the run finishes.
func (h *Harness) RunWithID(ctx context.Context, runID string, records []models.QARecord) (*models.RunArtifact, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no examples to run", dataset.ErrDatasetInvalid)
	}
	if len(h.runners) == 0 {
		return nil, fmt.Errorf("invalid configuration: no variants enabled")
	}

	// harness.timeoutSec bounds the whole run; examples still pending at
	// the deadline count as failures.
	if h.cfg.Harness.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.cfg.Harness.TimeoutSec)*time.Second)
		defer cancel()
	}

	startedAt := time.Now()
	artifact := &models.RunArtifact{
		RunID:       runID,
		Status:      models.RunPending,
		DatasetSize: len(records),
		StartedAt:   startedAt,
	}
	if cfgJSON, err := json.Marshal(h.cfg); err == nil {
		artifact.ConfigJSON = string(cfgJSON)
	}

	artifact.Status = models.RunRunning
	logger.Info("Comparison run started",
		zap.String("run_id", artifact.RunID),
		zap.Int("examples", len(records)),
		zap.Int("variants", len(h.runners)),
	)

	results := h.execute(ctx, artifact.RunID, records)

	h.assemble(artifact, records, results)
	artifact.FinishedAt = time.Now()

	if ctx.Err() != nil {
		artifact.Status = models.RunPartiallyFailed
	} else if artifact.Failures > 0 {
		artifact.Status = models.RunPartiallyFailed
	} else {
		artifact.Status = models.RunCompleted
	}
	metrics.RunsTotal.WithLabelValues(string(artifact.Status)).Inc()

	logger.Info("Comparison run finished",
		zap.String("run_id", artifact.RunID),
		zap.String("status", string(artifact.Status)),
		zap.Int("failures", artifact.Failures),
		zap.Duration("elapsed", artifact.FinishedAt.Sub(artifact.StartedAt)),
	)

	if h.store != nil {
		if err := h.store.SaveRun(ctx, artifact); err != nil {
			return artifact, fmt.Errorf("failed to persist run %s: %w", artifact.RunID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return artifact, err
	}
	return artifact, nil
}

// execute fans (example, variant) jobs out to the worker pool and
// collects results keyed by (qa_id, variant).
func (h *Harness) execute(ctx context.Context, runID string, records []models.QARecord) map[jobKey]jobResult {
	workers := h.cfg.Harness.Workers
	if workers < 1 {
		workers = 1
	}

	total := len(records) * len(h.runners)
	jobs := make(chan job)
	results := make(map[jobKey]jobResult, total)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		completed int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := h.runOne(ctx, j)

				mu.Lock()
				results[jobKey{j.record.ID, j.variant.Name()}] = res
				completed++
				done := completed
				mu.Unlock()

				h.notify(Progress{
					RunID:     runID,
					QAID:      j.record.ID,
					Variant:   j.variant.Name(),
					Completed: done,
					Total:     total,
					Failed:    res.failed,
				})
			}
		}()
	}

	// Feed jobs until done or cancelled. Unfed jobs simply never appear
	// in the results and count as failures during assembly.
feed:
	for _, rec := range records {
		for _, r := range h.runners {
			select {
			case jobs <- job{record: rec, variant: r}:
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

// runOne drives a single variant on a single example and scores the
// outcome. Every answer is scored, including empty degraded ones, so
// failed generations pull the aggregate down instead of vanishing.
func (h *Harness) runOne(ctx context.Context, j job) jobResult {
	variant := j.variant.Name()

	answer, err := j.variant.Run(ctx, j.record)
	if err != nil {
		metrics.ExamplesProcessed.WithLabelValues(variant, "error").Inc()
		return jobResult{failed: true}
	}

	failed := answer.AnswerText == ""
	if _, degraded := answer.Metadata["generation_failed"]; degraded {
		failed = true
		metrics.DegradedEvents.WithLabelValues("generation").Inc()
	}
	if _, degraded := answer.Metadata["retrieval_degraded"]; degraded {
		metrics.DegradedEvents.WithLabelValues("retrieval").Inc()
	}
	if answer.Latency > 0 {
		metrics.ModelLatency.WithLabelValues(variant).Observe(answer.Latency.Seconds())
	}
	if variant == runner.VariantGraphRAG {
		metrics.ContextFacts.Observe(float64(answer.ContextFacts))
		if answer.ContextTruncated {
			metrics.ContextTruncated.Inc()
		}
	}

	scored := h.eval.Score(ctx, answer.AnswerText, j.record.ReferenceAnswer)
	scores := make([]models.ScoreRecord, 0, len(scored))
	for _, metric := range h.eval.MetricNames() {
		scores = append(scores, models.ScoreRecord{
			QAID:    j.record.ID,
			Variant: variant,
			Metric:  metric,
			Value:   scored[metric],
		})
	}

	status := "ok"
	if failed {
		status = "failed"
	}
	metrics.ExamplesProcessed.WithLabelValues(variant, status).Inc()

	return jobResult{answer: answer, scores: scores, failed: failed}
}

// assemble freezes the collected results into the artifact in dataset
// order, then derives the aggregates.
func (h *Harness) assemble(artifact *models.RunArtifact, records []models.QARecord, results map[jobKey]jobResult) {
	for _, rec := range records {
		for _, r := range h.runners {
			res, ok := results[jobKey{rec.ID, r.Name()}]
			if !ok || res.answer == nil {
				artifact.Failures++
				continue
			}
			if res.failed {
				artifact.Failures++
			}
			artifact.Answers = append(artifact.Answers, *res.answer)
			artifact.Scores = append(artifact.Scores, res.scores...)
		}
	}

	artifact.Comparison = Aggregate(artifact.Scores)
	artifact.MeanLatencySec = meanLatencies(artifact.Answers)
}

// Aggregate computes population mean and standard deviation per
// (variant, metric) over the non-missing values.
func Aggregate(scores []models.ScoreRecord) models.ComparisonResult {
	grouped := make(map[string]map[string][]float64)
	for _, s := range scores {
		if s.Value == nil {
			continue
		}
		if grouped[s.Variant] == nil {
			grouped[s.Variant] = make(map[string][]float64)
		}
		grouped[s.Variant][s.Metric] = append(grouped[s.Variant][s.Metric], *s.Value)
	}

	result := make(models.ComparisonResult, len(grouped))
	for variant, byMetric := range grouped {
		result[variant] = make(map[string]models.MetricAggregate, len(byMetric))
		for metric, values := range byMetric {
			result[variant][metric] = aggregate(values)
		}
	}
	return result
}

func aggregate(values []float64) models.MetricAggregate {
	n := float64(len(values))
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / n

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= n

	return models.MetricAggregate{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Count:  len(values),
	}
}

// meanLatencies averages the model call latency per variant over the
// answers that had a successful call.
func meanLatencies(answers []models.AnswerRecord) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, a := range answers {
		if a.Latency > 0 {
			sums[a.Variant] += a.Latency.Seconds()
			counts[a.Variant]++
		}
	}

	out := make(map[string]float64, len(sums))
	for variant, sum := range sums {
		out[variant] = sum / float64(counts[variant])
	}
	return out
}

// VariantNames lists the configured variants in a stable order, for
// reporting.
func (h *Harness) VariantNames() []string {
	names := make([]string, 0, len(h.runners))
	for _, r := range h.runners {
		names = append(names, r.Name())
	}
	sort.Strings(names)
	return names
}

// IsFatal reports whether a run error happened before any example was
// executed, as opposed to a persistence or cancellation error after.
func IsFatal(err error) bool {
	return errors.Is(err, dataset.ErrDatasetInvalid)
}
