// Package evaluation scores produced answers against reference answers
// with the metric set the original study used: BLEU, ROUGE-1/2/L,
// embedding cosine similarity and exact match.
package evaluation

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/agrirag/benchmark/pkg/logger"
)

// ErrMetricUnavailable marks a metric that could not be computed for an
// example. The metric is recorded as missing and excluded from the
// aggregate; the other metrics are unaffected.
var ErrMetricUnavailable = errors.New("metric unavailable")

const (
	MetricBleu    = "bleu"
	MetricRouge1F = "rouge1_f"
	MetricRouge2F = "rouge2_f"
	MetricRougeLF = "rougeL_f"
	MetricCosine  = "cosine_similarity"
	MetricExact   = "exact_match"
)

// Embedder is the external embedding collaborator backing the cosine
// metric.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Evaluator struct {
	embedder     Embedder // nil leaves cosine permanently missing
	bleuMaxOrder int
}

func New(embedder Embedder, bleuMaxOrder int) *Evaluator {
	if bleuMaxOrder < 1 {
		bleuMaxOrder = 4
	}
	return &Evaluator{embedder: embedder, bleuMaxOrder: bleuMaxOrder}
}

// MetricNames lists every configured metric, in reporting order. Score
// always returns a value slot for each; a slot may hold nil.
func (e *Evaluator) MetricNames() []string {
	return []string{MetricBleu, MetricRouge1F, MetricRouge2F, MetricRougeLF, MetricCosine, MetricExact}
}

// Score computes all metrics independently for one (answer, reference)
// pair. A failure in one metric leaves it nil without blocking the
// rest. For fixed inputs and embedder state the result is reproducible.
func (e *Evaluator) Score(ctx context.Context, answer, reference string) map[string]*float64 {
	scores := make(map[string]*float64, 6)

	cand := tokenize(answer)
	ref := tokenize(reference)

	scores[MetricBleu] = ptr(bleu(cand, ref, e.bleuMaxOrder))
	scores[MetricRouge1F] = ptr(rougeN(cand, ref, 1))
	scores[MetricRouge2F] = ptr(rougeN(cand, ref, 2))
	scores[MetricRougeLF] = ptr(rougeL(cand, ref))
	scores[MetricExact] = ptr(exactMatch(answer, reference))

	cos, err := e.cosine(ctx, answer, reference)
	if err != nil {
		logger.Warn("Cosine similarity unavailable", zap.Error(err))
		scores[MetricCosine] = nil
	} else {
		scores[MetricCosine] = ptr(cos)
	}

	return scores
}

// cosine embeds both texts and reports their normalized dot product,
// clamped to [0, 1].
func (e *Evaluator) cosine(ctx context.Context, answer, reference string) (float64, error) {
	if e.embedder == nil {
		return 0, ErrMetricUnavailable
	}

	a, err := e.embedder.Embed(ctx, answer)
	if err != nil {
		return 0, errors.Join(ErrMetricUnavailable, err)
	}
	b, err := e.embedder.Embed(ctx, reference)
	if err != nil {
		return 0, errors.Join(ErrMetricUnavailable, err)
	}

	if len(a) != len(b) || len(a) == 0 {
		return 0, ErrMetricUnavailable
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, ErrMetricUnavailable
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim, nil
}

func exactMatch(answer, reference string) float64 {
	if trimEqual(answer, reference) {
		return 1.0
	}
	return 0.0
}

func ptr(v float64) *float64 {
	return &v
}
