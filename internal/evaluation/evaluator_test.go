package evaluation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (m *mapEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if vec, ok := m.vectors[text]; ok {
		return vec, nil
	}
	return []float32{1, 0, 0}, nil
}

func value(t *testing.T, scores map[string]*float64, metric string) float64 {
	t.Helper()
	require.NotNil(t, scores[metric], "metric %s missing", metric)
	return *scores[metric]
}

func TestScoreIdenticalTexts(t *testing.T) {
	e := New(&mapEmbedder{}, 4)

	answer := "apply tricyclazole at the first sign of rice blast lesions"
	scores := e.Score(context.Background(), answer, answer)

	assert.InDelta(t, 1.0, value(t, scores, MetricBleu), 1e-9)
	assert.InDelta(t, 1.0, value(t, scores, MetricRouge1F), 1e-9)
	assert.InDelta(t, 1.0, value(t, scores, MetricRouge2F), 1e-9)
	assert.InDelta(t, 1.0, value(t, scores, MetricRougeLF), 1e-9)
	assert.InDelta(t, 1.0, value(t, scores, MetricCosine), 1e-6)
	assert.Equal(t, 1.0, value(t, scores, MetricExact))
}

func TestScoreDisjointTexts(t *testing.T) {
	e := New(&mapEmbedder{vectors: map[string][]float32{
		"alpha beta gamma": {1, 0, 0},
		"delta epsilon":    {0, 1, 0},
	}}, 4)

	scores := e.Score(context.Background(), "alpha beta gamma", "delta epsilon")

	assert.Equal(t, 0.0, value(t, scores, MetricBleu))
	assert.Equal(t, 0.0, value(t, scores, MetricRouge1F))
	assert.Equal(t, 0.0, value(t, scores, MetricRougeLF))
	assert.Equal(t, 0.0, value(t, scores, MetricCosine))
	assert.Equal(t, 0.0, value(t, scores, MetricExact))
}

func TestScoreEmbedderFailureLeavesOtherMetrics(t *testing.T) {
	e := New(&mapEmbedder{err: errors.New("embedding service down")}, 4)

	scores := e.Score(context.Background(), "irrigate weekly", "irrigate weekly")

	assert.Nil(t, scores[MetricCosine])
	assert.InDelta(t, 1.0, value(t, scores, MetricBleu), 1e-9)
	assert.Equal(t, 1.0, value(t, scores, MetricExact))
}

func TestScoreNilEmbedder(t *testing.T) {
	e := New(nil, 4)

	scores := e.Score(context.Background(), "a", "a")
	assert.Nil(t, scores[MetricCosine])
}

func TestScoreDeterministic(t *testing.T) {
	e := New(&mapEmbedder{}, 4)

	answer := "rotate crops and apply neem oil"
	reference := "use neem oil and rotate your crops"

	first := e.Score(context.Background(), answer, reference)
	for i := 0; i < 3; i++ {
		again := e.Score(context.Background(), answer, reference)
		for _, metric := range e.MetricNames() {
			require.NotNil(t, again[metric])
			assert.Equal(t, *first[metric], *again[metric], "metric %s drifted", metric)
		}
	}
}

func TestExactMatchNormalizes(t *testing.T) {
	assert.Equal(t, 1.0, exactMatch("  Apply Urea ", "apply urea"))
	assert.Equal(t, 0.0, exactMatch("apply urea", "apply dap"))
}

func TestCosineClampsNegative(t *testing.T) {
	e := New(&mapEmbedder{vectors: map[string][]float32{
		"a": {1, 0},
		"b": {-1, 0},
	}}, 4)

	cos, err := e.cosine(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 0.0, cos)
}

func TestCosineDimensionMismatch(t *testing.T) {
	e := New(&mapEmbedder{vectors: map[string][]float32{
		"a": {1, 0},
		"b": {1, 0, 0},
	}}, 4)

	_, err := e.cosine(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrMetricUnavailable)
}

func TestBleuShortCandidateSmoothing(t *testing.T) {
	// A two-token candidate cannot form a 4-gram; the effective order
	// caps at the candidate length instead of zeroing the score.
	cand := tokenize("rice blast")
	ref := tokenize("rice blast is a fungal disease")

	score := bleu(cand, ref, 4)
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 1.0)
}

func TestBleuBrevityPenalty(t *testing.T) {
	full := bleu(tokenize("a b c d"), tokenize("a b c d"), 4)
	short := bleu(tokenize("a b"), tokenize("a b c d"), 4)

	assert.InDelta(t, 1.0, full, 1e-9)
	expected := math.Exp(1.0 - 4.0/2.0)
	assert.InDelta(t, expected, short, 1e-9)
}

func TestRougeNHandComputed(t *testing.T) {
	cand := tokenize("the cat sat on the mat")
	ref := tokenize("the cat lay on the mat")

	// Unigrams: 5 of 6 overlap in both directions.
	assert.InDelta(t, 5.0/6.0, rougeN(cand, ref, 1), 1e-9)

	// Bigrams: "the cat", "on the", "the mat" overlap; 3 of 5 each side.
	assert.InDelta(t, 3.0/5.0, rougeN(cand, ref, 2), 1e-9)
}

func TestRougeLHandComputed(t *testing.T) {
	cand := tokenize("the cat sat")
	ref := tokenize("the cat ran far")

	// LCS is "the cat": P=2/3, R=2/4, F=2*P*R/(P+R).
	p, r := 2.0/3.0, 2.0/4.0
	assert.InDelta(t, 2*p*r/(p+r), rougeL(cand, ref), 1e-9)
}

func TestLexicalMetricsEmptyInputs(t *testing.T) {
	assert.Equal(t, 1.0, bleu(nil, nil, 4))
	assert.Equal(t, 0.0, bleu(nil, tokenize("a"), 4))
	assert.Equal(t, 0.0, bleu(tokenize("a"), nil, 4))
	assert.Equal(t, 1.0, rougeL(nil, nil))
	assert.Equal(t, 0.0, rougeL(tokenize("a"), nil))
}
