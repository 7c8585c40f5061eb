package runner

import (
	"context"

	"github.com/agrirag/benchmark/internal/storage/models"
)

// BasicLLM answers every question with the bare prompt: no retrieval,
// no context. It is the baseline the graph-grounded variant is measured
// against.
type BasicLLM struct {
	gen  Generator
	opts Options
}

func NewBasicLLM(gen Generator, opts Options) *BasicLLM {
	return &BasicLLM{gen: gen, opts: opts}
}

func (b *BasicLLM) Name() string {
	return VariantBasicLLM
}

func (b *BasicLLM) Run(ctx context.Context, rec models.QARecord) (*models.AnswerRecord, error) {
	out := &models.AnswerRecord{
		QAID:     rec.ID,
		Variant:  b.Name(),
		Metadata: map[string]string{},
	}

	prompt := BuildPrompt(rec.Question, "")
	answer, latency, attempts, err := generateWithRetry(ctx, b.gen, b.opts, prompt)
	return finishRecord(out, answer, latency, attempts, err)
}
