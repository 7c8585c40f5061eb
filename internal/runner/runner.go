// Package runner defines the model variants under comparison. Both
// share one generation contract; GraphRAG composes the question
// analyzer and the context builder in front of the same model call.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/agrirag/benchmark/internal/llm"
	"github.com/agrirag/benchmark/internal/storage/models"
	"github.com/agrirag/benchmark/pkg/logger"
	"github.com/agrirag/benchmark/pkg/retry"

	"go.uber.org/zap"
)

const (
	VariantBasicLLM = "basic_llm"
	VariantGraphRAG = "graph_rag"
)

// Generator is the opaque language-model collaborator: prompt in,
// text out. Failures surface as llm.ErrModelUnavailable when retryable.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Runner produces an answer record for one QA example. Implementations
// degrade to an empty answer on model failure; they only propagate an
// error when the surrounding run is being cancelled.
type Runner interface {
	Name() string
	Run(ctx context.Context, rec models.QARecord) (*models.AnswerRecord, error)
}

type Options struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     int
	InitialBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.InitialBackoff == 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	return o
}

// generateWithRetry runs the model call with exponential backoff on
// ErrModelUnavailable. The returned latency covers only the successful
// attempt.
func generateWithRetry(ctx context.Context, gen Generator, opts Options, prompt string) (answer string, latency time.Duration, attempts int, err error) {
	opts = opts.withDefaults()

	cfg := retry.Config{
		MaxAttempts:     opts.MaxRetries + 1,
		InitialDelay:    opts.InitialBackoff,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		JitterFraction:  0.1,
		RetryableErrors: []error{llm.ErrModelUnavailable},
		Logger:          logger.GetLogger(),
	}

	err = retry.Do(ctx, cfg, func(attempt int) error {
		attempts = attempt
		start := time.Now()
		text, genErr := gen.Generate(ctx, prompt)
		if genErr != nil {
			return genErr
		}
		answer = text
		latency = time.Since(start)
		return nil
	})
	return answer, latency, attempts, err
}

// finishRecord folds the generation outcome into the record. Model
// failures are recorded, never fatal; only run cancellation propagates.
func finishRecord(rec *models.AnswerRecord, answer string, latency time.Duration, attempts int, err error) (*models.AnswerRecord, error) {
	rec.CreatedAt = time.Now()
	rec.Metadata["attempts"] = strconv.Itoa(attempts)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		rec.AnswerText = ""
		rec.Metadata["generation_failed"] = err.Error()
		logger.Warn("Generation failed after retries, recording empty answer",
			zap.String("qa_id", rec.QAID),
			zap.String("variant", rec.Variant),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return rec, nil
	}

	rec.AnswerText = answer
	rec.Latency = latency
	return rec, nil
}

const instruction = "As an agriculture expert, answer the farmer's questions based on their description, providing accurate, practical, and actionable advice."

const basicPromptTemplate = `Below is an instruction that describes a task. Write a response that appropriately completes the request.

### Instruction:
%s

### Input:
%s

### Response:
`

const contextPromptTemplate = `Below is an instruction that describes a task, paired with knowledge graph facts relevant to the input. Write a response that appropriately completes the request, grounding it in the provided facts.

### Instruction:
%s

### Knowledge Graph Facts:
%s
### Input:
%s

### Response:
`

// BuildPrompt renders the shared prompt layout. An empty context yields
// the exact baseline prompt, so GraphRAG degrades to BasicLLM behavior
// when retrieval finds nothing.
func BuildPrompt(question, contextText string) string {
	if contextText == "" {
		return fmt.Sprintf(basicPromptTemplate, instruction, question)
	}
	return fmt.Sprintf(contextPromptTemplate, instruction, contextText, question)
}
