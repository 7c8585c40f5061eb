package evaluation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agrirag/benchmark/pkg/logger"
	"github.com/agrirag/benchmark/pkg/utils"
)

// EmbeddingCache is the subset of the redis client the evaluator needs.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// CachedEmbedder memoizes embeddings by text hash. Cache failures fall
// through to the wrapped embedder; only the embedder itself can make
// the cosine metric unavailable.
type CachedEmbedder struct {
	inner Embedder
	cache EmbeddingCache
	ttl   time.Duration
}

func NewCachedEmbedder(inner Embedder, cache EmbeddingCache, ttl time.Duration) *CachedEmbedder {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{inner: inner, cache: cache, ttl: ttl}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := utils.HashString(text)

	if e.cache != nil {
		if vec, ok, err := e.cache.GetEmbedding(ctx, hash); err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		} else if ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.SetEmbedding(ctx, hash, vec, e.ttl); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
	return vec, nil
}
