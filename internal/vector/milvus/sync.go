package milvus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/kg"
	"github.com/agrirag/benchmark/pkg/logger"
)

const defaultSyncBatchSize = 100

// EntitySource pages graph entities for indexing. The graph store
// implements it; offset/limit paging keeps memory flat on large graphs.
type EntitySource interface {
	ListEntities(ctx context.Context, offset, limit int) ([]kg.EntityRef, error)
}

// FormIndexer accepts batches of embedded surface forms.
type FormIndexer interface {
	IndexForms(ctx context.Context, forms []SurfaceForm) error
}

// SyncSurfaceForms pages every titled graph entity through the embedder
// into the index, one batch at a time. It returns the number of forms
// indexed; on error that count covers the batches already written.
func SyncSurfaceForms(ctx context.Context, src EntitySource, embedder Embedder, dst FormIndexer, batchSize int) (int, error) {
	if batchSize < 1 {
		batchSize = defaultSyncBatchSize
	}

	indexed := 0
	for offset := 0; ; offset += batchSize {
		entities, err := src.ListEntities(ctx, offset, batchSize)
		if err != nil {
			return indexed, fmt.Errorf("failed to page entities at offset %d: %w", offset, err)
		}
		if len(entities) == 0 {
			break
		}

		forms := make([]SurfaceForm, 0, len(entities))
		for _, e := range entities {
			if e.SurfaceForm == "" {
				continue
			}
			vector, err := embedder.Embed(ctx, e.SurfaceForm)
			if err != nil {
				return indexed, fmt.Errorf("failed to embed surface form %q: %w", e.SurfaceForm, err)
			}
			forms = append(forms, SurfaceForm{
				GraphID:    e.GraphID,
				Text:       e.SurfaceForm,
				EntityType: e.Type,
				Embedding:  vector,
			})
		}

		if err := dst.IndexForms(ctx, forms); err != nil {
			return indexed, err
		}
		indexed += len(forms)

		if len(entities) < batchSize {
			break
		}
	}

	logger.Info("Surface form index synced", zap.Int("forms", indexed))

	return indexed, nil
}
