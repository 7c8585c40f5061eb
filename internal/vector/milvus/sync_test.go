package milvus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrirag/benchmark/internal/kg"
)

type pagedSource struct {
	entities []kg.EntityRef
	err      error
}

func (s *pagedSource) ListEntities(ctx context.Context, offset, limit int) ([]kg.EntityRef, error) {
	if s.err != nil {
		return nil, s.err
	}
	if offset >= len(s.entities) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.entities) {
		end = len(s.entities)
	}
	return s.entities[offset:end], nil
}

type lenEmbedder struct {
	failOn string
}

func (e *lenEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == e.failOn {
		return nil, errors.New("embedding api down")
	}
	return []float32{float32(len(text))}, nil
}

type recordingIndexer struct {
	batches [][]SurfaceForm
	err     error
}

func (r *recordingIndexer) IndexForms(ctx context.Context, forms []SurfaceForm) error {
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, forms)
	return nil
}

func graphEntities(n int) []kg.EntityRef {
	names := []string{"rice", "wheat", "rice_blast", "punjab", "tricyclazole"}
	out := make([]kg.EntityRef, n)
	for i := range out {
		name := names[i%len(names)]
		out[i] = kg.EntityRef{GraphID: name, SurfaceForm: name, Type: "Entity"}
	}
	return out
}

func TestSyncSurfaceFormsPagesAllEntities(t *testing.T) {
	src := &pagedSource{entities: graphEntities(5)}
	dst := &recordingIndexer{}

	indexed, err := SyncSurfaceForms(context.Background(), src, &lenEmbedder{}, dst, 2)
	require.NoError(t, err)

	assert.Equal(t, 5, indexed)
	require.Len(t, dst.batches, 3)
	assert.Len(t, dst.batches[0], 2)
	assert.Len(t, dst.batches[2], 1)

	form := dst.batches[0][0]
	assert.Equal(t, "rice", form.GraphID)
	assert.Equal(t, "rice", form.Text)
	assert.Equal(t, "Entity", form.EntityType)
	assert.Equal(t, []float32{4}, form.Embedding)
}

func TestSyncSurfaceFormsSkipsUntitledEntities(t *testing.T) {
	src := &pagedSource{entities: []kg.EntityRef{
		{GraphID: "rice", SurfaceForm: "rice"},
		{GraphID: "orphan"},
		{GraphID: "wheat", SurfaceForm: "wheat"},
	}}
	dst := &recordingIndexer{}

	indexed, err := SyncSurfaceForms(context.Background(), src, &lenEmbedder{}, dst, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, indexed)
	require.Len(t, dst.batches, 1)
	assert.Len(t, dst.batches[0], 2)
}

func TestSyncSurfaceFormsEmbedFailureStopsWithCount(t *testing.T) {
	src := &pagedSource{entities: graphEntities(4)}
	dst := &recordingIndexer{}

	// The failing form is in the second batch, so the first batch has
	// already been written when the sync aborts.
	indexed, err := SyncSurfaceForms(context.Background(), src, &lenEmbedder{failOn: "rice_blast"}, dst, 2)
	require.Error(t, err)
	assert.Equal(t, 2, indexed)
	assert.Len(t, dst.batches, 1)
}

func TestSyncSurfaceFormsSourceFailure(t *testing.T) {
	src := &pagedSource{err: errors.New("graph unavailable")}

	indexed, err := SyncSurfaceForms(context.Background(), src, &lenEmbedder{}, &recordingIndexer{}, 2)
	require.Error(t, err)
	assert.Equal(t, 0, indexed)
}

func TestSyncSurfaceFormsEmptyGraph(t *testing.T) {
	indexed, err := SyncSurfaceForms(context.Background(), &pagedSource{}, &lenEmbedder{}, &recordingIndexer{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, indexed)
}
