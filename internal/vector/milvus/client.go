// Package milvus resolves free-text entity mentions against a vector
// index of graph surface forms. It backs the analyzer's fuzzy fallback
// when exact title lookup in the graph finds nothing.
package milvus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/kg"
	"github.com/agrirag/benchmark/pkg/logger"
)

// Embedder turns a mention into the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Client struct {
	client         client.Client
	embedder       Embedder
	collectionName string
	vectorDim      int
}

// SurfaceForm is one indexed spelling of a graph entity. An entity may
// carry several surface forms, all pointing at the same graph id.
type SurfaceForm struct {
	GraphID    string
	Text       string
	EntityType string
	Embedding  []float32
}

func NewClient(endpoint, collectionName string, vectorDim int, embedder Embedder) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		embedder:       embedder,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// CreateCollection ensures the surface form collection exists and is
// loaded. It reports whether the collection was newly created, so the
// caller knows an initial index sync is needed.
func (m *Client) CreateCollection(ctx context.Context) (bool, error) {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return false, nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Knowledge graph entity surface forms",
		Fields: []*entity.Field{
			{
				Name:       "form_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "graph_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "256",
				},
			},
			{
				Name:     "surface_form",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "512",
				},
			},
			{
				Name:     "entity_type",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return false, fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.L2, 1024)
	if err != nil {
		return false, fmt.Errorf("failed to create index: %w", err)
	}
	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return false, fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return false, fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return true, nil
}

// IndexForms inserts surface forms that already carry embeddings.
func (m *Client) IndexForms(ctx context.Context, forms []SurfaceForm) error {
	if len(forms) == 0 {
		return nil
	}

	formIDs := make([]string, len(forms))
	embeddings := make([][]float32, len(forms))
	graphIDs := make([]string, len(forms))
	texts := make([]string, len(forms))
	entityTypes := make([]string, len(forms))

	for i, form := range forms {
		formIDs[i] = uuid.New().String()
		embeddings[i] = form.Embedding
		graphIDs[i] = form.GraphID
		texts[i] = form.Text
		entityTypes[i] = form.EntityType
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("form_id", formIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("graph_id", graphIDs),
		entity.NewColumnVarChar("surface_form", texts),
		entity.NewColumnVarChar("entity_type", entityTypes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert surface forms: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Surface forms indexed", zap.Int("count", len(forms)))

	return nil
}

// Resolve embeds the mention and returns the nearest graph entities as
// matches. L2 distance maps to confidence as 1/(1+distance), keeping
// exact-lookup matches (confidence 1.0) ahead of any fuzzy hit.
func (m *Client) Resolve(ctx context.Context, mention string, topK int) ([]kg.Match, error) {
	if topK < 1 {
		topK = 3
	}

	vector, err := m.embedder.Embed(ctx, mention)
	if err != nil {
		return nil, fmt.Errorf("failed to embed mention: %w", err)
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		"",
		[]string{"graph_id", "surface_form", "entity_type"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.L2,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search surface forms: %w", err)
	}

	matches := make([]kg.Match, 0, topK)
	seen := make(map[string]struct{})
	for _, sr := range searchResult {
		graphIDCol := sr.Fields.GetColumn("graph_id")
		formCol := sr.Fields.GetColumn("surface_form")
		typeCol := sr.Fields.GetColumn("entity_type")

		for i := 0; i < sr.ResultCount; i++ {
			graphID, _ := graphIDCol.Get(i)
			form, _ := formCol.Get(i)
			entityType, _ := typeCol.Get(i)

			id := graphID.(string)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			matches = append(matches, kg.Match{
				Entity: kg.EntityRef{
					GraphID:     id,
					SurfaceForm: form.(string),
					Type:        entityType.(string),
				},
				Confidence: 1.0 / (1.0 + float64(sr.Scores[i])),
			})
		}
	}

	logger.Debug("Fuzzy mention resolved",
		zap.String("mention", mention),
		zap.Int("matches", len(matches)),
	)

	return matches, nil
}
