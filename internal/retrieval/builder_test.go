package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrirag/benchmark/internal/kg"
)

// fakeStore serves a fixed in-memory graph. Neighbors deliberately
// alternates its result order between calls so tests catch any
// dependence on store iteration order.
type fakeStore struct {
	attrs map[string]map[string]string
	edges map[string][]kg.Fact

	neighborCalls int
	failAfter     int // fail the Nth Neighbors call onward; 0 disables
	failErr       error
}

func (s *fakeStore) FindEntities(ctx context.Context, text string) ([]kg.Match, error) {
	return nil, nil
}

func (s *fakeStore) Neighbors(ctx context.Context, entity kg.EntityRef, maxHops int) ([]kg.Fact, error) {
	s.neighborCalls++
	if s.failAfter > 0 && s.neighborCalls >= s.failAfter {
		if s.failErr != nil {
			return nil, s.failErr
		}
		return nil, fmt.Errorf("%w: connection reset", kg.ErrGraphUnavailable)
	}

	facts := s.edges[entity.GraphID]
	out := make([]kg.Fact, len(facts))
	if s.neighborCalls%2 == 0 {
		for i, f := range facts {
			out[len(facts)-1-i] = f
		}
	} else {
		copy(out, facts)
	}
	return out, nil
}

func (s *fakeStore) EntityAttributes(ctx context.Context, entity kg.EntityRef) (map[string]string, error) {
	if s.failAfter < 0 {
		return nil, fmt.Errorf("%w: connection reset", kg.ErrGraphUnavailable)
	}
	return s.attrs[entity.GraphID], nil
}

func entity(id string) kg.EntityRef {
	return kg.EntityRef{GraphID: id, SurfaceForm: id, Type: "concept"}
}

func fact(subj, rel, obj string, hop int) kg.Fact {
	return kg.Fact{Subject: entity(subj), Relation: rel, Object: entity(obj), HopDistance: hop}
}

func testStore() *fakeStore {
	return &fakeStore{
		attrs: map[string]map[string]string{
			"rice": {"season": "kharif", "water_need": "high"},
		},
		edges: map[string][]kg.Fact{
			"rice": {
				fact("rice", "AFFECTED_BY", "rice_blast", 0),
				fact("rice", "GROWN_IN", "punjab", 0),
			},
			"rice_blast": {
				fact("rice_blast", "TREATED_WITH", "tricyclazole", 0),
				// Same triple as the seed's edge, reached on a longer path.
				fact("rice_blast", "AFFECTS", "rice", 0),
			},
			"punjab": {
				fact("punjab", "HAS_CLIMATE", "semi_arid", 0),
			},
		},
	}
}

func TestBuildEmptySeeds(t *testing.T) {
	b := NewBuilder(testStore(), Options{MaxHops: 2, TokenBudget: 100})

	result, err := b.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.False(t, result.Truncated)
	assert.Equal(t, "", result.Serialize())
}

func TestBuildDeterministic(t *testing.T) {
	seeds := []kg.EntityRef{entity("rice")}

	var first string
	for i := 0; i < 5; i++ {
		b := NewBuilder(testStore(), Options{MaxHops: 2, TokenBudget: 1000})
		result, err := b.Build(context.Background(), seeds)
		require.NoError(t, err)
		require.False(t, result.Empty())

		serialized := result.Serialize()
		if i == 0 {
			first = serialized
			continue
		}
		assert.Equal(t, first, serialized, "build %d differs", i)
	}
}

func TestBuildSeedOrderIrrelevant(t *testing.T) {
	b1 := NewBuilder(testStore(), Options{MaxHops: 1, TokenBudget: 1000})
	b2 := NewBuilder(testStore(), Options{MaxHops: 1, TokenBudget: 1000})

	r1, err := b1.Build(context.Background(), []kg.EntityRef{entity("rice"), entity("punjab")})
	require.NoError(t, err)
	r2, err := b2.Build(context.Background(), []kg.EntityRef{entity("punjab"), entity("rice")})
	require.NoError(t, err)

	assert.Equal(t, r1.Serialize(), r2.Serialize())
}

func TestBuildDeduplicatesTriples(t *testing.T) {
	store := testStore()
	// rice -> rice_blast -> rice creates a cycle; the AFFECTED_BY triple
	// must appear once, at its first-seen hop.
	b := NewBuilder(store, Options{MaxHops: 3, TokenBudget: 1000})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, f := range result.Facts {
		seen[f.TripleKey()]++
	}
	for key, count := range seen {
		assert.Equal(t, 1, count, "triple %q recorded %d times", key, count)
	}
}

func TestBuildHopDistanceFirstSeen(t *testing.T) {
	b := NewBuilder(testStore(), Options{MaxHops: 3, TokenBudget: 1000})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.NoError(t, err)

	for _, f := range result.Facts {
		switch {
		case f.Subject.GraphID == "rice" && !f.Object.IsLiteral():
			assert.Equal(t, 1, f.HopDistance, "direct edge %s", f.Relation)
		case f.Subject.GraphID == "rice_blast" || f.Subject.GraphID == "punjab":
			assert.Equal(t, 2, f.HopDistance, "second hop edge %s", f.Relation)
		}
	}
}

func TestBuildZeroHopsYieldsEmptyContext(t *testing.T) {
	// Zero hops is a legal configuration meaning no traversal at all,
	// not a request for the default depth.
	b := NewBuilder(testStore(), Options{MaxHops: 0, TokenBudget: 1000})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.False(t, result.Truncated)
	assert.Equal(t, 0, result.TokenBudgetUsed)
}

func TestBuildZeroBudgetTruncates(t *testing.T) {
	b := NewBuilder(testStore(), Options{MaxHops: 1, TokenBudget: 0})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.NoError(t, err)
	assert.True(t, result.Empty())
	assert.True(t, result.Truncated)
	assert.Equal(t, 0, result.TokenBudgetUsed)
}

func TestBuildBudgetGreedyPacking(t *testing.T) {
	// Every fact line costs 5 whitespace tokens here; a budget of 12
	// fits exactly two facts.
	b := NewBuilder(testStore(), Options{MaxHops: 2, TokenBudget: 12})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.NoError(t, err)
	assert.Len(t, result.Facts, 2)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, result.TokenBudgetUsed, 12)
}

func TestBuildByteBudget(t *testing.T) {
	b := NewBuilder(testStore(), Options{MaxHops: 1, TokenBudget: 10000, BudgetUnit: "bytes"})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.NoError(t, err)

	total := 0
	for _, f := range result.Facts {
		total += len(factLine(f))
	}
	assert.Equal(t, total, result.TokenBudgetUsed)
}

func TestBuildRankingHopThenWeightThenOrder(t *testing.T) {
	weights := map[string]float64{
		"GROWN_IN":    2.0,
		"AFFECTED_BY": 1.0,
	}
	b := NewBuilder(testStore(), Options{MaxHops: 2, TokenBudget: 1000, RelationWeights: weights})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.NoError(t, err)
	require.NotEmpty(t, result.Facts)

	// Hop 1 facts come before hop 2 facts.
	lastHop := 0
	for _, f := range result.Facts {
		assert.GreaterOrEqual(t, f.HopDistance, lastHop)
		lastHop = f.HopDistance
	}

	// Within hop 1 graph edges, the heavier relation wins.
	var hop1Relations []string
	for _, f := range result.Facts {
		if f.HopDistance == 1 && !f.Object.IsLiteral() {
			hop1Relations = append(hop1Relations, f.Relation)
		}
	}
	require.Equal(t, []string{"GROWN_IN", "AFFECTED_BY"}, hop1Relations)
}

func TestBuildPartialOnGraphFailure(t *testing.T) {
	store := testStore()
	store.failAfter = 2 // first Neighbors call succeeds, second fails

	b := NewBuilder(store, Options{MaxHops: 2, TokenBudget: 1000})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.Error(t, err)
	assert.ErrorIs(t, err, kg.ErrGraphUnavailable)
	assert.True(t, result.Truncated)
	// Seed attributes plus the first level survive.
	assert.NotEmpty(t, result.Facts)
}

func TestBuildWrapsUnclassifiedStoreError(t *testing.T) {
	store := testStore()
	store.failAfter = 1
	store.failErr = errors.New("socket closed")

	b := NewBuilder(store, Options{MaxHops: 2, TokenBudget: 1000})

	_, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.Error(t, err)
	assert.ErrorIs(t, err, kg.ErrGraphUnavailable)
}

func TestBuildAttributeFailureDegrades(t *testing.T) {
	store := testStore()
	store.failAfter = -1 // EntityAttributes fails immediately

	b := NewBuilder(store, Options{MaxHops: 2, TokenBudget: 1000})

	result, err := b.Build(context.Background(), []kg.EntityRef{entity("rice")})
	require.Error(t, err)
	assert.ErrorIs(t, err, kg.ErrGraphUnavailable)
	assert.True(t, result.Truncated)
}

func TestSerializeFormat(t *testing.T) {
	c := &Context{Facts: []kg.Fact{fact("rice", "GROWN_IN", "punjab", 1)}}
	assert.Equal(t, "rice — GROWN_IN — punjab\n", c.Serialize())
}
