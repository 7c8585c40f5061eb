// Package retrieval assembles a bounded, deterministic fact context for
// a question from its resolved seed entities.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/kg"
	"github.com/agrirag/benchmark/pkg/logger"
)

// Context is the ordered, deduplicated set of facts selected for one
// question. It is built once and read-only afterwards.
type Context struct {
	Facts           []kg.Fact
	TokenBudgetUsed int
	Truncated       bool
}

func (c *Context) Empty() bool {
	return c == nil || len(c.Facts) == 0
}

// Serialize renders the facts one per line using a stable template.
// This text is the payload handed to the model prompt.
func (c *Context) Serialize() string {
	if c.Empty() {
		return ""
	}
	var sb strings.Builder
	for _, f := range c.Facts {
		sb.WriteString(factLine(f))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func factLine(f kg.Fact) string {
	return fmt.Sprintf("%s — %s — %s", f.Subject.SurfaceForm, f.Relation, f.Object.SurfaceForm)
}

type Options struct {
	MaxHops         int
	TokenBudget     int
	BudgetUnit      string // "tokens" (whitespace-delimited) or "bytes"
	RelationWeights map[string]float64
}

type Builder struct {
	store kg.Store
	opts  Options
}

// NewBuilder wires a builder over the given store. MaxHops is taken as
// configured; zero means no traversal and yields empty contexts, the
// configuration layer owns the default.
func NewBuilder(store kg.Store, opts Options) *Builder {
	if opts.BudgetUnit == "" {
		opts.BudgetUnit = "tokens"
	}
	return &Builder{store: store, opts: opts}
}

// candidate tracks a discovered fact together with its discovery index,
// the final ranking tie-break.
type candidate struct {
	fact  kg.Fact
	order int
}

// Build traverses breadth-first from the seeds up to MaxHops, ranks the
// discovered facts and packs them greedily into the token budget.
//
// Determinism: seeds, per-level frontiers and per-level fact batches are
// all explicitly sorted, so the output never depends on the store's
// iteration order. Repeated calls against an unchanged store produce a
// byte-identical serialized context.
//
// A store failure mid-traversal degrades: the facts gathered before the
// failure are returned with Truncated set, alongside an error wrapping
// kg.ErrGraphUnavailable so the caller can record the degradation.
func (b *Builder) Build(ctx context.Context, seeds []kg.EntityRef) (*Context, error) {
	result := &Context{}
	if len(seeds) == 0 || b.opts.MaxHops < 1 {
		return result, nil
	}

	sortedSeeds := make([]kg.EntityRef, len(seeds))
	copy(sortedSeeds, seeds)
	sort.Slice(sortedSeeds, func(i, j int) bool { return sortedSeeds[i].GraphID < sortedSeeds[j].GraphID })

	discovered := make(map[string]*candidate)
	var candidates []*candidate
	var storeErr error

	record := func(f kg.Fact) {
		key := f.TripleKey()
		if _, ok := discovered[key]; ok {
			// First-seen hop distance wins.
			return
		}
		c := &candidate{fact: f, order: len(candidates)}
		discovered[key] = c
		candidates = append(candidates, c)
	}

	// Seed attributes come first: hop distance 1, one literal fact per
	// attribute, attribute names sorted for stable order.
	for _, seed := range sortedSeeds {
		attrs, err := b.store.EntityAttributes(ctx, seed)
		if err != nil {
			storeErr = err
			break
		}
		names := make([]string, 0, len(attrs))
		for name := range attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			record(kg.Fact{
				Subject:     seed,
				Relation:    name,
				Object:      kg.Literal(attrs[name]),
				HopDistance: 1,
			})
		}
	}

	if storeErr == nil {
		storeErr = b.traverse(ctx, sortedSeeds, record)
	}

	ranked := b.rank(candidates)

	budget := b.opts.TokenBudget
	for _, c := range ranked {
		cost := b.cost(c.fact)
		if result.TokenBudgetUsed+cost > budget {
			result.Truncated = true
			break
		}
		result.Facts = append(result.Facts, c.fact)
		result.TokenBudgetUsed += cost
	}

	if storeErr != nil {
		result.Truncated = true
		logger.Warn("Graph traversal degraded, returning partial context",
			zap.Int("facts", len(result.Facts)),
			zap.Error(storeErr),
		)
		if !isGraphUnavailable(storeErr) {
			storeErr = fmt.Errorf("%w: %v", kg.ErrGraphUnavailable, storeErr)
		}
		return result, storeErr
	}

	logger.Debug("Context built",
		zap.Int("seeds", len(seeds)),
		zap.Int("facts", len(result.Facts)),
		zap.Int("budget_used", result.TokenBudgetUsed),
		zap.Bool("truncated", result.Truncated),
	)

	return result, nil
}

// traverse expands one hop level at a time so the first-seen hop
// distance of a fact is always the shortest one.
func (b *Builder) traverse(ctx context.Context, seeds []kg.EntityRef, record func(kg.Fact)) error {
	visited := make(map[string]bool, len(seeds))
	frontier := make([]kg.EntityRef, 0, len(seeds))
	for _, s := range seeds {
		if !visited[s.GraphID] {
			visited[s.GraphID] = true
			frontier = append(frontier, s)
		}
	}

	for hop := 1; hop <= b.opts.MaxHops && len(frontier) > 0; hop++ {
		var level []kg.Fact
		for _, entity := range frontier {
			facts, err := b.store.Neighbors(ctx, entity, 1)
			if err != nil {
				// Keep what this level already produced before failing.
				b.recordLevel(level, hop, record)
				return err
			}
			level = append(level, facts...)
		}

		next := b.recordLevel(level, hop, record)

		frontier = frontier[:0]
		for _, entity := range next {
			if entity.IsLiteral() || visited[entity.GraphID] {
				continue
			}
			visited[entity.GraphID] = true
			frontier = append(frontier, entity)
		}
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].GraphID < frontier[j].GraphID })
	}

	return nil
}

// recordLevel sorts a level batch by triple key before recording, then
// returns the object entities that may extend the frontier.
func (b *Builder) recordLevel(level []kg.Fact, hop int, record func(kg.Fact)) []kg.EntityRef {
	sort.Slice(level, func(i, j int) bool { return level[i].TripleKey() < level[j].TripleKey() })

	var next []kg.EntityRef
	for _, f := range level {
		f.HopDistance = hop
		record(f)
		next = append(next, f.Object)
	}
	return next
}

// rank orders candidates by 1/(1+hop) descending, then relation weight
// descending, then discovery order.
func (b *Builder) rank(candidates []*candidate) []*candidate {
	ranked := make([]*candidate, len(candidates))
	copy(ranked, candidates)

	score := func(c *candidate) float64 {
		return 1.0 / (1.0 + float64(c.fact.HopDistance))
	}
	weight := func(c *candidate) float64 {
		if w, ok := b.opts.RelationWeights[c.fact.Relation]; ok {
			return w
		}
		return 1.0
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := score(ranked[i]), score(ranked[j])
		if si != sj {
			return si > sj
		}
		wi, wj := weight(ranked[i]), weight(ranked[j])
		if wi != wj {
			return wi > wj
		}
		return ranked[i].order < ranked[j].order
	})

	return ranked
}

func (b *Builder) cost(f kg.Fact) int {
	line := factLine(f)
	if b.opts.BudgetUnit == "bytes" {
		return len(line)
	}
	return len(strings.Fields(line))
}

func isGraphUnavailable(err error) bool {
	return errors.Is(err, kg.ErrGraphUnavailable)
}
