// Package analyzer turns a free-text question into the set of graph
// entities it mentions. Mention extraction uses prose (NER plus noun
// chunks); resolution goes through the kg.Store, with an optional
// embedding-based fallback for mentions the store cannot match.
package analyzer

import (
	"context"
	"sort"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/agrirag/benchmark/internal/kg"
	"github.com/agrirag/benchmark/pkg/logger"
)

// FuzzyResolver resolves a mention by vector similarity over known
// entity surface forms. Optional; nil disables the fallback.
type FuzzyResolver interface {
	Resolve(ctx context.Context, mention string, topK int) ([]kg.Match, error)
}

type Analyzer struct {
	store         kg.Store
	fuzzy         FuzzyResolver
	maxCandidates int
}

func New(store kg.Store, fuzzy FuzzyResolver, maxCandidatesPerMention int) *Analyzer {
	if maxCandidatesPerMention < 1 {
		maxCandidatesPerMention = 1
	}
	return &Analyzer{
		store:         store,
		fuzzy:         fuzzy,
		maxCandidates: maxCandidatesPerMention,
	}
}

// Analyze resolves the question's entity mentions against the graph.
// An empty result is a valid outcome, not an error. The function has no
// side effects; for a fixed question and store state the output is
// deterministic.
func (a *Analyzer) Analyze(ctx context.Context, question string) ([]kg.EntityRef, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil
	}

	mentions := extractMentions(question)
	if len(mentions) == 0 {
		return nil, nil
	}

	resolved := make(map[string][]kg.Match, len(mentions))
	for _, mention := range mentions {
		matches, err := a.store.FindEntities(ctx, mention)
		if err != nil {
			return nil, err
		}

		if len(matches) == 0 && a.fuzzy != nil {
			matches, err = a.fuzzy.Resolve(ctx, mention, a.maxCandidates)
			if err != nil {
				// Fuzzy linking is best-effort; a dead vector index must
				// not take entity recognition down with it.
				logger.Warn("Fuzzy entity resolution failed",
					zap.String("mention", mention),
					zap.Error(err),
				)
				matches = nil
			}
		}

		if len(matches) > 0 {
			resolved[mention] = matches
		}
	}

	seen := make(map[string]bool)
	var out []kg.EntityRef
	for _, mention := range mentions {
		matches, ok := resolved[mention]
		if !ok {
			continue
		}

		anchors := a.anchorsFor(mention, mentions, resolved)
		kept := a.rankCandidates(ctx, matches, anchors)

		for _, m := range kept {
			if seen[m.Entity.GraphID] {
				continue
			}
			seen[m.Entity.GraphID] = true
			out = append(out, m.Entity)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GraphID < out[j].GraphID })

	logger.Debug("Question analyzed",
		zap.Int("mentions", len(mentions)),
		zap.Int("entities", len(out)),
	)

	return out, nil
}

// rankCandidates keeps the top maxCandidates matches. Order: confidence
// descending, then shorter graph distance to any anchor entity when the
// store can estimate distances, then lexicographic graph id.
func (a *Analyzer) rankCandidates(ctx context.Context, matches []kg.Match, anchors []kg.EntityRef) []kg.Match {
	ranked := make([]kg.Match, len(matches))
	copy(ranked, matches)

	estimator, hasEstimator := a.store.(kg.DistanceEstimator)

	distance := func(m kg.Match) int {
		if !hasEstimator || len(anchors) == 0 {
			return -1
		}
		best := -1
		for _, anchor := range anchors {
			d, err := estimator.Distance(ctx, m.Entity, anchor)
			if err != nil || d < 0 {
				continue
			}
			if best < 0 || d < best {
				best = d
			}
		}
		return best
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Confidence != ranked[j].Confidence {
			return ranked[i].Confidence > ranked[j].Confidence
		}
		di, dj := distance(ranked[i]), distance(ranked[j])
		if di != dj {
			if di < 0 {
				return false
			}
			if dj < 0 {
				return true
			}
			return di < dj
		}
		return ranked[i].Entity.GraphID < ranked[j].Entity.GraphID
	})

	if len(ranked) > a.maxCandidates {
		ranked = ranked[:a.maxCandidates]
	}
	return ranked
}

// anchorsFor collects the exact-match entities of every other mention;
// these anchor the graph-distance tie-break for ambiguous candidates.
func (a *Analyzer) anchorsFor(mention string, mentions []string, resolved map[string][]kg.Match) []kg.EntityRef {
	var anchors []kg.EntityRef
	for _, other := range mentions {
		if other == mention {
			continue
		}
		for _, m := range resolved[other] {
			if m.Confidence >= 1.0 {
				anchors = append(anchors, m.Entity)
			}
		}
	}
	return anchors
}

// extractMentions pulls candidate surface forms out of the question:
// prose named entities first, then maximal runs of noun-tagged tokens.
// Order follows first appearance; duplicates are dropped
// case-insensitively. If tagging fails the raw words serve as a crude
// fallback so short keyword questions still resolve.
func extractMentions(question string) []string {
	doc, err := prose.NewDocument(question)
	if err != nil {
		logger.Warn("Failed to parse question, falling back to raw tokens", zap.Error(err))
		return dedupeMentions(strings.Fields(question))
	}

	var candidates []string
	for _, ent := range doc.Entities() {
		candidates = append(candidates, ent.Text)
	}

	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		candidates = append(candidates, strings.Join(run, " "))
		if len(run) > 1 {
			// Individual nouns matter too: "rice blast disease" should
			// also try "rice" when the full phrase misses.
			candidates = append(candidates, run...)
		}
		run = nil
	}

	for _, tok := range doc.Tokens() {
		if strings.HasPrefix(tok.Tag, "NN") {
			run = append(run, tok.Text)
		} else {
			flush()
		}
	}
	flush()

	return dedupeMentions(candidates)
}

func dedupeMentions(candidates []string) []string {
	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
