package evaluation

import (
	"math"
	"strings"
)

// tokenize lowercases and splits on whitespace. The lexical metrics all
// share this view of the text so their scores stay comparable.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func trimEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func ngramCounts(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], " ")]++
	}
	return counts
}

// bleu is corpus-of-one BLEU with add-one smoothing on orders above
// unigram and an effective max order capped at the candidate length, so
// short answers are not zeroed out by impossible n-gram orders.
func bleu(cand, ref []string, maxOrder int) float64 {
	if len(cand) == 0 && len(ref) == 0 {
		return 1.0
	}
	if len(cand) == 0 || len(ref) == 0 {
		return 0.0
	}

	order := maxOrder
	if len(cand) < order {
		order = len(cand)
	}

	logSum := 0.0
	for n := 1; n <= order; n++ {
		matches, total := clippedMatches(cand, ref, n)
		var p float64
		if n == 1 {
			if matches == 0 {
				return 0.0
			}
			p = float64(matches) / float64(total)
		} else {
			p = float64(matches+1) / float64(total+1)
		}
		logSum += math.Log(p)
	}
	precision := math.Exp(logSum / float64(order))

	bp := 1.0
	if len(cand) < len(ref) {
		bp = math.Exp(1.0 - float64(len(ref))/float64(len(cand)))
	}
	return bp * precision
}

func clippedMatches(cand, ref []string, n int) (matches, total int) {
	candCounts := ngramCounts(cand, n)
	refCounts := ngramCounts(ref, n)
	for gram, count := range candCounts {
		total += count
		if rc, ok := refCounts[gram]; ok {
			if count < rc {
				matches += count
			} else {
				matches += rc
			}
		}
	}
	return matches, total
}

// rougeN is the n-gram F1 between candidate and reference.
func rougeN(cand, ref []string, n int) float64 {
	if len(cand) < n && len(ref) < n {
		return 1.0
	}
	matches, candTotal := clippedMatches(cand, ref, n)
	refTotal := 0
	for _, c := range ngramCounts(ref, n) {
		refTotal += c
	}
	return fMeasure(matches, candTotal, refTotal)
}

// rougeL is the F1 built on the longest common subsequence, rewarding
// in-order overlap without requiring contiguity.
func rougeL(cand, ref []string) float64 {
	if len(cand) == 0 && len(ref) == 0 {
		return 1.0
	}
	lcs := lcsLength(cand, ref)
	return fMeasure(lcs, len(cand), len(ref))
}

func fMeasure(matches, candTotal, refTotal int) float64 {
	if matches == 0 || candTotal == 0 || refTotal == 0 {
		return 0.0
	}
	precision := float64(matches) / float64(candTotal)
	recall := float64(matches) / float64(refTotal)
	return 2 * precision * recall / (precision + recall)
}

func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
