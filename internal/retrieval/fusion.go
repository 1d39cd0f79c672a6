package retrieval

import (
	"fmt"
	"sort"
	"strings"
)

// Strategy selects how per-retriever result lists are combined.
type Strategy string

const (
	// StrategyScore sums weighted normalized scores per chunk.
	StrategyScore Strategy = "score"

	// StrategyRank applies Reciprocal Rank Fusion: weight/(k+rank)
	// summed over retrievers that returned the chunk.
	StrategyRank Strategy = "rank"

	// StrategyWeighted is StrategyScore with an additional
	// per-retriever confidence multiplier.
	StrategyWeighted Strategy = "weighted"

	// StrategyVoting counts one weighted vote per retriever that
	// shortlisted the chunk, ignoring scores and ranks entirely.
	StrategyVoting Strategy = "voting"
)

// DefaultRRFConstant is the standard RRF damping constant. It keeps
// rank differences among top results meaningful without letting rank 1
// dominate the sum.
const DefaultRRFConstant = 60

// ParseStrategy maps a string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case StrategyScore:
		return StrategyScore, nil
	case StrategyRank:
		return StrategyRank, nil
	case StrategyWeighted:
		return StrategyWeighted, nil
	case StrategyVoting:
		return StrategyVoting, nil
	default:
		return "", fmt.Errorf("%w: unknown fusion strategy %q", ErrInvalidArgument, s)
	}
}

// contribution is one retriever's evidence for a chunk during fusion.
type contribution struct {
	retriever  string
	weight     float64
	confidence float64
	score      float64
	rank       int
}

// fusedEntry accumulates evidence for one chunk across retrievers.
type fusedEntry struct {
	result       Result
	score        float64
	contributors []string
}

// fuse merges per-retriever lists into one ranked list, deduplicating
// by chunk id. lists is keyed by retriever name; weights and
// confidences must cover every key in lists.
func fuse(strategy Strategy, lists map[string][]Result, weights, confidences map[string]float64, topK int) []Result {
	entries := make(map[string]*fusedEntry)

	for name, list := range lists {
		w := weights[name]
		c := confidences[name]
		for _, res := range list {
			entry, ok := entries[res.Chunk.ID]
			if !ok {
				entry = &fusedEntry{result: res}
				entries[res.Chunk.ID] = entry
			}
			entry.score += contributionScore(strategy, contribution{
				retriever:  name,
				weight:     w,
				confidence: c,
				score:      res.Score,
				rank:       res.Rank,
			})
			entry.contributors = append(entry.contributors, name)
		}
	}

	fused := make([]Result, 0, len(entries))
	for _, entry := range entries {
		res := entry.result
		res.Score = entry.score
		sort.Strings(entry.contributors)
		res.Retriever = strings.Join(entry.contributors, ",")
		fused = append(fused, res)
	}

	sortResults(fused)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}

// contributionScore computes one retriever's additive contribution to
// a chunk's fused score. Retrievers that did not return the chunk
// contribute nothing, which falls out of the per-list iteration above.
func contributionScore(strategy Strategy, c contribution) float64 {
	switch strategy {
	case StrategyRank:
		return c.weight / float64(DefaultRRFConstant+c.rank)
	case StrategyWeighted:
		return c.weight * c.confidence * c.score
	case StrategyVoting:
		// Appearing anywhere in the shortlist is the whole signal.
		return c.weight
	default: // StrategyScore
		return c.weight * c.score
	}
}
