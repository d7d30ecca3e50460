package ranking

import "strings"

// ScorerConfig holds the relevance weights. The default policy weighs exact
// substring containment heaviest, then the fraction of distinct query tokens
// present in the chunk, then the fraction of the chunk's distinct vocabulary
// shared with the query (favors short, focused chunks between otherwise equal
// candidates). The weights sum to 1, so scores stay in [0, 1].
type ScorerConfig struct {
	SubstringWeight     float64
	QueryCoverageWeight float64
	ChunkCoverageWeight float64
}

// DefaultScorerConfig returns the fixed default scoring policy.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		SubstringWeight:     0.6,
		QueryCoverageWeight: 0.3,
		ChunkCoverageWeight: 0.1,
	}
}

// Scorer computes query/chunk relevance from token overlap plus a substring
// bonus. It needs no corpus statistics, so it is cheap to evaluate per query
// over an entire knowledge base without a precomputed index.
type Scorer struct {
	config ScorerConfig
}

// NewScorer returns a scorer with the default weights.
func NewScorer() *Scorer {
	return &Scorer{config: DefaultScorerConfig()}
}

// Score returns the relevance of content to query. Empty or token-free inputs
// score 0.
func (s *Scorer) Score(query, content string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	c := strings.ToLower(strings.TrimSpace(content))
	if q == "" || c == "" {
		return 0
	}

	querySet := tokenSet(q)
	chunkSet := tokenSet(c)
	if len(querySet) == 0 || len(chunkSet) == 0 {
		return 0
	}

	shared := 0
	for tok := range querySet {
		if _, ok := chunkSet[tok]; ok {
			shared++
		}
	}

	queryCoverage := float64(shared) / float64(len(querySet))
	chunkCoverage := float64(shared) / float64(len(chunkSet))
	substringBonus := 0.0
	if strings.Contains(c, q) {
		substringBonus = 1.0
	}

	return s.config.SubstringWeight*substringBonus +
		s.config.QueryCoverageWeight*queryCoverage +
		s.config.ChunkCoverageWeight*chunkCoverage
}
