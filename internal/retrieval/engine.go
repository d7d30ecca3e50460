// Package retrieval runs scored top-K chunk retrieval over one knowledge base.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/flowport/flowport/internal/models"
	"github.com/flowport/flowport/internal/ranking"
	"github.com/flowport/flowport/internal/storage"
)

const (
	// DefaultTopK is the match count used when a query does not ask for one.
	DefaultTopK = 4
	// MaxTopK caps the match count of any single query.
	MaxTopK = 20
)

// Engine scores every chunk of a knowledge base against a query and returns
// the best matches.
type Engine struct {
	store       storage.Storage
	scorer      *ranking.Scorer
	defaultTopK int
	maxTopK     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopKBounds overrides the default and maximum match counts. Non-positive
// or inconsistent values keep the built-in bounds.
func WithTopKBounds(defaultTopK, maxTopK int) Option {
	return func(e *Engine) {
		if defaultTopK > 0 {
			e.defaultTopK = defaultTopK
		}
		if maxTopK >= e.defaultTopK {
			e.maxTopK = maxTopK
		}
	}
}

// NewEngine creates a retrieval engine over the given store.
func NewEngine(store storage.Storage, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		scorer:      ranking.NewScorer(),
		defaultTopK: DefaultTopK,
		maxTopK:     MaxTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// clampTopK normalizes a requested match count: unset (<= 0) becomes the
// default, anything above the maximum is capped.
func (e *Engine) clampTopK(topK int) int {
	if topK <= 0 {
		return e.defaultTopK
	}
	if topK > e.maxTopK {
		return e.maxTopK
	}
	return topK
}

// Query retrieves the topK best-scoring chunks of a base for a query.
// The base must exist. A blank query yields an empty match list, not an
// error. Zero-score chunks are never returned. Ties keep document and chunk
// order, so results are deterministic.
func (e *Engine) Query(ctx context.Context, kbID, query string, topK int) (*models.QueryResponse, error) {
	kb, err := e.store.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}
	topK = e.clampTopK(topK)

	resp := &models.QueryResponse{
		KnowledgeBaseID: kb.ID,
		Query:           query,
		Matches:         []models.ChunkMatch{},
	}
	if strings.TrimSpace(query) == "" {
		return resp, nil
	}

	docs, err := e.store.ListDocuments(ctx, kbID)
	if err != nil {
		return nil, err
	}
	var matches []models.ChunkMatch
	for _, doc := range docs {
		chunks, err := e.store.GetChunksByDocumentID(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			score := e.scorer.Score(query, chunk.Content)
			if score <= 0 {
				continue
			}
			matches = append(matches, models.ChunkMatch{
				ChunkID:       chunk.ID,
				Score:         score,
				Content:       chunk.Content,
				DocumentID:    doc.ID,
				DocumentTitle: doc.Title,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	resp.Matches = append(resp.Matches, matches...)
	return resp, nil
}
