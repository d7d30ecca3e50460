// Package storage defines the persistence interface for knowledge bases,
// documents, and chunks.
package storage

import (
	"context"

	"github.com/flowport/flowport/internal/models"
)

// BaseCounts holds the derived document and chunk counts of one knowledge base.
type BaseCounts struct {
	Documents int
	Chunks    int
}

// Storage defines knowledge-base persistence operations. Documents are
// inserted whole with their chunk sequence in a single transaction; readers
// never observe a partially-written document.
type Storage interface {
	// Knowledge base operations
	CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, id string) error

	// Document operations. CreateDocument atomically inserts the document with
	// its full chunk sequence and marks the owning base ready with a fresh
	// updated_at.
	CreateDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	GetDocument(ctx context.Context, kbID, docID string) (*models.Document, error)
	ListDocuments(ctx context.Context, kbID string) ([]*models.Document, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	ChunkCountsByDocument(ctx context.Context, kbID string) (map[string]int, error)

	// Stats
	CountsForKnowledgeBase(ctx context.Context, id string) (BaseCounts, error)
	CountsByKnowledgeBase(ctx context.Context) (map[string]BaseCounts, error)
	CountKnowledgeBases(ctx context.Context) (int64, error)
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
