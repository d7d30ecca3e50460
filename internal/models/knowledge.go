// Package models defines core data structures for knowledge bases, documents, and chunks.
package models

import "time"

// Source identifies where a knowledge base came from.
type Source string

const (
	// SourceUser marks a knowledge base created by a user.
	SourceUser Source = "user"
	// SourcePrebuilt marks a knowledge base shipped with the product.
	SourcePrebuilt Source = "prebuilt"
)

// KnowledgeBase is a named collection of documents.
type KnowledgeBase struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Source      Source    `json:"source" db:"source"`
	Ready       bool      `json:"ready" db:"ready"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Document is an ingested piece of content belonging to a knowledge base.
// Documents are created whole (with their full chunk sequence) and never mutated.
type Document struct {
	ID               string                 `json:"id" db:"id"`
	KnowledgeBaseID  string                 `json:"knowledge_base_id" db:"knowledge_base_id"`
	Title            string                 `json:"title" db:"title"`
	OriginalFilename string                 `json:"original_filename,omitempty" db:"original_filename"`
	MediaType        string                 `json:"media_type" db:"media_type"`
	SizeBytes        int64                  `json:"size_bytes" db:"size_bytes"`
	Content          string                 `json:"content" db:"content"`
	Metadata         map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
}

// Chunk is a contiguous, trimmed window of a document's normalized content.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
