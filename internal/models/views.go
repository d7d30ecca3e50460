package models

import "time"

// KnowledgeBaseSummary is the listing projection of a knowledge base.
// DocumentCount and ChunkCount are derived from the live store, never persisted.
type KnowledgeBaseSummary struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Source        Source    `json:"source"`
	DocumentCount int       `json:"document_count"`
	ChunkCount    int       `json:"chunk_count"`
	Ready         bool      `json:"ready"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DocumentSummary is the document projection returned from ingestion and detail views.
type DocumentSummary struct {
	ID               string                 `json:"id"`
	Title            string                 `json:"title"`
	OriginalFilename string                 `json:"original_filename,omitempty"`
	MediaType        string                 `json:"media_type"`
	SizeBytes        int64                  `json:"size_bytes"`
	ChunkCount       int                    `json:"chunk_count"`
	CreatedAt        time.Time              `json:"created_at"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// KnowledgeBaseDetail is a summary plus the base's document summaries.
type KnowledgeBaseDetail struct {
	KnowledgeBaseSummary
	Documents []DocumentSummary `json:"documents"`
}

// ChunkView carries a chunk's identity and text for detail views and attachments.
type ChunkView struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// DocumentDetail is a document summary plus its full chunk sequence.
type DocumentDetail struct {
	DocumentSummary
	Chunks []ChunkView `json:"chunks"`
}

// ChunkMatch is a scored retrieval hit. Ephemeral; never persisted.
type ChunkMatch struct {
	ChunkID       string  `json:"chunk_id"`
	Score         float64 `json:"score"`
	Content       string  `json:"content"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title,omitempty"`
}

// QueryResponse is the result of a retrieval query against one knowledge base.
type QueryResponse struct {
	KnowledgeBaseID string       `json:"knowledge_base_id"`
	Query           string       `json:"query"`
	Matches         []ChunkMatch `json:"matches"`
}

// AttachmentDocument carries a document's full chunk text for prompt assembly.
type AttachmentDocument struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	OriginalFilename string      `json:"original_filename,omitempty"`
	MediaType        string      `json:"media_type"`
	FileAvailable    bool        `json:"file_available"`
	Chunks           []ChunkView `json:"chunks"`
}

// Attachment is the per-base hand-off structure consumed by the inference collaborator,
// which needs literal chunk text to splice into a prompt.
type Attachment struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Documents   []AttachmentDocument `json:"documents"`
}

// KnowledgeItem is one titled text entry used by auto-build and prebuilt definitions.
type KnowledgeItem struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}
