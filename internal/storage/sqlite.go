package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flowport/flowport/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_bases (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		source TEXT NOT NULL DEFAULT 'user',
		ready INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_kb_updated_at ON knowledge_bases(updated_at);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		knowledge_base_id TEXT NOT NULL,
		title TEXT NOT NULL,
		original_filename TEXT,
		media_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (knowledge_base_id) REFERENCES knowledge_bases(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents(knowledge_base_id);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON document_chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_document_chunk ON document_chunks(document_id, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateKnowledgeBase inserts a knowledge base record.
func (s *SQLiteStorage) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (id, name, description, source, ready, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		kb.ID, kb.Name, kb.Description, string(kb.Source), kb.Ready, kb.CreatedAt, kb.UpdatedAt,
	)
	return err
}

// GetKnowledgeBase returns a knowledge base by ID.
func (s *SQLiteStorage) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(description, ''), source, ready, created_at, updated_at
		 FROM knowledge_bases WHERE id = ?`, id,
	)
	kb, err := scanKnowledgeBase(row)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "knowledge base", ID: id}
	}
	return kb, err
}

// ListKnowledgeBases returns all knowledge bases, most recently updated first.
func (s *SQLiteStorage) ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(description, ''), source, ready, created_at, updated_at
		 FROM knowledge_bases ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bases []*models.KnowledgeBase
	for rows.Next() {
		var kb models.KnowledgeBase
		var source string
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Description, &source, &kb.Ready, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
			return nil, err
		}
		kb.Source = models.Source(source)
		bases = append(bases, &kb)
	}
	return bases, rows.Err()
}

// DeleteKnowledgeBase removes a base with all its documents and chunks in one
// transaction.
func (s *SQLiteStorage) DeleteKnowledgeBase(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM document_chunks WHERE document_id IN
		 (SELECT id FROM documents WHERE knowledge_base_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE knowledge_base_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return &models.NotFoundError{Resource: "knowledge base", ID: id}
	}
	return tx.Commit()
}

// CreateDocument inserts a document with its full chunk sequence and marks the
// owning base ready, all in a single transaction.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error {
	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM knowledge_bases WHERE id = ?`, doc.KnowledgeBaseID).Scan(&exists)
	if err == sql.ErrNoRows {
		return &models.NotFoundError{Resource: "knowledge base", ID: doc.KnowledgeBaseID}
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, knowledge_base_id, title, original_filename, media_type, size_bytes, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.KnowledgeBaseID, doc.Title, doc.OriginalFilename, doc.MediaType,
		doc.SizeBytes, doc.Content, string(metadataJSON), doc.CreatedAt,
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO document_chunks (id, document_id, content, chunk_index, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, chunk := range chunks {
		chunk.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.Content, chunk.ChunkIndex, chunk.CreatedAt); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE knowledge_bases SET ready = 1, updated_at = ? WHERE id = ?`,
		now, doc.KnowledgeBaseID,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// GetDocument returns a document by ID within the given knowledge base.
func (s *SQLiteStorage) GetDocument(ctx context.Context, kbID, docID string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, knowledge_base_id, title, COALESCE(original_filename, ''), media_type, size_bytes, content, COALESCE(metadata, ''), created_at
		 FROM documents WHERE id = ? AND knowledge_base_id = ?`, docID, kbID,
	)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "document", ID: docID}
	}
	return doc, err
}

// ListDocuments returns the documents of a base in insertion order.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, kbID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, knowledge_base_id, title, COALESCE(original_filename, ''), media_type, size_bytes, content, COALESCE(metadata, ''), created_at
		 FROM documents WHERE knowledge_base_id = ? ORDER BY created_at, rowid`, kbID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetChunksByDocumentID returns all chunks of a document ordered by chunk_index.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, chunk_index, created_at
		 FROM document_chunks WHERE document_id = ? ORDER BY chunk_index`, docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Content, &chunk.ChunkIndex, &chunk.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}

// ChunkCountsByDocument returns the chunk count of every document in a base.
func (s *SQLiteStorage) ChunkCountsByDocument(ctx context.Context, kbID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, COUNT(c.id)
		 FROM documents d LEFT JOIN document_chunks c ON c.document_id = d.id
		 WHERE d.knowledge_base_id = ?
		 GROUP BY d.id`, kbID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var docID string
		var n int
		if err := rows.Scan(&docID, &n); err != nil {
			return nil, err
		}
		counts[docID] = n
	}
	return counts, rows.Err()
}

// CountsForKnowledgeBase returns the derived document and chunk counts of one base.
func (s *SQLiteStorage) CountsForKnowledgeBase(ctx context.Context, id string) (BaseCounts, error) {
	var counts BaseCounts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT d.id), COUNT(c.id)
		 FROM documents d LEFT JOIN document_chunks c ON c.document_id = d.id
		 WHERE d.knowledge_base_id = ?`, id,
	).Scan(&counts.Documents, &counts.Chunks)
	return counts, err
}

// CountsByKnowledgeBase returns derived counts for every base that has documents.
func (s *SQLiteStorage) CountsByKnowledgeBase(ctx context.Context) (map[string]BaseCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.knowledge_base_id, COUNT(DISTINCT d.id), COUNT(c.id)
		 FROM documents d LEFT JOIN document_chunks c ON c.document_id = d.id
		 GROUP BY d.knowledge_base_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]BaseCounts)
	for rows.Next() {
		var kbID string
		var c BaseCounts
		if err := rows.Scan(&kbID, &c.Documents, &c.Chunks); err != nil {
			return nil, err
		}
		counts[kbID] = c
	}
	return counts, rows.Err()
}

// CountKnowledgeBases returns the total number of knowledge bases.
func (s *SQLiteStorage) CountKnowledgeBases(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_bases`).Scan(&count)
	return count, err
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKnowledgeBase(row rowScanner) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	var source string
	err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &source, &kb.Ready, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	kb.Source = models.Source(source)
	return &kb, nil
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var metadataJSON string
	err := row.Scan(&doc.ID, &doc.KnowledgeBaseID, &doc.Title, &doc.OriginalFilename,
		&doc.MediaType, &doc.SizeBytes, &doc.Content, &metadataJSON, &doc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &doc.Metadata); err != nil {
			return nil, &models.MalformedInputError{Detail: "document metadata for " + doc.ID, Err: err}
		}
	}
	return &doc, nil
}
