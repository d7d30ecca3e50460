// Package knowledge provides the knowledge base lifecycle: creation, ingestion,
// detail views, attachments, and prebuilt bootstrap.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowport/flowport/internal/idgen"
	"github.com/flowport/flowport/internal/ingest"
	"github.com/flowport/flowport/internal/models"
	"github.com/flowport/flowport/internal/storage"
	"github.com/flowport/flowport/pkg/utils"
)

// Extractor converts raw file bytes to plain text based on file extension.
type Extractor interface {
	ExtractBytes(content []byte, ext string) (string, error)
}

// Manager owns knowledge bases and their documents. Ingestion into one base is
// serialized with a per-base lock; operations on different bases run
// concurrently.
type Manager struct {
	store        storage.Storage
	files        *storage.FileStore
	extractor    Extractor
	ids          idgen.Generator
	chunkSize    int
	chunkOverlap int
	logger       *zap.Logger // optional; when set, logs ingestion events

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger for ingestion and bootstrap events.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithFileStore enables retention of original uploaded files.
func WithFileStore(fs *storage.FileStore) ManagerOption {
	return func(m *Manager) { m.files = fs }
}

// WithIDGenerator overrides the document and chunk ID generator.
func WithIDGenerator(g idgen.Generator) ManagerOption {
	return func(m *Manager) { m.ids = g }
}

// NewManager creates a manager with the given store and extractor.
// chunkSize and chunkOverlap are the defaults applied when an ingestion
// request does not specify its own; they are clamped into the supported range.
// extractor may be nil; when nil, uploaded files are treated as plain text.
func NewManager(store storage.Storage, extractor Extractor, chunkSize, chunkOverlap int, opts ...ManagerOption) *Manager {
	chunkSize, chunkOverlap = ingest.ClampParams(chunkSize, chunkOverlap)
	m := &Manager{
		store:        store,
		extractor:    extractor,
		ids:          idgen.NewUUID(),
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		locks:        make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// baseLock returns the ingestion lock for a base, creating it on first use.
func (m *Manager) baseLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// CreateKnowledgeBase creates an empty user knowledge base.
func (m *Manager) CreateKnowledgeBase(ctx context.Context, name, description string) (*models.KnowledgeBase, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	now := time.Now().UTC()
	kb := &models.KnowledgeBase{
		ID:          m.ids.Next(),
		Name:        name,
		Description: strings.TrimSpace(description),
		Source:      models.SourceUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.CreateKnowledgeBase(ctx, kb); err != nil {
		return nil, fmt.Errorf("failed to create knowledge base: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("knowledge base created", zap.String("id", kb.ID), zap.String("name", kb.Name))
	}
	return kb, nil
}

// List returns summaries of all knowledge bases, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]models.KnowledgeBaseSummary, error) {
	bases, err := m.store.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := m.store.CountsByKnowledgeBase(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.KnowledgeBaseSummary, 0, len(bases))
	for _, kb := range bases {
		summaries = append(summaries, summarize(kb, counts[kb.ID]))
	}
	return summaries, nil
}

// Get returns one base with its document summaries.
func (m *Manager) Get(ctx context.Context, id string) (*models.KnowledgeBaseDetail, error) {
	kb, err := m.store.GetKnowledgeBase(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := m.store.ListDocuments(ctx, id)
	if err != nil {
		return nil, err
	}
	chunkCounts, err := m.store.ChunkCountsByDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &models.KnowledgeBaseDetail{
		Documents: make([]models.DocumentSummary, 0, len(docs)),
	}
	var totalChunks int
	for _, doc := range docs {
		detail.Documents = append(detail.Documents, summarizeDocument(doc, chunkCounts[doc.ID]))
		totalChunks += chunkCounts[doc.ID]
	}
	detail.KnowledgeBaseSummary = summarize(kb, storage.BaseCounts{Documents: len(docs), Chunks: totalChunks})
	return detail, nil
}

// Delete removes a base with its documents, chunks, and archived files.
func (m *Manager) Delete(ctx context.Context, id string) error {
	lock := m.baseLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := m.store.DeleteKnowledgeBase(ctx, id); err != nil {
		return err
	}
	if m.files != nil {
		if err := m.files.RemoveBase(id); err != nil && m.logger != nil {
			m.logger.Warn("failed to remove archived files", zap.String("kb_id", id), zap.Error(err))
		}
	}
	m.mu.Lock()
	delete(m.locks, id)
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Info("knowledge base deleted", zap.String("id", id))
	}
	return nil
}

// GetDocument returns one document with its full chunk sequence.
func (m *Manager) GetDocument(ctx context.Context, kbID, docID string) (*models.DocumentDetail, error) {
	if _, err := m.store.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	doc, err := m.store.GetDocument(ctx, kbID, docID)
	if err != nil {
		return nil, err
	}
	chunks, err := m.store.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return nil, err
	}
	detail := &models.DocumentDetail{
		DocumentSummary: summarizeDocument(doc, len(chunks)),
		Chunks:          make([]models.ChunkView, 0, len(chunks)),
	}
	for _, chunk := range chunks {
		detail.Chunks = append(detail.Chunks, models.ChunkView{ID: chunk.ID, Content: chunk.Content})
	}
	return detail, nil
}

// OpenDocumentFile opens the archived original of a document for download.
// Returns the open file, the original filename, and the stored media type.
// The caller closes the file.
func (m *Manager) OpenDocumentFile(ctx context.Context, kbID, docID string) (*os.File, string, string, error) {
	doc, err := m.store.GetDocument(ctx, kbID, docID)
	if err != nil {
		return nil, "", "", err
	}
	if m.files == nil {
		return nil, "", "", &models.NotFoundError{Resource: "document file", ID: docID}
	}
	file, name, err := m.files.Open(kbID, docID)
	if err != nil {
		return nil, "", "", err
	}
	return file, name, doc.MediaType, nil
}

// IngestText chunks and stores a text snippet as a new document.
// chunkSize <= 0 and chunkOverlap < 0 fall back to the manager defaults;
// explicit values are clamped into the supported range.
func (m *Manager) IngestText(ctx context.Context, kbID, title, content string, chunkSize, chunkOverlap int) (*models.DocumentSummary, error) {
	if _, err := m.store.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, &models.ValidationError{Field: "content", Reason: "must not be empty"}
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	chunkSize, chunkOverlap = m.resolveParams(chunkSize, chunkOverlap)

	lock := m.baseLock(kbID)
	lock.Lock()
	defer lock.Unlock()

	normalized := ingest.Normalize(content)
	doc := &models.Document{
		ID:              m.ids.Next(),
		KnowledgeBaseID: kbID,
		Title:           title,
		MediaType:       "text/plain",
		SizeBytes:       int64(len(normalized)),
		Content:         normalized,
		Metadata: map[string]interface{}{
			"chunk_size":    chunkSize,
			"chunk_overlap": chunkOverlap,
		},
	}
	chunks := ingest.NewChunker(chunkSize, chunkOverlap, m.ids).Chunk(doc.ID, normalized)
	if err := m.store.CreateDocument(ctx, doc, chunks); err != nil {
		return nil, err
	}
	if m.logger != nil {
		m.logger.Info("text ingested",
			zap.String("kb_id", kbID),
			zap.String("doc_id", doc.ID),
			zap.Int("chunks", len(chunks)))
	}
	summary := summarizeDocument(doc, len(chunks))
	return &summary, nil
}

// IngestFile extracts text from an uploaded file, chunks it, and stores it as a
// new document. Extraction failures are not fatal: the document is stored with
// placeholder content so the upload is still visible and downloadable.
func (m *Manager) IngestFile(ctx context.Context, kbID, filename string, data []byte, mediaType string, chunkSize, chunkOverlap int) (*models.DocumentSummary, error) {
	return m.ingestFile(ctx, kbID, filename, data, mediaType, nil, chunkSize, chunkOverlap)
}

// IngestFileFromPath ingests a file from the local filesystem, recording its
// origin in document metadata. A path that was already ingested into the base
// is skipped and the existing document summary is returned, so watch events
// never duplicate documents.
func (m *Manager) IngestFileFromPath(ctx context.Context, kbID, path string) (*models.DocumentSummary, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := m.store.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	docs, err := m.store.ListDocuments(ctx, kbID)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if sp, ok := doc.Metadata["source_path"].(string); ok && sp == abs {
			chunks, err := m.store.GetChunksByDocumentID(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			summary := summarizeDocument(doc, len(chunks))
			return &summary, nil
		}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read watched file: %w", err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(abs))
	extra := map[string]interface{}{"source_path": abs}
	return m.ingestFile(ctx, kbID, filepath.Base(abs), data, mediaType, extra, 0, -1)
}

func (m *Manager) ingestFile(ctx context.Context, kbID, filename string, data []byte, mediaType string, extra map[string]interface{}, chunkSize, chunkOverlap int) (*models.DocumentSummary, error) {
	if _, err := m.store.GetKnowledgeBase(ctx, kbID); err != nil {
		return nil, err
	}
	title := titleFromFilename(filename)
	if mediaType == "" {
		mediaType = "text/plain"
	}
	chunkSize, chunkOverlap = m.resolveParams(chunkSize, chunkOverlap)

	lock := m.baseLock(kbID)
	lock.Lock()
	defer lock.Unlock()

	metadata := map[string]interface{}{
		"chunk_size":    chunkSize,
		"chunk_overlap": chunkOverlap,
	}
	for k, v := range extra {
		metadata[k] = v
	}
	content, err := m.extractText(data, filename)
	if err != nil {
		metadata["extraction_error"] = utils.Truncate(err.Error(), 200)
		if m.logger != nil {
			m.logger.Warn("text extraction failed",
				zap.String("kb_id", kbID),
				zap.String("filename", filename),
				zap.Error(err))
		}
	}
	content = ingest.Normalize(content)
	if content == "" {
		content = fmt.Sprintf("No text could be extracted from %s.", filename)
	}

	doc := &models.Document{
		ID:               m.ids.Next(),
		KnowledgeBaseID:  kbID,
		Title:            title,
		OriginalFilename: filename,
		MediaType:        mediaType,
		SizeBytes:        int64(len(data)),
		Content:          content,
		Metadata:         metadata,
	}
	if m.files != nil {
		if _, err := m.files.Save(kbID, doc.ID, filename, data); err != nil && m.logger != nil {
			m.logger.Warn("failed to archive original file",
				zap.String("doc_id", doc.ID), zap.Error(err))
		}
	}
	chunks := ingest.NewChunker(chunkSize, chunkOverlap, m.ids).Chunk(doc.ID, content)
	if err := m.store.CreateDocument(ctx, doc, chunks); err != nil {
		return nil, err
	}
	if m.logger != nil {
		m.logger.Info("file ingested",
			zap.String("kb_id", kbID),
			zap.String("doc_id", doc.ID),
			zap.String("filename", filename),
			zap.Int("chunks", len(chunks)))
	}
	summary := summarizeDocument(doc, len(chunks))
	return &summary, nil
}

// AutoBuild creates a base and ingests the given items in order. There is no
// rollback: a failing item stops the build and surfaces its error, leaving the
// base with the items ingested before it.
func (m *Manager) AutoBuild(ctx context.Context, name, description string, items []models.KnowledgeItem, chunkSize, chunkOverlap int) (*models.KnowledgeBaseDetail, error) {
	if len(items) == 0 {
		return nil, &models.ValidationError{Field: "knowledge_items", Reason: "must not be empty"}
	}
	kb, err := m.CreateKnowledgeBase(ctx, name, description)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if _, err := m.IngestText(ctx, kb.ID, item.Title, item.Content, chunkSize, chunkOverlap); err != nil {
			if m.logger != nil {
				m.logger.Warn("auto-build aborted",
					zap.String("kb_id", kb.ID),
					zap.String("title", item.Title),
					zap.Error(err))
			}
			return nil, err
		}
	}
	return m.Get(ctx, kb.ID)
}

// Attachments resolves knowledge base IDs into attachment payloads holding the
// literal chunk text of every document. Unknown IDs are skipped silently.
func (m *Manager) Attachments(ctx context.Context, ids []string) ([]models.Attachment, error) {
	attachments := make([]models.Attachment, 0, len(ids))
	for _, id := range ids {
		kb, err := m.store.GetKnowledgeBase(ctx, id)
		if err != nil {
			var notFound *models.NotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, err
		}
		docs, err := m.store.ListDocuments(ctx, id)
		if err != nil {
			return nil, err
		}
		attachment := models.Attachment{
			ID:          kb.ID,
			Name:        kb.Name,
			Description: kb.Description,
			Documents:   make([]models.AttachmentDocument, 0, len(docs)),
		}
		for _, doc := range docs {
			chunks, err := m.store.GetChunksByDocumentID(ctx, doc.ID)
			if err != nil {
				return nil, err
			}
			ad := models.AttachmentDocument{
				ID:               doc.ID,
				Title:            doc.Title,
				OriginalFilename: doc.OriginalFilename,
				MediaType:        doc.MediaType,
				FileAvailable:    m.files != nil && m.files.Exists(id, doc.ID),
				Chunks:           make([]models.ChunkView, 0, len(chunks)),
			}
			for _, chunk := range chunks {
				ad.Chunks = append(ad.Chunks, models.ChunkView{ID: chunk.ID, Content: chunk.Content})
			}
			attachment.Documents = append(attachment.Documents, ad)
		}
		attachments = append(attachments, attachment)
	}
	return attachments, nil
}

// prebuiltDefinition is the on-disk shape of a shipped knowledge base.
type prebuiltDefinition struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	KnowledgeItems []models.KnowledgeItem `json:"knowledge_items"`
}

// BootstrapPrebuilt loads every *.json definition in dir and creates the bases
// it describes, skipping IDs that already exist. A missing dir is not an error.
func (m *Manager) BootstrapPrebuilt(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read prebuilt definition %s: %w", path, err)
		}
		var def prebuiltDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			return &models.MalformedInputError{Detail: "prebuilt definition " + filepath.Base(path), Err: err}
		}
		if def.ID == "" || strings.TrimSpace(def.Name) == "" {
			return &models.MalformedInputError{Detail: "prebuilt definition " + filepath.Base(path) + " missing id or name"}
		}
		if _, err := m.store.GetKnowledgeBase(ctx, def.ID); err == nil {
			continue
		} else {
			var notFound *models.NotFoundError
			if !errors.As(err, &notFound) {
				return err
			}
		}
		now := time.Now().UTC()
		kb := &models.KnowledgeBase{
			ID:          def.ID,
			Name:        strings.TrimSpace(def.Name),
			Description: strings.TrimSpace(def.Description),
			Source:      models.SourcePrebuilt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.store.CreateKnowledgeBase(ctx, kb); err != nil {
			return fmt.Errorf("failed to create prebuilt base %s: %w", def.ID, err)
		}
		for _, item := range def.KnowledgeItems {
			if _, err := m.IngestText(ctx, kb.ID, item.Title, item.Content, 0, -1); err != nil {
				if m.logger != nil {
					m.logger.Warn("prebuilt item skipped",
						zap.String("kb_id", kb.ID),
						zap.String("title", item.Title),
						zap.Error(err))
				}
			}
		}
		if m.logger != nil {
			m.logger.Info("prebuilt knowledge base loaded",
				zap.String("id", kb.ID),
				zap.String("name", kb.Name),
				zap.Int("items", len(def.KnowledgeItems)))
		}
	}
	return nil
}

// Stats reports store-wide totals.
type Stats struct {
	KnowledgeBases int64 `json:"knowledge_bases"`
	Documents      int64 `json:"documents"`
	Chunks         int64 `json:"chunks"`
}

// GetStats returns current store-wide totals.
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	var err error
	if stats.KnowledgeBases, err = m.store.CountKnowledgeBases(ctx); err != nil {
		return nil, err
	}
	if stats.Documents, err = m.store.CountDocuments(ctx); err != nil {
		return nil, err
	}
	if stats.Chunks, err = m.store.CountChunks(ctx); err != nil {
		return nil, err
	}
	return &stats, nil
}

// resolveParams fills unset chunking parameters from manager defaults and
// clamps the result.
func (m *Manager) resolveParams(chunkSize, chunkOverlap int) (int, int) {
	if chunkSize <= 0 {
		chunkSize = m.chunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = m.chunkOverlap
	}
	return ingest.ClampParams(chunkSize, chunkOverlap)
}

// extractText converts uploaded bytes to text using the configured extractor.
// Without an extractor, bytes are taken verbatim as UTF-8 text.
func (m *Manager) extractText(data []byte, filename string) (string, error) {
	if m.extractor == nil {
		return string(data), nil
	}
	return m.extractor.ExtractBytes(data, strings.ToLower(filepath.Ext(filename)))
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.TrimSpace(stem)
	if stem == "" || stem == "." {
		return "Untitled"
	}
	return stem
}

func summarize(kb *models.KnowledgeBase, counts storage.BaseCounts) models.KnowledgeBaseSummary {
	return models.KnowledgeBaseSummary{
		ID:            kb.ID,
		Name:          kb.Name,
		Description:   kb.Description,
		Source:        kb.Source,
		DocumentCount: counts.Documents,
		ChunkCount:    counts.Chunks,
		Ready:         kb.Ready,
		CreatedAt:     kb.CreatedAt,
		UpdatedAt:     kb.UpdatedAt,
	}
}

func summarizeDocument(doc *models.Document, chunkCount int) models.DocumentSummary {
	return models.DocumentSummary{
		ID:               doc.ID,
		Title:            doc.Title,
		OriginalFilename: doc.OriginalFilename,
		MediaType:        doc.MediaType,
		SizeBytes:        doc.SizeBytes,
		ChunkCount:       chunkCount,
		CreatedAt:        doc.CreatedAt,
		Metadata:         doc.Metadata,
	}
}
