package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/flowport/flowport/internal/models"
	"github.com/flowport/flowport/internal/storage"
)

// maxUploadBytes caps multipart uploads held in memory before spilling to disk.
const maxUploadBytes = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.GetStats(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	resp := map[string]interface{}{
		"knowledge_bases": stats.KnowledgeBases,
		"documents":       stats.Documents,
		"chunks":          stats.Chunks,
		"config": map[string]interface{}{
			"chunk_size":    s.config.Chunking.ChunkSize,
			"chunk_overlap": s.config.Chunking.ChunkOverlap,
			"default_top_k": s.config.Retrieval.DefaultTopK,
			"max_top_k":     s.config.Retrieval.MaxTopK,
			"database_path": s.config.Storage.DatabasePath,
			"files_path":    s.config.Storage.FilesPath,
		},
	}
	diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath, s.config.Storage.FilesPath)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.manager.List(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"knowledge_bases": summaries})
}

type createBaseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleCreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req createBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	kb, err := s.manager.CreateKnowledgeBase(r.Context(), req.Name, req.Description)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	detail, err := s.manager.Get(r.Context(), kb.ID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, detail)
}

func (s *Server) handleGetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	detail, err := s.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Delete(r.Context(), id); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

type ingestTextRequest struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	ChunkSize    *int   `json:"chunk_size,omitempty"`
	ChunkOverlap *int   `json:"chunk_overlap,omitempty"`
}

func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	var req ingestTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chunkSize, chunkOverlap := 0, -1
	if req.ChunkSize != nil {
		chunkSize = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		chunkOverlap = *req.ChunkOverlap
	}
	summary, err := s.manager.IngestText(r.Context(), chi.URLParam(r, "id"), req.Title, req.Content, chunkSize, chunkOverlap)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleIngestFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	chunkSize, err := formInt(r, "chunk_size", 0)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "chunk_size must be an integer")
		return
	}
	chunkOverlap, err := formInt(r, "chunk_overlap", -1)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "chunk_overlap must be an integer")
		return
	}
	summary, err := s.manager.IngestFile(r.Context(), chi.URLParam(r, "id"),
		header.Filename, data, header.Header.Get("Content-Type"), chunkSize, chunkOverlap)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, summary)
}

type autoBuildRequest struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description"`
	KnowledgeItems []models.KnowledgeItem `json:"knowledge_items"`
	ChunkSize      *int                   `json:"chunk_size,omitempty"`
	ChunkOverlap   *int                   `json:"chunk_overlap,omitempty"`
}

func (s *Server) handleAutoBuild(w http.ResponseWriter, r *http.Request) {
	var req autoBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chunkSize, chunkOverlap := 0, -1
	if req.ChunkSize != nil {
		chunkSize = *req.ChunkSize
	}
	if req.ChunkOverlap != nil {
		chunkOverlap = *req.ChunkOverlap
	}
	detail, err := s.manager.AutoBuild(r.Context(), req.Name, req.Description, req.KnowledgeItems, chunkSize, chunkOverlap)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, detail)
}

type attachmentsRequest struct {
	KnowledgeBaseIDs []string `json:"knowledge_base_ids"`
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	var req attachmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	attachments, err := s.manager.Attachments(r.Context(), req.KnowledgeBaseIDs)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"attachments": attachments})
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.engine.Query(r.Context(), chi.URLParam(r, "id"), req.Query, req.TopK)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	detail, err := s.manager.GetDocument(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "docID"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDownloadDocumentFile(w http.ResponseWriter, r *http.Request) {
	file, name, mediaType, err := s.manager.OpenDocumentFile(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "docID"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	defer file.Close()
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, file); err != nil {
		s.logger.Warn("file download interrupted", zap.Error(err))
	}
}

// formInt parses an optional integer form value, returning fallback when absent.
func formInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps typed domain errors onto HTTP status codes.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	var notFound *models.NotFoundError
	var validation *models.ValidationError
	var malformed *models.MalformedInputError
	switch {
	case errors.As(err, &notFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &malformed):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
