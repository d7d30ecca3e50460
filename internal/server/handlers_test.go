package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/flowport/flowport/internal/config"
	"github.com/flowport/flowport/internal/extract"
	"github.com/flowport/flowport/internal/knowledge"
	"github.com/flowport/flowport/internal/models"
	"github.com/flowport/flowport/internal/retrieval"
	"github.com/flowport/flowport/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	files, err := storage.NewFileStore(filepath.Join(dir, "files"))
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.FilesPath = filepath.Join(dir, "files")

	manager := knowledge.NewManager(store, extract.NewExtractor(),
		cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap,
		knowledge.WithFileStore(files))
	engine := retrieval.NewEngine(store)
	return NewServer(manager, engine, cfg, zap.NewNop())
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	return w
}

func createBase(t *testing.T, srv *Server, name string) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases", map[string]string{"name": name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create base: status %d: %s", w.Code, w.Body.String())
	}
	var kb models.KnowledgeBase
	if err := json.NewDecoder(w.Body).Decode(&kb); err != nil {
		t.Fatal(err)
	}
	return kb.ID
}

func ingestText(t *testing.T, srv *Server, kbID, title, content string) models.DocumentSummary {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/"+kbID+"/ingest/text",
		map[string]string{"title": title, "content": content})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest text: status %d: %s", w.Code, w.Body.String())
	}
	var summary models.DocumentSummary
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	return summary
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleCreateKnowledgeBase(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases",
		map[string]string{"name": "Docs", "description": "product docs"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	var kb models.KnowledgeBaseDetail
	if err := json.NewDecoder(w.Body).Decode(&kb); err != nil {
		t.Fatal(err)
	}
	if kb.Name != "Docs" || kb.ID == "" {
		t.Errorf("got %+v", kb)
	}
	if len(kb.Documents) != 0 || kb.Ready {
		t.Errorf("fresh base should be empty and not ready, got %+v", kb)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases", map[string]string{"name": "  "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank name: got %d", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge-bases", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d", rec.Code)
	}
}

func TestHandleListKnowledgeBases(t *testing.T) {
	srv := newTestServer(t)
	createBase(t, srv, "A")
	createBase(t, srv, "B")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/knowledge-bases", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		KnowledgeBases []models.KnowledgeBaseSummary `json:"knowledge_bases"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.KnowledgeBases) != 2 {
		t.Errorf("got %d bases", len(out.KnowledgeBases))
	}
}

func TestHandleGetKnowledgeBase(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")
	ingestText(t, srv, id, "T", "some content to store")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/knowledge-bases/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var detail models.KnowledgeBaseDetail
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.DocumentCount != 1 || len(detail.Documents) != 1 || !detail.Ready {
		t.Errorf("got %+v", detail)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/v1/knowledge-bases/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown base: got %d", w.Code)
	}
}

func TestHandleDeleteKnowledgeBase(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")

	w := doJSON(t, srv, http.MethodDelete, "/api/v1/knowledge-bases/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/api/v1/knowledge-bases/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("after delete: got %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodDelete, "/api/v1/knowledge-bases/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete: got %d", w.Code)
	}
}

func TestHandleIngestText(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")

	summary := ingestText(t, srv, id, "Routing", "Flowport routes inference calls.")
	if summary.Title != "Routing" || summary.ChunkCount != 1 {
		t.Errorf("got %+v", summary)
	}

	w := doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/"+id+"/ingest/text",
		map[string]string{"title": "T", "content": "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank content: got %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/missing/ingest/text",
		map[string]string{"title": "T", "content": "text"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown base: got %d", w.Code)
	}
}

func TestHandleIngestTextCustomParams(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/"+id+"/ingest/text",
		map[string]interface{}{"title": "T", "content": "body", "chunk_size": 10, "chunk_overlap": 2})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	var summary models.DocumentSummary
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	// Requested size is below the floor and gets clamped.
	if summary.Metadata["chunk_size"] != float64(100) {
		t.Errorf("chunk_size metadata: %v", summary.Metadata["chunk_size"])
	}
}

func TestHandleIngestFile(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprint(fw, "uploaded file body")
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge-bases/"+id+"/ingest/file", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	var summary models.DocumentSummary
	if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if summary.Title != "notes" || summary.OriginalFilename != "notes.txt" {
		t.Errorf("got %+v", summary)
	}

	// The original is retained and downloadable.
	dl := doJSON(t, srv, http.MethodGet, "/api/v1/knowledge-bases/"+id+"/documents/"+summary.ID+"/file", nil)
	if dl.Code != http.StatusOK {
		t.Fatalf("download: got %d", dl.Code)
	}
	if dl.Body.String() != "uploaded file body" {
		t.Errorf("download body: %q", dl.Body.String())
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Errorf("content disposition: %q", cd)
	}
}

func TestHandleIngestFileMissingField(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "x")
	_ = mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge-bases/"+id+"/ingest/file", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file field: got %d", w.Code)
	}
}

func TestHandleGetDocument(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")
	summary := ingestText(t, srv, id, "T", "document body text")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/knowledge-bases/"+id+"/documents/"+summary.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var detail models.DocumentDetail
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Chunks) != 1 || detail.Chunks[0].Content != "document body text" {
		t.Errorf("got %+v", detail)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/v1/knowledge-bases/"+id+"/documents/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown document: got %d", w.Code)
	}
}

func TestHandleDownloadMissingFile(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")
	summary := ingestText(t, srv, id, "T", "text only, no file")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/knowledge-bases/"+id+"/documents/"+summary.ID+"/file", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("text document has no file: got %d", w.Code)
	}
}

func TestHandleQuery(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")
	ingestText(t, srv, id, "Billing", "Requests are billed per token.")
	ingestText(t, srv, id, "Weather", "Unrelated walrus material.")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/"+id+"/query",
		map[string]interface{}{"query": "billed per token", "top_k": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	var resp models.QueryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].DocumentTitle != "Billing" {
		t.Errorf("got %+v", resp.Matches)
	}

	// Blank query is not an error.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/"+id+"/query",
		map[string]string{"query": "  "})
	if w.Code != http.StatusOK {
		t.Fatalf("blank query: got %d", w.Code)
	}
	resp = models.QueryResponse{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Matches) != 0 {
		t.Errorf("blank query matches: %+v", resp.Matches)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/missing/query",
		map[string]string{"query": "q"})
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown base: got %d", w.Code)
	}
}

func TestHandleAutoBuild(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/auto-build", map[string]interface{}{
		"name":        "Support",
		"description": "auto",
		"knowledge_items": []map[string]string{
			{"title": "Pricing", "content": "Billed per token."},
			{"title": "Limits", "content": "Rate limits apply."},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d: %s", w.Code, w.Body.String())
	}
	var detail models.KnowledgeBaseDetail
	if err := json.NewDecoder(w.Body).Decode(&detail); err != nil {
		t.Fatal(err)
	}
	if detail.DocumentCount != 2 || !detail.Ready {
		t.Errorf("got %+v", detail.KnowledgeBaseSummary)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/auto-build",
		map[string]interface{}{"name": "No Items"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty item list: got %d", w.Code)
	}
}

func TestHandleAttachments(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")
	ingestText(t, srv, id, "T", "attachment chunk text")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/knowledge-bases/attachments",
		map[string]interface{}{"knowledge_base_ids": []string{id, "unknown"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Attachments []models.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Attachments) != 1 {
		t.Fatalf("got %d attachments", len(out.Attachments))
	}
	if len(out.Attachments[0].Documents) != 1 {
		t.Errorf("got %+v", out.Attachments[0])
	}
}

func TestHandleStatus(t *testing.T) {
	srv := newTestServer(t)
	id := createBase(t, srv, "Docs")
	ingestText(t, srv, id, "T", "content")

	w := doJSON(t, srv, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["knowledge_bases"] != float64(1) || out["documents"] != float64(1) {
		t.Errorf("got %+v", out)
	}
	if out["config"] == nil {
		t.Error("config section missing")
	}
}
