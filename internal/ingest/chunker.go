// Package ingest provides text normalization and character-window chunking.
package ingest

import (
	"strings"

	"github.com/flowport/flowport/internal/idgen"
	"github.com/flowport/flowport/internal/models"
)

// MinChunkSize is the smallest window length accepted from callers. Requested
// sizes below it are clamped up where user parameters enter the system.
const MinChunkSize = 100

// ClampParams clamps user-supplied chunking parameters into the supported
// range: chunkSize >= MinChunkSize and 0 <= chunkOverlap < chunkSize. Degenerate
// values are corrected, never rejected.
func ClampParams(chunkSize, chunkOverlap int) (int, int) {
	if chunkSize < MinChunkSize {
		chunkSize = MinChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	return chunkSize, chunkOverlap
}

// Chunker splits document content into overlapping fixed-size rune windows.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	ids          idgen.Generator
}

// NewChunker creates a chunker with the given window size and overlap (in runes).
func NewChunker(chunkSize, chunkOverlap int, ids idgen.Generator) *Chunker {
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		ids:          ids,
	}
}

// Chunk splits content into Chunks belonging to docID, in window order.
// Empty or whitespace-only content yields no chunks.
func (c *Chunker) Chunk(docID, content string) []*models.Chunk {
	windows := Split(content, c.chunkSize, c.chunkOverlap)
	chunks := make([]*models.Chunk, 0, len(windows))
	for i, w := range windows {
		chunks = append(chunks, &models.Chunk{
			ID:         c.ids.Next(),
			DocumentID: docID,
			Content:    w,
			ChunkIndex: i,
		})
	}
	return chunks
}

// Split normalizes content and cuts it into overlapping windows of chunkSize
// runes, advancing by chunkSize-chunkOverlap each step. Windows are trimmed and
// empty ones dropped. Overlap is clamped into [0, chunkSize-1] so every step
// makes progress. If normalized content is non-empty but every window trims to
// empty, the whole normalized content is returned as a single window.
func Split(content string, chunkSize, chunkOverlap int) []string {
	normalized := Normalize(content)
	if normalized == "" {
		return nil
	}
	if chunkSize < 1 {
		chunkSize = 1
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	step := chunkSize - chunkOverlap
	if step < 1 {
		step = 1
	}

	runes := []rune(normalized)
	total := len(runes)
	windows := make([]string, 0, total/step+1)
	for start := 0; start < total; start += step {
		end := start + chunkSize
		if end > total {
			end = total
		}
		window := strings.TrimSpace(string(runes[start:end]))
		if window != "" {
			windows = append(windows, window)
		}
		if end >= total {
			break
		}
	}
	if len(windows) == 0 {
		windows = append(windows, normalized)
	}
	return windows
}
