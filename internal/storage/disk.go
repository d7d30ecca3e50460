package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowport/flowport/internal/models"
)

// FileStore archives the raw bytes of ingested files so they can be
// downloaded later. Files are laid out as <root>/<kbID>/<docID>_<name>.
type FileStore struct {
	root string
}

// NewFileStore creates the archive root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Save writes the original bytes of a document's source file.
func (f *FileStore) Save(kbID, docID, filename string, data []byte) (string, error) {
	dir := filepath.Join(f.root, kbID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}
	path := filepath.Join(dir, docID+"_"+sanitizeFilename(filename))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write archived file: %w", err)
	}
	return path, nil
}

// Open returns the archived file for a document, or a not-found error when the
// original was never retained.
func (f *FileStore) Open(kbID, docID string) (*os.File, string, error) {
	dir := filepath.Join(f.root, kbID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", &models.NotFoundError{Resource: "document file", ID: docID}
		}
		return nil, "", err
	}
	prefix := docID + "_"
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		file, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, "", err
		}
		return file, strings.TrimPrefix(entry.Name(), prefix), nil
	}
	return nil, "", &models.NotFoundError{Resource: "document file", ID: docID}
}

// Exists reports whether an archived original is present for the document.
func (f *FileStore) Exists(kbID, docID string) bool {
	entries, err := os.ReadDir(filepath.Join(f.root, kbID))
	if err != nil {
		return false
	}
	prefix := docID + "_"
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			return true
		}
	}
	return false
}

// RemoveBase deletes every archived file belonging to a knowledge base.
func (f *FileStore) RemoveBase(kbID string) error {
	err := os.RemoveAll(filepath.Join(f.root, kbID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// sanitizeFilename strips path separators and control characters so archived
// names stay within the archive directory.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == 0:
			b.WriteRune('_')
		case r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "file"
	}
	return out
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing or inaccessible paths are skipped (contribute 0); errors during walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if info.IsDir() {
			n, err := dirSize(p)
			if err != nil {
				return 0, err
			}
			total += n
		} else {
			total += info.Size()
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
