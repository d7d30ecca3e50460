package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/flowport/flowport/internal/models"
)

func TestFileStore_SaveAndOpen(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	path, err := fs.Save("kb1", "doc1", "report.pdf", []byte("raw bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "doc1_report.pdf" {
		t.Errorf("unexpected archive name: %s", path)
	}

	file, name, err := fs.Open("kb1", "doc1")
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if name != "report.pdf" {
		t.Errorf("expected report.pdf, got %s", name)
	}
	data, _ := io.ReadAll(file)
	if string(data) != "raw bytes" {
		t.Errorf("got %q", data)
	}

	if !fs.Exists("kb1", "doc1") {
		t.Error("Exists should report true")
	}
	if fs.Exists("kb1", "doc2") {
		t.Error("Exists should report false for unknown document")
	}
}

func TestFileStore_OpenMissing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = fs.Open("kb1", "doc1")
	var notFound *models.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestFileStore_RemoveBase(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Save("kb1", "doc1", "a.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := fs.RemoveBase("kb1"); err != nil {
		t.Fatal(err)
	}
	if fs.Exists("kb1", "doc1") {
		t.Error("file should be gone after RemoveBase")
	}
	// Removing an absent base is not an error.
	if err := fs.RemoveBase("kb2"); err != nil {
		t.Errorf("RemoveBase on missing base: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain.txt", "plain.txt"},
		{"../../etc/passwd", "passwd"},
		{"a/b\\c.txt", "b_c.txt"},
		{"", "file"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()

	f1 := filepath.Join(dir, "f1.txt")
	if err := os.WriteFile(f1, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := DiskUsageBytes(f1)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Errorf("single file: got %d bytes, want 5", got)
	}

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = DiskUsageBytes(f1, sub, filepath.Join(dir, "nonexistent"), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("combined: got %d bytes, want 7", got)
	}
}
