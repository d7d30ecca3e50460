package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Chunking.ChunkSize != 750 || cfg.Chunking.ChunkOverlap != 50 {
		t.Errorf("chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Retrieval.DefaultTopK != 4 || cfg.Retrieval.MaxTopK != 20 {
		t.Errorf("retrieval defaults: %+v", cfg.Retrieval)
	}
	if len(cfg.Watch.Extensions) == 0 {
		t.Error("watch extensions should default")
	}
	if cfg.Storage.PrebuiltPath != "" {
		t.Errorf("prebuilt path should stay empty, got %q", cfg.Storage.PrebuiltPath)
	}
}

func TestLoad_ExpandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/knowledge.db"
  files_path: "./data/files"
  prebuilt_path: "./prebuilt"
watch:
  directories: ["./inbox"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "data", "db", "knowledge.db"); cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %q, want %q", cfg.Storage.DatabasePath, want)
	}
	if want := filepath.Join(dir, "prebuilt"); cfg.Storage.PrebuiltPath != want {
		t.Errorf("prebuilt_path = %q, want %q", cfg.Storage.PrebuiltPath, want)
	}
	if want := filepath.Join(dir, "inbox"); cfg.Watch.Directories[0] != want {
		t.Errorf("watch dir = %q, want %q", cfg.Watch.Directories[0], want)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "::not yaml::")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	var w WatchConfig
	if !w.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
	f := false
	w.Recursive = &f
	if w.RecursiveOrDefault() {
		t.Error("explicit false should win")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Watch.Directories = []string{filepath.Join(dir, "inbox")}
	cfg.Watch.KnowledgeBase = "kb-inbox"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Watch.KnowledgeBase != "kb-inbox" {
		t.Errorf("got %q", loaded.Watch.KnowledgeBase)
	}
	if len(loaded.Watch.Directories) != 1 {
		t.Errorf("got %v", loaded.Watch.Directories)
	}
}
