// Package main is the Flowport knowledge service CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flowport/flowport/internal/config"
	"github.com/flowport/flowport/internal/extract"
	"github.com/flowport/flowport/internal/knowledge"
	"github.com/flowport/flowport/internal/models"
	"github.com/flowport/flowport/internal/retrieval"
	"github.com/flowport/flowport/internal/server"
	"github.com/flowport/flowport/internal/storage"
	"github.com/flowport/flowport/internal/watcher"
	"github.com/flowport/flowport/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/flowport/config.yaml"

const defaultServerURL = "http://localhost:8080"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory wins, so running from the project dir picks up the
// project's config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "create":
		runCreate()
	case "list":
		runList()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "status":
		runStatus()
	case "watch":
		runWatch()
	case "version", "--version", "-v":
		fmt.Printf("flowport version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Flowport knowledge service

Usage: flowport <command> [flags]

Commands:
  server   Run the HTTP API server
  create   Create a knowledge base
  list     List knowledge bases
  ingest   Ingest a text snippet or file into a knowledge base
  query    Retrieve the best-matching chunks for a query
  status   Show server status
  watch    Manage auto-ingestion watch directories (add/remove/list)
  version  Print version
  help     Show this help
`)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()
	files, err := storage.NewFileStore(cfg.Storage.FilesPath)
	if err != nil {
		logger.Fatal("Failed to open file store", zap.Error(err))
	}

	manager := knowledge.NewManager(store, extract.NewExtractor(),
		cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap,
		knowledge.WithFileStore(files),
		knowledge.WithLogger(logger))
	if err := manager.BootstrapPrebuilt(context.Background(), cfg.Storage.PrebuiltPath); err != nil {
		logger.Fatal("Failed to load prebuilt knowledge bases", zap.Error(err))
	}
	engine := retrieval.NewEngine(store,
		retrieval.WithTopKBounds(cfg.Retrieval.DefaultTopK, cfg.Retrieval.MaxTopK))

	var watchSvc *watcher.Watcher
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.KnowledgeBase != "" {
		kbID := cfg.Watch.KnowledgeBase
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.New(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			func(path string) {
				if _, err := manager.IngestFileFromPath(context.Background(), kbID, path); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExistingFiles()
	}

	srv := server.NewServer(manager, engine, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runCreate() {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	name := fs.String("name", "", "knowledge base name")
	description := fs.String("description", "", "knowledge base description")
	_ = fs.Parse(os.Args[2:])
	if *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: flowport create -name <name> [-description <text>]")
		os.Exit(1)
	}

	var kb models.KnowledgeBase
	err := postJSON(*serverURL+"/api/v1/knowledge-bases",
		map[string]string{"name": *name, "description": *description}, &kb)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created knowledge base %s (%s)\n", kb.Name, kb.ID)
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])

	var out struct {
		KnowledgeBases []models.KnowledgeBaseSummary `json:"knowledge_bases"`
	}
	if err := getJSON(*serverURL+"/api/v1/knowledge-bases", &out); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if len(out.KnowledgeBases) == 0 {
		fmt.Println("No knowledge bases.")
		return
	}
	for _, kb := range out.KnowledgeBases {
		ready := " "
		if kb.Ready {
			ready = "ready"
		}
		fmt.Printf("%s  %-24s %3d docs %4d chunks  %s  [%s]\n",
			kb.ID, kb.Name, kb.DocumentCount, kb.ChunkCount, ready, kb.Source)
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	kbID := fs.String("kb", "", "knowledge base ID")
	title := fs.String("title", "", "document title (text ingestion)")
	text := fs.String("text", "", "text content to ingest")
	file := fs.String("file", "", "file path to ingest")
	_ = fs.Parse(os.Args[2:])
	if *kbID == "" || (*text == "" && *file == "") {
		fmt.Fprintln(os.Stderr, "Usage: flowport ingest -kb <id> (-text <content> | -file <path>) [-title <title>]")
		os.Exit(1)
	}

	var summary models.DocumentSummary
	var err error
	if *file != "" {
		err = ingestFileViaHTTP(*serverURL, *kbID, *file, &summary)
	} else {
		err = postJSON(*serverURL+"/api/v1/knowledge-bases/"+*kbID+"/ingest/text",
			map[string]string{"title": *title, "content": *text}, &summary)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %q as document %s (%d chunks)\n", summary.Title, summary.ID, summary.ChunkCount)
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	kbID := fs.String("kb", "", "knowledge base ID")
	topK := fs.Int("top-k", 0, "number of matches (default 4, max 20)")
	_ = fs.Parse(os.Args[2:])
	queryStr := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *kbID == "" || queryStr == "" {
		fmt.Fprintln(os.Stderr, "Usage: flowport query -kb <id> [-top-k N] <query>")
		os.Exit(1)
	}

	var resp models.QueryResponse
	err := postJSON(*serverURL+"/api/v1/knowledge-bases/"+*kbID+"/query",
		map[string]interface{}{"query": queryStr, "top_k": *topK}, &resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if len(resp.Matches) == 0 {
		fmt.Println("No matches.")
		return
	}
	for i, m := range resp.Matches {
		fmt.Printf("%2d. [%.3f] %s (%s)\n    %s\n",
			i+1, m.Score, m.DocumentTitle, m.DocumentID, utils.Truncate(m.Content, 160))
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])

	var out map[string]interface{}
	if err := getJSON(*serverURL+"/api/v1/status", &out); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: flowport watch <add|remove|list> [-dir <path>] [-config <path>]")
		os.Exit(1)
	}
	action := os.Args[2]
	fs := flag.NewFlagSet("watch "+action, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	dir := fs.String("dir", "", "directory to watch")
	_ = fs.Parse(os.Args[3:])

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	switch action {
	case "list":
		if len(cfg.Watch.Directories) == 0 {
			fmt.Println("No watch directories configured")
			return
		}
		for _, d := range cfg.Watch.Directories {
			fmt.Println(d)
		}
		return
	case "add":
		abs := resolveWatchDir(*dir)
		for _, d := range cfg.Watch.Directories {
			if d == abs {
				fmt.Printf("Already watching %s\n", abs)
				return
			}
		}
		cfg.Watch.Directories = append(cfg.Watch.Directories, abs)
	case "remove":
		abs := resolveWatchDir(*dir)
		kept := cfg.Watch.Directories[:0]
		for _, d := range cfg.Watch.Directories {
			if d != abs {
				kept = append(kept, d)
			}
		}
		if len(kept) == len(cfg.Watch.Directories) {
			fmt.Fprintf(os.Stderr, "Not watching %s\n", abs)
			os.Exit(1)
		}
		cfg.Watch.Directories = kept
	default:
		fmt.Fprintf(os.Stderr, "Unknown watch action: %s\n", action)
		os.Exit(1)
	}

	if err := config.Save(resolvedPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to save config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated %s\n", resolvedPath)
}

func resolveWatchDir(dir string) string {
	if dir == "" {
		fmt.Fprintln(os.Stderr, "A -dir flag is required")
		os.Exit(1)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid directory: %v\n", err)
		os.Exit(1)
	}
	return abs
}

func ingestFileViaHTTP(serverURL, kbID, path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	resp, err := http.Post(serverURL+"/api/v1/knowledge-bases/"+kbID+"/ingest/file",
		mw.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func postJSON(url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
