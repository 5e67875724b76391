// Command server is the long-running process: it boots the engine
// (reconcile, initial scan, continuous watch) and serves the MCP RPC
// surface over stdio until a shutdown signal arrives.
//
// Grounded on the teacher's cmd/server/main.go: the logManager
// rotate-by-size-and-age scheme, stdlib `log` fan-out to stderr+file, and
// signal-driven graceful shutdown are kept verbatim in shape; the wiring
// itself now builds an internal/engine.Engine and internal/mcpserver.Server
// instead of the old indexer+mcp.Server pair.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/codeindex-dev/codeindex-engine/internal/chunker"
	"github.com/codeindex-dev/codeindex-engine/internal/embedder"
	"github.com/codeindex-dev/codeindex-engine/internal/engine"
	"github.com/codeindex-dev/codeindex-engine/internal/langtable"
	"github.com/codeindex-dev/codeindex-engine/internal/mcpserver"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
	"github.com/codeindex-dev/codeindex-engine/internal/reconciler"
	"github.com/codeindex-dev/codeindex-engine/internal/scanner"
	"github.com/codeindex-dev/codeindex-engine/internal/search"
	"github.com/codeindex-dev/codeindex-engine/internal/state"
	"github.com/codeindex-dev/codeindex-engine/internal/vectorstore"
	"github.com/codeindex-dev/codeindex-engine/internal/watcher"
	"github.com/codeindex-dev/codeindex-engine/pkg/config"
)

// defaultEmbeddingDimension is spec §6's "provider-specific 768-dim
// default" for EMBEDDING_MODEL.
const defaultEmbeddingDimension = 768

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logCtx, logCancel := context.WithCancel(context.Background())
	defer logCancel()

	logCloser, err := setupLogging(logCtx, cfg)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	log.Printf("[codeindex] repo: %s", cfg.RepoPath)
	log.Printf("[codeindex] vector store: %s, collection: %s", cfg.VectorStoreURL, cfg.VectorCollection)
	log.Printf("[codeindex] watch mode: %v, batch size: %d", cfg.WatchMode, cfg.BatchSize)

	eng, mcp, err := build(cfg)
	if err != nil {
		log.Fatalf("failed to build engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("[codeindex] received shutdown signal, stopping engine...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			log.Printf("[codeindex] engine stopped with error: %v", err)
		}
	}()

	log.Println("[codeindex] starting mcp server...")
	if err := mcp.Start(ctx); err != nil {
		log.Fatalf("mcp server error: %v", err)
	}

	cancel()
	wg.Wait()
}

// build wires every collaborator the engine and the MCP layer need, per
// DESIGN.md's rule that exactly one *quota.Governor is shared between
// the engine's daily-cap pre-check and the batcher's reservations.
func build(cfg *config.Config) (*engine.Engine, *mcpserver.Server, error) {
	store := state.New(cfg.IndexStatePath)
	today := time.Now().UTC().Format("2006-01-02")
	if err := store.Load(today, quota.DefaultConfig().RequestsPerDay); err != nil {
		return nil, nil, fmt.Errorf("load state: %w", err)
	}

	table := langtable.New()
	filter := langtable.NewFilter(table, cfg.IgnorePaths, true)

	vectorClient, err := vectorstore.NewClient(vectorstore.Config{
		URL:            cfg.VectorStoreURL,
		APIKey:         cfg.VectorStoreAPIKey,
		Collection:     cfg.VectorCollection,
		VectorSize:     defaultEmbeddingDimension,
		DistanceMetric: "cosine",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect vector store: %w", err)
	}

	recon := reconciler.New(store, vectorClient)

	chunk := chunker.New()
	refiner := chunker.NewNameRefiner()
	estimator, err := chunker.NewTokenEstimator()
	if err != nil {
		return nil, nil, fmt.Errorf("build token estimator: %w", err)
	}

	embedClient := embedder.NewClient(embedder.Config{
		Endpoint:  cfg.EmbeddingEndpoint,
		APIKey:    cfg.EmbeddingAPIKey,
		Model:     cfg.EmbeddingModel,
		Dimension: defaultEmbeddingDimension,
	})

	governor := quota.New(quota.DefaultConfig())
	batcher := &embedder.Batcher{
		Embedder:  embedClient,
		Governor:  governor,
		Estimator: estimator,
		BatchSize: cfg.BatchSize,
	}

	var fileWatch *watcher.Watcher
	if cfg.WatchMode {
		fileWatch, err = watcher.New(cfg.RepoPath, filter)
		if err != nil {
			return nil, nil, fmt.Errorf("build watcher: %w", err)
		}
	}

	eng := engine.New(engine.Config{
		RepoRoot:  cfg.RepoPath,
		Store:     store,
		Scanner:   scanner.New(filter),
		Reconcile: recon,
		Vector:    vectorClient,
		Chunker:   chunk,
		Refiner:   refiner,
		Estimator: estimator,
		Batcher:   batcher,
		Governor:  governor,
		Filter:    filter,
		Watch:     fileWatch,
	})

	searcher := search.New(search.DefaultConfig(), embedClient, vectorClient, governor, estimator)
	mcp := mcpserver.New(mcpserver.Config{
		Name:     "codeindex-engine",
		Version:  "0.1.0",
		Engine:   eng,
		Searcher: searcher,
		Vector:   vectorClient,
		Filter:   filter,
	})

	return eng, mcp, nil
}

// logManager handles rotating the server's log file by size, mirroring
// the teacher's logManager.
type logManager struct {
	mu          sync.Mutex
	logFilePath string
	logFile     *os.File
	cfg         config.LoggingConfig
}

func newLogManager(logFilePath string, cfg config.LoggingConfig) (*logManager, error) {
	lm := &logManager{logFilePath: logFilePath, cfg: cfg}
	if err := lm.openLogFile(); err != nil {
		return nil, err
	}
	return lm, nil
}

func (lm *logManager) openLogFile() error {
	f, err := os.OpenFile(lm.logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	lm.logFile = f
	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

func (lm *logManager) rotate() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.logFile != nil {
		lm.logFile.Close()
	}
	backupPath := fmt.Sprintf("%s.%s", lm.logFilePath, time.Now().Format("2006-01-02-15-04-05"))
	if err := os.Rename(lm.logFilePath, backupPath); err != nil {
		lm.openLogFile()
		return fmt.Errorf("rotate log file: %w", err)
	}
	if err := lm.openLogFile(); err != nil {
		return err
	}
	log.Printf("[codeindex] log file rotated: %s", backupPath)
	cleanOldLogFiles(filepath.Dir(lm.logFilePath), lm.cfg.MaxBackups, lm.cfg.MaxAgeDays)
	return nil
}

func (lm *logManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.logFile != nil {
		return lm.logFile.Close()
	}
	return nil
}

func setupLogging(ctx context.Context, cfg *config.Config) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if !cfg.Logging.Enabled || cfg.Logging.Directory == "" {
		return nil, nil
	}
	if err := os.MkdirAll(cfg.Logging.Directory, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	logFilePath := filepath.Join(cfg.Logging.Directory, "codeindex.log")
	logMgr, err := newLogManager(logFilePath, cfg.Logging)
	if err != nil {
		return nil, err
	}
	go rotateLogFileWithContext(ctx, logMgr)
	return logMgr, nil
}

func rotateLogFileWithContext(ctx context.Context, logMgr *logManager) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(logMgr.logFilePath)
			if err != nil {
				continue
			}
			maxBytes := int64(logMgr.cfg.MaxSizeMB) * 1024 * 1024
			if info.Size() > maxBytes {
				if err := logMgr.rotate(); err != nil {
					log.Printf("[codeindex] log rotation failed: %v", err)
				}
			}
		}
	}
}

func cleanOldLogFiles(logDir string, maxBackups, maxAgeDays int) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	var backups []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "codeindex.log.") {
			backups = append(backups, entry)
		}
	}

	maxAge := time.Duration(maxAgeDays) * 24 * time.Hour
	now := time.Now()
	for _, f := range backups {
		info, err := f.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			path := filepath.Join(logDir, f.Name())
			os.Remove(path)
			log.Printf("[codeindex] removed old log file: %s", path)
		}
	}
	if len(backups) > maxBackups {
		log.Printf("[codeindex] log backup count (%d) exceeds max (%d)", len(backups), maxBackups)
	}
}
