// Command reindex drives a single engine scan-and-index pass over a
// repository, then exits, instead of staying resident to watch.
//
// Grounded on the teacher's cmd/index/main.go: same log/slog
// structured-field style and "force reindex, then report totals and
// exit" shape, driving the new internal/engine instead of the old
// indexer.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/codeindex-dev/codeindex-engine/internal/chunker"
	"github.com/codeindex-dev/codeindex-engine/internal/embedder"
	"github.com/codeindex-dev/codeindex-engine/internal/engine"
	"github.com/codeindex-dev/codeindex-engine/internal/langtable"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
	"github.com/codeindex-dev/codeindex-engine/internal/reconciler"
	"github.com/codeindex-dev/codeindex-engine/internal/scanner"
	"github.com/codeindex-dev/codeindex-engine/internal/state"
	"github.com/codeindex-dev/codeindex-engine/internal/vectorstore"
	"github.com/codeindex-dev/codeindex-engine/pkg/config"
)

const defaultEmbeddingDimension = 768

func main() {
	repoPath, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get current directory: %v", err)
	}
	if len(os.Args) > 1 {
		repoPath = os.Args[1]
	}

	slog.Info("starting repository reindex", "repository", repoPath)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.RepoPath = repoPath

	slog.Info("configuration loaded",
		"model", cfg.EmbeddingModel,
		"batch_size", cfg.BatchSize,
		"collection", cfg.VectorCollection)

	store := state.New(cfg.IndexStatePath)
	today := time.Now().UTC().Format("2006-01-02")
	if err := store.Load(today, quota.DefaultConfig().RequestsPerDay); err != nil {
		log.Fatalf("load state: %v", err)
	}
	// force a full reindex: discard what's known so the scanner
	// classifies every source file as new.
	store.Mutate(func(d *state.Document) {
		d.IndexedFiles = make(map[string]state.FileMetadata)
		d.PendingQueue = nil
	})

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
		log.Fatalf("connect vector store: %v", err)
	}
	defer vectorClient.Close()

	estimator, err := chunker.NewTokenEstimator()
	if err != nil {
		log.Fatalf("build token estimator: %v", err)
	}
	embedClient := embedder.NewClient(embedder.Config{
		Endpoint:  cfg.EmbeddingEndpoint,
		APIKey:    cfg.EmbeddingAPIKey,
		Model:     cfg.EmbeddingModel,
		Dimension: defaultEmbeddingDimension,
	})
	governor := quota.New(quota.DefaultConfig())

	eng := engine.New(engine.Config{
		RepoRoot:  cfg.RepoPath,
		Store:     store,
		Scanner:   scanner.New(filter),
		Reconcile: reconciler.New(store, vectorClient),
		Vector:    vectorClient,
		Chunker:   chunker.New(),
		Refiner:   chunker.NewNameRefiner(),
		Estimator: estimator,
		Batcher: &embedder.Batcher{
			Embedder:  embedClient,
			Governor:  governor,
			Estimator: estimator,
			BatchSize: cfg.BatchSize,
		},
		Governor: governor,
		Filter:   filter,
		Watch:    nil, // one-shot: no continuous watch phase
	})

	slog.Info("indexing started")
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	waitForDrain(eng)
	cancel()
	if err := <-done; err != nil {
		slog.Error("indexing failed", "error", err, "duration", time.Since(start))
		os.Exit(1)
	}

	snap := store.Snapshot()
	slog.Info("indexing completed successfully",
		"repository", cfg.RepoPath,
		"files_indexed", len(snap.IndexedFiles),
		"new_files", snap.Stats.NewFiles,
		"modified_files", snap.Stats.ModifiedFiles,
		"deleted_files", snap.Stats.DeletedFiles,
		"duration", time.Since(start))
}

// waitForDrain polls until the engine's work queue and in-flight set are
// both empty, i.e. the initial scan's backlog has been fully processed.
func waitForDrain(eng *engine.Engine) {
	settled := 0
	for settled < 3 {
		if eng.QueueDepth() == 0 && eng.InFlightCount() == 0 {
			settled++
		} else {
			settled = 0
		}
		time.Sleep(200 * time.Millisecond)
	}
}
