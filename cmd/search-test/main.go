// Command search-test is a one-shot CLI for exercising the search() RPC
// against a live vector collection without starting the full engine.
// Grounded on the teacher's cmd/search-test/main.go: same flag shape and
// slog-based result dump, rewired to the new internal/search,
// internal/embedder, and internal/vectorstore packages.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"time"

	"github.com/codeindex-dev/codeindex-engine/internal/chunker"
	"github.com/codeindex-dev/codeindex-engine/internal/embedder"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
	"github.com/codeindex-dev/codeindex-engine/internal/search"
	"github.com/codeindex-dev/codeindex-engine/internal/vectorstore"
	"github.com/codeindex-dev/codeindex-engine/pkg/config"
)

func main() {
	query := flag.String("query", "", "search query")
	limit := flag.Int("limit", 5, "max results")
	flag.Parse()

	if *query == "" {
		*query = "JWT token validation"
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	slog.Info("search-test starting", "repo", cfg.RepoPath, "query", *query)

	embedClient := embedder.NewClient(embedder.Config{
		Endpoint: cfg.EmbeddingEndpoint,
		APIKey:   cfg.EmbeddingAPIKey,
		Model:    cfg.EmbeddingModel,
	})

	vectorClient, err := vectorstore.NewClient(vectorstore.Config{
		URL:            cfg.VectorStoreURL,
		APIKey:         cfg.VectorStoreAPIKey,
		Collection:     cfg.VectorCollection,
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
	governor := quota.New(quota.DefaultConfig())

	searcher := search.New(search.DefaultConfig(), embedClient, vectorClient, governor, estimator)

	start := time.Now()
	results, err := searcher.Search(context.Background(), *query, *limit)
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	elapsed := time.Since(start)

	slog.Info("search completed", "elapsed", elapsed, "results", len(results))
	if len(results) == 0 {
		slog.Warn("no results found")
		return
	}

	for i, r := range results {
		slog.Info("result",
			"rank", i+1,
			"file", r.FilePath,
			"lines", r.StartLine,
			"score", r.Score,
			"exact_match", r.ExactMatch,
			"language", r.Language)
	}
	log.Print(search.FormatResults(results))
}
