// Package search implements the search() RPC: embed the query, fetch
// nearest vectors, then rerank with a hybrid score combining semantic
// similarity, exact/partial text match, and a file-path plausibility
// multiplier.
//
// Grounded on the teacher's internal/search/searcher.go hybrid-scoring
// algorithm (semantic weight + additive exact-match boost + partial-word
// boost + path multiplier for test/vendor paths), adapted to the new
// internal/chunk.Payload / internal/vectorstore types. The teacher
// carried the same formatting logic twice (FormatResults here and a
// near-duplicate formatSearchResults in its MCP layer); this port keeps
// exactly one formatter, used by both internal/mcpserver and
// cmd/search-test.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/codeindex-dev/codeindex-engine/internal/chunk"
	"github.com/codeindex-dev/codeindex-engine/internal/embedder"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
)

// Embedder generates a query embedding.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore performs the nearest-neighbor query.
type VectorStore interface {
	Query(ctx context.Context, vector []float32, limit int) ([]chunk.Payload, []float32, error)
}

// TokenEstimator is the narrow interface Search needs to size its query
// reservation, mirroring internal/embedder.TokenEstimator.
type TokenEstimator interface {
	Estimate(text string) int
}

// Config tunes the hybrid scoring weights. Defaults mirror the teacher's
// tuned constants.
type Config struct {
	SemanticWeight  float64
	ExactMatchBoost float64
	MaxResults      int
}

// DefaultConfig returns the teacher's tuned weights.
func DefaultConfig() Config {
	return Config{
		SemanticWeight:  0.7,
		ExactMatchBoost: 0.25,
		MaxResults:      10,
	}
}

// Result is one ranked hit, shaped to spec §6's search() response.
type Result struct {
	FilePath       string
	Name           string
	StartLine      int
	EndLine        int
	Language       string
	Score          float64 // clamped to [0, 1]
	ContentPreview string
	ExactMatch     bool
}

// Searcher answers search() queries.
type Searcher struct {
	cfg       Config
	embedder  Embedder
	vector    VectorStore
	governor  *quota.Governor
	estimator TokenEstimator
}

// New builds a Searcher. Every embed_query call spec 4.E requires to be
// governed runs its reservation through governor, the same instance the
// indexing batcher reserves against, so concurrent search traffic and
// indexing traffic share one RPM/TPM/daily-cap budget. estimator sizes
// the token reservation; a nil estimator reserves a single token.
func New(cfg Config, embed Embedder, vector VectorStore, governor *quota.Governor, estimator TokenEstimator) *Searcher {
	return &Searcher{cfg: cfg, embedder: embed, vector: vector, governor: governor, estimator: estimator}
}

// Search embeds query under a governed reservation, fetches up to 3x
// limit candidates for reranking headroom, and returns the top limit
// results by hybrid score.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 || limit > 20 {
		limit = s.cfg.MaxResults
	}

	queryEmbedding, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	payloads, scores, err := s.vector.Query(ctx, queryEmbedding, limit*3)
	if err != nil {
		return nil, fmt.Errorf("search: vector query: %w", err)
	}
	if len(payloads) == 0 {
		return []Result{}, nil
	}

	results := s.applyHybridScoring(query, payloads, scores)

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// embedQuery reserves against the shared governor, makes the single
// embed call spec 4.E's "embed_query(text) -> Vector, governed" names,
// and reports the outcome back so a 429 applies the same backoff the
// batcher's indexing calls observe.
func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.governor == nil {
		return s.embedder.EmbedQuery(ctx, query)
	}

	tokens := 1
	if s.estimator != nil {
		tokens = s.estimator.Estimate(query)
	}

	permit, err := s.governor.Reserve(ctx, 1, tokens)
	if err != nil {
		return nil, fmt.Errorf("quota reserve: %w", err)
	}

	vec, embedErr := s.embedder.EmbedQuery(ctx, query)
	outcome := quota.OutcomeOK
	var rateLimited *embedder.RateLimitedError
	switch {
	case embedErr == nil:
		outcome = quota.OutcomeOK
	case errors.As(embedErr, &rateLimited):
		outcome = quota.OutcomeRateLimited
	default:
		outcome = quota.OutcomeFailed
	}
	s.governor.Release(permit, tokens, outcome)
	return vec, embedErr
}

func (s *Searcher) applyHybridScoring(query string, payloads []chunk.Payload, semanticScores []float32) []Result {
	results := make([]Result, len(payloads))
	queryLower := strings.ToLower(query)
	queryWords := strings.Fields(queryLower)

	for i, p := range payloads {
		semantic := float64(semanticScores[i])
		hybrid := semantic * s.cfg.SemanticWeight

		contentLower := strings.ToLower(p.Content)
		exactMatch := strings.Contains(contentLower, queryLower)
		if exactMatch {
			hybrid += s.cfg.ExactMatchBoost
		} else {
			matchedWords := 0
			for _, word := range queryWords {
				if len(word) > 2 && strings.Contains(contentLower, word) {
					matchedWords++
				}
			}
			if matchedWords > 0 && len(queryWords) > 0 {
				hybrid += (float64(matchedWords) / float64(len(queryWords))) * 0.3
			}
		}

		hybrid *= filePathMultiplier(p.FilePath)
		if hybrid > 1 {
			hybrid = 1
		}
		if hybrid < 0 {
			hybrid = 0
		}

		results[i] = Result{
			FilePath:       p.FilePath,
			Name:           p.Name,
			StartLine:      p.StartLine,
			EndLine:        p.EndLine,
			Language:       p.Language,
			Score:          hybrid,
			ContentPreview: preview(p.Content, 3),
			ExactMatch:     exactMatch,
		}
	}
	return results
}

// filePathMultiplier penalizes test/generated/vendor paths and boosts
// main source paths, same stance as the teacher's calculateFilePathScore.
func filePathMultiplier(path string) float64 {
	// Payload paths are repo-relative ("internal/x.go"); a leading "/"
	// lets the "/dir/" checks below match a top-level directory too.
	lower := "/" + strings.ToLower(path)
	switch {
	case isTestPath(lower):
		return 0.05
	case isGeneratedOrVendor(lower):
		return 0.2
	case isMainSourcePath(lower):
		return 1.3
	default:
		return 1.0
	}
}

func isTestPath(lower string) bool {
	if strings.Contains(lower, "/test/") || strings.Contains(lower, "/tests/") ||
		strings.Contains(lower, "/__tests__/") || strings.Contains(lower, "/spec/") {
		return true
	}
	suffixes := []string{
		"_test.go", "_test.js", "_test.ts",
		".test.js", ".test.ts", ".test.jsx", ".test.tsx",
		".spec.js", ".spec.ts", ".spec.jsx", ".spec.tsx",
	}
	for _, suf := range suffixes {
		if strings.HasSuffix(lower, suf) {
			return true
		}
	}
	return false
}

func isMainSourcePath(lower string) bool {
	return strings.Contains(lower, "/src/") ||
		strings.Contains(lower, "/lib/") ||
		strings.Contains(lower, "/pkg/") ||
		strings.Contains(lower, "/internal/") ||
		(strings.Contains(lower, "/cmd/") && !strings.Contains(lower, "/test"))
}

func isGeneratedOrVendor(lower string) bool {
	return strings.Contains(lower, "/vendor/") ||
		strings.Contains(lower, "/node_modules/") ||
		strings.Contains(lower, "/dist/") ||
		strings.Contains(lower, "/build/") ||
		strings.Contains(lower, ".generated.") ||
		strings.Contains(lower, "_generated.")
}

func preview(content string, maxLines int) string {
	lines := strings.Split(content, "\n")
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.Join(lines, "\n")
}

// FormatResults renders results for human-readable output (the MCP tool
// response and cmd/search-test share this single formatter).
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Found %d results:\n\n", len(results))
	for i, r := range results {
		location := fmt.Sprintf("%s:%d-%d", r.FilePath, r.StartLine, r.EndLine)
		if r.Name != "" && r.Name != "anonymous" {
			location += fmt.Sprintf(" (in %s)", r.Name)
		}

		scoreInfo := fmt.Sprintf("score: %.3f", r.Score)
		if r.ExactMatch {
			scoreInfo += " [EXACT MATCH]"
		}

		fmt.Fprintf(&out, "%d. %s\n", i+1, location)
		fmt.Fprintf(&out, "   %s\n", scoreInfo)
		fmt.Fprintf(&out, "   language: %s\n", r.Language)
		fmt.Fprintf(&out, "   preview:\n")
		for _, line := range strings.Split(r.ContentPreview, "\n") {
			line = strings.TrimSpace(line)
			if len(line) > 80 {
				line = line[:80] + "..."
			}
			fmt.Fprintf(&out, "   | %s\n", line)
		}
		out.WriteString("\n")
	}
	return out.String()
}
