package search

import (
	"context"
	"strings"
	"testing"

	"github.com/codeindex-dev/codeindex-engine/internal/chunk"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
)

type mockEmbedder struct {
	vector []float32
	err    error
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.vector, nil
}

type mockVectorStore struct {
	payloads []chunk.Payload
	scores   []float32
	err      error
}

func (m *mockVectorStore) Query(ctx context.Context, vector []float32, limit int) ([]chunk.Payload, []float32, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.payloads, m.scores, nil
}

func testConfig() Config {
	return Config{SemanticWeight: 0.7, ExactMatchBoost: 0.25, MaxResults: 5}
}

func TestHybridScoringExactMatchOutranksHigherSemantic(t *testing.T) {
	s := New(testConfig(), &mockEmbedder{}, &mockVectorStore{}, nil, nil)

	payloads := []chunk.Payload{
		{FilePath: "a.java", Content: "This is a test"},
		{FilePath: "b.java", Content: "Code with logger.info() call"},
	}
	scores := []float32{0.8, 0.6}

	results := s.applyHybridScoring("logger", payloads, scores)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ExactMatch {
		t.Error("result 0 should not be an exact match")
	}
	if !results[1].ExactMatch {
		t.Error("result 1 should be an exact match")
	}
	if results[1].Score <= results[0].Score {
		t.Errorf("exact match result should outrank pure semantic result: %v vs %v", results[1].Score, results[0].Score)
	}
}

func TestHybridScoringPureSemanticOrderPreservedWithoutMatches(t *testing.T) {
	s := New(testConfig(), &mockEmbedder{}, &mockVectorStore{}, nil, nil)

	payloads := []chunk.Payload{
		{FilePath: "a.java", Content: "User login service"},
		{FilePath: "b.java", Content: "Database connection"},
	}
	scores := []float32{0.9, 0.3}

	results := s.applyHybridScoring("authentication", payloads, scores)
	if results[0].Score <= results[1].Score {
		t.Errorf("expected result 0 to score higher, got %v vs %v", results[0].Score, results[1].Score)
	}
}

func TestHybridScoringPenalizesTestFiles(t *testing.T) {
	s := New(testConfig(), &mockEmbedder{}, &mockVectorStore{}, nil, nil)

	payloads := []chunk.Payload{
		{FilePath: "internal/auth/login.go", Content: "func Login() {}"},
		{FilePath: "internal/auth/login_test.go", Content: "func Login() {}"},
	}
	scores := []float32{0.5, 0.5}

	results := s.applyHybridScoring("login", payloads, scores)
	if results[1].Score >= results[0].Score {
		t.Errorf("expected test file to be penalized below source file: %v vs %v", results[1].Score, results[0].Score)
	}
}

func TestScoreClampedToUnitRange(t *testing.T) {
	s := New(testConfig(), &mockEmbedder{}, &mockVectorStore{}, nil, nil)
	payloads := []chunk.Payload{
		{FilePath: "internal/core/hot.go", Content: "logger logger logger"},
	}
	scores := []float32{1.0}

	results := s.applyHybridScoring("logger", payloads, scores)
	if results[0].Score > 1 || results[0].Score < 0 {
		t.Errorf("expected score in [0,1], got %v", results[0].Score)
	}
}

func TestSearchReturnsTopNByHybridScore(t *testing.T) {
	cfg := Config{SemanticWeight: 0.7, ExactMatchBoost: 0.25, MaxResults: 3}
	embedder := &mockEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	vector := &mockVectorStore{
		payloads: []chunk.Payload{
			{FilePath: "a.java", Content: "Result one"},
			{FilePath: "b.java", Content: "Result two with query match"},
			{FilePath: "c.java", Content: "Result three"},
			{FilePath: "d.java", Content: "Result four"},
		},
		scores: []float32{0.9, 0.7, 0.8, 0.6},
	}

	s := New(cfg, embedder, vector, nil, nil)
	results, err := s.Search(context.Background(), "query", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != cfg.MaxResults {
		t.Errorf("expected %d results, got %d", cfg.MaxResults, len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending: result[%d]=%.3f > result[%d]=%.3f",
				i, results[i].Score, i-1, results[i-1].Score)
		}
	}
}

func TestSearchPropagatesEmbedError(t *testing.T) {
	s := New(testConfig(), &mockEmbedder{err: context.DeadlineExceeded}, &mockVectorStore{}, nil, nil)
	if _, err := s.Search(context.Background(), "q", 5); err == nil {
		t.Error("expected error to propagate from embedder")
	}
}

func TestSearchReservesAgainstSharedGovernor(t *testing.T) {
	cfg := DefaultConfig()
	governor := quota.New(quota.DefaultConfig())
	embedder := &mockEmbedder{vector: []float32{0.1, 0.2}}
	vector := &mockVectorStore{
		payloads: []chunk.Payload{{FilePath: "a.go", Content: "auth check"}},
		scores:   []float32{0.5},
	}

	s := New(cfg, embedder, vector, governor, nil)
	before := governor.Usage().RequestsPerMinuteUsed
	if _, err := s.Search(context.Background(), "auth", 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	after := governor.Usage().RequestsPerMinuteUsed
	if after != before+1 {
		t.Errorf("expected embed_query to consume one governor reservation, used went %d -> %d", before, after)
	}
}

func TestSearchRespectsDailyCapExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	qcfg := quota.DefaultConfig()
	qcfg.RequestsPerDay = 0
	governor := quota.New(qcfg)
	embedder := &mockEmbedder{vector: []float32{0.1}}
	vector := &mockVectorStore{}

	s := New(cfg, embedder, vector, governor, nil)
	if _, err := s.Search(context.Background(), "auth", 5); err == nil {
		t.Error("expected search to fail once the daily cap is exhausted")
	}
}

func TestFormatResultsEmpty(t *testing.T) {
	if out := FormatResults(nil); out != "No results found." {
		t.Errorf("unexpected output for empty results: %q", out)
	}
}

func TestFormatResultsSingle(t *testing.T) {
	results := []Result{
		{
			FilePath:       "auth.go",
			Name:           "Authenticate",
			StartLine:      5,
			EndLine:        15,
			Language:       "go",
			Score:          0.92,
			ContentPreview: "func Authenticate() {}",
			ExactMatch:     true,
		},
	}
	out := FormatResults(results)
	for _, want := range []string{"auth.go:5-15", "in Authenticate", "EXACT MATCH", "language: go"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}
}
