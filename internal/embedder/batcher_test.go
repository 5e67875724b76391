package embedder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/codeindex-dev/codeindex-engine/internal/chunk"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
)

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int32
	failFor  map[string]int // text -> number of times to fail before succeeding
	failures map[string]int // text -> remaining failure count, mutated
}

func newFakeEmbedder(failFor map[string]int) *fakeEmbedder {
	failures := make(map[string]int, len(failFor))
	for k, v := range failFor {
		failures[k] = v
	}
	return &fakeEmbedder{failFor: failFor, failures: failures}
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining, ok := f.failures[text]; ok && remaining > 0 {
		f.failures[text] = remaining - 1
		return nil, &RateLimitedError{StatusCode: 429}
	}
	return []float32{1, 2, 3}, nil
}

type fakeEstimator struct{}

func (fakeEstimator) Estimate(text string) int { return len(text) }

func TestEmbedBatchAllSucceed(t *testing.T) {
	b := &Batcher{
		Embedder:  newFakeEmbedder(nil),
		Governor:  quota.New(quota.DefaultConfig()),
		Estimator: fakeEstimator{},
		BatchSize: 10,
	}

	chunks := make([]chunk.Code, 5)
	for i := range chunks {
		chunks[i] = chunk.Code{ID: "x", Content: "hello world"}
	}

	results := b.EmbedBatch(context.Background(), chunks)
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Err != nil {
			t.Errorf("result %d: unexpected error %v", i, r.Err)
		}
		if len(r.Vector) != 3 {
			t.Errorf("result %d: expected vector of length 3, got %v", i, r.Vector)
		}
	}
}

func TestEmbedBatchRetriesThenSucceeds(t *testing.T) {
	fe := newFakeEmbedder(map[string]int{"flaky": 2})
	b := &Batcher{
		Embedder:  fe,
		Governor:  quota.New(quota.DefaultConfig()),
		Estimator: fakeEstimator{},
		BatchSize: 5,
	}

	results := b.EmbedBatch(context.Background(), []chunk.Code{{ID: "1", Content: "flaky"}})
	if results[0].Err != nil {
		t.Fatalf("expected eventual success after retries, got %v", results[0].Err)
	}
	if fe.calls != 3 {
		t.Errorf("expected 3 attempts (2 failures + 1 success), got %d", fe.calls)
	}
}

func TestEmbedBatchFailsAfterMaxAttempts(t *testing.T) {
	fe := newFakeEmbedder(map[string]int{"always-fails": maxAttemptsPerChunk + 5})
	b := &Batcher{
		Embedder:  fe,
		Governor:  quota.New(quota.DefaultConfig()),
		Estimator: fakeEstimator{},
		BatchSize: 5,
	}

	results := b.EmbedBatch(context.Background(), []chunk.Code{{ID: "1", Content: "always-fails"}})
	if results[0].Err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if fe.calls != maxAttemptsPerChunk {
		t.Errorf("expected exactly %d attempts, got %d", maxAttemptsPerChunk, fe.calls)
	}
}

func TestEmbedBatchIsolatesFailures(t *testing.T) {
	fe := newFakeEmbedder(map[string]int{"bad": maxAttemptsPerChunk + 5})
	b := &Batcher{
		Embedder:  fe,
		Governor:  quota.New(quota.DefaultConfig()),
		Estimator: fakeEstimator{},
		BatchSize: 5,
	}

	chunks := []chunk.Code{
		{ID: "1", Content: "good-one"},
		{ID: "2", Content: "bad"},
		{ID: "3", Content: "good-two"},
	}
	results := b.EmbedBatch(context.Background(), chunks)
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("good chunks should not be affected by a failing sibling: %+v, %+v", results[0], results[2])
	}
	if results[1].Err == nil {
		t.Error("expected the bad chunk to fail")
	}
}
