package embedder

import (
	"context"
	"errors"
	"sync"

	"github.com/codeindex-dev/codeindex-engine/internal/chunk"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
)

// maxAttemptsPerChunk is spec 4.E's retry budget per chunk before the
// slot is marked failed.
const maxAttemptsPerChunk = 3

// TokenEstimator is the narrow interface Batcher needs from
// internal/chunker.TokenEstimator, kept small for testability (grounded
// on the teacher's EmbeddingGenerator interface in
// internal/embeddings/batcher.go, which exists for the same reason).
type TokenEstimator interface {
	Estimate(text string) int
}

// Embedder is the narrow interface Batcher needs from Client.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Result is Batcher's per-chunk outcome: Vector is nil when the chunk
// could not be embedded after retries (spec 4.E: "None marks a per-chunk
// failure").
type Result struct {
	Vector []float32
	Err    error
}

// Batcher launches up to BatchSize chunks in parallel under separate
// governor reservations, so a single chunk's failure never poisons the
// rest of the batch.
//
// Grounded on the teacher's internal/embeddings/batcher.go (batch
// splitting, parallel fan-out via a worker semaphore), generalized to
// go through the quota governor instead of a bare concurrency semaphore.
type Batcher struct {
	Embedder  Embedder
	Governor  *quota.Governor
	Estimator TokenEstimator
	BatchSize int
}

// EmbedBatch embeds chunks, one reservation per chunk, returning results
// aligned to the input order.
func (b *Batcher) EmbedBatch(ctx context.Context, chunks []chunk.Code) []Result {
	results := make([]Result, len(chunks))
	if len(chunks) == 0 {
		return results
	}

	batchSize := b.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, batchSize)

	for i := range chunks {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = b.embedOne(ctx, chunks[idx])
		}(i)
	}
	wg.Wait()
	return results
}

func (b *Batcher) embedOne(ctx context.Context, c chunk.Code) Result {
	tokens := 1
	if b.Estimator != nil {
		tokens = b.Estimator.Estimate(c.Content)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttemptsPerChunk; attempt++ {
		permit, err := b.Governor.Reserve(ctx, 1, tokens)
		if err != nil {
			if errors.Is(err, quota.ErrDailyCapExhausted) {
				return Result{Err: err}
			}
			lastErr = err
			continue
		}

		vec, embedErr := b.Embedder.EmbedQuery(ctx, c.Content)
		outcome := quota.OutcomeOK
		var rateLimited *RateLimitedError
		switch {
		case embedErr == nil:
			outcome = quota.OutcomeOK
		case errors.As(embedErr, &rateLimited):
			outcome = quota.OutcomeRateLimited
		default:
			outcome = quota.OutcomeFailed
		}
		b.Governor.Release(permit, tokens, outcome)

		if embedErr == nil {
			return Result{Vector: vec}
		}
		lastErr = embedErr
	}
	return Result{Err: lastErr}
}
