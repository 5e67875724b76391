package chunker

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates the token cost of chunk content before it is
// sent to the embedding API, so the quota governor can admit a
// reservation against its tokens-per-minute window before the call is
// made.
//
// Grounded on the teacher's internal/indexer/token_chunker.go, which used
// the same tiktoken-go encoding to drive an (abandoned, see DESIGN.md)
// standalone token-based chunking strategy; repurposed here for
// estimation only.
type TokenEstimator struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTokenEstimator builds an estimator using the cl100k_base encoding.
func NewTokenEstimator() (*TokenEstimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TokenEstimator{enc: enc}, nil
}

// Estimate returns the token count of text. tiktoken's encoder is not
// documented as goroutine-safe, so calls are serialized.
func (t *TokenEstimator) Estimate(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}
