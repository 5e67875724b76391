// Package quota implements the embedding-request quota governor of spec
// component D: per-minute request/token sliding windows, a daily request
// cap with pending-queue rollover, and exponential backoff shared across
// all pending reservations.
//
// No teacher equivalent exists for this component (the teacher's
// embedder only has a bare concurrency semaphore). Built directly from
// spec 4.D's algorithm description.
package quota

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Outcome is the result a caller reports back to the governor via
// Release, replacing exceptions-for-control-flow (spec 9's redesign
// note) with an explicit value.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimited
	OutcomeFailed
)

// Config holds the governor's configurable limits. Defaults match spec
// 4.D's "tuned for the reference embedding service" values.
type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int
	RequestsPerDay    int
	MaxConcurrent     int

	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffJitter float64 // fraction, e.g. 0.2 for ±20%
	BackoffCap    time.Duration
}

// DefaultConfig returns spec 4.D's stated defaults.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 1500,
		TokensPerMinute:   1_000_000,
		RequestsPerDay:    10_000,
		MaxConcurrent:     25,
		BackoffBase:       1 * time.Second,
		BackoffFactor:     2,
		BackoffJitter:     0.2,
		BackoffCap:        60 * time.Second,
	}
}

// ErrDailyCapExhausted is returned by Reserve when today's request budget
// is used up; callers should defer the work to the pending queue rather
// than wait (the cap only resets at the next UTC day).
var ErrDailyCapExhausted = errors.New("quota: daily request cap exhausted")

type window struct {
	mu      sync.Mutex
	entries []windowEntry
}

type windowEntry struct {
	at     time.Time
	amount int
}

// prune drops entries older than 60000ms relative to now and returns the
// sum of amounts remaining.
func (w *window) prune(now time.Time) int {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
	total := 0
	for _, e := range w.entries {
		total += e.amount
	}
	return total
}

// admitDelay returns how long to wait before amount more units would fit
// under limit, or zero if it already fits.
func (w *window) admitDelay(now time.Time, amount, limit int) time.Duration {
	total := w.prune(now)
	if total+amount <= limit || len(w.entries) == 0 {
		return 0
	}
	oldest := w.entries[0].at
	wait := oldest.Add(60 * time.Second).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (w *window) record(now time.Time, amount int) {
	w.entries = append(w.entries, windowEntry{at: now, amount: amount})
}

// Permit is returned by Reserve and must be passed to Release exactly
// once.
type Permit struct {
	chunks int
}

// Governor enforces spec 4.D's budgets. Safe for concurrent use.
type Governor struct {
	cfg Config
	sem *semaphore.Weighted

	reqWindow *window
	tokWindow *window

	dayMu   sync.Mutex
	dayDate string
	dayUsed int

	backoffMu    sync.Mutex
	backoffUntil time.Time
	attempt      int

	// OnDailyRollover, if set, is invoked (from whichever goroutine
	// observes the rollover first) when the UTC date advances. The
	// engine uses this to drain the pending queue back into the work
	// queue, per spec 4.D.
	OnDailyRollover func()

	now func() time.Time
}

// New builds a Governor with cfg.
func New(cfg Config) *Governor {
	g := &Governor{
		cfg:       cfg,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		reqWindow: &window{},
		tokWindow: &window{},
		now:       time.Now,
	}
	g.dayDate = g.now().UTC().Format("2006-01-02")
	return g
}

// TodayDateUTC returns the UTC calendar date the governor currently
// attributes usage to.
func (g *Governor) TodayDateUTC() string {
	g.dayMu.Lock()
	defer g.dayMu.Unlock()
	g.rolloverIfNeededLocked()
	return g.dayDate
}

// DailyRemainingRequests returns how many more requests may be counted
// today before the daily cap is hit.
func (g *Governor) DailyRemainingRequests() int {
	g.dayMu.Lock()
	defer g.dayMu.Unlock()
	g.rolloverIfNeededLocked()
	remaining := g.cfg.RequestsPerDay - g.dayUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (g *Governor) rolloverIfNeededLocked() {
	today := g.now().UTC().Format("2006-01-02")
	if today != g.dayDate {
		g.dayDate = today
		g.dayUsed = 0
		if g.OnDailyRollover != nil {
			go g.OnDailyRollover()
		}
	}
}

// Usage is a point-in-time snapshot of the governor's budgets, for
// status() reporting (spec §6: "quota usage (rpm/tpm/rpd)").
type Usage struct {
	RequestsPerMinuteUsed int
	RequestsPerMinuteCap  int
	TokensPerMinuteUsed   int
	TokensPerMinuteCap    int
	RequestsPerDayUsed    int
	RequestsPerDayCap     int
}

// Usage reports current consumption against each budget.
func (g *Governor) Usage() Usage {
	now := g.now()
	g.reqWindow.mu.Lock()
	reqUsed := g.reqWindow.prune(now)
	g.reqWindow.mu.Unlock()

	g.tokWindow.mu.Lock()
	tokUsed := g.tokWindow.prune(now)
	g.tokWindow.mu.Unlock()

	g.dayMu.Lock()
	g.rolloverIfNeededLocked()
	dayUsed := g.dayUsed
	g.dayMu.Unlock()

	return Usage{
		RequestsPerMinuteUsed: reqUsed,
		RequestsPerMinuteCap:  g.cfg.RequestsPerMinute,
		TokensPerMinuteUsed:   tokUsed,
		TokensPerMinuteCap:    g.cfg.TokensPerMinute,
		RequestsPerDayUsed:    dayUsed,
		RequestsPerDayCap:     g.cfg.RequestsPerDay,
	}
}

// Reserve blocks (respecting ctx) until a slot is available under the
// per-minute request and token windows, the concurrency floor, and any
// active backoff, then records the reservation. Once it holds a
// concurrency slot and any active backoff has passed, it returns
// ErrDailyCapExhausted without waiting on the per-minute windows if
// today's request budget is already used up — the spec attributes day-boundary
// attribution to whichever day Reserve returns in (SPEC_FULL.md §5).
func (g *Governor) Reserve(ctx context.Context, chunks int, estimatedTokens int) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	for {
		if err := g.waitForBackoff(ctx); err != nil {
			g.sem.Release(1)
			return nil, err
		}

		if g.DailyRemainingRequests() < chunks {
			g.sem.Release(1)
			return nil, ErrDailyCapExhausted
		}

		now := g.now()
		g.reqWindow.mu.Lock()
		reqDelay := g.reqWindow.admitDelay(now, chunks, g.cfg.RequestsPerMinute)
		g.reqWindow.mu.Unlock()

		g.tokWindow.mu.Lock()
		tokDelay := g.tokWindow.admitDelay(now, estimatedTokens, g.cfg.TokensPerMinute)
		g.tokWindow.mu.Unlock()

		delay := reqDelay
		if tokDelay > delay {
			delay = tokDelay
		}
		if delay == 0 {
			break
		}
		if err := sleepCtx(ctx, delay); err != nil {
			g.sem.Release(1)
			return nil, err
		}
	}

	now := g.now()
	g.reqWindow.mu.Lock()
	g.reqWindow.record(now, chunks)
	g.reqWindow.mu.Unlock()

	g.tokWindow.mu.Lock()
	g.tokWindow.record(now, estimatedTokens)
	g.tokWindow.mu.Unlock()

	g.dayMu.Lock()
	g.rolloverIfNeededLocked()
	g.dayUsed += chunks
	g.dayMu.Unlock()

	return &Permit{chunks: chunks}, nil
}

// Release returns the concurrency slot and, on a rate-limited outcome,
// applies exponential backoff that every other pending Reserve call
// observes.
func (g *Governor) Release(p *Permit, actualTokens int, outcome Outcome) {
	defer g.sem.Release(1)

	switch outcome {
	case OutcomeOK:
		g.backoffMu.Lock()
		g.attempt = 0
		g.backoffMu.Unlock()
	case OutcomeRateLimited:
		g.applyBackoff()
	case OutcomeFailed:
		// No backoff: a content-level rejection is not a throttling
		// signal.
	}
}

func (g *Governor) applyBackoff() {
	g.backoffMu.Lock()
	defer g.backoffMu.Unlock()

	delay := float64(g.cfg.BackoffBase) * pow(g.cfg.BackoffFactor, g.attempt)
	jitter := 1 + (rand.Float64()*2-1)*g.cfg.BackoffJitter
	delay *= jitter
	d := time.Duration(delay)
	if d > g.cfg.BackoffCap {
		d = g.cfg.BackoffCap
	}
	until := g.now().Add(d)
	if until.After(g.backoffUntil) {
		g.backoffUntil = until
	}
	g.attempt++
}

func (g *Governor) waitForBackoff(ctx context.Context) error {
	for {
		g.backoffMu.Lock()
		until := g.backoffUntil
		g.backoffMu.Unlock()

		remaining := until.Sub(g.now())
		if remaining <= 0 {
			return nil
		}
		if err := sleepCtx(ctx, remaining); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
