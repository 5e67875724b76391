// Package engine implements spec component K: the orchestration state
// machine that drains a work queue through delete -> chunk -> embed ->
// upsert -> state-update, one file at a time, while the watcher and the
// RPC surface operate concurrently around it.
//
// Grounded on the teacher's internal/indexer/indexer.go for the overall
// shape (a single pass over scanned files feeding a chunk/embed/store
// pipeline, and the "don't save cache until vector store upsert
// succeeds" discipline in doIndex); the in-flight-file set is grounded
// on other_examples/430a773a_rafiusks-agentX's processing map[string]bool
// pattern, since the teacher has no watcher and never revisits a file
// while a prior pass on it is still running.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codeindex-dev/codeindex-engine/internal/chunker"
	"github.com/codeindex-dev/codeindex-engine/internal/codeerr"
	"github.com/codeindex-dev/codeindex-engine/internal/embedder"
	"github.com/codeindex-dev/codeindex-engine/internal/langtable"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
	"github.com/codeindex-dev/codeindex-engine/internal/reconciler"
	"github.com/codeindex-dev/codeindex-engine/internal/scanner"
	"github.com/codeindex-dev/codeindex-engine/internal/state"
	"github.com/codeindex-dev/codeindex-engine/internal/vectorstore"
	"github.com/codeindex-dev/codeindex-engine/internal/watcher"
)

// Phase is one of spec 4.K's engine states.
type Phase string

const (
	PhaseBooting         Phase = "booting"
	PhaseReconciling     Phase = "reconciling"
	PhaseInitialScanning Phase = "initial_scanning"
	PhaseIndexing        Phase = "indexing"
	PhaseWatching        Phase = "watching"
	PhaseShuttingDown    Phase = "shutting_down"
)

// checkpointInterval is spec 4.K step 8's "every N files" cadence.
const checkpointInterval = 10

// VectorStore is the narrow surface the engine needs from
// internal/vectorstore.Client.
type VectorStore interface {
	reconciler.VectorStore
	Upsert(ctx context.Context, points []vectorstore.Point) error
	DeleteByFilePath(ctx context.Context, path string) error
}

// Engine owns the work queue, the in-flight-file set, and the single
// mutator of the persisted state document.
type Engine struct {
	repoRoot string

	store      *state.Store
	scan       *scanner.Scanner
	reconcile  *reconciler.Reconciler
	vector     VectorStore
	chunk      *chunker.Chunker
	refiner    *chunker.NameRefiner
	estimator  *chunker.TokenEstimator
	batcher    *embedder.Batcher
	governor   *quota.Governor
	filter     *langtable.Filter
	fileWatch  *watcher.Watcher

	mu        sync.RWMutex
	phase     Phase
	inFlight  map[string]bool

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup

	processedSinceCheckpoint int
	checkpointMu             sync.Mutex

	errMu        sync.Mutex
	recentErrors []ErrorEntry
}

// ErrorEntry is one recent failure, surfaced by status() (spec §6:
// "recent errors (last 10)"), categorized per spec §7's taxonomy.
type ErrorEntry struct {
	At       time.Time
	Path     string
	Category codeerr.Category
	Message  string
}

const maxRecentErrors = 10

func (e *Engine) recordError(path string, cat codeerr.Category, err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	e.recentErrors = append(e.recentErrors, ErrorEntry{At: time.Now(), Path: path, Category: cat, Message: err.Error()})
	if len(e.recentErrors) > maxRecentErrors {
		e.recentErrors = e.recentErrors[len(e.recentErrors)-maxRecentErrors:]
	}
}

// RecentErrors returns up to the last 10 recorded failures, newest last.
func (e *Engine) RecentErrors() []ErrorEntry {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	out := make([]ErrorEntry, len(e.recentErrors))
	copy(out, e.recentErrors)
	return out
}

// QueueDepth returns the number of paths currently buffered on the work
// queue, for status()'s queue-size reporting.
func (e *Engine) QueueDepth() int { return len(e.queue) }

// InFlightCount returns how many files are mid-processing right now.
func (e *Engine) InFlightCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.inFlight)
}

// Governor exposes the shared quota governor for status() reporting.
func (e *Engine) Governor() *quota.Governor { return e.governor }

// Store exposes the state store for status()/check_index()/repair_index().
func (e *Engine) Store() *state.Store { return e.store }

// Vector exposes the vector-store adapter for check_index()/repair_index().
func (e *Engine) Vector() VectorStore { return e.vector }

// RepoRoot returns the indexed repository's absolute root path.
func (e *Engine) RepoRoot() string { return e.repoRoot }

// Config bundles the collaborators an Engine needs. All fields are
// required except Watch and Refiner (a nil Refiner skips name
// refinement).
type Config struct {
	RepoRoot  string
	Store     *state.Store
	Scanner   *scanner.Scanner
	Reconcile *reconciler.Reconciler
	Vector    VectorStore
	Chunker   *chunker.Chunker
	Refiner   *chunker.NameRefiner
	Estimator *chunker.TokenEstimator
	Batcher   *embedder.Batcher
	Governor  *quota.Governor
	Filter    *langtable.Filter
	Watch     *watcher.Watcher // nil disables the watch phase
}

// New builds an Engine in the Booting phase.
func New(cfg Config) *Engine {
	e := &Engine{
		repoRoot:  cfg.RepoRoot,
		store:     cfg.Store,
		scan:      cfg.Scanner,
		reconcile: cfg.Reconcile,
		vector:    cfg.Vector,
		chunk:     cfg.Chunker,
		refiner:   cfg.Refiner,
		estimator: cfg.Estimator,
		batcher:   cfg.Batcher,
		governor:  cfg.Governor,
		filter:    cfg.Filter,
		fileWatch: cfg.Watch,
		phase:     PhaseBooting,
		inFlight:  make(map[string]bool),
		queue:     make(chan string, 4096),
		stop:      make(chan struct{}),
	}
	if e.governor != nil {
		e.governor.OnDailyRollover = e.drainPendingQueue
	}
	return e
}

// Phase returns the engine's current state (for status()).
func (e *Engine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Run performs Booting -> Reconciling -> InitialScanning -> Indexing ->
// Watching, then blocks draining the queue (fed by the watcher and by
// RepairMissing/Enqueue) until ctx is cancelled, at which point it enters
// ShuttingDown and writes a final checkpoint.
func (e *Engine) Run(ctx context.Context) error {
	e.setPhase(PhaseReconciling)
	if _, err := e.reconcile.Reconcile(ctx); err != nil {
		return fmt.Errorf("engine: reconcile: %w", err)
	}

	e.setPhase(PhaseInitialScanning)
	if err := e.scanAndEnqueue(); err != nil {
		return fmt.Errorf("engine: initial scan: %w", err)
	}

	e.wg.Add(1)
	go e.drainLoop(ctx)

	if e.fileWatch != nil {
		if err := e.fileWatch.Start(); err != nil {
			return fmt.Errorf("engine: start watcher: %w", err)
		}
		e.wg.Add(1)
		go e.watchLoop(ctx)
	}

	<-ctx.Done()
	e.setPhase(PhaseShuttingDown)
	close(e.stop)
	e.wg.Wait()
	if e.fileWatch != nil {
		_ = e.fileWatch.Close()
	}
	if err := e.store.Save(); err != nil {
		return fmt.Errorf("engine: final checkpoint: %w", err)
	}
	return nil
}

// scanAndEnqueue runs the scanner against the current state snapshot and
// feeds new/modified files ahead of deletions, per spec 4.H's priority
// policy. Unchanged files are not touched.
func (e *Engine) scanAndEnqueue() error {
	snapshot := e.store.Snapshot()
	result, err := e.scan.Scan(e.repoRoot, snapshot.IndexedFiles)
	if err != nil {
		return err
	}
	for _, err := range result.Errors {
		log.Printf("[codeindex] scan error: %v", err)
		e.recordError("", codeerr.TransientIO, err)
	}

	e.store.Mutate(func(d *state.Document) {
		d.Stats = result.Stats
		d.TotalFiles = len(snapshot.IndexedFiles) + len(result.New) - len(result.Deleted)
	})

	for _, p := range result.New {
		e.Enqueue(p)
	}
	for _, p := range result.Modified {
		e.Enqueue(p)
	}
	for _, p := range result.Deleted {
		e.deleteFile(p)
	}
	return nil
}

// Enqueue pushes a repo-relative path onto the work queue. Safe to call
// concurrently (the watcher and the RPC surface both do).
func (e *Engine) Enqueue(relPath string) {
	select {
	case e.queue <- relPath:
	default:
		log.Printf("[codeindex] work queue full, dropping enqueue of %s", relPath)
	}
}

func (e *Engine) watchLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stop:
			return
		case ev, ok := <-e.fileWatch.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case watcher.Removed:
				e.deleteFile(ev.Path)
			default:
				e.Enqueue(ev.Path)
			}
		}
	}
}

func (e *Engine) drainLoop(ctx context.Context) {
	defer e.wg.Done()
	e.setPhase(PhaseWatching)
	for {
		select {
		case <-e.stop:
			return
		case p := <-e.queue:
			e.setPhase(PhaseIndexing)
			e.processFile(ctx, p)
			e.setPhase(PhaseWatching)
		}
	}
}

// processFile runs spec 4.K's per-file hot path.
func (e *Engine) processFile(ctx context.Context, relPath string) {
	e.mu.Lock()
	if e.inFlight[relPath] {
		e.mu.Unlock()
		return
	}
	e.inFlight[relPath] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inFlight, relPath)
		e.mu.Unlock()
	}()

	if e.governor.DailyRemainingRequests() <= 0 {
		e.store.Mutate(func(d *state.Document) {
			d.PendingQueue = append(d.PendingQueue, relPath)
		})
		return
	}

	if err := e.vector.DeleteByFilePath(ctx, relPath); err != nil {
		log.Printf("[codeindex] delete_by_file_path(%s): %v", relPath, err)
	}

	absPath := filepath.Join(e.repoRoot, relPath)
	content, err := os.ReadFile(absPath)
	if err != nil {
		log.Printf("[codeindex] read %s: %v", relPath, err)
		e.recordError(relPath, codeerr.TransientIO, err)
		e.markFailed(relPath)
		return
	}
	hash := chunker.HashContent(content)

	_, lang := e.filter.Classify(relPath)
	chunks, err := e.chunk.ChunkFile(relPath, lang, content)
	if err != nil {
		log.Printf("[codeindex] chunk %s: %v", relPath, err)
		e.recordError(relPath, codeerr.TransientIO, err)
		e.markFailed(relPath)
		return
	}

	if len(chunks) == 0 {
		e.markIndexed(relPath, hash, 0)
		e.checkpointIfDue()
		return
	}

	for i := range chunks {
		if e.refiner != nil && e.refiner.Supports(chunks[i].Language) {
			e.refiner.Refine(&chunks[i])
		}
	}

	results := e.batcher.EmbedBatch(ctx, chunks)
	points := make([]vectorstore.Point, 0, len(chunks))
	for i, r := range results {
		if r.Err != nil {
			cat := codeerr.PerChunkEmbedding
			if errors.Is(r.Err, quota.ErrDailyCapExhausted) {
				cat = codeerr.Quota
			}
			e.recordError(relPath, cat, r.Err)
			continue
		}
		if r.Vector == nil {
			continue
		}
		points = append(points, vectorstore.Point{
			ChunkID: chunks[i].ID,
			Vector:  r.Vector,
			Payload: chunks[i].ToPayload(),
		})
	}

	if len(points) > 0 {
		if err := e.upsertWithRetry(ctx, points); err != nil {
			log.Printf("[codeindex] upsert for %s failed after retry, aborting pass: %v", relPath, err)
			e.recordError(relPath, codeerr.TransientIO, err)
			e.markFailed(relPath)
			return
		}
	}

	e.markIndexed(relPath, hash, len(points))
	e.checkpointIfDue()
}

// upsertWithRetry retries a vector-store upsert failure once, per spec
// 4.K's failure policy.
func (e *Engine) upsertWithRetry(ctx context.Context, points []vectorstore.Point) error {
	err := e.vector.Upsert(ctx, points)
	if err == nil {
		return nil
	}
	log.Printf("[codeindex] upsert failed, retrying once: %v", err)
	return e.vector.Upsert(ctx, points)
}

func (e *Engine) markIndexed(relPath, hash string, chunkCount int) {
	e.store.Mutate(func(d *state.Document) {
		d.IndexedFiles[relPath] = state.FileMetadata{
			Path:        relPath,
			Hash:        hash,
			LastIndexed: time.Now().UnixMilli(),
			ChunkCount:  chunkCount,
			Status:      state.StatusIndexed,
		}
		d.DailyQuota.ChunksIndexed += chunkCount
	})
}

func (e *Engine) markFailed(relPath string) {
	e.store.Mutate(func(d *state.Document) {
		prior, existed := d.IndexedFiles[relPath]
		if !existed {
			prior = state.FileMetadata{Path: relPath}
		}
		prior.Status = state.StatusFailed
		d.IndexedFiles[relPath] = prior
	})
}

func (e *Engine) deleteFile(relPath string) {
	if err := e.vector.DeleteByFilePath(context.Background(), relPath); err != nil {
		log.Printf("[codeindex] delete_by_file_path(%s): %v", relPath, err)
	}
	e.store.Mutate(func(d *state.Document) {
		delete(d.IndexedFiles, relPath)
		d.Stats.DeletedFiles++
	})
}

func (e *Engine) checkpointIfDue() {
	e.checkpointMu.Lock()
	e.processedSinceCheckpoint++
	due := e.processedSinceCheckpoint >= checkpointInterval
	if due {
		e.processedSinceCheckpoint = 0
	}
	e.checkpointMu.Unlock()

	if due {
		if err := e.store.Save(); err != nil {
			log.Printf("[codeindex] checkpoint failed: %v", err)
		}
	}
}

// drainPendingQueue is the governor's daily-rollover callback: it resets
// the persisted dailyQuota to the new UTC day (spec §8 scenario 4:
// "chunksIndexed reset to the carried-over 10") and moves every deferred
// path back onto the live work queue (spec 4.D).
func (e *Engine) drainPendingQueue() {
	var pending []string
	e.store.Mutate(func(d *state.Document) {
		d.DailyQuota.Date = e.governor.TodayDateUTC()
		d.DailyQuota.ChunksIndexed = 0
		pending = d.PendingQueue
		d.PendingQueue = nil
	})
	for _, p := range pending {
		e.Enqueue(p)
	}
}
