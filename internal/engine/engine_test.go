package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codeindex-dev/codeindex-engine/internal/chunk"
	"github.com/codeindex-dev/codeindex-engine/internal/chunker"
	"github.com/codeindex-dev/codeindex-engine/internal/embedder"
	"github.com/codeindex-dev/codeindex-engine/internal/langtable"
	"github.com/codeindex-dev/codeindex-engine/internal/quota"
	"github.com/codeindex-dev/codeindex-engine/internal/reconciler"
	"github.com/codeindex-dev/codeindex-engine/internal/scanner"
	"github.com/codeindex-dev/codeindex-engine/internal/state"
	"github.com/codeindex-dev/codeindex-engine/internal/vectorstore"
)

type fakeVectorStore struct {
	mu       sync.Mutex
	points   map[string]vectorstore.Point // keyed by ChunkID
	deleted  []string
	exists   bool
	upserted int
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{points: make(map[string]vectorstore.Point), exists: true}
}

func (f *fakeVectorStore) CollectionExists(ctx context.Context) (bool, error) { return f.exists, nil }
func (f *fakeVectorStore) EnsureCollection(ctx context.Context) error        { f.exists = true; return nil }
func (f *fakeVectorStore) PointCount(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.points)), nil
}
func (f *fakeVectorStore) Upsert(ctx context.Context, points []vectorstore.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range points {
		f.points[p.ChunkID] = p
	}
	f.upserted += len(points)
	return nil
}
func (f *fakeVectorStore) DeleteByFilePath(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.points {
		if p.Payload.FilePath == path {
			delete(f.points, id)
		}
	}
	f.deleted = append(f.deleted, path)
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func newTestEngine(t *testing.T, repoRoot string) (*Engine, *fakeVectorStore, *state.Store) {
	t.Helper()
	dir := t.TempDir()
	store := state.New(filepath.Join(dir, "index-metadata.json"))
	if err := store.Load("2026-07-31", 10000); err != nil {
		t.Fatalf("Load: %v", err)
	}

	filter := langtable.NewFilter(langtable.New(), []string{".git", "node_modules"}, true)
	vs := newFakeVectorStore()
	governor := quota.New(quota.DefaultConfig())
	estimator, err := chunker.NewTokenEstimator()
	if err != nil {
		t.Fatalf("NewTokenEstimator: %v", err)
	}

	cfg := Config{
		RepoRoot:  repoRoot,
		Store:     store,
		Scanner:   scanner.New(filter),
		Reconcile: reconciler.New(store, vs),
		Vector:    vs,
		Chunker:   chunker.New(),
		Estimator: estimator,
		Batcher: &embedder.Batcher{
			Embedder:  fakeEmbedder{},
			Governor:  governor,
			Estimator: estimator,
			BatchSize: 10,
		},
		Governor: governor,
		Filter:   filter,
	}
	return New(cfg), vs, store
}

func TestEngineInitialScanIndexesNewFiles(t *testing.T) {
	repoRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoRoot, "a.go"), []byte("package a\n\nfunc Foo() {}\n"), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	e, vs, store := newTestEngine(t, repoRoot)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitForCondition(t, func() bool {
		return len(store.Snapshot().IndexedFiles) == 1
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	meta, ok := store.Snapshot().IndexedFiles["a.go"]
	if !ok {
		t.Fatal("expected a.go to be indexed")
	}
	if meta.Status != state.StatusIndexed {
		t.Errorf("expected status indexed, got %v", meta.Status)
	}
	if vs.upserted == 0 {
		t.Error("expected at least one point upserted")
	}
}

func TestEngineDeletesRemovedFiles(t *testing.T) {
	repoRoot := t.TempDir()
	path := filepath.Join(repoRoot, "gone.go")
	if err := os.WriteFile(path, []byte("package gone\n"), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	e, vs, store := newTestEngine(t, repoRoot)
	// seed prior state as if gone.go was indexed in an earlier run, then
	// remove it from disk before starting. A point is seeded too so the
	// reconciler's condition 2 (externally emptied collection) does not
	// fire and mask the scanner's own deletion detection.
	store.Mutate(func(d *state.Document) {
		d.IndexedFiles["gone.go"] = state.FileMetadata{Path: "gone.go", Hash: "stale", Status: state.StatusIndexed}
	})
	vs.points["seed"] = vectorstore.Point{ChunkID: "seed", Payload: chunk.Payload{FilePath: "gone.go"}}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitForCondition(t, func() bool {
		_, ok := store.Snapshot().IndexedFiles["gone.go"]
		return !ok
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDrainPendingQueueResetsDailyQuota(t *testing.T) {
	e, _, store := newTestEngine(t, t.TempDir())
	store.Mutate(func(d *state.Document) {
		d.DailyQuota = state.DailyQuota{Date: "2026-07-30", ChunksIndexed: 50, Limit: 50}
		d.PendingQueue = []string{"a.go", "b.go"}
	})

	e.drainPendingQueue()

	doc := store.Snapshot()
	if doc.DailyQuota.ChunksIndexed != 0 {
		t.Errorf("expected chunksIndexed reset to 0 on rollover, got %d", doc.DailyQuota.ChunksIndexed)
	}
	if doc.DailyQuota.Date != e.governor.TodayDateUTC() {
		t.Errorf("expected dailyQuota.date to match the governor's current day, got %q", doc.DailyQuota.Date)
	}
	if len(doc.PendingQueue) != 0 {
		t.Errorf("expected pendingQueue drained, got %v", doc.PendingQueue)
	}
	if got := e.QueueDepth(); got != 2 {
		t.Errorf("expected both pending paths re-enqueued, queue depth = %d", got)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
