package reconciler

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/codeindex-dev/codeindex-engine/internal/state"
)

type fakeVectorStore struct {
	exists      bool
	count       uint64
	ensureCalls int
}

func (f *fakeVectorStore) CollectionExists(ctx context.Context) (bool, error) { return f.exists, nil }
func (f *fakeVectorStore) EnsureCollection(ctx context.Context) error {
	f.ensureCalls++
	f.exists = true
	return nil
}
func (f *fakeVectorStore) PointCount(ctx context.Context) (uint64, error) { return f.count, nil }

func newStoreWithFiles(t *testing.T, files map[string]state.FileMetadata) *state.Store {
	t.Helper()
	dir := t.TempDir()
	s := state.New(filepath.Join(dir, "index-metadata.json"))
	if err := s.Load("2026-07-31", 10000); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(files) > 0 {
		s.Mutate(func(d *state.Document) {
			for k, v := range files {
				d.IndexedFiles[k] = v
			}
		})
	}
	return s
}

func TestReconcileCreatesMissingCollection(t *testing.T) {
	s := newStoreWithFiles(t, map[string]state.FileMetadata{"a.go": {Path: "a.go", Hash: "x"}})
	vs := &fakeVectorStore{exists: false}

	r := New(s, vs)
	outcome, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != CollectionCreated {
		t.Errorf("expected CollectionCreated, got %v", outcome)
	}
	if vs.ensureCalls != 1 {
		t.Errorf("expected EnsureCollection called once, got %d", vs.ensureCalls)
	}
	if len(s.Snapshot().IndexedFiles) != 0 {
		t.Error("expected indexedFiles cleared after collection creation")
	}
}

func TestReconcileWipesStaleStateWhenCollectionEmptiedExternally(t *testing.T) {
	s := newStoreWithFiles(t, map[string]state.FileMetadata{"a.go": {Path: "a.go", Hash: "x"}})
	vs := &fakeVectorStore{exists: true, count: 0}

	r := New(s, vs)
	outcome, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != StaleStateWiped {
		t.Errorf("expected StaleStateWiped, got %v", outcome)
	}
	if len(s.Snapshot().IndexedFiles) != 0 {
		t.Error("expected indexedFiles cleared")
	}
}

func TestReconcileTrustsExistingStateWhenCollectionHasPoints(t *testing.T) {
	s := newStoreWithFiles(t, map[string]state.FileMetadata{"a.go": {Path: "a.go", Hash: "x"}})
	vs := &fakeVectorStore{exists: true, count: 42}

	r := New(s, vs)
	outcome, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != StateTrusted {
		t.Errorf("expected StateTrusted, got %v", outcome)
	}
	if len(s.Snapshot().IndexedFiles) != 1 {
		t.Error("expected indexedFiles left untouched")
	}
}

func TestReconcileNoOpOnEmptyCollectionWithNoPriorState(t *testing.T) {
	s := newStoreWithFiles(t, nil)
	vs := &fakeVectorStore{exists: true, count: 0}

	r := New(s, vs)
	outcome, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome != StateTrusted {
		t.Errorf("expected StateTrusted (no known files to invalidate), got %v", outcome)
	}
}
