// Package reconciler implements spec component I: the one-time
// consistency check run before the first scan of a process, bringing the
// persisted state document back in line with whatever the vector store
// actually holds.
//
// No teacher module addresses this directly; built from spec 4.I's three
// numbered conditions, informed by the hash-store invalidation pattern in
// other_examples/430a773a_rafiusks-agentX.
package reconciler

import (
	"context"
	"fmt"
	"log"

	"github.com/codeindex-dev/codeindex-engine/internal/state"
)

// VectorStore is the narrow surface the reconciler needs.
type VectorStore interface {
	CollectionExists(ctx context.Context) (bool, error)
	EnsureCollection(ctx context.Context) error
	PointCount(ctx context.Context) (uint64, error)
}

// Reconciler runs the startup consistency check.
type Reconciler struct {
	store  *state.Store
	vector VectorStore
}

// New builds a Reconciler.
func New(store *state.Store, vector VectorStore) *Reconciler {
	return &Reconciler{store: store, vector: vector}
}

// Outcome records which of spec 4.I's three conditions fired, for
// callers that want to log or report it.
type Outcome int

const (
	// CollectionCreated: condition 1, the collection did not exist.
	CollectionCreated Outcome = iota
	// StaleStateWiped: condition 2, an externally emptied collection.
	StaleStateWiped
	// StateTrusted: condition 3, state and collection agree enough to trust.
	StateTrusted
)

// Reconcile runs once, before the first scan of a process.
func (r *Reconciler) Reconcile(ctx context.Context) (Outcome, error) {
	exists, err := r.vector.CollectionExists(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconciler: collection_exists: %w", err)
	}

	if !exists {
		// Condition 1: create the collection; every known indexedFiles
		// entry now refers to vectors that no longer exist, so it is stale.
		if err := r.vector.EnsureCollection(ctx); err != nil {
			return 0, fmt.Errorf("reconciler: ensure_collection: %w", err)
		}
		r.clearIndexedFiles()
		return CollectionCreated, nil
	}

	count, err := r.vector.PointCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconciler: point_count: %w", err)
	}

	hadKnownFiles := len(r.store.Snapshot().IndexedFiles) > 0
	if count == 0 && hadKnownFiles {
		// Condition 2: the collection exists but is empty, while we
		// believed files were indexed — it was externally wiped.
		log.Printf("[codeindex] WARNING: vector collection is empty but %d files were marked indexed; clearing state to force a full reindex", len(r.store.Snapshot().IndexedFiles))
		r.clearIndexedFiles()
		return StaleStateWiped, nil
	}

	// Condition 3: trust indexedFiles as-is; the incremental scanner and
	// the explicit check/repair RPCs handle any remaining divergence.
	return StateTrusted, nil
}

func (r *Reconciler) clearIndexedFiles() {
	r.store.Mutate(func(d *state.Document) {
		d.IndexedFiles = make(map[string]state.FileMetadata)
		d.PendingQueue = nil
	})
}
