package state

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the single persisted Document at Path, guaranteeing atomic
// whole-document writes (spec 4.G: write to a sibling temp path, then
// rename).
type Store struct {
	Path string

	mu  sync.RWMutex
	doc *Document
}

// New builds a Store for path. Call Load before first use.
func New(path string) *Store {
	return &Store{Path: path}
}

// Load reads the document, tolerating an absent file (first run, returns
// a fresh empty Document) and a malformed file (backs it up, logs a
// warning, and continues from a fresh empty Document — spec 4.G: "report,
// back up, start fresh").
func (s *Store) Load(todayUTC string, dailyLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		s.doc = NewDocument(todayUTC, dailyLimit)
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: read %s: %w", s.Path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		backupPath := fmt.Sprintf("%s.corrupt-%s", s.Path, uuid.New().String())
		if werr := os.WriteFile(backupPath, data, 0644); werr != nil {
			log.Printf("[codeindex] state: failed to back up unparseable state file %s: %v", s.Path, werr)
		} else {
			log.Printf("[codeindex] state: %s was unparseable (%v); backed up to %s, starting fresh", s.Path, err, backupPath)
		}
		s.doc = NewDocument(todayUTC, dailyLimit)
		return nil
	}

	// A process restart on a later UTC day than the persisted document's
	// dailyQuota.date must not carry yesterday's chunksIndexed forward:
	// the governor's own in-memory day counter starts fresh on New, so
	// the persisted counter has to be reconciled to match here rather
	// than only at the next live rollover (spec §8 scenario 4).
	if doc.DailyQuota.Date != todayUTC {
		doc.DailyQuota.Date = todayUTC
		doc.DailyQuota.ChunksIndexed = 0
	}
	if doc.DailyQuota.Limit == 0 {
		doc.DailyQuota.Limit = dailyLimit
	}

	s.doc = &doc
	return nil
}

// Snapshot returns a deep copy of the current document, safe for a reader
// to inspect without racing the engine's mutations (spec §5: "readers
// never see a torn state").
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDocument(s.doc)
}

func cloneDocument(d *Document) *Document {
	cp := *d
	cp.IndexedFiles = make(map[string]FileMetadata, len(d.IndexedFiles))
	for k, v := range d.IndexedFiles {
		cp.IndexedFiles[k] = v
	}
	cp.PendingQueue = append([]string(nil), d.PendingQueue...)
	cp.Extra = make(map[string]interface{}, len(d.Extra))
	for k, v := range d.Extra {
		cp.Extra[k] = v
	}
	return &cp
}

// Mutate runs fn against the live document under the write lock. fn must
// not retain the pointer past its invocation.
func (s *Store) Mutate(fn func(*Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// Save writes the current document atomically: marshal, write to a
// sibling temp file, fsync, rename over Path.
func (s *Store) Save() error {
	s.mu.Lock()
	s.doc.LastUpdated = time.Now().UnixMilli()
	s.doc.TotalFiles = len(s.doc.IndexedFiles)
	doc := cloneDocument(s.doc)
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("state: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp file: %w", err)
	}

	// Cross-filesystem renames are not atomic on all platforms;
	// INDEX_STATE_PATH must live on the same filesystem as its directory
	// (spec 9's design note), which CreateTemp(dir, ...) guarantees here.
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("state: rename temp file into place: %w", err)
	}
	return nil
}
