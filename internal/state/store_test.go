package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "index-metadata.json"))
	if err := s.Load("2026-07-31", 10000); err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc := s.Snapshot()
	if len(doc.IndexedFiles) != 0 {
		t.Errorf("expected empty IndexedFiles, got %d entries", len(doc.IndexedFiles))
	}
	if doc.DailyQuota.Date != "2026-07-31" {
		t.Errorf("expected today's date seeded, got %q", doc.DailyQuota.Date)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index-metadata.json")
	s := New(path)
	if err := s.Load("2026-07-31", 10000); err != nil {
		t.Fatalf("Load: %v", err)
	}

	s.Mutate(func(d *Document) {
		d.IndexedFiles["a.go"] = FileMetadata{Path: "a.go", Hash: "abc", Status: StatusIndexed, ChunkCount: 2}
	})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := New(path)
	if err := reloaded.Load("2026-07-31", 10000); err != nil {
		t.Fatalf("reload: %v", err)
	}
	doc := reloaded.Snapshot()
	meta, ok := doc.IndexedFiles["a.go"]
	if !ok {
		t.Fatal("expected a.go to survive round trip")
	}
	if meta.Hash != "abc" || meta.ChunkCount != 2 {
		t.Errorf("unexpected metadata after round trip: %+v", meta)
	}
}

func TestLoadCorruptFileBacksUpAndStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index-metadata.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	s := New(path)
	if err := s.Load("2026-07-31", 10000); err != nil {
		t.Fatalf("Load should tolerate corrupt file, got: %v", err)
	}
	doc := s.Snapshot()
	if len(doc.IndexedFiles) != 0 {
		t.Errorf("expected fresh empty document, got %d entries", len(doc.IndexedFiles))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	foundBackup := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && e.Name() != filepath.Base(path) {
			foundBackup = true
		}
	}
	if !foundBackup {
		t.Error("expected a backup file of the corrupt state to be written")
	}
}

func TestLoadResetsStaleDailyQuotaDate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index-metadata.json")
	seed := `{"version":"1","lastUpdated":0,"totalFiles":0,"indexedFiles":{},"pendingQueue":["a.go"],"dailyQuota":{"date":"2026-07-30","chunksIndexed":50,"limit":50},"stats":{}}`
	if err := os.WriteFile(path, []byte(seed), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := New(path)
	if err := s.Load("2026-07-31", 50); err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc := s.Snapshot()
	if doc.DailyQuota.Date != "2026-07-31" {
		t.Errorf("expected stale date to be advanced to today, got %q", doc.DailyQuota.Date)
	}
	if doc.DailyQuota.ChunksIndexed != 0 {
		t.Errorf("expected chunksIndexed reset on a stale date, got %d", doc.DailyQuota.ChunksIndexed)
	}
	if doc.DailyQuota.Limit != 50 {
		t.Errorf("expected limit preserved, got %d", doc.DailyQuota.Limit)
	}
}

func TestPreservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index-metadata.json")
	seed := `{"version":"1","lastUpdated":0,"totalFiles":0,"indexedFiles":{},"pendingQueue":[],"dailyQuota":{"date":"2026-07-31","chunksIndexed":0,"limit":10},"stats":{},"futureField":"keep-me"}`
	if err := os.WriteFile(path, []byte(seed), 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := New(path)
	if err := s.Load("2026-07-31", 10000); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !contains(string(data), "futureField") {
		t.Errorf("expected futureField to be preserved across rewrite, got: %s", data)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
