// Package watcher implements spec component J: an fsnotify-backed tree
// watcher with a 500 ms debounce that coalesces editor save bursts into a
// single event per path.
//
// No teacher module exists for this (the teacher indexes once and
// exits); fsnotify is new to this repo, grounded on its use in
// other_examples/ (ihavespoons-zrok, Tejas242-sift). The 500 ms debounce
// constant and the producer/handler split are grounded directly on
// other_examples/430a773a_rafiusks-agentX's watcher.Config{DebounceTime:
// 500 * time.Millisecond} and its processing-set idiom.
package watcher

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codeindex-dev/codeindex-engine/internal/langtable"
)

// debounceWindow coalesces bursts of events touching the same path
// within this window into a single emitted event, per spec 4.J.
const debounceWindow = 500 * time.Millisecond

// EventKind is the kind of filesystem change observed.
type EventKind int

const (
	Added EventKind = iota
	Modified
	Removed
)

// Event is a single debounced, filtered change ready for the engine's
// work queue.
type Event struct {
	Path string // repo-relative
	Kind EventKind
}

// Watcher observes repoRoot after the initial scan completes and emits
// debounced, filtered Events on Events().
type Watcher struct {
	repoRoot string
	filter   *langtable.Filter

	fsw    *fsnotify.Watcher
	events chan Event

	mu      sync.Mutex
	pending map[string]*pendingEvent
	done    chan struct{}
	wg      sync.WaitGroup
}

type pendingEvent struct {
	timer *time.Timer
	kind  EventKind
}

// New builds a Watcher rooted at repoRoot, using filter to decide
// eligibility the same way the initial scan does.
func New(repoRoot string, filter *langtable.Filter) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		repoRoot: repoRoot,
		filter:   filter,
		fsw:      fsw,
		events:   make(chan Event, 256),
		pending:  make(map[string]*pendingEvent),
		done:     make(chan struct{}),
	}
	return w, nil
}

// Start recursively registers every non-ignored directory under
// repoRoot and begins the dispatch loop. Symlinks are not followed
// (spec 4.J).
func (w *Watcher) Start() error {
	if err := w.addDirsRecursive(w.repoRoot); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.loop()
	return nil
}

func (w *Watcher) addDirsRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path == w.repoRoot {
			return w.fsw.Add(path)
		}
		rel, relErr := filepath.Rel(w.repoRoot, path)
		if relErr != nil {
			rel = path
		}
		outcome, _ := w.filter.Classify(rel)
		if outcome == langtable.Ignored {
			return fs.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Events returns the channel of debounced, filtered events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watcher and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	w.mu.Lock()
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.mu.Unlock()
	close(w.events)
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[codeindex] watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	// Directory events are ignored; child events cover the relevant
	// files (spec 4.J). We can't stat a removed path, so best-effort:
	// directory creation still triggers addDirsRecursive below.
	if ev.Has(fsnotify.Create) {
		if isDir(ev.Name) {
			_ = w.addDirsRecursive(ev.Name)
			return
		}
	}

	rel, err := filepath.Rel(w.repoRoot, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") {
		return
	}

	outcome, _ := w.filter.Classify(rel)
	if outcome != langtable.Source {
		return
	}

	var kind EventKind
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = Removed
	case ev.Has(fsnotify.Create):
		kind = Added
	case ev.Has(fsnotify.Write):
		kind = Modified
	default:
		return
	}

	w.debounce(rel, kind)
}

func (w *Watcher) debounce(rel string, kind EventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.pending[rel]; ok {
		existing.kind = kind
		existing.timer.Reset(debounceWindow)
		return
	}

	p := &pendingEvent{kind: kind}
	p.timer = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, rel)
		latest := p.kind
		w.mu.Unlock()
		select {
		case w.events <- Event{Path: rel, Kind: latest}:
		case <-w.done:
		}
	})
	w.pending[rel] = p
}
