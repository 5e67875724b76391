// Package scanner implements spec component H: a directory walk that
// classifies every candidate file into new/modified/unchanged/deleted
// against the persisted state document.
//
// Grounded on the teacher's internal/indexer/scanner.go for the
// filepath.WalkDir shape (skip-ignored-dirs via fs.SkipDir, per-path
// language classification) and internal/cache/file_hashes.go's
// NeedsReindex for the hash-comparison idiom, recombined into the
// spec's four-way categorization table (4.H).
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/codeindex-dev/codeindex-engine/internal/chunker"
	"github.com/codeindex-dev/codeindex-engine/internal/langtable"
	"github.com/codeindex-dev/codeindex-engine/internal/state"
)

// Scanner walks a repo tree and classifies files against prior state.
type Scanner struct {
	filter *langtable.Filter
}

// New builds a Scanner using filter to decide source/ignored/non-source.
func New(filter *langtable.Filter) *Scanner {
	return &Scanner{filter: filter}
}

// Result is the four disjoint sets spec 4.H requires, plus the stats
// block mirrored into the state document after a pass.
type Result struct {
	New       []string
	Modified  []string
	Unchanged []string
	Deleted   []string
	Stats     state.Stats
	Errors    []error
}

// Scan walks repoRoot, classifying every source-eligible file against
// known, the prior IndexedFiles snapshot (repo-relative path -> metadata).
//
// Priority policy per spec 4.H: new and modified are listed in discovery
// order ahead of deleted; unchanged is reported for stats only.
func (s *Scanner) Scan(repoRoot string, known map[string]state.FileMetadata) (*Result, error) {
	info, err := os.Stat(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("scanner: stat repo root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanner: repo root is not a directory: %s", repoRoot)
	}

	result := &Result{}
	seen := make(map[string]struct{}, len(known))

	err = filepath.WalkDir(repoRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			result.Errors = append(result.Errors, fmt.Errorf("scanner: accessing %s: %w", path, walkErr))
			return nil
		}
		if path == repoRoot {
			return nil
		}

		relPath, err := filepath.Rel(repoRoot, path)
		if err != nil {
			relPath = path
		}

		if d.IsDir() {
			outcome, _ := s.filter.Classify(relPath)
			if outcome == langtable.Ignored {
				return fs.SkipDir
			}
			return nil
		}

		// Symlinks are not followed (spec 4.J applies the same stance to
		// the scanner's notion of eligible files).
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		outcome, _ := s.filter.Classify(relPath)
		if outcome != langtable.Source {
			return nil
		}

		seen[relPath] = struct{}{}

		content, err := os.ReadFile(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("scanner: reading %s: %w", relPath, err))
			return nil
		}
		hash := chunker.HashContent(content)

		prior, existed := known[relPath]
		switch {
		case !existed:
			result.New = append(result.New, relPath)
			result.Stats.NewFiles++
		case prior.Hash != hash:
			result.Modified = append(result.Modified, relPath)
			result.Stats.ModifiedFiles++
		default:
			result.Unchanged = append(result.Unchanged, relPath)
			result.Stats.UnchangedFiles++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk failed: %w", err)
	}

	for relPath := range known {
		if _, ok := seen[relPath]; !ok {
			result.Deleted = append(result.Deleted, relPath)
			result.Stats.DeletedFiles++
		}
	}

	return result, nil
}
