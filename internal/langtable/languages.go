// Package langtable classifies source files by extension and decides
// watch/index eligibility against an ignore list (spec component A).
package langtable

import (
	"path/filepath"
	"strings"
)

// Language describes one entry of the extension table.
type Language struct {
	Name       string
	Extensions []string
}

// Table is a read-only extension-to-language classifier.
type Table struct {
	extMap map[string]string
}

// New builds the default table: at least 15 languages, matching spec 4.A.
func New() *Table {
	langs := []Language{
		{"python", []string{".py", ".pyi"}},
		{"typescript", []string{".ts", ".tsx"}},
		{"javascript", []string{".js", ".jsx", ".mjs", ".cjs"}},
		{"dart", []string{".dart"}},
		{"go", []string{".go"}},
		{"rust", []string{".rs"}},
		{"java", []string{".java"}},
		{"kotlin", []string{".kt", ".kts"}},
		{"swift", []string{".swift"}},
		{"ruby", []string{".rb"}},
		{"php", []string{".php"}},
		{"c", []string{".c", ".h"}},
		{"cpp", []string{".cpp", ".cc", ".cxx", ".hpp", ".hh"}},
		{"csharp", []string{".cs"}},
		{"shell", []string{".sh", ".bash", ".zsh"}},
		{"yaml", []string{".yaml", ".yml"}},
		{"json", []string{".json"}},
		{"markdown", []string{".md", ".markdown"}},
		{"sql", []string{".sql"}},
	}

	extMap := make(map[string]string, len(langs)*2)
	for _, l := range langs {
		for _, ext := range l.Extensions {
			extMap[ext] = l.Name
		}
	}
	return &Table{extMap: extMap}
}

// Detect returns the language name for path, or ("unknown", false) if the
// extension is not registered.
func (t *Table) Detect(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "unknown", false
	}
	name, ok := t.extMap[ext]
	if !ok {
		return "unknown", false
	}
	return name, true
}

// Outcome is the per-path filter decision.
type Outcome int

const (
	// Source files are watched and indexed.
	Source Outcome = iota
	// Ignored paths match a configured ignore token.
	Ignored
	// NonSource paths have an unregistered extension.
	NonSource
)

// Filter classifies a repo-relative path using the language table and an
// ignore-token list.
type Filter struct {
	table   *Table
	ignore  []string
	hidden  bool // whether dotfiles are excluded
}

// NewFilter builds a Filter. hiddenExcluded=true excludes (as Ignored)
// every path with any component starting with "."; there is no per-name
// exception (the spec treats dotfiles as excluded by default, same
// stance as hidden directories).
func NewFilter(table *Table, ignoreTokens []string, hiddenExcluded bool) *Filter {
	return &Filter{table: table, ignore: ignoreTokens, hidden: hiddenExcluded}
}

// Classify returns the filter outcome and detected language name.
func (f *Filter) Classify(relPath string) (Outcome, string) {
	if f.isIgnored(relPath) {
		return Ignored, "unknown"
	}
	lang, ok := f.table.Detect(relPath)
	if !ok {
		return NonSource, "unknown"
	}
	return Source, lang
}

func (f *Filter) isIgnored(relPath string) bool {
	parts := strings.Split(filepath.ToSlash(relPath), "/")
	for _, part := range parts {
		if part == "" {
			continue
		}
		if f.hidden && strings.HasPrefix(part, ".") {
			return true
		}
		for _, tok := range f.ignore {
			if part == tok {
				return true
			}
		}
	}
	return false
}
