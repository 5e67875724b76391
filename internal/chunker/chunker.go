// Package chunker implements the deterministic forward-scan chunking
// algorithm of spec component B, plus the content hasher of component C.
//
// Grounded on the teacher's internal/indexer/chunker.go for the overall
// line-scanning shape, rewritten so that chunk ids, boundaries, and
// overlap match the spec exactly: one forward pass, no overlap, a
// deterministic "<path>:<startLine>:<sequence>" id.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codeindex-dev/codeindex-engine/internal/chunk"
)

// importScanCap bounds how many lines of the file header are examined for
// import/require statements, per spec 4.B ("a bounded prefix... or a small
// line cap").
const importScanCap = 50

// ErrDecoding is returned when a file's content is not valid UTF-8.
type ErrDecoding struct {
	Path string
}

func (e *ErrDecoding) Error() string {
	return fmt.Sprintf("chunker: %s is not valid UTF-8", e.Path)
}

// Chunker splits source text into an ordered, non-overlapping, stable
// sequence of chunks. It holds no per-file state and is safe for
// concurrent use by multiple goroutines (it has none of its own locks
// to need).
type Chunker struct{}

// New builds a Chunker.
func New() *Chunker {
	return &Chunker{}
}

// ChunkFile splits content (the verbatim bytes of relPath) into chunks.
// language is the result of langtable.Table.Detect. An empty file yields
// no chunks. A language with no registered boundary patterns yields
// exactly one chunk covering the whole file.
func (c *Chunker) ChunkFile(relPath, language string, content []byte) ([]chunk.Code, error) {
	if !utf8.Valid(content) {
		return nil, &ErrDecoding{Path: relPath}
	}
	if len(content) == 0 {
		return nil, nil
	}

	text := string(content)
	// Preserve trailing-newline-free line counts: strings.Split on "\n"
	// over "a\nb\n" yields ["a","b",""] — drop a single trailing empty
	// element so EndLine accounting matches the visible line count.
	lines := strings.Split(text, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	imports := extractImports(lines, language)
	patterns := boundaryPatterns[language]

	var (
		chunks    []chunk.Code
		buf       []string
		bufStart  = 1
		sequence  = 0
	)

	flush := func(endLineExclusive int) {
		if len(buf) == 0 {
			return
		}
		body := strings.Join(buf, "\n")
		if strings.TrimSpace(body) == "" {
			buf = nil
			return
		}
		kind, name := classify(buf, language)
		chunks = append(chunks, chunk.Code{
			ID:         fmt.Sprintf("%s:%d:%d", relPath, bufStart, sequence),
			FilePath:   relPath,
			StartLine:  bufStart,
			EndLine:    endLineExclusive,
			Sequence:   sequence,
			Kind:       kind,
			Name:       name,
			Content:    body,
			Language:   language,
			Imports:    imports,
			Complexity: complexity(body),
		})
		sequence++
		buf = nil
	}

	for i, line := range lines {
		lineNo := i + 1
		if len(patterns) > 0 && len(buf) > 0 && matchesBoundary(line, patterns) {
			flush(lineNo)
			bufStart = lineNo
		}
		buf = append(buf, line)
	}
	flush(len(lines) + 1)

	return chunks, nil
}

func matchesBoundary(line string, patterns []boundaryPattern) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, p := range patterns {
		if p.re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// classify determines the chunk kind and best-effort name from its first
// few lines, per spec 4.B's name-extraction rule.
func classify(buf []string, language string) (chunk.Kind, string) {
	patterns := boundaryPatterns[language]
	extractor := nameExtractors[language]

	scanLimit := 3
	if scanLimit > len(buf) {
		scanLimit = len(buf)
	}
	for i := 0; i < scanLimit; i++ {
		trimmed := strings.TrimSpace(buf[i])
		if trimmed == "" {
			continue
		}
		for _, p := range patterns {
			if p.re.MatchString(trimmed) {
				name := "anonymous"
				if extractor != nil {
					if m := extractor.FindStringSubmatch(trimmed); m != nil {
						name = firstNonEmpty(m[1:])
					}
				}
				return kindFromString(p.kind), name
			}
		}
	}
	return chunk.KindOther, "anonymous"
}

func firstNonEmpty(groups []string) string {
	for _, g := range groups {
		if g != "" {
			return g
		}
	}
	return "anonymous"
}

func kindFromString(s string) chunk.Kind {
	switch s {
	case "function":
		return chunk.KindFunction
	case "class":
		return chunk.KindClass
	case "interface":
		return chunk.KindInterface
	case "type":
		return chunk.KindType
	default:
		return chunk.KindOther
	}
}

// extractImports scans a bounded prefix of the file for import/require
// lines, per spec 4.B.
func extractImports(lines []string, language string) []string {
	prefixes := importPrefixes[language]
	if len(prefixes) == 0 {
		return nil
	}

	var imports []string
	limit := importScanCap
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := 0; i < limit; i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "/*") {
			continue
		}
		matched := false
		for _, p := range prefixes {
			if strings.HasPrefix(trimmed, p) {
				matched = true
				break
			}
		}
		if matched {
			imports = append(imports, trimmed)
			continue
		}
		// First non-import, non-blank, non-comment line ends the prefix.
		break
	}
	return imports
}

// complexity implements spec 4.B's heuristic:
// 1 + count("if(") + 2*count("for(") + 2*count("while("), saturated at 5,
// where each count also includes the spaced form ("if (", "for (",
// "while (").
func complexity(body string) int {
	score := 1
	score += strings.Count(body, "if(") + strings.Count(body, "if (")
	score += 2 * (strings.Count(body, "for(") + strings.Count(body, "for ("))
	score += 2 * (strings.Count(body, "while(") + strings.Count(body, "while ("))
	if score > 5 {
		score = 5
	}
	return score
}
