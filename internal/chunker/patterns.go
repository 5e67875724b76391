package chunker

import "regexp"

// boundaryPattern is a single compiled regex matched against a trimmed
// line to detect a function/class/type start for one language.
type boundaryPattern struct {
	re   *regexp.Regexp
	kind string // "function", "class", "interface", "type", "other"
}

// boundaryPatterns and nameExtractors are grounded on the teacher's
// getFunctionBoundaryPattern (chunker.go) and GetLanguagePatterns
// (token_chunker.go), merged and extended to the language table's full
// coverage. A language absent from this map has no registered patterns
// and so produces exactly one whole-file chunk, per spec 4.B.
var boundaryPatterns = map[string][]boundaryPattern{
	"java": {
		{regexp.MustCompile(`^(public|private|protected)?\s*(static\s+)?(final\s+)?class\s+\w+`), "class"},
		{regexp.MustCompile(`^(public|private|protected)?\s*(static\s+)?interface\s+\w+`), "interface"},
		{regexp.MustCompile(`^(public|private|protected)?\s*(static\s+)?enum\s+\w+`), "class"},
		{regexp.MustCompile(`^(public|private|protected)?\s*(static\s+)?[\w<>\[\],\s]+\s+\w+\s*\([^)]*\)\s*\{?$`), "function"},
	},
	"javascript": {
		{regexp.MustCompile(`^(export\s+)?(default\s+)?(async\s+)?function\s*\*?\s+\w+`), "function"},
		{regexp.MustCompile(`^(export\s+)?(default\s+)?class\s+\w+`), "class"},
		{regexp.MustCompile(`^(export\s+)?(const|let|var)\s+\w+\s*=\s*(async\s+)?(function|\([^)]*\)\s*=>)`), "function"},
	},
	"typescript": {
		{regexp.MustCompile(`^(export\s+)?(default\s+)?(async\s+)?function\s*\*?\s+\w+`), "function"},
		{regexp.MustCompile(`^(export\s+)?(default\s+)?class\s+\w+`), "class"},
		{regexp.MustCompile(`^(export\s+)?interface\s+\w+`), "interface"},
		{regexp.MustCompile(`^(export\s+)?type\s+\w+\s*=`), "type"},
		{regexp.MustCompile(`^(export\s+)?(const|let|var)\s+\w+\s*=\s*(async\s+)?(function|\([^)]*\)\s*=>)`), "function"},
	},
	"go": {
		{regexp.MustCompile(`^func\s+\w+`), "function"},
		{regexp.MustCompile(`^func\s+\([^)]+\)\s+\w+`), "function"},
		{regexp.MustCompile(`^type\s+\w+\s+struct`), "class"},
		{regexp.MustCompile(`^type\s+\w+\s+interface`), "interface"},
		{regexp.MustCompile(`^type\s+\w+\s+\w+`), "type"},
	},
	"python": {
		{regexp.MustCompile(`^(async\s+)?def\s+\w+`), "function"},
		{regexp.MustCompile(`^class\s+\w+`), "class"},
	},
	"rust": {
		{regexp.MustCompile(`^(pub\s+)?(async\s+)?fn\s+\w+`), "function"},
		{regexp.MustCompile(`^(pub\s+)?struct\s+\w+`), "class"},
		{regexp.MustCompile(`^(pub\s+)?enum\s+\w+`), "class"},
		{regexp.MustCompile(`^(pub\s+)?trait\s+\w+`), "interface"},
		{regexp.MustCompile(`^(pub\s+)?impl(\s*<[^>]*>)?\s+\w+`), "class"},
	},
	"c": {
		{regexp.MustCompile(`^\w[\w\s\*]*\s+\w+\s*\([^;]*\)\s*\{`), "function"},
		{regexp.MustCompile(`^(typedef\s+)?struct\s+\w+`), "class"},
	},
	"cpp": {
		{regexp.MustCompile(`^\w[\w:\s\*<>]*\s+\w+::\w+\s*\(`), "function"},
		{regexp.MustCompile(`^class\s+\w+`), "class"},
		{regexp.MustCompile(`^struct\s+\w+`), "class"},
		{regexp.MustCompile(`^namespace\s+\w+`), "other"},
	},
	"csharp": {
		{regexp.MustCompile(`^(public|private|protected|internal)?\s*(static\s+)?class\s+\w+`), "class"},
		{regexp.MustCompile(`^(public|private|protected|internal)?\s*interface\s+\w+`), "interface"},
		{regexp.MustCompile(`^(public|private|protected|internal)?\s*(static\s+)?[\w<>\[\],\s]+\s+\w+\s*\([^)]*\)`), "function"},
	},
	"kotlin": {
		{regexp.MustCompile(`^(fun)\s+\w+`), "function"},
		{regexp.MustCompile(`^(class|object)\s+\w+`), "class"},
		{regexp.MustCompile(`^interface\s+\w+`), "interface"},
	},
	"swift": {
		{regexp.MustCompile(`^func\s+\w+`), "function"},
		{regexp.MustCompile(`^(class|struct)\s+\w+`), "class"},
		{regexp.MustCompile(`^protocol\s+\w+`), "interface"},
	},
	"ruby": {
		{regexp.MustCompile(`^def\s+\w+`), "function"},
		{regexp.MustCompile(`^class\s+\w+`), "class"},
		{regexp.MustCompile(`^module\s+\w+`), "other"},
	},
	"php": {
		{regexp.MustCompile(`^(public|private|protected)?\s*(static\s+)?function\s+\w+`), "function"},
		{regexp.MustCompile(`^(abstract\s+)?class\s+\w+`), "class"},
		{regexp.MustCompile(`^interface\s+\w+`), "interface"},
	},
	"dart": {
		{regexp.MustCompile(`^(Future<[^>]*>|void|int|String|bool|double|var)\s+\w+\s*\(`), "function"},
		{regexp.MustCompile(`^(abstract\s+)?class\s+\w+`), "class"},
	},
}

// nameExtractors pull the declarator identifier out of a boundary line.
// Grounded on the same per-language shape as boundaryPatterns.
var nameExtractors = map[string]*regexp.Regexp{
	"java":       regexp.MustCompile(`\b(?:class|interface|enum)\s+(\w+)|\s(\w+)\s*\([^)]*\)\s*\{?$`),
	"javascript": regexp.MustCompile(`\b(?:function\*?|class)\s+(\w+)|\b(?:const|let|var)\s+(\w+)\s*=`),
	"typescript": regexp.MustCompile(`\b(?:function\*?|class|interface|type)\s+(\w+)|\b(?:const|let|var)\s+(\w+)\s*=`),
	"go":         regexp.MustCompile(`\bfunc\s+(?:\([^)]*\)\s+)?(\w+)|\btype\s+(\w+)`),
	"python":     regexp.MustCompile(`\b(?:def|class)\s+(\w+)`),
	"rust":       regexp.MustCompile(`\b(?:fn|struct|enum|trait|impl)\s+(?:<[^>]*>\s+)?(\w+)`),
	"c":          regexp.MustCompile(`\b(\w+)\s*\(`),
	"cpp":        regexp.MustCompile(`::(\w+)\s*\(|\bclass\s+(\w+)|\bstruct\s+(\w+)|\bnamespace\s+(\w+)`),
	"csharp":     regexp.MustCompile(`\b(?:class|interface)\s+(\w+)|\s(\w+)\s*\([^)]*\)`),
	"kotlin":     regexp.MustCompile(`\b(?:fun|class|object|interface)\s+(\w+)`),
	"swift":      regexp.MustCompile(`\b(?:func|class|struct|protocol)\s+(\w+)`),
	"ruby":       regexp.MustCompile(`\b(?:def|class|module)\s+(\w+)`),
	"php":        regexp.MustCompile(`\b(?:function|class|interface)\s+&?(\w+)`),
	"dart":       regexp.MustCompile(`\b(\w+)\s*\(|\bclass\s+(\w+)`),
}

// importPrefixes recognize a file-header import/require/from line per
// language, used to bound the import-extraction prefix scan.
var importPrefixes = map[string][]string{
	"java":       {"import "},
	"javascript": {"import ", "const ", "require("},
	"typescript": {"import "},
	"go":         {"import "},
	"python":     {"import ", "from "},
	"rust":       {"use "},
	"c":          {"#include"},
	"cpp":        {"#include"},
	"csharp":     {"using "},
	"kotlin":     {"import "},
	"swift":      {"import "},
	"ruby":       {"require "},
	"php":        {"use ", "require", "include"},
	"dart":       {"import "},
}
