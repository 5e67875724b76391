// Package chunk defines the atomic indexed unit shared by the chunker,
// embedder, and vector-store adapter.
package chunk

// Kind classifies the declarator a chunk was split on.
type Kind string

const (
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
	KindType      Kind = "type"
	KindComment   Kind = "comment"
	KindOther     Kind = "other"
)

// Code is the atomic indexed unit. Its Id depends only on FilePath,
// StartLine, and Sequence, so re-deriving the chunker over identical file
// content always yields the identical id set.
type Code struct {
	ID         string
	FilePath   string
	StartLine  int // 1-based, inclusive
	EndLine    int // 1-based, exclusive at file end
	Sequence   int
	Kind       Kind
	Name       string
	Content    string
	Language   string
	Imports    []string
	Complexity int
	Embedding  []float32
}

// Payload is everything about a Code chunk except its raw vector, the
// shape stored alongside points in the vector store.
type Payload struct {
	FilePath   string `json:"file_path"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Language   string `json:"language"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Content    string `json:"content"`
	Complexity int    `json:"complexity"`
}

// ToPayload strips the vector and chunk id, leaving the searchable fields.
func (c *Code) ToPayload() Payload {
	return Payload{
		FilePath:   c.FilePath,
		Kind:       string(c.Kind),
		Name:       c.Name,
		Language:   c.Language,
		StartLine:  c.StartLine,
		EndLine:    c.EndLine,
		Content:    c.Content,
		Complexity: c.Complexity,
	}
}
