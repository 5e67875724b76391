package chunker

import "testing"

func TestChunkFileDeterministicIds(t *testing.T) {
	content := []byte("package main\n\nfunc foo() {\n\treturn\n}\n\nfunc bar() {\n\treturn\n}\n")

	c := New()
	first, err := c.ChunkFile("pkg/main.go", "go", content)
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}
	second, err := c.ChunkFile("pkg/main.go", "go", content)
	if err != nil {
		t.Fatalf("ChunkFile (2nd run): %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("chunk %d: id %q != %q across identical runs", i, first[i].ID, second[i].ID)
		}
	}
	// The "package main" preamble before the first boundary is its own
	// chunk, followed by one chunk per function.
	if len(first) != 3 {
		t.Fatalf("expected preamble + 2 function chunks, got %d", len(first))
	}
	if first[1].Name != "foo" || first[2].Name != "bar" {
		t.Errorf("unexpected names: %q, %q", first[1].Name, first[2].Name)
	}
	if first[1].Kind != "function" || first[2].Kind != "function" {
		t.Errorf("unexpected kinds: %q, %q", first[1].Kind, first[2].Kind)
	}
}

func TestChunkFileEmptyFile(t *testing.T) {
	c := New()
	chunks, err := c.ChunkFile("empty.go", "go", []byte(""))
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty file, got %d", len(chunks))
	}
}

func TestChunkFileUnregisteredLanguageIsOneChunk(t *testing.T) {
	c := New()
	content := []byte("# a markdown file\n\nsome text\n\nmore text\n")
	chunks, err := c.ChunkFile("README.md", "markdown", content)
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected exactly one whole-file chunk, got %d", len(chunks))
	}
	if chunks[0].StartLine != 1 {
		t.Errorf("expected StartLine 1, got %d", chunks[0].StartLine)
	}
}

func TestChunkFileInvalidUTF8(t *testing.T) {
	c := New()
	_, err := c.ChunkFile("bad.go", "go", []byte{0xff, 0xfe, 0x00})
	if err == nil {
		t.Fatal("expected decoding error for invalid UTF-8")
	}
	if _, ok := err.(*ErrDecoding); !ok {
		t.Errorf("expected *ErrDecoding, got %T", err)
	}
}

func TestChunkFileNoOverlap(t *testing.T) {
	content := []byte("func a() {\n\tx := 1\n}\n\nfunc b() {\n\ty := 2\n}\n")
	c := New()
	chunks, err := c.ChunkFile("f.go", "go", content)
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartLine != chunks[i-1].EndLine {
			t.Errorf("chunk %d starts at %d, expected %d (no overlap/no gap)", i, chunks[i].StartLine, chunks[i-1].EndLine)
		}
	}
}

func TestComplexitySaturatesAtFive(t *testing.T) {
	body := "if(a){} if(b){} if(c){} for(i){} for(j){} while(k){}"
	got := complexity(body)
	if got != 5 {
		t.Errorf("complexity = %d, want 5 (saturated)", got)
	}
}

func TestHashContentStable(t *testing.T) {
	a := HashContent([]byte("hello"))
	b := HashContent([]byte("hello"))
	if a != b {
		t.Errorf("hash not stable: %q vs %q", a, b)
	}
	c := HashContent([]byte("hello!"))
	if a == c {
		t.Errorf("hash collided for different content")
	}
}
