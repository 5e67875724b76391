package mcpserver

import (
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func TestStringSet(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want map[string]bool
	}{
		{"nil", nil, map[string]bool{}},
		{"wrong type", "missing_files", map[string]bool{}},
		{"list of strings", []interface{}{"missing_files", "orphaned_vectors"}, map[string]bool{"missing_files": true, "orphaned_vectors": true}},
		{"list with non-string entries", []interface{}{"missing_files", 42, true}, map[string]bool{"missing_files": true}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stringSet(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("stringSet(%v) = %v, want %v", tc.in, got, tc.want)
			}
			for k := range tc.want {
				if !got[k] {
					t.Errorf("stringSet(%v) missing key %q", tc.in, k)
				}
			}
		})
	}
}

func TestTextResult(t *testing.T) {
	res := textResult("hello")
	if res.IsError {
		t.Fatal("textResult must not set IsError")
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(res.Content))
	}
}

func TestErrorResult(t *testing.T) {
	res := errorResult("boom")
	if !res.IsError {
		t.Fatal("errorResult must set IsError")
	}
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(res.Content))
	}
}

func TestJSONResult(t *testing.T) {
	report := healthReport{
		MissingFiles:     []string{"a.go"},
		OrphanedPayloads: []string{"b.go"},
		CoveragePercent:  50,
		TreeFileCount:    2,
	}
	res, err := jsonResult(report)
	if err != nil {
		t.Fatalf("jsonResult: %v", err)
	}
	if res.IsError {
		t.Fatal("jsonResult should not be an error result for a valid value")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected mcp.TextContent, got %T", res.Content[0])
	}

	var decoded healthReport
	if err := json.Unmarshal([]byte(tc.Text), &decoded); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if decoded.CoveragePercent != 50 || len(decoded.MissingFiles) != 1 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}
}
