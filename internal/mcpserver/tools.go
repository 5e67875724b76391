package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/codeindex-dev/codeindex-engine/internal/codeerr"
	"github.com/codeindex-dev/codeindex-engine/internal/engine"
	"github.com/codeindex-dev/codeindex-engine/internal/langtable"
	"github.com/codeindex-dev/codeindex-engine/internal/search"
	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) tools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "search",
			Description: "Search the indexed codebase with a natural-language query. Returns ranked code locations with file path, line range, language, and a relevance score in [0,1].",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "Natural-language description of the code to find, e.g. 'JWT token validation' or 'database connection setup'.",
					},
					"limit": map[string]interface{}{
						"type":        "number",
						"description": "Maximum results to return, 1-20 (default 10).",
						"default":     10,
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "status",
			Description: "Report the engine's current phase, queue depths, point count, quota usage, and recent errors.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"verbose": map[string]interface{}{
						"type":        "boolean",
						"description": "Include per-category file counts and recent error detail.",
						"default":     false,
					},
				},
			},
		},
		{
			Name:        "check_index",
			Description: "Compare the repository tree against the vector collection and report files missing from the index and orphaned vector payloads.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"deepScan": map[string]interface{}{
						"type":        "boolean",
						"description": "Query the live vector collection instead of the cheaper cached state document.",
						"default":     false,
					},
				},
			},
		},
		{
			Name:        "repair_index",
			Description: "Enqueue missing files for indexing and/or delete orphaned vector payloads. Without autoFix, returns a plan only.",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"issues": map[string]interface{}{
						"type":        "array",
						"description": "Which issue classes to act on: 'missing_files', 'orphaned_vectors'. Defaults to both.",
						"items":       map[string]interface{}{"type": "string"},
					},
					"autoFix": map[string]interface{}{
						"type":        "boolean",
						"description": "If true, actually enqueue/delete; otherwise only report the plan.",
						"default":     false,
					},
				},
			},
		},
	}
}

func (s *Server) handleSearch(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return errorResult("query is required and must be a string"), nil
	}
	limit := 10
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	results, err := s.searcher.Search(ctx, query, limit)
	if err != nil {
		return categorizedErrorResult(codeerr.TransientIO, "search failed", err), nil
	}
	return textResult(search.FormatResults(results)), nil
}

type statusReport struct {
	Phase          string           `json:"phase"`
	QueueDepth     int              `json:"queueDepth"`
	InFlight       int              `json:"inFlight"`
	PointCount     uint64           `json:"pointCount,omitempty"`
	StorageEstBytes int64           `json:"storageEstimateBytes,omitempty"`
	DailyQuota     dailyQuotaReport `json:"dailyQuota"`
	QuotaUsage     quotaUsageReport `json:"quotaUsage"`
	Stats          statsReport      `json:"stats,omitempty"`
	RecentErrors   []errorReport    `json:"recentErrors,omitempty"`
}

type dailyQuotaReport struct {
	Date          string `json:"date"`
	ChunksIndexed int    `json:"chunksIndexed"`
	Limit         int    `json:"limit"`
}

type quotaUsageReport struct {
	RequestsPerMinute string `json:"requestsPerMinute"`
	TokensPerMinute   string `json:"tokensPerMinute"`
	RequestsPerDay    string `json:"requestsPerDay"`
}

type statsReport struct {
	NewFiles       int `json:"newFiles"`
	ModifiedFiles  int `json:"modifiedFiles"`
	UnchangedFiles int `json:"unchangedFiles"`
	DeletedFiles   int `json:"deletedFiles"`
	TotalIndexed   int `json:"totalIndexed"`
}

type errorReport struct {
	At       string `json:"at"`
	Path     string `json:"path,omitempty"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

func (s *Server) handleStatus(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	verbose, _ := args["verbose"].(bool)

	snap := s.eng.Store().Snapshot()
	usage := s.eng.Governor().Usage()

	report := statusReport{
		Phase:      string(s.eng.Phase()),
		QueueDepth: s.eng.QueueDepth(),
		InFlight:   s.eng.InFlightCount(),
		DailyQuota: dailyQuotaReport{
			Date:          snap.DailyQuota.Date,
			ChunksIndexed: snap.DailyQuota.ChunksIndexed,
			Limit:         snap.DailyQuota.Limit,
		},
		QuotaUsage: quotaUsageReport{
			RequestsPerMinute: fmt.Sprintf("%d/%d", usage.RequestsPerMinuteUsed, usage.RequestsPerMinuteCap),
			TokensPerMinute:   fmt.Sprintf("%d/%d", usage.TokensPerMinuteUsed, usage.TokensPerMinuteCap),
			RequestsPerDay:    fmt.Sprintf("%d/%d", usage.RequestsPerDayUsed, usage.RequestsPerDayCap),
		},
	}

	if count, err := s.vector.PointCount(ctx); err == nil {
		report.PointCount = count
		report.StorageEstBytes = int64(count) * estimatedBytesPerPoint
	}

	if verbose {
		report.Stats = statsReport{
			NewFiles:       snap.Stats.NewFiles,
			ModifiedFiles:  snap.Stats.ModifiedFiles,
			UnchangedFiles: snap.Stats.UnchangedFiles,
			DeletedFiles:   snap.Stats.DeletedFiles,
			TotalIndexed:   len(snap.IndexedFiles),
		}
		for _, e := range s.eng.RecentErrors() {
			report.RecentErrors = append(report.RecentErrors, errorReport{
				At:       e.At.UTC().Format(time.RFC3339),
				Path:     e.Path,
				Category: string(e.Category),
				Message:  e.Message,
			})
		}
	}

	return jsonResult(report)
}

// estimatedBytesPerPoint is a rough per-point storage estimate (vector
// floats plus payload overhead), used only for status()'s informational
// storage estimate — no teacher equivalent measures this precisely
// either.
const estimatedBytesPerPoint = 2048

type healthReport struct {
	MissingFiles      []string `json:"missingFiles"`
	OrphanedPayloads  []string `json:"orphanedPayloads"`
	CoveragePercent   float64  `json:"coveragePercent"`
	TreeFileCount     int      `json:"treeFileCount"`
	CollectionFileCount int    `json:"collectionFileCount"`
}

func (s *Server) handleCheckIndex(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	deepScan, _ := args["deepScan"].(bool)
	report, err := s.computeHealth(ctx, deepScan)
	if err != nil {
		return categorizedErrorResult(codeerr.TransientIO, "check_index failed", err), nil
	}
	return jsonResult(report)
}

func (s *Server) computeHealth(ctx context.Context, deepScan bool) (healthReport, error) {
	treePaths, err := s.treeFilePaths()
	if err != nil {
		return healthReport{}, err
	}

	var collectionPaths map[string]struct{}
	if deepScan {
		collectionPaths, err = s.vector.DistinctFilePaths(ctx)
		if err != nil {
			return healthReport{}, err
		}
	} else {
		collectionPaths = make(map[string]struct{})
		for p := range s.eng.Store().Snapshot().IndexedFiles {
			collectionPaths[p] = struct{}{}
		}
	}

	var missing, orphaned []string
	for p := range treePaths {
		if _, ok := collectionPaths[p]; !ok {
			missing = append(missing, p)
		}
	}
	for p := range collectionPaths {
		if _, ok := treePaths[p]; !ok {
			orphaned = append(orphaned, p)
		}
	}
	sort.Strings(missing)
	sort.Strings(orphaned)

	coverage := 100.0
	if len(treePaths) > 0 {
		coverage = 100.0 * float64(len(treePaths)-len(missing)) / float64(len(treePaths))
	}

	return healthReport{
		MissingFiles:        missing,
		OrphanedPayloads:    orphaned,
		CoveragePercent:     coverage,
		TreeFileCount:       len(treePaths),
		CollectionFileCount: len(collectionPaths),
	}, nil
}

// treeFilePaths walks the repository root, returning every repo-relative
// path the filter classifies as source.
func (s *Server) treeFilePaths() (map[string]struct{}, error) {
	root := s.eng.RepoRoot()
	paths := make(map[string]struct{})
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		outcome, _ := s.filter.Classify(rel)
		if d.IsDir() {
			if outcome == langtable.Ignored {
				return fs.SkipDir
			}
			return nil
		}
		if outcome == langtable.Source {
			paths[rel] = struct{}{}
		}
		return nil
	})
	return paths, err
}

type repairReport struct {
	Plan              healthReport `json:"plan"`
	Applied           bool         `json:"applied"`
	EnqueuedFiles     int          `json:"enqueuedFiles,omitempty"`
	DeletedOrphans    int          `json:"deletedOrphans,omitempty"`
}

func (s *Server) handleRepairIndex(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	autoFix, _ := args["autoFix"].(bool)
	issues := stringSet(args["issues"])
	if len(issues) == 0 {
		issues = map[string]bool{"missing_files": true, "orphaned_vectors": true}
	}

	plan, err := s.computeHealth(ctx, true)
	if err != nil {
		return categorizedErrorResult(codeerr.TransientIO, "repair_index failed", err), nil
	}

	report := repairReport{Plan: plan, Applied: autoFix}
	if !autoFix {
		return jsonResult(report)
	}

	if !s.engineIdle() {
		return errorResult(fmt.Sprintf("repair_index: autoFix requires an idle engine, current phase is %q", s.eng.Phase())), nil
	}

	if issues["missing_files"] {
		for _, p := range plan.MissingFiles {
			s.eng.Enqueue(p)
		}
		report.EnqueuedFiles = len(plan.MissingFiles)
	}
	if issues["orphaned_vectors"] {
		for _, p := range plan.OrphanedPayloads {
			if err := s.vector.DeleteByFilePath(ctx, p); err != nil {
				return categorizedErrorResult(codeerr.TransientIO, fmt.Sprintf("repair_index: delete orphan %s", p), err), nil
			}
		}
		report.DeletedOrphans = len(plan.OrphanedPayloads)
	}
	return jsonResult(report)
}

// engineIdle reports whether repair_index's autoFix may run: spec §5
// only allows mutating the index while the engine is caught up and
// watching, not mid-reconcile, mid-scan, or with work still queued.
func (s *Server) engineIdle() bool {
	return s.eng.Phase() == engine.PhaseWatching && s.eng.QueueDepth() == 0 && s.eng.InFlightCount() == 0
}

func stringSet(v interface{}) map[string]bool {
	out := map[string]bool{}
	list, ok := v.([]interface{})
	if !ok {
		return out
	}
	for _, item := range list {
		if s, ok := item.(string); ok {
			out[s] = true
		}
	}
	return out
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return textResult(string(data)), nil
}

// categorizedErrorResult reports a failure under spec §7's error
// taxonomy, so the RPC boundary carries a structured category instead
// of a bare string (mirrors the engine's own codeerr-tagged
// recentErrors).
func categorizedErrorResult(cat codeerr.Category, context string, err error) *mcp.CallToolResult {
	return errorResult(codeerr.New(cat, context, err).Error())
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "Error: " + message}},
		IsError: true,
	}
}
