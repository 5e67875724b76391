// Package mcpserver exposes the engine's RPC surface (spec §6: search,
// status, check_index, repair_index) over MCP stdio transport.
//
// Grounded on teacher's internal/mcp/server.go (mark3labs/mcp-go tool
// registration and stdio serving shape). The teacher's tool set
// {semantic_search, index_codebase, clear_cache, get_index_status} is
// replaced with the spec's {search, status, check_index, repair_index};
// indexing itself is no longer tool-triggered (the engine runs
// continuously per spec 4.K), so index_codebase/clear_cache have no
// equivalent here — see DESIGN.md.
package mcpserver

import (
	"context"
	"fmt"
	"log"

	"github.com/codeindex-dev/codeindex-engine/internal/engine"
	"github.com/codeindex-dev/codeindex-engine/internal/langtable"
	"github.com/codeindex-dev/codeindex-engine/internal/search"
	"github.com/codeindex-dev/codeindex-engine/internal/vectorstore"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server is the MCP front end over a running Engine.
type Server struct {
	name      string
	version   string
	mcpServer *server.MCPServer

	eng      *engine.Engine
	searcher *search.Searcher
	vector   *vectorstore.Client
	filter   *langtable.Filter
}

// Config bundles the collaborators a Server needs.
type Config struct {
	Name     string
	Version  string
	Engine   *engine.Engine
	Searcher *search.Searcher
	Vector   *vectorstore.Client
	Filter   *langtable.Filter
}

// New builds a Server and registers its tools.
func New(cfg Config) *Server {
	s := &Server{
		name:     cfg.Name,
		version:  cfg.Version,
		eng:      cfg.Engine,
		searcher: cfg.Searcher,
		vector:   cfg.Vector,
		filter:   cfg.Filter,
	}

	mcpServer := server.NewMCPServer(s.name, s.version)
	for _, tool := range s.tools() {
		mcpServer.AddTool(tool, s.handlerFor(tool.Name))
	}
	s.mcpServer = mcpServer

	log.Printf("[codeindex] mcp server initialized: %s v%s, %d tools registered", s.name, s.version, len(s.tools()))
	return s
}

func (s *Server) handlerFor(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]interface{}{}
		if request.Params.Arguments != nil {
			if m, ok := request.Params.Arguments.(map[string]interface{}); ok {
				args = m
			} else {
				return errorResult("invalid arguments format"), nil
			}
		}

		switch name {
		case "search":
			return s.handleSearch(ctx, args)
		case "status":
			return s.handleStatus(ctx, args)
		case "check_index":
			return s.handleCheckIndex(ctx, args)
		case "repair_index":
			return s.handleRepairIndex(ctx, args)
		default:
			return errorResult(fmt.Sprintf("unknown tool: %s", name)), nil
		}
	}
}

// Start serves the registered tools over stdio and returns when
// server.ServeStdio returns. ctx is not passed to the transport, so
// cancelling it does not stop serving.
func (s *Server) Start(ctx context.Context) error {
	log.Printf("[codeindex] starting mcp server on stdio transport")
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}
