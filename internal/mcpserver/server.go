// Package mcpserver exposes the memory engine to MCP clients over
// stdio, so coding agents can call memory_add and memory_search as
// tools instead of shelling out to the CLI. The server owns no engine
// state of its own; the CLI front-end injects the two operations.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/evilpsycho42/mem-cli/internal/search"
	"github.com/evilpsycho42/mem-cli/pkg/version"
)

// Ops are the memory operations the server exposes as tools.
type Ops struct {
	// Add appends a note. scope is "short" (dated file under memory/)
	// or "long" (MEMORY.md), mirroring `mem add`.
	Add func(ctx context.Context, scope, text string) error

	// Search returns ranked hits for a free-text query.
	Search func(ctx context.Context, query string, limit int) ([]search.Hit, error)
}

// AddInput is the input schema for the memory_add tool.
type AddInput struct {
	Scope string `json:"scope,omitempty" jsonschema:"where to store the note: short (dated note) or long (long-term memory), default short"`
	Text  string `json:"text" jsonschema:"the note text to remember"`
}

// AddOutput is the output schema for the memory_add tool.
type AddOutput struct {
	Stored bool   `json:"stored" jsonschema:"true when the note was written"`
	Scope  string `json:"scope" jsonschema:"the scope the note was stored under"`
}

// SearchInput is the input schema for the memory_search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the free-text query to search memory for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput is the output schema for the memory_search tool.
type SearchOutput struct {
	Results []ResultOutput `json:"results" jsonschema:"ranked list of matching memory chunks"`
}

// ResultOutput is a single memory_search result.
type ResultOutput struct {
	FilePath  string  `json:"file_path" jsonschema:"workspace-relative path of the source note"`
	LineStart int     `json:"line_start" jsonschema:"first source line of the matched chunk"`
	LineEnd   int     `json:"line_end" jsonschema:"last source line of the matched chunk"`
	Score     float64 `json:"score" jsonschema:"relevance score, higher is better"`
	Snippet   string  `json:"snippet" jsonschema:"content prefix of the matched chunk"`
}

// Server is the MCP server for one resolved workspace.
type Server struct {
	mcp *mcp.Server
	ops Ops
}

// NewServer creates an MCP server wired to ops.
func NewServer(ops Ops) (*Server, error) {
	if ops.Add == nil || ops.Search == nil {
		return nil, errors.New("mcpserver: both Add and Search operations are required")
	}

	s := &Server{ops: ops}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "mem-cli",
			Version: version.Version,
		},
		nil,
	)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_add",
		Description: "Store a note in the agent's persistent memory. Use scope \"short\" for day-to-day observations and \"long\" for durable facts worth keeping indefinitely.",
	}, s.handleAdd)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_search",
		Description: "Semantically search the agent's persistent memory and return the most relevant note fragments with their sources.",
	}, s.handleSearch)

	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) handleAdd(ctx context.Context, req *mcp.CallToolRequest, input AddInput) (*mcp.CallToolResult, AddOutput, error) {
	if input.Text == "" {
		return nil, AddOutput{}, errors.New("text parameter is required")
	}
	scope := input.Scope
	if scope == "" {
		scope = "short"
	}
	if scope != "short" && scope != "long" {
		return nil, AddOutput{}, fmt.Errorf("scope must be \"short\" or \"long\", got %q", scope)
	}

	if err := s.ops.Add(ctx, scope, input.Text); err != nil {
		return nil, AddOutput{}, err
	}
	return nil, AddOutput{Stored: true, Scope: scope}, nil
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if input.Query == "" {
		return nil, SearchOutput{}, errors.New("query parameter is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	hits, err := s.ops.Search(ctx, input.Query, limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Results: make([]ResultOutput, 0, len(hits))}
	for _, h := range hits {
		out.Results = append(out.Results, ResultOutput{
			FilePath:  h.FilePath,
			LineStart: h.LineStart,
			LineEnd:   h.LineEnd,
			Score:     h.Score,
			Snippet:   h.Snippet,
		})
	}
	return nil, out, nil
}
