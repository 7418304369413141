// Package mcp exposes the graph store to language-model agents over the
// Model Context Protocol: read-only query, traversal and lookup tools whose
// results are formatted as text an LLM can reason over directly.
package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kartadb/pkg/graph"
)

// SnapshotFunc returns the current serving snapshot. The indirection keeps
// the tools working across hot reloads without holding a stale store.
type SnapshotFunc func() *graph.Store

func NewMCPServer(snapshot SnapshotFunc) *mcp.Server {
	service := NewService(snapshot)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "KartaDB Graph",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "query_nodes",
		Description: "Search graph nodes by kind, content, notes, metadata or relations using a filter predicate.",
	}, service.QueryNodes)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "traverse_graph",
		Description: "Walk the graph breadth-first from a start node to explore its neighborhood.",
	}, service.TraverseGraph)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_node",
		Description: "Look up one node by id and return its full content, notes, metadata and relations.",
	}, service.GetNode)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "graph_stats",
		Description: "Report the size of the currently served graph snapshot.",
	}, service.GraphStats)

	return s
}
