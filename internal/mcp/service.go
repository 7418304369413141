package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/kartadb/pkg/metrics"
	"github.com/sanonone/kartadb/pkg/query"
	"github.com/sanonone/kartadb/pkg/traverse"
)

type Service struct {
	snapshot SnapshotFunc
}

func NewService(snapshot SnapshotFunc) *Service {
	return &Service{snapshot: snapshot}
}

// --- Tool Handlers ---

func (s *Service) QueryNodes(ctx context.Context, req *mcp.CallToolRequest, args QueryNodesArgs) (*mcp.CallToolResult, QueryNodesResult, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}

	q := query.Request{
		From:  args.From,
		Limit: limit,
	}
	if args.WhereJSON != "" {
		var pred query.Predicate
		if err := json.Unmarshal([]byte(args.WhereJSON), &pred); err != nil {
			return nil, QueryNodesResult{}, fmt.Errorf("invalid where predicate: %w", err)
		}
		q.Where = &pred
	}
	if args.OrderBy != "" {
		q.Order = &query.Order{Field: args.OrderBy, Desc: args.Desc}
	}

	st := s.snapshot()
	nodes, err := query.Run(ctx, st, q)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("mcp", "error").Inc()
		return nil, QueryNodesResult{}, err
	}
	metrics.QueriesTotal.WithLabelValues("mcp", "ok").Inc()

	out := QueryNodesResult{Count: len(nodes)}
	for _, n := range nodes {
		out.Nodes = append(out.Nodes, formatNode(n))
	}
	return nil, out, nil
}

func (s *Service) TraverseGraph(ctx context.Context, req *mcp.CallToolRequest, args TraverseGraphArgs) (*mcp.CallToolResult, TraverseGraphResult, error) {
	depth := args.Depth
	if depth <= 0 {
		depth = 2
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}

	st := s.snapshot()
	visits, err := traverse.Run(ctx, st, traverse.Request{
		Start:     args.Start,
		Relation:  args.Relation,
		Direction: traverse.Direction(args.Direction),
		MaxDepth:  &depth,
		Limit:     limit,
	})
	if err != nil {
		metrics.TraversalsTotal.WithLabelValues("mcp", "error").Inc()
		return nil, TraverseGraphResult{}, err
	}
	metrics.TraversalsTotal.WithLabelValues("mcp", "ok").Inc()

	var b strings.Builder
	fmt.Fprintf(&b, "Reached %d node(s) from %q:\n", len(visits), args.Start)
	for _, v := range visits {
		fmt.Fprintf(&b, "  depth %d: %s (%s)\n", v.Depth, v.ID, st.Kind(v.Index))
	}
	return nil, TraverseGraphResult{GraphDescription: b.String()}, nil
}

func (s *Service) GetNode(ctx context.Context, req *mcp.CallToolRequest, args GetNodeArgs) (*mcp.CallToolResult, GetNodeResult, error) {
	st := s.snapshot()
	idx, ok := st.FindByID(args.ID)
	if !ok {
		return nil, GetNodeResult{Found: false}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", st.ID(idx), st.Kind(idx))
	if c := st.Content(idx); c != "" {
		fmt.Fprintf(&b, "content: %s\n", c)
	}
	for _, note := range st.Notes(idx) {
		fmt.Fprintf(&b, "note: %s\n", note)
	}
	for _, k := range st.MetadataKeys(idx) {
		v, _ := st.Metadata(idx, k)
		fmt.Fprintf(&b, "%s = %s\n", k, v)
	}
	for _, e := range st.Outgoing(idx) {
		fmt.Fprintf(&b, "-> %s [%s]\n", st.ID(e.Target), e.Type)
	}
	return nil, GetNodeResult{Found: true, Description: b.String()}, nil
}

func (s *Service) GraphStats(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, GraphStatsResult, error) {
	st := s.snapshot()
	return nil, GraphStatsResult{Nodes: st.NodeCount(), Edges: st.EdgeCount()}, nil
}

// formatNode renders one result row as a single line the model can scan.
func formatNode(n query.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", n.Kind, n.ID)
	if n.Content != "" {
		content := n.Content
		if len(content) > 120 {
			content = content[:120] + "..."
		}
		fmt.Fprintf(&b, ": %s", content)
	}
	if len(n.Relations) > 0 {
		var rels []string
		for _, r := range n.Relations {
			rels = append(rels, fmt.Sprintf("%s:%s", r.Type, r.To))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(rels, ", "))
	}
	return b.String()
}
