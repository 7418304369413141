// Package traverse implements bounded breadth-first graph walks over an
// immutable KartaDB store.
//
// A traversal returns the set of reachable node identities with their BFS
// depth, never the paths taken. The walk is cycle-safe by construction: a
// visited set over dense indices bounds the work at O(V+E) even when the
// requested depth is unbounded.
package traverse

import (
	"context"
	"fmt"
	"sort"

	"github.com/sanonone/kartadb/pkg/graph"
)

// Direction selects which edges a traversal follows.
type Direction string

const (
	DirOutgoing Direction = "outgoing"
	DirIncoming Direction = "incoming"
	DirBoth     Direction = "both"
)

// ErrBadDirection is returned for a direction outside the three valid values.
var ErrBadDirection = fmt.Errorf("direction must be outgoing, incoming or both")

// Request is the traversal shape accepted by the engine.
type Request struct {
	// Start is the id of the start node. An unresolvable id fails with
	// graph.ErrUnknownStartNode.
	Start string `json:"start" yaml:"start"`

	// Relation restricts the walk to edges of one type; empty means any.
	Relation string `json:"relation_type,omitempty" yaml:"relation_type,omitempty"`

	// Direction defaults to outgoing.
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`

	// MaxDepth bounds the walk. nil means unbounded, which the engine
	// treats as the node count: the visited set makes that finite.
	MaxDepth *int `json:"depth,omitempty" yaml:"depth,omitempty"`

	// Limit truncates the result, but only after a whole depth level has
	// been computed, so "closest nodes first" stays deterministic.
	Limit int `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Visit is one reached node with its BFS depth.
type Visit struct {
	Index uint32 `json:"index"`
	ID    string `json:"id"`
	Depth int    `json:"depth"`
}

// Run walks the store breadth-first from the request's start node.
// Depth 0 is the start node alone. ctx is checked at every frontier step;
// cancellation returns the context's error, never a partial result.
func Run(ctx context.Context, st *graph.Store, req Request) ([]Visit, error) {
	start, ok := st.FindByID(req.Start)
	if !ok {
		return nil, fmt.Errorf("%w: %q", graph.ErrUnknownStartNode, req.Start)
	}

	var relFilter *graph.RelationType
	if req.Relation != "" {
		typ, err := graph.ParseRelationType(req.Relation)
		if err != nil {
			return nil, err
		}
		relFilter = &typ
	}

	dir := req.Direction
	if dir == "" {
		dir = DirOutgoing
	}
	switch dir {
	case DirOutgoing, DirIncoming, DirBoth:
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadDirection, req.Direction)
	}

	maxDepth := st.NodeCount()
	if req.MaxDepth != nil {
		if *req.MaxDepth < 0 {
			return nil, fmt.Errorf("depth must be non-negative, got %d", *req.MaxDepth)
		}
		maxDepth = *req.MaxDepth
	}

	visited := make([]bool, st.NodeCount())
	visited[start] = true

	result := []Visit{{Index: start, ID: st.ID(start), Depth: 0}}
	frontier := []uint32{start}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		if req.Limit > 0 && len(result) >= req.Limit {
			break
		}

		var next []uint32
		for _, curr := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			expand(st, curr, dir, relFilter, func(peer uint32) {
				if !visited[peer] {
					visited[peer] = true
					next = append(next, peer)
				}
			})
		}

		// Lower index wins ties inside an equal-depth level; sorting the
		// level keeps both the output and any truncation deterministic.
		sort.Slice(next, func(a, b int) bool { return next[a] < next[b] })

		for _, idx := range next {
			result = append(result, Visit{Index: idx, ID: st.ID(idx), Depth: depth})
		}
		frontier = next
	}

	if req.Limit > 0 && len(result) > req.Limit {
		result = result[:req.Limit]
	}
	return result, nil
}

// expand feeds every neighbor of curr in the requested direction to visit.
func expand(st *graph.Store, curr uint32, dir Direction, relFilter *graph.RelationType, visit func(uint32)) {
	if dir == DirOutgoing || dir == DirBoth {
		for _, e := range st.Outgoing(curr) {
			if relFilter == nil || e.Type == *relFilter {
				visit(e.Target)
			}
		}
	}
	if dir == DirIncoming || dir == DirBoth {
		n := st.IncomingCount(curr)
		for k := 0; k < n; k++ {
			e := st.IncomingAt(curr, k)
			if relFilter == nil || e.Type == *relFilter {
				visit(e.Source)
			}
		}
	}
}
