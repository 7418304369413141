package traverse

import (
	"context"
	"errors"
	"testing"

	"github.com/sanonone/kartadb/pkg/graph"
)

func intp(v int) *int { return &v }

func buildChain(t *testing.T) *graph.Store {
	t.Helper()
	// root -> m1, m2, m3 (contains); m1 -> leaf (contains).
	st, err := graph.Build([]graph.NodeDecl{
		{ID: "root", Kind: "module", Relations: []graph.RelationDecl{
			{To: "m1", Type: "contains"},
			{To: "m2", Type: "contains"},
			{To: "m3", Type: "contains"},
		}},
		{ID: "m1", Relations: []graph.RelationDecl{
			{To: "leaf", Type: "contains"},
		}},
		{ID: "m2"},
		{ID: "m3"},
		{ID: "leaf"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func visitIDs(vs []Visit) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func TestDepthZeroIsStartAlone(t *testing.T) {
	st := buildChain(t)
	vs, err := Run(context.Background(), st, Request{Start: "root", MaxDepth: intp(0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 1 || vs[0].ID != "root" || vs[0].Depth != 0 {
		t.Errorf("got %+v", vs)
	}
}

func TestLevelOrderAndTieBreak(t *testing.T) {
	st := buildChain(t)

	// Depth 1 with limit 2: the level is computed whole, sorted by index,
	// then truncated. m1 has the lowest index of the three children.
	vs, err := Run(context.Background(), st, Request{
		Start:    "root",
		Relation: "contains",
		MaxDepth: intp(1),
		Limit:    2,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := visitIDs(vs)
	want := []string{"root", "m1"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDepthMonotonicity(t *testing.T) {
	st := buildChain(t)
	vs, err := Run(context.Background(), st, Request{Start: "root", Relation: "contains"})
	if err != nil {
		t.Fatal(err)
	}
	// Unbounded depth reaches everything; depths must never decrease.
	if len(vs) != 5 {
		t.Fatalf("got %v", visitIDs(vs))
	}
	for i := 1; i < len(vs); i++ {
		if vs[i].Depth < vs[i-1].Depth {
			t.Errorf("depth decreased at %d: %+v", i, vs)
		}
	}
	if vs[len(vs)-1].ID != "leaf" || vs[len(vs)-1].Depth != 2 {
		t.Errorf("leaf should be last at depth 2: %+v", vs[len(vs)-1])
	}
}

func TestCycleTermination(t *testing.T) {
	// next forms a cycle a -> b -> c -> a; the walk must terminate and
	// visit each node exactly once.
	st, err := graph.Build([]graph.NodeDecl{
		{ID: "a", Relations: []graph.RelationDecl{{To: "b", Type: "next"}}},
		{ID: "b", Relations: []graph.RelationDecl{{To: "c", Type: "next"}}},
		{ID: "c", Relations: []graph.RelationDecl{{To: "a", Type: "next"}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	vs, err := Run(context.Background(), st, Request{Start: "a", Relation: "next"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 3 {
		t.Errorf("cycle walk visited %v", visitIDs(vs))
	}
}

func TestIncomingDirection(t *testing.T) {
	st := buildChain(t)

	// Walking incoming contains edges from leaf climbs to m1, then root.
	vs, err := Run(context.Background(), st, Request{
		Start:     "leaf",
		Relation:  "contains",
		Direction: DirIncoming,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := visitIDs(vs)
	want := []string{"leaf", "m1", "root"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestBothDirections(t *testing.T) {
	st := buildChain(t)
	vs, err := Run(context.Background(), st, Request{
		Start:     "m1",
		Direction: DirBoth,
		MaxDepth:  intp(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	// m1's neighborhood at depth 1 is root and leaf, in index order.
	got := visitIDs(vs)
	if len(got) != 3 || got[0] != "m1" || got[1] != "root" || got[2] != "leaf" {
		t.Errorf("got %v", got)
	}
}

func TestUnknownStartNode(t *testing.T) {
	st := buildChain(t)
	_, err := Run(context.Background(), st, Request{Start: "ghost"})
	if !errors.Is(err, graph.ErrUnknownStartNode) {
		t.Errorf("expected ErrUnknownStartNode, got %v", err)
	}
}

func TestBadDirectionAndDepth(t *testing.T) {
	st := buildChain(t)
	if _, err := Run(context.Background(), st, Request{Start: "root", Direction: "sideways"}); !errors.Is(err, ErrBadDirection) {
		t.Errorf("expected ErrBadDirection, got %v", err)
	}
	if _, err := Run(context.Background(), st, Request{Start: "root", MaxDepth: intp(-1)}); err == nil {
		t.Error("negative depth accepted")
	}
}

func TestTraverseCancellation(t *testing.T) {
	st := buildChain(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, st, Request{Start: "root"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRelationFilterExcludesOtherTypes(t *testing.T) {
	st, err := graph.Build([]graph.NodeDecl{
		{ID: "doc", Relations: []graph.RelationDecl{
			{To: "impl", Type: "describes"},
			{To: "sibling", Type: "related_to"},
		}},
		{ID: "impl"},
		{ID: "sibling"},
	})
	if err != nil {
		t.Fatal(err)
	}
	vs, err := Run(context.Background(), st, Request{Start: "doc", Relation: "describes"})
	if err != nil {
		t.Fatal(err)
	}
	got := visitIDs(vs)
	if len(got) != 2 || got[1] != "impl" {
		t.Errorf("got %v", got)
	}
}
