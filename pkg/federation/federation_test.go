package federation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sanonone/kartadb/pkg/graph"
	"github.com/sanonone/kartadb/pkg/query"
	"github.com/sanonone/kartadb/pkg/traverse"
)

func intp(v int) *int { return &v }

// buildPartition builds one store with external references enabled.
func buildPartition(t *testing.T, decls []graph.NodeDecl) *graph.Store {
	t.Helper()
	st, err := graph.BuildWithOptions(decls, graph.BuildOptions{AllowExternalTargets: true})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func twoPartitions(t *testing.T) (*graph.Store, *graph.Store) {
	t.Helper()
	// p1 owns x and references y; p2 owns y.
	p1 := buildPartition(t, []graph.NodeDecl{
		{ID: "x", Kind: "fn", Content: "func X()", Relations: []graph.RelationDecl{
			{To: "y", Type: "depends_on"},
		}},
	})
	p2 := buildPartition(t, []graph.NodeDecl{
		{ID: "y", Kind: "fn", Content: "func Y()"},
	})
	return p1, p2
}

func TestRegisterCollision(t *testing.T) {
	c := New(nil, nil)

	p1 := buildPartition(t, []graph.NodeDecl{{ID: "shared"}})
	p2 := buildPartition(t, []graph.NodeDecl{{ID: "shared"}})

	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}
	if err := c.Register("p2", p2); !errors.Is(err, ErrDuplicateGlobalID) {
		t.Fatalf("expected ErrDuplicateGlobalID, got %v", err)
	}
	if err := c.Register("p1", p1); !errors.Is(err, ErrDuplicatePartition) {
		t.Fatalf("expected ErrDuplicatePartition, got %v", err)
	}
}

func TestExternPlaceholderDoesNotClaimOwnership(t *testing.T) {
	c := New(nil, nil)
	p1, p2 := twoPartitions(t)

	// p1 carries an extern placeholder for y; registering p2, which owns the
	// real y, must not collide.
	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}
	if err := c.Register("p2", p2); err != nil {
		t.Fatal(err)
	}
}

func TestFederatedQueryUnion(t *testing.T) {
	c := New(nil, nil)
	p1, p2 := twoPartitions(t)
	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}
	if err := c.Register("p2", p2); err != nil {
		t.Fatal(err)
	}

	// Query the union, ordered by id descending with a limit.
	results, err := c.Query(context.Background(), query.Request{
		From:  "functions",
		Order: &query.Order{Field: "id", Desc: true},
		Limit: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Node.ID != "y" || results[0].Partition != "p2" {
		t.Errorf("first = %+v", results[0])
	}
	if results[1].Node.ID != "x" || results[1].Partition != "p1" {
		t.Errorf("second = %+v", results[1])
	}
}

func TestFederatedQueryReportsOwnersOnly(t *testing.T) {
	c := New(nil, nil)
	p1, p2 := twoPartitions(t)
	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}
	if err := c.Register("p2", p2); err != nil {
		t.Fatal(err)
	}

	// An unrestricted scan sees p1's extern placeholder for y as well as
	// p2's real y; only the owner's copy may surface, exactly once.
	results, err := c.Query(context.Background(), query.Request{
		From:  "all",
		Order: &query.Order{Field: "id"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	seen := make(map[string]int)
	for _, r := range results {
		seen[r.Node.ID]++
	}
	if seen["x"] != 1 || seen["y"] != 1 {
		t.Errorf("id counts = %v", seen)
	}
	if results[1].Node.ID != "y" || results[1].Partition != "p2" || results[1].Node.Kind != "fn" {
		t.Errorf("y reported as %+v, want p2's real node", results[1])
	}

	// A by-id lookup must resolve to the real node, not the placeholder,
	// even though the referencing partition registered first.
	hits, err := c.Query(context.Background(), query.Request{
		Where: &query.Predicate{Op: "equals", Field: "id", Value: "y"},
		Limit: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Partition != "p2" || hits[0].Node.Kind != "fn" {
		t.Errorf("lookup = %+v", hits)
	}
}

func TestCrossPartitionTraversal(t *testing.T) {
	c := New(nil, nil)
	p1, p2 := twoPartitions(t)
	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}
	if err := c.Register("p2", p2); err != nil {
		t.Fatal(err)
	}

	// Outgoing from x crosses into p2 and reports y under its owner.
	vs, err := c.Traverse(context.Background(), traverse.Request{
		Start:    "x",
		Relation: "depends_on",
		MaxDepth: intp(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 {
		t.Fatalf("got %+v", vs)
	}
	if vs[0].ID != "x" || vs[0].Partition != "p1" || vs[0].Depth != 0 {
		t.Errorf("start = %+v", vs[0])
	}
	if vs[1].ID != "y" || vs[1].Partition != "p2" || vs[1].Depth != 1 {
		t.Errorf("crossing = %+v", vs[1])
	}

	// depends_on is self-inverse, so the walk also works from y back to x
	// through the synthesized edge on p1's extern placeholder.
	vs, err = c.Traverse(context.Background(), traverse.Request{
		Start:    "y",
		Relation: "depends_on",
		MaxDepth: intp(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 || vs[1].ID != "x" || vs[1].Partition != "p1" {
		t.Errorf("reverse crossing: %+v", vs)
	}
}

func TestLazyLoadOnCrossing(t *testing.T) {
	p1, p2 := twoPartitions(t)

	var loads atomic.Int32
	router := func(id string) (string, bool) {
		return "p2", true
	}
	loader := func(ctx context.Context, key string) (*graph.Store, error) {
		if key != "p2" {
			return nil, fmt.Errorf("unexpected key %q", key)
		}
		loads.Add(1)
		return p2, nil
	}

	c := New(router, loader)
	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}
	if c.Loaded("p2") {
		t.Fatal("p2 loaded before any crossing")
	}

	// The traversal hits y, which no loaded partition owns; the router
	// proposes p2 and the loader brings it in mid-walk.
	vs, err := c.Traverse(context.Background(), traverse.Request{
		Start:    "x",
		Relation: "depends_on",
		MaxDepth: intp(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 2 || vs[1].Partition != "p2" {
		t.Errorf("got %+v", vs)
	}
	if !c.Loaded("p2") {
		t.Error("p2 not loaded after crossing")
	}
	if loads.Load() != 1 {
		t.Errorf("loader ran %d times", loads.Load())
	}
}

func TestConcurrentLoadsCollapse(t *testing.T) {
	p2 := buildPartition(t, []graph.NodeDecl{{ID: "y"}})

	var loads atomic.Int32
	release := make(chan struct{})
	c := New(
		func(id string) (string, bool) { return "p2", true },
		func(ctx context.Context, key string) (*graph.Store, error) {
			loads.Add(1)
			<-release
			return p2, nil
		},
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.ensure(context.Background(), "y")
		}()
	}
	close(release)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Errorf("expected one collapsed load, got %d", got)
	}
}

func TestLoadFailure(t *testing.T) {
	p1, _ := twoPartitions(t)
	loadErr := errors.New("disk gone")
	c := New(
		func(id string) (string, bool) { return "p2", true },
		func(ctx context.Context, key string) (*graph.Store, error) {
			return nil, loadErr
		},
	)
	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}

	_, err := c.Traverse(context.Background(), traverse.Request{
		Start:    "x",
		Relation: "depends_on",
		MaxDepth: intp(1),
	})
	var plErr *PartitionLoadError
	if !errors.As(err, &plErr) {
		t.Fatalf("expected PartitionLoadError, got %v", err)
	}
	if plErr.Key != "p2" || !errors.Is(err, loadErr) {
		t.Errorf("wrong wrapped error: %+v", plErr)
	}
}

func TestUnknownStart(t *testing.T) {
	c := New(nil, nil)
	p1, _ := twoPartitions(t)
	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}
	_, err := c.Traverse(context.Background(), traverse.Request{Start: "nowhere"})
	if !errors.Is(err, graph.ErrUnknownStartNode) {
		t.Errorf("expected ErrUnknownStartNode, got %v", err)
	}
}

func TestUnloadDropsOwnership(t *testing.T) {
	c := New(nil, nil)
	p1, p2 := twoPartitions(t)
	if err := c.Register("p1", p1); err != nil {
		t.Fatal(err)
	}
	if err := c.Register("p2", p2); err != nil {
		t.Fatal(err)
	}

	c.Unload("p2")
	if c.Loaded("p2") {
		t.Fatal("p2 still loaded")
	}

	// Re-registering must not collide with stale ownership entries.
	if err := c.Register("p2", p2); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
}
