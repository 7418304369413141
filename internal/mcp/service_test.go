package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sanonone/kartadb/pkg/graph"
	"github.com/sanonone/kartadb/pkg/metrics"
)

func testService(t *testing.T) *Service {
	t.Helper()
	st, err := graph.Build([]graph.NodeDecl{
		{
			ID:      "auth.mod",
			Kind:    "module",
			Content: "The Authentication subsystem",
			Relations: []graph.RelationDecl{
				{To: "auth.login", Type: "contains"},
			},
		},
		{
			ID:      "auth.login",
			Kind:    "fn",
			Content: "func Login(user, pass string) error",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewService(func() *graph.Store { return st })
}

func TestQueryNodesToolCountsQueries(t *testing.T) {
	svc := testService(t)
	okBefore := testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("mcp", "ok"))
	errBefore := testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("mcp", "error"))

	// 1. A valid query runs and counts as ok.
	_, res, err := svc.QueryNodes(context.Background(), nil, QueryNodesArgs{
		From:      "modules",
		WhereJSON: `{"op":"contains","field":"content","value":"auth"}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 || !strings.Contains(res.Nodes[0], "auth.mod") {
		t.Errorf("result = %+v", res)
	}
	if got := testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("mcp", "ok")); got != okBefore+1 {
		t.Errorf("ok counter = %v, want %v", got, okBefore+1)
	}

	// 2. A bad source class fails and counts as error.
	if _, _, err := svc.QueryNodes(context.Background(), nil, QueryNodesArgs{From: "vectors"}); err == nil {
		t.Error("bad source class accepted")
	}
	if got := testutil.ToFloat64(metrics.QueriesTotal.WithLabelValues("mcp", "error")); got != errBefore+1 {
		t.Errorf("error counter = %v, want %v", got, errBefore+1)
	}
}

func TestTraverseGraphToolCountsTraversals(t *testing.T) {
	svc := testService(t)
	okBefore := testutil.ToFloat64(metrics.TraversalsTotal.WithLabelValues("mcp", "ok"))
	errBefore := testutil.ToFloat64(metrics.TraversalsTotal.WithLabelValues("mcp", "error"))

	_, res, err := svc.TraverseGraph(context.Background(), nil, TraverseGraphArgs{
		Start: "auth.mod",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.GraphDescription, "auth.login") {
		t.Errorf("description = %q", res.GraphDescription)
	}
	if got := testutil.ToFloat64(metrics.TraversalsTotal.WithLabelValues("mcp", "ok")); got != okBefore+1 {
		t.Errorf("ok counter = %v, want %v", got, okBefore+1)
	}

	if _, _, err := svc.TraverseGraph(context.Background(), nil, TraverseGraphArgs{Start: "ghost"}); err == nil {
		t.Error("unknown start accepted")
	}
	if got := testutil.ToFloat64(metrics.TraversalsTotal.WithLabelValues("mcp", "error")); got != errBefore+1 {
		t.Errorf("error counter = %v, want %v", got, errBefore+1)
	}
}

func TestGetNodeTool(t *testing.T) {
	svc := testService(t)

	_, res, err := svc.GetNode(context.Background(), nil, GetNodeArgs{ID: "auth.login"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Found || !strings.Contains(res.Description, "func Login") {
		t.Errorf("result = %+v", res)
	}

	_, res, err = svc.GetNode(context.Background(), nil, GetNodeArgs{ID: "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Found {
		t.Error("missing node reported as found")
	}
}
