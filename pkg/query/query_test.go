package query

import (
	"context"
	"errors"
	"testing"

	"github.com/sanonone/kartadb/pkg/graph"
)

func buildFixture(t *testing.T) *graph.Store {
	t.Helper()
	st, err := graph.Build([]graph.NodeDecl{
		{
			ID:      "auth.mod",
			Kind:    "module",
			Content: "The Authentication subsystem",
			Metadata: map[string]string{
				"owner": "platform",
			},
			Relations: []graph.RelationDecl{
				{To: "auth.login", Type: "contains"},
			},
		},
		{
			ID:      "auth.login",
			Kind:    "fn",
			Content: "func Login(user, pass string) error",
			Notes:   []string{"rate limited per IP"},
		},
		{
			ID:      "billing.mod",
			Kind:    "module",
			Content: "Billing and invoicing",
			Metadata: map[string]string{
				"owner": "payments",
			},
		},
		{
			ID:      "billing.charge",
			Kind:    "fn",
			Content: "func Charge(amount int) error",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func ids(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestContentSearchCaseInsensitive(t *testing.T) {
	st := buildFixture(t)

	// "auth" must match "Authentication" despite the capital A.
	nodes, err := Run(context.Background(), st, Request{
		Where: &Predicate{Op: "contains", Field: "content", Value: "auth"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := ids(nodes)
	if len(got) != 1 || got[0] != "auth.mod" {
		t.Errorf("got %v, want [auth.mod]", got)
	}
}

func TestSourceClassFilter(t *testing.T) {
	st := buildFixture(t)

	nodes, err := Run(context.Background(), st, Request{From: "functions"})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("functions: got %v", ids(nodes))
	}
	for _, n := range nodes {
		if n.Kind != "fn" {
			t.Errorf("non-fn in functions class: %v", n)
		}
	}

	if _, err := Run(context.Background(), st, Request{From: "vectors"}); !errors.Is(err, ErrUnknownSourceClass) {
		t.Errorf("expected ErrUnknownSourceClass, got %v", err)
	}
}

func TestCompoundPredicates(t *testing.T) {
	st := buildFixture(t)

	// and: modules owned by platform.
	nodes, err := Run(context.Background(), st, Request{
		From: "modules",
		Where: &Predicate{Op: "and", Preds: []*Predicate{
			{Op: "equals", Field: "metadata.owner", Value: "platform"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(nodes); len(got) != 1 || got[0] != "auth.mod" {
		t.Errorf("and: got %v", got)
	}

	// or over three branches.
	nodes, err = Run(context.Background(), st, Request{
		Where: &Predicate{Op: "or", Preds: []*Predicate{
			{Op: "equals", Field: "id", Value: "billing.charge"},
			{Op: "equals", Field: "id", Value: "auth.login"},
			{Op: "equals", Field: "id", Value: "does.not.exist"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Errorf("or: got %v", ids(nodes))
	}

	// Empty compound lists are malformed.
	_, err = Run(context.Background(), st, Request{
		Where: &Predicate{Op: "and"},
	})
	if !errors.Is(err, ErrBadPredicate) {
		t.Errorf("empty and: expected ErrBadPredicate, got %v", err)
	}
}

func TestNotesAndRelationsPredicates(t *testing.T) {
	st := buildFixture(t)

	nodes, err := Run(context.Background(), st, Request{
		Where: &Predicate{Op: "contains", Field: "notes", Value: "rate limited"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(nodes); len(got) != 1 || got[0] != "auth.login" {
		t.Errorf("notes: got %v", got)
	}

	// relations equals = has an outgoing edge of the type; the synthesized
	// contained_by on auth.login counts.
	nodes, err = Run(context.Background(), st, Request{
		Where: &Predicate{Op: "equals", Field: "relations", Value: "contained_by"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(nodes); len(got) != 1 || got[0] != "auth.login" {
		t.Errorf("relations: got %v", got)
	}
}

func TestValidationBeforeScan(t *testing.T) {
	st := buildFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown field", Request{Where: &Predicate{Op: "equals", Field: "embedding", Value: "x"}}, ErrUnknownField},
		{"ordered op on notes", Request{Where: &Predicate{Op: "less", Field: "notes", Value: "x"}}, ErrTypeMismatch},
		{"regex on relations", Request{Where: &Predicate{Op: "matches", Field: "relations", Value: ".*"}}, ErrTypeMismatch},
		{"bad relation literal", Request{Where: &Predicate{Op: "equals", Field: "relations", Value: "mentions"}}, ErrInvalidRelationTypeLiteral},
		{"order by notes", Request{Order: &Order{Field: "notes"}}, ErrTypeMismatch},
		{"bad regex", Request{Where: &Predicate{Op: "matches", Field: "content", Value: "("}}, ErrBadPredicate},
		{"bad select", Request{Select: []string{"vectors"}}, ErrUnknownField},
	}
	for _, tc := range cases {
		if _, err := Run(ctx, st, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestOrderLimitAndTieBreak(t *testing.T) {
	// Two nodes share the same owner so the order key ties; the earlier
	// declaration (lower index) must come first.
	st, err := graph.Build([]graph.NodeDecl{
		{ID: "c", Metadata: map[string]string{"group": "2"}},
		{ID: "a", Metadata: map[string]string{"group": "1"}},
		{ID: "b", Metadata: map[string]string{"group": "1"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	nodes, err := Run(context.Background(), st, Request{
		Order: &Order{Field: "metadata.group"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := ids(nodes)
	want := []string{"a", "b", "c"}
	// a (index 1) ties with b (index 2) on group=1; index order breaks it.
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v, want %v", got, want)
		}
	}

	// Descending flips the groups but keeps index order inside the tie.
	nodes, err = Run(context.Background(), st, Request{
		Order: &Order{Field: "metadata.group", Desc: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	got = ids(nodes)
	want = []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("desc order: got %v, want %v", got, want)
		}
	}

	// Limit truncates after ordering.
	nodes, err = Run(context.Background(), st, Request{
		Order: &Order{Field: "id"},
		Limit: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(nodes); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("limit: got %v", got)
	}
}

func TestProjection(t *testing.T) {
	st := buildFixture(t)

	nodes, err := Run(context.Background(), st, Request{
		Select: []string{"id", "kind"},
		Where:  &Predicate{Op: "equals", Field: "id", Value: "auth.mod"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 {
		t.Fatal("expected one row")
	}
	n := nodes[0]
	if n.ID != "auth.mod" || n.Kind != "module" {
		t.Errorf("projected fields missing: %+v", n)
	}
	if n.Content != "" || n.Metadata != nil || n.Relations != nil {
		t.Errorf("unselected fields populated: %+v", n)
	}
}

func TestQueryCancellation(t *testing.T) {
	st := buildFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, st, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMetadataAbsentKeyNeverMatches(t *testing.T) {
	st := buildFixture(t)

	// not_equals on a missing key is false, not true: the node has no value
	// to compare.
	nodes, err := Run(context.Background(), st, Request{
		Where: &Predicate{Op: "not_equals", Field: "metadata.owner", Value: "platform"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(nodes); len(got) != 1 || got[0] != "billing.mod" {
		t.Errorf("got %v, want [billing.mod]", got)
	}
}

func TestOrderedQueryIgnoresDeclarationOrder(t *testing.T) {
	decls := []graph.NodeDecl{
		{ID: "c", Kind: "fn", Content: "func C()", Relations: []graph.RelationDecl{
			{To: "a", Type: "depends_on"},
		}},
		{ID: "a", Kind: "fn", Content: "func A()"},
		{ID: "b", Kind: "fn", Content: "func B()", Relations: []graph.RelationDecl{
			{To: "c", Type: "next"},
		}},
	}
	permuted := []graph.NodeDecl{decls[1], decls[2], decls[0]}

	st1, err := graph.Build(decls)
	if err != nil {
		t.Fatal(err)
	}
	st2, err := graph.Build(permuted)
	if err != nil {
		t.Fatal(err)
	}

	// An ordered query must produce the same sequence from both builds even
	// though the dense indices were assigned in different orders.
	req := Request{
		From:  "functions",
		Order: &Order{Field: "id"},
	}
	n1, err := Run(context.Background(), st1, req)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := Run(context.Background(), st2, req)
	if err != nil {
		t.Fatal(err)
	}
	got1, got2 := ids(n1), ids(n2)
	if len(got1) != 3 || len(got2) != 3 {
		t.Fatalf("got %v and %v", got1, got2)
	}
	for i := range got1 {
		if got1[i] != got2[i] {
			t.Fatalf("order diverged: %v vs %v", got1, got2)
		}
	}
	for i, n := range n1 {
		if n.Kind != n2[i].Kind || n.Content != n2[i].Content || len(n.Relations) != len(n2[i].Relations) {
			t.Errorf("row %d differs between builds: %+v vs %+v", i, n, n2[i])
		}
	}
}
