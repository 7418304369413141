// Package query implements the KartaDB query engine: filter predicates
// evaluated over every node of an immutable graph store.
//
// Execution is deliberately a full scan through the store's read interface.
// No secondary index is maintained; with the flat layout a scan stays fast
// up to roughly 100k nodes, and it keeps the store itself free of any
// query-dependent state.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sanonone/kartadb/pkg/graph"
)

// Request is the query shape produced by the (out-of-scope) compiler layer.
type Request struct {
	// Select lists the fields to project. Empty, or the single element
	// "all", selects everything.
	Select []string `json:"select,omitempty" yaml:"select,omitempty"`

	// From names the source class: "all"/"*", or one of the plural kind
	// classes (functions, structs, enums, modules, databases, externs,
	// tests, data).
	From string `json:"from" yaml:"from"`

	Where *Predicate `json:"where,omitempty" yaml:"where,omitempty"`
	Order *Order     `json:"order,omitempty" yaml:"order,omitempty"`
	Limit int        `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Order requests a stable sort of the results by one field.
type Order struct {
	Field string `json:"field" yaml:"field"`
	Desc  bool   `json:"desc,omitempty" yaml:"desc,omitempty"`
}

// Node is one query result row. Fields outside the projection are zero.
type Node struct {
	Index     uint32            `json:"index"`
	ID        string            `json:"id,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Content   string            `json:"content,omitempty"`
	Notes     []string          `json:"notes,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Relations []Relation        `json:"relations,omitempty"`
}

// Relation is one outgoing edge in a result row, target by id.
type Relation struct {
	To   string `json:"to"`
	Type string `json:"type"`
}

// sourceClasses maps the request's from-clause to a kind filter, the way
// the original runtime named them. nil means no filter.
var sourceClasses = map[string]*graph.Kind{
	"all": nil,
	"*":   nil,
}

func init() {
	classes := map[string]graph.Kind{
		"data":      graph.KindData,
		"functions": graph.KindFn,
		"structs":   graph.KindStruct,
		"enums":     graph.KindEnum,
		"modules":   graph.KindModule,
		"databases": graph.KindDatabase,
		"externs":   graph.KindExtern,
		"tests":     graph.KindTest,
	}
	for name, k := range classes {
		kind := k
		sourceClasses[name] = &kind
	}
}

// plan is a fully validated request, ready to scan.
type plan struct {
	kind    *graph.Kind
	eval    evalFunc
	order   *Order
	limit   int
	project map[string]bool // nil = select all
}

// compile validates the whole request up front. Any validation failure
// happens here, never mid-scan.
func compile(req Request) (*plan, error) {
	p := &plan{limit: req.Limit}

	from := req.From
	if from == "" {
		from = "all"
	}
	kind, ok := sourceClasses[from]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceClass, req.From)
	}
	p.kind = kind

	if req.Where != nil {
		eval, err := compilePredicate(req.Where)
		if err != nil {
			return nil, err
		}
		p.eval = eval
	}

	if req.Order != nil {
		field, err := resolveField(req.Order.Field)
		if err != nil {
			return nil, err
		}
		if field.class != classOrdered {
			return nil, fmt.Errorf("%w: cannot order by %q", ErrTypeMismatch, req.Order.Field)
		}
		p.order = req.Order
	}

	if !(len(req.Select) == 0 || (len(req.Select) == 1 && req.Select[0] == "all")) {
		p.project = make(map[string]bool, len(req.Select))
		for _, f := range req.Select {
			switch f {
			case "id", "kind", "content", "notes", "metadata", "relations":
				p.project[f] = true
			default:
				return nil, fmt.Errorf("%w: in select: %q", ErrUnknownField, f)
			}
		}
	}

	return p, nil
}

// Run executes a query against one store. The scan checks ctx at every node
// and returns the context's error instead of a silently truncated result.
func Run(ctx context.Context, st *graph.Store, req Request) ([]Node, error) {
	p, err := compile(req)
	if err != nil {
		return nil, err
	}

	// Full scan in store order; matches collect in index order.
	var matched []uint32
	count := uint32(st.NodeCount())
	for i := uint32(0); i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.kind != nil && st.Kind(i) != *p.kind {
			continue
		}
		if p.eval != nil && !p.eval(st, i) {
			continue
		}
		matched = append(matched, i)
	}

	sortMatches(st, matched, p.order)

	if p.limit > 0 && len(matched) > p.limit {
		matched = matched[:p.limit]
	}

	out := make([]Node, len(matched))
	for k, i := range matched {
		out[k] = projectNode(st, i, p.project)
	}
	return out, nil
}

// sortMatches stable-sorts by the order field; ties stay in ascending index
// order because the input is index-ordered and the sort is stable.
func sortMatches(st *graph.Store, matched []uint32, order *Order) {
	if order == nil {
		return
	}
	field, _ := resolveField(order.Field) // validated in compile
	key := func(i uint32) string {
		v, _ := field.scalar(st, i)
		return v
	}
	sort.SliceStable(matched, func(a, b int) bool {
		c := strings.Compare(key(matched[a]), key(matched[b]))
		if order.Desc {
			return c > 0
		}
		return c < 0
	})
}

// OrderKeyFunc returns the key extractor used to order results by field,
// validated the same way Run validates an order clause. The federation
// layer uses it to merge per-partition result sequences under one order.
func OrderKeyFunc(field string) (func(*graph.Store, uint32) string, error) {
	f, err := resolveField(field)
	if err != nil {
		return nil, err
	}
	if f.class != classOrdered {
		return nil, fmt.Errorf("%w: cannot order by %q", ErrTypeMismatch, field)
	}
	return func(st *graph.Store, i uint32) string {
		v, _ := f.scalar(st, i)
		return v
	}, nil
}

func projectNode(st *graph.Store, i uint32, project map[string]bool) Node {
	want := func(f string) bool { return project == nil || project[f] }

	n := Node{Index: i}
	if want("id") {
		n.ID = st.ID(i)
	}
	if want("kind") {
		n.Kind = st.Kind(i).String()
	}
	if want("content") {
		n.Content = st.Content(i)
	}
	if want("notes") {
		n.Notes = st.Notes(i)
	}
	if want("metadata") {
		keys := st.MetadataKeys(i)
		if len(keys) > 0 {
			n.Metadata = make(map[string]string, len(keys))
			for _, k := range keys {
				v, _ := st.Metadata(i, k)
				n.Metadata[k] = v
			}
		}
	}
	if want("relations") {
		for _, e := range st.Outgoing(i) {
			n.Relations = append(n.Relations, Relation{
				To:   st.ID(e.Target),
				Type: e.Type.String(),
			})
		}
	}
	return n
}
