package graph

import (
	"fmt"
	"sort"
	"strings"
)

// BuildOptions tunes the Layout Builder.
type BuildOptions struct {
	// AllowExternalTargets turns a relation target that does not resolve
	// inside the declaration set into a placeholder node of kind extern
	// instead of failing the build. Federated partitions are built this way
	// so they can reference ids owned by other partitions; a standalone
	// store should leave this off and get ErrUnresolvedTarget.
	AllowExternalTargets bool
}

// Build constructs an immutable Store from a set of node declarations.
// It is strict: every relation target must resolve inside the set.
//
// The build is all-or-nothing and deterministic: the same declaration set
// always yields a byte-identical encoded store, and a failed build produces
// no store at all.
func Build(decls []NodeDecl) (*Store, error) {
	return BuildWithOptions(decls, BuildOptions{})
}

// BuildWithOptions is Build with explicit options.
func BuildWithOptions(decls []NodeDecl, opts BuildOptions) (*Store, error) {
	b := newBuilder(len(decls))

	// Pass 1: intern strings, assign dense indices in input order, populate
	// the id table. Duplicates are fatal here, before any edge work.
	for _, d := range decls {
		kind, err := ParseKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", d.ID, err)
		}
		if _, exists := b.ids.lookup(d.ID); exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateID, d.ID)
		}
		b.addNode(d, kind)
	}

	// Pass 2a: resolve every declared relation and append forward edges in
	// declaration order. Exact duplicate triples are not doubled.
	var forward []Edge
	for srcIdx, d := range decls {
		for _, r := range d.Relations {
			typ, err := ParseRelationType(r.Type)
			if err != nil {
				return nil, fmt.Errorf("node %q: %w", d.ID, err)
			}
			dstIdx, ok := b.ids.lookup(r.To)
			if !ok {
				if !opts.AllowExternalTargets {
					return nil, fmt.Errorf("node %q: %w: %q", d.ID, ErrUnresolvedTarget, r.To)
				}
				dstIdx = b.addNode(NodeDecl{ID: r.To}, KindExtern)
			}
			e := Edge{Source: uint32(srcIdx), Type: typ, Target: dstIdx}
			if b.appendEdge(e) {
				forward = append(forward, e)
			}
		}
	}

	// Pass 2b: synthesize the inverse of every declared edge, de-duplicated
	// against explicit declarations and earlier syntheses. Appending all
	// inverses after all declarations keeps each node's outgoing range in
	// declaration order, inverses last.
	for _, e := range forward {
		inv := Edge{Source: e.Target, Type: e.Type.Inverse(), Target: e.Source}
		b.appendEdge(inv)
	}

	return b.finish(), nil
}

// builder holds the mutable intermediate state of one build. It is never
// exposed: finish moves everything into an immutable Store.
type builder struct {
	pool      strings.Builder
	interned  map[string]strRef
	nodes     []nodeEntry
	noteRefs  []strRef
	metaPairs []metaPair
	edges     []Edge
	seen      map[Edge]struct{}
	ids       *idTable
}

func newBuilder(hint int) *builder {
	return &builder{
		interned: make(map[string]strRef),
		nodes:    make([]nodeEntry, 0, hint),
		seen:     make(map[Edge]struct{}),
		ids:      newIDTable(hint),
	}
}

func (b *builder) intern(s string) strRef {
	if s == "" {
		return strRef{}
	}
	if r, ok := b.interned[s]; ok {
		return r
	}
	r := strRef{off: uint32(b.pool.Len()), n: uint32(len(s))}
	b.pool.WriteString(s)
	b.interned[s] = r
	return r
}

func (b *builder) addNode(d NodeDecl, kind Kind) uint32 {
	idx := uint32(len(b.nodes))
	n := nodeEntry{
		id:         b.intern(d.ID),
		content:    b.intern(d.Content),
		kind:       kind,
		notesStart: uint32(len(b.noteRefs)),
		notesCount: uint32(len(d.Notes)),
		metaStart:  uint32(len(b.metaPairs)),
		metaCount:  uint32(len(d.Metadata)),
	}
	for _, note := range d.Notes {
		b.noteRefs = append(b.noteRefs, b.intern(note))
	}
	// Metadata arrives as a Go map; sort the keys so the layout (and the
	// encoded snapshot) does not depend on map iteration order.
	if len(d.Metadata) > 0 {
		keys := make([]string, 0, len(d.Metadata))
		for k := range d.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.metaPairs = append(b.metaPairs, metaPair{key: b.intern(k), val: b.intern(d.Metadata[k])})
		}
	}
	b.nodes = append(b.nodes, n)
	b.ids.insert(d.ID, idx)
	return idx
}

// appendEdge records e unless the exact triple is already present.
func (b *builder) appendEdge(e Edge) bool {
	if _, dup := b.seen[e]; dup {
		return false
	}
	b.seen[e] = struct{}{}
	b.edges = append(b.edges, e)
	return true
}

// finish sorts the edge table, derives the incoming permutation and the
// per-node adjacency ranges, freezes the hash table, and seals the Store.
func (b *builder) finish() *Store {
	// Stable sort by source keeps append order within each node, which is
	// declaration order followed by synthesized inverses.
	sort.SliceStable(b.edges, func(i, j int) bool {
		return b.edges[i].Source < b.edges[j].Source
	})

	nodeCount := len(b.nodes)
	adj := make([]adjEntry, nodeCount)

	for i, e := range b.edges {
		a := &adj[e.Source]
		if a.outCount == 0 {
			a.outStart = uint32(i)
		}
		a.outCount++
	}

	// Incoming permutation via counting sort by target: stable in edge-table
	// order, no comparisons, deterministic.
	incoming := make([]uint32, len(b.edges))
	for _, e := range b.edges {
		adj[e.Target].inCount++
	}
	var run uint32
	for i := range adj {
		adj[i].inStart = run
		run += adj[i].inCount
	}
	fill := make([]uint32, nodeCount)
	for i, e := range b.edges {
		incoming[adj[e.Target].inStart+fill[e.Target]] = uint32(i)
		fill[e.Target]++
	}

	return &Store{
		pool:      b.pool.String(),
		nodes:     b.nodes,
		noteRefs:  b.noteRefs,
		metaPairs: b.metaPairs,
		edges:     b.edges,
		incoming:  incoming,
		adj:       adj,
		idSlots:   b.ids.freeze(),
	}
}

// idTable is the build-time id → index hash table: open addressing with
// linear probing, grown to keep the load factor at or below 0.75. freeze
// re-inserts every id in index order so the serialized slot array is a pure
// function of the declaration set.
type idTable struct {
	keys  []string
	slots []int32 // node index, -1 = empty
	used  int
}

func newIDTable(hint int) *idTable {
	cap := tableCapacity(hint)
	t := &idTable{slots: make([]int32, cap)}
	for i := range t.slots {
		t.slots[i] = -1
	}
	return t
}

// tableCapacity returns the smallest power of two holding n entries at a
// load factor of at most 0.75.
func tableCapacity(n int) int {
	cap := 8
	for cap*3 < n*4 {
		cap *= 2
	}
	return cap
}

func (t *idTable) lookup(id string) (uint32, bool) {
	mask := uint64(len(t.slots) - 1)
	for probe := hashID(id) & mask; ; probe = (probe + 1) & mask {
		idx := t.slots[probe]
		if idx < 0 {
			return 0, false
		}
		if t.keys[idx] == id {
			return uint32(idx), true
		}
	}
}

func (t *idTable) insert(id string, idx uint32) {
	t.keys = append(t.keys, id)
	if (t.used+1)*4 > len(t.slots)*3 {
		t.grow()
	}
	t.place(id, int32(idx))
	t.used++
}

func (t *idTable) place(id string, idx int32) {
	mask := uint64(len(t.slots) - 1)
	probe := hashID(id) & mask
	for t.slots[probe] >= 0 {
		probe = (probe + 1) & mask
	}
	t.slots[probe] = idx
}

func (t *idTable) grow() {
	old := t.slots
	t.slots = make([]int32, len(old)*2)
	for i := range t.slots {
		t.slots[i] = -1
	}
	for _, idx := range old {
		if idx >= 0 {
			t.place(t.keys[idx], idx)
		}
	}
}

// freeze produces the final slot array in the Store's on-disk convention
// (node index + 1, 0 = empty), rebuilt by inserting ids in index order so
// collision chains never depend on growth history.
func (t *idTable) freeze() []uint32 {
	cap := tableCapacity(len(t.keys))
	slots := make([]uint32, cap)
	mask := uint64(cap - 1)
	for idx, id := range t.keys {
		probe := hashID(id) & mask
		for slots[probe] != 0 {
			probe = (probe + 1) & mask
		}
		slots[probe] = uint32(idx) + 1
	}
	return slots
}
