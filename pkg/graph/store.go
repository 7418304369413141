package graph

import (
	"strings"
)

// strRef locates an interned string inside the pool.
type strRef struct {
	off uint32
	n   uint32
}

// nodeEntry is the fixed-size node table row.
type nodeEntry struct {
	id         strRef
	content    strRef
	kind       Kind
	notesStart uint32
	notesCount uint32
	metaStart  uint32
	metaCount  uint32
}

// metaPair is one key/value entry of a node's metadata mapping.
type metaPair struct {
	key strRef
	val strRef
}

// adjEntry holds the half-open adjacency ranges of one node: outgoing into
// the edge table, incoming into the incoming permutation.
type adjEntry struct {
	outStart uint32
	outCount uint32
	inStart  uint32
	inCount  uint32
}

// Store is one immutable, built graph dataset.
//
// All strings live in a single interned pool; nodes and edges reference it by
// offset. A Store has no mutating methods: once Build returns, the snapshot
// can be shared by any number of concurrent readers with no locking, and its
// lifetime ends only when the whole store is replaced.
type Store struct {
	pool      string
	nodes     []nodeEntry
	noteRefs  []strRef
	metaPairs []metaPair

	// edges is the flat relation table, sorted by source index. incoming is
	// a permutation of edge indices sorted by target index; inverse edges
	// are synthesized at build time, so incoming order is edge-table order,
	// not declaration order.
	edges    []Edge
	incoming []uint32
	adj      []adjEntry

	// idSlots is the open-addressing id hash table. Slot values are node
	// index + 1 (0 marks an empty slot); len is a power of two sized for a
	// load factor of at most 0.75.
	idSlots []uint32
}

func (s *Store) str(r strRef) string {
	return s.pool[r.off : r.off+r.n]
}

// NodeCount returns the number of nodes in the store.
func (s *Store) NodeCount() int { return len(s.nodes) }

// EdgeCount returns the number of edges, synthesized inverses included.
func (s *Store) EdgeCount() int { return len(s.edges) }

// ID returns the globally unique id of the node at index i.
func (s *Store) ID(i uint32) string { return s.str(s.nodes[i].id) }

// Kind returns the kind tag of the node at index i.
func (s *Store) Kind(i uint32) Kind { return s.nodes[i].kind }

// Content returns the content text of the node at index i. The returned
// string is a view into the store's pool, not a copy.
func (s *Store) Content(i uint32) string { return s.str(s.nodes[i].content) }

// Notes returns the ordered note strings of the node at index i.
func (s *Store) Notes(i uint32) []string {
	n := s.nodes[i]
	if n.notesCount == 0 {
		return nil
	}
	out := make([]string, n.notesCount)
	for k := range out {
		out[k] = s.str(s.noteRefs[n.notesStart+uint32(k)])
	}
	return out
}

// Metadata looks up one metadata value by key for the node at index i.
func (s *Store) Metadata(i uint32, key string) (string, bool) {
	n := s.nodes[i]
	for k := uint32(0); k < n.metaCount; k++ {
		p := s.metaPairs[n.metaStart+k]
		if s.str(p.key) == key {
			return s.str(p.val), true
		}
	}
	return "", false
}

// MetadataKeys returns the metadata keys of the node at index i, in
// declaration order.
func (s *Store) MetadataKeys(i uint32) []string {
	n := s.nodes[i]
	if n.metaCount == 0 {
		return nil
	}
	out := make([]string, n.metaCount)
	for k := range out {
		out[k] = s.str(s.metaPairs[n.metaStart+uint32(k)].key)
	}
	return out
}

// Outgoing returns the outgoing edges of the node at index i as a view into
// the edge table. Order matches declaration order, with synthesized inverses
// appended after the node's own declarations.
func (s *Store) Outgoing(i uint32) []Edge {
	a := s.adj[i]
	return s.edges[a.outStart : a.outStart+a.outCount]
}

// IncomingCount returns the number of incoming edges of the node at index i.
func (s *Store) IncomingCount(i uint32) int {
	return int(s.adj[i].inCount)
}

// IncomingAt returns the k-th incoming edge of the node at index i, in
// edge-table order. The edge's Source field is the peer node.
func (s *Store) IncomingAt(i uint32, k int) Edge {
	a := s.adj[i]
	return s.edges[s.incoming[a.inStart+uint32(k)]]
}

// FindByID resolves a node id to its dense index via the hash table.
// Expected O(1); a miss returns ok=false rather than an error.
func (s *Store) FindByID(id string) (uint32, bool) {
	if len(s.idSlots) == 0 {
		return 0, false
	}
	mask := uint64(len(s.idSlots) - 1)
	h := hashID(id)
	for probe := h & mask; ; probe = (probe + 1) & mask {
		slot := s.idSlots[probe]
		if slot == 0 {
			return 0, false
		}
		idx := slot - 1
		if s.str(s.nodes[idx].id) == id {
			return idx, true
		}
	}
}

// ContentContains reports whether the content of the node at index i
// contains term, using case-insensitive substring matching.
func (s *Store) ContentContains(i uint32, term string) bool {
	return strings.Contains(strings.ToLower(s.Content(i)), strings.ToLower(term))
}

// hashID is FNV-1a 64. The layout pins the hash function: snapshots store
// the slot array verbatim, so probing must agree across builds and loads.
func hashID(id string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(id); i++ {
		h ^= uint64(id[i])
		h *= prime64
	}
	return h
}
