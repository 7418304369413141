// Package federation presents one query/traversal surface over multiple
// independently built KartaDB stores, joined by globally unique node ids.
//
// Each partition is an immutable store; the only mutable shared state in
// the whole system is the Client's registry, guarded by a read/write mutex
// with single-flight collapse of concurrent partition loads. Partitions
// reference ids they do not own through placeholder nodes of kind extern
// (see graph.BuildOptions.AllowExternalTargets); a traversal crosses a
// partition boundary exactly when its frontier reaches such a reference.
package federation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/btree"
	"golang.org/x/sync/singleflight"

	"github.com/sanonone/kartadb/pkg/graph"
	"github.com/sanonone/kartadb/pkg/metrics"
	"github.com/sanonone/kartadb/pkg/query"
	"github.com/sanonone/kartadb/pkg/traverse"
)

var (
	// ErrDuplicateGlobalID means two partitions both claim ownership of the
	// same node id, which would break the federation's identity invariant.
	ErrDuplicateGlobalID = errors.New("node id owned by another partition")

	// ErrDuplicatePartition means Register was called twice for one key.
	ErrDuplicatePartition = errors.New("partition key already registered")
)

// PartitionLoadError reports a failed lazy load. Loads are never retried by
// the client; retry policy belongs to the caller.
type PartitionLoadError struct {
	Key string
	Err error
}

func (e *PartitionLoadError) Error() string {
	return fmt.Sprintf("loading partition %q: %v", e.Key, e.Err)
}

func (e *PartitionLoadError) Unwrap() error { return e.Err }

// RouterFunc maps a node id to the key of the partition that owns it.
// ok=false means no partition is known for the id.
type RouterFunc func(id string) (key string, ok bool)

// LoadFunc materializes a partition by key (typically snapshot I/O). It is
// the only operation in the serving path that may block.
type LoadFunc func(ctx context.Context, key string) (*graph.Store, error)

// Client is the partition federation client.
type Client struct {
	router RouterFunc
	loader LoadFunc
	flight singleflight.Group

	mu     sync.RWMutex
	parts  map[string]*graph.Store
	order  []string                   // registration order, for deterministic merges
	owners btree.Map[string, string] // owned node id -> partition key
}

// New creates a federation client. router and loader may be nil for a fully
// static federation where every partition is registered up front.
func New(router RouterFunc, loader LoadFunc) *Client {
	return &Client{
		router: router,
		loader: loader,
		parts:  make(map[string]*graph.Store),
	}
}

// Register adds a partition. Ownership is claimed for every node id in the
// store except extern placeholders, which are references into other
// partitions, not owned identities. A collision with an already registered
// partition fails with ErrDuplicateGlobalID and registers nothing.
func (c *Client) Register(key string, st *graph.Store) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerLocked(key, st)
}

func (c *Client) registerLocked(key string, st *graph.Store) error {
	if _, exists := c.parts[key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicatePartition, key)
	}

	count := uint32(st.NodeCount())
	for i := uint32(0); i < count; i++ {
		if st.Kind(i) == graph.KindExtern {
			continue
		}
		if owner, taken := c.owners.Get(st.ID(i)); taken {
			return fmt.Errorf("%w: %q (partitions %q, %q)", ErrDuplicateGlobalID, st.ID(i), owner, key)
		}
	}
	for i := uint32(0); i < count; i++ {
		if st.Kind(i) != graph.KindExtern {
			c.owners.Set(st.ID(i), key)
		}
	}

	c.parts[key] = st
	c.order = append(c.order, key)
	metrics.PartitionsLoaded.Inc()
	return nil
}

// Unload drops a partition and every ownership entry pointing at it.
// Cached cross-references into the partition become stale; the next
// traversal crossing triggers a fresh load through the loader.
func (c *Client) Unload(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.parts[key]; !ok {
		return
	}
	delete(c.parts, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	var stale []string
	c.owners.Scan(func(id, owner string) bool {
		if owner == key {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		c.owners.Delete(id)
	}
	metrics.PartitionsLoaded.Dec()
}

// Loaded reports whether the partition with the given key is currently
// registered.
func (c *Client) Loaded(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.parts[key]
	return ok
}

// Keys returns the registered partition keys in registration order.
func (c *Client) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Partition returns the store registered under key, if loaded.
func (c *Client) Partition(key string) (*graph.Store, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.parts[key]
	return st, ok
}

// ownerOf looks up the partition owning id in the global directory.
func (c *Client) ownerOf(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owners.Get(id)
}

// snapshot returns the loaded partitions in registration order.
func (c *Client) snapshot() []namedStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]namedStore, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, namedStore{key: key, st: c.parts[key]})
	}
	return out
}

type namedStore struct {
	key string
	st  *graph.Store
}

// ensure routes id to its owning partition and lazily loads it if needed.
// Concurrent loads of the same key collapse into one in-flight load.
// The router may guess (static file-backed setups cannot know ownership
// without opening a partition), so after every load the ownership
// directory is re-checked and the router consulted again until it either
// resolves or runs out of proposals. Returns ok=false when no partition is
// known for the id.
func (c *Client) ensure(ctx context.Context, id string) (string, bool, error) {
	for {
		c.mu.RLock()
		owner, known := c.owners.Get(id)
		c.mu.RUnlock()
		if known {
			return owner, true, nil
		}

		if c.router == nil || c.loader == nil {
			return "", false, nil
		}
		key, ok := c.router(id)
		if !ok {
			return "", false, nil
		}
		if c.Loaded(key) {
			// Already loaded and still not owning id: nothing left to try
			// for this proposal; a router that keeps proposing loaded
			// partitions has no answer.
			return "", false, nil
		}

		if err := c.load(ctx, key); err != nil {
			return "", false, err
		}
	}
}

// load fetches and registers one partition, collapsing concurrent loads of
// the same key into a single in-flight call.
func (c *Client) load(ctx context.Context, key string) error {
	_, err, _ := c.flight.Do(key, func() (any, error) {
		st, err := c.loader(ctx, key)
		if err != nil {
			metrics.PartitionLoadFailures.Inc()
			return nil, &PartitionLoadError{Key: key, Err: err}
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, raced := c.parts[key]; raced {
			return nil, nil
		}
		return nil, c.registerLocked(key, st)
	})
	return err
}

// Result is one federated query row.
type Result struct {
	Partition string     `json:"partition"`
	Node      query.Node `json:"node"`
}

// Query broadcasts the request to every registered partition and merges the
// per-partition sequences under the caller's requested order. Each id is
// reported by its owning partition only, so the merged set stays
// duplicate-free even though partitions hold extern placeholders for the
// foreign ids they reference.
func (c *Client) Query(ctx context.Context, req query.Request) ([]Result, error) {
	var orderKey func(*graph.Store, uint32) string
	if req.Order != nil {
		f, err := query.OrderKeyFunc(req.Order.Field)
		if err != nil {
			return nil, err
		}
		orderKey = f
	}

	// Order and limit apply to the merged sequence, not per partition.
	sub := req
	sub.Order = nil
	sub.Limit = 0

	type row struct {
		res Result
		key string // merge sort key
	}
	var rows []row
	for _, p := range c.snapshot() {
		nodes, err := query.Run(ctx, p.st, sub)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			// A scan sees this partition's extern placeholders too; those
			// ids belong to (and are reported by) their owning partition.
			if owner, known := c.ownerOf(p.st.ID(n.Index)); !known || owner != p.key {
				continue
			}
			r := row{res: Result{Partition: p.key, Node: n}}
			if orderKey != nil {
				r.key = orderKey(p.st, n.Index)
			}
			rows = append(rows, r)
		}
	}

	if orderKey != nil {
		desc := req.Order.Desc
		sort.SliceStable(rows, func(a, b int) bool {
			if desc {
				return rows[a].key > rows[b].key
			}
			return rows[a].key < rows[b].key
		})
	}
	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}

	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = r.res
	}
	return out, nil
}

// Visit is one node reached by a federated traversal.
type Visit struct {
	Partition string `json:"partition"`
	ID        string `json:"id"`
	Depth     int    `json:"depth"`
}

// Traverse runs a breadth-first walk that transparently crosses partition
// boundaries. The frontier works over global ids: at every step the node's
// owning partition is resolved (and lazily loaded) before expansion, and
// the node is expanded in every loaded partition that knows the id, so
// synthesized inverse edges on extern placeholders make incoming traversal
// work across boundaries too. Ties inside one depth level break by
// ascending id, the federation's analogue of the single-store index order.
func (c *Client) Traverse(ctx context.Context, req traverse.Request) ([]Visit, error) {
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
		dir = traverse.DirOutgoing
	}
	switch dir {
	case traverse.DirOutgoing, traverse.DirIncoming, traverse.DirBoth:
	default:
		return nil, fmt.Errorf("%w: %q", traverse.ErrBadDirection, req.Direction)
	}

	owner, known, err := c.ensure(ctx, req.Start)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", graph.ErrUnknownStartNode, req.Start)
	}

	maxDepth := -1
	if req.MaxDepth != nil {
		if *req.MaxDepth < 0 {
			return nil, fmt.Errorf("depth must be non-negative, got %d", *req.MaxDepth)
		}
		maxDepth = *req.MaxDepth
	}

	visited := map[string]struct{}{req.Start: {}}
	result := []Visit{{Partition: owner, ID: req.Start, Depth: 0}}
	frontier := []string{req.Start}

	for depth := 1; (maxDepth < 0 || depth <= maxDepth) && len(frontier) > 0; depth++ {
		if req.Limit > 0 && len(result) >= req.Limit {
			break
		}

		nextSet := make(map[string]struct{})
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			// Crossing point: make sure the owning partition of the
			// frontier id is loaded before expanding it anywhere.
			if _, _, err := c.ensure(ctx, id); err != nil {
				return nil, err
			}
			for _, p := range c.snapshot() {
				idx, ok := p.st.FindByID(id)
				if !ok {
					continue
				}
				expandStore(p.st, idx, dir, relFilter, func(peer uint32) {
					peerID := p.st.ID(peer)
					if _, seen := visited[peerID]; !seen {
						nextSet[peerID] = struct{}{}
					}
				})
			}
		}

		next := make([]string, 0, len(nextSet))
		for id := range nextSet {
			next = append(next, id)
		}
		sort.Strings(next)

		for _, id := range next {
			visited[id] = struct{}{}
			part, known, err := c.ensure(ctx, id)
			if err != nil {
				return nil, err
			}
			if !known {
				// No partition claims the id: the reference stays a
				// dangling extern and is reported from where it was seen.
				part = partitionSeeing(c, id)
			}
			result = append(result, Visit{Partition: part, ID: id, Depth: depth})
		}
		frontier = next
	}

	if req.Limit > 0 && len(result) > req.Limit {
		result = result[:req.Limit]
	}
	return result, nil
}

func partitionSeeing(c *Client, id string) string {
	for _, p := range c.snapshot() {
		if _, ok := p.st.FindByID(id); ok {
			return p.key
		}
	}
	return ""
}

func expandStore(st *graph.Store, idx uint32, dir traverse.Direction, relFilter *graph.RelationType, visit func(uint32)) {
	if dir == traverse.DirOutgoing || dir == traverse.DirBoth {
		for _, e := range st.Outgoing(idx) {
			if relFilter == nil || e.Type == *relFilter {
				visit(e.Target)
			}
		}
	}
	if dir == traverse.DirIncoming || dir == traverse.DirBoth {
		n := st.IncomingCount(idx)
		for k := 0; k < n; k++ {
			e := st.IncomingAt(idx, k)
			if relFilter == nil || e.Type == *relFilter {
				visit(e.Source)
			}
		}
	}
}
