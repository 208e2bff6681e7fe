package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"workgraph/pkg/models"
)

// MemoryGraphStore is an in-process Store. Transactions buffer their writes
// and validate guards at commit, so concurrent transactions never block each
// other while user code runs; only the commit itself is serialised.
type MemoryGraphStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges []Edge
}

// NewMemoryGraphStore creates an empty MemoryGraphStore.
func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{nodes: make(map[string]Node)}
}

// Ping always succeeds.
func (s *MemoryGraphStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *MemoryGraphStore) Close() {}

// InTx runs fn against a buffered transaction and commits it atomically.
func (s *MemoryGraphStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{store: s, overlay: make(map[string]Node)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

type memOpKind int

const (
	opCreate memOpKind = iota
	opUpdate
)

type memOp struct {
	kind  memOpKind
	node  Node
	guard Guard
}

type memTx struct {
	store   *MemoryGraphStore
	overlay map[string]Node
	ops     []memOp
	edges   []Edge
}

func (s *MemoryGraphStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]Node, len(tx.ops))
	current := func(id string) (Node, bool) {
		if n, ok := staged[id]; ok {
			return n, true
		}
		n, ok := s.nodes[id]
		return n, ok
	}
	for _, op := range tx.ops {
		switch op.kind {
		case opCreate:
			if _, exists := current(op.node.ID); exists {
				return fmt.Errorf("node %s: %w", op.node.ID, ErrConflict)
			}
			n := op.node
			n.Version = 1
			staged[n.ID] = n
		case opUpdate:
			cur, ok := current(op.node.ID)
			if !ok {
				return fmt.Errorf("node %s: %w", op.node.ID, models.ErrNotFound)
			}
			if op.guard.Prop != "" && cur.Props[op.guard.Prop] != op.guard.Expect {
				return fmt.Errorf("node %s %s=%q, expected %q: %w",
					cur.ID, op.guard.Prop, cur.Props[op.guard.Prop], op.guard.Expect, models.ErrStaleState)
			}
			cur.Props = cloneProps(op.node.Props)
			cur.Body = cloneBytes(op.node.Body)
			cur.Version++
			staged[cur.ID] = cur
		}
	}
	for id, n := range staged {
		s.nodes[id] = n
	}
	s.edges = append(s.edges, tx.edges...)
	return nil
}

func (tx *memTx) visible(id string) (Node, bool) {
	if n, ok := tx.overlay[id]; ok {
		return n, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	n, ok := tx.store.nodes[id]
	return n, ok
}

func (tx *memTx) CreateNode(ctx context.Context, node Node) error {
	if node.ID == "" || node.Label == "" {
		return fmt.Errorf("%w: node id and label are required", models.ErrInvalidInput)
	}
	if _, exists := tx.visible(node.ID); exists {
		return fmt.Errorf("node %s: %w", node.ID, ErrConflict)
	}
	n := Node{
		ID:       node.ID,
		Label:    node.Label,
		TenantID: node.TenantID,
		Props:    cloneProps(node.Props),
		Body:     cloneBytes(node.Body),
		Version:  1,
	}
	tx.overlay[n.ID] = n
	tx.ops = append(tx.ops, memOp{kind: opCreate, node: n})
	return nil
}

func (tx *memTx) GetNode(ctx context.Context, id string) (Node, error) {
	n, ok := tx.visible(id)
	if !ok {
		return Node{}, fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	return copyNode(n), nil
}

func (tx *memTx) FindNodes(ctx context.Context, q NodeQuery) ([]Node, error) {
	matches := make(map[string]Node)
	tx.store.mu.RLock()
	for id, n := range tx.store.nodes {
		if nodeMatches(n, q) {
			matches[id] = n
		}
	}
	tx.store.mu.RUnlock()
	for id, n := range tx.overlay {
		if nodeMatches(n, q) {
			matches[id] = n
		} else {
			delete(matches, id)
		}
	}
	out := make([]Node, 0, len(matches))
	for _, n := range matches {
		out = append(out, copyNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *memTx) UpdateNode(ctx context.Context, node Node, guard Guard) error {
	cur, ok := tx.visible(node.ID)
	if !ok {
		return fmt.Errorf("node %s: %w", node.ID, models.ErrNotFound)
	}
	if guard.Prop != "" && cur.Props[guard.Prop] != guard.Expect {
		return fmt.Errorf("node %s %s=%q, expected %q: %w",
			cur.ID, guard.Prop, cur.Props[guard.Prop], guard.Expect, models.ErrStaleState)
	}
	next := cur
	next.Props = cloneProps(node.Props)
	next.Body = cloneBytes(node.Body)
	next.Version = cur.Version + 1
	tx.overlay[next.ID] = next
	tx.ops = append(tx.ops, memOp{kind: opUpdate, node: next, guard: guard})
	return nil
}

func (tx *memTx) CreateEdge(ctx context.Context, edge Edge) error {
	if edge.Type == "" || edge.From == "" || edge.To == "" {
		return fmt.Errorf("%w: edge type and endpoints are required", models.ErrInvalidInput)
	}
	e := edge
	e.Props = cloneProps(edge.Props)
	e.Body = cloneBytes(edge.Body)
	tx.edges = append(tx.edges, e)
	return nil
}

func (tx *memTx) FindEdges(ctx context.Context, q EdgeQuery) ([]Edge, error) {
	var out []Edge
	tx.store.mu.RLock()
	for _, e := range tx.store.edges {
		if edgeMatches(e, q) {
			out = append(out, copyEdge(e))
		}
	}
	tx.store.mu.RUnlock()
	for _, e := range tx.edges {
		if edgeMatches(e, q) {
			out = append(out, copyEdge(e))
		}
	}
	return out, nil
}

func nodeMatches(n Node, q NodeQuery) bool {
	if q.Label != "" && n.Label != q.Label {
		return false
	}
	return n.TenantID == q.TenantID && matchProps(n.Props, q.Props)
}

func edgeMatches(e Edge, q EdgeQuery) bool {
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.From != "" && e.From != q.From {
		return false
	}
	if q.To != "" && e.To != q.To {
		return false
	}
	return e.TenantID == q.TenantID && matchProps(e.Props, q.Props)
}

func copyNode(n Node) Node {
	n.Props = cloneProps(n.Props)
	n.Body = cloneBytes(n.Body)
	return n
}

func copyEdge(e Edge) Edge {
	e.Props = cloneProps(e.Props)
	e.Body = cloneBytes(e.Body)
	return e
}
