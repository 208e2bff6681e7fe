package repository

import (
	"context"
	"errors"
)

// ErrConflict is returned when a node id is created twice.
var ErrConflict = errors.New("already exists")

// Node is a labelled vertex of the property graph. Props holds the indexed,
// equality-matchable properties; Body is the full JSON document of the entity.
// Template-layer nodes have an empty TenantID.
type Node struct {
	ID       string
	Label    string
	TenantID string
	Props    map[string]string
	Body     []byte
	Version  int64
}

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	Type     string
	From     string
	To       string
	TenantID string
	Props    map[string]string
	Body     []byte
}

// NodeQuery selects nodes by label, owning tenant and property equality.
// TenantID is always applied; the empty string selects the template layer.
type NodeQuery struct {
	Label    string
	TenantID string
	Props    map[string]string
}

// EdgeQuery selects edges by type and optional endpoints/properties.
type EdgeQuery struct {
	Type     string
	From     string
	To       string
	TenantID string
	Props    map[string]string
}

// Guard makes an update conditional on the stored value of one property.
// A zero Guard updates unconditionally.
type Guard struct {
	Prop   string
	Expect string
}

// Store is the property-graph abstraction the engine runs against.
type Store interface {
	// InTx runs fn in a transaction. Writes become visible to other
	// transactions only if fn returns nil and the commit succeeds.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close()
}

// Tx is the set of graph operations available inside a transaction.
type Tx interface {
	CreateNode(ctx context.Context, node Node) error
	GetNode(ctx context.Context, id string) (Node, error)
	FindNodes(ctx context.Context, q NodeQuery) ([]Node, error)
	// UpdateNode replaces Props and Body of an existing node. A non-zero guard
	// that does not match the stored value fails with models.ErrStaleState.
	UpdateNode(ctx context.Context, node Node, guard Guard) error
	CreateEdge(ctx context.Context, edge Edge) error
	FindEdges(ctx context.Context, q EdgeQuery) ([]Edge, error)
}

func matchProps(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func cloneProps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
