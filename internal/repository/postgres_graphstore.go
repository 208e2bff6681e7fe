package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"workgraph/pkg/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS graph_nodes (
	id        TEXT PRIMARY KEY,
	label     TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	props     JSONB NOT NULL DEFAULT '{}',
	body      JSONB NOT NULL DEFAULT '{}',
	version   BIGINT NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS graph_nodes_label_tenant_idx ON graph_nodes (label, tenant_id);
CREATE INDEX IF NOT EXISTS graph_nodes_props_idx ON graph_nodes USING GIN (props);
CREATE TABLE IF NOT EXISTS graph_edges (
	seq       BIGSERIAL PRIMARY KEY,
	type      TEXT NOT NULL,
	from_id   TEXT NOT NULL,
	to_id     TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	props     JSONB NOT NULL DEFAULT '{}',
	body      JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS graph_edges_from_idx ON graph_edges (type, from_id, tenant_id);
CREATE INDEX IF NOT EXISTS graph_edges_to_idx ON graph_edges (type, to_id, tenant_id);
`

const uniqueViolation = "23505"

// PostgresGraphStore is a PostgreSQL implementation of the Store interface.
// Nodes and edges live in two tables with JSONB property columns.
type PostgresGraphStore struct {
	db *pgxpool.Pool
}

// NewPostgresGraphStore creates a new PostgresGraphStore.
func NewPostgresGraphStore(db *pgxpool.Pool) *PostgresGraphStore {
	return &PostgresGraphStore{db: db}
}

// Migrate creates the graph tables if they do not exist.
func (s *PostgresGraphStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to migrate graph schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresGraphStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresGraphStore) Close() {
	s.db.Close()
}

// InTx runs fn inside a READ COMMITTED transaction. Guarded updates are
// conditional UPDATE statements, so they stay atomic per row.
func (s *PostgresGraphStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.db, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CreateNode(ctx context.Context, node Node) error {
	if node.ID == "" || node.Label == "" {
		return fmt.Errorf("%w: node id and label are required", models.ErrInvalidInput)
	}
	props, err := json.Marshal(nonNilProps(node.Props))
	if err != nil {
		return fmt.Errorf("failed to marshal props: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		"INSERT INTO graph_nodes (id, label, tenant_id, props, body, version) VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, 1)",
		node.ID, node.Label, node.TenantID, props, bodyOrEmpty(node.Body))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("node %s: %w", node.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert node %s: %w", node.ID, err)
	}
	return nil
}

func (t *pgTx) GetNode(ctx context.Context, id string) (Node, error) {
	row := t.tx.QueryRow(ctx, "SELECT id, label, tenant_id, props, body, version FROM graph_nodes WHERE id = $1", id)
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	return n, err
}

func (t *pgTx) FindNodes(ctx context.Context, q NodeQuery) ([]Node, error) {
	props, err := json.Marshal(nonNilProps(q.Props))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}
	sql := "SELECT id, label, tenant_id, props, body, version FROM graph_nodes WHERE tenant_id = $1 AND props @> $2::jsonb"
	args := []any{q.TenantID, props}
	if q.Label != "" {
		sql += " AND label = $3"
		args = append(args, q.Label)
	}
	sql += " ORDER BY id"
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (t *pgTx) UpdateNode(ctx context.Context, node Node, guard Guard) error {
	props, err := json.Marshal(nonNilProps(node.Props))
	if err != nil {
		return fmt.Errorf("failed to marshal props: %w", err)
	}
	sql := "UPDATE graph_nodes SET props = $2::jsonb, body = $3::jsonb, version = version + 1 WHERE id = $1"
	args := []any{node.ID, props, bodyOrEmpty(node.Body)}
	if guard.Prop != "" {
		sql += " AND props->>$4 = $5"
		args = append(args, guard.Prop, guard.Expect)
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", node.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM graph_nodes WHERE id = $1)", node.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check node %s: %w", node.ID, err)
	}
	if !exists {
		return fmt.Errorf("node %s: %w", node.ID, models.ErrNotFound)
	}
	return fmt.Errorf("node %s %s != %q: %w", node.ID, guard.Prop, guard.Expect, models.ErrStaleState)
}

func (t *pgTx) CreateEdge(ctx context.Context, edge Edge) error {
	if edge.Type == "" || edge.From == "" || edge.To == "" {
		return fmt.Errorf("%w: edge type and endpoints are required", models.ErrInvalidInput)
	}
	props, err := json.Marshal(nonNilProps(edge.Props))
	if err != nil {
		return fmt.Errorf("failed to marshal props: %w", err)
	}
	_, err = t.tx.Exec(ctx,
		"INSERT INTO graph_edges (type, from_id, to_id, tenant_id, props, body) VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)",
		edge.Type, edge.From, edge.To, edge.TenantID, props, bodyOrEmpty(edge.Body))
	if err != nil {
		return fmt.Errorf("failed to insert %s edge %s -> %s: %w", edge.Type, edge.From, edge.To, err)
	}
	return nil
}

func (t *pgTx) FindEdges(ctx context.Context, q EdgeQuery) ([]Edge, error) {
	props, err := json.Marshal(nonNilProps(q.Props))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}
	where := []string{"tenant_id = $1", "props @> $2::jsonb"}
	args := []any{q.TenantID, props}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("type", q.Type)
	add("from_id", q.From)
	add("to_id", q.To)

	rows, err := t.tx.Query(ctx,
		"SELECT type, from_id, to_id, tenant_id, props, body FROM graph_edges WHERE "+strings.Join(where, " AND ")+" ORDER BY seq",
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var rawProps []byte
		if err := rows.Scan(&e.Type, &e.From, &e.To, &e.TenantID, &rawProps, &e.Body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(rawProps, &e.Props); err != nil {
			return nil, fmt.Errorf("failed to decode edge props: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func scanNode(row pgx.Row) (Node, error) {
	var n Node
	var rawProps []byte
	if err := row.Scan(&n.ID, &n.Label, &n.TenantID, &rawProps, &n.Body, &n.Version); err != nil {
		return Node{}, err
	}
	if err := json.Unmarshal(rawProps, &n.Props); err != nil {
		return Node{}, fmt.Errorf("failed to decode node props: %w", err)
	}
	return n, nil
}

func nonNilProps(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return p
}

func bodyOrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
