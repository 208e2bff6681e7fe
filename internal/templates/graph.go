package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"workgraph/internal/repository"
)

// Graph labels and edge types of the template layer.
const (
	LabelSegment  = "BUSINESS_SEGMENT"
	LabelTask     = "TASK_TEMPLATE"
	LabelWorkflow = "WORKFLOW_TEMPLATE"
	EdgeUsedIn    = "USED_IN"
	EdgeDependsOn = "DEPENDS_ON"
)

// NodeID namespaces a template id by label so ids of different template kinds
// never collide in the shared graph.
func NodeID(label, id string) string {
	return label + ":" + id
}

// Publish validates bundle and writes it into the template layer of store in
// a single transaction. It is the ingestion path; the engine itself never
// writes templates.
func Publish(ctx context.Context, store repository.Store, bundle Bundle) (*Registry, error) {
	reg, err := New(bundle)
	if err != nil {
		return nil, err
	}
	b, err := bundle.normalize()
	if err != nil {
		return nil, err
	}
	err = store.InTx(ctx, func(tx repository.Tx) error {
		for _, s := range b.Segments {
			if err := createTemplateNode(ctx, tx, LabelSegment, s.ID, nil, s); err != nil {
				return err
			}
		}
		for _, t := range b.Tasks {
			props := map[string]string{"role": string(t.Role), "segment_id": t.SegmentID}
			if err := createTemplateNode(ctx, tx, LabelTask, t.ID, props, t); err != nil {
				return err
			}
		}
		for _, w := range reg.Workflows() {
			props := map[string]string{"segment_id": w.SegmentID, "complexity": string(w.Complexity)}
			if err := createTemplateNode(ctx, tx, LabelWorkflow, w.ID, props, w); err != nil {
				return err
			}
		}
		for _, u := range b.UsedIn {
			body, err := json.Marshal(u)
			if err != nil {
				return err
			}
			if err := tx.CreateEdge(ctx, repository.Edge{
				Type:  EdgeUsedIn,
				From:  NodeID(LabelTask, u.TaskID),
				To:    NodeID(LabelWorkflow, u.WorkflowID),
				Props: map[string]string{"sequence_position": string(u.Position), "priority": strconv.FormatFloat(u.Priority, 'f', -1, 64)},
				Body:  body,
			}); err != nil {
				return err
			}
		}
		for _, d := range b.DependsOn {
			body, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if err := tx.CreateEdge(ctx, repository.Edge{
				Type:  EdgeDependsOn,
				From:  NodeID(LabelTask, d.TaskID),
				To:    NodeID(LabelTask, d.DependsOnID),
				Props: map[string]string{"workflow_context": d.WorkflowContext, "dependency_type": string(d.Type)},
				Body:  body,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("templates: publish: %w", err)
	}
	return reg, nil
}

func createTemplateNode(ctx context.Context, tx repository.Tx, label, id string, props map[string]string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", label, id, err)
	}
	return tx.CreateNode(ctx, repository.Node{ID: NodeID(label, id), Label: label, Props: props, Body: body})
}

// Load reads the template layer from store and builds a validated Registry.
func Load(ctx context.Context, store repository.Store) (*Registry, error) {
	var b Bundle
	err := store.InTx(ctx, func(tx repository.Tx) error {
		if err := loadNodes(ctx, tx, LabelSegment, &b.Segments); err != nil {
			return err
		}
		if err := loadNodes(ctx, tx, LabelTask, &b.Tasks); err != nil {
			return err
		}
		if err := loadNodes(ctx, tx, LabelWorkflow, &b.Workflows); err != nil {
			return err
		}
		if err := loadEdges(ctx, tx, EdgeUsedIn, &b.UsedIn); err != nil {
			return err
		}
		return loadEdges(ctx, tx, EdgeDependsOn, &b.DependsOn)
	})
	if err != nil {
		return nil, fmt.Errorf("templates: load: %w", err)
	}
	return New(b)
}

func loadNodes[T any](ctx context.Context, tx repository.Tx, label string, out *[]T) error {
	nodes, err := tx.FindNodes(ctx, repository.NodeQuery{Label: label})
	if err != nil {
		return err
	}
	for _, n := range nodes {
		var v T
		if err := json.Unmarshal(n.Body, &v); err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", label, n.ID, err)
		}
		*out = append(*out, v)
	}
	return nil
}

func loadEdges[T any](ctx context.Context, tx repository.Tx, typ string, out *[]T) error {
	edges, err := tx.FindEdges(ctx, repository.EdgeQuery{Type: typ})
	if err != nil {
		return err
	}
	for _, e := range edges {
		var v T
		if err := json.Unmarshal(e.Body, &v); err != nil {
			return fmt.Errorf("failed to decode %s edge %s -> %s: %w", typ, e.From, e.To, err)
		}
		*out = append(*out, v)
	}
	return nil
}
