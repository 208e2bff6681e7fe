package tenancy

import (
	"context"
	"encoding/json"
	"fmt"

	"workgraph/internal/repository"
	"workgraph/internal/templates"
	"workgraph/pkg/models"
)

// Instance-layer labels and edge types.
const (
	LabelWorkflowInstance = "WORKFLOW_INSTANCE"
	LabelTaskInstance     = "TASK_INSTANCE"
	LabelArtifact         = "WORK_ARTIFACT"

	// EdgeInstanceOf links an instance to the template it was created from.
	EdgeInstanceOf = "INSTANCE_OF"
	// EdgePartOf links a task instance to its workflow instance.
	EdgePartOf = "PART_OF"
	// EdgeProducedBy links an artifact to the task instance that produced it.
	EdgeProducedBy = "PRODUCED_BY"
)

const propStatus = "status"

// Partition is the tenant scope of the instance layer. The only way to obtain
// one is Directory.Partition, so a Partition always names a registered tenant.
type Partition struct {
	tenantID string
}

// TenantID returns the tenant the partition is bound to.
func (p Partition) TenantID() string { return p.tenantID }

// Bind scopes a transaction to the partition. Every method of the returned
// View injects the tenant filter and rejects entities owned by anyone else.
func (p Partition) Bind(tx repository.Tx) *View {
	return &View{tenantID: p.tenantID, tx: tx}
}

// View is a tenant-scoped handle on one transaction.
type View struct {
	tenantID string
	tx       repository.Tx
}

// TenantID returns the owning tenant of the view.
func (v *View) TenantID() string { return v.tenantID }

func nodeID(label, id string) string { return label + ":" + id }

func (v *View) checkBound() error {
	if v.tenantID == "" {
		return fmt.Errorf("unbound partition: %w", models.ErrTenantUnknown)
	}
	return nil
}

func (v *View) claim(owner string) error {
	if owner != "" && owner != v.tenantID {
		return fmt.Errorf("%w: tenant %s cannot act on data of tenant %s", models.ErrCrossTenantAccess, v.tenantID, owner)
	}
	return nil
}

// get loads an owned node by entity id. Nodes of another tenant fail with
// ErrCrossTenantAccess; unknown ids and nodes of another kind with ErrNotFound.
func (v *View) get(ctx context.Context, label, id string) (repository.Node, error) {
	if err := v.checkBound(); err != nil {
		return repository.Node{}, err
	}
	n, err := v.tx.GetNode(ctx, nodeID(label, id))
	if err != nil {
		return repository.Node{}, err
	}
	if n.Label != label {
		return repository.Node{}, fmt.Errorf("%s %s: %w", label, id, models.ErrNotFound)
	}
	if n.TenantID != v.tenantID {
		return repository.Node{}, fmt.Errorf("%w: %s %s belongs to another tenant", models.ErrCrossTenantAccess, label, id)
	}
	return n, nil
}

func (v *View) find(ctx context.Context, label string, props map[string]string) ([]repository.Node, error) {
	if err := v.checkBound(); err != nil {
		return nil, err
	}
	nodes, err := v.tx.FindNodes(ctx, repository.NodeQuery{Label: label, TenantID: v.tenantID, Props: props})
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.TenantID != v.tenantID {
			return nil, fmt.Errorf("%w: store returned %s %s of another tenant", models.ErrCrossTenantAccess, label, n.ID)
		}
	}
	return nodes, nil
}

// CreateWorkflow stores a new workflow instance owned by the partition.
func (v *View) CreateWorkflow(ctx context.Context, wf models.WorkflowInstance) error {
	if err := v.checkBound(); err != nil {
		return err
	}
	if err := v.claim(wf.TenantID); err != nil {
		return err
	}
	wf.TenantID = v.tenantID
	body, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	if err := v.tx.CreateNode(ctx, repository.Node{
		ID:       nodeID(LabelWorkflowInstance, wf.ID),
		Label:    LabelWorkflowInstance,
		TenantID: v.tenantID,
		Props:    workflowProps(wf),
		Body:     body,
	}); err != nil {
		return err
	}
	return v.tx.CreateEdge(ctx, repository.Edge{
		Type:     EdgeInstanceOf,
		From:     nodeID(LabelWorkflowInstance, wf.ID),
		To:       templates.NodeID(templates.LabelWorkflow, wf.TemplateID),
		TenantID: v.tenantID,
	})
}

// CreateTask stores a task instance. Its workflow must already be visible in
// the same partition.
func (v *View) CreateTask(ctx context.Context, t models.TaskInstance) error {
	if err := v.checkBound(); err != nil {
		return err
	}
	if err := v.claim(t.TenantID); err != nil {
		return err
	}
	if _, err := v.Workflow(ctx, t.WorkflowInstanceID); err != nil {
		return err
	}
	t.TenantID = v.tenantID
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := v.tx.CreateNode(ctx, repository.Node{
		ID:       nodeID(LabelTaskInstance, t.ID),
		Label:    LabelTaskInstance,
		TenantID: v.tenantID,
		Props:    taskProps(t),
		Body:     body,
	}); err != nil {
		return err
	}
	if err := v.tx.CreateEdge(ctx, repository.Edge{
		Type:     EdgePartOf,
		From:     nodeID(LabelTaskInstance, t.ID),
		To:       nodeID(LabelWorkflowInstance, t.WorkflowInstanceID),
		TenantID: v.tenantID,
	}); err != nil {
		return err
	}
	return v.tx.CreateEdge(ctx, repository.Edge{
		Type:     EdgeInstanceOf,
		From:     nodeID(LabelTaskInstance, t.ID),
		To:       templates.NodeID(templates.LabelTask, t.TemplateID),
		TenantID: v.tenantID,
	})
}

// CreateArtifact stores an artifact produced by a task of the partition.
func (v *View) CreateArtifact(ctx context.Context, a models.WorkArtifact) error {
	if err := v.checkBound(); err != nil {
		return err
	}
	if err := v.claim(a.TenantID); err != nil {
		return err
	}
	if _, err := v.Task(ctx, a.TaskInstanceID); err != nil {
		return err
	}
	a.TenantID = v.tenantID
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := v.tx.CreateNode(ctx, repository.Node{
		ID:       nodeID(LabelArtifact, a.ID),
		Label:    LabelArtifact,
		TenantID: v.tenantID,
		Props:    map[string]string{"task_instance_id": a.TaskInstanceID, "type": a.Type},
		Body:     body,
	}); err != nil {
		return err
	}
	return v.tx.CreateEdge(ctx, repository.Edge{
		Type:     EdgeProducedBy,
		From:     nodeID(LabelArtifact, a.ID),
		To:       nodeID(LabelTaskInstance, a.TaskInstanceID),
		TenantID: v.tenantID,
	})
}

// Workflow reads one workflow instance.
func (v *View) Workflow(ctx context.Context, id string) (models.WorkflowInstance, error) {
	n, err := v.get(ctx, LabelWorkflowInstance, id)
	if err != nil {
		return models.WorkflowInstance{}, err
	}
	return decode[models.WorkflowInstance](n)
}

// Workflows lists the partition's workflow instances, optionally filtered by
// status.
func (v *View) Workflows(ctx context.Context, status models.WorkflowStatus) ([]models.WorkflowInstance, error) {
	var props map[string]string
	if status != "" {
		props = map[string]string{propStatus: string(status)}
	}
	nodes, err := v.find(ctx, LabelWorkflowInstance, props)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.WorkflowInstance](nodes)
}

// Task reads one task instance.
func (v *View) Task(ctx context.Context, id string) (models.TaskInstance, error) {
	n, err := v.get(ctx, LabelTaskInstance, id)
	if err != nil {
		return models.TaskInstance{}, err
	}
	return decode[models.TaskInstance](n)
}

// Tasks lists the task instances of a workflow instance of the partition.
func (v *View) Tasks(ctx context.Context, workflowID string) ([]models.TaskInstance, error) {
	if _, err := v.Workflow(ctx, workflowID); err != nil {
		return nil, err
	}
	nodes, err := v.find(ctx, LabelTaskInstance, map[string]string{"workflow_instance_id": workflowID})
	if err != nil {
		return nil, err
	}
	return decodeAll[models.TaskInstance](nodes)
}

// TasksByStatus lists the partition's task instances in status, optionally
// narrowed to one assigned role.
func (v *View) TasksByStatus(ctx context.Context, status models.TaskStatus, role models.Role) ([]models.TaskInstance, error) {
	props := map[string]string{propStatus: string(status)}
	if role != "" {
		props["role"] = string(role)
	}
	nodes, err := v.find(ctx, LabelTaskInstance, props)
	if err != nil {
		return nil, err
	}
	return decodeAll[models.TaskInstance](nodes)
}

// TaskWorkflow follows a task instance to its workflow instance.
func (v *View) TaskWorkflow(ctx context.Context, taskID string) (models.WorkflowInstance, error) {
	t, err := v.Task(ctx, taskID)
	if err != nil {
		return models.WorkflowInstance{}, err
	}
	return v.Workflow(ctx, t.WorkflowInstanceID)
}

// Artifacts lists the artifacts produced by a task instance of the partition.
func (v *View) Artifacts(ctx context.Context, taskID string) ([]models.WorkArtifact, error) {
	if _, err := v.Task(ctx, taskID); err != nil {
		return nil, err
	}
	nodes, err := v.find(ctx, LabelArtifact, map[string]string{"task_instance_id": taskID})
	if err != nil {
		return nil, err
	}
	return decodeAll[models.WorkArtifact](nodes)
}

// UpdateWorkflow writes wf if its stored status still equals expect.
func (v *View) UpdateWorkflow(ctx context.Context, wf models.WorkflowInstance, expect models.WorkflowStatus) error {
	n, err := v.get(ctx, LabelWorkflowInstance, wf.ID)
	if err != nil {
		return err
	}
	if err := v.claim(wf.TenantID); err != nil {
		return err
	}
	wf.TenantID = v.tenantID
	body, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	n.Props = workflowProps(wf)
	n.Body = body
	return v.tx.UpdateNode(ctx, n, repository.Guard{Prop: propStatus, Expect: string(expect)})
}

// UpdateTask writes t if its stored status still equals expect.
func (v *View) UpdateTask(ctx context.Context, t models.TaskInstance, expect models.TaskStatus) error {
	n, err := v.get(ctx, LabelTaskInstance, t.ID)
	if err != nil {
		return err
	}
	if err := v.claim(t.TenantID); err != nil {
		return err
	}
	t.TenantID = v.tenantID
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	n.Props = taskProps(t)
	n.Body = body
	return v.tx.UpdateNode(ctx, n, repository.Guard{Prop: propStatus, Expect: string(expect)})
}

func workflowProps(wf models.WorkflowInstance) map[string]string {
	return map[string]string{propStatus: string(wf.Status), "template_id": wf.TemplateID}
}

func taskProps(t models.TaskInstance) map[string]string {
	return map[string]string{
		propStatus:             string(t.Status),
		"template_id":          t.TemplateID,
		"workflow_instance_id": t.WorkflowInstanceID,
		"role":                 string(t.AssignedRole),
	}
}

func decode[T any](n repository.Node) (T, error) {
	var v T
	if err := json.Unmarshal(n.Body, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", n.ID, err)
	}
	return v, nil
}

func decodeAll[T any](nodes []repository.Node) ([]T, error) {
	out := make([]T, 0, len(nodes))
	for _, n := range nodes {
		v, err := decode[T](n)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
