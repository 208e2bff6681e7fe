package engine

import (
	"context"
	"sort"

	"workgraph/internal/tenancy"
	"workgraph/pkg/models"
)

// WorkflowView is a workflow instance with its task instances in dispatch
// order.
type WorkflowView struct {
	models.WorkflowInstance
	Tasks []models.TaskInstance `json:"tasks"`
}

// Workflow reads one workflow instance and its tasks.
func (m *Manager) Workflow(ctx context.Context, tenantID, workflowID string) (WorkflowView, error) {
	var out WorkflowView
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		wf, err := v.Workflow(ctx, workflowID)
		if err != nil {
			return err
		}
		tasks, err := v.Tasks(ctx, workflowID)
		if err != nil {
			return err
		}
		m.sortForDispatch(wf, tasks)
		out = WorkflowView{WorkflowInstance: wf, Tasks: tasks}
		return nil
	})
	return out, err
}

// Workflows lists a tenant's workflow instances, optionally by status.
func (m *Manager) Workflows(ctx context.Context, tenantID string, status models.WorkflowStatus) ([]models.WorkflowInstance, error) {
	var out []models.WorkflowInstance
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		var err error
		out, err = v.Workflows(ctx, status)
		return err
	})
	return out, err
}

// Task reads one task instance.
func (m *Manager) Task(ctx context.Context, tenantID, taskID string) (models.TaskInstance, error) {
	var out models.TaskInstance
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		var err error
		out, err = v.Task(ctx, taskID)
		return err
	})
	return out, err
}

// ReadyTasks lists a tenant's Ready tasks, optionally for one role. This is
// the default work queue an agent polls: workflows oldest first, and tasks
// within a workflow in the order their readiness events are delivered.
func (m *Manager) ReadyTasks(ctx context.Context, tenantID string, role models.Role) ([]models.TaskInstance, error) {
	var out []models.TaskInstance
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		tasks, err := v.TasksByStatus(ctx, models.TaskReady, role)
		if err != nil {
			return err
		}
		groups := make(map[string][]models.TaskInstance)
		var wfs []models.WorkflowInstance
		for _, t := range tasks {
			if _, seen := groups[t.WorkflowInstanceID]; !seen {
				wf, err := v.Workflow(ctx, t.WorkflowInstanceID)
				if err != nil {
					return err
				}
				wfs = append(wfs, wf)
			}
			groups[t.WorkflowInstanceID] = append(groups[t.WorkflowInstanceID], t)
		}
		sort.Slice(wfs, func(i, j int) bool {
			if !wfs[i].CreatedAt.Equal(wfs[j].CreatedAt) {
				return wfs[i].CreatedAt.Before(wfs[j].CreatedAt)
			}
			return wfs[i].ID < wfs[j].ID
		})
		out = make([]models.TaskInstance, 0, len(tasks))
		for _, wf := range wfs {
			group := groups[wf.ID]
			m.sortForDispatch(wf, group)
			out = append(out, group...)
		}
		return nil
	})
	return out, err
}

// Artifacts lists the artifacts recorded for a task.
func (m *Manager) Artifacts(ctx context.Context, tenantID, taskID string) ([]models.WorkArtifact, error) {
	var out []models.WorkArtifact
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		var err error
		out, err = v.Artifacts(ctx, taskID)
		return err
	})
	return out, err
}
