package engine

import (
	"context"
	"errors"
	"time"

	"workgraph/internal/tenancy"
	"workgraph/pkg/models"
)

// Resolver decides task readiness by projecting the template dependency graph
// of a workflow onto the instance state of its tasks.
//
// A Hard dependency is met when the prerequisite task is Completed. A Soft
// dependency is also met once the prerequisite has been InProgress for at
// least the maturity threshold. A task without prerequisites is ready as soon
// as its workflow is Active.
type Resolver struct {
	m        *Manager
	maturity time.Duration
}

// Maturity returns the Soft dependency threshold.
func (r *Resolver) Maturity() time.Duration { return r.maturity }

// IsReady reports whether a task's workflow is Active and every prerequisite
// of the task is satisfied.
func (r *Resolver) IsReady(ctx context.Context, tenantID, taskID string) (bool, error) {
	var ready bool
	err := r.m.view(ctx, tenantID, func(v *tenancy.View) error {
		task, err := v.Task(ctx, taskID)
		if err != nil {
			return err
		}
		wf, err := v.Workflow(ctx, task.WorkflowInstanceID)
		if err != nil {
			return err
		}
		siblings, err := v.Tasks(ctx, wf.ID)
		if err != nil {
			return err
		}
		ready = r.satisfied(wf, task, byTemplate(siblings))
		return nil
	})
	return ready, err
}

// Recompute readies every Pending task of an Active workflow whose
// prerequisites are now satisfied and returns their ids in dispatch order.
// It only ever acts on Pending tasks, so repeated or overlapping calls
// converge on the same result. Workflows that are not Active are left alone.
func (r *Resolver) Recompute(ctx context.Context, tenantID, workflowID string) ([]string, error) {
	return r.promote(ctx, tenantID, workflowID, nil)
}

func (r *Resolver) satisfied(wf models.WorkflowInstance, task models.TaskInstance, siblings map[string]models.TaskInstance) bool {
	if wf.Status != models.WorkflowActive {
		return false
	}
	now := r.m.now()
	for _, d := range r.m.registry.Prerequisites(wf.TemplateID, task.TemplateID) {
		pred, ok := siblings[d.DependsOnID]
		if !ok {
			return false
		}
		if pred.Status == models.TaskCompleted {
			continue
		}
		if d.Type == models.DependencySoft && pred.Status == models.TaskInProgress &&
			pred.StartedAt != nil && now.Sub(*pred.StartedAt) >= r.maturity {
			continue
		}
		return false
	}
	return true
}

// promote readies the satisfied Pending tasks of a workflow. A non-nil only
// restricts evaluation to those task template ids. Every promotion is its
// own compare-and-set from Pending, so a task is readied at most once no
// matter how many promotions race.
func (r *Resolver) promote(ctx context.Context, tenantID, workflowID string, only map[string]bool) ([]string, error) {
	if only != nil && len(only) == 0 {
		return nil, nil
	}
	var (
		wf         models.WorkflowInstance
		candidates []models.TaskInstance
	)
	err := r.m.view(ctx, tenantID, func(v *tenancy.View) error {
		var err error
		if wf, err = v.Workflow(ctx, workflowID); err != nil {
			return err
		}
		if wf.Status != models.WorkflowActive {
			return nil
		}
		tasks, err := v.Tasks(ctx, workflowID)
		if err != nil {
			return err
		}
		siblings := byTemplate(tasks)
		for _, t := range tasks {
			if t.Status != models.TaskPending || (only != nil && !only[t.TemplateID]) {
				continue
			}
			if r.satisfied(wf, t, siblings) {
				candidates = append(candidates, t)
			}
		}
		return nil
	})
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	var promoted []models.TaskInstance
	for _, t := range candidates {
		t.Status = models.TaskReady
		err = r.m.view(ctx, tenantID, func(v *tenancy.View) error {
			return v.UpdateTask(ctx, t, models.TaskPending)
		})
		if errors.Is(err, models.ErrStaleState) {
			r.m.metrics.StaleConflict(ctx, tenantID)
			err = nil
			continue
		}
		if err != nil {
			break
		}
		r.m.metrics.TaskTransitioned(ctx, tenantID, string(models.TaskPending), string(models.TaskReady))
		promoted = append(promoted, t)
	}

	if len(promoted) > 0 {
		r.m.sortForDispatch(wf, promoted)
		r.m.notifier.OnReady(ctx, wf, promoted)
		r.m.logger.Debug("tasks ready", "tenant_id", tenantID, "workflow_instance_id", workflowID, "count", len(promoted))
	}
	ids := make([]string, len(promoted))
	for i, t := range promoted {
		ids[i] = t.ID
	}
	return ids, err
}
