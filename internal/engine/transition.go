package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"workgraph/internal/repository"
	"workgraph/internal/templates"
	"workgraph/internal/tenancy"
	"workgraph/pkg/models"
)

// TransitionTask moves a task from the status the caller last observed to
// target. A task that already left from fails with ErrStaleState and the
// caller must re-read; a move the state machine forbids, or any move out of a
// terminal status, fails with ErrInvalidTransition. Moving to Ready is only
// accepted when the task's prerequisites are satisfied.
func (m *Manager) TransitionTask(ctx context.Context, tenantID, taskID string, from, to models.TaskStatus) (models.TaskInstance, error) {
	var (
		task models.TaskInstance
		wf   models.WorkflowInstance
	)
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		cur, err := v.Task(ctx, taskID)
		if err != nil {
			return err
		}
		if cur.Status.IsTerminal() || !models.CanTransitionTask(from, to) {
			return &models.TransitionError{Entity: "task", ID: taskID, From: string(cur.Status), To: string(to)}
		}
		if cur.Status != from {
			return fmt.Errorf("task %s is %s, expected %s: %w", taskID, cur.Status, from, models.ErrStaleState)
		}
		if wf, err = v.Workflow(ctx, cur.WorkflowInstanceID); err != nil {
			return err
		}
		if needsActive(to) && wf.Status != models.WorkflowActive {
			return &models.TransitionError{Entity: "task", ID: taskID, From: string(from), To: string(to),
				Reason: "workflow is " + string(wf.Status)}
		}
		if to == models.TaskReady {
			siblings, err := v.Tasks(ctx, wf.ID)
			if err != nil {
				return err
			}
			if !m.resolver.satisfied(wf, cur, byTemplate(siblings)) {
				return &models.TransitionError{Entity: "task", ID: taskID, From: string(from), To: string(to),
					Reason: "prerequisites not satisfied"}
			}
		}

		task = cur
		task.Status = to
		now := m.now().UTC()
		switch to {
		case models.TaskInProgress:
			task.StartedAt = &now
		case models.TaskCompleted, models.TaskCancelled:
			task.CompletedAt = &now
		}
		return v.UpdateTask(ctx, task, from)
	})
	if err != nil {
		return models.TaskInstance{}, m.staleAware(ctx, tenantID, err)
	}
	m.metrics.TaskTransitioned(ctx, tenantID, string(from), string(to))
	m.logger.Debug("task transitioned", "tenant_id", tenantID, "task_instance_id", taskID, "from", from, "to", to)

	m.afterTransition(ctx, wf, task)
	return task, nil
}

func needsActive(to models.TaskStatus) bool {
	switch to {
	case models.TaskReady, models.TaskInProgress, models.TaskCompleted:
		return true
	}
	return false
}

// afterTransition runs the follow-up work of a committed transition. Failures
// here never undo the transition; they are logged and a later Recompute or
// sweep converges the workflow.
func (m *Manager) afterTransition(ctx context.Context, wf models.WorkflowInstance, task models.TaskInstance) {
	var err error
	switch task.Status {
	case models.TaskReady:
		m.notifier.OnReady(ctx, wf, []models.TaskInstance{task})
	case models.TaskInProgress:
		// A zero or elapsed maturity threshold lets Soft dependents move now.
		_, err = m.resolver.promote(ctx, wf.TenantID, wf.ID, m.dependentTemplates(wf.TemplateID, task.TemplateID))
	case models.TaskCompleted:
		// Dependents are re-evaluated before completion is announced.
		_, err = m.resolver.promote(ctx, wf.TenantID, wf.ID, m.dependentTemplates(wf.TemplateID, task.TemplateID))
		m.notifier.OnCompleted(ctx, wf, task)
		if err == nil {
			err = m.completeIfDone(ctx, wf.TenantID, wf.ID)
		}
	case models.TaskCancelled:
		// Cancelling the last open task can finish the workflow.
		err = m.completeIfDone(ctx, wf.TenantID, wf.ID)
	case models.TaskBlocked:
		err = m.propagateBlocked(ctx, wf, task)
	}
	if err != nil {
		m.logger.Warn("post-transition processing failed", "tenant_id", wf.TenantID,
			"workflow_instance_id", wf.ID, "task_instance_id", task.ID, "error", err)
	}
}

func (m *Manager) dependentTemplates(workflowTemplateID, taskTemplateID string) map[string]bool {
	out := make(map[string]bool)
	for _, d := range m.registry.Dependents(workflowTemplateID, taskTemplateID) {
		out[d.TaskID] = true
	}
	return out
}

// completeIfDone moves an Active workflow to Completed once every task in it
// is terminal and at least one completed.
func (m *Manager) completeIfDone(ctx context.Context, tenantID, workflowID string) error {
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		wf, err := v.Workflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if wf.Status != models.WorkflowActive {
			return nil
		}
		tasks, err := v.Tasks(ctx, workflowID)
		if err != nil {
			return err
		}
		completed := 0
		for _, t := range tasks {
			if !t.Status.IsTerminal() {
				return nil
			}
			if t.Status == models.TaskCompleted {
				completed++
			}
		}
		if completed == 0 {
			return nil
		}
		now := m.now().UTC()
		wf.Status = models.WorkflowCompleted
		wf.CompletedAt = &now
		return v.UpdateWorkflow(ctx, wf, models.WorkflowActive)
	})
	if errors.Is(err, models.ErrStaleState) {
		// Someone else finished or cancelled it first.
		return nil
	}
	if err == nil {
		m.logger.Debug("workflow completion checked", "tenant_id", tenantID, "workflow_instance_id", workflowID)
	}
	return err
}

// propagateBlocked blocks every Pending task that transitively has a Hard
// dependency on the blocked task. Each write is its own compare-and-set; a
// task that moved meanwhile is left alone.
func (m *Manager) propagateBlocked(ctx context.Context, wf models.WorkflowInstance, blocked models.TaskInstance) error {
	reach := make(map[string]bool)
	queue := []string{blocked.TemplateID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range m.registry.Dependents(wf.TemplateID, cur) {
			if d.Type != models.DependencyHard || reach[d.TaskID] {
				continue
			}
			reach[d.TaskID] = true
			queue = append(queue, d.TaskID)
		}
	}
	if len(reach) == 0 {
		return nil
	}

	var targets []models.TaskInstance
	err := m.view(ctx, wf.TenantID, func(v *tenancy.View) error {
		tasks, err := v.Tasks(ctx, wf.ID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status == models.TaskPending && reach[t.TemplateID] {
				targets = append(targets, t)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, t := range targets {
		err := m.view(ctx, wf.TenantID, func(v *tenancy.View) error {
			t.Status = models.TaskBlocked
			return v.UpdateTask(ctx, t, models.TaskPending)
		})
		switch {
		case errors.Is(err, models.ErrStaleState):
			m.metrics.StaleConflict(ctx, wf.TenantID)
		case err != nil:
			return err
		default:
			m.metrics.TaskTransitioned(ctx, wf.TenantID, string(models.TaskPending), string(models.TaskBlocked))
		}
	}
	return nil
}

// RecordArtifact stores an artifact produced by a task. Versions count up
// per task and artifact type; two writers racing for the same version make
// the loser fail with ErrStaleState.
func (m *Manager) RecordArtifact(ctx context.Context, tenantID, taskID string, a models.WorkArtifact) (models.WorkArtifact, error) {
	a.Type = strings.TrimSpace(a.Type)
	if a.Type == "" || strings.TrimSpace(a.ContentRef) == "" {
		return models.WorkArtifact{}, fmt.Errorf("%w: artifact type and content reference are required", models.ErrInvalidInput)
	}
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		task, err := v.Task(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status == models.TaskCancelled {
			return &models.TransitionError{Entity: "task", ID: taskID, From: string(task.Status), To: string(task.Status),
				Reason: "cannot record artifacts on a cancelled task"}
		}
		existing, err := v.Artifacts(ctx, taskID)
		if err != nil {
			return err
		}
		version := 0
		for _, e := range existing {
			if e.Type == a.Type && e.Version > version {
				version = e.Version
			}
		}
		a.Version = version + 1
		a.TaskInstanceID = taskID
		a.TenantID = tenantID
		a.CreatedAt = m.now().UTC()
		// Deterministic per (task, type, version) so a concurrent writer of
		// the same version collides on create.
		a.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(tenantID+"/"+taskID+"/"+a.Type+"/"+strconv.Itoa(a.Version))).String()
		return v.CreateArtifact(ctx, a)
	})
	if errors.Is(err, repository.ErrConflict) {
		err = fmt.Errorf("artifact %s v%d of task %s was recorded concurrently: %w", a.Type, a.Version, taskID, models.ErrStaleState)
	}
	if err != nil {
		return models.WorkArtifact{}, m.staleAware(ctx, tenantID, err)
	}
	return a, nil
}

func byTemplate(tasks []models.TaskInstance) map[string]models.TaskInstance {
	out := make(map[string]models.TaskInstance, len(tasks))
	for _, t := range tasks {
		out[t.TemplateID] = t
	}
	return out
}

// sortForDispatch orders tasks the way readiness events are delivered.
func (m *Manager) sortForDispatch(wf models.WorkflowInstance, tasks []models.TaskInstance) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, _ := m.registry.Placement(wf.TemplateID, tasks[i].TemplateID)
		b, _ := m.registry.Placement(wf.TemplateID, tasks[j].TemplateID)
		a.TaskID, b.TaskID = tasks[i].TemplateID, tasks[j].TemplateID
		return templates.LessPlacement(a, b)
	})
}
