package models

import "fmt"

// TaskStatus is the lifecycle state of a TaskInstance.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskReady      TaskStatus = "ready"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
	TaskCancelled  TaskStatus = "cancelled"
)

var taskStatuses = []TaskStatus{TaskPending, TaskReady, TaskInProgress, TaskCompleted, TaskBlocked, TaskCancelled}

// ParseTaskStatus converts an external value into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	v := normalizeToken(s)
	for _, st := range taskStatuses {
		if normalizeToken(string(st)) == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown task status %q", ErrInvalidInput, s)
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskReady, TaskBlocked, TaskCancelled},
	TaskReady:      {TaskInProgress, TaskBlocked, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskBlocked, TaskCancelled},
	TaskBlocked:    {TaskCancelled},
}

// CanTransitionTask reports whether from -> to is an edge of the task state
// machine.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// WorkflowStatus is the lifecycle state of a WorkflowInstance.
type WorkflowStatus string

const (
	WorkflowCreated   WorkflowStatus = "created"
	WorkflowActive    WorkflowStatus = "active"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// ParseWorkflowStatus converts an external value into a WorkflowStatus.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	switch normalizeToken(s) {
	case "created":
		return WorkflowCreated, nil
	case "active":
		return WorkflowActive, nil
	case "completed":
		return WorkflowCompleted, nil
	case "cancelled", "canceled":
		return WorkflowCancelled, nil
	}
	return "", fmt.Errorf("%w: unknown workflow status %q", ErrInvalidInput, s)
}

// IsTerminal reports whether the workflow can no longer change.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowCancelled
}

// CanTransitionWorkflow reports whether from -> to moves the workflow forward.
func CanTransitionWorkflow(from, to WorkflowStatus) bool {
	switch from {
	case WorkflowCreated:
		return to == WorkflowActive || to == WorkflowCancelled
	case WorkflowActive:
		return to == WorkflowCompleted || to == WorkflowCancelled
	}
	return false
}
