// Package notify turns task state changes into role-addressed events and
// hands them to delivery sinks on a best-effort basis.
package notify

import (
	"context"
	"time"

	"workgraph/pkg/models"
)

// Kind distinguishes readiness events from completion-awareness events.
type Kind string

const (
	KindReady     Kind = "task.ready"
	KindCompleted Kind = "task.completed"
)

// Event is a pure notification. It never instructs the recipient to act;
// consumers must treat a repeated event as a no-op.
type Event struct {
	ID                 string      `json:"id"`
	Kind               Kind        `json:"kind"`
	TenantID           string      `json:"tenant_id"`
	TaskInstanceID     string      `json:"task_instance_id"`
	WorkflowInstanceID string      `json:"workflow_instance_id"`
	TaskTemplateID     string      `json:"task_template_id"`
	Role               models.Role `json:"role"`
	TriggerID          string      `json:"trigger_id,omitempty"`
	OccurredAt         time.Time   `json:"occurred_at"`
}

// Sink delivers events to one transport.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev Event) error
}

func (f SinkFunc) Name() string                                { return f.SinkName }
func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f.Fn(ctx, ev) }
