package notify

import (
	"context"
	"sync"
)

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events, optionally only those of
// kind.
func (r *Recorder) Events(kind Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if kind == "" || ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// InfoLogger is satisfied by the application logger.
type InfoLogger interface {
	Info(msg string, args ...any)
}

// LogSink writes each event to the application log.
type LogSink struct {
	Logger InfoLogger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Publish(ctx context.Context, ev Event) error {
	s.Logger.Info("notification",
		"kind", ev.Kind, "event_id", ev.ID, "tenant_id", ev.TenantID,
		"workflow_instance_id", ev.WorkflowInstanceID, "task_instance_id", ev.TaskInstanceID,
		"role", ev.Role, "trigger_id", ev.TriggerID)
	return nil
}
