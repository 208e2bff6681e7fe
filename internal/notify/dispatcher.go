package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"workgraph/internal/telemetry"
	"workgraph/internal/templates"
	"workgraph/pkg/models"
)

// DefaultSendTimeout bounds one Publish call when none is configured.
const DefaultSendTimeout = 2 * time.Second

// Logger is the subset of the application logger the dispatcher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Dispatcher resolves who must hear about a task state change and publishes
// the resulting events to every sink. Delivery is fire-and-forget: a failing
// or slow sink is logged and never fails the caller.
type Dispatcher struct {
	registry *templates.Registry
	sinks    []Sink
	timeout  time.Duration
	logger   Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher. A non-positive timeout uses
// DefaultSendTimeout.
func NewDispatcher(registry *templates.Registry, logger Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Dispatcher{
		registry: registry,
		sinks:    sinks,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// WithMetrics records emitted events and delivery failures on m.
func (d *Dispatcher) WithMetrics(m *telemetry.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// AddSink registers another delivery sink. It must not be called while events
// are being dispatched.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// OnReady emits one readiness event per task, addressed to the task's
// assigned role. Tasks are ordered by sequence position, then descending
// priority, then task template id.
func (d *Dispatcher) OnReady(ctx context.Context, wf models.WorkflowInstance, tasks []models.TaskInstance) {
	type item struct {
		task      models.TaskInstance
		placement models.UsedInEdge
	}
	items := make([]item, 0, len(tasks))
	for _, t := range tasks {
		p, ok := d.registry.Placement(wf.TemplateID, t.TemplateID)
		if !ok {
			p = models.UsedInEdge{TaskID: t.TemplateID, WorkflowID: wf.TemplateID}
		}
		items = append(items, item{task: t, placement: p})
	}
	sort.SliceStable(items, func(i, j int) bool { return templates.LessPlacement(items[i].placement, items[j].placement) })

	for _, it := range items {
		d.deliver(ctx, d.event(KindReady, it.task, it.task.AssignedRole, it.placement.NotificationTrigger))
	}
}

// OnCompleted emits one awareness event per distinct visibility role of the
// task's placement, skipping the role that completed it.
func (d *Dispatcher) OnCompleted(ctx context.Context, wf models.WorkflowInstance, task models.TaskInstance) {
	p, ok := d.registry.Placement(wf.TemplateID, task.TemplateID)
	if !ok {
		return
	}
	seen := map[models.Role]bool{task.AssignedRole: true}
	for _, role := range p.VisibilityRoles {
		if seen[role] {
			continue
		}
		seen[role] = true
		d.deliver(ctx, d.event(KindCompleted, task, role, p.NotificationTrigger))
	}
}

func (d *Dispatcher) event(kind Kind, t models.TaskInstance, role models.Role, trigger string) Event {
	return Event{
		ID:                 uuid.NewString(),
		Kind:               kind,
		TenantID:           t.TenantID,
		TaskInstanceID:     t.ID,
		WorkflowInstanceID: t.WorkflowInstanceID,
		TaskTemplateID:     t.TemplateID,
		Role:               role,
		TriggerID:          trigger,
		OccurredAt:         d.now().UTC(),
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	d.metrics.EventEmitted(ctx, string(ev.Kind))
	for _, s := range d.sinks {
		if err := d.send(ctx, s, ev); err != nil {
			d.metrics.DeliveryFailed(ctx, s.Name())
			if d.logger != nil {
				d.logger.Warn("notification delivery failed",
					"error", fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err),
					"sink", s.Name(), "event_id", ev.ID, "kind", ev.Kind,
					"tenant_id", ev.TenantID, "task_instance_id", ev.TaskInstanceID)
			}
		}
	}
}

// send runs one Publish and gives up after the send timeout even if the sink
// ignores its context. The caller's cancellation does not cut delivery short.
func (d *Dispatcher) send(ctx context.Context, s Sink, ev Event) (err error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("sink panicked: %v", r)
			}
		}()
		done <- s.Publish(sctx, ev)
	}()
	select {
	case err = <-done:
		return err
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("send exceeded %s: %w", d.timeout, sctx.Err())
		}
		return sctx.Err()
	}
}
