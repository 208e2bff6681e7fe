// Package engine runs workflow instances: it materialises them from
// templates, owns their state machines and advances task readiness from the
// template dependency graph.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"workgraph/internal/logging"
	"workgraph/internal/repository"
	"workgraph/internal/telemetry"
	"workgraph/internal/templates"
	"workgraph/internal/tenancy"
	"workgraph/pkg/models"
)

// Logger is the subset of the application logger the engine uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Notifier receives committed state changes. Implementations must not block
// for long and must not fail the caller.
type Notifier interface {
	OnReady(ctx context.Context, wf models.WorkflowInstance, tasks []models.TaskInstance)
	OnCompleted(ctx context.Context, wf models.WorkflowInstance, task models.TaskInstance)
}

// Config tunes the engine.
type Config struct {
	// SoftMaturity is how long a prerequisite must have been in progress
	// before a Soft dependency on it counts as satisfied.
	SoftMaturity time.Duration
	// AutoActivate activates workflows as part of Instantiate.
	AutoActivate bool
	// Now overrides the clock. Nil means time.Now.
	Now     func() time.Time
	Metrics *telemetry.Metrics
}

// Manager is the instance manager. It is safe for concurrent use; all
// coordination happens through per-entity compare-and-set in the store.
type Manager struct {
	store    repository.Store
	registry *templates.Registry
	tenants  *tenancy.Directory
	notifier Notifier
	logger   Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
	auto     bool

	resolver *Resolver
}

// NewManager wires a Manager. A nil notifier drops all notifications.
func NewManager(store repository.Store, registry *templates.Registry, tenants *tenancy.Directory,
	notifier Notifier, logger Logger, cfg Config) (*Manager, error) {
	if cfg.SoftMaturity < 0 {
		return nil, fmt.Errorf("%w: soft maturity must not be negative", models.ErrInvalidInput)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Manager{
		store:    store,
		registry: registry,
		tenants:  tenants,
		notifier: notifier,
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      now,
		auto:     cfg.AutoActivate,
	}
	m.resolver = &Resolver{m: m, maturity: cfg.SoftMaturity}
	return m, nil
}

// Resolver returns the dependency resolver bound to this manager.
func (m *Manager) Resolver() *Resolver { return m.resolver }

type nopNotifier struct{}

func (nopNotifier) OnReady(context.Context, models.WorkflowInstance, []models.TaskInstance)  {}
func (nopNotifier) OnCompleted(context.Context, models.WorkflowInstance, models.TaskInstance) {}

func (m *Manager) partition(ctx context.Context, tenantID string) (tenancy.Partition, error) {
	return m.tenants.Partition(ctx, tenantID)
}

// view runs fn inside one transaction bound to tenantID's partition.
func (m *Manager) view(ctx context.Context, tenantID string, fn func(v *tenancy.View) error) error {
	p, err := m.partition(ctx, tenantID)
	if err != nil {
		return err
	}
	return m.store.InTx(ctx, func(tx repository.Tx) error {
		return fn(p.Bind(tx))
	})
}

// Instantiate creates a workflow instance and one Pending task instance per
// task template used in the workflow template, all in one transaction.
func (m *Manager) Instantiate(ctx context.Context, templateID, tenantID string) (models.WorkflowInstance, error) {
	tpl, err := m.registry.Workflow(templateID)
	if err != nil {
		return models.WorkflowInstance{}, err
	}
	p, err := m.partition(ctx, tenantID)
	if err != nil {
		return models.WorkflowInstance{}, err
	}

	now := m.now().UTC()
	wf := models.WorkflowInstance{
		ID:         uuid.NewString(),
		TemplateID: tpl.ID,
		TenantID:   tenantID,
		Status:     models.WorkflowCreated,
		CreatedAt:  now,
	}
	err = m.store.InTx(ctx, func(tx repository.Tx) error {
		v := p.Bind(tx)
		if err := v.CreateWorkflow(ctx, wf); err != nil {
			return err
		}
		for _, u := range m.registry.Placements(tpl.ID) {
			taskTpl, ok := m.registry.Task(u.TaskID)
			if !ok {
				return fmt.Errorf("task template %q: %w", u.TaskID, models.ErrTemplateNotFound)
			}
			if err := v.CreateTask(ctx, models.TaskInstance{
				ID:                 uuid.NewString(),
				TemplateID:         taskTpl.ID,
				WorkflowInstanceID: wf.ID,
				TenantID:           tenantID,
				Status:             models.TaskPending,
				AssignedRole:       taskTpl.Role,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.WorkflowInstance{}, fmt.Errorf("instantiate %s for tenant %s: %w", templateID, tenantID, err)
	}
	m.metrics.WorkflowInstantiated(ctx, tenantID, tpl.ID)
	m.logger.Info("workflow instantiated", "tenant_id", tenantID, "workflow_instance_id", wf.ID, "template_id", tpl.ID)

	if m.auto {
		active, err := m.Activate(ctx, tenantID, wf.ID)
		if err != nil {
			// The instance is committed either way; keep its id visible.
			if active.ID != "" {
				wf = active
			}
			return wf, fmt.Errorf("activate %s: %w", wf.ID, err)
		}
		return active, nil
	}
	return wf, nil
}

// Activate moves a Created workflow to Active and readies every task whose
// prerequisites are already met.
func (m *Manager) Activate(ctx context.Context, tenantID, workflowID string) (models.WorkflowInstance, error) {
	var wf models.WorkflowInstance
	err := m.view(ctx, tenantID, func(v *tenancy.View) error {
		cur, err := v.Workflow(ctx, workflowID)
		if err != nil {
			return err
		}
		if !models.CanTransitionWorkflow(cur.Status, models.WorkflowActive) {
			return &models.TransitionError{Entity: "workflow", ID: workflowID, From: string(cur.Status), To: string(models.WorkflowActive)}
		}
		wf = cur
		wf.Status = models.WorkflowActive
		return v.UpdateWorkflow(ctx, wf, cur.Status)
	})
	if err != nil {
		return models.WorkflowInstance{}, m.staleAware(ctx, tenantID, err)
	}
	if _, err := m.resolver.Recompute(ctx, tenantID, workflowID); err != nil {
		return wf, err
	}
	return wf, nil
}

// CancelWorkflow cancels a workflow and every non-terminal task in it.
// Cancelling a cancelled workflow is a no-op; a completed one cannot be
// cancelled.
func (m *Manager) CancelWorkflow(ctx context.Context, tenantID, workflowID string) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		// Each attempt re-derives the work from fresh state, so a conflict
		// with a concurrent transition is safe to run again.
		err = m.cancelOnce(ctx, tenantID, workflowID)
		if !errors.Is(err, models.ErrStaleState) {
			break
		}
		m.metrics.StaleConflict(ctx, tenantID)
	}
	if err != nil {
		return err
	}
	m.logger.Info("workflow cancelled", "tenant_id", tenantID, "workflow_instance_id", workflowID)
	return nil
}

func (m *Manager) cancelOnce(ctx context.Context, tenantID, workflowID string) error {
	return m.view(ctx, tenantID, func(v *tenancy.View) error {
		wf, err := v.Workflow(ctx, workflowID)
		if err != nil {
			return err
		}
		tasks, err := v.Tasks(ctx, workflowID)
		if err != nil {
			return err
		}
		switch wf.Status {
		case models.WorkflowCompleted:
			return &models.TransitionError{Entity: "workflow", ID: workflowID, From: string(wf.Status), To: string(models.WorkflowCancelled)}
		case models.WorkflowCancelled:
		default:
			prev := wf.Status
			wf.Status = models.WorkflowCancelled
			if err := v.UpdateWorkflow(ctx, wf, prev); err != nil {
				return err
			}
		}
		now := m.now().UTC()
		for _, t := range tasks {
			if t.Status.IsTerminal() {
				continue
			}
			prev := t.Status
			t.Status = models.TaskCancelled
			t.CompletedAt = &now
			if err := v.UpdateTask(ctx, t, prev); err != nil {
				return err
			}
		}
		return nil
	})
}

// staleAware counts compare-and-set conflicts on their way to the caller.
func (m *Manager) staleAware(ctx context.Context, tenantID string, err error) error {
	if errors.Is(err, models.ErrStaleState) {
		m.metrics.StaleConflict(ctx, tenantID)
	}
	return err
}
