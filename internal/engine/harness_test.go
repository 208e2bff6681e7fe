package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"workgraph/internal/logging"
	"workgraph/internal/notify"
	"workgraph/internal/repository"
	"workgraph/internal/templates"
	"workgraph/internal/tenancy"
	"workgraph/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   repository.Store
	dir     *tenancy.Directory
	reg     *templates.Registry
	events  *notify.Recorder
	clock   *fakeClock
	manager *Manager
}

type harnessOpt func(*harnessConfig)

type harnessConfig struct {
	bundle   *templates.Bundle
	maturity time.Duration
	auto     bool
	tenants  []string
	wrap     func(repository.Store) repository.Store
}

func withBundle(b templates.Bundle) harnessOpt { return func(c *harnessConfig) { c.bundle = &b } }
func withMaturity(d time.Duration) harnessOpt  { return func(c *harnessConfig) { c.maturity = d } }
func withAutoActivate() harnessOpt              { return func(c *harnessConfig) { c.auto = true } }
func withStore(wrap func(repository.Store) repository.Store) harnessOpt {
	return func(c *harnessConfig) { c.wrap = wrap }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	cfg := harnessConfig{maturity: time.Hour, tenants: []string{"acme", "globex"}}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.bundle == nil {
		b, err := templates.SampleBundle()
		require.NoError(t, err)
		cfg.bundle = &b
	}

	ctx := context.Background()
	base := repository.NewMemoryGraphStore()
	reg, err := templates.Publish(ctx, base, *cfg.bundle)
	require.NoError(t, err)

	dir := tenancy.NewDirectory(base)
	for _, id := range cfg.tenants {
		_, err := dir.Register(ctx, models.Tenant{ID: id, Domain: id + ".example"})
		require.NoError(t, err)
	}

	var store repository.Store = base
	if cfg.wrap != nil {
		store = cfg.wrap(base)
	}
	clock := newClock()
	events := notify.NewRecorder()
	log := logging.Discard()
	disp := notify.NewDispatcher(reg, log, time.Second, events)
	m, err := NewManager(store, reg, dir, disp, log, Config{
		SoftMaturity: cfg.maturity,
		AutoActivate: cfg.auto,
		Now:          clock.Now,
	})
	require.NoError(t, err)
	return &harness{t: t, ctx: ctx, store: base, dir: dir, reg: reg, events: events, clock: clock, manager: m}
}

// start instantiates and activates templateID for tenant.
func (h *harness) start(tenantID, templateID string) models.WorkflowInstance {
	h.t.Helper()
	wf, err := h.manager.Instantiate(h.ctx, templateID, tenantID)
	require.NoError(h.t, err)
	if wf.Status == models.WorkflowCreated {
		wf, err = h.manager.Activate(h.ctx, tenantID, wf.ID)
		require.NoError(h.t, err)
	}
	return wf
}

// tasks returns the tasks of a workflow keyed by task template id.
func (h *harness) tasks(tenantID, workflowID string) map[string]models.TaskInstance {
	h.t.Helper()
	view, err := h.manager.Workflow(h.ctx, tenantID, workflowID)
	require.NoError(h.t, err)
	return byTemplate(view.Tasks)
}

func (h *harness) move(tenantID string, task models.TaskInstance, path ...models.TaskStatus) models.TaskInstance {
	h.t.Helper()
	for _, to := range path {
		var err error
		task, err = h.manager.TransitionTask(h.ctx, tenantID, task.ID, task.Status, to)
		require.NoError(h.t, err)
	}
	return task
}

func (h *harness) status(tenantID, workflowID, template string) models.TaskStatus {
	h.t.Helper()
	return h.tasks(tenantID, workflowID)[template].Status
}

type dep struct {
	task, on string
	typ      models.DependencyType
}

// bundleOf builds a one-workflow bundle named W. The first task sits at
// Start, the rest at Mid with descending priority.
func bundleOf(ids []string, deps ...dep) templates.Bundle {
	b := templates.Bundle{
		Segments:  []models.BusinessSegment{{ID: "SEG", Name: "Test"}},
		Workflows: []models.WorkflowTemplate{{ID: "W", SegmentID: "SEG", Name: "Test workflow", Complexity: models.ComplexityLow}},
	}
	for i, id := range ids {
		pos := models.PositionMid
		if i == 0 {
			pos = models.PositionStart
		}
		b.Tasks = append(b.Tasks, models.TaskTemplate{ID: id, SegmentID: "SEG", Role: models.Roles[i%len(models.Roles)], Name: id})
		b.UsedIn = append(b.UsedIn, models.UsedInEdge{TaskID: id, WorkflowID: "W", Position: pos,
			Priority: float64(len(ids) - i), NotificationTrigger: "trigger." + id,
			VisibilityRoles: models.Roles})
	}
	for _, d := range deps {
		b.DependsOn = append(b.DependsOn, models.DependsOnEdge{TaskID: d.task, DependsOnID: d.on, WorkflowContext: "W", Type: d.typ})
	}
	return b
}

// flakyStore fails the nth instance-layer node creation, and every node
// update while failUpdates is set.
type flakyStore struct {
	repository.Store
	mu          sync.Mutex
	failAt      int
	calls       int
	failUpdates bool
}

func (s *flakyStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(&flakyTx{Tx: tx, s: s})
	})
}

type flakyTx struct {
	repository.Tx
	s *flakyStore
}

var errDiskFull = errors.New("disk full")

func (tx *flakyTx) CreateNode(ctx context.Context, n repository.Node) error {
	tx.s.mu.Lock()
	tx.s.calls++
	fail := tx.s.calls == tx.s.failAt
	tx.s.mu.Unlock()
	if fail {
		return fmt.Errorf("create %s: %w", n.ID, errDiskFull)
	}
	return tx.Tx.CreateNode(ctx, n)
}

func (tx *flakyTx) UpdateNode(ctx context.Context, n repository.Node, guard repository.Guard) error {
	tx.s.mu.Lock()
	fail := tx.s.failUpdates
	tx.s.mu.Unlock()
	if fail {
		return fmt.Errorf("update %s: %w", n.ID, errDiskFull)
	}
	return tx.Tx.UpdateNode(ctx, n, guard)
}

// tenantFaultStore fails every node lookup of one tenant.
type tenantFaultStore struct {
	repository.Store
	mu     sync.Mutex
	tenant string
}

func (s *tenantFaultStore) fail(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant = tenantID
}

func (s *tenantFaultStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(&tenantFaultTx{Tx: tx, s: s})
	})
}

type tenantFaultTx struct {
	repository.Tx
	s *tenantFaultStore
}

func (tx *tenantFaultTx) FindNodes(ctx context.Context, q repository.NodeQuery) ([]repository.Node, error) {
	tx.s.mu.Lock()
	fail := tx.s.tenant != "" && tx.s.tenant == q.TenantID
	tx.s.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("find %s for %s: %w", q.Label, q.TenantID, errDiskFull)
	}
	return tx.Tx.FindNodes(ctx, q)
}
