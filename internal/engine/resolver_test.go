package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"workgraph/internal/notify"
	"workgraph/internal/repository"
	"workgraph/internal/templates"
	"workgraph/pkg/models"
)

func softBundle() templates.Bundle {
	return bundleOf([]string{"A", "B"}, dep{"B", "A", models.DependencySoft})
}

func TestSoftDependencyZeroThreshold(t *testing.T) {
	h := newHarness(t, withBundle(softBundle()), withMaturity(0))
	wf := h.start("acme", "W")
	assert.Equal(t, models.TaskPending, h.status("acme", wf.ID, "B"))

	h.move("acme", h.tasks("acme", wf.ID)["A"], models.TaskInProgress)
	assert.Equal(t, models.TaskReady, h.status("acme", wf.ID, "B"), "zero threshold matures on start")
}

func TestSoftDependencyLargeThreshold(t *testing.T) {
	h := newHarness(t, withBundle(softBundle()), withMaturity(72*time.Hour))
	wf := h.start("acme", "W")
	b := h.tasks("acme", wf.ID)["B"]

	h.move("acme", h.tasks("acme", wf.ID)["A"], models.TaskInProgress)
	ready, err := h.manager.Resolver().IsReady(h.ctx, "acme", b.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	h.clock.Advance(72*time.Hour - time.Second)
	ids, err := h.manager.Resolver().Recompute(h.ctx, "acme", wf.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	h.clock.Advance(time.Second)
	ready, err = h.manager.Resolver().IsReady(h.ctx, "acme", b.ID)
	require.NoError(t, err)
	assert.True(t, ready, "exactly the threshold counts as mature")

	ids, err = h.manager.Resolver().Recompute(h.ctx, "acme", wf.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids)
}

func TestSoftDependencyCompletionBeatsThreshold(t *testing.T) {
	h := newHarness(t, withBundle(softBundle()), withMaturity(72*time.Hour))
	wf := h.start("acme", "W")

	h.move("acme", h.tasks("acme", wf.ID)["A"], models.TaskInProgress, models.TaskCompleted)
	assert.Equal(t, models.TaskReady, h.status("acme", wf.ID, "B"))
}

func TestHardDependencyIgnoresMaturity(t *testing.T) {
	b := bundleOf([]string{"A", "B"}, dep{"B", "A", models.DependencyHard})
	h := newHarness(t, withBundle(b), withMaturity(0))
	wf := h.start("acme", "W")

	h.move("acme", h.tasks("acme", wf.ID)["A"], models.TaskInProgress)
	h.clock.Advance(1000 * time.Hour)
	ids, err := h.manager.Resolver().Recompute(h.ctx, "acme", wf.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, models.TaskPending, h.status("acme", wf.ID, "B"))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	wf, err := h.manager.Instantiate(h.ctx, "FEATURE_001", "acme")
	require.NoError(t, err)

	ids, err := h.manager.Resolver().Recompute(h.ctx, "acme", wf.ID)
	require.NoError(t, err)
	assert.Empty(t, ids, "created workflows are not evaluated")

	_, err = h.manager.Activate(h.ctx, "acme", wf.ID)
	require.NoError(t, err)
	before := len(h.events.Events(""))

	for i := 0; i < 3; i++ {
		ids, err = h.manager.Resolver().Recompute(h.ctx, "acme", wf.ID)
		require.NoError(t, err)
		assert.Empty(t, ids)
	}
	assert.Len(t, h.events.Events(""), before)
}

func TestIsReadyRequiresActiveWorkflow(t *testing.T) {
	h := newHarness(t)
	wf, err := h.manager.Instantiate(h.ctx, "FEATURE_001", "acme")
	require.NoError(t, err)
	start := h.tasks("acme", wf.ID)["PRODM_FEAT_01"]

	ready, err := h.manager.Resolver().IsReady(h.ctx, "acme", start.ID)
	require.NoError(t, err)
	assert.False(t, ready)

	_, err = h.manager.Activate(h.ctx, "acme", wf.ID)
	require.NoError(t, err)
	ready, err = h.manager.Resolver().IsReady(h.ctx, "acme", start.ID)
	require.NoError(t, err)
	assert.True(t, ready)

	_, err = h.manager.Resolver().IsReady(h.ctx, "globex", start.ID)
	assert.ErrorIs(t, err, models.ErrCrossTenantAccess)
}

func TestSweeperReleasesMaturedSoftDependents(t *testing.T) {
	h := newHarness(t, withBundle(softBundle()), withMaturity(time.Hour))
	acme := h.start("acme", "W")
	globex := h.start("globex", "W")
	h.move("acme", h.tasks("acme", acme.ID)["A"], models.TaskInProgress)
	h.move("globex", h.tasks("globex", globex.ID)["A"], models.TaskInProgress)

	sweeper := NewSweeper(h.manager, h.dir, time.Minute)
	n, err := sweeper.SweepOnce(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(time.Hour)
	n, err = sweeper.SweepOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, models.TaskReady, h.status("acme", acme.ID, "B"))
	assert.Equal(t, models.TaskReady, h.status("globex", globex.ID, "B"))

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	assert.NoError(t, sweeper.Run(ctx))
}

func TestSweeperKeepsGoingPastAFailingTenant(t *testing.T) {
	var faulty *tenantFaultStore
	h := newHarness(t, withBundle(softBundle()), withMaturity(time.Hour),
		withStore(func(s repository.Store) repository.Store {
			faulty = &tenantFaultStore{Store: s}
			return faulty
		}))
	acme := h.start("acme", "W")
	globex := h.start("globex", "W")
	h.move("acme", h.tasks("acme", acme.ID)["A"], models.TaskInProgress)
	h.move("globex", h.tasks("globex", globex.ID)["A"], models.TaskInProgress)
	h.clock.Advance(time.Hour)

	for _, parallel := range []int{1, 4} {
		faulty.fail("globex")
		sweeper := NewSweeper(h.manager, h.dir, time.Minute)
		sweeper.Parallel = parallel
		n, err := sweeper.SweepOnce(h.ctx)
		require.ErrorIs(t, err, errDiskFull, "parallel=%d", parallel)
		assert.Contains(t, err.Error(), "globex")
		faulty.fail("")

		assert.Equal(t, models.TaskReady, h.status("acme", acme.ID, "B"), "parallel=%d", parallel)
		assert.Equal(t, models.TaskPending, h.status("globex", globex.ID, "B"), "parallel=%d", parallel)
		if parallel == 1 {
			assert.Equal(t, 1, n)
		}
	}
}

// randomHardBundle builds an acyclic workflow W of n tasks; each task depends
// on a random subset of the tasks before it.
func randomHardBundle(rng *rand.Rand, n int) templates.Bundle {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("T%02d", i)
	}
	var deps []dep
	for j := 1; j < n; j++ {
		for i := 0; i < j; i++ {
			if rng.Float64() < 0.3 {
				deps = append(deps, dep{ids[j], ids[i], models.DependencyHard})
			}
		}
	}
	return bundleOf(ids, deps...)
}

// assertHardInvariant checks one consistent snapshot of a workflow: no task
// past Pending has a Hard prerequisite that is not Completed.
func assertHardInvariant(t *testing.T, h *harness, tenantID, workflowID string) {
	view, err := h.manager.Workflow(h.ctx, tenantID, workflowID)
	if !assert.NoError(t, err) {
		return
	}
	tasks := byTemplate(view.Tasks)
	for _, task := range view.Tasks {
		if task.Status == models.TaskPending || task.Status == models.TaskCancelled {
			continue
		}
		for _, d := range h.reg.Prerequisites(view.TemplateID, task.TemplateID) {
			if d.Type == models.DependencyHard {
				assert.Equal(t, models.TaskCompleted, tasks[d.DependsOnID].Status,
					"%s is %s before its prerequisite %s completed", task.TemplateID, task.Status, d.DependsOnID)
			}
		}
	}
}

func TestHardDependenciesUnderConcurrency(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			h := newHarness(t, withBundle(randomHardBundle(rng, 12+rng.Intn(10))), withMaturity(0))
			tenants := []string{"acme", "globex"}
			wfs := map[string]string{}
			for _, tenant := range tenants {
				wfs[tenant] = h.start(tenant, "W").ID
			}

			ctx, cancel := context.WithTimeout(h.ctx, 20*time.Second)
			defer cancel()
			var remaining atomic.Int32
			remaining.Store(int32(len(tenants)))

			g, gctx := errgroup.WithContext(ctx)
			for w := 0; w < 6; w++ {
				tenant := tenants[w%len(tenants)]
				workerRng := rand.New(rand.NewSource(seed*100 + int64(w)))
				g.Go(func() error {
					for remaining.Load() > 0 {
						if err := gctx.Err(); err != nil {
							return err
						}
						ready, err := h.manager.ReadyTasks(gctx, tenant, "")
						if err != nil {
							return err
						}
						if len(ready) == 0 {
							view, err := h.manager.Workflow(gctx, tenant, wfs[tenant])
							if err != nil {
								return err
							}
							if view.Status == models.WorkflowCompleted {
								return nil
							}
							if _, err := h.manager.Resolver().Recompute(gctx, tenant, wfs[tenant]); err != nil {
								return err
							}
							continue
						}
						task := ready[workerRng.Intn(len(ready))]
						started, err := h.manager.TransitionTask(gctx, tenant, task.ID, models.TaskReady, models.TaskInProgress)
						if models.IsRetryable(err) || errors.Is(err, models.ErrInvalidTransition) {
							// Another worker took it first.
							continue
						}
						if err != nil {
							return err
						}
						if _, err := h.manager.TransitionTask(gctx, tenant, started.ID, models.TaskInProgress, models.TaskCompleted); err != nil {
							return err
						}
					}
					return nil
				})
			}
			g.Go(func() error {
				defer remaining.Store(0)
				for {
					done := 0
					for _, tenant := range tenants {
						assertHardInvariant(t, h, tenant, wfs[tenant])
						view, err := h.manager.Workflow(gctx, tenant, wfs[tenant])
						if err != nil {
							return err
						}
						if view.Status == models.WorkflowCompleted {
							done++
						}
					}
					if done == len(tenants) {
						return nil
					}
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(time.Millisecond):
					}
				}
			})
			require.NoError(t, g.Wait())

			for _, tenant := range tenants {
				assertHardInvariant(t, h, tenant, wfs[tenant])
				for _, task := range h.tasks(tenant, wfs[tenant]) {
					assert.Equal(t, models.TaskCompleted, task.Status)
				}
			}
			perTask := map[string]int{}
			for _, ev := range h.events.Events(notify.KindReady) {
				perTask[ev.TaskInstanceID]++
			}
			for id, n := range perTask {
				assert.Equal(t, 1, n, "task %s readied more than once", id)
			}
		})
	}
}
