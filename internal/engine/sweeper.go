package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"workgraph/internal/tenancy"
	"workgraph/pkg/models"
)

// Sweeper periodically recomputes every Active workflow so Soft dependencies
// that matured without any triggering transition still release their
// dependents.
type Sweeper struct {
	manager  *Manager
	tenants  *tenancy.Directory
	interval time.Duration
	// Parallel bounds how many tenants are swept at once.
	Parallel int
}

// NewSweeper creates a Sweeper running every interval.
func NewSweeper(m *Manager, tenants *tenancy.Directory, interval time.Duration) *Sweeper {
	return &Sweeper{manager: m, tenants: tenants, interval: interval, Parallel: 4}
}

// Run sweeps until ctx is cancelled. A non-positive interval disables it.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.manager.logger.Warn("sweep failed", "error", err)
			} else if n > 0 {
				s.manager.logger.Info("sweep readied tasks", "count", n)
			}
		}
	}
}

// SweepOnce recomputes every Active workflow of every tenant and returns how
// many tasks became Ready. Tenants are swept independently: one tenant's
// failure is logged and reported but never stops the others.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return 0, err
	}
	counts := make([]int, len(tenants))
	errs := make([]error, len(tenants))
	var g errgroup.Group
	g.SetLimit(max(1, s.Parallel))
	for i, t := range tenants {
		g.Go(func() error {
			counts[i], errs[i] = s.sweepTenant(ctx, t.ID)
			if errs[i] != nil {
				s.manager.logger.Warn("tenant sweep failed", "tenant_id", t.ID, "error", errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, errors.Join(errs...)
}

// sweepTenant keeps going past a failing workflow so its siblings still
// release their matured dependents.
func (s *Sweeper) sweepTenant(ctx context.Context, tenantID string) (int, error) {
	wfs, err := s.manager.Workflows(ctx, tenantID, models.WorkflowActive)
	if err != nil {
		return 0, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	n := 0
	var errs []error
	for _, wf := range wfs {
		ids, err := s.manager.resolver.Recompute(ctx, tenantID, wf.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s workflow %s: %w", tenantID, wf.ID, err))
			continue
		}
		n += len(ids)
	}
	return n, errors.Join(errs...)
}
