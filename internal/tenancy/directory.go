// Package tenancy owns tenant registration and the partition discipline that
// scopes every instance-layer read and write to exactly one tenant.
package tenancy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"workgraph/internal/repository"
	"workgraph/pkg/models"
)

// LabelTenant marks tenant registration nodes. They live outside any
// partition so the directory can resolve a tenant before one is chosen.
const LabelTenant = "TENANT"

// Directory registers tenants and resolves them by id or email domain.
type Directory struct {
	store repository.Store
	now   func() time.Time
}

// NewDirectory creates a Directory backed by store.
func NewDirectory(store repository.Store) *Directory {
	return &Directory{store: store, now: time.Now}
}

func tenantNodeID(id string) string { return LabelTenant + ":" + id }

// Register adds a tenant. An empty ID is generated; the domain is stored
// lower-cased and must be unique when set.
func (d *Directory) Register(ctx context.Context, t models.Tenant) (models.Tenant, error) {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Domain = strings.ToLower(strings.TrimSpace(t.Domain))
	if t.Name == "" {
		t.Name = t.ID
	}
	t.CreatedAt = d.now().UTC()

	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		if t.Domain != "" {
			taken, err := tx.FindNodes(ctx, repository.NodeQuery{Label: LabelTenant, Props: map[string]string{"domain": t.Domain}})
			if err != nil {
				return err
			}
			if len(taken) > 0 {
				return fmt.Errorf("%w: domain %s is already registered", repository.ErrConflict, t.Domain)
			}
		}
		body, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tx.CreateNode(ctx, repository.Node{
			ID:    tenantNodeID(t.ID),
			Label: LabelTenant,
			Props: map[string]string{"tenant_id": t.ID, "domain": t.Domain},
			Body:  body,
		})
	})
	if err != nil {
		return models.Tenant{}, fmt.Errorf("register tenant %s: %w", t.ID, err)
	}
	return t, nil
}

// Get returns the tenant with id, or ErrTenantUnknown.
func (d *Directory) Get(ctx context.Context, id string) (models.Tenant, error) {
	var t models.Tenant
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		t, err = d.get(ctx, tx, id)
		return err
	})
	return t, err
}

func (d *Directory) get(ctx context.Context, tx repository.Tx, id string) (models.Tenant, error) {
	if id == "" {
		return models.Tenant{}, fmt.Errorf("empty tenant id: %w", models.ErrTenantUnknown)
	}
	n, err := tx.GetNode(ctx, tenantNodeID(id))
	if errors.Is(err, models.ErrNotFound) || (err == nil && n.Label != LabelTenant) {
		return models.Tenant{}, fmt.Errorf("tenant %q: %w", id, models.ErrTenantUnknown)
	}
	if err != nil {
		return models.Tenant{}, err
	}
	return decodeTenant(n)
}

// ByDomain resolves the tenant registered for an email domain.
func (d *Directory) ByDomain(ctx context.Context, domain string) (models.Tenant, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return models.Tenant{}, fmt.Errorf("empty domain: %w", models.ErrTenantUnknown)
	}
	var nodes []repository.Node
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		nodes, err = tx.FindNodes(ctx, repository.NodeQuery{Label: LabelTenant, Props: map[string]string{"domain": domain}})
		return err
	})
	if err != nil {
		return models.Tenant{}, err
	}
	if len(nodes) == 0 {
		return models.Tenant{}, fmt.Errorf("domain %q: %w", domain, models.ErrTenantUnknown)
	}
	return decodeTenant(nodes[0])
}

// List returns every registered tenant ordered by id.
func (d *Directory) List(ctx context.Context) ([]models.Tenant, error) {
	var nodes []repository.Node
	err := d.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		nodes, err = tx.FindNodes(ctx, repository.NodeQuery{Label: LabelTenant})
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Tenant, 0, len(nodes))
	for _, n := range nodes {
		t, err := decodeTenant(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Partition returns the partition of a registered tenant.
func (d *Directory) Partition(ctx context.Context, tenantID string) (Partition, error) {
	if _, err := d.Get(ctx, tenantID); err != nil {
		return Partition{}, err
	}
	return Partition{tenantID: tenantID}, nil
}

func decodeTenant(n repository.Node) (models.Tenant, error) {
	var t models.Tenant
	if err := json.Unmarshal(n.Body, &t); err != nil {
		return models.Tenant{}, fmt.Errorf("failed to decode tenant %s: %w", n.ID, err)
	}
	return t, nil
}
