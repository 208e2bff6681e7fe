package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workgraph/internal/repository"
	"workgraph/pkg/models"
)

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(repository.NewMemoryGraphStore())

	acme, err := dir.Register(ctx, models.Tenant{ID: "acme", Name: "Acme Corp", Domain: "Acme.COM",
		RoleLabels: map[models.Role]string{models.RoleProductManager: "Product Lead"}})
	require.NoError(t, err)
	assert.Equal(t, "acme.com", acme.Domain)
	assert.False(t, acme.CreatedAt.IsZero())

	got, err := dir.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
	assert.Equal(t, "Product Lead", got.RoleLabels[models.RoleProductManager])

	byDomain, err := dir.ByDomain(ctx, "ACME.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", byDomain.ID)

	generated, err := dir.Register(ctx, models.Tenant{Domain: "globex.io"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
	assert.Equal(t, generated.ID, generated.Name)

	all, err := dir.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDirectoryUnknownTenant(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(repository.NewMemoryGraphStore())

	_, err := dir.Get(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrTenantUnknown)
	_, err = dir.Get(ctx, "")
	assert.ErrorIs(t, err, models.ErrTenantUnknown)
	_, err = dir.ByDomain(ctx, "nowhere.org")
	assert.ErrorIs(t, err, models.ErrTenantUnknown)
	_, err = dir.Partition(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrTenantUnknown)
}

func TestDirectoryRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	dir := NewDirectory(repository.NewMemoryGraphStore())

	_, err := dir.Register(ctx, models.Tenant{ID: "acme", Domain: "acme.com"})
	require.NoError(t, err)

	_, err = dir.Register(ctx, models.Tenant{ID: "acme"})
	assert.ErrorIs(t, err, repository.ErrConflict)
	_, err = dir.Register(ctx, models.Tenant{ID: "acme2", Domain: "acme.com"})
	assert.ErrorIs(t, err, repository.ErrConflict)
}
