package main

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workgraph/internal/logging"
	"workgraph/internal/repository"
	"workgraph/internal/tenancy"
	"workgraph/pkg/models"
)

func TestParseTenants(t *testing.T) {
	got, err := parseTenants([]string{"acme=acme.com", " globex = globex.io "})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.Tenant{ID: "globex", Name: "globex", Domain: "globex.io"}, got[1])

	_, err = parseTenants([]string{"acme"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = parseTenants([]string{"=acme.com"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRegisterTenantsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryGraphStore()
	tenants := []models.Tenant{{ID: "acme", Domain: "acme.com"}, {ID: "globex", Domain: "globex.io"}}

	require.NoError(t, registerTenants(ctx, store, tenants, logging.Discard()))
	require.NoError(t, registerTenants(ctx, store, tenants, logging.Discard()))

	list, err := tenancy.NewDirectory(store).List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestValidateOnlyDoesNotTouchTheStore(t *testing.T) {
	t.Setenv("WORKGRAPH_ENGINE_STORE", "postgres")
	var out strings.Builder
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"--validate-only"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "FEATURE_001")
}

func TestSeedMemoryStore(t *testing.T) {
	var out strings.Builder
	cmd := newRootCmd(&out)
	cmd.SetArgs([]string{"--tenant", "acme=acme.com"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Template graph published")
	assert.Contains(t, out.String(), "Registered tenant")
}
