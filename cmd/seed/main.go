package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"workgraph/internal/bootstrap"
	"workgraph/internal/config"
	"workgraph/internal/logging"
	"workgraph/internal/repository"
	"workgraph/internal/templates"
	"workgraph/internal/tenancy"
	"workgraph/pkg/models"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type seedOptions struct {
	configPath string
	bundle     string
	tenants    []string
	validate   bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "workgraph-seed",
		Short: "Publish the template graph and register tenants",
		Long: `workgraph-seed validates a template bundle, publishes it into the
configured graph store and registers tenants. Publishing is skipped when the
template layer is already populated.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger := logging.New(out, cfg.Log.Level, cfg.Log.Format)
			return seed(cmd.Context(), cfg, opts, logger)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "Path to config file")
	cmd.Flags().StringVar(&opts.bundle, "bundle", "", "Template bundle YAML (default: templates.bundle or the built-in sample)")
	cmd.Flags().StringArrayVar(&opts.tenants, "tenant", []string{"local=localhost"}, "Tenant to register as id=domain; repeatable")
	cmd.Flags().BoolVar(&opts.validate, "validate-only", false, "Validate the bundle and exit without writing")
	return cmd
}

func seed(ctx context.Context, cfg *config.Config, opts seedOptions, logger *logging.Logger) error {
	path := opts.bundle
	if path == "" {
		path = cfg.Templates.Bundle
	}
	bundle, err := bootstrap.Bundle(path)
	if err != nil {
		return err
	}
	reg, err := templates.New(bundle)
	if err != nil {
		return fmt.Errorf("bundle rejected: %w", err)
	}
	for _, id := range reg.WorkflowIDs() {
		order, err := reg.TopologicalOrder(id)
		if err != nil {
			return err
		}
		logger.Info("Workflow template valid", "id", id, "tasks", len(order))
	}
	if opts.validate {
		return nil
	}

	tenants, err := parseTenants(opts.tenants)
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if _, err := bootstrap.Templates(ctx, store, path, logger); err != nil {
		return err
	}
	return registerTenants(ctx, store, tenants, logger)
}

func parseTenants(raw []string) ([]models.Tenant, error) {
	out := make([]models.Tenant, 0, len(raw))
	for _, r := range raw {
		id, domain, ok := strings.Cut(r, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(domain) == "" {
			return nil, fmt.Errorf("tenant %q must be id=domain: %w", r, models.ErrInvalidInput)
		}
		out = append(out, models.Tenant{ID: strings.TrimSpace(id), Name: strings.TrimSpace(id), Domain: strings.TrimSpace(domain)})
	}
	return out, nil
}

func registerTenants(ctx context.Context, store repository.Store, tenants []models.Tenant, logger *logging.Logger) error {
	dir := tenancy.NewDirectory(store)
	for _, t := range tenants {
		existing, err := dir.ByDomain(ctx, t.Domain)
		if err == nil {
			logger.Info("Found existing tenant", "id", existing.ID, "domain", existing.Domain)
			continue
		}
		if !errors.Is(err, models.ErrTenantUnknown) {
			return err
		}
		created, err := dir.Register(ctx, t)
		if err != nil {
			return fmt.Errorf("failed to register tenant %s: %w", t.ID, err)
		}
		logger.Info("Registered tenant", "id", created.ID, "domain", created.Domain)
	}
	logger.Info("Seeding complete!")
	return nil
}
