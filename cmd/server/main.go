package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"

	"workgraph/internal/api"
	"workgraph/internal/auth"
	"workgraph/internal/bootstrap"
	"workgraph/internal/config"
	"workgraph/internal/engine"
	"workgraph/internal/logging"
	"workgraph/internal/mcp"
	"workgraph/internal/notify"
	"workgraph/internal/repository"
	"workgraph/internal/telemetry"
	"workgraph/internal/tenancy"
	"workgraph/internal/tls"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "workgraph-server",
		Short: "Workflow engine API and MCP server",
		Long: `workgraph-server instantiates workflow templates per tenant, tracks task
state and notifies roles when tasks become ready or complete. It serves a
REST API under /api/v1 and an MCP endpoint under /mcp.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("configuration loading failed: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format))
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default ./config.yaml)")
	return cmd
}

// app is the wired service graph behind the HTTP server.
type app struct {
	store     repository.Store
	manager   *engine.Manager
	directory *tenancy.Directory
	handler   *echo.Echo
}

func wire(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	store, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("store initialization failed: %w", err)
	}
	fail := func(err error) (*app, error) {
		store.Close()
		return nil, err
	}

	registry, err := bootstrap.Templates(ctx, store, cfg.Templates.Bundle, logger)
	if err != nil {
		return fail(fmt.Errorf("template initialization failed: %w", err))
	}
	directory := tenancy.NewDirectory(store)

	metrics, err := telemetry.Global()
	if err != nil {
		return fail(fmt.Errorf("metrics initialization failed: %w", err))
	}

	dispatcher := notify.NewDispatcher(registry, logger, cfg.Notify.SendTimeout, notify.LogSink{Logger: logger}).
		WithMetrics(metrics)
	manager, err := engine.NewManager(store, registry, directory, dispatcher, logger, engine.Config{
		SoftMaturity: *cfg.Engine.SoftMaturity,
		AutoActivate: cfg.Engine.AutoActivate,
		Metrics:      metrics,
	})
	if err != nil {
		return fail(fmt.Errorf("engine initialization failed: %w", err))
	}

	mcpServer := mcp.NewServer(manager, registry, logger)
	if cfg.Notify.MCPEnabled {
		dispatcher.AddSink(mcpServer.Sink())
	}

	authz, err := auth.New(ctx, cfg, directory, logger)
	if err != nil {
		return fail(fmt.Errorf("auth initialization failed: %w", err))
	}

	apiServer := api.NewServer(manager, registry, logger)
	e := newEcho(cfg, authz, apiServer, mcpServer)
	logger.Info("Handlers mounted", "mcp_notifications", cfg.Notify.MCPEnabled)

	return &app{store: store, manager: manager, directory: directory, handler: e}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"store", cfg.Engine.Store,
		"soft_maturity", *cfg.Engine.SoftMaturity,
		"okta_client_id", cfg.Auth.ClientID,
		"okta_domain", cfg.Auth.OktaDomain,
		"swagger_client_id", cfg.Auth.SwaggerClientID,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("Swagger Client ID matches Backend Client ID. This will fail if Backend is a Web App (requires secret) and Swagger uses PKCE (no secret).")
	}

	a, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if cfg.TLS.Enable {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("TLS enabled but cert/key file not provided")
		}
		if len(cfg.TLS.Hostnames) > 0 {
			generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
			if err != nil {
				return err
			}
			if generated {
				logger.Info("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
			}
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		var err error
		if cfg.TLS.Enable {
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return engine.NewSweeper(a.manager, a.directory, cfg.Engine.SweepInterval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return server.Close()
		}
		logger.Info("Server stopped gracefully")
		return nil
	})
	return g.Wait()
}

func newEcho(cfg *config.Config, authz *auth.Auth, apiServer *api.Server, mcpServer *mcp.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = apiServer.ErrorHandler

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(otelecho.Middleware("workgraph"))

	e.GET("/health", apiServer.HandleHealth)

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Mount REST API handlers behind auth
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, apiServer)

	// Mount MCP protocol handlers; sessions inherit the caller's tenant
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer)
	mcpHandler := echo.WrapHandler(authz.RequireAuth(mcpHandlers))
	e.Any("/mcp", mcpHandler)
	e.Any("/mcp/*", mcpHandler)

	// expose OpenAPI spec (with runtime substitution) and Swagger UI
	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(http.HandlerFunc(api.OAuthRedirectHandler)))

	return e
}
