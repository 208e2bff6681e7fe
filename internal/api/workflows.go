// Package api contains the HTTP handlers for the workflow engine.
package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"workgraph/internal/auth"
	"workgraph/internal/engine"
	"workgraph/internal/templates"
	"workgraph/pkg/models"
)

// Logger is the subset of the application logger the handlers use.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Server holds the dependencies for the API server.
type Server struct {
	Manager  *engine.Manager
	Registry *templates.Registry
	Logger   Logger
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(manager *engine.Manager, registry *templates.Registry, logger Logger) *Server {
	return &Server{Manager: manager, Registry: registry, Logger: logger}
}

// InstantiateRequest is the body of POST /workflows.
type InstantiateRequest struct {
	TemplateID string `json:"template_id"`
	Activate   bool   `json:"activate,omitempty"`
}

// TransitionRequest is the body of POST /tasks/{taskId}/transition. From is
// the status the caller last observed.
type TransitionRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ArtifactRequest is the body of POST /tasks/{taskId}/artifacts.
type ArtifactRequest struct {
	Type       string            `json:"type"`
	ContentRef string            `json:"content_ref"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// RecomputeResponse lists the tasks a recompute promoted.
type RecomputeResponse struct {
	Promoted []string `json:"promoted"`
}

func tenantOf(c echo.Context) (string, error) {
	tenantID, ok := auth.TenantFromContext(c.Request().Context())
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Tenant ID not found in context")
	}
	return tenantID, nil
}

func bindBody(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return nil
}

// ListWorkflows returns the caller's workflow instances
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context, params ListWorkflowsParams) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var status models.WorkflowStatus
	if params.Status != nil && *params.Status != "" {
		if status, err = models.ParseWorkflowStatus(*params.Status); err != nil {
			return err
		}
	}
	workflows, err := s.Manager.Workflows(c.Request().Context(), tenantID, status)
	if err != nil {
		return err
	}
	if workflows == nil {
		workflows = []models.WorkflowInstance{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// InstantiateWorkflow creates a workflow instance from a template
// (POST /api/v1/workflows)
func (s *Server) InstantiateWorkflow(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req InstantiateRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.TemplateID) == "" {
		return fmt.Errorf("template_id is required: %w", models.ErrInvalidInput)
	}

	ctx := c.Request().Context()
	wf, err := s.Manager.Instantiate(ctx, req.TemplateID, tenantID)
	if err != nil {
		return err
	}
	if req.Activate && wf.Status == models.WorkflowCreated {
		if _, err := s.Manager.Activate(ctx, tenantID, wf.ID); err != nil {
			return err
		}
	}
	view, err := s.Manager.Workflow(ctx, tenantID, wf.ID)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderLocation, c.Path()+"/"+wf.ID)
	return c.JSON(http.StatusCreated, view)
}

// GetWorkflow returns a workflow instance with its tasks
// (GET /api/v1/workflows/{workflowId})
func (s *Server) GetWorkflow(c echo.Context, workflowID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	view, err := s.Manager.Workflow(c.Request().Context(), tenantID, workflowID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// ActivateWorkflow moves a created workflow to active
// (POST /api/v1/workflows/{workflowId}/activate)
func (s *Server) ActivateWorkflow(c echo.Context, workflowID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := s.Manager.Activate(ctx, tenantID, workflowID); err != nil {
		return err
	}
	view, err := s.Manager.Workflow(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// CancelWorkflow cancels a workflow and its open tasks
// (POST /api/v1/workflows/{workflowId}/cancel)
func (s *Server) CancelWorkflow(c echo.Context, workflowID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := s.Manager.CancelWorkflow(ctx, tenantID, workflowID); err != nil {
		return err
	}
	view, err := s.Manager.Workflow(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

// RecomputeWorkflow re-evaluates readiness of pending tasks
// (POST /api/v1/workflows/{workflowId}/recompute)
func (s *Server) RecomputeWorkflow(c echo.Context, workflowID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	promoted, err := s.Manager.Resolver().Recompute(c.Request().Context(), tenantID, workflowID)
	if err != nil {
		return err
	}
	if promoted == nil {
		promoted = []string{}
	}
	return c.JSON(http.StatusOK, RecomputeResponse{Promoted: promoted})
}

// ListReadyTasks returns ready tasks, optionally for one role
// (GET /api/v1/tasks/ready)
func (s *Server) ListReadyTasks(c echo.Context, params ListReadyTasksParams) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var role models.Role
	if params.Role != nil && *params.Role != "" {
		if role, err = models.ParseRole(*params.Role); err != nil {
			return err
		}
	}
	tasks, err := s.Manager.ReadyTasks(c.Request().Context(), tenantID, role)
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []models.TaskInstance{}
	}
	return c.JSON(http.StatusOK, tasks)
}

// GetTask returns one task instance
// (GET /api/v1/tasks/{taskId})
func (s *Server) GetTask(c echo.Context, taskID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	task, err := s.Manager.Task(c.Request().Context(), tenantID, taskID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// TransitionTask applies a compare-and-set status change
// (POST /api/v1/tasks/{taskId}/transition)
func (s *Server) TransitionTask(c echo.Context, taskID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req TransitionRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	from, err := models.ParseTaskStatus(req.From)
	if err != nil {
		return err
	}
	to, err := models.ParseTaskStatus(req.To)
	if err != nil {
		return err
	}
	task, err := s.Manager.TransitionTask(c.Request().Context(), tenantID, taskID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// ListArtifacts lists the artifacts recorded for a task
// (GET /api/v1/tasks/{taskId}/artifacts)
func (s *Server) ListArtifacts(c echo.Context, taskID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	artifacts, err := s.Manager.Artifacts(c.Request().Context(), tenantID, taskID)
	if err != nil {
		return err
	}
	if artifacts == nil {
		artifacts = []models.WorkArtifact{}
	}
	return c.JSON(http.StatusOK, artifacts)
}

// RecordArtifact stores a new artifact version for a task
// (POST /api/v1/tasks/{taskId}/artifacts)
func (s *Server) RecordArtifact(c echo.Context, taskID string) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req ArtifactRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	artifact, err := s.Manager.RecordArtifact(c.Request().Context(), tenantID, taskID, models.WorkArtifact{
		Type:       req.Type,
		ContentRef: req.ContentRef,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, artifact)
}
