// Package mcp exposes the workflow engine to agents over the Model Context
// Protocol and pushes task notifications to their sessions.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"workgraph/internal/auth"
	"workgraph/internal/engine"
	"workgraph/internal/templates"
	"workgraph/pkg/models"
)

// Logger is the subset of the application logger used here.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type Server struct {
	mcpServer *server.MCPServer
	manager   *engine.Manager
	registry  *templates.Registry
	sessions  *sessionRegistry
	logger    Logger
}

func NewServer(manager *engine.Manager, registry *templates.Registry, logger Logger) *Server {
	s := &Server{
		manager:  manager,
		registry: registry,
		sessions: newSessionRegistry(),
		logger:   logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(s.onRegister)
	hooks.AddOnUnregisterSession(s.onUnregister)

	s.mcpServer = server.NewMCPServer(
		"workgraph",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) onRegister(ctx context.Context, session server.ClientSession) {
	tenantID, ok := auth.TenantFromContext(ctx)
	if !ok {
		s.logger.Warn("mcp session without tenant", "session_id", session.SessionID())
		return
	}
	s.sessions.add(tenantID, session.SessionID())
	s.logger.Debug("mcp session registered", "session_id", session.SessionID(), "tenant_id", tenantID)
}

func (s *Server) onUnregister(ctx context.Context, session server.ClientSession) {
	s.sessions.remove(session.SessionID())
	s.logger.Debug("mcp session unregistered", "session_id", session.SessionID())
}

// sessionContext attaches the tenant a session registered under when the
// message request itself does not carry one.
func (s *Server) sessionContext(ctx context.Context, r *http.Request) context.Context {
	if _, ok := auth.TenantFromContext(ctx); ok {
		return ctx
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return ctx
	}
	if tenantID, ok := s.sessions.tenantOf(session.SessionID()); ok {
		return auth.WithTenant(ctx, tenantID)
	}
	return ctx
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_templates",
			mcp.WithDescription("List the workflow templates that can be instantiated"),
		),
		s.handleListTemplates,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"instantiate_workflow",
			mcp.WithDescription("Create a workflow instance with one task per template task"),
			mcp.WithString("template_id", mcp.Required(), mcp.Description("Workflow template id")),
			mcp.WithBoolean("activate", mcp.Description("Activate the workflow immediately")),
		),
		s.handleInstantiate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("Show a workflow instance and its tasks"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow instance id")),
		),
		s.handleGetWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"cancel_workflow",
			mcp.WithDescription("Cancel a workflow and its open tasks"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow instance id")),
		),
		s.handleCancel,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_ready_tasks",
			mcp.WithDescription("List tasks that are ready to start"),
			mcp.WithString("role", mcp.Description("Only tasks assigned to this role (PRODM, BA, BSA, PRODO)")),
		),
		s.handleListReady,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"transition_task",
			mcp.WithDescription("Move a task from the status you last saw to a new status"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task instance id")),
			mcp.WithString("from", mcp.Required(), mcp.Description("Status the task is expected to have")),
			mcp.WithString("to", mcp.Required(), mcp.Description("Target status")),
		),
		s.handleTransition,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"record_artifact",
			mcp.WithDescription("Record a deliverable produced by a task"),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task instance id")),
			mcp.WithString("type", mcp.Required(), mcp.Description("Artifact type, e.g. PRD")),
			mcp.WithString("content_ref", mcp.Required(), mcp.Description("Where the content is stored")),
		),
		s.handleRecordArtifact,
	)
}

func tenantOf(ctx context.Context) (string, *mcp.CallToolResult) {
	tenantID, ok := auth.TenantFromContext(ctx)
	if !ok {
		return "", mcp.NewToolResultError("No tenant bound to this session")
	}
	return tenantID, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// failure reports domain errors to the agent as tool errors so it can react;
// stale writes say so explicitly.
func failure(action string, err error) *mcp.CallToolResult {
	if errors.Is(err, models.ErrStaleState) {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v (re-read the task and retry)", action, err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", action, err))
}

func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.registry.Workflows())
}

func (s *Server) handleInstantiate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, res := tenantOf(ctx)
	if res != nil {
		return res, nil
	}
	templateID, err := request.RequireString("template_id")
	if err != nil || templateID == "" {
		return mcp.NewToolResultError("Missing required parameter: template_id"), nil
	}

	wf, err := s.manager.Instantiate(ctx, templateID, tenantID)
	if err != nil {
		return failure("instantiate", err), nil
	}
	if request.GetBool("activate", false) && wf.Status == models.WorkflowCreated {
		if _, err := s.manager.Activate(ctx, tenantID, wf.ID); err != nil {
			return failure("activate", err), nil
		}
	}
	view, err := s.manager.Workflow(ctx, tenantID, wf.ID)
	if err != nil {
		return failure("load workflow", err), nil
	}
	return jsonResult(view)
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, res := tenantOf(ctx)
	if res != nil {
		return res, nil
	}
	workflowID, err := request.RequireString("workflow_id")
	if err != nil || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	view, err := s.manager.Workflow(ctx, tenantID, workflowID)
	if err != nil {
		return failure("load workflow", err), nil
	}
	return jsonResult(view)
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, res := tenantOf(ctx)
	if res != nil {
		return res, nil
	}
	workflowID, err := request.RequireString("workflow_id")
	if err != nil || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	if err := s.manager.CancelWorkflow(ctx, tenantID, workflowID); err != nil {
		return failure("cancel", err), nil
	}
	return mcp.NewToolResultText("Workflow cancelled"), nil
}

func (s *Server) handleListReady(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, res := tenantOf(ctx)
	if res != nil {
		return res, nil
	}
	var role models.Role
	if raw := request.GetString("role", ""); raw != "" {
		var err error
		if role, err = models.ParseRole(raw); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	tasks, err := s.manager.ReadyTasks(ctx, tenantID, role)
	if err != nil {
		return failure("list ready tasks", err), nil
	}
	if tasks == nil {
		tasks = []models.TaskInstance{}
	}
	return jsonResult(tasks)
}

func (s *Server) handleTransition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, res := tenantOf(ctx)
	if res != nil {
		return res, nil
	}
	taskID, err := request.RequireString("task_id")
	if err != nil || taskID == "" {
		return mcp.NewToolResultError("Missing required parameter: task_id"), nil
	}
	from, err := models.ParseTaskStatus(request.GetString("from", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := models.ParseTaskStatus(request.GetString("to", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	task, err := s.manager.TransitionTask(ctx, tenantID, taskID, from, to)
	if err != nil {
		return failure("transition", err), nil
	}
	return jsonResult(task)
}

func (s *Server) handleRecordArtifact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, res := tenantOf(ctx)
	if res != nil {
		return res, nil
	}
	taskID, err := request.RequireString("task_id")
	if err != nil || taskID == "" {
		return mcp.NewToolResultError("Missing required parameter: task_id"), nil
	}

	artifact, err := s.manager.RecordArtifact(ctx, tenantID, taskID, models.WorkArtifact{
		Type:       request.GetString("type", ""),
		ContentRef: request.GetString("content_ref", ""),
	})
	if err != nil {
		return failure("record artifact", err), nil
	}
	return jsonResult(artifact)
}

// MountHTTPHandlers serves the SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, s *Server) {
	sseServer := server.NewSSEServer(s.mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(s.sessionContext),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
