package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers of the /api/v1 surface
// described in openapi.yaml.
type ServerInterface interface {
	// (GET /templates)
	ListTemplates(ctx echo.Context, params ListTemplatesParams) error
	// (GET /templates/{templateId})
	GetTemplate(ctx echo.Context, templateID string) error
	// (GET /task-templates)
	ListTaskTemplates(ctx echo.Context, params ListTaskTemplatesParams) error
	// (GET /workflows)
	ListWorkflows(ctx echo.Context, params ListWorkflowsParams) error
	// (POST /workflows)
	InstantiateWorkflow(ctx echo.Context) error
	// (GET /workflows/{workflowId})
	GetWorkflow(ctx echo.Context, workflowID string) error
	// (POST /workflows/{workflowId}/activate)
	ActivateWorkflow(ctx echo.Context, workflowID string) error
	// (POST /workflows/{workflowId}/cancel)
	CancelWorkflow(ctx echo.Context, workflowID string) error
	// (POST /workflows/{workflowId}/recompute)
	RecomputeWorkflow(ctx echo.Context, workflowID string) error
	// (GET /tasks/ready)
	ListReadyTasks(ctx echo.Context, params ListReadyTasksParams) error
	// (GET /tasks/{taskId})
	GetTask(ctx echo.Context, taskID string) error
	// (POST /tasks/{taskId}/transition)
	TransitionTask(ctx echo.Context, taskID string) error
	// (GET /tasks/{taskId}/artifacts)
	ListArtifacts(ctx echo.Context, taskID string) error
	// (POST /tasks/{taskId}/artifacts)
	RecordArtifact(ctx echo.Context, taskID string) error
}

// ListTemplatesParams defines parameters for ListTemplates.
type ListTemplatesParams struct {
	Complexity *string `form:"complexity,omitempty" json:"complexity,omitempty"`
}

// ListTaskTemplatesParams defines parameters for ListTaskTemplates.
type ListTaskTemplatesParams struct {
	Role *string `form:"role,omitempty" json:"role,omitempty"`
	Q    *string `form:"q,omitempty" json:"q,omitempty"`
}

// ListWorkflowsParams defines parameters for ListWorkflows.
type ListWorkflowsParams struct {
	Status *string `form:"status,omitempty" json:"status,omitempty"`
}

// ListReadyTasksParams defines parameters for ListReadyTasks.
type ListReadyTasksParams struct {
	Role *string `form:"role,omitempty" json:"role,omitempty"`
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func pathParam(ctx echo.Context, name string, dest *string) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter "+name+": "+err.Error())
	}
	return nil
}

func queryParam(ctx echo.Context, name string, dest **string) error {
	err := runtime.BindQueryParameter("form", true, false, name, ctx.QueryParams(), dest)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter "+name+": "+err.Error())
	}
	return nil
}

// ListTemplates converts echo context to params.
func (w *ServerInterfaceWrapper) ListTemplates(ctx echo.Context) error {
	var params ListTemplatesParams
	if err := queryParam(ctx, "complexity", &params.Complexity); err != nil {
		return err
	}
	return w.Handler.ListTemplates(ctx, params)
}

// GetTemplate converts echo context to params.
func (w *ServerInterfaceWrapper) GetTemplate(ctx echo.Context) error {
	var templateID string
	if err := pathParam(ctx, "templateId", &templateID); err != nil {
		return err
	}
	return w.Handler.GetTemplate(ctx, templateID)
}

// ListTaskTemplates converts echo context to params.
func (w *ServerInterfaceWrapper) ListTaskTemplates(ctx echo.Context) error {
	var params ListTaskTemplatesParams
	if err := queryParam(ctx, "role", &params.Role); err != nil {
		return err
	}
	if err := queryParam(ctx, "q", &params.Q); err != nil {
		return err
	}
	return w.Handler.ListTaskTemplates(ctx, params)
}

// ListWorkflows converts echo context to params.
func (w *ServerInterfaceWrapper) ListWorkflows(ctx echo.Context) error {
	var params ListWorkflowsParams
	if err := queryParam(ctx, "status", &params.Status); err != nil {
		return err
	}
	return w.Handler.ListWorkflows(ctx, params)
}

// InstantiateWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) InstantiateWorkflow(ctx echo.Context) error {
	return w.Handler.InstantiateWorkflow(ctx)
}

// GetWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) GetWorkflow(ctx echo.Context) error {
	var workflowID string
	if err := pathParam(ctx, "workflowId", &workflowID); err != nil {
		return err
	}
	return w.Handler.GetWorkflow(ctx, workflowID)
}

// ActivateWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) ActivateWorkflow(ctx echo.Context) error {
	var workflowID string
	if err := pathParam(ctx, "workflowId", &workflowID); err != nil {
		return err
	}
	return w.Handler.ActivateWorkflow(ctx, workflowID)
}

// CancelWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) CancelWorkflow(ctx echo.Context) error {
	var workflowID string
	if err := pathParam(ctx, "workflowId", &workflowID); err != nil {
		return err
	}
	return w.Handler.CancelWorkflow(ctx, workflowID)
}

// RecomputeWorkflow converts echo context to params.
func (w *ServerInterfaceWrapper) RecomputeWorkflow(ctx echo.Context) error {
	var workflowID string
	if err := pathParam(ctx, "workflowId", &workflowID); err != nil {
		return err
	}
	return w.Handler.RecomputeWorkflow(ctx, workflowID)
}

// ListReadyTasks converts echo context to params.
func (w *ServerInterfaceWrapper) ListReadyTasks(ctx echo.Context) error {
	var params ListReadyTasksParams
	if err := queryParam(ctx, "role", &params.Role); err != nil {
		return err
	}
	return w.Handler.ListReadyTasks(ctx, params)
}

// GetTask converts echo context to params.
func (w *ServerInterfaceWrapper) GetTask(ctx echo.Context) error {
	var taskID string
	if err := pathParam(ctx, "taskId", &taskID); err != nil {
		return err
	}
	return w.Handler.GetTask(ctx, taskID)
}

// TransitionTask converts echo context to params.
func (w *ServerInterfaceWrapper) TransitionTask(ctx echo.Context) error {
	var taskID string
	if err := pathParam(ctx, "taskId", &taskID); err != nil {
		return err
	}
	return w.Handler.TransitionTask(ctx, taskID)
}

// ListArtifacts converts echo context to params.
func (w *ServerInterfaceWrapper) ListArtifacts(ctx echo.Context) error {
	var taskID string
	if err := pathParam(ctx, "taskId", &taskID); err != nil {
		return err
	}
	return w.Handler.ListArtifacts(ctx, taskID)
}

// RecordArtifact converts echo context to params.
func (w *ServerInterfaceWrapper) RecordArtifact(ctx echo.Context) error {
	var taskID string
	if err := pathParam(ctx, "taskId", &taskID); err != nil {
		return err
	}
	return w.Handler.RecordArtifact(ctx, taskID)
}

// EchoRouter is the subset of echo routing RegisterHandlers needs; both
// *echo.Echo and *echo.Group satisfy it.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	w := &ServerInterfaceWrapper{Handler: si}

	router.GET("/templates", w.ListTemplates)
	router.GET("/templates/:templateId", w.GetTemplate)
	router.GET("/task-templates", w.ListTaskTemplates)
	router.GET("/workflows", w.ListWorkflows)
	router.POST("/workflows", w.InstantiateWorkflow)
	router.GET("/workflows/:workflowId", w.GetWorkflow)
	router.POST("/workflows/:workflowId/activate", w.ActivateWorkflow)
	router.POST("/workflows/:workflowId/cancel", w.CancelWorkflow)
	router.POST("/workflows/:workflowId/recompute", w.RecomputeWorkflow)
	router.GET("/tasks/ready", w.ListReadyTasks)
	router.GET("/tasks/:taskId", w.GetTask)
	router.POST("/tasks/:taskId/transition", w.TransitionTask)
	router.GET("/tasks/:taskId/artifacts", w.ListArtifacts)
	router.POST("/tasks/:taskId/artifacts", w.RecordArtifact)
}
