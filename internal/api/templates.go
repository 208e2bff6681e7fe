package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"workgraph/pkg/models"
)

// TemplateTask is one task template as placed inside a workflow template.
type TemplateTask struct {
	models.TaskTemplate
	Placement models.UsedInEdge      `json:"placement"`
	DependsOn []models.DependsOnEdge `json:"depends_on"`
}

// TemplateDetail is a workflow template with its tasks in dispatch order.
type TemplateDetail struct {
	models.WorkflowTemplate
	Tasks []TemplateTask `json:"tasks"`
}

// ListTemplates returns the workflow templates
// (GET /api/v1/templates)
func (s *Server) ListTemplates(c echo.Context, params ListTemplatesParams) error {
	if params.Complexity != nil && *params.Complexity != "" {
		level, err := models.ParseComplexityLevel(*params.Complexity)
		if err != nil {
			return err
		}
		out := s.Registry.WorkflowsByComplexity(level)
		if out == nil {
			out = []models.WorkflowTemplate{}
		}
		return c.JSON(http.StatusOK, out)
	}
	return c.JSON(http.StatusOK, s.Registry.Workflows())
}

// GetTemplate returns a workflow template with its placements and the
// dependencies scoped to it
// (GET /api/v1/templates/{templateId})
func (s *Server) GetTemplate(c echo.Context, templateID string) error {
	wf, err := s.Registry.Workflow(templateID)
	if err != nil {
		return err
	}
	tasks, err := s.Registry.WorkflowTasks(templateID)
	if err != nil {
		return err
	}
	detail := TemplateDetail{WorkflowTemplate: wf, Tasks: make([]TemplateTask, 0, len(tasks))}
	for _, t := range tasks {
		placement, _ := s.Registry.Placement(templateID, t.ID)
		deps := s.Registry.Prerequisites(templateID, t.ID)
		if deps == nil {
			deps = []models.DependsOnEdge{}
		}
		detail.Tasks = append(detail.Tasks, TemplateTask{TaskTemplate: t, Placement: placement, DependsOn: deps})
	}
	return c.JSON(http.StatusOK, detail)
}

// ListTaskTemplates filters task templates by role or keyword
// (GET /api/v1/task-templates)
func (s *Server) ListTaskTemplates(c echo.Context, params ListTaskTemplatesParams) error {
	var out []models.TaskTemplate
	switch {
	case params.Q != nil && *params.Q != "":
		out = s.Registry.SearchTasks(*params.Q)
		if params.Role != nil && *params.Role != "" {
			role, err := models.ParseRole(*params.Role)
			if err != nil {
				return err
			}
			filtered := out[:0]
			for _, t := range out {
				if t.Role == role {
					filtered = append(filtered, t)
				}
			}
			out = filtered
		}
	case params.Role != nil && *params.Role != "":
		role, err := models.ParseRole(*params.Role)
		if err != nil {
			return err
		}
		out = s.Registry.TasksByRole(role)
	default:
		for _, role := range s.Registry.Roles() {
			out = append(out, s.Registry.TasksByRole(role)...)
		}
	}
	if out == nil {
		out = []models.TaskTemplate{}
	}
	return c.JSON(http.StatusOK, out)
}
