package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"workgraph/internal/repository"
	"workgraph/pkg/models"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Templates int       `json:"templates"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "workgraph",
		Version:   Version,
		Templates: len(s.Registry.WorkflowIDs()),
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
	// Retryable marks stale writes the caller may re-read and resubmit.
	Retryable bool `json:"retryable,omitempty"`
}

var problemStatus = []struct {
	err    error
	status int
	title  string
}{
	{models.ErrTemplateNotFound, http.StatusNotFound, "Template Not Found"},
	{models.ErrNotFound, http.StatusNotFound, "Not Found"},
	{models.ErrCrossTenantAccess, http.StatusForbidden, "Cross-Tenant Access"},
	{models.ErrTenantUnknown, http.StatusForbidden, "Tenant Unknown"},
	{models.ErrStaleState, http.StatusPreconditionFailed, "Stale State"},
	{models.ErrInvalidTransition, http.StatusConflict, "Invalid Transition"},
	{repository.ErrConflict, http.StatusConflict, "Conflict"},
	{models.ErrCycleDetected, http.StatusUnprocessableEntity, "Cycle Detected"},
	{models.ErrInvalidInput, http.StatusUnprocessableEntity, "Invalid Input"},
}

// problemFor maps an error onto its Problem Details body.
func problemFor(err error) ProblemDetails {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		detail := http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
		return ProblemDetails{Type: "about:blank", Title: http.StatusText(he.Code), Status: he.Code, Detail: detail}
	}
	for _, p := range problemStatus {
		if errors.Is(err, p.err) {
			return ProblemDetails{
				Type:      "about:blank",
				Title:     p.title,
				Status:    p.status,
				Detail:    err.Error(),
				Retryable: models.IsRetryable(err),
			}
		}
	}
	return ProblemDetails{
		Type:   "about:blank",
		Title:  http.StatusText(http.StatusInternalServerError),
		Status: http.StatusInternalServerError,
		Detail: "internal error",
	}
}

// ErrorHandler renders every handler error as application/problem+json.
func (s *Server) ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	problem := problemFor(err)
	problem.Instance = c.Request().URL.Path
	if problem.Status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "path", problem.Instance, "error", err)
	} else {
		s.Logger.Debug("request rejected", "path", problem.Instance, "status", problem.Status, "error", err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(problem.Status)
		return
	}
	_ = c.JSON(problem.Status, problem)
}
