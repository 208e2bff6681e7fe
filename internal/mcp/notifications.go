package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"workgraph/internal/notify"
)

// NotificationMethod prefixes the JSON-RPC method of pushed task events.
const NotificationMethod = "notifications/workgraph/"

// sessionRegistry tracks which tenant each connected session belongs to.
type sessionRegistry struct {
	mu       sync.RWMutex
	byTenant map[string]map[string]struct{}
	tenant   map[string]string
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		byTenant: make(map[string]map[string]struct{}),
		tenant:   make(map[string]string),
	}
}

func (r *sessionRegistry) add(tenantID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.tenant[sessionID]; ok {
		delete(r.byTenant[prev], sessionID)
	}
	set := r.byTenant[tenantID]
	if set == nil {
		set = make(map[string]struct{})
		r.byTenant[tenantID] = set
	}
	set[sessionID] = struct{}{}
	r.tenant[sessionID] = tenantID
}

func (r *sessionRegistry) remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenantID, ok := r.tenant[sessionID]
	if !ok {
		return
	}
	delete(r.tenant, sessionID)
	delete(r.byTenant[tenantID], sessionID)
	if len(r.byTenant[tenantID]) == 0 {
		delete(r.byTenant, tenantID)
	}
}

func (r *sessionRegistry) tenantOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.tenant[sessionID]
	return id, ok
}

// sessions returns the sessions of a tenant in a stable order.
func (r *sessionRegistry) sessions(tenantID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTenant[tenantID]))
	for id := range r.byTenant[tenantID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NotificationSink pushes task events to the MCP sessions of the event's
// tenant only.
type NotificationSink struct {
	s *Server
}

var _ notify.Sink = NotificationSink{}

// Sink returns the notify.Sink delivering to this server's sessions.
func (s *Server) Sink() NotificationSink { return NotificationSink{s: s} }

func (n NotificationSink) Name() string { return "mcp" }

func (n NotificationSink) Publish(ctx context.Context, ev notify.Event) error {
	params := map[string]any{
		"event_id":             ev.ID,
		"task_instance_id":     ev.TaskInstanceID,
		"workflow_instance_id": ev.WorkflowInstanceID,
		"task_template_id":     ev.TaskTemplateID,
		"role":                 string(ev.Role),
		"occurred_at":          ev.OccurredAt.Format(time.RFC3339Nano),
	}
	if ev.TriggerID != "" {
		params["trigger"] = ev.TriggerID
	}

	var errs []error
	for _, sessionID := range n.s.sessions.sessions(ev.TenantID) {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		err := n.s.mcpServer.SendNotificationToSpecificClient(sessionID, NotificationMethod+string(ev.Kind), params)
		if err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", sessionID, err))
		}
	}
	return errors.Join(errs...)
}
