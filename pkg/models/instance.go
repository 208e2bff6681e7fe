package models

import (
	"time"
)

// WorkflowInstance is a tenant-owned execution of a WorkflowTemplate.
type WorkflowInstance struct {
	ID          string         `json:"id"`
	TemplateID  string         `json:"template_id"`
	TenantID    string         `json:"tenant_id"` // Multi-tenancy isolation
	Status      WorkflowStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// TaskInstance is a tenant-owned execution of a TaskTemplate inside one
// WorkflowInstance.
type TaskInstance struct {
	ID                 string     `json:"id"`
	TemplateID         string     `json:"template_id"`
	WorkflowInstanceID string     `json:"workflow_instance_id"`
	TenantID           string     `json:"tenant_id"`
	Status             TaskStatus `json:"status"`
	AssignedRole       Role       `json:"assigned_role"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// WorkArtifact points at a deliverable produced by a task. Content is stored
// elsewhere; ContentRef is opaque.
type WorkArtifact struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	TaskInstanceID string            `json:"task_instance_id"`
	Type           string            `json:"type"`
	ContentRef     string            `json:"content_ref"`
	CreatedAt      time.Time         `json:"created_at"`
	Version        int               `json:"version"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
