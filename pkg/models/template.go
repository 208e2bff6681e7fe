package models

// BusinessSegment is the top-level container for templates.
type BusinessSegment struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`
}

// TaskTemplate is the reusable definition of one role-scoped task.
type TaskTemplate struct {
	ID            string   `json:"id" yaml:"id"`
	SegmentID     string   `json:"segment_id" yaml:"segment_id"`
	Role          Role     `json:"role" yaml:"role"`
	Name          string   `json:"name" yaml:"name"`
	Prompt        string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ArtifactTypes []string `json:"artifact_types,omitempty" yaml:"artifact_types,omitempty"`
	Keywords      []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// WorkflowTemplate groups task templates into a business workflow.
type WorkflowTemplate struct {
	ID            string          `json:"id" yaml:"id"`
	SegmentID     string          `json:"segment_id" yaml:"segment_id"`
	Name          string          `json:"name" yaml:"name"`
	BusinessValue string          `json:"business_value,omitempty" yaml:"business_value,omitempty"`
	TotalTasks    int             `json:"total_tasks" yaml:"total_tasks"`
	InvolvedRoles []Role          `json:"involved_roles" yaml:"involved_roles"`
	Complexity    ComplexityLevel `json:"complexity" yaml:"complexity"`
}

// UsedInEdge places a task template inside a workflow template
// (TaskTemplate -> WorkflowTemplate).
type UsedInEdge struct {
	TaskID              string           `json:"task_id" yaml:"task_id"`
	WorkflowID          string           `json:"workflow_id" yaml:"workflow_id"`
	Position            SequencePosition `json:"position" yaml:"position"`
	Priority            float64          `json:"priority" yaml:"priority"`
	NotificationTrigger string           `json:"notification_trigger,omitempty" yaml:"notification_trigger,omitempty"`
	VisibilityRoles     []Role           `json:"visibility_roles,omitempty" yaml:"visibility_roles,omitempty"`
}

// DependsOnEdge declares that TaskID may not become ready until DependsOnID
// satisfies the dependency type, within the scope of one workflow template.
type DependsOnEdge struct {
	TaskID          string         `json:"task_id" yaml:"task_id"`
	DependsOnID     string         `json:"depends_on" yaml:"depends_on"`
	WorkflowContext string         `json:"workflow_context" yaml:"workflow_context"`
	Type            DependencyType `json:"type" yaml:"type"`
	Priority        float64        `json:"priority" yaml:"priority"`
}
