package templates

import (
	"fmt"
	"sort"
	"strings"

	"workgraph/pkg/models"
)

// Registry is an immutable, validated view of the Foundation Layer. It is
// built once at startup and never mutated, so all accessors are safe for
// concurrent use without locking.
type Registry struct {
	segments  map[string]models.BusinessSegment
	tasks     map[string]models.TaskTemplate
	workflows map[string]models.WorkflowTemplate

	// placements holds each workflow's USED_IN edges in dispatch order.
	placements map[string][]models.UsedInEdge
	placement  map[placementKey]models.UsedInEdge
	// prerequisites[workflow][task] lists the edges task depends on;
	// dependents[workflow][task] lists the edges that depend on task.
	prerequisites map[string]map[string][]models.DependsOnEdge
	dependents    map[string]map[string][]models.DependsOnEdge
}

type placementKey struct {
	workflow string
	task     string
}

// New validates the bundle and builds a Registry. Duplicate ids, dangling
// references, unknown enum values and dependency cycles are all rejected; a
// cycle is reported as *models.CycleError.
func New(bundle Bundle) (*Registry, error) {
	b, err := bundle.normalize()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		segments:      make(map[string]models.BusinessSegment, len(b.Segments)),
		tasks:         make(map[string]models.TaskTemplate, len(b.Tasks)),
		workflows:     make(map[string]models.WorkflowTemplate, len(b.Workflows)),
		placements:    make(map[string][]models.UsedInEdge),
		placement:     make(map[placementKey]models.UsedInEdge, len(b.UsedIn)),
		prerequisites: make(map[string]map[string][]models.DependsOnEdge),
		dependents:    make(map[string]map[string][]models.DependsOnEdge),
	}

	for _, s := range b.Segments {
		if s.ID == "" {
			return nil, fmt.Errorf("%w: business segment without id", models.ErrInvalidInput)
		}
		if _, dup := r.segments[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate business segment %s", models.ErrInvalidInput, s.ID)
		}
		r.segments[s.ID] = s
	}
	for _, t := range b.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: task template without id", models.ErrInvalidInput)
		}
		if _, dup := r.tasks[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate task template %s", models.ErrInvalidInput, t.ID)
		}
		if _, ok := r.segments[t.SegmentID]; !ok {
			return nil, fmt.Errorf("%w: task template %s references unknown segment %q", models.ErrInvalidInput, t.ID, t.SegmentID)
		}
		r.tasks[t.ID] = t
	}
	for _, w := range b.Workflows {
		if w.ID == "" {
			return nil, fmt.Errorf("%w: workflow template without id", models.ErrInvalidInput)
		}
		if _, dup := r.workflows[w.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate workflow template %s", models.ErrInvalidInput, w.ID)
		}
		if _, ok := r.segments[w.SegmentID]; !ok {
			return nil, fmt.Errorf("%w: workflow template %s references unknown segment %q", models.ErrInvalidInput, w.ID, w.SegmentID)
		}
		r.workflows[w.ID] = w
	}

	for _, u := range b.UsedIn {
		if _, ok := r.tasks[u.TaskID]; !ok {
			return nil, fmt.Errorf("%w: used_in references unknown task template %q", models.ErrInvalidInput, u.TaskID)
		}
		if _, ok := r.workflows[u.WorkflowID]; !ok {
			return nil, fmt.Errorf("%w: used_in references unknown workflow template %q", models.ErrInvalidInput, u.WorkflowID)
		}
		key := placementKey{workflow: u.WorkflowID, task: u.TaskID}
		if _, dup := r.placement[key]; dup {
			return nil, fmt.Errorf("%w: task %s used twice in workflow %s", models.ErrInvalidInput, u.TaskID, u.WorkflowID)
		}
		r.placement[key] = u
		r.placements[u.WorkflowID] = append(r.placements[u.WorkflowID], u)
	}
	for id, edges := range r.placements {
		sort.SliceStable(edges, func(i, j int) bool { return LessPlacement(edges[i], edges[j]) })
		w := r.workflows[id]
		if w.TotalTasks == 0 {
			w.TotalTasks = len(edges)
			r.workflows[id] = w
		} else if w.TotalTasks != len(edges) {
			return nil, fmt.Errorf("%w: workflow template %s declares %d tasks but %d are used in it",
				models.ErrInvalidInput, id, w.TotalTasks, len(edges))
		}
	}

	for _, d := range b.DependsOn {
		if _, ok := r.workflows[d.WorkflowContext]; !ok {
			return nil, fmt.Errorf("%w: depends_on %s -> %s has unknown workflow context %q",
				models.ErrInvalidInput, d.TaskID, d.DependsOnID, d.WorkflowContext)
		}
		for _, id := range []string{d.TaskID, d.DependsOnID} {
			if _, ok := r.tasks[id]; !ok {
				return nil, fmt.Errorf("%w: depends_on references unknown task template %q", models.ErrInvalidInput, id)
			}
			if _, ok := r.placement[placementKey{workflow: d.WorkflowContext, task: id}]; !ok {
				return nil, fmt.Errorf("%w: depends_on task %s is not used in workflow %s",
					models.ErrInvalidInput, id, d.WorkflowContext)
			}
		}
		addEdge(r.prerequisites, d.WorkflowContext, d.TaskID, d)
		addEdge(r.dependents, d.WorkflowContext, d.DependsOnID, d)
	}

	for _, id := range r.WorkflowIDs() {
		if err := r.ValidateAcyclic(id); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func addEdge(index map[string]map[string][]models.DependsOnEdge, workflow, task string, d models.DependsOnEdge) {
	byTask, ok := index[workflow]
	if !ok {
		byTask = make(map[string][]models.DependsOnEdge)
		index[workflow] = byTask
	}
	byTask[task] = append(byTask[task], d)
}

// LessPlacement orders placements by sequence position, then descending
// priority score, then task template id.
func LessPlacement(a, b models.UsedInEdge) bool {
	if ra, rb := a.Position.Rank(), b.Position.Rank(); ra != rb {
		return ra < rb
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.TaskID < b.TaskID
}

// Segment returns a business segment by id.
func (r *Registry) Segment(id string) (models.BusinessSegment, bool) {
	s, ok := r.segments[id]
	return s, ok
}

// Task returns a task template by id.
func (r *Registry) Task(id string) (models.TaskTemplate, bool) {
	t, ok := r.tasks[id]
	return t, ok
}

// Workflow returns a workflow template by id, or ErrTemplateNotFound.
func (r *Registry) Workflow(id string) (models.WorkflowTemplate, error) {
	w, ok := r.workflows[id]
	if !ok {
		return models.WorkflowTemplate{}, fmt.Errorf("workflow template %q: %w", id, models.ErrTemplateNotFound)
	}
	return w, nil
}

// WorkflowIDs returns every workflow template id in sorted order.
func (r *Registry) WorkflowIDs() []string {
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Workflows returns every workflow template sorted by id.
func (r *Registry) Workflows() []models.WorkflowTemplate {
	out := make([]models.WorkflowTemplate, 0, len(r.workflows))
	for _, id := range r.WorkflowIDs() {
		out = append(out, r.workflows[id])
	}
	return out
}

// Placements returns the USED_IN edges into a workflow in dispatch order.
func (r *Registry) Placements(workflowID string) []models.UsedInEdge {
	return append([]models.UsedInEdge(nil), r.placements[workflowID]...)
}

// Placement returns the USED_IN edge of task inside workflow.
func (r *Registry) Placement(workflowID, taskID string) (models.UsedInEdge, bool) {
	u, ok := r.placement[placementKey{workflow: workflowID, task: taskID}]
	return u, ok
}

// Prerequisites returns the DEPENDS_ON edges task has within workflow.
func (r *Registry) Prerequisites(workflowID, taskID string) []models.DependsOnEdge {
	return append([]models.DependsOnEdge(nil), r.prerequisites[workflowID][taskID]...)
}

// Dependents returns the DEPENDS_ON edges that name task as prerequisite
// within workflow.
func (r *Registry) Dependents(workflowID, taskID string) []models.DependsOnEdge {
	return append([]models.DependsOnEdge(nil), r.dependents[workflowID][taskID]...)
}

// Roles returns the distinct roles task templates are written for.
func (r *Registry) Roles() []models.Role {
	seen := make(map[models.Role]struct{})
	for _, t := range r.tasks {
		seen[t.Role] = struct{}{}
	}
	var out []models.Role
	for _, role := range models.Roles {
		if _, ok := seen[role]; ok {
			out = append(out, role)
		}
	}
	return out
}

// TasksByRole lists the task templates for role sorted by name.
func (r *Registry) TasksByRole(role models.Role) []models.TaskTemplate {
	var out []models.TaskTemplate
	for _, t := range r.tasks {
		if t.Role == role {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

// WorkflowsByComplexity lists the workflow templates of a complexity level.
func (r *Registry) WorkflowsByComplexity(level models.ComplexityLevel) []models.WorkflowTemplate {
	var out []models.WorkflowTemplate
	for _, w := range r.Workflows() {
		if w.Complexity == level {
			out = append(out, w)
		}
	}
	return out
}

// SearchTasks does a case-insensitive keyword search over task names,
// prompts and keywords.
func (r *Registry) SearchTasks(keyword string) []models.TaskTemplate {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return nil
	}
	var out []models.TaskTemplate
	for _, t := range r.tasks {
		hay := strings.ToLower(t.Name + "\n" + t.Prompt + "\n" + strings.Join(t.Keywords, " "))
		if strings.Contains(hay, needle) {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

func sortTasks(tasks []models.TaskTemplate) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Role != tasks[j].Role {
			return tasks[i].Role < tasks[j].Role
		}
		if tasks[i].Name != tasks[j].Name {
			return tasks[i].Name < tasks[j].Name
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// WorkflowTasks returns the task templates of a workflow in dispatch order.
func (r *Registry) WorkflowTasks(workflowID string) ([]models.TaskTemplate, error) {
	if _, err := r.Workflow(workflowID); err != nil {
		return nil, err
	}
	placements := r.placements[workflowID]
	out := make([]models.TaskTemplate, 0, len(placements))
	for _, u := range placements {
		out = append(out, r.tasks[u.TaskID])
	}
	return out, nil
}
