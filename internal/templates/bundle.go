// Package templates holds the shared, read-only Foundation Layer: business
// segments, task and workflow templates and the USED_IN / DEPENDS_ON edges
// between them.
package templates

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"workgraph/pkg/models"
)

// Bundle is the collaborator-supplied template data a Registry is built from.
type Bundle struct {
	Segments  []models.BusinessSegment  `yaml:"segments" json:"segments"`
	Tasks     []models.TaskTemplate     `yaml:"tasks" json:"tasks"`
	Workflows []models.WorkflowTemplate `yaml:"workflows" json:"workflows"`
	UsedIn    []models.UsedInEdge       `yaml:"used_in" json:"used_in"`
	DependsOn []models.DependsOnEdge    `yaml:"depends_on" json:"depends_on"`
}

// DecodeBundle reads a YAML template bundle. Unknown fields are rejected.
func DecodeBundle(r io.Reader) (Bundle, error) {
	var b Bundle
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("templates: decode bundle: %w", err)
	}
	return b, nil
}

// LoadBundleFile decodes the YAML bundle at path.
func LoadBundleFile(path string) (Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("templates: open bundle: %w", err)
	}
	defer f.Close()
	return DecodeBundle(f)
}

// normalize canonicalises every enum-valued field, failing on the first
// unrecognised value.
func (b Bundle) normalize() (Bundle, error) {
	out := Bundle{
		Segments:  append([]models.BusinessSegment(nil), b.Segments...),
		Tasks:     make([]models.TaskTemplate, len(b.Tasks)),
		Workflows: make([]models.WorkflowTemplate, len(b.Workflows)),
		UsedIn:    make([]models.UsedInEdge, len(b.UsedIn)),
		DependsOn: make([]models.DependsOnEdge, len(b.DependsOn)),
	}
	for i, t := range b.Tasks {
		role, err := models.ParseRole(string(t.Role))
		if err != nil {
			return Bundle{}, fmt.Errorf("task template %s: %w", t.ID, err)
		}
		t.Role = role
		out.Tasks[i] = t
	}
	for i, w := range b.Workflows {
		raw := make([]string, len(w.InvolvedRoles))
		for j, r := range w.InvolvedRoles {
			raw[j] = string(r)
		}
		roles, err := models.ParseRoles(raw...)
		if err != nil {
			return Bundle{}, fmt.Errorf("workflow template %s: %w", w.ID, err)
		}
		w.InvolvedRoles = roles
		if w.Complexity != "" {
			level, err := models.ParseComplexityLevel(string(w.Complexity))
			if err != nil {
				return Bundle{}, fmt.Errorf("workflow template %s: %w", w.ID, err)
			}
			w.Complexity = level
		}
		out.Workflows[i] = w
	}
	for i, u := range b.UsedIn {
		pos, err := models.ParseSequencePosition(string(u.Position))
		if err != nil {
			return Bundle{}, fmt.Errorf("used_in %s -> %s: %w", u.TaskID, u.WorkflowID, err)
		}
		u.Position = pos
		raw := make([]string, len(u.VisibilityRoles))
		for j, r := range u.VisibilityRoles {
			raw[j] = string(r)
		}
		if u.VisibilityRoles, err = models.ParseRoles(raw...); err != nil {
			return Bundle{}, fmt.Errorf("used_in %s -> %s: %w", u.TaskID, u.WorkflowID, err)
		}
		out.UsedIn[i] = u
	}
	for i, d := range b.DependsOn {
		typ, err := models.ParseDependencyType(string(d.Type))
		if err != nil {
			return Bundle{}, fmt.Errorf("depends_on %s -> %s: %w", d.TaskID, d.DependsOnID, err)
		}
		d.Type = typ
		out.DependsOn[i] = d
	}
	return out, nil
}
