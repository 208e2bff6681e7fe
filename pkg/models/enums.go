// Package models defines the template and instance contracts of the workflow
// knowledge graph.
package models

import (
	"fmt"
	"strings"
)

// Role identifies the business role a task template is written for.
type Role string

const (
	RoleProductManager  Role = "PRODM"
	RoleBusinessAnalyst Role = "BA"
	RoleSystemsAnalyst  Role = "BSA"
	RoleProductOwner    Role = "PRODO"
)

// Roles lists every recognised role in canonical order.
var Roles = []Role{RoleProductManager, RoleBusinessAnalyst, RoleSystemsAnalyst, RoleProductOwner}

// ParseRole converts source data into a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for _, r := range Roles {
		if string(r) == v {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// ParseRoles parses a list of roles, also accepting a single comma or
// semicolon separated string as found in flat source files. Duplicates are
// dropped while preserving first-seen order.
func ParseRoles(values ...string) ([]Role, error) {
	var out []Role
	seen := make(map[Role]struct{})
	for _, raw := range values {
		for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
			if strings.TrimSpace(part) == "" {
				continue
			}
			role, err := ParseRole(part)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			out = append(out, role)
		}
	}
	return out, nil
}

// SequencePosition places a task within its workflow.
type SequencePosition string

const (
	PositionStart SequencePosition = "Start"
	PositionEarly SequencePosition = "Early"
	PositionMid   SequencePosition = "Mid"
	PositionLate  SequencePosition = "Late"
	PositionEnd   SequencePosition = "End"
)

var positionRanks = map[SequencePosition]int{
	PositionStart: 0,
	PositionEarly: 1,
	PositionMid:   2,
	PositionLate:  3,
	PositionEnd:   4,
}

// Rank orders positions Start < Early < Mid < Late < End.
func (p SequencePosition) Rank() int {
	if r, ok := positionRanks[p]; ok {
		return r
	}
	return len(positionRanks)
}

// ParseSequencePosition converts source data into a SequencePosition.
func ParseSequencePosition(s string) (SequencePosition, error) {
	v := normalizeToken(s)
	for p := range positionRanks {
		if normalizeToken(string(p)) == v {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown sequence position %q", ErrInvalidInput, s)
}

// DependencyType is the strength of a DEPENDS_ON edge.
type DependencyType string

const (
	DependencyHard DependencyType = "Hard"
	DependencySoft DependencyType = "Soft"
)

// ParseDependencyType converts source data into a DependencyType.
func ParseDependencyType(s string) (DependencyType, error) {
	switch normalizeToken(s) {
	case "hard":
		return DependencyHard, nil
	case "soft":
		return DependencySoft, nil
	}
	return "", fmt.Errorf("%w: unknown dependency type %q", ErrInvalidInput, s)
}

// ComplexityLevel grades a workflow template.
type ComplexityLevel string

const (
	ComplexityLow    ComplexityLevel = "Low"
	ComplexityMedium ComplexityLevel = "Medium"
	ComplexityHigh   ComplexityLevel = "High"
)

// ParseComplexityLevel converts source data into a ComplexityLevel.
func ParseComplexityLevel(s string) (ComplexityLevel, error) {
	switch normalizeToken(s) {
	case "low":
		return ComplexityLow, nil
	case "medium":
		return ComplexityMedium, nil
	case "high":
		return ComplexityHigh, nil
	}
	return "", fmt.Errorf("%w: unknown complexity level %q", ErrInvalidInput, s)
}

// normalizeToken lowercases and strips separators so "In Progress",
// "in_progress" and "InProgress" compare equal.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}
