package models

import (
	"time"
)

// Tenant is a customer organisation. RoleLabels is advisory display metadata.
type Tenant struct {
	ID         string          `json:"id" yaml:"id"`
	Name       string          `json:"name" yaml:"name"`
	Domain     string          `json:"domain" yaml:"domain"`
	RoleLabels map[Role]string `json:"role_labels,omitempty" yaml:"role_labels,omitempty"`
	CreatedAt  time.Time       `json:"created_at" yaml:"-"`
}
