// Package worker models the external worker agents the coordinator
// dispatches to. Workers are opaque: the coordinator hands a role a
// subtask spec and consumes only the result contract and activity
// updates, never the role's internals.
package worker

import (
	"context"
	"fmt"
	"time"
)

// Role is the closed set of worker roles.
type Role string

const (
	RoleEngineer       Role = "engineer"
	RoleTester         Role = "tester"
	RoleReviewer       Role = "reviewer"
	RoleInspector      Role = "inspector"
	RoleArchitect      Role = "architect"
	RoleProductManager Role = "product_manager"
)

// Roles lists every valid role.
var Roles = []Role{
	RoleEngineer, RoleTester, RoleReviewer,
	RoleInspector, RoleArchitect, RoleProductManager,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts a string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Spec is the subtask specification supplied to a worker: the one
// input a role's accept capability takes.
type Spec struct {
	SubtaskID string   `json:"subtask_id"`
	PacketID  string   `json:"packet_id"`
	Work      string   `json:"work"`
	Owns      []string `json:"owns,omitempty"`
	// ScopeNote narrows the spec on respawn after a stall.
	ScopeNote string `json:"scope_note,omitempty"`
	Attempt   int    `json:"attempt"`
}

// Result is the contract a worker returns. The coordinator inspects
// nothing beyond it.
type Result struct {
	SubtaskID    string        `json:"subtask_id"`
	WorkerID     string        `json:"worker_id"`
	Success      bool          `json:"success"`
	Output       string        `json:"output,omitempty"`
	Error        string        `json:"error,omitempty"`
	FilesChanged []string      `json:"files_changed,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Runner executes a subtask spec on behalf of a role.
type Runner interface {
	Accept(ctx context.Context, spec Spec) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, spec Spec) (*Result, error)

// Accept calls the function.
func (f RunnerFunc) Accept(ctx context.Context, spec Spec) (*Result, error) {
	return f(ctx, spec)
}
