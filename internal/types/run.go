package types

import (
	"maps"
	"time"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
)

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"   // Steps are being worked
	RunStatusCompleted RunStatus = "completed" // Every step completed
	RunStatusFailed    RunStatus = "failed"    // A step exhausted its retries or was rejected
	RunStatusCancelled RunStatus = "cancelled" // Stopped from outside
)

// Valid returns true if this is a recognized run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s RunStatus) CanTransitionTo(target RunStatus) bool {
	switch s {
	case RunStatusRunning:
		return target == RunStatusCompleted || target == RunStatusFailed || target == RunStatusCancelled
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return false
	}
	return false
}

// Run is one execution of a workflow template.
type Run struct {
	// Identity
	ID         string `yaml:"id" json:"id"`
	TemplateID string `yaml:"template_id" json:"template_id"`
	Task       string `yaml:"task" json:"task"`

	// Lifecycle
	Status           RunStatus  `yaml:"status" json:"status"`
	AwaitingApproval bool       `yaml:"awaiting_approval,omitempty" json:"awaiting_approval"`
	CreatedAt        time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `yaml:"updated_at" json:"updated_at"`
	DoneAt           *time.Time `yaml:"done_at,omitempty" json:"done_at,omitempty"`

	// Variables accumulated from step outputs, keys lower-cased
	Context map[string]string `yaml:"context,omitempty" json:"context,omitempty"`
}

// NewRun creates a running run with the given initial context.
func NewRun(id, templateID, task string, vars map[string]string, now time.Time) *Run {
	ctx := make(map[string]string, len(vars)+2)
	maps.Copy(ctx, vars)
	ctx["task"] = task
	ctx["run_id"] = id
	return &Run{
		ID:         id,
		TemplateID: templateID,
		Task:       task,
		Status:     RunStatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
		Context:    ctx,
	}
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Context = maps.Clone(r.Context)
	if r.DoneAt != nil {
		t := *r.DoneAt
		cp.DoneAt = &t
	}
	return &cp
}

// Transition moves the run to target, stamping timestamps.
func (r *Run) Transition(target RunStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(target) {
		return deckerrors.InvalidTransition("run", r.ID, string(r.Status), string(target))
	}
	r.Status = target
	r.UpdatedAt = now
	if target.IsTerminal() {
		r.DoneAt = &now
		r.AwaitingApproval = false
	}
	return nil
}

// MergeContext folds vars into the run context, last write wins.
func (r *Run) MergeContext(vars map[string]string) {
	if len(vars) == 0 {
		return
	}
	if r.Context == nil {
		r.Context = make(map[string]string, len(vars))
	}
	maps.Copy(r.Context, vars)
}
