package types

import (
	"time"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
)

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusWaiting          StepStatus = "waiting"           // Not reached yet, or parked behind a verify gate
	StepStatusPending          StepStatus = "pending"           // Claimable
	StepStatusRunning          StepStatus = "running"           // Claimed by an agent
	StepStatusAwaitingApproval StepStatus = "awaiting_approval" // Blocked on a human decision
	StepStatusCompleted        StepStatus = "completed"         // Finished successfully
	StepStatusFailed           StepStatus = "failed"            // Retries exhausted or rejected
)

// Valid returns true if this is a recognized status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusWaiting, StepStatusPending, StepStatusRunning,
		StepStatusAwaitingApproval, StepStatusCompleted, StepStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final (completed or failed).
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// stepTransitions is the exhaustive step state machine.
var stepTransitions = map[StepStatus][]StepStatus{
	// Activated by pipeline advancement or a verify gate; closed when its loop finishes.
	StepStatusWaiting: {StepStatusPending, StepStatusCompleted, StepStatusFailed},
	// Claimed; approval steps park; a loop with no stories left completes on claim.
	StepStatusPending: {StepStatusRunning, StepStatusAwaitingApproval, StepStatusCompleted},
	// Done, retried, exhausted, or parked behind its verify gate.
	StepStatusRunning: {StepStatusCompleted, StepStatusPending, StepStatusFailed, StepStatusWaiting},
	// Approve or reject; no retry path.
	StepStatusAwaitingApproval: {StepStatusCompleted, StepStatusFailed},
	StepStatusCompleted:        nil,
	StepStatusFailed:           nil,
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s StepStatus) CanTransitionTo(target StepStatus) bool {
	for _, next := range stepTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Step is the runtime instance of a StepSpec within a run.
type Step struct {
	// Identity
	ID       string   `yaml:"id" json:"id"`
	RunID    string   `yaml:"run_id" json:"run_id"`
	StepID   string   `yaml:"step_id" json:"step_id"`
	AgentID  string   `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	Position int      `yaml:"position" json:"position"`
	Kind     StepKind `yaml:"kind" json:"kind"`

	// Definition copied from the template
	InputTemplate  string      `yaml:"input_template,omitempty" json:"input_template,omitempty"`
	ExpectedMarker string      `yaml:"expected_marker,omitempty" json:"expected_marker,omitempty"`
	Loop           *LoopConfig `yaml:"loop,omitempty" json:"loop,omitempty"`

	// Lifecycle
	Status     StepStatus `yaml:"status" json:"status"`
	Output     string     `yaml:"output,omitempty" json:"output,omitempty"`
	RetryCount int        `yaml:"retry_count" json:"retry_count"`
	MaxRetries int        `yaml:"max_retries" json:"max_retries"`
	CreatedAt  time.Time  `yaml:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `yaml:"updated_at" json:"updated_at"`

	// Loop bookkeeping
	CurrentStoryID   string `yaml:"current_story_id,omitempty" json:"current_story_id,omitempty"`
	VerifyingStoryID string `yaml:"verifying_story_id,omitempty" json:"verifying_story_id,omitempty"`
}

// NewStep instantiates a spec for a run.
func NewStep(id, runID string, spec StepSpec, maxRetries int, status StepStatus, now time.Time) *Step {
	if spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}
	return &Step{
		ID:             id,
		RunID:          runID,
		StepID:         spec.StepID,
		AgentID:        spec.AgentID,
		Position:       spec.Position,
		Kind:           spec.Kind,
		InputTemplate:  spec.Input,
		ExpectedMarker: spec.ExpectedMarker,
		Loop:           spec.Loop.Clone(),
		Status:         status,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	cp := *s
	cp.Loop = s.Loop.Clone()
	return &cp
}

// IsLoop returns true for loop steps.
func (s *Step) IsLoop() bool {
	return s.Kind == StepKindLoop && s.Loop != nil
}

// VerifiesEach returns true if every completed story must pass a verify gate.
func (s *Step) VerifiesEach() bool {
	return s.IsLoop() && s.Loop.VerifyEach && s.Loop.VerifyStepID != ""
}

// Transition moves the step to target, stamping UpdatedAt.
// It keeps the loop invariant: a story is only in flight while running.
func (s *Step) Transition(target StepStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(target) {
		return deckerrors.InvalidTransition("step", s.ID, string(s.Status), string(target))
	}
	s.Status = target
	s.UpdatedAt = now
	if target != StepStatusRunning {
		s.CurrentStoryID = ""
	}
	if target != StepStatusWaiting {
		s.VerifyingStoryID = ""
	}
	return nil
}
