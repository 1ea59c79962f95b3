package types

import (
	"fmt"
	"sort"
)

// StepKind determines how the engine dispatches a step.
type StepKind string

const (
	StepKindSingle   StepKind = "single"   // One unit of agent work
	StepKindLoop     StepKind = "loop"     // One unit of agent work per story
	StepKindApproval StepKind = "approval" // Blocks on a human decision, never dispatched
)

// Valid returns true if this is a recognized step kind.
func (k StepKind) Valid() bool {
	switch k {
	case StepKindSingle, StepKindLoop, StepKindApproval:
		return true
	}
	return false
}

// LoopOver names the iteration source of a loop step.
const LoopOverStories = "stories"

// LoopCompletion names the completion policy of a loop step.
const LoopCompletionAllDone = "all_done"

// LoopConfig configures a loop step.
type LoopConfig struct {
	Over         string `yaml:"over" toml:"over" json:"over"`
	Completion   string `yaml:"completion" toml:"completion" json:"completion"`
	FreshSession bool   `yaml:"fresh_session,omitempty" toml:"fresh_session,omitempty" json:"fresh_session,omitempty"`
	VerifyEach   bool   `yaml:"verify_each,omitempty" toml:"verify_each,omitempty" json:"verify_each,omitempty"`
	VerifyStepID string `yaml:"verify_step,omitempty" toml:"verify_step,omitempty" json:"verify_step,omitempty"`
}

// Clone returns a copy of the config, or nil.
func (c *LoopConfig) Clone() *LoopConfig {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// StepSpec is the immutable definition of one step of a workflow template.
type StepSpec struct {
	StepID         string      `yaml:"id" toml:"id" json:"step_id"`
	AgentID        string      `yaml:"agent,omitempty" toml:"agent,omitempty" json:"agent_id,omitempty"`
	Kind           StepKind    `yaml:"kind,omitempty" toml:"kind,omitempty" json:"kind"`
	Input          string      `yaml:"input,omitempty" toml:"input,omitempty" json:"input_template,omitempty"`
	ExpectedMarker string      `yaml:"expects,omitempty" toml:"expects,omitempty" json:"expected_marker,omitempty"`
	Position       int         `yaml:"position,omitempty" toml:"position,omitempty" json:"position"`
	MaxRetries     *int        `yaml:"max_retries,omitempty" toml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Loop           *LoopConfig `yaml:"loop,omitempty" toml:"loop,omitempty" json:"loop,omitempty"`
}

// WorkflowTemplate is an immutable, ordered list of step definitions.
type WorkflowTemplate struct {
	ID          string     `yaml:"id" toml:"id" json:"id"`
	Name        string     `yaml:"name" toml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	Steps       []StepSpec `yaml:"steps" toml:"steps" json:"steps"`
}

// Normalize fills defaults: a missing kind becomes single, a missing position
// becomes the declaration order, loop configs get their default source and
// completion policy. Steps are left sorted by position.
func (w *WorkflowTemplate) Normalize() {
	explicit := false
	for _, s := range w.Steps {
		if s.Position != 0 {
			explicit = true
			break
		}
	}
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.Kind == "" {
			s.Kind = StepKindSingle
		}
		if !explicit {
			s.Position = i + 1
		}
		if s.Loop != nil {
			if s.Loop.Over == "" {
				s.Loop.Over = LoopOverStories
			}
			if s.Loop.Completion == "" {
				s.Loop.Completion = LoopCompletionAllDone
			}
		}
	}
	sort.SliceStable(w.Steps, func(i, j int) bool {
		return w.Steps[i].Position < w.Steps[j].Position
	})
}

// Validate checks that the template is internally consistent.
func (w *WorkflowTemplate) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", w.ID)
	}

	ids := make(map[string]StepKind, len(w.Steps))
	positions := make(map[int]string, len(w.Steps))
	for _, s := range w.Steps {
		if s.StepID == "" {
			return fmt.Errorf("step at position %d has no id", s.Position)
		}
		if _, dup := ids[s.StepID]; dup {
			return fmt.Errorf("duplicate step id %q", s.StepID)
		}
		if other, dup := positions[s.Position]; dup {
			return fmt.Errorf("steps %q and %q share position %d", other, s.StepID, s.Position)
		}
		if !s.Kind.Valid() {
			return fmt.Errorf("step %s: invalid kind %q", s.StepID, s.Kind)
		}
		if s.Kind != StepKindApproval && s.AgentID == "" {
			return fmt.Errorf("step %s: agent is required", s.StepID)
		}
		if s.MaxRetries != nil && *s.MaxRetries < 0 {
			return fmt.Errorf("step %s: max_retries must not be negative", s.StepID)
		}
		switch {
		case s.Kind == StepKindLoop && s.Loop == nil:
			return fmt.Errorf("step %s: loop step requires loop config", s.StepID)
		case s.Kind != StepKindLoop && s.Loop != nil:
			return fmt.Errorf("step %s: loop config on %s step", s.StepID, s.Kind)
		}
		ids[s.StepID] = s.Kind
		positions[s.Position] = s.StepID
	}

	for _, s := range w.Steps {
		if s.Loop == nil {
			continue
		}
		if s.Loop.Over != LoopOverStories {
			return fmt.Errorf("step %s: unsupported loop source %q", s.StepID, s.Loop.Over)
		}
		if s.Loop.Completion != LoopCompletionAllDone {
			return fmt.Errorf("step %s: unsupported loop completion %q", s.StepID, s.Loop.Completion)
		}
		if !s.Loop.VerifyEach {
			continue
		}
		kind, ok := ids[s.Loop.VerifyStepID]
		if !ok {
			return fmt.Errorf("step %s: verify step %q not defined", s.StepID, s.Loop.VerifyStepID)
		}
		if kind != StepKindSingle || s.Loop.VerifyStepID == s.StepID {
			return fmt.Errorf("step %s: verify step %q must be a different single step", s.StepID, s.Loop.VerifyStepID)
		}
		// The gate is parked until the loop activates it, so it must sit after the loop.
		if verify, _ := w.Spec(s.Loop.VerifyStepID); verify.Position < s.Position {
			return fmt.Errorf("step %s: verify step %q must come after the loop", s.StepID, s.Loop.VerifyStepID)
		}
	}
	return nil
}

// Spec returns the step definition with the given step ID.
func (w *WorkflowTemplate) Spec(stepID string) (StepSpec, bool) {
	for _, s := range w.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepSpec{}, false
}

// VerifyStepIDs returns the set of step IDs used as verify gates by loop steps.
func (w *WorkflowTemplate) VerifyStepIDs() map[string]bool {
	out := make(map[string]bool)
	for _, s := range w.Steps {
		if s.Loop != nil && s.Loop.VerifyEach {
			out[s.Loop.VerifyStepID] = true
		}
	}
	return out
}
