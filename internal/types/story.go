package types

import (
	"slices"
	"time"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
)

// StoryStatus represents the lifecycle state of a story.
type StoryStatus string

const (
	StoryStatusPending   StoryStatus = "pending"
	StoryStatusRunning   StoryStatus = "running"
	StoryStatusCompleted StoryStatus = "completed"
	StoryStatusFailed    StoryStatus = "failed"
)

// Valid returns true if this is a recognized status.
func (s StoryStatus) Valid() bool {
	switch s {
	case StoryStatusPending, StoryStatusRunning, StoryStatusCompleted, StoryStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo returns true if transitioning from s to target is valid.
// A completed story may be re-opened or failed by its verify gate.
func (s StoryStatus) CanTransitionTo(target StoryStatus) bool {
	switch s {
	case StoryStatusPending:
		return target == StoryStatusRunning
	case StoryStatusRunning:
		return target == StoryStatusCompleted || target == StoryStatusPending || target == StoryStatusFailed
	case StoryStatusCompleted:
		return target == StoryStatusPending || target == StoryStatusFailed
	case StoryStatusFailed:
		return false
	}
	return false
}

// Story is one iteration item of a loop step.
type Story struct {
	ID                 string      `yaml:"id" json:"id"`
	RunID              string      `yaml:"run_id" json:"run_id"`
	StoryIndex         int         `yaml:"story_index" json:"story_index"`
	StoryID            string      `yaml:"story_id" json:"story_id"`
	Title              string      `yaml:"title" json:"title"`
	Description        string      `yaml:"description,omitempty" json:"description,omitempty"`
	AcceptanceCriteria []string    `yaml:"acceptance_criteria,omitempty" json:"acceptance_criteria,omitempty"`
	Status             StoryStatus `yaml:"status" json:"status"`
	Output             string      `yaml:"output,omitempty" json:"output,omitempty"`
	RetryCount         int         `yaml:"retry_count" json:"retry_count"`
	MaxRetries         int         `yaml:"max_retries" json:"max_retries"`
	CreatedAt          time.Time   `yaml:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `yaml:"updated_at" json:"updated_at"`
}

// StoryInput is the caller-supplied part of a story.
type StoryInput struct {
	StoryIndex         int      `json:"story_index"`
	StoryID            string   `json:"story_id"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
}

// Clone returns a deep copy of the story.
func (s *Story) Clone() *Story {
	cp := *s
	cp.AcceptanceCriteria = slices.Clone(s.AcceptanceCriteria)
	return &cp
}

// Transition moves the story to target, stamping UpdatedAt.
func (s *Story) Transition(target StoryStatus, now time.Time) error {
	if !s.Status.CanTransitionTo(target) {
		return deckerrors.InvalidTransition("story", s.ID, string(s.Status), string(target))
	}
	s.Status = target
	s.UpdatedAt = now
	return nil
}

// SortStories orders stories by index, then by business key.
func SortStories(stories []*Story) {
	slices.SortStableFunc(stories, func(a, b *Story) int {
		if a.StoryIndex != b.StoryIndex {
			return a.StoryIndex - b.StoryIndex
		}
		if a.StoryID < b.StoryID {
			return -1
		}
		if a.StoryID > b.StoryID {
			return 1
		}
		return 0
	})
}
