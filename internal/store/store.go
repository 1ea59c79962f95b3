// Package store persists runs, steps and stories behind a transactional
// interface with conditional (compare-and-swap) writes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// ErrReadOnly is returned by write methods called inside View.
var ErrReadOnly = errors.New("store: write in read-only transaction")

// Store runs transactions against the persisted state.
type Store interface {
	// Update runs fn in a read-write transaction. Writes become visible
	// atomically when fn returns nil and are discarded when it returns an error.
	Update(ctx context.Context, fn func(Tx) error) error

	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Tx) error) error

	// Close releases resources held by the store.
	Close() error
}

// Tx is a consistent view of the state. Every value it returns is a copy:
// changes reach the store only through the Insert and Update methods.
type Tx interface {
	// Run returns the run with the given id or a RunNotFound error.
	Run(id string) (*types.Run, error)
	// Runs returns runs matching filter, newest first.
	Runs(filter RunFilter) []*types.Run

	// Step returns the step with the given id or a StepNotFound error.
	Step(id string) (*types.Step, error)
	// StepsForRun returns the steps of a run ordered by position.
	StepsForRun(runID string) []*types.Step
	// PendingSteps returns the pending steps assigned to agentID whose run is
	// still running, oldest run first, then by position.
	PendingSteps(agentID string) []*types.Step
	// RunningStepsBefore returns running steps of running runs last updated before t.
	RunningStepsBefore(t time.Time) []*types.Step

	// Story returns the story with the given id or a StoryNotFound error.
	Story(id string) (*types.Story, error)
	// StoriesForRun returns the stories of a run ordered by story index.
	StoriesForRun(runID string) []*types.Story

	InsertRun(run *types.Run) error
	InsertStep(step *types.Step) error
	InsertStory(story *types.Story) error

	// UpdateRun stores run if the stored status still equals from.
	// It reports whether the write applied.
	UpdateRun(run *types.Run, from types.RunStatus) (bool, error)
	// UpdateStep stores step if the stored status still equals from.
	UpdateStep(step *types.Step, from types.StepStatus) (bool, error)
	// UpdateStory stores story if the stored status still equals from.
	UpdateStory(story *types.Story, from types.StoryStatus) (bool, error)
}

// RunFilter selects runs for listing.
type RunFilter struct {
	Status     types.RunStatus // Filter by status (empty = all)
	TemplateID string          // Filter by template (empty = all)
	Limit      int             // Maximum results (0 = no limit)
}

func (f RunFilter) matches(r *types.Run) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.TemplateID != "" && r.TemplateID != f.TemplateID {
		return false
	}
	return true
}
