package store

import (
	"fmt"
	"sort"
	"time"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// snapshotVersion is bumped when the persisted layout changes.
const snapshotVersion = 1

// snapshot is the complete persisted state.
type snapshot struct {
	Version int                     `yaml:"version"`
	Runs    map[string]*types.Run   `yaml:"runs"`
	Steps   map[string]*types.Step  `yaml:"steps"`
	Stories map[string]*types.Story `yaml:"stories"`
}

func newSnapshot() *snapshot {
	s := &snapshot{Version: snapshotVersion}
	s.init()
	return s
}

// init allocates maps left nil by decoding an empty document.
func (s *snapshot) init() {
	if s.Runs == nil {
		s.Runs = make(map[string]*types.Run)
	}
	if s.Steps == nil {
		s.Steps = make(map[string]*types.Step)
	}
	if s.Stories == nil {
		s.Stories = make(map[string]*types.Story)
	}
}

// tx reads through a write overlay onto a base snapshot. The base is never
// modified until commit.
type tx struct {
	base     *snapshot
	writable bool

	runs    map[string]*types.Run
	steps   map[string]*types.Step
	stories map[string]*types.Story
}

func newTx(base *snapshot, writable bool) *tx {
	return &tx{
		base:     base,
		writable: writable,
		runs:     make(map[string]*types.Run),
		steps:    make(map[string]*types.Step),
		stories:  make(map[string]*types.Story),
	}
}

// dirty reports whether the transaction wrote anything.
func (t *tx) dirty() bool {
	return len(t.runs)+len(t.steps)+len(t.stories) > 0
}

// commit applies the overlay to the base snapshot.
func (t *tx) commit() {
	for id, r := range t.runs {
		t.base.Runs[id] = r
	}
	for id, s := range t.steps {
		t.base.Steps[id] = s
	}
	for id, s := range t.stories {
		t.base.Stories[id] = s
	}
}

func (t *tx) getRun(id string) (*types.Run, bool) {
	if r, ok := t.runs[id]; ok {
		return r, true
	}
	r, ok := t.base.Runs[id]
	return r, ok
}

func (t *tx) getStep(id string) (*types.Step, bool) {
	if s, ok := t.steps[id]; ok {
		return s, true
	}
	s, ok := t.base.Steps[id]
	return s, ok
}

func (t *tx) getStory(id string) (*types.Story, bool) {
	if s, ok := t.stories[id]; ok {
		return s, true
	}
	s, ok := t.base.Stories[id]
	return s, ok
}

func (t *tx) eachRun(fn func(*types.Run)) {
	for id, r := range t.base.Runs {
		if over, ok := t.runs[id]; ok {
			r = over
		}
		fn(r)
	}
	for id, r := range t.runs {
		if _, ok := t.base.Runs[id]; !ok {
			fn(r)
		}
	}
}

func (t *tx) eachStep(fn func(*types.Step)) {
	for id, s := range t.base.Steps {
		if over, ok := t.steps[id]; ok {
			s = over
		}
		fn(s)
	}
	for id, s := range t.steps {
		if _, ok := t.base.Steps[id]; !ok {
			fn(s)
		}
	}
}

func (t *tx) eachStory(fn func(*types.Story)) {
	for id, s := range t.base.Stories {
		if over, ok := t.stories[id]; ok {
			s = over
		}
		fn(s)
	}
	for id, s := range t.stories {
		if _, ok := t.base.Stories[id]; !ok {
			fn(s)
		}
	}
}

func (t *tx) Run(id string) (*types.Run, error) {
	r, ok := t.getRun(id)
	if !ok {
		return nil, deckerrors.RunNotFound(id)
	}
	return r.Clone(), nil
}

func (t *tx) Runs(filter RunFilter) []*types.Run {
	var out []*types.Run
	t.eachRun(func(r *types.Run) {
		if filter.matches(r) {
			out = append(out, r.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func (t *tx) Step(id string) (*types.Step, error) {
	s, ok := t.getStep(id)
	if !ok {
		return nil, deckerrors.StepNotFound(id)
	}
	return s.Clone(), nil
}

func (t *tx) StepsForRun(runID string) []*types.Step {
	var out []*types.Step
	t.eachStep(func(s *types.Step) {
		if s.RunID == runID {
			out = append(out, s.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

func (t *tx) PendingSteps(agentID string) []*types.Step {
	type candidate struct {
		step *types.Step
		run  *types.Run
	}
	var cands []candidate
	t.eachStep(func(s *types.Step) {
		if s.Status != types.StepStatusPending || s.AgentID != agentID {
			return
		}
		run, ok := t.getRun(s.RunID)
		if !ok || run.Status != types.RunStatusRunning {
			return
		}
		cands = append(cands, candidate{step: s, run: run})
	})
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if !a.run.CreatedAt.Equal(b.run.CreatedAt) {
			return a.run.CreatedAt.Before(b.run.CreatedAt)
		}
		if a.run.ID != b.run.ID {
			return a.run.ID < b.run.ID
		}
		return a.step.Position < b.step.Position
	})
	out := make([]*types.Step, len(cands))
	for i, c := range cands {
		out[i] = c.step.Clone()
	}
	return out
}

func (t *tx) RunningStepsBefore(cutoff time.Time) []*types.Step {
	var out []*types.Step
	t.eachStep(func(s *types.Step) {
		if s.Status != types.StepStatusRunning || !s.UpdatedAt.Before(cutoff) {
			return
		}
		if run, ok := t.getRun(s.RunID); !ok || run.Status != types.RunStatusRunning {
			return
		}
		out = append(out, s.Clone())
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

func (t *tx) Story(id string) (*types.Story, error) {
	s, ok := t.getStory(id)
	if !ok {
		return nil, deckerrors.StoryNotFound(id)
	}
	return s.Clone(), nil
}

func (t *tx) StoriesForRun(runID string) []*types.Story {
	var out []*types.Story
	t.eachStory(func(s *types.Story) {
		if s.RunID == runID {
			out = append(out, s.Clone())
		}
	})
	types.SortStories(out)
	return out
}

func (t *tx) InsertRun(run *types.Run) error {
	if !t.writable {
		return ErrReadOnly
	}
	if _, exists := t.getRun(run.ID); exists {
		return fmt.Errorf("run already exists: %s", run.ID)
	}
	t.runs[run.ID] = run.Clone()
	return nil
}

func (t *tx) InsertStep(step *types.Step) error {
	if !t.writable {
		return ErrReadOnly
	}
	if _, exists := t.getStep(step.ID); exists {
		return fmt.Errorf("step already exists: %s", step.ID)
	}
	if _, ok := t.getRun(step.RunID); !ok {
		return deckerrors.RunNotFound(step.RunID)
	}
	t.steps[step.ID] = step.Clone()
	return nil
}

func (t *tx) InsertStory(story *types.Story) error {
	if !t.writable {
		return ErrReadOnly
	}
	if _, exists := t.getStory(story.ID); exists {
		return fmt.Errorf("story already exists: %s", story.ID)
	}
	if _, ok := t.getRun(story.RunID); !ok {
		return deckerrors.RunNotFound(story.RunID)
	}
	t.stories[story.ID] = story.Clone()
	return nil
}

func (t *tx) UpdateRun(run *types.Run, from types.RunStatus) (bool, error) {
	if !t.writable {
		return false, ErrReadOnly
	}
	cur, ok := t.getRun(run.ID)
	if !ok {
		return false, deckerrors.RunNotFound(run.ID)
	}
	if cur.Status != from {
		return false, nil
	}
	t.runs[run.ID] = run.Clone()
	return true, nil
}

func (t *tx) UpdateStep(step *types.Step, from types.StepStatus) (bool, error) {
	if !t.writable {
		return false, ErrReadOnly
	}
	cur, ok := t.getStep(step.ID)
	if !ok {
		return false, deckerrors.StepNotFound(step.ID)
	}
	if cur.Status != from {
		return false, nil
	}
	t.steps[step.ID] = step.Clone()
	return true, nil
}

func (t *tx) UpdateStory(story *types.Story, from types.StoryStatus) (bool, error) {
	if !t.writable {
		return false, ErrReadOnly
	}
	cur, ok := t.getStory(story.ID)
	if !ok {
		return false, deckerrors.StoryNotFound(story.ID)
	}
	if cur.Status != from {
		return false, nil
	}
	t.stories[story.ID] = story.Clone()
	return true, nil
}

var _ Tx = (*tx)(nil)
