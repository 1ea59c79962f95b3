package engine

import (
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// activate makes a waiting step claimable. An approval step nobody polls
// for is parked for a human right away.
func activate(tx store.Tx, run *types.Run, s *types.Step, now time.Time) error {
	if err := moveStep(tx, s, types.StepStatusPending, now); err != nil {
		return err
	}
	if s.Kind == types.StepKindApproval && s.AgentID == "" {
		return park(tx, run, s, now)
	}
	return nil
}

// park moves a pending approval step to awaiting_approval and flags the run.
func park(tx store.Tx, run *types.Run, s *types.Step, now time.Time) error {
	if err := moveStep(tx, s, types.StepStatusAwaitingApproval, now); err != nil {
		return err
	}
	run.AwaitingApproval = true
	run.UpdatedAt = now
	return nil
}

// advance activates the first waiting step positioned after pos. With none
// left the run completes. It reports whether the run completed. The caller
// saves run.
func advance(tx store.Tx, run *types.Run, pos int, now time.Time) (bool, error) {
	for _, s := range tx.StepsForRun(run.ID) {
		if s.Position <= pos || s.Status != types.StepStatusWaiting {
			continue
		}
		return false, activate(tx, run, s, now)
	}
	if err := run.Transition(types.RunStatusCompleted, now); err != nil {
		return false, err
	}
	return true, nil
}

// finishLoop completes a loop step whose stories are all done, closes its
// verify gate, and advances past it.
func finishLoop(tx store.Tx, run *types.Run, loop *types.Step, now time.Time) (bool, error) {
	if err := moveStep(tx, loop, types.StepStatusCompleted, now); err != nil {
		return false, err
	}
	if loop.VerifiesEach() {
		if gate := stepNamed(tx, run.ID, loop.Loop.VerifyStepID); gate != nil && !gate.Status.IsTerminal() {
			if err := moveStep(tx, gate, types.StepStatusCompleted, now); err != nil {
				return false, err
			}
		}
	}
	return advance(tx, run, loop.Position, now)
}

// failRun fails run after an exhausted budget or a rejection. The caller saves run.
func failRun(run *types.Run, now time.Time) error {
	return run.Transition(types.RunStatusFailed, now)
}

// stepNamed returns the step of a run with the given template step id.
func stepNamed(tx store.Tx, runID, stepID string) *types.Step {
	for _, s := range tx.StepsForRun(runID) {
		if s.StepID == stepID {
			return s
		}
	}
	return nil
}

// gatedLoop returns the loop step currently parked behind verify, or nil
// when verify is not acting as a gate right now.
func gatedLoop(tx store.Tx, verify *types.Step) *types.Step {
	for _, s := range tx.StepsForRun(verify.RunID) {
		if s.VerifiesEach() && s.Loop.VerifyStepID == verify.StepID &&
			s.Status == types.StepStatusWaiting && s.VerifyingStoryID != "" {
			return s
		}
	}
	return nil
}

// storyProgress summarizes the story set of a run.
type storyProgress struct {
	pending   int
	failed    int
	total     int
	firstOpen *types.Story // lowest-index pending story
}

func progress(stories []*types.Story) storyProgress {
	var p storyProgress
	p.total = len(stories)
	for _, s := range stories {
		switch s.Status {
		case types.StoryStatusPending:
			p.pending++
			if p.firstOpen == nil {
				p.firstOpen = s
			}
		case types.StoryStatusFailed:
			p.failed++
		}
	}
	return p
}
