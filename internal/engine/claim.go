package engine

import (
	"context"
	"errors"
	"time"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/logging"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/template"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// Claim hands the oldest claimable step assigned to agentID to the caller.
// Abandoned work is reclaimed first. A result with Found false means there
// is nothing to do right now.
func (e *Engine) Claim(ctx context.Context, agentID string) (*ClaimResult, error) {
	if agentID == "" {
		return nil, deckerrors.InvalidArgument("agent_id", "must not be empty")
	}
	log := logging.WithAgent(e.logger, agentID)

	if _, err := e.ReapAbandoned(ctx, e.abandonAfter); err != nil {
		log.Warn("reap before claim failed", "error", err)
	}

	var candidates []*types.Step
	if err := e.store.View(ctx, func(tx store.Tx) error {
		candidates = tx.PendingSteps(agentID)
		return nil
	}); err != nil {
		return nil, err
	}

	for _, c := range candidates {
		var res *ClaimResult
		err := e.store.Update(ctx, func(tx store.Tx) error {
			var err error
			res, err = e.claimStep(tx, c.ID, e.clock.Now())
			return err
		})
		if errors.Is(err, errConflict) {
			log.Debug("lost claim race", "step_id", c.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue
		}
		if res.Found {
			log.Info("step claimed", "run_id", res.RunID, "step_id", res.StepID, "step", res.Step, "story_id", res.StoryID)
		}
		return res, nil
	}
	return &ClaimResult{}, nil
}

// claimStep tries to claim one candidate. A nil result means the candidate
// was skipped and the next one should be tried. A result with Found false
// ends the poll after the transaction commits.
func (e *Engine) claimStep(tx store.Tx, stepID string, now time.Time) (*ClaimResult, error) {
	step, err := tx.Step(stepID)
	if err != nil {
		return nil, err
	}
	if step.Status != types.StepStatusPending {
		return nil, nil
	}
	run, err := tx.Run(step.RunID)
	if err != nil {
		return nil, err
	}
	if run.Status != types.RunStatusRunning {
		return nil, nil
	}

	switch {
	case step.Kind == types.StepKindApproval:
		if err := park(tx, run, step, now); err != nil {
			return nil, err
		}
		if err := saveRun(tx, run); err != nil {
			return nil, err
		}
		logging.WithStep(e.logger, run.ID, step.ID).Info("step awaiting approval", "step", step.StepID)
		return &ClaimResult{}, nil

	case step.IsLoop():
		return e.claimStory(tx, run, step, now)
	}

	vars := run.Context
	storyID := ""
	if loop := gatedLoop(tx, step); loop != nil {
		story, err := tx.Story(loop.VerifyingStoryID)
		if err != nil {
			return nil, err
		}
		vars = template.StoryContext(run.Context, story, tx.StoriesForRun(run.ID))
		storyID = story.StoryID
	}
	if err := moveStep(tx, step, types.StepStatusRunning, now); err != nil {
		return nil, err
	}
	return &ClaimResult{
		Found:   true,
		StepID:  step.ID,
		RunID:   run.ID,
		Step:    step.StepID,
		Input:   template.Resolve(step.InputTemplate, vars),
		StoryID: storyID,
	}, nil
}

// claimStory starts the lowest-index pending story of a loop step. With no
// pending story left the loop either finishes or, when a story failed, is
// skipped so it cannot block the agent's other work.
func (e *Engine) claimStory(tx store.Tx, run *types.Run, step *types.Step, now time.Time) (*ClaimResult, error) {
	stories := tx.StoriesForRun(run.ID)
	p := progress(stories)

	if p.firstOpen == nil {
		if p.failed > 0 {
			return nil, nil
		}
		completed, err := finishLoop(tx, run, step, now)
		if err != nil {
			return nil, err
		}
		if err := saveRun(tx, run); err != nil {
			return nil, err
		}
		logging.WithStep(e.logger, run.ID, step.ID).Info("loop finished", "step", step.StepID, "stories", p.total, "run_completed", completed)
		return &ClaimResult{}, nil
	}

	story := p.firstOpen
	if err := moveStory(tx, story, types.StoryStatusRunning, now); err != nil {
		return nil, err
	}
	step.CurrentStoryID = story.ID
	if err := moveStep(tx, step, types.StepStatusRunning, now); err != nil {
		return nil, err
	}

	return &ClaimResult{
		Found:        true,
		StepID:       step.ID,
		RunID:        run.ID,
		Step:         step.StepID,
		Input:        template.Resolve(step.InputTemplate, template.StoryContext(run.Context, story, stories)),
		StoryID:      story.StoryID,
		FreshSession: step.Loop.FreshSession,
	}, nil
}
