package engine

import (
	"context"
	"fmt"
	"time"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/logging"
	"github.com/castleridge-io/clawdeck-sub002/internal/outputs"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// Complete records the output of a running step and moves the run forward.
// Context variables and a story block in output are applied first; a
// malformed story block is reported in Warnings and does not abort.
func (e *Engine) Complete(ctx context.Context, stepID, output string) (*CompleteResult, error) {
	var (
		res *CompleteResult
		log = e.logger
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		res = &CompleteResult{}
		now := e.clock.Now()

		step, err := tx.Step(stepID)
		if err != nil {
			return err
		}
		run, err := activeRun(tx, step.RunID)
		if err != nil {
			return err
		}
		if step.Status != types.StepStatusRunning {
			return deckerrors.InvalidTransition("step", step.ID, string(step.Status), string(types.StepStatusCompleted))
		}
		log = logging.WithStep(e.logger, run.ID, step.ID)

		parsed := outputs.Parse(output)
		run.MergeContext(parsed.Context)
		run.UpdatedAt = now
		if parsed.StoriesErr != nil {
			log.Warn("ignoring story block", "error", parsed.StoriesErr)
			res.Warnings = append(res.Warnings, parsed.StoriesErr.Error())
		} else if parsed.HasStories {
			created, err := e.createStories(tx, run, parsed.Stories, now)
			if err != nil && !deckerrors.HasCode(err, deckerrors.CodeInvalidArgument) {
				return err
			}
			if err != nil {
				log.Warn("ignoring story block", "error", err)
				res.Warnings = append(res.Warnings, err.Error())
			}
			res.StoriesCreated = len(created)
		}

		step.Output = output
		gated := gatedLoop(tx, step)
		switch {
		case step.IsLoop() && step.CurrentStoryID != "":
			err = e.completeStory(tx, run, step, output, now, res)
		case gated != nil:
			err = e.completeGate(tx, run, step, gated, output, parsed.Context, now, res)
		default:
			if err = moveStep(tx, step, types.StepStatusCompleted, now); err == nil {
				res.StepCompleted = true
				res.RunCompleted, err = advance(tx, run, step.Position, now)
			}
		}
		if err != nil {
			return err
		}
		return saveRun(tx, run)
	})
	if err != nil {
		return nil, err
	}
	log.Info("step completed",
		"step_completed", res.StepCompleted,
		"run_completed", res.RunCompleted,
		"run_failed", res.RunFailed,
		"stories_created", res.StoriesCreated,
	)
	return res, nil
}

// completeStory finishes the story in flight on a loop step. With verify_each
// the loop parks until its verify step has judged the story.
func (e *Engine) completeStory(tx store.Tx, run *types.Run, loop *types.Step, output string, now time.Time, res *CompleteResult) error {
	story, err := tx.Story(loop.CurrentStoryID)
	if err != nil {
		return err
	}
	story.Output = output
	if err := moveStory(tx, story, types.StoryStatusCompleted, now); err != nil {
		return err
	}

	if loop.VerifiesEach() {
		gate := stepNamed(tx, run.ID, loop.Loop.VerifyStepID)
		if gate == nil {
			return fmt.Errorf("loop step %s: verify step %q not found in run", loop.StepID, loop.Loop.VerifyStepID)
		}
		loop.VerifyingStoryID = story.ID
		if err := moveStep(tx, loop, types.StepStatusWaiting, now); err != nil {
			return err
		}
		return moveStep(tx, gate, types.StepStatusPending, now)
	}

	if p := progress(tx.StoriesForRun(run.ID)); p.pending > 0 || p.failed > 0 {
		return moveStep(tx, loop, types.StepStatusPending, now)
	}
	res.StepCompleted = true
	res.RunCompleted, err = finishLoop(tx, run, loop, now)
	return err
}

// completeGate applies a verify step's verdict on the story its loop is
// waiting on.
func (e *Engine) completeGate(tx store.Tx, run *types.Run, gate, loop *types.Step, output string, vars map[string]string, now time.Time, res *CompleteResult) error {
	story, err := tx.Story(loop.VerifyingStoryID)
	if err != nil {
		return err
	}
	if outputs.ParseVerdict(vars, output, gate.ExpectedMarker) == outputs.VerdictRetry {
		res.RunFailed, err = gateReject(tx, run, gate, loop, story, outputs.Feedback(vars, output), now)
		return err
	}

	run.Context[verifyFeedbackKey] = noFeedback
	if err := moveStep(tx, gate, types.StepStatusWaiting, now); err != nil {
		return err
	}
	if p := progress(tx.StoriesForRun(run.ID)); p.pending > 0 || p.failed > 0 {
		return moveStep(tx, loop, types.StepStatusPending, now)
	}
	res.StepCompleted = true
	res.RunCompleted, err = finishLoop(tx, run, loop, now)
	return err
}

// gateReject sends a verified story back to its loop with feedback, or fails
// the story, the loop, the gate and the run once its retries are spent.
func gateReject(tx store.Tx, run *types.Run, gate, loop *types.Step, story *types.Story, feedback string, now time.Time) (bool, error) {
	next := story.RetryCount + 1
	if next > story.MaxRetries {
		if err := moveStory(tx, story, types.StoryStatusFailed, now); err != nil {
			return false, err
		}
		if err := moveStep(tx, loop, types.StepStatusFailed, now); err != nil {
			return false, err
		}
		if err := moveStep(tx, gate, types.StepStatusFailed, now); err != nil {
			return false, err
		}
		return true, failRun(run, now)
	}

	story.RetryCount = next
	if err := moveStory(tx, story, types.StoryStatusPending, now); err != nil {
		return false, err
	}
	run.Context[verifyFeedbackKey] = feedback
	run.UpdatedAt = now
	if err := moveStep(tx, gate, types.StepStatusWaiting, now); err != nil {
		return false, err
	}
	return false, moveStep(tx, loop, types.StepStatusPending, now)
}

// Fail records a failed attempt of a running step. The step, or the story in
// flight on a loop step, is retried while its budget lasts; after that the
// failure is terminal for the run.
func (e *Engine) Fail(ctx context.Context, stepID, reason string) (*FailResult, error) {
	var (
		res *FailResult
		log = e.logger
	)
	err := e.store.Update(ctx, func(tx store.Tx) error {
		now := e.clock.Now()
		step, err := tx.Step(stepID)
		if err != nil {
			return err
		}
		run, err := activeRun(tx, step.RunID)
		if err != nil {
			return err
		}
		if step.Status != types.StepStatusRunning {
			return deckerrors.InvalidTransition("step", step.ID, string(step.Status), string(types.StepStatusFailed))
		}
		log = logging.WithStep(e.logger, run.ID, step.ID)

		if res, err = e.failStep(tx, run, step, reason, now); err != nil {
			return err
		}
		return saveRun(tx, run)
	})
	if err != nil {
		return nil, err
	}
	log.Info("step failed", "reason", reason, "retrying", res.Retrying, "run_failed", res.RunFailed)
	return res, nil
}

// failStep applies one failed attempt to a running step. It is shared by
// Fail and the reaper. The caller saves run.
func (e *Engine) failStep(tx store.Tx, run *types.Run, step *types.Step, reason string, now time.Time) (*FailResult, error) {
	step.Output = reason

	if step.IsLoop() && step.CurrentStoryID != "" {
		story, err := tx.Story(step.CurrentStoryID)
		if err != nil {
			return nil, err
		}
		story.Output = reason
		next := story.RetryCount + 1
		if next > story.MaxRetries {
			if err := moveStory(tx, story, types.StoryStatusFailed, now); err != nil {
				return nil, err
			}
			if err := moveStep(tx, step, types.StepStatusFailed, now); err != nil {
				return nil, err
			}
			return &FailResult{RunFailed: true}, failRun(run, now)
		}
		story.RetryCount = next
		if err := moveStory(tx, story, types.StoryStatusPending, now); err != nil {
			return nil, err
		}
		return &FailResult{Retrying: true}, moveStep(tx, step, types.StepStatusPending, now)
	}

	if loop := gatedLoop(tx, step); loop != nil {
		story, err := tx.Story(loop.VerifyingStoryID)
		if err != nil {
			return nil, err
		}
		failed, err := gateReject(tx, run, step, loop, story, reason, now)
		if err != nil {
			return nil, err
		}
		return &FailResult{Retrying: !failed, RunFailed: failed}, nil
	}

	next := step.RetryCount + 1
	if next > step.MaxRetries {
		if err := moveStep(tx, step, types.StepStatusFailed, now); err != nil {
			return nil, err
		}
		return &FailResult{RunFailed: true}, failRun(run, now)
	}
	step.RetryCount = next
	return &FailResult{Retrying: true}, moveStep(tx, step, types.StepStatusPending, now)
}

// Approve completes a step awaiting a human decision and advances the run.
func (e *Engine) Approve(ctx context.Context, stepID string) error {
	var completed bool
	err := e.store.Update(ctx, func(tx store.Tx) error {
		now := e.clock.Now()
		step, run, err := awaitingStep(tx, stepID, types.StepStatusCompleted)
		if err != nil {
			return err
		}
		if err := moveStep(tx, step, types.StepStatusCompleted, now); err != nil {
			return err
		}
		run.AwaitingApproval = false
		if completed, err = advance(tx, run, step.Position, now); err != nil {
			return err
		}
		return saveRun(tx, run)
	})
	if err != nil {
		return err
	}
	e.logger.Info("step approved", "step_id", stepID, "run_completed", completed)
	return nil
}

// Reject fails a step awaiting a human decision, and with it the run.
func (e *Engine) Reject(ctx context.Context, stepID, reason string) error {
	err := e.store.Update(ctx, func(tx store.Tx) error {
		now := e.clock.Now()
		step, run, err := awaitingStep(tx, stepID, types.StepStatusFailed)
		if err != nil {
			return err
		}
		step.Output = reason
		if err := moveStep(tx, step, types.StepStatusFailed, now); err != nil {
			return err
		}
		if err := failRun(run, now); err != nil {
			return err
		}
		return saveRun(tx, run)
	})
	if err != nil {
		return err
	}
	e.logger.Info("step rejected", "step_id", stepID, "reason", reason)
	return nil
}

// awaitingStep loads a step that must be awaiting approval on an active run.
func awaitingStep(tx store.Tx, stepID string, target types.StepStatus) (*types.Step, *types.Run, error) {
	step, err := tx.Step(stepID)
	if err != nil {
		return nil, nil, err
	}
	run, err := activeRun(tx, step.RunID)
	if err != nil {
		return nil, nil, err
	}
	if step.Status != types.StepStatusAwaitingApproval {
		return nil, nil, deckerrors.InvalidTransition("step", step.ID, string(step.Status), string(target))
	}
	return step, run, nil
}
