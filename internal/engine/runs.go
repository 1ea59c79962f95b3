package engine

import (
	"context"
	"strings"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/logging"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// CreateRun instantiates a workflow template. Variable names are lower-cased
// and merged into the run context next to task and run_id. Every step is
// created up front; the first one is activated.
func (e *Engine) CreateRun(ctx context.Context, templateID, task string, vars map[string]string) (*types.Run, error) {
	if strings.TrimSpace(task) == "" {
		return nil, deckerrors.InvalidArgument("task", "must not be empty")
	}
	tmpl, err := e.templates.Get(templateID)
	if err != nil {
		return nil, err
	}
	if len(tmpl.Steps) == 0 {
		return nil, deckerrors.TemplateInvalid(tmpl.ID, "no steps")
	}

	initial := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		initial[strings.ToLower(k)] = v
	}
	if _, ok := initial[verifyFeedbackKey]; !ok && hasVerifyGate(tmpl) {
		initial[verifyFeedbackKey] = noFeedback
	}

	now := e.clock.Now()
	run := types.NewRun(newID("run"), tmpl.ID, task, initial, now)

	err = e.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertRun(run); err != nil {
			return err
		}
		var first *types.Step
		for _, spec := range tmpl.Steps {
			step := types.NewStep(newID("step"), run.ID, spec, e.stepMaxRetries, types.StepStatusWaiting, now)
			if err := tx.InsertStep(step); err != nil {
				return err
			}
			if first == nil {
				first = step
			}
		}
		if err := activate(tx, run, first, now); err != nil {
			return err
		}
		return saveRun(tx, run)
	})
	if err != nil {
		return nil, err
	}

	logging.WithRun(e.logger, run.ID).Info("run created", "template", tmpl.ID, "steps", len(tmpl.Steps))
	return run, nil
}

// hasVerifyGate reports whether any loop step of tmpl verifies each story.
func hasVerifyGate(tmpl *types.WorkflowTemplate) bool {
	for _, s := range tmpl.Steps {
		if s.Loop != nil && s.Loop.VerifyEach {
			return true
		}
	}
	return false
}

// CancelRun stops a running run. Its steps can no longer be claimed,
// completed or failed.
func (e *Engine) CancelRun(ctx context.Context, runID string) error {
	err := e.store.Update(ctx, func(tx store.Tx) error {
		run, err := tx.Run(runID)
		if err != nil {
			return err
		}
		if err := run.Transition(types.RunStatusCancelled, e.clock.Now()); err != nil {
			return err
		}
		return saveRun(tx, run)
	})
	if err != nil {
		return err
	}
	logging.WithRun(e.logger, runID).Info("run cancelled")
	return nil
}

// GetRun returns a run by id.
func (e *Engine) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	var run *types.Run
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		run, err = tx.Run(runID)
		return err
	})
	return run, err
}

// ListRuns returns runs matching filter, newest first.
func (e *Engine) ListRuns(ctx context.Context, filter store.RunFilter) ([]*types.Run, error) {
	var runs []*types.Run
	err := e.store.View(ctx, func(tx store.Tx) error {
		runs = tx.Runs(filter)
		return nil
	})
	return runs, err
}

// RunDetail returns a run with its steps and stories.
func (e *Engine) RunDetail(ctx context.Context, runID string) (*RunDetail, error) {
	var detail *RunDetail
	err := e.store.View(ctx, func(tx store.Tx) error {
		run, err := tx.Run(runID)
		if err != nil {
			return err
		}
		detail = &RunDetail{
			Run:     run,
			Steps:   tx.StepsForRun(runID),
			Stories: tx.StoriesForRun(runID),
		}
		return nil
	})
	return detail, err
}
