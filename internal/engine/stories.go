package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/logging"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// CreateStories declares the story set of a running run's loop step. A run
// gets its stories once; later declarations are refused.
func (e *Engine) CreateStories(ctx context.Context, runID string, inputs []types.StoryInput) ([]*types.Story, error) {
	var created []*types.Story
	err := e.store.Update(ctx, func(tx store.Tx) error {
		run, err := activeRun(tx, runID)
		if err != nil {
			return err
		}
		created, err = e.createStories(tx, run, inputs, e.clock.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListStories returns the stories of a run in claim order.
func (e *Engine) ListStories(ctx context.Context, runID string) ([]*types.Story, error) {
	var stories []*types.Story
	err := e.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.Run(runID); err != nil {
			return err
		}
		stories = tx.StoriesForRun(runID)
		return nil
	})
	return stories, err
}

// createStories validates inputs and inserts them as pending stories. All
// validation happens before the first insert. When every input leaves the
// index at zero, declaration order is used.
func (e *Engine) createStories(tx store.Tx, run *types.Run, inputs []types.StoryInput, now time.Time) ([]*types.Story, error) {
	if len(inputs) == 0 {
		return nil, deckerrors.InvalidArgument("stories", "at least one story is required")
	}
	if !slices.ContainsFunc(tx.StepsForRun(run.ID), (*types.Step).IsLoop) {
		return nil, deckerrors.InvalidArgument("stories", fmt.Sprintf("run %s has no loop step", run.ID))
	}
	if len(tx.StoriesForRun(run.ID)) > 0 {
		return nil, deckerrors.InvalidArgument("stories", fmt.Sprintf("run %s already has stories", run.ID))
	}

	seen := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		id := strings.TrimSpace(in.StoryID)
		if id == "" {
			return nil, deckerrors.InvalidArgument("stories", "story id must not be empty")
		}
		if seen[id] {
			return nil, deckerrors.InvalidArgument("stories", fmt.Sprintf("duplicate story id %q", id))
		}
		seen[id] = true
	}
	positional := !slices.ContainsFunc(inputs, func(in types.StoryInput) bool { return in.StoryIndex != 0 })

	created := make([]*types.Story, 0, len(inputs))
	for i, in := range inputs {
		idx := in.StoryIndex
		if positional {
			idx = i
		}
		story := &types.Story{
			ID:                 newID("story"),
			RunID:              run.ID,
			StoryIndex:         idx,
			StoryID:            strings.TrimSpace(in.StoryID),
			Title:              in.Title,
			Description:        in.Description,
			AcceptanceCriteria: slices.Clone(in.AcceptanceCriteria),
			Status:             types.StoryStatusPending,
			MaxRetries:         e.storyMaxRetries,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.InsertStory(story); err != nil {
			return nil, err
		}
		created = append(created, story)
	}
	types.SortStories(created)

	logging.WithRun(e.logger, run.ID).Info("stories created", "count", len(created))
	return created, nil
}
