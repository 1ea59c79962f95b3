package template

import (
	"strings"
	"testing"

	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

func TestStoryContext(t *testing.T) {
	stories := []*types.Story{
		{ID: "a", StoryID: "s0", Title: "Schema", Status: types.StoryStatusCompleted},
		{ID: "b", StoryID: "s1", Title: "Handler", Status: types.StoryStatusRunning,
			Description: "Add the handler.", AcceptanceCriteria: []string{"returns 200", "logs request"}},
		{ID: "c", StoryID: "s2", Title: "Docs", Status: types.StoryStatusPending},
		{ID: "d", StoryID: "s3", Title: "Tests", Status: types.StoryStatusPending},
	}
	runCtx := map[string]string{"task": "Add login"}

	ctx := StoryContext(runCtx, stories[1], stories)

	if ctx["task"] != "Add login" {
		t.Errorf("run context not carried over: %v", ctx)
	}
	if _, leaked := runCtx[KeyCurrentStory]; leaked {
		t.Error("StoryContext mutated the run context")
	}
	if ctx[KeyCurrentStoryID] != "s1" {
		t.Errorf("current_story_id = %q, want s1", ctx[KeyCurrentStoryID])
	}
	if ctx[KeyCurrentStoryTitle] != "Handler" {
		t.Errorf("current_story_title = %q", ctx[KeyCurrentStoryTitle])
	}
	if ctx[KeyCompletedStories] != "- s0: Schema" {
		t.Errorf("completed_stories = %q", ctx[KeyCompletedStories])
	}
	if ctx[KeyStoriesRemaining] != "2" {
		t.Errorf("stories_remaining = %q, want 2", ctx[KeyStoriesRemaining])
	}

	story := ctx[KeyCurrentStory]
	for _, want := range []string{"Story s1: Handler", "Add the handler.", "- returns 200", "- logs request"} {
		if !strings.Contains(story, want) {
			t.Errorf("current_story missing %q:\n%s", want, story)
		}
	}

	resolved := Resolve("Implement {{current_story_id}}; done so far:\n{{completed_stories}}", ctx)
	if resolved != "Implement s1; done so far:\n- s0: Schema" {
		t.Errorf("resolved = %q", resolved)
	}
}

func TestStoryContext_FirstStory(t *testing.T) {
	stories := []*types.Story{
		{ID: "a", StoryID: "s0", Title: "Only", Status: types.StoryStatusRunning},
	}
	ctx := StoryContext(nil, stories[0], stories)

	if ctx[KeyCompletedStories] != "(none)" {
		t.Errorf("completed_stories = %q, want (none)", ctx[KeyCompletedStories])
	}
	if ctx[KeyStoriesRemaining] != "0" {
		t.Errorf("stories_remaining = %q, want 0", ctx[KeyStoriesRemaining])
	}
	if ctx[KeyCurrentStory] != "Story s0: Only" {
		t.Errorf("current_story = %q", ctx[KeyCurrentStory])
	}
}
