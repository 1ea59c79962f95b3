package template

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// Keys layered over the run context while a story is in flight.
const (
	KeyCurrentStory      = "current_story"
	KeyCurrentStoryID    = "current_story_id"
	KeyCurrentStoryTitle = "current_story_title"
	KeyCompletedStories  = "completed_stories"
	KeyStoriesRemaining  = "stories_remaining"
)

// StoryContext returns a copy of runCtx extended with the loop variables for
// current. stories is the full story set of the run.
func StoryContext(runCtx map[string]string, current *types.Story, stories []*types.Story) map[string]string {
	ctx := make(map[string]string, len(runCtx)+5)
	maps.Copy(ctx, runCtx)

	var completed []string
	remaining := 0
	for _, s := range stories {
		switch {
		case s.ID == current.ID:
		case s.Status == types.StoryStatusCompleted:
			completed = append(completed, fmt.Sprintf("- %s: %s", s.StoryID, s.Title))
		case s.Status == types.StoryStatusPending:
			remaining++
		}
	}

	summary := "(none)"
	if len(completed) > 0 {
		summary = strings.Join(completed, "\n")
	}

	ctx[KeyCurrentStory] = FormatStory(current)
	ctx[KeyCurrentStoryID] = current.StoryID
	ctx[KeyCurrentStoryTitle] = current.Title
	ctx[KeyCompletedStories] = summary
	ctx[KeyStoriesRemaining] = strconv.Itoa(remaining)
	return ctx
}

// FormatStory renders a story as the text block handed to agents.
func FormatStory(s *types.Story) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Story %s: %s", s.StoryID, s.Title)
	if s.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(s.Description)
	}
	if len(s.AcceptanceCriteria) > 0 {
		b.WriteString("\n\nAcceptance criteria:")
		for _, c := range s.AcceptanceCriteria {
			b.WriteString("\n- ")
			b.WriteString(c)
		}
	}
	return b.String()
}
