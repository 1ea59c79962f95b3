// Package status computes run summaries and renders them for the terminal.
package status

import (
	"fmt"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// RunSummary contains computed information about a run for display.
type RunSummary struct {
	ID               string          `json:"id"`
	TemplateID       string          `json:"template_id"`
	Task             string          `json:"task"`
	Status           types.RunStatus `json:"status"`
	AwaitingApproval bool            `json:"awaiting_approval,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	DoneAt           *time.Time      `json:"done_at,omitempty"`
	Elapsed          time.Duration   `json:"elapsed"`

	StepStats  StepStats   `json:"step_stats"`
	StoryStats StoryStats  `json:"story_stats"`
	Steps      []StepLine  `json:"steps,omitempty"`
	Stories    []StoryLine `json:"stories,omitempty"`
	Errors     []string    `json:"errors,omitempty"`
}

// StepStats contains step count breakdown.
type StepStats struct {
	Total     int `json:"total"`
	Waiting   int `json:"waiting"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Awaiting  int `json:"awaiting_approval"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Done counts steps that reached a final status.
func (s StepStats) Done() int {
	return s.Completed + s.Failed
}

// StoryStats contains story count breakdown.
type StoryStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// StepLine is one step of a run as displayed.
type StepLine struct {
	StepID  string           `json:"step_id"`
	AgentID string           `json:"agent_id,omitempty"`
	Kind    types.StepKind   `json:"kind"`
	Status  types.StepStatus `json:"status"`
	Retries string           `json:"retries"`
	StoryID string           `json:"story_id,omitempty"`
	Since   time.Duration    `json:"since"` // Time spent in the current status
}

// StoryLine is one story of a run as displayed.
type StoryLine struct {
	StoryID string            `json:"story_id"`
	Title   string            `json:"title"`
	Status  types.StoryStatus `json:"status"`
	Retries string            `json:"retries"`
}

// NewRunSummary builds a summary of d as of now.
func NewRunSummary(d *engine.RunDetail, now time.Time) *RunSummary {
	run := d.Run
	s := &RunSummary{
		ID:               run.ID,
		TemplateID:       run.TemplateID,
		Task:             run.Task,
		Status:           run.Status,
		AwaitingApproval: run.AwaitingApproval,
		CreatedAt:        run.CreatedAt,
		DoneAt:           run.DoneAt,
	}
	end := now
	if run.DoneAt != nil {
		end = *run.DoneAt
	}
	s.Elapsed = end.Sub(run.CreatedAt)

	for _, step := range d.Steps {
		s.StepStats.add(step.Status)
		line := StepLine{
			StepID:  step.StepID,
			AgentID: step.AgentID,
			Kind:    step.Kind,
			Status:  step.Status,
			Retries: fmt.Sprintf("%d/%d", step.RetryCount, step.MaxRetries),
			StoryID: step.CurrentStoryID,
		}
		if line.StoryID == "" {
			line.StoryID = step.VerifyingStoryID
		}
		if !step.Status.IsTerminal() {
			line.Since = now.Sub(step.UpdatedAt)
		}
		s.Steps = append(s.Steps, line)
		if step.Status == types.StepStatusFailed && step.Output != "" {
			s.Errors = append(s.Errors, fmt.Sprintf("step %s: %s", step.StepID, step.Output))
		}
	}

	for _, story := range d.Stories {
		s.StoryStats.add(story.Status)
		s.Stories = append(s.Stories, StoryLine{
			StoryID: story.StoryID,
			Title:   story.Title,
			Status:  story.Status,
			Retries: fmt.Sprintf("%d/%d", story.RetryCount, story.MaxRetries),
		})
		if story.Status == types.StoryStatusFailed && story.Output != "" {
			s.Errors = append(s.Errors, fmt.Sprintf("story %s: %s", story.StoryID, story.Output))
		}
	}
	return s
}

// NewRunListSummary summarizes runs without their steps.
func NewRunListSummary(runs []*types.Run, now time.Time) []*RunSummary {
	out := make([]*RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, NewRunSummary(&engine.RunDetail{Run: run}, now))
	}
	return out
}

func (s *StepStats) add(status types.StepStatus) {
	s.Total++
	switch status {
	case types.StepStatusWaiting:
		s.Waiting++
	case types.StepStatusPending:
		s.Pending++
	case types.StepStatusRunning:
		s.Running++
	case types.StepStatusAwaitingApproval:
		s.Awaiting++
	case types.StepStatusCompleted:
		s.Completed++
	case types.StepStatusFailed:
		s.Failed++
	}
}

func (s *StoryStats) add(status types.StoryStatus) {
	s.Total++
	switch status {
	case types.StoryStatusPending:
		s.Pending++
	case types.StoryStatusRunning:
		s.Running++
	case types.StoryStatusCompleted:
		s.Completed++
	case types.StoryStatusFailed:
		s.Failed++
	}
}
