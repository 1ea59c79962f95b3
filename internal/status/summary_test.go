package status

import (
	"testing"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
	"github.com/castleridge-io/clawdeck-sub002/internal/testutil"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// loopDetail is a run halfway through its story loop.
func loopDetail() *engine.RunDetail {
	start := testutil.Epoch
	run := types.NewRun("run-1", "feature-dev", "Add login", nil, start)
	steps := []*types.Step{
		{StepID: "plan", AgentID: "planner", Kind: types.StepKindSingle, Status: types.StepStatusCompleted, MaxRetries: 2, UpdatedAt: start},
		{StepID: "implement", AgentID: "developer", Kind: types.StepKindLoop, Status: types.StepStatusRunning,
			MaxRetries: 2, CurrentStoryID: "s2", UpdatedAt: start.Add(5 * time.Minute)},
		{StepID: "verify", AgentID: "verifier", Kind: types.StepKindSingle, Status: types.StepStatusWaiting, MaxRetries: 2, UpdatedAt: start},
	}
	stories := []*types.Story{
		{StoryID: "s1", Title: "Schema", Status: types.StoryStatusCompleted, MaxRetries: 2},
		{StoryID: "s2", Title: "Handler", Status: types.StoryStatusRunning, RetryCount: 1, MaxRetries: 2},
		{StoryID: "s3", Title: "Docs", Status: types.StoryStatusFailed, RetryCount: 2, MaxRetries: 2, Output: "lint failed"},
	}
	return &engine.RunDetail{Run: run, Steps: steps, Stories: stories}
}

func TestNewRunSummary(t *testing.T) {
	now := testutil.Epoch.Add(7 * time.Minute)
	s := NewRunSummary(loopDetail(), now)

	testutil.AssertEqual(t, 7*time.Minute, s.Elapsed, "elapsed")
	testutil.AssertEqual(t, StepStats{Total: 3, Waiting: 1, Running: 1, Completed: 1}, s.StepStats, "step stats")
	testutil.AssertEqual(t, StoryStats{Total: 3, Running: 1, Completed: 1, Failed: 1}, s.StoryStats, "story stats")
	testutil.AssertEqual(t, 1, s.StepStats.Done(), "done")

	impl := s.Steps[1]
	testutil.AssertEqual(t, "s2", impl.StoryID, "current story")
	testutil.AssertEqual(t, 2*time.Minute, impl.Since, "since")
	testutil.AssertEqual(t, time.Duration(0), s.Steps[0].Since, "terminal step since")
	testutil.AssertEqual(t, "1/2", s.Stories[1].Retries, "retries")

	if len(s.Errors) != 1 || s.Errors[0] != "story s3: lint failed" {
		t.Errorf("errors = %v", s.Errors)
	}
}

func TestNewRunSummary_Finished(t *testing.T) {
	d := loopDetail()
	done := testutil.Epoch.Add(90 * time.Second)
	d.Run.Status = types.RunStatusFailed
	d.Run.DoneAt = &done
	d.Steps[1].Status = types.StepStatusFailed
	d.Steps[1].Output = "retries exhausted"

	s := NewRunSummary(d, testutil.Epoch.Add(time.Hour))
	testutil.AssertEqual(t, 90*time.Second, s.Elapsed, "elapsed stops at done")
	if len(s.Errors) != 2 || s.Errors[0] != "step implement: retries exhausted" {
		t.Errorf("errors = %v", s.Errors)
	}
}

func TestNewRunListSummary(t *testing.T) {
	runs := []*types.Run{
		types.NewRun("run-1", "a", "one", nil, testutil.Epoch),
		types.NewRun("run-2", "b", "two", nil, testutil.Epoch.Add(time.Minute)),
	}
	list := NewRunListSummary(runs, testutil.Epoch.Add(2*time.Minute))
	if len(list) != 2 {
		t.Fatalf("len = %d", len(list))
	}
	testutil.AssertEqual(t, time.Minute, list[1].Elapsed, "elapsed")
	testutil.AssertEqual(t, 0, list[0].StepStats.Total, "no steps")
}
