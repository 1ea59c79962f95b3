// Package testutil provides fixtures, a fake clock, log capture and
// assertions shared by clawdeck tests.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/castleridge-io/clawdeck-sub002/internal/config"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// NewTestConfig returns a config using the memory store and a temporary
// workflow directory without built-ins.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Store.Driver = config.StoreDriverMemory
	cfg.Store.Path = filepath.Join(dir, "state.yaml")
	cfg.Workflows.Dir = filepath.Join(dir, "workflows")
	cfg.Workflows.DisableBuiltins = true
	cfg.Logging.Level = config.LogLevelDebug
	cfg.Server.Addr = "127.0.0.1:0"

	if err := os.MkdirAll(cfg.Workflows.Dir, 0755); err != nil {
		t.Fatalf("Failed to create workflow directory: %v", err)
	}
	return cfg
}

// NewTestWorkspace creates a project directory holding .clawdeck/config.toml
// and an empty .clawdeck/workflows directory.
func NewTestWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(dir, ".clawdeck", "workflows"), 0755); err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}
	configContent := `version = "1"

[store]
driver = "memory"

[engine]
abandon_after = "10m"
story_max_retries = 1

[logging]
level = "debug"
format = "text"
`
	if err := os.WriteFile(filepath.Join(dir, ".clawdeck", "config.toml"), []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return dir
}

// NewTestWorkspaceWithWorkflow creates a workspace with one workflow file.
// name must carry a .toml or .yaml extension.
func NewTestWorkspaceWithWorkflow(t *testing.T, name, content string) string {
	t.Helper()
	dir := NewTestWorkspace(t)
	path := filepath.Join(dir, ".clawdeck", "workflows", name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write workflow file: %v", err)
	}
	return dir
}

// TestWorkflowContent returns a valid two-step TOML workflow with id "simple".
func TestWorkflowContent() string {
	return `id = "simple"
name = "Simple"

[[steps]]
id = "write"
agent = "writer"
input = "Task: {{task}}"

[[steps]]
id = "check"
agent = "checker"
input = "Check {{result}}"
`
}

// LinearTemplate returns two single steps: "build" for agent "builder" and
// "ship" for agent "shipper".
func LinearTemplate() *types.WorkflowTemplate {
	w := &types.WorkflowTemplate{
		ID:   "linear",
		Name: "Linear",
		Steps: []types.StepSpec{
			{StepID: "build", AgentID: "builder", Input: "Task: {{task}}"},
			{StepID: "ship", AgentID: "shipper", Input: "Ship {{artifact}} for {{task}}"},
		},
	}
	w.Normalize()
	return w
}

// LoopTemplate returns plan → implement (loop) → finish. With verifyEach the
// loop is gated by a "verify" step placed right after it.
func LoopTemplate(verifyEach bool) *types.WorkflowTemplate {
	loop := &types.LoopConfig{FreshSession: true}
	steps := []types.StepSpec{
		{StepID: "plan", AgentID: "planner", Input: "Plan {{task}}"},
		{StepID: "implement", AgentID: "developer", Kind: types.StepKindLoop, Loop: loop,
			Input: "{{current_story}}\nDone:\n{{completed_stories}}\nLeft: {{stories_remaining}}\nFeedback: {{verify_feedback}}"},
	}
	if verifyEach {
		loop.VerifyEach = true
		loop.VerifyStepID = "verify"
		steps = append(steps, types.StepSpec{StepID: "verify", AgentID: "verifier", Input: "Verify {{current_story_id}}"})
	}
	steps = append(steps, types.StepSpec{StepID: "finish", AgentID: "planner", Input: "Wrap up {{task}}"})

	w := &types.WorkflowTemplate{ID: "loop", Name: "Loop", Steps: steps}
	if verifyEach {
		w.ID = "loop-verified"
	}
	w.Normalize()
	return w
}

// ApprovalTemplate returns draft → approval → publish. When approver is
// empty the approval step is parked as soon as it is reached.
func ApprovalTemplate(approver string) *types.WorkflowTemplate {
	w := &types.WorkflowTemplate{
		ID:   "approval",
		Name: "Approval",
		Steps: []types.StepSpec{
			{StepID: "draft", AgentID: "writer", Input: "Draft {{task}}"},
			{StepID: "review", AgentID: approver, Kind: types.StepKindApproval},
			{StepID: "publish", AgentID: "writer", Input: "Publish {{task}}"},
		},
	}
	w.Normalize()
	return w
}

// Stories returns n story inputs s1..sn.
func Stories(n int) []types.StoryInput {
	out := make([]types.StoryInput, n)
	for i := range out {
		id := "s" + strconv.Itoa(i+1)
		out[i] = types.StoryInput{
			StoryIndex:         i,
			StoryID:            id,
			Title:              "Story " + id,
			AcceptanceCriteria: []string{id + " works"},
		}
	}
	return out
}
