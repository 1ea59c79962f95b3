package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/config"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

func TestFakeClock(t *testing.T) {
	c := NewFakeClock()
	if !c.Now().Equal(Epoch) || !c.Now().Equal(Epoch) {
		t.Fatal("frozen clock moved")
	}
	c.Advance(time.Hour)
	if got := c.Now(); !got.Equal(Epoch.Add(time.Hour)) {
		t.Errorf("after Advance: %v", got)
	}

	tick := NewTickingClock(time.Second)
	a, b := tick.Now(), tick.Now()
	if b.Sub(a) != time.Second {
		t.Errorf("ticking clock step = %v, want 1s", b.Sub(a))
	}
}

func TestNewTestConfig(t *testing.T) {
	cfg := NewTestConfig(t)
	if cfg.Store.Driver != config.StoreDriverMemory {
		t.Errorf("driver = %s, want memory", cfg.Store.Driver)
	}
	if _, err := os.Stat(cfg.Workflows.Dir); err != nil {
		t.Errorf("workflow dir missing: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestNewTestWorkspace(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := NewTestWorkspaceWithWorkflow(t, "simple.toml", TestWorkflowContent())

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		t.Fatalf("LoadFromDir: %v", err)
	}
	if cfg.Engine.AbandonAfter != 10*time.Minute {
		t.Errorf("abandon_after = %v, want 10m", cfg.Engine.AbandonAfter)
	}
	AssertFileContains(t, filepath.Join(dir, ".clawdeck", "workflows", "simple.toml"), `id = "simple"`)
}

func TestTemplates(t *testing.T) {
	for _, w := range []*types.WorkflowTemplate{
		LinearTemplate(),
		LoopTemplate(false),
		LoopTemplate(true),
		ApprovalTemplate(""),
		ApprovalTemplate("lead"),
	} {
		t.Run(w.ID, func(t *testing.T) {
			if err := w.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestStories(t *testing.T) {
	s := Stories(12)
	if s[0].StoryID != "s1" || s[11].StoryID != "s12" || s[11].StoryIndex != 11 {
		t.Errorf("unexpected stories: %+v", s)
	}
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger(t)
	tl.Logger.With("run_id", "run-1").Warn("ignoring story block", "error", "bad json")
	tl.Logger.Info("step claimed")

	tl.AssertContains(t, "story block")
	tl.AssertLevelAtLeast(t, slog.LevelWarn, 1)
	tl.AssertNoErrors(t)

	warn := tl.EntriesOfLevel(slog.LevelWarn)[0]
	if warn.Attrs["run_id"] != "run-1" || warn.Attrs["error"] != "bad json" {
		t.Errorf("attrs = %v", warn.Attrs)
	}
}
