package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/castleridge-io/clawdeck-sub002/internal/api"
	"github.com/castleridge-io/clawdeck-sub002/internal/config"
	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/testutil"
	"github.com/castleridge-io/clawdeck-sub002/internal/workflow"
)

// executeCommand runs the root command with args and returns captured stdout.
// Flags left over from earlier invocations are reset first.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// startEngine serves a memory-backed engine and returns its URL.
func startEngine(t *testing.T) string {
	t.Helper()
	reg, err := workflow.NewRegistry(testutil.LinearTemplate(), testutil.LoopTemplate(false), testutil.ApprovalTemplate(""))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	eng := engine.New(store.NewMemoryStore(), reg, engine.Options{StepMaxRetries: 1, Logger: testutil.DiscardLogger()})
	srv := api.NewServer(eng, config.Default().Server, api.WithLogger(testutil.DiscardLogger()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// startRun starts a run and returns its id parsed from the command output.
func startRun(t *testing.T, server, workflowID, task string) string {
	t.Helper()
	out, err := executeCommand(t, "", "--server", server, "run", workflowID, task)
	testutil.RequireNoError(t, err, "run")
	fields := strings.Fields(out)
	if len(fields) < 3 || fields[0] != "Started" {
		t.Fatalf("unexpected run output %q", out)
	}
	return fields[2]
}

func claimAs(t *testing.T, server, agent string) *engine.ClaimResult {
	t.Helper()
	out, err := executeCommand(t, "", "--server", server, "--agent", agent, "claim")
	testutil.RequireNoError(t, err, "claim")
	var res engine.ClaimResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("claim output %q: %v", out, err)
	}
	return &res
}

func TestRootCommand(t *testing.T) {
	want := []string{"serve", "run", "claim", "complete", "fail", "approve", "reject", "cancel", "stories", "reap", "status", "workflows"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
	for _, flag := range []string{"server", "agent", "workdir", "no-color"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing --%s flag", flag)
		}
	}
}

func TestCLI_LinearRun(t *testing.T) {
	server := startEngine(t)
	runID := startRun(t, server, "linear", "Add login")

	build := claimAs(t, server, "builder")
	if !build.Found || build.Input != "Task: Add login" {
		t.Fatalf("claim = %+v", build)
	}

	out, err := executeCommand(t, "", "--server", server, "complete", build.StepID, "ARTIFACT: a.zip")
	testutil.RequireNoError(t, err, "complete")
	if !strings.Contains(out, "Step completed") {
		t.Errorf("complete output = %q", out)
	}

	ship := claimAs(t, server, "shipper")
	if ship.Input != "Ship a.zip for Add login" {
		t.Errorf("ship input = %q", ship.Input)
	}
	out, err = executeCommand(t, "", "--server", server, "fail", ship.StepID, "network", "down")
	testutil.RequireNoError(t, err, "fail")
	if !strings.Contains(out, "Step will be retried") {
		t.Errorf("fail output = %q", out)
	}

	out, err = executeCommand(t, "", "--server", server, "--no-color", "status", runID)
	testutil.RequireNoError(t, err, "status")
	for _, want := range []string{runID, "build", "completed", "ship", "retries 1/1"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q\n%s", want, out)
		}
	}

	out, err = executeCommand(t, "", "--server", server, "--no-color", "status")
	testutil.RequireNoError(t, err, "status list")
	if !strings.Contains(out, "Found 1 run(s)") {
		t.Errorf("status list = %q", out)
	}

	if _, err := executeCommand(t, "", "--server", server, "cancel", runID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	out, _ = executeCommand(t, "", "--server", server, "status", "--status", "cancelled", "--json")
	var runs []map[string]any
	if err := json.Unmarshal([]byte(out), &runs); err != nil || len(runs) != 1 {
		t.Errorf("cancelled runs = %s (%v)", out, err)
	}
}

func TestCLI_AgentFromEnv(t *testing.T) {
	server := startEngine(t)
	startRun(t, server, "linear", "task")

	if _, err := executeCommand(t, "", "--server", server, "claim"); err == nil {
		t.Fatal("claim without agent succeeded")
	}

	t.Setenv("CLAWDECK_AGENT", "builder")
	t.Setenv("CLAWDECK_SERVER", server)
	out, err := executeCommand(t, "", "claim")
	testutil.RequireNoError(t, err, "claim")
	if !strings.Contains(out, `"found": true`) {
		t.Errorf("claim output = %q", out)
	}

	out, err = executeCommand(t, "", "claim", "--quiet")
	testutil.RequireNoError(t, err, "claim")
	if out != "" {
		t.Errorf("quiet claim printed %q", out)
	}
}

func TestCLI_CompleteFromStdinAndStories(t *testing.T) {
	server := startEngine(t)
	runID := startRun(t, server, "loop", "Add login")

	plan := claimAs(t, server, "planner")
	stdin := "STATUS: done\nSTORIES_JSON: " + `[{"id":"s1","title":"Schema"},{"id":"s2","title":"Handler"}]`
	out, err := executeCommand(t, stdin, "--server", server, "complete", plan.StepID, "-")
	testutil.RequireNoError(t, err, "complete")
	if !strings.Contains(out, "Created 2 stories") {
		t.Errorf("complete output = %q", out)
	}

	out, err = executeCommand(t, "", "--server", server, "stories", runID)
	testutil.RequireNoError(t, err, "stories")
	if !strings.Contains(out, "s1") || !strings.Contains(out, "Handler") {
		t.Errorf("stories output = %q", out)
	}

	// Stories are declared once per run.
	file := filepath.Join(t.TempDir(), "stories.json")
	if err := os.WriteFile(file, []byte(`{"stories":[{"story_id":"s9","title":"Late"}]}`), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = executeCommand(t, "", "--server", server, "stories", runID, "--add", file)
	testutil.AssertErrorCode(t, err, deckerrors.CodeInvalidArgument)
}

func TestCLI_ApproveAndReap(t *testing.T) {
	server := startEngine(t)
	runID := startRun(t, server, "approval", "Post")

	draft := claimAs(t, server, "writer")
	if _, err := executeCommand(t, "", "--server", server, "complete", draft.StepID, "STATUS: done"); err != nil {
		t.Fatal(err)
	}
	detail, err := api.NewClient(server).RunDetail(context.Background(), runID)
	testutil.RequireNoError(t, err, "RunDetail")

	out, err := executeCommand(t, "", "--server", server, "approve", detail.Steps[1].ID)
	testutil.RequireNoError(t, err, "approve")
	if !strings.Contains(out, "Approved") {
		t.Errorf("approve output = %q", out)
	}

	out, err = executeCommand(t, "", "--server", server, "reap", "--max-age", "1h")
	testutil.RequireNoError(t, err, "reap")
	if out != "Reclaimed 0 step(s)\n" {
		t.Errorf("reap output = %q", out)
	}
	if _, err := executeCommand(t, "", "--server", server, "reap", "--max-age", "30s"); err == nil {
		t.Error("sub-minute max age accepted")
	}
}

func TestCLI_Errors(t *testing.T) {
	server := startEngine(t)
	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown workflow", []string{"run", "nope", "task"}, deckerrors.CodeTemplateNotFound},
		{"unknown step", []string{"complete", "step-x", "out"}, deckerrors.CodeStepNotFound},
		{"unknown run", []string{"status", "run-x"}, deckerrors.CodeRunNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, "", append([]string{"--server", server}, tt.args...)...)
			testutil.AssertErrorCode(t, err, tt.code)
		})
	}

	if _, err := executeCommand(t, "", "--server", server, "run", "linear", "task", "--var", "novalue"); err == nil {
		t.Error("malformed --var accepted")
	}
	if _, err := executeCommand(t, "", "--server", server, "status", "--status", "bogus"); err == nil {
		t.Error("unknown status accepted")
	}
}

func TestCLI_LocalWorkflows(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := testutil.NewTestWorkspaceWithWorkflow(t, "simple.toml", testutil.TestWorkflowContent())

	out, err := executeCommand(t, "", "-C", dir, "--no-color", "workflows")
	testutil.RequireNoError(t, err, "workflows")
	for _, want := range []string{"simple", "steps: write -> check", "feature-dev"} {
		if !strings.Contains(out, want) {
			t.Errorf("workflows output missing %q\n%s", want, out)
		}
	}
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"repo=web", "query=a=b"})
	testutil.RequireNoError(t, err, "parseVars")
	testutil.AssertEqual(t, map[string]string{"repo": "web", "query": "a=b"}, vars, "vars")

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseVars([]string{bad}); err == nil {
			t.Errorf("parseVars(%q) succeeded", bad)
		}
	}
}

func TestReadStoryFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name, content string
		want          int
		wantErr       bool
	}{
		{"array", `[{"story_id":"a","title":"A"},{"story_id":"b","title":"B"}]`, 2, false},
		{"object", ` {"stories":[{"story_id":"a","title":"A"}]}`, 1, false},
		{"invalid", `{"stories":`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			got, err := readStoryFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDaemon_RunAndStop(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Engine.ReapInterval = 10 * time.Millisecond
	if err := os.WriteFile(filepath.Join(cfg.Workflows.Dir, "simple.toml"), []byte(testutil.TestWorkflowContent()), 0644); err != nil {
		t.Fatal(err)
	}
	logs := testutil.NewTestLogger(t)

	d, err := newDaemon(cfg, t.TempDir(), logs.Logger)
	testutil.RequireNoError(t, err, "newDaemon")
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	var flows int
	for time.Now().Before(deadline) {
		if d.server.Addr() != "" {
			list, err := api.NewClient(d.server.BaseURL()).Workflows(context.Background())
			if err == nil {
				flows = len(list)
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if flows != 1 {
		t.Errorf("served %d workflows, want 1", flows)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	logs.AssertContains(t, "clawdeck stopped")
}

func TestDaemon_YAMLStore(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	cfg.Store.Driver = config.StoreDriverYAML

	d, err := newDaemon(cfg, t.TempDir(), testutil.DiscardLogger())
	testutil.RequireNoError(t, err, "newDaemon")
	defer d.Close()
	if _, ok := d.store.(*store.YAMLStore); !ok {
		t.Errorf("store = %T, want *store.YAMLStore", d.store)
	}

	cfg.Store.Driver = "bogus"
	if _, err := newDaemon(cfg, t.TempDir(), testutil.DiscardLogger()); err == nil {
		t.Error("unknown driver accepted")
	}
}
