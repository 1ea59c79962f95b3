package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/config"
	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/testutil"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
	"github.com/castleridge-io/clawdeck-sub002/internal/workflow"
)

// newTestAPI serves a fresh engine through httptest and returns a client for it.
func newTestAPI(t *testing.T) (*Client, *testutil.FakeClock, *httptest.Server) {
	t.Helper()
	reg, err := workflow.NewRegistry(testutil.LinearTemplate(), testutil.LoopTemplate(true), testutil.ApprovalTemplate(""))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	clock := testutil.NewFakeClock()
	eng := engine.New(store.NewMemoryStore(), reg, engine.Options{
		StepMaxRetries:  1,
		StoryMaxRetries: 1,
		Clock:           clock,
		Logger:          testutil.DiscardLogger(),
	})
	srv := NewServer(eng, config.Default().Server, WithLogger(testutil.DiscardLogger()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL), clock, ts
}

func TestAPI_LinearRun(t *testing.T) {
	c, _, _ := newTestAPI(t)
	ctx := context.Background()

	run, err := c.CreateRun(ctx, "linear", "Add login", map[string]string{"Owner": "ana"})
	testutil.RequireNoError(t, err, "CreateRun")
	if run.Status != types.RunStatusRunning || run.Context["owner"] != "ana" {
		t.Errorf("run = %+v", run)
	}

	claim, err := c.Claim(ctx, "builder")
	testutil.RequireNoError(t, err, "Claim")
	if !claim.Found || claim.Input != "Task: Add login" {
		t.Fatalf("claim = %+v", claim)
	}

	empty, err := c.Claim(ctx, "builder")
	testutil.RequireNoError(t, err, "Claim")
	if empty.Found {
		t.Errorf("second claim = %+v, want no work", empty)
	}

	res, err := c.Complete(ctx, claim.StepID, "ARTIFACT: a.zip")
	testutil.RequireNoError(t, err, "Complete")
	if !res.StepCompleted || res.RunCompleted {
		t.Errorf("complete = %+v", res)
	}

	ship, _ := c.Claim(ctx, "shipper")
	if ship.Input != "Ship a.zip for Add login" {
		t.Errorf("ship input = %q", ship.Input)
	}
	fail, err := c.Fail(ctx, ship.StepID, "network down")
	testutil.RequireNoError(t, err, "Fail")
	if !fail.Retrying {
		t.Errorf("fail = %+v", fail)
	}

	detail, err := c.RunDetail(ctx, run.ID)
	testutil.RequireNoError(t, err, "RunDetail")
	if len(detail.Steps) != 2 || detail.Steps[1].RetryCount != 1 || detail.Steps[1].Output != "network down" {
		t.Errorf("detail = %+v", detail.Steps)
	}

	runs, err := c.ListRuns(ctx, types.RunStatusRunning)
	testutil.RequireNoError(t, err, "ListRuns")
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("runs = %+v", runs)
	}
	runs, _ = c.ListRuns(ctx, types.RunStatusCompleted)
	if len(runs) != 0 {
		t.Errorf("completed runs = %d", len(runs))
	}
}

func TestAPI_Errors(t *testing.T) {
	c, _, ts := newTestAPI(t)
	ctx := context.Background()

	run, err := c.CreateRun(ctx, "linear", "task", nil)
	testutil.RequireNoError(t, err, "CreateRun")

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{"unknown step", func() error { _, err := c.Complete(ctx, "step-x", ""); return err }, deckerrors.CodeStepNotFound},
		{"unknown run", func() error { _, err := c.RunDetail(ctx, "run-x"); return err }, deckerrors.CodeRunNotFound},
		{"unknown template", func() error { _, err := c.CreateRun(ctx, "x", "task", nil); return err }, deckerrors.CodeTemplateNotFound},
		{"empty task", func() error { _, err := c.CreateRun(ctx, "linear", "", nil); return err }, deckerrors.CodeInvalidArgument},
		{"empty agent", func() error { _, err := c.Claim(ctx, ""); return err }, deckerrors.CodeInvalidArgument},
		{"not awaiting approval", func() error {
			d, _ := c.RunDetail(ctx, run.ID)
			return c.Approve(ctx, d.Steps[0].ID)
		}, deckerrors.CodeInvalidTransition},
		{"stories on linear run", func() error { _, err := c.CreateStories(ctx, run.ID, testutil.Stories(1)); return err }, deckerrors.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertErrorCode(t, tt.call(), tt.code)
		})
	}

	statuses := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/api/v1/runs/run-x", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/claims", "{not json", http.StatusBadRequest},
		{http.MethodGet, "/api/v1/runs?status=bogus", "", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/runs/" + run.ID + "/cancel", "", http.StatusNoContent},
		{http.MethodPost, "/api/v1/runs/" + run.ID + "/cancel", "", http.StatusConflict},
		{http.MethodDelete, "/api/v1/runs/" + run.ID, "", http.StatusMethodNotAllowed},
	}
	for _, tt := range statuses {
		req, _ := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tt.method, tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
		}
	}
}

func TestAPI_LoopWithApprovalAndStories(t *testing.T) {
	c, _, _ := newTestAPI(t)
	ctx := context.Background()

	run, err := c.CreateRun(ctx, "loop-verified", "Add login", nil)
	testutil.RequireNoError(t, err, "CreateRun")

	created, err := c.CreateStories(ctx, run.ID, testutil.Stories(2))
	testutil.RequireNoError(t, err, "CreateStories")
	if len(created) != 2 {
		t.Fatalf("created = %d", len(created))
	}
	listed, err := c.ListStories(ctx, run.ID)
	testutil.RequireNoError(t, err, "ListStories")
	if len(listed) != 2 || listed[0].StoryID != "s1" {
		t.Errorf("listed = %+v", listed)
	}

	plan, _ := c.Claim(ctx, "planner")
	if _, err := c.Complete(ctx, plan.StepID, "STATUS: done"); err != nil {
		t.Fatal(err)
	}
	dev, _ := c.Claim(ctx, "developer")
	if dev.StoryID != "s1" || !dev.FreshSession {
		t.Errorf("dev claim = %+v", dev)
	}
}

func TestAPI_ApproveReject(t *testing.T) {
	c, _, _ := newTestAPI(t)
	ctx := context.Background()

	run, _ := c.CreateRun(ctx, "approval", "Post", nil)
	draft, _ := c.Claim(ctx, "writer")
	if _, err := c.Complete(ctx, draft.StepID, "STATUS: done"); err != nil {
		t.Fatal(err)
	}
	d, _ := c.RunDetail(ctx, run.ID)
	if !d.Run.AwaitingApproval {
		t.Fatal("run not awaiting approval")
	}
	if err := c.Reject(ctx, d.Steps[1].ID, "no"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	d, _ = c.RunDetail(ctx, run.ID)
	if d.Run.Status != types.RunStatusFailed {
		t.Errorf("status = %s", d.Run.Status)
	}
}

func TestAPI_ReapAndWorkflows(t *testing.T) {
	c, clock, _ := newTestAPI(t)
	ctx := context.Background()

	if _, err := c.CreateRun(ctx, "linear", "task", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Claim(ctx, "builder"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Minute)

	n, err := c.Reap(ctx, 5*time.Minute)
	testutil.RequireNoError(t, err, "Reap")
	if n != 1 {
		t.Errorf("reclaimed = %d, want 1", n)
	}

	flows, err := c.Workflows(ctx)
	testutil.RequireNoError(t, err, "Workflows")
	if len(flows) != 3 || flows[0].ID != "linear" {
		t.Errorf("workflows = %d", len(flows))
	}
}

func TestAPI_OversizedBody(t *testing.T) {
	_, _, ts := newTestAPI(t)
	payload, _ := json.Marshal(CompleteRequest{Output: strings.Repeat("x", maxBodyBytes+1)})
	resp, err := http.Post(ts.URL+"/api/v1/steps/step-x/complete", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	reg, _ := workflow.NewRegistry(testutil.LinearTemplate())
	eng := engine.New(store.NewMemoryStore(), reg, engine.Options{Logger: testutil.DiscardLogger()})
	cfg := config.Default().Server
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(eng, cfg, WithLogger(testutil.DiscardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var health *HealthResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Addr() != "" {
			var err error
			if health, err = NewClient(srv.BaseURL()).Health(context.Background()); err == nil {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if health == nil || health.Status != "ready" || health.Version != ProtocolVersion {
		t.Fatalf("health = %+v", health)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Serve returned %v", err)
	}
	if srv.Addr() != "" {
		t.Error("listener still bound after shutdown")
	}
}

func TestServer_HealthUptime(t *testing.T) {
	reg, _ := workflow.NewRegistry(testutil.LinearTemplate())
	eng := engine.New(store.NewMemoryStore(), reg, engine.Options{Logger: testutil.DiscardLogger()})
	cfg := config.Default().Server
	cfg.Addr = "127.0.0.1:0"
	clock := testutil.NewFakeClock()
	srv := NewServer(eng, cfg, WithLogger(testutil.DiscardLogger()), WithClock(clock.Now))

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Shutdown(context.Background())

	clock.Advance(90 * time.Second)
	health, err := NewClient(srv.BaseURL()).Health(context.Background())
	testutil.RequireNoError(t, err, "Health")
	testutil.AssertEqual(t, int64(90), health.UptimeSeconds, "uptime")

	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start succeeded")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{deckerrors.RunNotFound("r"), http.StatusNotFound},
		{deckerrors.TemplateNotFound("t"), http.StatusNotFound},
		{deckerrors.InvalidTransition("step", "s", "a", "b"), http.StatusConflict},
		{deckerrors.InvalidArgument("x", "y"), http.StatusBadRequest},
		{deckerrors.StoreWrite("/x", nil), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
