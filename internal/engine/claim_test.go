package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/store"
	"github.com/castleridge-io/clawdeck-sub002/internal/testutil"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

func TestClaim_EmptyAgent(t *testing.T) {
	h := newHarness(t, Options{}, testutil.LinearTemplate())
	_, err := h.eng.Claim(h.ctx, "")
	testutil.AssertErrorCode(t, err, deckerrors.CodeInvalidArgument)
}

func TestClaim_OldestRunFirst(t *testing.T) {
	h := newHarness(t, Options{}, testutil.LinearTemplate())
	first := h.start("linear", "one", nil)
	h.clock.Advance(time.Second)
	second := h.start("linear", "two", nil)

	if c := h.mustClaim("builder", "build"); c.RunID != first.ID {
		t.Errorf("first claim from %s, want %s", c.RunID, first.ID)
	}
	if c := h.mustClaim("builder", "build"); c.RunID != second.ID {
		t.Errorf("second claim from %s, want %s", c.RunID, second.ID)
	}
	h.noWork("builder")
}

func TestClaim_AtMostOneClaimant(t *testing.T) {
	stores := map[string]func(t *testing.T) store.Store{
		"memory": func(*testing.T) store.Store { return store.NewMemoryStore() },
		"yaml": func(t *testing.T) store.Store {
			s, err := store.NewYAMLStore(t.TempDir()+"/state.yaml", testutil.DiscardLogger())
			if err != nil {
				t.Fatalf("NewYAMLStore: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			const runs, claimers = 3, 16
			h := newHarnessWithStore(t, open(t), Options{}, testutil.LinearTemplate())
			for i := 0; i < runs; i++ {
				h.start("linear", "task", nil)
			}

			var (
				mu  sync.Mutex
				won = make(map[string]int)
			)
			g, ctx := errgroup.WithContext(context.Background())
			for i := 0; i < claimers; i++ {
				g.Go(func() error {
					res, err := h.eng.Claim(ctx, "builder")
					if err != nil {
						return err
					}
					if res.Found {
						mu.Lock()
						won[res.StepID]++
						mu.Unlock()
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("claim: %v", err)
			}

			if len(won) != runs {
				t.Errorf("%d distinct steps claimed, want %d", len(won), runs)
			}
			for id, n := range won {
				if n != 1 {
					t.Errorf("step %s claimed %d times", id, n)
				}
			}
		})
	}
}

func TestClaim_ConcurrentStories(t *testing.T) {
	h := newHarness(t, Options{}, testutil.LoopTemplate(false), testutil.LinearTemplate())

	// Two loop runs, each with its stories; a loop step only ever holds one
	// story, so at most two claims can win.
	var runIDs []string
	for i := 0; i < 2; i++ {
		run := planned(t, h, "loop")
		runIDs = append(runIDs, run.ID)
	}

	var (
		mu      sync.Mutex
		stories = make(map[string]bool)
	)
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			res, err := h.eng.Claim(context.Background(), "developer")
			if err != nil || !res.Found {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			key := res.RunID + "/" + res.StoryID
			if stories[key] {
				t.Errorf("story %s handed out twice", key)
			}
			stories[key] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if len(stories) != 2 {
		t.Errorf("claimed %d stories, want one per run", len(stories))
	}
	for _, id := range runIDs {
		if !stories[id+"/s1"] {
			t.Errorf("run %s did not start with s1: %v", id, stories)
		}
		h.detail(id)
	}
}

func TestApproval_ParkedWithoutAgent(t *testing.T) {
	h := newHarness(t, Options{}, testutil.ApprovalTemplate(""))
	run := h.start("approval", "Post", nil)

	draft := h.mustClaim("writer", "draft")
	if res := h.complete(draft.StepID, "STATUS: done"); res.RunCompleted {
		t.Fatalf("complete draft = %+v", res)
	}

	d := h.detail(run.ID)
	review := d.step("review")
	testutil.AssertStepStatus(t, review, types.StepStatusAwaitingApproval)
	if !d.Run.AwaitingApproval {
		t.Error("run not flagged awaiting approval")
	}
	h.noWork("writer")

	if err := h.eng.Approve(h.ctx, review.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	d = h.detail(run.ID)
	testutil.AssertStepStatus(t, d.step("review"), types.StepStatusCompleted)
	if d.Run.AwaitingApproval {
		t.Error("approval flag not cleared")
	}

	publish := h.mustClaim("writer", "publish")
	h.complete(publish.StepID, "STATUS: done")
	testutil.AssertRunStatus(t, h.detail(run.ID).Run, types.RunStatusCompleted)

	err := h.eng.Approve(h.ctx, review.ID)
	testutil.AssertErrorCode(t, err, deckerrors.CodeInvalidTransition)
}

func TestApproval_ParkedOnClaim(t *testing.T) {
	h := newHarness(t, Options{}, testutil.ApprovalTemplate("lead"))
	run := h.start("approval", "Post", nil)

	draft := h.mustClaim("writer", "draft")
	h.complete(draft.StepID, "STATUS: done")
	testutil.AssertStepStatus(t, h.detail(run.ID).step("review"), types.StepStatusPending)

	h.noWork("lead")
	d := h.detail(run.ID)
	testutil.AssertStepStatus(t, d.step("review"), types.StepStatusAwaitingApproval)
	if !d.Run.AwaitingApproval {
		t.Error("run not flagged awaiting approval")
	}
	h.noWork("lead")
}

func TestApproval_Reject(t *testing.T) {
	h := newHarness(t, Options{StepMaxRetries: 3}, testutil.ApprovalTemplate(""))
	run := h.start("approval", "Post", nil)

	draft := h.mustClaim("writer", "draft")
	h.complete(draft.StepID, "STATUS: done")
	review := h.detail(run.ID).step("review")

	err := h.eng.Reject(h.ctx, draft.StepID, "not awaiting")
	testutil.AssertErrorCode(t, err, deckerrors.CodeInvalidTransition)

	if err := h.eng.Reject(h.ctx, review.ID, "tone is off"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	d := h.detail(run.ID)
	testutil.AssertStepStatus(t, d.step("review"), types.StepStatusFailed)
	testutil.AssertRunStatus(t, d.Run, types.RunStatusFailed)
	if d.step("review").Output != "tone is off" {
		t.Errorf("output = %q", d.step("review").Output)
	}
	if d.Run.AwaitingApproval {
		t.Error("failed run still awaiting approval")
	}
	h.noWork("writer")

	err = h.eng.Approve(h.ctx, review.ID)
	testutil.AssertErrorCode(t, err, deckerrors.CodeInvalidTransition)
	err = h.eng.Approve(h.ctx, "step-missing")
	testutil.AssertErrorCode(t, err, deckerrors.CodeStepNotFound)
}

func TestApproval_FirstStep(t *testing.T) {
	tmpl := &types.WorkflowTemplate{
		ID: "gate-first",
		Steps: []types.StepSpec{
			{StepID: "ok", Kind: types.StepKindApproval},
			{StepID: "go", AgentID: "runner", Input: "{{task}}"},
		},
	}
	tmpl.Normalize()
	h := newHarness(t, Options{}, tmpl)

	run := h.start("gate-first", "deploy", nil)
	if !run.AwaitingApproval {
		t.Error("run created with a parked first step is not awaiting approval")
	}
	h.noWork("runner")
	if err := h.eng.Approve(h.ctx, h.detail(run.ID).step("ok").ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if c := h.mustClaim("runner", "go"); c.Input != "deploy" {
		t.Errorf("input = %q", c.Input)
	}
}
