package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/castleridge-io/clawdeck-sub002/internal/engine"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// Client calls a clawdeck server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL, e.g.
// http://127.0.0.1:7420.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SetTimeout sets the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.http.Timeout = timeout
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Claim asks for work for agentID.
func (c *Client) Claim(ctx context.Context, agentID string) (*engine.ClaimResult, error) {
	var out engine.ClaimResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/claims", ClaimRequest{AgentID: agentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete reports the output of a claimed step.
func (c *Client) Complete(ctx context.Context, stepID, output string) (*engine.CompleteResult, error) {
	var out engine.CompleteResult
	if err := c.do(ctx, http.MethodPost, stepPath(stepID, "complete"), CompleteRequest{Output: output}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Fail reports a failed attempt of a claimed step.
func (c *Client) Fail(ctx context.Context, stepID, reason string) (*engine.FailResult, error) {
	var out engine.FailResult
	if err := c.do(ctx, http.MethodPost, stepPath(stepID, "fail"), FailRequest{Error: reason}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve approves a step awaiting approval.
func (c *Client) Approve(ctx context.Context, stepID string) error {
	return c.do(ctx, http.MethodPost, stepPath(stepID, "approve"), nil, nil)
}

// Reject rejects a step awaiting approval.
func (c *Client) Reject(ctx context.Context, stepID, reason string) error {
	return c.do(ctx, http.MethodPost, stepPath(stepID, "reject"), RejectRequest{Reason: reason}, nil)
}

// CreateRun starts a run of templateID.
func (c *Client) CreateRun(ctx context.Context, templateID, task string, vars map[string]string) (*types.Run, error) {
	var out types.Run
	req := CreateRunRequest{TemplateID: templateID, Task: task, Variables: vars}
	if err := c.do(ctx, http.MethodPost, "/api/v1/runs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns lists runs, optionally filtered by status.
func (c *Client) ListRuns(ctx context.Context, status types.RunStatus) ([]*types.Run, error) {
	path := "/api/v1/runs"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []*types.Run
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunDetail returns a run with its steps and stories.
func (c *Client) RunDetail(ctx context.Context, runID string) (*engine.RunDetail, error) {
	var out engine.RunDetail
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelRun cancels a running run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(runID)+"/cancel", nil, nil)
}

// ListStories returns the stories of a run.
func (c *Client) ListStories(ctx context.Context, runID string) ([]*types.Story, error) {
	var out []*types.Story
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID)+"/stories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateStories declares the stories of a run.
func (c *Client) CreateStories(ctx context.Context, runID string, stories []types.StoryInput) ([]*types.Story, error) {
	var out []*types.Story
	path := "/api/v1/runs/" + url.PathEscape(runID) + "/stories"
	if err := c.do(ctx, http.MethodPost, path, CreateStoriesRequest{Stories: stories}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reap triggers a sweep for steps running longer than maxAge. Zero uses the
// server's threshold.
func (c *Client) Reap(ctx context.Context, maxAge time.Duration) (int, error) {
	var out ReapResponse
	req := ReapRequest{MaxAgeMinutes: int(maxAge / time.Minute)}
	if err := c.do(ctx, http.MethodPost, "/api/v1/reap", req, &out); err != nil {
		return 0, err
	}
	return out.Reclaimed, nil
}

// Workflows lists the templates the server can instantiate.
func (c *Client) Workflows(ctx context.Context) ([]*types.WorkflowTemplate, error) {
	var out []*types.WorkflowTemplate
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func stepPath(stepID, action string) string {
	return "/api/v1/steps/" + url.PathEscape(stepID) + "/" + action
}

// do sends one request. Error responses come back as *errors.DeckError so
// callers can inspect the code.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return eb.toDeckError(resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
