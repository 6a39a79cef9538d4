// Package client wraps the portal's mutating lifecycle endpoints. Every
// call both performs a side effect and returns the id of the background job
// the backend accepted; acceptance is not completion, so callers observe
// the outcome through the ledger, never through the request itself.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/teamdock/portal/internal/ledger"
	"github.com/teamdock/portal/internal/model"
	"github.com/teamdock/portal/pkg/response"
)

// Client issues lifecycle actions against the portal API. On acceptance it
// registers the returned job in the ledger with the entity context the
// caller already knows; a rejected request creates no ledger record.
type Client struct {
	base   *url.URL
	http   *http.Client
	ledger *ledger.Ledger
}

// New creates a lifecycle client. The HTTP client normally carries a
// Transport that attaches the session credential.
func New(apiBase string, httpClient *http.Client, ld *ledger.Ledger) (*Client, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("client: invalid API base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: u, http: httpClient, ledger: ld}, nil
}

// Ledger returns the ledger this client registers jobs in.
func (c *Client) Ledger() *ledger.Ledger { return c.ledger }

// CreateWorkspace provisions a new workspace.
func (c *Client) CreateWorkspace(ctx context.Context, req model.CreateWorkspaceRequest) (string, error) {
	return c.initiate(ctx, http.MethodPost, "/api/workspaces", req, ledger.TaskMeta{
		Action:     model.ActionCreateWorkspace,
		EntityKind: model.EntityWorkspace,
		EntitySlug: req.Slug,
	})
}

// DeleteWorkspace tears a workspace down.
func (c *Client) DeleteWorkspace(ctx context.Context, slug string) (string, error) {
	return c.initiate(ctx, http.MethodDelete, "/api/workspaces/"+url.PathEscape(slug), nil, ledger.TaskMeta{
		Action:     model.ActionDeleteWorkspace,
		EntityKind: model.EntityWorkspace,
		EntitySlug: slug,
	})
}

// RestartWorkspace restarts a workspace's containers.
func (c *Client) RestartWorkspace(ctx context.Context, slug string) (string, error) {
	return c.initiate(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(slug)+"/restart", nil, ledger.TaskMeta{
		Action:     model.ActionRestartWorkspace,
		EntityKind: model.EntityWorkspace,
		EntitySlug: slug,
	})
}

// StartWorkspace starts a stopped workspace.
func (c *Client) StartWorkspace(ctx context.Context, slug string) (string, error) {
	return c.initiate(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(slug)+"/start", nil, ledger.TaskMeta{
		Action:     model.ActionStartWorkspace,
		EntityKind: model.EntityWorkspace,
		EntitySlug: slug,
	})
}

// LinkApp links an application into a workspace.
func (c *Client) LinkApp(ctx context.Context, slug string, req model.LinkAppRequest) (string, error) {
	return c.initiate(ctx, http.MethodPost, "/api/workspaces/"+url.PathEscape(slug)+"/apps", req, ledger.TaskMeta{
		Action:        model.ActionLinkApp,
		EntityKind:    model.EntityWorkspace,
		EntitySlug:    slug,
		SubEntitySlug: req.AppSlug,
	})
}

// UnlinkApp removes an application from a workspace.
func (c *Client) UnlinkApp(ctx context.Context, slug, appSlug string) (string, error) {
	path := "/api/workspaces/" + url.PathEscape(slug) + "/apps/" + url.PathEscape(appSlug)
	return c.initiate(ctx, http.MethodDelete, path, nil, ledger.TaskMeta{
		Action:        model.ActionUnlinkApp,
		EntityKind:    model.EntityWorkspace,
		EntitySlug:    slug,
		SubEntitySlug: appSlug,
	})
}

// CreateSandboxPullRequest deploys a sandbox environment from a branch.
func (c *Client) CreateSandboxPullRequest(ctx context.Context, slug string, req model.SandboxPullRequestRequest) (string, error) {
	path := "/api/workspaces/" + url.PathEscape(slug) + "/sandboxes/pull-request"
	return c.initiate(ctx, http.MethodPost, path, req, ledger.TaskMeta{
		Action:        model.ActionSandboxPullRequest,
		EntityKind:    model.EntitySandbox,
		EntitySlug:    slug,
		SubEntitySlug: req.SandboxSlug,
	})
}

// CreateTeam provisions a new team.
func (c *Client) CreateTeam(ctx context.Context, req model.CreateTeamRequest) (string, error) {
	return c.initiate(ctx, http.MethodPost, "/api/teams", req, ledger.TaskMeta{
		Action:     model.ActionCreateTeam,
		EntityKind: model.EntityTeam,
		EntitySlug: req.Slug,
	})
}

// DeleteTeam tears a team down.
func (c *Client) DeleteTeam(ctx context.Context, slug string) (string, error) {
	return c.initiate(ctx, http.MethodDelete, "/api/teams/"+url.PathEscape(slug), nil, ledger.TaskMeta{
		Action:     model.ActionDeleteTeam,
		EntityKind: model.EntityTeam,
		EntitySlug: slug,
	})
}

// AfterCompletion registers fn to run exactly once when jobID reaches a
// terminal state. The returned Once can be shared with a reconciliation
// watch so the push path and the polling path cannot both fire.
func (c *Client) AfterCompletion(jobID string, fn func(model.Job)) *sync.Once {
	once := &sync.Once{}
	c.ledger.OnTerminal(jobID, func(job model.Job) {
		once.Do(func() { fn(job) })
	})
	return once
}

// WorkspaceHealth reads the authoritative status of a workspace and its
// containers.
func (c *Client) WorkspaceHealth(ctx context.Context, slug string) (model.WorkspaceHealth, error) {
	var out model.WorkspaceHealth
	err := c.get(ctx, "/api/workspaces/"+url.PathEscape(slug)+"/health", &out)
	return out, err
}

// JobStatus reads the authoritative record of a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (model.Job, error) {
	var out model.Job
	err := c.get(ctx, "/api/jobs/"+url.PathEscape(jobID), &out)
	return out, err
}

func (c *Client) initiate(ctx context.Context, method, path string, body interface{}, meta ledger.TaskMeta) (string, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}

	var accepted model.JobAcceptedResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("client: decoding acceptance: %w", err)
	}
	if accepted.JobID == "" {
		return "", errors.New("client: acceptance missing job id")
	}

	c.ledger.Start(accepted.JobID, meta)
	return accepted.JobID, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	endpoint := *c.base
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + path

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func apiError(resp *http.Response) error {
	var body response.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("client: %s (%s)", body.Error.Message, body.Error.Code)
	}
	return fmt.Errorf("client: request failed with status %d", resp.StatusCode)
}
