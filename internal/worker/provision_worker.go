package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/teamdock/portal/internal/model"
	"github.com/teamdock/portal/internal/service"
	"github.com/teamdock/portal/internal/websocket"
)

// provisioning step names per action; percentage is derived from position
var actionSteps = map[model.Action][]string{
	model.ActionCreateWorkspace:    {"Allocating resources", "Creating containers", "Configuring network", "Starting services"},
	model.ActionDeleteWorkspace:    {"Stopping services", "Removing containers", "Releasing resources"},
	model.ActionRestartWorkspace:   {"Stopping services", "Starting services"},
	model.ActionStartWorkspace:     {"Starting containers", "Waiting for health checks"},
	model.ActionLinkApp:            {"Resolving application", "Wiring environment"},
	model.ActionUnlinkApp:          {"Unwiring environment"},
	model.ActionSandboxPullRequest: {"Fetching branch", "Building sandbox image", "Deploying sandbox"},
	model.ActionCreateTeam:         {"Creating team"},
	model.ActionDeleteTeam:         {"Removing team workspaces", "Removing team"},
}

// ProvisionWorker executes lifecycle jobs: it walks the provisioning steps
// for the job's action, persists every mutation of the job record, and
// pushes each one to the owning user's channel.
type ProvisionWorker struct {
	redis      *redis.Client
	hub        *websocket.Hub
	baseDomain string
	stepDelay  time.Duration
}

// NewProvisionWorker creates a provision worker. stepDelay paces the
// simulated provisioning steps.
func NewProvisionWorker(redisClient *redis.Client, hub *websocket.Hub, baseDomain string, stepDelay time.Duration) *ProvisionWorker {
	if stepDelay <= 0 {
		stepDelay = time.Second
	}
	return &ProvisionWorker{
		redis:      redisClient,
		hub:        hub,
		baseDomain: baseDomain,
		stepDelay:  stepDelay,
	}
}

// ProcessTask handles one lifecycle job.
func (w *ProvisionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.ProvisionTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	job, err := w.getJob(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", payload.JobID, err)
	}
	log.Printf("Starting %s job %s for %s", job.Action, job.ID, job.EntitySlug)

	steps, ok := actionSteps[job.Action]
	if !ok {
		w.failJob(ctx, payload.UserID, job, fmt.Sprintf("unknown action %q", job.Action))
		return fmt.Errorf("unknown action %q", job.Action)
	}

	for i, name := range steps {
		select {
		case <-ctx.Done():
			log.Printf("Job %s cancelled", job.ID)
			return ctx.Err()
		default:
		}

		job.Status = model.JobStatusInProgress
		job.Step = i + 1
		job.TotalSteps = len(steps)
		job.StepName = name
		job.Percentage = (i + 1) * 100 / (len(steps) + 1)
		job.UpdatedAt = time.Now()
		w.saveJob(ctx, job)

		w.hub.BroadcastProgress(payload.UserID, job)

		time.Sleep(w.stepDelay)
	}

	result, err := w.applyOutcome(ctx, job)
	if err != nil {
		w.failJob(ctx, payload.UserID, job, err.Error())
		return err
	}

	w.completeJob(ctx, payload.UserID, job, result)
	log.Printf("Job %s completed", job.ID)
	return nil
}

// applyOutcome flips the authoritative resource record into its post-job
// state and builds the result payload.
func (w *ProvisionWorker) applyOutcome(ctx context.Context, job *model.Job) (interface{}, error) {
	switch job.Action {
	case model.ActionCreateWorkspace, model.ActionStartWorkspace, model.ActionRestartWorkspace:
		ws, err := w.getWorkspace(ctx, job.EntitySlug)
		if err != nil {
			return nil, fmt.Errorf("workspace %s disappeared mid-job", job.EntitySlug)
		}
		ws.Status = model.WorkspaceActive
		ws.URL = fmt.Sprintf("https://%s.%s", ws.Slug, w.baseDomain)
		ws.UpdatedAt = time.Now()
		if err := w.saveWorkspace(ctx, ws); err != nil {
			return nil, err
		}
		return model.WorkspaceResult{WorkspaceSlug: ws.Slug, URL: ws.URL}, nil

	case model.ActionDeleteWorkspace:
		if err := w.redis.Del(ctx, "workspace:"+job.EntitySlug).Err(); err != nil {
			return nil, err
		}
		return model.WorkspaceResult{WorkspaceSlug: job.EntitySlug}, nil

	case model.ActionLinkApp, model.ActionUnlinkApp:
		ws, err := w.getWorkspace(ctx, job.EntitySlug)
		if err != nil {
			return nil, fmt.Errorf("workspace %s disappeared mid-job", job.EntitySlug)
		}
		if job.Action == model.ActionLinkApp {
			ws.LinkedApps = append(ws.LinkedApps, job.SubEntitySlug)
		} else {
			apps := ws.LinkedApps[:0]
			for _, app := range ws.LinkedApps {
				if app != job.SubEntitySlug {
					apps = append(apps, app)
				}
			}
			ws.LinkedApps = apps
		}
		ws.UpdatedAt = time.Now()
		if err := w.saveWorkspace(ctx, ws); err != nil {
			return nil, err
		}
		return model.WorkspaceResult{WorkspaceSlug: ws.Slug, URL: ws.URL}, nil

	case model.ActionSandboxPullRequest:
		url := fmt.Sprintf("https://%s--%s.%s", job.SubEntitySlug, job.EntitySlug, w.baseDomain)
		return map[string]string{
			"workspace_slug": job.EntitySlug,
			"sandbox_slug":   job.SubEntitySlug,
			"url":            url,
		}, nil

	case model.ActionCreateTeam:
		return model.TeamResult{TeamSlug: job.EntitySlug}, nil

	case model.ActionDeleteTeam:
		if err := w.redis.Del(ctx, "team:"+job.EntitySlug).Err(); err != nil {
			return nil, err
		}
		return model.TeamResult{TeamSlug: job.EntitySlug}, nil
	}
	return nil, fmt.Errorf("unknown action %q", job.Action)
}

func (w *ProvisionWorker) completeJob(ctx context.Context, userID string, job *model.Job, result interface{}) {
	resultBytes, _ := json.Marshal(result)
	job.Status = model.JobStatusCompleted
	job.Percentage = 100
	job.Result = resultBytes
	job.UpdatedAt = time.Now()
	w.saveJob(ctx, job)

	w.hub.BroadcastCompleted(userID, job.ID, result)
}

func (w *ProvisionWorker) failJob(ctx context.Context, userID string, job *model.Job, errMsg string) {
	job.Status = model.JobStatusFailed
	job.Error = errMsg
	job.UpdatedAt = time.Now()
	w.saveJob(ctx, job)

	w.hub.BroadcastFailed(userID, job.ID, errMsg)
}

func (w *ProvisionWorker) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := w.redis.Get(ctx, "job:"+jobID).Bytes()
	if err != nil {
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (w *ProvisionWorker) saveJob(ctx context.Context, job *model.Job) {
	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("Failed to marshal job: %v", err)
		return
	}
	w.redis.Set(ctx, "job:"+job.ID, data, 24*time.Hour)
}

func (w *ProvisionWorker) getWorkspace(ctx context.Context, slug string) (*model.Workspace, error) {
	data, err := w.redis.Get(ctx, "workspace:"+slug).Bytes()
	if err != nil {
		return nil, err
	}

	var ws model.Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (w *ProvisionWorker) saveWorkspace(ctx context.Context, ws *model.Workspace) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	return w.redis.Set(ctx, "workspace:"+ws.Slug, data, 0).Err()
}
