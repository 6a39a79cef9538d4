package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/teamdock/portal/internal/model"
)

// WorkspaceService accepts workspace lifecycle mutations. Every mutating
// call persists a pending job record, enqueues a provisioning task and
// returns the job id; the actual work happens in the worker.
type WorkspaceService struct {
	jobStore
	asynqClient *asynq.Client
}

func NewWorkspaceService(redisClient *redis.Client, asynqClient *asynq.Client) *WorkspaceService {
	return &WorkspaceService{
		jobStore:    jobStore{redis: redisClient},
		asynqClient: asynqClient,
	}
}

// Create accepts provisioning of a new workspace.
func (s *WorkspaceService) Create(ctx context.Context, userID string, req *model.CreateWorkspaceRequest) (*model.JobAcceptedResponse, error) {
	if _, err := s.getWorkspace(ctx, req.Slug); err == nil {
		return nil, fmt.Errorf("workspace %q already exists", req.Slug)
	}

	now := time.Now()
	ws := &model.Workspace{
		ID:        uuid.New().String(),
		Slug:      req.Slug,
		TeamSlug:  req.TeamSlug,
		OwnerID:   userID,
		Status:    model.WorkspaceProvisioning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.saveWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to save workspace: %w", err)
	}

	return s.accept(ctx, userID, &model.Job{
		Action:     model.ActionCreateWorkspace,
		EntityKind: model.EntityWorkspace,
		EntityID:   ws.ID,
		EntitySlug: ws.Slug,
	})
}

// Delete accepts teardown of a workspace.
func (s *WorkspaceService) Delete(ctx context.Context, userID, slug string) (*model.JobAcceptedResponse, error) {
	ws, err := s.getWorkspace(ctx, slug)
	if err != nil {
		return nil, err
	}
	ws.Status = model.WorkspaceDeleting
	ws.UpdatedAt = time.Now()
	if err := s.saveWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to save workspace: %w", err)
	}

	return s.accept(ctx, userID, &model.Job{
		Action:     model.ActionDeleteWorkspace,
		EntityKind: model.EntityWorkspace,
		EntityID:   ws.ID,
		EntitySlug: ws.Slug,
	})
}

// Restart accepts a restart of a workspace's containers.
func (s *WorkspaceService) Restart(ctx context.Context, userID, slug string) (*model.JobAcceptedResponse, error) {
	return s.transition(ctx, userID, slug, model.ActionRestartWorkspace, model.WorkspaceRestarting)
}

// Start accepts startup of a stopped workspace.
func (s *WorkspaceService) Start(ctx context.Context, userID, slug string) (*model.JobAcceptedResponse, error) {
	return s.transition(ctx, userID, slug, model.ActionStartWorkspace, model.WorkspaceProvisioning)
}

func (s *WorkspaceService) transition(ctx context.Context, userID, slug string, action model.Action, status model.WorkspaceStatus) (*model.JobAcceptedResponse, error) {
	ws, err := s.getWorkspace(ctx, slug)
	if err != nil {
		return nil, err
	}
	ws.Status = status
	ws.UpdatedAt = time.Now()
	if err := s.saveWorkspace(ctx, ws); err != nil {
		return nil, fmt.Errorf("failed to save workspace: %w", err)
	}

	return s.accept(ctx, userID, &model.Job{
		Action:     action,
		EntityKind: model.EntityWorkspace,
		EntityID:   ws.ID,
		EntitySlug: ws.Slug,
	})
}

// LinkApp accepts linking an application into a workspace.
func (s *WorkspaceService) LinkApp(ctx context.Context, userID, slug string, req *model.LinkAppRequest) (*model.JobAcceptedResponse, error) {
	ws, err := s.getWorkspace(ctx, slug)
	if err != nil {
		return nil, err
	}

	return s.accept(ctx, userID, &model.Job{
		Action:        model.ActionLinkApp,
		EntityKind:    model.EntityWorkspace,
		EntityID:      ws.ID,
		EntitySlug:    ws.Slug,
		SubEntitySlug: req.AppSlug,
	})
}

// UnlinkApp accepts removing an application from a workspace.
func (s *WorkspaceService) UnlinkApp(ctx context.Context, userID, slug, appSlug string) (*model.JobAcceptedResponse, error) {
	ws, err := s.getWorkspace(ctx, slug)
	if err != nil {
		return nil, err
	}

	return s.accept(ctx, userID, &model.Job{
		Action:        model.ActionUnlinkApp,
		EntityKind:    model.EntityWorkspace,
		EntityID:      ws.ID,
		EntitySlug:    ws.Slug,
		SubEntitySlug: appSlug,
	})
}

// SandboxPullRequest accepts deployment of a sandbox from a branch.
func (s *WorkspaceService) SandboxPullRequest(ctx context.Context, userID, slug string, req *model.SandboxPullRequestRequest) (*model.JobAcceptedResponse, error) {
	ws, err := s.getWorkspace(ctx, slug)
	if err != nil {
		return nil, err
	}

	return s.accept(ctx, userID, &model.Job{
		Action:        model.ActionSandboxPullRequest,
		EntityKind:    model.EntitySandbox,
		EntityID:      ws.ID,
		EntitySlug:    ws.Slug,
		SubEntitySlug: req.SandboxSlug,
	})
}

// Job returns the authoritative record of a job.
func (s *WorkspaceService) Job(ctx context.Context, jobID string) (*model.Job, error) {
	return s.getJob(ctx, jobID)
}

// Health returns the status of a workspace and its containers.
func (s *WorkspaceService) Health(ctx context.Context, slug string) (*model.WorkspaceHealth, error) {
	ws, err := s.getWorkspace(ctx, slug)
	if err != nil {
		return nil, err
	}

	running := ws.Status == model.WorkspaceActive
	return &model.WorkspaceHealth{
		Slug:       ws.Slug,
		Status:     ws.Status,
		AllHealthy: running,
		Containers: []model.ContainerHealth{
			{Name: "app", Running: running},
			{Name: "db", Running: running},
		},
	}, nil
}

// accept persists the pending job record and enqueues the provisioning task.
func (s *WorkspaceService) accept(ctx context.Context, userID string, job *model.Job) (*model.JobAcceptedResponse, error) {
	now := time.Now()
	job.ID = uuid.New().String()
	job.Status = model.JobStatusPending
	job.StartedAt = now
	job.UpdatedAt = now

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := newProvisionTask(job.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	if _, err := s.asynqClient.Enqueue(task,
		asynq.Queue("provision"),
		asynq.MaxRetry(3),
		asynq.Retention(jobRetention),
	); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobAcceptedResponse{JobID: job.ID, Status: job.Status}, nil
}
