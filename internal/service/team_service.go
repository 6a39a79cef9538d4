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

// TeamService accepts team lifecycle mutations, following the same
// accept-and-enqueue contract as workspaces.
type TeamService struct {
	jobStore
	asynqClient *asynq.Client
}

func NewTeamService(redisClient *redis.Client, asynqClient *asynq.Client) *TeamService {
	return &TeamService{
		jobStore:    jobStore{redis: redisClient},
		asynqClient: asynqClient,
	}
}

// Create accepts provisioning of a new team.
func (s *TeamService) Create(ctx context.Context, userID string, req *model.CreateTeamRequest) (*model.JobAcceptedResponse, error) {
	if _, err := s.getTeam(ctx, req.Slug); err == nil {
		return nil, fmt.Errorf("team %q already exists", req.Slug)
	}

	team := &model.Team{
		ID:        uuid.New().String(),
		Slug:      req.Slug,
		Name:      req.Name,
		OwnerID:   userID,
		CreatedAt: time.Now(),
	}
	if err := s.saveTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("failed to save team: %w", err)
	}

	return s.accept(ctx, userID, &model.Job{
		Action:     model.ActionCreateTeam,
		EntityKind: model.EntityTeam,
		EntityID:   team.ID,
		EntitySlug: team.Slug,
	})
}

// Get returns a team by slug.
func (s *TeamService) Get(ctx context.Context, slug string) (*model.Team, error) {
	return s.getTeam(ctx, slug)
}

// Delete accepts teardown of a team.
func (s *TeamService) Delete(ctx context.Context, userID, slug string) (*model.JobAcceptedResponse, error) {
	team, err := s.getTeam(ctx, slug)
	if err != nil {
		return nil, err
	}

	return s.accept(ctx, userID, &model.Job{
		Action:     model.ActionDeleteTeam,
		EntityKind: model.EntityTeam,
		EntityID:   team.ID,
		EntitySlug: team.Slug,
	})
}

func (s *TeamService) accept(ctx context.Context, userID string, job *model.Job) (*model.JobAcceptedResponse, error) {
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
