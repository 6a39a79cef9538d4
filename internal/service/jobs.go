package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/teamdock/portal/internal/model"
)

// TaskTypeProvision is the asynq task type for all lifecycle jobs.
const TaskTypeProvision = "portal:provision"

const jobRetention = 24 * time.Hour

// ProvisionTaskPayload is what the worker needs to pick a job up; the job
// record itself is authoritative and lives in redis.
type ProvisionTaskPayload struct {
	JobID  string `json:"jobId"`
	UserID string `json:"userId"`
}

// ErrNotFound is the sentinel the handlers translate into a 404.
var ErrNotFound = fmt.Errorf("not found")

type jobStore struct {
	redis *redis.Client
}

func (s jobStore) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobRetention).Err()
}

func (s jobStore) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s jobStore) saveWorkspace(ctx context.Context, ws *model.Workspace) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, workspaceKey(ws.Slug), data, 0).Err()
}

func (s jobStore) getWorkspace(ctx context.Context, slug string) (*model.Workspace, error) {
	data, err := s.redis.Get(ctx, workspaceKey(slug)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var ws model.Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (s jobStore) deleteWorkspace(ctx context.Context, slug string) error {
	return s.redis.Del(ctx, workspaceKey(slug)).Err()
}

func (s jobStore) saveTeam(ctx context.Context, team *model.Team) error {
	data, err := json.Marshal(team)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, teamKey(team.Slug), data, 0).Err()
}

func (s jobStore) getTeam(ctx context.Context, slug string) (*model.Team, error) {
	data, err := s.redis.Get(ctx, teamKey(slug)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var team model.Team
	if err := json.Unmarshal(data, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

func (s jobStore) deleteTeam(ctx context.Context, slug string) error {
	return s.redis.Del(ctx, teamKey(slug)).Err()
}

func jobKey(id string) string         { return "job:" + id }
func workspaceKey(slug string) string { return "workspace:" + slug }
func teamKey(slug string) string      { return "team:" + slug }

func newProvisionTask(jobID, userID string) (*asynq.Task, error) {
	data, err := json.Marshal(ProvisionTaskPayload{JobID: jobID, UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeProvision, data), nil
}
