package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Action identifies which lifecycle operation a job performs.
type Action string

const (
	ActionCreateWorkspace    Action = "create_workspace"
	ActionDeleteWorkspace    Action = "delete_workspace"
	ActionRestartWorkspace   Action = "restart_workspace"
	ActionStartWorkspace     Action = "start_workspace"
	ActionLinkApp            Action = "link_app"
	ActionUnlinkApp          Action = "unlink_app"
	ActionSandboxPullRequest Action = "sandbox.pull_request"
	ActionCreateTeam         Action = "create_team"
	ActionDeleteTeam         Action = "delete_team"
)

var ValidActions = []Action{
	ActionCreateWorkspace, ActionDeleteWorkspace, ActionRestartWorkspace,
	ActionStartWorkspace, ActionLinkApp, ActionUnlinkApp,
	ActionSandboxPullRequest, ActionCreateTeam, ActionDeleteTeam,
}

// EntityKind names the kind of resource a job concerns.
type EntityKind string

const (
	EntityWorkspace EntityKind = "workspace"
	EntityTeam      EntityKind = "team"
	EntitySandbox   EntityKind = "sandbox"
)

// Job represents a background lifecycle operation in the system.
// Slugs are not unique over time (a slug may be reused after deletion),
// so lookups by slug must prefer the most recently started job.
type Job struct {
	ID            string          `json:"id"`
	Action        Action          `json:"action"`
	Status        JobStatus       `json:"status"`
	EntityKind    EntityKind      `json:"entityKind,omitempty"`
	EntityID      string          `json:"entityId,omitempty"`
	EntitySlug    string          `json:"entitySlug,omitempty"`
	SubEntityID   string          `json:"subEntityId,omitempty"`
	SubEntitySlug string          `json:"subEntitySlug,omitempty"`
	Step          int             `json:"step,omitempty"`
	TotalSteps    int             `json:"totalSteps,omitempty"`
	StepName      string          `json:"stepName,omitempty"`
	Percentage    int             `json:"percentage"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	StartedAt     time.Time       `json:"startedAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// JobAcceptedResponse is returned by every mutating lifecycle endpoint.
// It confirms the job was accepted, not that it finished.
type JobAcceptedResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}
