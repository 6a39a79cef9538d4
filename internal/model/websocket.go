package model

import "encoding/json"

// WebSocket frame types (server to client)
const (
	FrameTypeSubscribed    = "subscribed"
	FrameTypeTaskProgress  = "task_progress"
	FrameTypeTaskCompleted = "task_completed"
	FrameTypeTaskFailed    = "task_failed"
)

// SubscribeFrame is the one handshake frame a client sends after connecting.
type SubscribeFrame struct {
	UserID string `json:"user_id"`
}

// SubscribedFrame acknowledges the handshake and names the logical channel.
type SubscribedFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// TaskProgressFrame reports progress of a running job.
type TaskProgressFrame struct {
	Type          string `json:"type"`
	TaskID        string `json:"task_id"`
	Action        Action `json:"action,omitempty"`
	Step          int    `json:"step,omitempty"`
	TotalSteps    int    `json:"total_steps,omitempty"`
	StepName      string `json:"step_name,omitempty"`
	Percentage    *int   `json:"percentage,omitempty"`
	WorkspaceSlug string `json:"workspace_slug,omitempty"`
	SandboxSlug   string `json:"sandbox_slug,omitempty"`
	TeamSlug      string `json:"team_slug,omitempty"`
}

// TaskCompletedFrame reports successful completion of a job.
type TaskCompletedFrame struct {
	Type   string          `json:"type"`
	TaskID string          `json:"task_id"`
	Result json.RawMessage `json:"result,omitempty"`
}

// TaskFailedFrame reports failure of a job.
type TaskFailedFrame struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

// FrameEnvelope is the superset shape clients decode inbound frames into,
// discriminated by Type. Percentage is a pointer so an absent value can be
// told apart from an explicit zero.
type FrameEnvelope struct {
	Type          string          `json:"type"`
	Channel       string          `json:"channel,omitempty"`
	TaskID        string          `json:"task_id,omitempty"`
	Action        Action          `json:"action,omitempty"`
	Step          int             `json:"step,omitempty"`
	TotalSteps    int             `json:"total_steps,omitempty"`
	StepName      string          `json:"step_name,omitempty"`
	Percentage    *int            `json:"percentage,omitempty"`
	WorkspaceSlug string          `json:"workspace_slug,omitempty"`
	SandboxSlug   string          `json:"sandbox_slug,omitempty"`
	TeamSlug      string          `json:"team_slug,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
}
