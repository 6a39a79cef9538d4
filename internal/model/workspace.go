package model

import "time"

// WorkspaceStatus is the authoritative lifecycle state of a workspace.
type WorkspaceStatus string

const (
	WorkspaceProvisioning WorkspaceStatus = "provisioning"
	WorkspaceActive       WorkspaceStatus = "active"
	WorkspaceRestarting   WorkspaceStatus = "restarting"
	WorkspaceStopped      WorkspaceStatus = "stopped"
	WorkspaceDeleting     WorkspaceStatus = "deleting"
	WorkspaceFailed       WorkspaceStatus = "failed"
)

// Ambiguous reports whether the status is transitional, i.e. a poller
// should keep re-reading until it settles.
func (s WorkspaceStatus) Ambiguous() bool {
	switch s {
	case WorkspaceProvisioning, WorkspaceRestarting, WorkspaceDeleting:
		return true
	}
	return false
}

// Workspace is a provisioned tenant workspace served on its own subdomain.
type Workspace struct {
	ID         string          `json:"id"`
	Slug       string          `json:"slug"`
	TeamSlug   string          `json:"teamSlug"`
	OwnerID    string          `json:"ownerId"`
	Status     WorkspaceStatus `json:"status"`
	URL        string          `json:"url,omitempty"`
	LinkedApps []string        `json:"linkedApps,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ContainerHealth describes one constituent container of a workspace.
type ContainerHealth struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// WorkspaceHealth is the status/health endpoint's response.
type WorkspaceHealth struct {
	Slug       string            `json:"slug"`
	Status     WorkspaceStatus   `json:"status"`
	AllHealthy bool              `json:"all_healthy"`
	Containers []ContainerHealth `json:"containers,omitempty"`
}

// CreateWorkspaceRequest starts provisioning of a new workspace.
type CreateWorkspaceRequest struct {
	Slug     string `json:"slug" validate:"required,min=3,max=40"`
	TeamSlug string `json:"team_slug" validate:"required"`
	Template string `json:"template,omitempty" validate:"omitempty,oneof=blank kanban full"`
}

// LinkAppRequest links an application to a workspace.
type LinkAppRequest struct {
	AppSlug string `json:"app_slug" validate:"required"`
}

// SandboxPullRequestRequest deploys a sandbox from a pull request branch.
type SandboxPullRequestRequest struct {
	SandboxSlug string `json:"sandbox_slug" validate:"required"`
	Branch      string `json:"branch" validate:"required"`
}

// WorkspaceResult is the payload attached to a completed workspace job.
type WorkspaceResult struct {
	WorkspaceSlug string `json:"workspace_slug"`
	URL           string `json:"url,omitempty"`
}
