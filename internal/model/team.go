package model

import "time"

// Team is a tenant grouping of members and workspaces.
type Team struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateTeamRequest provisions a new team.
type CreateTeamRequest struct {
	Slug string `json:"slug" validate:"required,min=3,max=40"`
	Name string `json:"name" validate:"required,max=80"`
}

// TeamResult is the payload attached to a completed team job.
type TeamResult struct {
	TeamSlug string `json:"team_slug"`
}
