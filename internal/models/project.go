package models

import "time"

// ServiceOptions identifies the repository a project's VCS integration talks to.
type ServiceOptions struct {
	User       string `json:"user" validate:"required"`
	Repository string `json:"repository" validate:"required"`
}

// ServiceConfig describes which external VCS integration governs a project.
// An empty Name means the project has no integration and notifications are
// skipped.
type ServiceConfig struct {
	Name    string         `json:"name" validate:"required"`
	Options ServiceOptions `json:"options"`
}

// Project groups builds and uploaded screenshot sets. Projects are created
// once and never mutated or deleted.
type Project struct {
	ID        string        `json:"id"`
	Service   ServiceConfig `json:"service"`
	CreatedAt time.Time     `json:"created_at"`
}
