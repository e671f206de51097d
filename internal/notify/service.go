package notify

import (
	"context"

	"github.com/visualtesting/engine/internal/models"
)

// Service is one external VCS integration. A project selects its service by
// matching Key against the service name stored in its configuration.
type Service interface {
	Key() string
	SetBuildStatus(ctx context.Context, cfg models.ServiceConfig, sha, status string) error
	AddComment(ctx context.Context, cfg models.ServiceConfig, sha, comment string) error
}

// statusForBuild maps internal build lifecycle states onto the coarse
// commit-status vocabulary VCS services understand. An approval reports
// success, as if the build had passed.
func statusForBuild(status models.BuildStatus) string {
	switch status {
	case models.BuildPending:
		return "pending"
	case models.BuildFailed:
		return "failure"
	default:
		return "success"
	}
}
