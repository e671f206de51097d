package storage

import (
	"context"
	"io"

	"github.com/visualtesting/engine/internal/models"
)

// StartBuildParams are the required fields for starting a build.
type StartBuildParams struct {
	Project     string
	Head        string
	Base        string
	NumBrowsers int
}

// UpdateBuildParams carries a status transition for an existing build.
// Diffs is only consulted when Status is failed; a success transition clears
// any previously stored diffs and an approval leaves them in place.
type UpdateBuildParams struct {
	Project string
	Build   string
	Status  models.BuildStatus
	Diffs   map[string][]string
}

// SaveImagesParams identifies where an uploaded screenshot archive lands.
type SaveImagesParams struct {
	Project string
	Sha     string
	Browser string
	Archive io.Reader
}

// SaveDiffParams identifies a rendered diff image to persist under a build.
type SaveDiffParams struct {
	Project   string
	Build     string
	Browser   string
	ImageName string
	Data      []byte
}

// Store is the hierarchical repository backing the diff engine. It owns all
// persisted state; orchestration recomputes every decision from it.
type Store interface {
	CreateProject(ctx context.Context, service models.ServiceConfig) (*models.Project, error)
	HasProject(ctx context.Context, project string) (bool, error)
	GetProjectInfo(ctx context.Context, project string) (*models.Project, error)

	StartBuild(ctx context.Context, p StartBuildParams) (*models.Build, error)
	HasBuild(ctx context.Context, project, build string) (bool, error)
	GetBuildInfo(ctx context.Context, project, build string) (*models.Build, error)
	UpdateBuildInfo(ctx context.Context, p UpdateBuildParams) error

	// GetBuildsForSha is the reverse index from a commit reference to every
	// build whose head or base references it.
	GetBuildsForSha(ctx context.Context, project, sha string) ([]string, error)

	SaveImages(ctx context.Context, p SaveImagesParams) error
	GetBrowsersForSha(ctx context.Context, project, sha string) ([]string, error)
	GetImagesForShaBrowser(ctx context.Context, project, sha, browser string) ([]string, error)
	GetImage(ctx context.Context, project, sha, browser, image string) ([]byte, error)

	GetDiff(ctx context.Context, project, build, browser, image string) ([]byte, error)
	SaveDiffImage(ctx context.Context, p SaveDiffParams) error
}
