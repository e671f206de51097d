package services

import (
	"context"
	"io"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/visualtesting/engine/internal/events"
	"github.com/visualtesting/engine/internal/models"
	"github.com/visualtesting/engine/internal/queue/tasks"
	"github.com/visualtesting/engine/internal/storage"
	appErr "github.com/visualtesting/engine/pkg/errors"
	"github.com/visualtesting/engine/pkg/logger"
)

// ShaEvaluator re-checks every build referencing a sha. Satisfied by the diff
// orchestrator; substituted in tests.
type ShaEvaluator interface {
	OnImagesChanged(ctx context.Context, project, sha string) error
}

// StartBuildInput are the request fields for starting a build.
type StartBuildInput struct {
	Project     string `json:"project" validate:"required"`
	Head        string `json:"head" validate:"required"`
	Base        string `json:"base" validate:"required"`
	NumBrowsers int    `json:"numBrowsers" validate:"required,gte=1"`
}

// UploadInput identifies an uploaded screenshot archive.
type UploadInput struct {
	Project string
	Sha     string
	Browser string
	Archive io.Reader
}

// BuildService drives the build lifecycle around the store: starting,
// reading, uploading screenshots, and manual approval.
type BuildService interface {
	StartBuild(ctx context.Context, input StartBuildInput) (*models.Build, error)
	GetBuild(ctx context.Context, project, build string) (*models.Build, error)
	UploadImages(ctx context.Context, input UploadInput) error
	ConfirmBuild(ctx context.Context, project, build string) (*models.Build, error)
}

type buildService struct {
	store       storage.Store
	bus         *events.Bus
	evaluator   ShaEvaluator
	asynqClient *asynq.Client
}

// NewBuildService wires the build lifecycle. client may be nil, in which case
// uploads are evaluated inline through evaluator instead of enqueued.
func NewBuildService(store storage.Store, bus *events.Bus, evaluator ShaEvaluator, client *asynq.Client) BuildService {
	return &buildService{store: store, bus: bus, evaluator: evaluator, asynqClient: client}
}

var _ BuildService = (*buildService)(nil)

func (s *buildService) StartBuild(ctx context.Context, input StartBuildInput) (*models.Build, error) {
	if input.Project == "" || input.Head == "" || input.Base == "" || input.NumBrowsers < 1 {
		return nil, appErr.New(appErr.CodeInvalid, "project, head, base and numBrowsers are required")
	}

	b, err := s.store.StartBuild(ctx, storage.StartBuildParams{
		Project:     input.Project,
		Head:        input.Head,
		Base:        input.Base,
		NumBrowsers: input.NumBrowsers,
	})
	if err != nil {
		return nil, err
	}

	logger.L().Info("build started",
		zap.String("build", b.ID),
		zap.String("project", b.Project),
		zap.String("head", b.Head),
		zap.String("base", b.Base),
		zap.Int("num_browsers", b.NumBrowsers))

	// announce the pending comparison on the head commit right away
	s.bus.Publish(events.StatusEvent{
		Project: b.Project,
		Sha:     b.Head,
		Build:   b.ID,
		Status:  models.BuildPending,
	})
	return b, nil
}

func (s *buildService) GetBuild(ctx context.Context, project, build string) (*models.Build, error) {
	if project == "" || build == "" {
		return nil, appErr.New(appErr.CodeInvalid, "project and build are required")
	}
	return s.store.GetBuildInfo(ctx, project, build)
}

func (s *buildService) UploadImages(ctx context.Context, input UploadInput) error {
	if input.Project == "" || input.Sha == "" || input.Browser == "" || input.Archive == nil {
		return appErr.New(appErr.CodeInvalid, "project, sha, browser and images are required")
	}

	if err := s.store.SaveImages(ctx, storage.SaveImagesParams{
		Project: input.Project,
		Sha:     input.Sha,
		Browser: input.Browser,
		Archive: input.Archive,
	}); err != nil {
		return err
	}

	logger.L().Info("images uploaded",
		zap.String("project", input.Project),
		zap.String("sha", input.Sha),
		zap.String("browser", input.Browser))

	return s.triggerDiff(ctx, input.Project, input.Sha)
}

// triggerDiff hands the sha to the worker queue, falling back to inline
// evaluation when no queue is configured.
func (s *buildService) triggerDiff(ctx context.Context, project, sha string) error {
	if s.asynqClient != nil {
		task, err := tasks.NewDiffShaTask(project, sha)
		if err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "build diff task failed")
		}
		if _, err := s.asynqClient.EnqueueContext(ctx, task); err != nil {
			logger.L().Error("enqueue diff task failed",
				zap.Error(err), zap.String("project", project), zap.String("sha", sha))
			return appErr.Wrap(err, appErr.CodeInternal, "enqueue diff task failed")
		}
		return nil
	}

	if s.evaluator == nil {
		logger.L().Warn("no queue or evaluator configured, skipping diff",
			zap.String("project", project), zap.String("sha", sha))
		return nil
	}
	return s.evaluator.OnImagesChanged(ctx, project, sha)
}

func (s *buildService) ConfirmBuild(ctx context.Context, project, build string) (*models.Build, error) {
	if project == "" || build == "" {
		return nil, appErr.New(appErr.CodeInvalid, "project and build are required")
	}

	info, err := s.store.GetBuildInfo(ctx, project, build)
	if err != nil {
		return nil, err
	}
	if info.Status != models.BuildFailed {
		return nil, appErr.New(appErr.CodeConflict, "only failed builds can be approved").
			WithMeta("status", string(info.Status))
	}

	if err := s.store.UpdateBuildInfo(ctx, storage.UpdateBuildParams{
		Project: project, Build: build, Status: models.BuildApproved,
	}); err != nil {
		return nil, err
	}

	logger.L().Info("build approved", zap.String("build", build), zap.String("project", project))
	s.bus.Publish(events.StatusEvent{
		Project: project,
		Sha:     info.Head,
		Build:   build,
		Status:  models.BuildApproved,
	})

	info.Status = models.BuildApproved
	return info, nil
}
