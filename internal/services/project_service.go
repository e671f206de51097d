package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/visualtesting/engine/internal/models"
	"github.com/visualtesting/engine/internal/storage"
	appErr "github.com/visualtesting/engine/pkg/errors"
	"github.com/visualtesting/engine/pkg/logger"
)

// supportedServices are the VCS integrations a project may declare.
var supportedServices = map[string]bool{
	"github": true,
}

// ProjectService creates and reads projects.
type ProjectService interface {
	CreateProject(ctx context.Context, service models.ServiceConfig) (*models.Project, error)
	GetProject(ctx context.Context, project string) (*models.Project, error)
}

type projectService struct {
	store storage.Store
}

func NewProjectService(store storage.Store) ProjectService {
	return &projectService{store: store}
}

var _ ProjectService = (*projectService)(nil)

func (s *projectService) CreateProject(ctx context.Context, service models.ServiceConfig) (*models.Project, error) {
	if service.Name == "" {
		return nil, appErr.New(appErr.CodeInvalid, "service name is required")
	}
	if !supportedServices[service.Name] {
		return nil, appErr.New(appErr.CodeInvalid, "unsupported dvcs").WithMeta("service", service.Name)
	}

	p, err := s.store.CreateProject(ctx, service)
	if err != nil {
		return nil, err
	}
	logger.L().Info("project created",
		zap.String("project", p.ID),
		zap.String("service", service.Name),
		zap.String("repository", service.Options.Repository))
	return p, nil
}

func (s *projectService) GetProject(ctx context.Context, project string) (*models.Project, error) {
	return s.store.GetProjectInfo(ctx, project)
}
