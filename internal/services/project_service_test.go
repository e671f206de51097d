package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/visualtesting/engine/internal/models"
	appErr "github.com/visualtesting/engine/pkg/errors"
)

func TestCreateProject(t *testing.T) {
	svc := NewProjectService(newTestStore(t))

	p, err := svc.CreateProject(context.Background(), models.ServiceConfig{
		Name:    "github",
		Options: models.ServiceOptions{User: "acme", Repository: "web"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)
	require.Equal(t, "github", p.Service.Name)

	got, err := svc.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", got.Service.Options.User)
	require.Equal(t, "web", got.Service.Options.Repository)
}

func TestCreateProjectUnsupportedService(t *testing.T) {
	svc := NewProjectService(newTestStore(t))

	_, err := svc.CreateProject(context.Background(), models.ServiceConfig{Name: "gitlab"})
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	_, err = svc.CreateProject(context.Background(), models.ServiceConfig{})
	require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestGetProjectUnknown(t *testing.T) {
	svc := NewProjectService(newTestStore(t))

	_, err := svc.GetProject(context.Background(), "missing")
	require.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}
