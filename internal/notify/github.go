package notify

import (
	"context"

	"github.com/google/go-github/v60/github"
	"golang.org/x/oauth2"

	"github.com/visualtesting/engine/internal/models"
	appErr "github.com/visualtesting/engine/pkg/errors"
)

const githubKey = "github"

// GithubService posts commit statuses and commit comments through the GitHub
// API. The owner and repository come from the project's service options.
type GithubService struct {
	client        *github.Client
	statusContext string
}

// NewGithubService builds a service authenticated with the given token.
// statusContext labels the commit status line in the GitHub UI.
func NewGithubService(token, statusContext string) *GithubService {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	return &GithubService{
		client:        github.NewClient(httpClient),
		statusContext: statusContext,
	}
}

var _ Service = (*GithubService)(nil)

func (s *GithubService) Key() string { return githubKey }

func (s *GithubService) SetBuildStatus(ctx context.Context, cfg models.ServiceConfig, sha, status string) error {
	_, _, err := s.client.Repositories.CreateStatus(ctx, cfg.Options.User, cfg.Options.Repository, sha, &github.RepoStatus{
		State:   github.String(status),
		Context: github.String(s.statusContext),
	})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "github create status failed")
	}
	return nil
}

func (s *GithubService) AddComment(ctx context.Context, cfg models.ServiceConfig, sha, comment string) error {
	_, _, err := s.client.Repositories.CreateComment(ctx, cfg.Options.User, cfg.Options.Repository, sha, &github.RepositoryComment{
		Body: github.String(comment),
	})
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "github create comment failed")
	}
	return nil
}
