package storage

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visualtesting/engine/internal/archive"
	"github.com/visualtesting/engine/internal/models"
	appErr "github.com/visualtesting/engine/pkg/errors"
)

const (
	projectFile = "project.json"
	buildFile   = "build.json"
	indexFile   = "builds.json"
)

// shaIndex is the on-disk shape of the builds-for-sha reverse index.
type shaIndex struct {
	Builds []string `json:"builds"`
}

// FSStore implements Store on a directory hierarchy:
//
//	<root>/project/{id}/project.json
//	<root>/project/{id}/builds/{build}/build.json
//	<root>/project/{id}/builds/{build}/{browser}/{image}   (diff artifacts)
//	<root>/project/{id}/shas/{sha}/builds.json             (reverse index)
//	<root>/project/{id}/shas/{sha}/{browser}/{image}       (uploads)
type FSStore struct {
	root string

	// shaMu serializes builds.json read-modify-write per (project, sha) so
	// concurrent StartBuild calls never drop an appended build id.
	shaMu sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFSStore creates the store root if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "project"), 0o755); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "create store root failed")
	}
	return &FSStore{root: root, locks: map[string]*sync.Mutex{}}, nil
}

var _ Store = (*FSStore)(nil)

func (s *FSStore) projectDir(project string) string {
	return filepath.Join(s.root, "project", project)
}

func (s *FSStore) buildDir(project, build string) string {
	return filepath.Join(s.projectDir(project), "builds", build)
}

func (s *FSStore) shaDir(project, sha string) string {
	return filepath.Join(s.projectDir(project), "shas", sha)
}

// localRef rejects any request-derived identifier whose cleaned form would
// escape the directory it is joined under. Same containment rule the tar
// extractor applies on the write side.
func localRef(refs ...string) error {
	for _, ref := range refs {
		if ref == "" || !filepath.IsLocal(filepath.FromSlash(ref)) {
			return appErr.New(appErr.CodeInvalid, "reference is not a local path").WithMeta("ref", ref)
		}
	}
	return nil
}

func (s *FSStore) shaLock(project, sha string) *sync.Mutex {
	s.shaMu.Lock()
	defer s.shaMu.Unlock()
	key := project + "/" + sha
	mu, ok := s.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[key] = mu
	}
	return mu
}

// writeJSON persists v atomically via a temp file in the target directory.
func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create dir failed")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "marshal failed")
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create temp file failed")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return appErr.Wrap(err, appErr.CodeInternal, "write temp file failed")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return appErr.Wrap(err, appErr.CodeInternal, "close temp file failed")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return appErr.Wrap(err, appErr.CodeInternal, "rename temp file failed")
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *FSStore) CreateProject(ctx context.Context, service models.ServiceConfig) (*models.Project, error) {
	p := &models.Project{
		ID:        uuid.NewString(),
		Service:   service,
		CreatedAt: time.Now().UTC(),
	}
	if err := writeJSON(filepath.Join(s.projectDir(p.ID), projectFile), p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *FSStore) HasProject(ctx context.Context, project string) (bool, error) {
	if localRef(project) != nil {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(s.projectDir(project), projectFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, appErr.Wrap(err, appErr.CodeInternal, "stat project failed")
	}
	return true, nil
}

func (s *FSStore) GetProjectInfo(ctx context.Context, project string) (*models.Project, error) {
	if err := localRef(project); err != nil {
		return nil, err
	}
	var p models.Project
	if err := readJSON(filepath.Join(s.projectDir(project), projectFile), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.UnknownProject(project)
		}
		return nil, appErr.Wrap(err, appErr.CodeInternal, "read project failed")
	}
	return &p, nil
}

func (s *FSStore) StartBuild(ctx context.Context, p StartBuildParams) (*models.Build, error) {
	if err := localRef(p.Project, p.Head, p.Base); err != nil {
		return nil, err
	}
	ok, err := s.HasProject(ctx, p.Project)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErr.UnknownProject(p.Project)
	}

	now := time.Now().UTC()
	b := &models.Build{
		ID:          uuid.NewString(),
		Project:     p.Project,
		Head:        p.Head,
		Base:        p.Base,
		NumBrowsers: p.NumBrowsers,
		Status:      models.BuildPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := writeJSON(filepath.Join(s.buildDir(p.Project, b.ID), buildFile), b); err != nil {
		return nil, err
	}

	for _, sha := range []string{p.Head, p.Base} {
		if err := s.addBuildToSha(p.Project, sha, b.ID); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *FSStore) addBuildToSha(project, sha, build string) error {
	mu := s.shaLock(project, sha)
	mu.Lock()
	defer mu.Unlock()

	path := filepath.Join(s.shaDir(project, sha), indexFile)
	var idx shaIndex
	if err := readJSON(path, &idx); err != nil && !os.IsNotExist(err) {
		return appErr.Wrap(err, appErr.CodeInternal, "read sha index failed")
	}
	for _, id := range idx.Builds {
		if id == build {
			return nil
		}
	}
	idx.Builds = append(idx.Builds, build)
	return writeJSON(path, idx)
}

func (s *FSStore) GetBuildsForSha(ctx context.Context, project, sha string) ([]string, error) {
	if err := localRef(project, sha); err != nil {
		return nil, err
	}
	var idx shaIndex
	if err := readJSON(filepath.Join(s.shaDir(project, sha), indexFile), &idx); err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.New(appErr.CodeNotFound, "unknown sha").WithMeta("sha", sha)
		}
		return nil, appErr.Wrap(err, appErr.CodeInternal, "read sha index failed")
	}
	return idx.Builds, nil
}

func (s *FSStore) HasBuild(ctx context.Context, project, build string) (bool, error) {
	if localRef(project, build) != nil {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(s.buildDir(project, build), buildFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, appErr.Wrap(err, appErr.CodeInternal, "stat build failed")
	}
	return true, nil
}

func (s *FSStore) GetBuildInfo(ctx context.Context, project, build string) (*models.Build, error) {
	if err := localRef(project, build); err != nil {
		return nil, err
	}
	var b models.Build
	if err := readJSON(filepath.Join(s.buildDir(project, build), buildFile), &b); err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.UnknownBuild(build)
		}
		return nil, appErr.Wrap(err, appErr.CodeInternal, "read build failed")
	}
	return &b, nil
}

func (s *FSStore) UpdateBuildInfo(ctx context.Context, p UpdateBuildParams) error {
	b, err := s.GetBuildInfo(ctx, p.Project, p.Build)
	if err != nil {
		return err
	}

	b.Status = p.Status
	switch p.Status {
	case models.BuildSuccess:
		b.Diffs = nil
	case models.BuildFailed:
		b.Diffs = p.Diffs
	}
	b.UpdatedAt = time.Now().UTC()

	return writeJSON(filepath.Join(s.buildDir(p.Project, p.Build), buildFile), b)
}

func (s *FSStore) SaveImages(ctx context.Context, p SaveImagesParams) error {
	if err := localRef(p.Project, p.Sha, p.Browser); err != nil {
		return err
	}
	ok, err := s.HasProject(ctx, p.Project)
	if err != nil {
		return err
	}
	if !ok {
		return appErr.UnknownProject(p.Project)
	}

	dest := filepath.Join(s.shaDir(p.Project, p.Sha), p.Browser)
	// re-uploading a browser replaces its previous image set
	if err := os.RemoveAll(dest); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "clear browser dir failed")
	}
	return archive.Extract(p.Archive, dest)
}

func (s *FSStore) GetBrowsersForSha(ctx context.Context, project, sha string) ([]string, error) {
	if err := localRef(project, sha); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.shaDir(project, sha))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.New(appErr.CodeNotFound, "unknown sha").WithMeta("sha", sha)
		}
		return nil, appErr.Wrap(err, appErr.CodeInternal, "read sha dir failed")
	}
	browsers := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			browsers = append(browsers, e.Name())
		}
	}
	sort.Strings(browsers)
	return browsers, nil
}

func (s *FSStore) GetImagesForShaBrowser(ctx context.Context, project, sha, browser string) ([]string, error) {
	if err := localRef(project, sha, browser); err != nil {
		return nil, err
	}
	root := filepath.Join(s.shaDir(project, sha), browser)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.New(appErr.CodeNotFound, "unknown browser for sha").
				WithMeta("sha", sha).WithMeta("browser", browser)
		}
		return nil, appErr.Wrap(err, appErr.CodeInternal, "stat browser dir failed")
	}

	var images []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		images = append(images, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "walk browser dir failed")
	}
	sort.Strings(images)
	return images, nil
}

func (s *FSStore) GetImage(ctx context.Context, project, sha, browser, image string) ([]byte, error) {
	if err := localRef(project, sha, browser, image); err != nil {
		return nil, err
	}
	return readImageFile(filepath.Join(s.shaDir(project, sha), browser, image))
}

func (s *FSStore) GetDiff(ctx context.Context, project, build, browser, image string) ([]byte, error) {
	if err := localRef(project, build, browser, image); err != nil {
		return nil, err
	}
	return readImageFile(filepath.Join(s.buildDir(project, build), browser, image))
}

func readImageFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, appErr.New(appErr.CodeNotFound, "unknown image").WithMeta("path", filepath.Base(path))
		}
		return nil, appErr.Wrap(err, appErr.CodeInternal, "read image failed")
	}
	return data, nil
}

func (s *FSStore) SaveDiffImage(ctx context.Context, p SaveDiffParams) error {
	if err := localRef(p.Project, p.Build, p.Browser, p.ImageName); err != nil {
		return err
	}
	dir := filepath.Join(s.buildDir(p.Project, p.Build), p.Browser)
	if err := os.MkdirAll(filepath.Join(dir, filepath.Dir(p.ImageName)), 0o755); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "create diff dir failed")
	}
	if err := os.WriteFile(filepath.Join(dir, p.ImageName), p.Data, 0o644); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "write diff image failed")
	}
	return nil
}
