package api

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/visualtesting/engine/internal/api/handlers"
	"github.com/visualtesting/engine/internal/api/types"
	"github.com/visualtesting/engine/internal/events"
	"github.com/visualtesting/engine/internal/services"
	"github.com/visualtesting/engine/internal/storage"
	"github.com/visualtesting/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests (required by middleware and services)
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (http.Handler, storage.Store) {
	t.Helper()
	store, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	bus := events.NewBus()
	buildSvc := services.NewBuildService(store, bus, nil, nil)
	projectSvc := services.NewProjectService(store)

	router := NewRouter(Dependencies{
		ProjectsHandler: handlers.NewProjectsHandler(projectSvc),
		BuildsHandler:   handlers.NewBuildsHandler(buildSvc),
		ImagesHandler:   handlers.NewImagesHandler(buildSvc, store),
	})
	return router, store
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) types.APIResponse {
	t.Helper()
	var resp types.APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func createProject(t *testing.T, router http.Handler) string {
	t.Helper()
	rr := doJSON(t, router, http.MethodPost, "/api/v1/projects", map[string]any{
		"service": map[string]any{
			"name":    "github",
			"options": map[string]string{"user": "acme", "repository": "web"},
		},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	resp := decodeResponse(t, rr)
	require.True(t, resp.Success)
	return resp.Data.(map[string]any)["id"].(string)
}

func uploadTarball(t *testing.T, router http.Handler, project, sha, browser string, files map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var archive bytes.Buffer
	gz := gzip.NewWriter(&archive)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	var body bytes.Buffer
	mp := multipart.NewWriter(&body)
	require.NoError(t, mp.WriteField("project", project))
	require.NoError(t, mp.WriteField("sha", sha))
	require.NoError(t, mp.WriteField("browser", browser))
	part, err := mp.CreateFormFile("images", "images.tar.gz")
	require.NoError(t, err)
	_, err = part.Write(archive.Bytes())
	require.NoError(t, err)
	require.NoError(t, mp.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &body)
	req.Header.Set("Content-Type", mp.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestCreateProjectEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	id := createProject(t, router)
	require.NotEmpty(t, id)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/projects", map[string]any{
		"service": map[string]any{
			"name":    "bitbucket",
			"options": map[string]string{"user": "acme", "repository": "web"},
		},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeResponse(t, rr)
	require.False(t, resp.Success)
	require.Equal(t, "invalid", resp.Error.Code)
}

func TestCreateProjectRejectsBadJSON(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects", bytes.NewBufferString("{nope"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildLifecycleEndpoints(t *testing.T) {
	router, _ := newTestServer(t)
	project := createProject(t, router)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/builds", map[string]any{
		"project": project, "head": "head-sha", "base": "base-sha", "numBrowsers": 1,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeResponse(t, rr)
	build := created.Data.(map[string]any)["id"].(string)
	require.Equal(t, "pending", created.Data.(map[string]any)["status"])

	rr = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/builds/%s/%s", project, build), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/v1/builds/%s/missing", project), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	// pending builds cannot be approved
	rr = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/v1/builds/%s/%s/confirm", project, build), nil)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestBuildValidationEndpoint(t *testing.T) {
	router, _ := newTestServer(t)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/builds", map[string]any{
		"project": "p", "head": "h", "base": "b", "numBrowsers": 0,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadAndServeImage(t *testing.T) {
	router, _ := newTestServer(t)
	project := createProject(t, router)

	rr := uploadTarball(t, router, project, "sha-1", "chrome", map[string]string{
		"home.png":      "home pixels",
		"menu/open.png": "menu pixels",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/image/%s/sha-1/chrome/home.png", project), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "home pixels", rec.Body.String())

	// nested image names resolve through the trailing wildcard
	req = httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/image/%s/sha-1/chrome/menu/open.png", project), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "menu pixels", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/image/%s/sha-1/chrome/missing.png", project), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadMissingFields(t *testing.T) {
	router, _ := newTestServer(t)
	project := createProject(t, router)

	rr := uploadTarball(t, router, project, "", "chrome", map[string]string{"a.png": "x"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServeDiff(t *testing.T) {
	router, store := newTestServer(t)
	project := createProject(t, router)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/builds", map[string]any{
		"project": project, "head": "h", "base": "b", "numBrowsers": 1,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	build := decodeResponse(t, rr).Data.(map[string]any)["id"].(string)

	require.NoError(t, store.SaveDiffImage(context.Background(), storage.SaveDiffParams{
		Project: project, Build: build, Browser: "chrome",
		ImageName: "home.png", Data: []byte("diff pixels"),
	}))

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/v1/diff/%s/%s/chrome/home.png", project, build), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "diff pixels", rec.Body.String())
}

// A raw, unnormalized request must not be able to walk out of the store root
// through the image or diff routes.
func TestImageRoutesRejectPathTraversal(t *testing.T) {
	base := t.TempDir()
	secret := filepath.Join(base, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("top-secret"), 0o644))

	store, err := storage.NewFSStore(filepath.Join(base, "data"))
	require.NoError(t, err)

	bus := events.NewBus()
	buildSvc := services.NewBuildService(store, bus, nil, nil)
	router := NewRouter(Dependencies{
		ProjectsHandler: handlers.NewProjectsHandler(services.NewProjectService(store)),
		BuildsHandler:   handlers.NewBuildsHandler(buildSvc),
		ImagesHandler:   handlers.NewImagesHandler(buildSvc, store),
	})

	project := createProject(t, router)

	for _, target := range []string{
		fmt.Sprintf("/api/v1/image/%s/sha/browser/../../../../../../secret.txt", project),
		fmt.Sprintf("/api/v1/diff/%s/build/browser/../../../../../../secret.txt", project),
	} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		require.NotContains(t, rec.Body.String(), "top-secret")
	}
}
