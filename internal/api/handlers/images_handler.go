package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/visualtesting/engine/internal/api/types"
	"github.com/visualtesting/engine/internal/services"
	"github.com/visualtesting/engine/internal/storage"
)

// uploadMemoryLimit bounds how much of a screenshot archive is buffered in
// memory before spilling to disk.
const uploadMemoryLimit = 32 << 20

type ImagesHandler struct {
	svc   services.BuildService
	store storage.Store
}

func NewImagesHandler(svc services.BuildService, store storage.Store) *ImagesHandler {
	return &ImagesHandler{svc: svc, store: store}
}

// Upload accepts a multipart form with project, sha, browser fields and an
// images part holding a gzipped tarball of screenshots.
func (h *ImagesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMemoryLimit); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	project := r.FormValue("project")
	sha := r.FormValue("sha")
	browser := r.FormValue("browser")

	file, _, err := r.FormFile("images")
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "images file is required")
		return
	}
	defer file.Close()

	if err := h.svc.UploadImages(r.Context(), services.UploadInput{
		Project: project,
		Sha:     sha,
		Browser: browser,
		Archive: file,
	}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

// GetImage streams an uploaded screenshot. The trailing wildcard allows
// nested image names like menu/open.png.
func (h *ImagesHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.GetImage(r.Context(),
		chi.URLParam(r, "project"),
		chi.URLParam(r, "sha"),
		chi.URLParam(r, "browser"),
		chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, err)
		return
	}
	writePNG(w, data)
}

// GetDiff streams a generated diff artifact.
func (h *ImagesHandler) GetDiff(w http.ResponseWriter, r *http.Request) {
	data, err := h.store.GetDiff(r.Context(),
		chi.URLParam(r, "project"),
		chi.URLParam(r, "build"),
		chi.URLParam(r, "browser"),
		chi.URLParam(r, "*"))
	if err != nil {
		writeError(w, err)
		return
	}
	writePNG(w, data)
}

func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
