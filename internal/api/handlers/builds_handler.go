package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/visualtesting/engine/internal/api/types"
	"github.com/visualtesting/engine/internal/api/validators"
	"github.com/visualtesting/engine/internal/services"
)

type BuildsHandler struct {
	svc services.BuildService
}

func NewBuildsHandler(svc services.BuildService) *BuildsHandler {
	return &BuildsHandler{svc: svc}
}

func (h *BuildsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.BuildCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.svc.StartBuild(r.Context(), services.StartBuildInput{
		Project:     req.Project,
		Head:        req.Head,
		Base:        req.Base,
		NumBrowsers: req.NumBrowsers,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: b})
}

func (h *BuildsHandler) Get(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	build := chi.URLParam(r, "build")

	b, err := h.svc.GetBuild(r.Context(), project, build)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: b})
}

func (h *BuildsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	build := chi.URLParam(r, "build")

	b, err := h.svc.ConfirmBuild(r.Context(), project, build)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: b})
}
