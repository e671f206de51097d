package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/visualtesting/engine/internal/api/types"
	"github.com/visualtesting/engine/internal/api/validators"
	"github.com/visualtesting/engine/internal/models"
	"github.com/visualtesting/engine/internal/services"
)

type ProjectsHandler struct {
	svc services.ProjectService
}

func NewProjectsHandler(svc services.ProjectService) *ProjectsHandler {
	return &ProjectsHandler{svc: svc}
}

func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.ProjectCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validators.New().Struct(req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.svc.CreateProject(r.Context(), models.ServiceConfig{
		Name: req.Service.Name,
		Options: models.ServiceOptions{
			User:       req.Service.Options.User,
			Repository: req.Service.Options.Repository,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: p})
}
