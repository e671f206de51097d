package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/visualtesting/engine/internal/api/handlers"
	mw "github.com/visualtesting/engine/internal/api/middleware"
)

type Dependencies struct {
	ProjectsHandler *handlers.ProjectsHandler
	BuildsHandler   *handlers.BuildsHandler
	ImagesHandler   *handlers.ImagesHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(50, 100))
	r.Use(chimid.Compress(5))

	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/projects", dep.ProjectsHandler.Create)

		api.Route("/builds", func(br chi.Router) {
			br.Post("/", dep.BuildsHandler.Create)
			br.Get("/{project}/{build}", dep.BuildsHandler.Get)
			br.Post("/{project}/{build}/confirm", dep.BuildsHandler.Confirm)
		})

		api.Post("/upload", dep.ImagesHandler.Upload)
		api.Get("/image/{project}/{sha}/{browser}/*", dep.ImagesHandler.GetImage)
		api.Get("/diff/{project}/{build}/{browser}/*", dep.ImagesHandler.GetDiff)
	})

	return r
}
