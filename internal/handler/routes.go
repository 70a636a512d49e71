package handler

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
)

func (h *Handler) Routes(staticFS fs.FS, runRL *RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	csrfProtect := csrf.Protect(
		[]byte(h.Cfg.SessionSecret),
		csrf.Secure(strings.HasPrefix(h.Cfg.BaseURL, "https")),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
	)
	r.Use(csrfProtect)

	r.Handle("/static/*", http.StripPrefix("/static/",
		http.FileServer(http.FS(staticFS))))

	r.Get("/", h.StudioPage)

	r.Group(func(r chi.Router) {
		r.Use(runRL.Middleware)
		r.Post("/runs", h.RunCreate)
	})

	r.Get("/runs/{id}", h.RunStatus)
	r.Get("/runs/{id}/events", h.RunSSE)
	r.Get("/runs/{id}/video", h.RunVideo)

	return r
}
