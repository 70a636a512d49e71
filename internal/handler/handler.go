package handler

import (
	"database/sql"
	"encoding/json"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/sse"
)

type Handler struct {
	DB        *sql.DB
	Cfg       *config.Config
	SSE       *sse.Hub
	templates map[string]*template.Template
	validate  *validator.Validate
}

func New(database *sql.DB, cfg *config.Config, templateFS fs.FS, sseHub *sse.Hub) *Handler {
	layoutTmpl := template.Must(
		template.New("layout.html").ParseFS(templateFS, "layout.html"),
	)

	templates := make(map[string]*template.Template)
	entries, err := fs.ReadDir(templateFS, ".")
	if err != nil {
		panic("read template dir: " + err.Error())
	}
	for _, e := range entries {
		name := e.Name()
		if name == "layout.html" || e.IsDir() {
			continue
		}
		t := template.Must(template.Must(layoutTmpl.Clone()).ParseFS(templateFS, name))
		templates[name] = t
	}

	return &Handler{
		DB:        database,
		Cfg:       cfg,
		SSE:       sseHub,
		templates: templates,
		validate:  validator.New(),
	}
}

type PageData struct {
	Title string
	Error string
	Data  interface{}
}

func (h *Handler) render(w http.ResponseWriter, name string, data PageData) {
	t, ok := h.templates[name]
	if !ok {
		slog.Error("template not found", "name", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "layout.html", data); err != nil {
		slog.Error("render template", "name", name, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
