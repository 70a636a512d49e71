package handler

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"github.com/reelforge/reelforge/internal/db"
	"github.com/reelforge/reelforge/internal/model"
)

// StudioPage serves the prompt form.
func (h *Handler) StudioPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, "studio.html", PageData{
		Title: "ReelForge Studio",
		Data: map[string]interface{}{
			"CSRFField": csrf.TemplateField(r),
		},
	})
}

// createRunForm is the explicit request builder: constructed from the
// submitted form immediately before submission, never from ambient state.
type createRunForm struct {
	Prompt          string `validate:"required"`
	DurationSeconds int    `validate:"min=1,max=8"`
	AspectRatio     string `validate:"oneof=16:9 9:16"`
}

// RunCreate validates the form, persists a PENDING run, and stores the
// optional reference image alongside it for the worker to pick up.
func (h *Handler) RunCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.Cfg.MaxUploadBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form")
		return
	}

	duration, err := strconv.Atoi(r.FormValue("duration"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "duration must be a number")
		return
	}

	form := createRunForm{
		Prompt:          strings.TrimSpace(r.FormValue("prompt")),
		DurationSeconds: duration,
		AspectRatio:     r.FormValue("aspect_ratio"),
	}
	if err := h.validate.Struct(form); err != nil {
		if form.Prompt == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt must not be empty")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	var imageData []byte
	var imageMime string
	if file, _, err := r.FormFile("image"); err == nil {
		defer file.Close()
		// One byte past the limit distinguishes too-large from exactly
		// at the limit; a truncated image must never reach the provider.
		imageData, err = io.ReadAll(io.LimitReader(file, h.Cfg.MaxUploadBytes+1))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "read image: "+err.Error())
			return
		}
		if int64(len(imageData)) > h.Cfg.MaxUploadBytes {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "reference image exceeds the upload size limit")
			return
		}
		imageMime = http.DetectContentType(imageData)
		if !strings.HasPrefix(imageMime, "image/") {
			writeJSONError(w, http.StatusBadRequest, "reference file is not an image")
			return
		}
	}

	run := &model.Run{
		ID:              uuid.New().String(),
		State:           model.StatePending,
		Prompt:          form.Prompt,
		DurationSeconds: form.DurationSeconds,
		AspectRatio:     form.AspectRatio,
		HasImage:        len(imageData) > 0,
		ImageMime:       imageMime,
	}

	if run.HasImage {
		runDir := filepath.Join(h.Cfg.DataDir, "runs", run.ID)
		if err := os.MkdirAll(runDir, 0755); err != nil {
			slog.Error("create run dir", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := os.WriteFile(filepath.Join(runDir, "reference.bin"), imageData, 0644); err != nil {
			slog.Error("store reference image", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	// One run at a time. The insert carries the check, so concurrent
	// submissions cannot both pass; the page's disabled trigger is only
	// a courtesy.
	inserted, err := db.InsertRunIfIdle(h.DB, run)
	if err != nil {
		slog.Error("insert run", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !inserted {
		if run.HasImage {
			os.RemoveAll(filepath.Join(h.Cfg.DataDir, "runs", run.ID))
		}
		writeJSONError(w, http.StatusConflict, "a generation is already in progress")
		return
	}

	slog.Info("run queued", "run", run.ID, "duration", run.DurationSeconds, "aspect", run.AspectRatio, "has_image", run.HasImage)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"state":  run.State,
	})
}
