package handler

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/db"
	"github.com/reelforge/reelforge/internal/model"
)

type runStatusResponse struct {
	ID           string   `json:"id"`
	State        string   `json:"state"`
	Watermarked  bool     `json:"watermarked"`
	ErrorKind    string   `json:"error_kind,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Width        *int64   `json:"width,omitempty"`
	Height       *int64   `json:"height,omitempty"`
	Duration     *float64 `json:"duration_secs,omitempty"`
	SizeBytes    int64    `json:"size_bytes,omitempty"`
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) *model.Run {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.NotFound(w, r)
		return nil
	}
	run, err := db.GetRun(h.DB, id)
	if err != nil || run == nil {
		http.NotFound(w, r)
		return nil
	}
	return run
}

func (h *Handler) RunStatus(w http.ResponseWriter, r *http.Request) {
	run := h.loadRun(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, runStatusResponse{
		ID:           run.ID,
		State:        run.State,
		Watermarked:  run.Watermarked,
		ErrorKind:    run.ErrorKind,
		ErrorMessage: run.ErrorMessage,
		Width:        run.Width,
		Height:       run.Height,
		Duration:     run.VideoDuration,
		SizeBytes:    run.SizeBytes,
	})
}

// RunVideo serves the presented artifact under its fixed download filename.
// The filename differs when watermarking failed and the unmodified original
// is presented.
func (h *Handler) RunVideo(w http.ResponseWriter, r *http.Request) {
	run := h.loadRun(w, r)
	if run == nil {
		return
	}
	if run.State != model.StateReady || run.VideoPath == "" {
		writeJSONError(w, http.StatusConflict, "run has no presentable video")
		return
	}

	filename := model.DownloadFilename
	if !run.Watermarked {
		filename = model.DownloadFilenameOriginal
	}

	w.Header().Set("Content-Type", "video/mp4")
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	} else {
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, filename))
	}
	http.ServeFile(w, r, filepath.Join(h.Cfg.DataDir, run.VideoPath))
}
