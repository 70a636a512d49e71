package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/reelforge/reelforge/internal/db"
	"github.com/reelforge/reelforge/internal/model"
)

// RunSSE streams run progress events to the studio page.
func (h *Handler) RunSSE(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := h.SSE.Subscribe("run:" + id)
	defer unsub()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	// The hub does not replay, so a run that went terminal before the
	// stream attached would leave the page waiting forever. Emit the
	// terminal event from the persisted row instead.
	run, err := db.GetRun(h.DB, id)
	if err != nil || run == nil {
		return
	}
	if run.Terminal() {
		writeTerminalEvent(w, flusher, run)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
			// Terminal events end the stream; the page tears down its
			// EventSource on them anyway.
			if evt.Type == "ready" || evt.Type == "failed" {
				return
			}
		}
	}
}

// writeTerminalEvent renders a run's terminal state as the same event the
// worker would have published for it.
func writeTerminalEvent(w http.ResponseWriter, flusher http.Flusher, run *model.Run) {
	eventType := "failed"
	payload := map[string]any{
		"error_kind":    run.ErrorKind,
		"error_message": run.ErrorMessage,
	}
	if run.State == model.StateReady {
		eventType = "ready"
		payload = map[string]any{"watermarked": run.Watermarked}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}
