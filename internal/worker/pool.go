package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/db"
	"github.com/reelforge/reelforge/internal/model"
	"github.com/reelforge/reelforge/internal/sse"
	"github.com/reelforge/reelforge/internal/veo"
	"github.com/reelforge/reelforge/internal/watermark"
)

// Generator is the remote generation surface the pool drives: submit, poll
// until done, download.
type Generator interface {
	Start(ctx context.Context, req veo.GenerationRequest) (*veo.Operation, error)
	Wait(ctx context.Context, op *veo.Operation, onPoll func(attempt int)) (*veo.Operation, error)
	Download(ctx context.Context, uri string) ([]byte, error)
}

// Renderer burns the fixed watermark into a video file.
type Renderer interface {
	Render(ctx context.Context, inputPath, outputPath string) error
}

// Prober reads video metadata off a file. Failures are non-fatal; the run
// just lacks dimensions.
type Prober func(ctx context.Context, path string) (*watermark.ProbeResult, error)

type Pool struct {
	database *sql.DB
	cfg      *config.Config
	gen      Generator
	renderer Renderer
	probe    Prober
	sseHub   *sse.Hub
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPool(database *sql.DB, cfg *config.Config, gen Generator, renderer Renderer, sseHub *sse.Hub) *Pool {
	return &Pool{
		database: database,
		cfg:      cfg,
		gen:      gen,
		renderer: renderer,
		probe:    watermark.Probe,
		sseHub:   sseHub,
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	slog.Info("worker pool started", "workers", p.cfg.WorkerCount)
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		run, err := db.ClaimNextRun(p.database)
		if err != nil {
			slog.Error("claim run", "worker", id, "error", err)
			sleep(ctx, 2*time.Second)
			continue
		}
		if run == nil {
			sleep(ctx, 2*time.Second)
			continue
		}

		slog.Info("processing run", "worker", id, "run", run.ID)
		p.Process(ctx, run)
	}
}

// Process drives one run through Submit, Poll-until-done, Fetch, Render,
// Present. Every exit path ends with the run in a terminal state and a
// terminal SSE event published, so the page can re-enable its controls
// unconditionally.
func (p *Pool) Process(ctx context.Context, run *model.Run) {
	err := p.process(ctx, run)
	if err == nil {
		slog.Info("run completed", "run", run.ID)
		return
	}

	kind, message := classify(err)
	slog.Error("run failed", "run", run.ID, "kind", kind, "error", err)
	if dbErr := db.FailRun(p.database, run.ID, kind, message); dbErr != nil {
		slog.Error("record run failure", "run", run.ID, "error", dbErr)
	}
	p.publish(run.ID, "failed", map[string]any{"error_kind": kind, "error_message": message})
}

func (p *Pool) process(ctx context.Context, run *model.Run) error {
	runDir := filepath.Join(p.cfg.DataDir, "runs", run.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	req := veo.GenerationRequest{
		Prompt:          run.Prompt,
		DurationSeconds: run.DurationSeconds,
		AspectRatio:     run.AspectRatio,
	}
	if run.HasImage {
		data, err := os.ReadFile(filepath.Join(runDir, "reference.bin"))
		if err != nil {
			return fmt.Errorf("read reference image: %w", err)
		}
		req.Image = &veo.ReferenceImage{Data: data, MIMEType: run.ImageMime}
	}

	// Run rows are claimed directly into SUBMITTING.
	p.publishState(run.ID, model.StateSubmitting)

	op, err := p.gen.Start(ctx, req)
	if err != nil {
		return err
	}
	if dbErr := db.SetRunOperation(p.database, run.ID, op.Name); dbErr != nil {
		slog.Warn("record operation name", "run", run.ID, "error", dbErr)
	}

	p.setState(run.ID, model.StatePolling)

	op, err = p.gen.Wait(ctx, op, func(attempt int) {
		p.publish(run.ID, "state", map[string]any{"state": model.StatePolling, "attempt": attempt})
	})
	if err != nil {
		return err
	}
	if len(op.VideoURIs) == 0 {
		return veo.ErrNoVideos
	}

	data, err := p.gen.Download(ctx, op.VideoURIs[0])
	if err != nil {
		return err
	}

	originalPath := filepath.Join(runDir, "original.mp4")
	if err := os.WriteFile(originalPath, data, 0644); err != nil {
		return fmt.Errorf("write original: %w", err)
	}

	if probe, probeErr := p.probe(ctx, originalPath); probeErr != nil {
		slog.Warn("probe original", "run", run.ID, "error", probeErr)
	} else if dbErr := db.SetRunProbe(p.database, run.ID, probe.Width, probe.Height, probe.DurationSecs); dbErr != nil {
		slog.Warn("record probe", "run", run.ID, "error", dbErr)
	}

	p.setState(run.ID, model.StateRendering)

	// A render failure never fails the run: the unmodified original is
	// presented instead, with a warning.
	presented := filepath.Join(runDir, "watermarked.mp4")
	watermarked := true
	if renderErr := p.renderer.Render(ctx, originalPath, presented); renderErr != nil {
		slog.Warn("watermark render failed, presenting original", "run", run.ID, "error", renderErr)
		os.Remove(presented)
		presented = originalPath
		watermarked = false
	}

	sha, err := watermark.SHA256File(presented)
	if err != nil {
		return fmt.Errorf("sha256: %w", err)
	}
	size, err := watermark.FileSize(presented)
	if err != nil {
		return fmt.Errorf("filesize: %w", err)
	}

	relPath, err := filepath.Rel(p.cfg.DataDir, presented)
	if err != nil {
		return fmt.Errorf("artifact path: %w", err)
	}
	if err := db.CompleteRun(p.database, run.ID, relPath, sha, size, watermarked); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}

	p.publish(run.ID, "ready", map[string]any{"watermarked": watermarked})
	return nil
}

// classify maps a pipeline error to the persisted error kind and the
// user-visible message.
func classify(err error) (kind, message string) {
	var pe *veo.ProviderError
	switch {
	case errors.As(err, &pe):
		if pe.QuotaExceeded() {
			return model.ErrKindQuota, pe.Message
		}
		return model.ErrKindProvider, pe.Message
	case errors.Is(err, veo.ErrNoVideos):
		return model.ErrKindNoOutput, "generation finished but returned no videos"
	case errors.Is(err, veo.ErrPollTimeout):
		return model.ErrKindTimeout, "timed out waiting for the video to generate"
	default:
		return model.ErrKindTransport, err.Error()
	}
}

func (p *Pool) setState(runID, state string) {
	if err := db.SetRunState(p.database, runID, state); err != nil {
		slog.Warn("set run state", "run", runID, "state", state, "error", err)
	}
	p.publishState(runID, state)
}

func (p *Pool) publishState(runID, state string) {
	p.publish(runID, "state", map[string]any{"state": state})
}

func (p *Pool) publish(runID, eventType string, payload map[string]any) {
	if p.sseHub == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	p.sseHub.Publish("run:"+runID, sse.Event{Type: eventType, Data: string(data)})
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
