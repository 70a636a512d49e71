package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	reelforge "github.com/reelforge/reelforge"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/db"
	"github.com/reelforge/reelforge/internal/model"
	"github.com/reelforge/reelforge/internal/sse"
	"github.com/reelforge/reelforge/internal/veo"
	"github.com/reelforge/reelforge/internal/watermark"
)

type stubGenerator struct {
	startErr  error
	waitErr   error
	videoURIs []string
	data      []byte
	started   []veo.GenerationRequest
}

func (s *stubGenerator) Start(ctx context.Context, req veo.GenerationRequest) (*veo.Operation, error) {
	s.started = append(s.started, req)
	if s.startErr != nil {
		return nil, s.startErr
	}
	return &veo.Operation{Name: "operations/test"}, nil
}

func (s *stubGenerator) Wait(ctx context.Context, op *veo.Operation, onPoll func(int)) (*veo.Operation, error) {
	if onPoll != nil {
		onPoll(1)
		onPoll(2)
	}
	if s.waitErr != nil {
		return nil, s.waitErr
	}
	return &veo.Operation{Name: op.Name, Done: true, VideoURIs: s.videoURIs}, nil
}

func (s *stubGenerator) Download(ctx context.Context, uri string) ([]byte, error) {
	return s.data, nil
}

type stubRenderer struct {
	err    error
	called bool
}

func (s *stubRenderer) Render(ctx context.Context, inputPath, outputPath string) error {
	s.called = true
	if s.err != nil {
		return s.err
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, append(data, []byte("+wm")...), 0644)
}

func testPool(t *testing.T, gen Generator, renderer Renderer) (*Pool, *config.Config, *sse.Hub) {
	t.Helper()
	cfg := &config.Config{DataDir: t.TempDir(), WorkerCount: 1}
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database, reelforge.MigrationFS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hub := sse.New()
	pool := NewPool(database, cfg, gen, renderer, hub)
	pool.probe = func(ctx context.Context, path string) (*watermark.ProbeResult, error) {
		return &watermark.ProbeResult{Width: 1280, Height: 720, DurationSecs: 5}, nil
	}
	return pool, cfg, hub
}

func claimRun(t *testing.T, pool *Pool, run *model.Run) *model.Run {
	t.Helper()
	if err := db.InsertRun(pool.database, run); err != nil {
		t.Fatal(err)
	}
	claimed, err := db.ClaimNextRun(pool.database)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %+v, %v", claimed, err)
	}
	return claimed
}

func TestProcessSuccess(t *testing.T) {
	gen := &stubGenerator{videoURIs: []string{"https://example.com/v.mp4"}, data: []byte("video-bytes")}
	renderer := &stubRenderer{}
	pool, _, hub := testPool(t, gen, renderer)

	events, unsub := hub.Subscribe("run:r1")
	defer unsub()

	run := claimRun(t, pool, &model.Run{ID: "r1", Prompt: "a cat", DurationSeconds: 5, AspectRatio: "16:9"})
	pool.Process(context.Background(), run)

	got, err := db.GetRun(pool.database, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.StateReady {
		t.Fatalf("state = %s, want READY", got.State)
	}
	if !got.Watermarked {
		t.Error("Watermarked = false")
	}
	if got.VideoPath != filepath.Join("runs", "r1", "watermarked.mp4") {
		t.Errorf("video path = %s", got.VideoPath)
	}
	if got.Width == nil || *got.Width != 1280 {
		t.Errorf("width = %v", got.Width)
	}

	if !renderer.called {
		t.Error("renderer not invoked")
	}

	// Request built from the run's fields, image omitted.
	if len(gen.started) != 1 {
		t.Fatalf("Start called %d times", len(gen.started))
	}
	req := gen.started[0]
	if req.Prompt != "a cat" || req.DurationSeconds != 5 || req.AspectRatio != "16:9" || req.Image != nil {
		t.Errorf("request = %+v", req)
	}

	// A terminal event reached the page.
	var sawReady bool
	for len(events) > 0 {
		if evt := <-events; evt.Type == "ready" {
			sawReady = true
		}
	}
	if !sawReady {
		t.Error("no ready event published")
	}
}

// A render failure must still reach READY, presenting bytes identical to
// the fetched original.
func TestProcessRenderFailureDegrades(t *testing.T) {
	original := []byte("original-video-bytes")
	gen := &stubGenerator{videoURIs: []string{"https://example.com/v.mp4"}, data: original}
	renderer := &stubRenderer{err: errors.New("ffmpeg exploded")}
	pool, cfg, hub := testPool(t, gen, renderer)

	events, unsub := hub.Subscribe("run:r2")
	defer unsub()

	run := claimRun(t, pool, &model.Run{ID: "r2", Prompt: "a dog", DurationSeconds: 5, AspectRatio: "16:9"})
	pool.Process(context.Background(), run)

	got, err := db.GetRun(pool.database, "r2")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.StateReady {
		t.Fatalf("state = %s, want READY (degraded), not Error", got.State)
	}
	if got.Watermarked {
		t.Error("Watermarked = true after render failure")
	}

	presented, err := os.ReadFile(filepath.Join(cfg.DataDir, got.VideoPath))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(presented, original) {
		t.Error("presented bytes differ from the fetched original")
	}

	var sawReady bool
	for len(events) > 0 {
		if evt := <-events; evt.Type == "ready" {
			sawReady = true
		}
	}
	if !sawReady {
		t.Error("no terminal event on the degraded path")
	}
}

func TestProcessQuotaError(t *testing.T) {
	gen := &stubGenerator{startErr: &veo.ProviderError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "Quota exceeded"}}
	pool, _, hub := testPool(t, gen, &stubRenderer{})

	events, unsub := hub.Subscribe("run:r3")
	defer unsub()

	run := claimRun(t, pool, &model.Run{ID: "r3", Prompt: "x", DurationSeconds: 5, AspectRatio: "16:9"})
	pool.Process(context.Background(), run)

	got, _ := db.GetRun(pool.database, "r3")
	if got.State != model.StateFailed {
		t.Fatalf("state = %s", got.State)
	}
	if got.ErrorKind != model.ErrKindQuota {
		t.Errorf("kind = %s, want quota", got.ErrorKind)
	}
	if got.ErrorMessage != "Quota exceeded" {
		t.Errorf("message = %s", got.ErrorMessage)
	}

	var sawFailed bool
	for len(events) > 0 {
		if evt := <-events; evt.Type == "failed" {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Error("no failed event published")
	}
}

func TestProcessNoVideos(t *testing.T) {
	gen := &stubGenerator{videoURIs: nil}
	pool, _, _ := testPool(t, gen, &stubRenderer{})

	run := claimRun(t, pool, &model.Run{ID: "r4", Prompt: "x", DurationSeconds: 5, AspectRatio: "16:9"})
	pool.Process(context.Background(), run)

	got, _ := db.GetRun(pool.database, "r4")
	if got.State != model.StateFailed {
		t.Fatalf("state = %s, want FAILED, never READY", got.State)
	}
	if got.ErrorKind != model.ErrKindNoOutput {
		t.Errorf("kind = %s, want no_output", got.ErrorKind)
	}
}

func TestProcessPollTimeout(t *testing.T) {
	gen := &stubGenerator{waitErr: veo.ErrPollTimeout}
	pool, _, _ := testPool(t, gen, &stubRenderer{})

	run := claimRun(t, pool, &model.Run{ID: "r5", Prompt: "x", DurationSeconds: 5, AspectRatio: "16:9"})
	pool.Process(context.Background(), run)

	got, _ := db.GetRun(pool.database, "r5")
	if got.ErrorKind != model.ErrKindTimeout {
		t.Errorf("kind = %s, want timeout", got.ErrorKind)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"quota", &veo.ProviderError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "q"}, model.ErrKindQuota},
		{"provider", &veo.ProviderError{Code: 400, Status: "INVALID_ARGUMENT", Message: "p"}, model.ErrKindProvider},
		{"no output", veo.ErrNoVideos, model.ErrKindNoOutput},
		{"timeout", veo.ErrPollTimeout, model.ErrKindTimeout},
		{"transport", errors.New("connection refused"), model.ErrKindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, _ := classify(tt.err)
			if kind != tt.kind {
				t.Errorf("classify(%v) = %s, want %s", tt.err, kind, tt.kind)
			}
		})
	}
}

// Each poll attempt is surfaced on the run's event stream.
func TestProcessPublishesPollProgress(t *testing.T) {
	gen := &stubGenerator{videoURIs: []string{"https://example.com/v.mp4"}, data: []byte("v")}
	pool, _, hub := testPool(t, gen, &stubRenderer{})

	events, unsub := hub.Subscribe("run:r6")
	defer unsub()

	run := claimRun(t, pool, &model.Run{ID: "r6", Prompt: "x", DurationSeconds: 5, AspectRatio: "16:9"})
	pool.Process(context.Background(), run)

	var polls int
	for len(events) > 0 {
		evt := <-events
		if evt.Type == "state" && strings.Contains(evt.Data, `"attempt"`) {
			polls++
		}
	}
	if polls != 2 {
		t.Errorf("poll progress events = %d, want 2", polls)
	}
}
