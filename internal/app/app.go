package app

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	reelforge "github.com/reelforge/reelforge"
	"github.com/reelforge/reelforge/internal/cleanup"
	"github.com/reelforge/reelforge/internal/config"
	"github.com/reelforge/reelforge/internal/db"
	"github.com/reelforge/reelforge/internal/handler"
	"github.com/reelforge/reelforge/internal/sse"
	"github.com/reelforge/reelforge/internal/veo"
	"github.com/reelforge/reelforge/internal/watermark"
	"github.com/reelforge/reelforge/internal/worker"
)

func Run(ctx context.Context, cfg *config.Config) error {
	// Ensure data directories exist
	for _, dir := range []string{cfg.DataDir, filepath.Join(cfg.DataDir, "runs")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	// Open database
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	// Run migrations
	if err := db.Migrate(database, reelforge.MigrationFS); err != nil {
		return err
	}
	slog.Info("database ready")

	// Runs stranded mid-flight by a previous process would otherwise block
	// new submissions forever.
	if n, err := db.FailInterruptedRuns(database); err != nil {
		return err
	} else if n > 0 {
		slog.Warn("failed runs interrupted by previous shutdown", "count", n)
	}

	if cfg.APIKey == "" {
		slog.Warn("GEMINI_API_KEY is not set, generation requests will fail")
	}

	// Generation client for the remote video model
	gen := veo.NewClient(veo.Options{
		BaseURL:         cfg.VeoBaseURL,
		APIKey:          cfg.APIKey,
		Model:           cfg.VeoModel,
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.MaxPollAttempts,
	})

	renderer := &watermark.Renderer{
		FontPath: cfg.FontPath,
		Text:     watermark.Text,
	}

	// Start cleanup scheduler
	cleaner := &cleanup.Cleaner{
		DB:        database,
		DataDir:   cfg.DataDir,
		Retention: time.Duration(cfg.RetentionHours) * time.Hour,
		Interval:  time.Duration(cfg.CleanupIntervalMins) * time.Minute,
	}
	cleaner.Start(ctx)
	defer cleaner.Stop()

	// Create SSE hub for real-time updates
	sseHub := sse.New()

	// Start worker pool
	pool := worker.NewPool(database, cfg, gen, renderer, sseHub)
	pool.Start(ctx)
	defer pool.Stop()

	// Get template FS (sub-directory)
	templateFS, err := fs.Sub(reelforge.TemplateFS, "templates")
	if err != nil {
		return err
	}

	// Get static FS (sub-directory)
	staticFS, err := fs.Sub(reelforge.StaticFS, "static")
	if err != nil {
		return err
	}

	// Rate limiter for run creation: 10 requests/minute, burst of 3
	runRL := handler.NewRateLimiter(10.0/60.0, 3)
	defer runRL.Stop()

	// Build handler and routes
	h := handler.New(database, cfg, templateFS, sseHub)
	router := h.Routes(staticFS, runRL)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		srv.Shutdown(context.Background())
	}()

	slog.Info("server starting", "addr", cfg.ListenAddr, "base_url", cfg.BaseURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
