package cleanup

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/reelforge/reelforge/internal/db"
)

// Cleaner reaps terminal runs past the retention window: row and artifact
// directory both go. This also covers runs abandoned mid-flight by a closed
// page, whose artifacts nobody will fetch.
type Cleaner struct {
	DB        *sql.DB
	DataDir   string
	Retention time.Duration
	Interval  time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

func (c *Cleaner) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	slog.Info("cleanup scheduler started", "interval", c.Interval, "retention", c.Retention)
}

func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	slog.Info("cleanup scheduler stopped")
}

func (c *Cleaner) loop(ctx context.Context) {
	defer close(c.done)

	c.runOnce()

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runOnce()
		}
	}
}

func (c *Cleaner) runOnce() {
	cutoff := time.Now().UTC().Add(-c.Retention).Format("2006-01-02T15:04:05.000Z")

	ids, err := db.ListExpiredRunIDs(c.DB, cutoff)
	if err != nil {
		slog.Error("cleanup: list expired runs", "error", err)
		return
	}

	for _, id := range ids {
		runDir := filepath.Join(c.DataDir, "runs", id)
		if err := os.RemoveAll(runDir); err != nil {
			slog.Warn("cleanup: remove run dir", "dir", runDir, "error", err)
			continue
		}
		if err := db.DeleteRun(c.DB, id); err != nil {
			slog.Error("cleanup: delete run", "id", id, "error", err)
			continue
		}
		slog.Info("cleanup: reaped run", "id", id)
	}
}
