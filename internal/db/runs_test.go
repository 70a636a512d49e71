package db

import (
	"database/sql"
	"testing"

	reelforge "github.com/reelforge/reelforge"
	"github.com/reelforge/reelforge/internal/model"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := Migrate(database, reelforge.MigrationFS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestRunLifecycle(t *testing.T) {
	database := testDB(t)

	run := &model.Run{
		ID:              "run-1",
		Prompt:          "a cat on a skateboard",
		DurationSeconds: 5,
		AspectRatio:     "16:9",
	}
	if err := InsertRun(database, run); err != nil {
		t.Fatalf("insert: %v", err)
	}

	active, err := ActiveRunExists(database)
	if err != nil || !active {
		t.Fatalf("ActiveRunExists = %v, %v; want true", active, err)
	}

	claimed, err := ClaimNextRun(database)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != "run-1" {
		t.Fatalf("claimed = %+v", claimed)
	}
	if claimed.State != model.StateSubmitting {
		t.Errorf("state = %s, want SUBMITTING", claimed.State)
	}
	if claimed.HasImage {
		t.Error("HasImage = true for run inserted without image")
	}

	// Queue is empty now.
	if again, err := ClaimNextRun(database); err != nil || again != nil {
		t.Fatalf("second claim = %+v, %v; want nil, nil", again, err)
	}

	if err := SetRunOperation(database, "run-1", "operations/abc"); err != nil {
		t.Fatal(err)
	}
	if err := SetRunState(database, "run-1", model.StatePolling); err != nil {
		t.Fatal(err)
	}
	if err := SetRunProbe(database, "run-1", 1280, 720, 5.04); err != nil {
		t.Fatal(err)
	}
	if err := CompleteRun(database, "run-1", "runs/run-1/watermarked.mp4", "abc123", 1024, true); err != nil {
		t.Fatal(err)
	}

	got, err := GetRun(database, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.StateReady {
		t.Errorf("state = %s", got.State)
	}
	if !got.Watermarked {
		t.Error("Watermarked = false")
	}
	if got.OperationName != "operations/abc" {
		t.Errorf("operation = %s", got.OperationName)
	}
	if got.Width == nil || *got.Width != 1280 {
		t.Errorf("width = %v", got.Width)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	active, err = ActiveRunExists(database)
	if err != nil || active {
		t.Fatalf("ActiveRunExists after completion = %v, %v; want false", active, err)
	}
}

func TestFailRunRecordsKind(t *testing.T) {
	database := testDB(t)

	if err := InsertRun(database, &model.Run{ID: "run-2", Prompt: "x", DurationSeconds: 5, AspectRatio: "16:9"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ClaimNextRun(database); err != nil {
		t.Fatal(err)
	}
	if err := FailRun(database, "run-2", model.ErrKindQuota, "Quota exceeded"); err != nil {
		t.Fatal(err)
	}

	got, err := GetRun(database, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.StateFailed {
		t.Errorf("state = %s", got.State)
	}
	if got.ErrorKind != model.ErrKindQuota {
		t.Errorf("kind = %s", got.ErrorKind)
	}
	if got.ErrorMessage != "Quota exceeded" {
		t.Errorf("message = %s", got.ErrorMessage)
	}
}

func TestClaimOrderIsFIFO(t *testing.T) {
	database := testDB(t)

	for _, id := range []string{"first", "second"} {
		if err := InsertRun(database, &model.Run{ID: id, Prompt: "p", DurationSeconds: 5, AspectRatio: "16:9"}); err != nil {
			t.Fatal(err)
		}
		// Distinct created_at values.
		if _, err := database.Exec(`UPDATE runs SET created_at = ? WHERE id = ?`,
			map[string]string{"first": "2026-01-01T00:00:00.000Z", "second": "2026-01-02T00:00:00.000Z"}[id], id); err != nil {
			t.Fatal(err)
		}
	}

	claimed, err := ClaimNextRun(database)
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ID != "first" {
		t.Errorf("claimed %s, want first", claimed.ID)
	}
}

func TestListExpiredRunIDs(t *testing.T) {
	database := testDB(t)

	if err := InsertRun(database, &model.Run{ID: "old", Prompt: "p", DurationSeconds: 5, AspectRatio: "16:9"}); err != nil {
		t.Fatal(err)
	}
	if _, err := database.Exec(
		`UPDATE runs SET state = 'READY', completed_at = '2026-01-01T00:00:00.000Z' WHERE id = 'old'`); err != nil {
		t.Fatal(err)
	}
	if err := InsertRun(database, &model.Run{ID: "fresh", Prompt: "p", DurationSeconds: 5, AspectRatio: "16:9"}); err != nil {
		t.Fatal(err)
	}

	ids, err := ListExpiredRunIDs(database, "2026-06-01T00:00:00.000Z")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Errorf("ids = %v, want [old]", ids)
	}

	if err := DeleteRun(database, "old"); err != nil {
		t.Fatal(err)
	}
	if got, _ := GetRun(database, "old"); got != nil {
		t.Error("run still present after delete")
	}
}

func TestInsertRunIfIdleIsSingleFlight(t *testing.T) {
	database := testDB(t)

	inserted, err := InsertRunIfIdle(database, &model.Run{ID: "a", Prompt: "p", DurationSeconds: 5, AspectRatio: "16:9"})
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first insert rejected on an empty table")
	}

	// A non-terminal run blocks further inserts.
	inserted, err = InsertRunIfIdle(database, &model.Run{ID: "b", Prompt: "p", DurationSeconds: 5, AspectRatio: "16:9"})
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Fatal("second insert accepted while a run is active")
	}

	if _, err := ClaimNextRun(database); err != nil {
		t.Fatal(err)
	}
	if err := FailRun(database, "a", model.ErrKindTransport, "boom"); err != nil {
		t.Fatal(err)
	}

	// Terminal runs do not block.
	inserted, err = InsertRunIfIdle(database, &model.Run{ID: "c", Prompt: "p", DurationSeconds: 5, AspectRatio: "16:9"})
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("insert rejected after the previous run went terminal")
	}
}

// A run stranded mid-flight by a dead process must not block submissions
// forever.
func TestFailInterruptedRuns(t *testing.T) {
	database := testDB(t)

	if err := InsertRun(database, &model.Run{ID: "stranded", Prompt: "p", DurationSeconds: 5, AspectRatio: "16:9"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ClaimNextRun(database); err != nil {
		t.Fatal(err)
	}
	if err := InsertRun(database, &model.Run{ID: "queued", Prompt: "p", DurationSeconds: 5, AspectRatio: "16:9"}); err != nil {
		t.Fatal(err)
	}

	n, err := FailInterruptedRuns(database)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("failed %d runs, want 1", n)
	}

	got, err := GetRun(database, "stranded")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != model.StateFailed {
		t.Errorf("state = %s, want FAILED", got.State)
	}
	if got.ErrorKind != model.ErrKindTransport {
		t.Errorf("kind = %s, want transport", got.ErrorKind)
	}

	// PENDING survives recovery and is claimable.
	queued, err := GetRun(database, "queued")
	if err != nil {
		t.Fatal(err)
	}
	if queued.State != model.StatePending {
		t.Errorf("queued state = %s, want PENDING", queued.State)
	}

	active, err := ActiveRunExists(database)
	if err != nil {
		t.Fatal(err)
	}
	if !active {
		t.Error("ActiveRunExists = false with a PENDING run queued")
	}

	if err := FailRun(database, "queued", model.ErrKindTransport, "x"); err != nil {
		t.Fatal(err)
	}
	active, err = ActiveRunExists(database)
	if err != nil {
		t.Fatal(err)
	}
	if active {
		t.Error("ActiveRunExists = true after every run went terminal")
	}
}
