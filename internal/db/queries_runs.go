package db

import (
	"database/sql"

	"github.com/reelforge/reelforge/internal/model"
)

func InsertRun(database *sql.DB, r *model.Run) error {
	hasImage := 0
	if r.HasImage {
		hasImage = 1
	}
	_, err := database.Exec(
		`INSERT INTO runs (id, state, prompt, duration_seconds, aspect_ratio, has_image, image_mime)
		 VALUES (?, 'PENDING', ?, ?, ?, ?, ?)`,
		r.ID, r.Prompt, r.DurationSeconds, r.AspectRatio, hasImage, r.ImageMime,
	)
	return err
}

// InsertRunIfIdle inserts the run only when no run is currently in a
// non-terminal state. Check and insert happen in one statement, so two
// concurrent submissions cannot both pass. Reports whether the row was
// inserted.
func InsertRunIfIdle(database *sql.DB, r *model.Run) (bool, error) {
	hasImage := 0
	if r.HasImage {
		hasImage = 1
	}
	res, err := database.Exec(
		`INSERT INTO runs (id, state, prompt, duration_seconds, aspect_ratio, has_image, image_mime)
		 SELECT ?, 'PENDING', ?, ?, ?, ?, ?
		 WHERE NOT EXISTS (
		   SELECT 1 FROM runs WHERE state NOT IN ('READY', 'FAILED')
		 )`,
		r.ID, r.Prompt, r.DurationSeconds, r.AspectRatio, hasImage, r.ImageMime,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimNextRun atomically moves the oldest PENDING run to SUBMITTING and
// returns it, or nil when the queue is empty.
func ClaimNextRun(database *sql.DB) (*model.Run, error) {
	row := database.QueryRow(`
		UPDATE runs
		SET state = 'SUBMITTING', started_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = (
			SELECT id FROM runs WHERE state = 'PENDING' ORDER BY created_at ASC LIMIT 1
		)
		RETURNING id, state, prompt, duration_seconds, aspect_ratio, has_image,
		          COALESCE(image_mime, ''), COALESCE(operation_name, ''), created_at`)

	r := &model.Run{}
	var hasImage int
	var createdAt SQLiteTime
	err := row.Scan(
		&r.ID, &r.State, &r.Prompt, &r.DurationSeconds, &r.AspectRatio,
		&hasImage, &r.ImageMime, &r.OperationName, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.HasImage = hasImage != 0
	r.CreatedAt = createdAt.Time
	return r, nil
}

func SetRunState(database *sql.DB, id, state string) error {
	_, err := database.Exec(`UPDATE runs SET state = ? WHERE id = ?`, state, id)
	return err
}

func SetRunOperation(database *sql.DB, id, operationName string) error {
	_, err := database.Exec(`UPDATE runs SET operation_name = ? WHERE id = ?`, operationName, id)
	return err
}

func SetRunProbe(database *sql.DB, id string, width, height int64, durationSecs float64) error {
	_, err := database.Exec(
		`UPDATE runs SET width = ?, height = ?, video_duration = ? WHERE id = ?`,
		width, height, durationSecs, id,
	)
	return err
}

// CompleteRun marks the run READY and records the presented artifact.
// watermarked=false records the degraded path where the unmodified original
// is presented.
func CompleteRun(database *sql.DB, id, videoPath, sha string, size int64, watermarked bool) error {
	wm := 0
	if watermarked {
		wm = 1
	}
	_, err := database.Exec(
		`UPDATE runs
		 SET state = 'READY', video_path = ?, sha256 = ?, size_bytes = ?, watermarked = ?,
		     completed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		videoPath, sha, size, wm, id,
	)
	return err
}

func FailRun(database *sql.DB, id, kind, message string) error {
	_, err := database.Exec(
		`UPDATE runs
		 SET state = 'FAILED', error_kind = ?, error_message = ?,
		     completed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`,
		kind, message, id,
	)
	return err
}

func GetRun(database *sql.DB, id string) (*model.Run, error) {
	r := &model.Run{}
	var hasImage, watermarked int
	var createdAt SQLiteTime
	var startedAt, completedAt sql.NullString
	var width, height sql.NullInt64
	var videoDuration sql.NullFloat64
	err := database.QueryRow(`
		SELECT id, state, prompt, duration_seconds, aspect_ratio, has_image,
		       COALESCE(image_mime, ''), COALESCE(operation_name, ''),
		       watermarked, COALESCE(video_path, ''), COALESCE(sha256, ''),
		       COALESCE(size_bytes, 0), width, height, video_duration,
		       COALESCE(error_kind, ''), COALESCE(error_message, ''),
		       created_at, started_at, completed_at
		FROM runs WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.State, &r.Prompt, &r.DurationSeconds, &r.AspectRatio, &hasImage,
		&r.ImageMime, &r.OperationName,
		&watermarked, &r.VideoPath, &r.SHA256,
		&r.SizeBytes, &width, &height, &videoDuration,
		&r.ErrorKind, &r.ErrorMessage,
		&createdAt, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.HasImage = hasImage != 0
	r.Watermarked = watermarked != 0
	r.CreatedAt = createdAt.Time
	if width.Valid {
		r.Width = &width.Int64
	}
	if height.Valid {
		r.Height = &height.Int64
	}
	if videoDuration.Valid {
		r.VideoDuration = &videoDuration.Float64
	}
	if startedAt.Valid {
		var st SQLiteTime
		if st.Scan(startedAt.String) == nil {
			r.StartedAt = &st.Time
		}
	}
	if completedAt.Valid {
		var ct SQLiteTime
		if ct.Scan(completedAt.String) == nil {
			r.CompletedAt = &ct.Time
		}
	}
	return r, nil
}

// ActiveRunExists reports whether any run is in a non-terminal state. The
// studio allows at most one in-flight run.
func ActiveRunExists(database *sql.DB) (bool, error) {
	var count int
	err := database.QueryRow(
		`SELECT COUNT(*) FROM runs WHERE state NOT IN ('READY', 'FAILED')`,
	).Scan(&count)
	return count > 0, err
}

// FailInterruptedRuns marks runs stranded mid-flight by a previous process
// (crash, kill) as failed, so a new run can be submitted after a restart.
// PENDING runs are untouched; workers will claim them normally. Returns the
// number of runs failed.
func FailInterruptedRuns(database *sql.DB) (int64, error) {
	res, err := database.Exec(
		`UPDATE runs
		 SET state = 'FAILED', error_kind = 'transport',
		     error_message = 'interrupted by server restart',
		     completed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE state IN ('SUBMITTING', 'POLLING', 'RENDERING')`,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListExpiredRunIDs returns terminal runs completed before the cutoff,
// eligible for artifact cleanup.
func ListExpiredRunIDs(database *sql.DB, cutoff string) ([]string, error) {
	rows, err := database.Query(
		`SELECT id FROM runs
		 WHERE state IN ('READY', 'FAILED') AND completed_at IS NOT NULL AND completed_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func DeleteRun(database *sql.DB, id string) error {
	_, err := database.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}
