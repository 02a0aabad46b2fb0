package catalog

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	CountJobsByStatus(ctx context.Context) (map[string]int, error)

	// ClaimJob moves a pending job to running. It reports false when the
	// job was no longer pending.
	ClaimJob(ctx context.Context, id string) (bool, error)
	UpdateJobStage(ctx context.Context, id, stage string, progress int) error
	CompleteJob(ctx context.Context, id string, res JobResult) error
	FinishJob(ctx context.Context, id, status, errorKind, errorMsg string) error
	// CancelPendingJob cancels a job only while it is still pending. It
	// reports false when the job was claimed or finished first.
	CancelPendingJob(ctx context.Context, id, reason string) (bool, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// JobResult is what a successful render records.
type JobResult struct {
	Voice     string
	RunID     string
	Workspace string
	FinalPath string
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, status, stage, progress, origin, text, image_path, gender, nationality, captions, voice,
	run_id, workspace, final_path, error_kind, error, created_at, updated_at, started_at, finished_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, stage, progress, origin, text, image_path, gender, nationality, captions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Status, j.Stage, j.Progress, j.Origin, j.Text, j.ImagePath,
		nullString(j.Gender), nullString(j.Nationality), nullString(j.Captions),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) ClaimJob(ctx context.Context, id string) (bool, error) {
	now := formatTime(time.Now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', started_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) UpdateJobStage(ctx context.Context, id, stage string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET stage = ?, progress = ?, updated_at = ? WHERE id = ?
	`, stage, progress, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) CompleteJob(ctx context.Context, id string, res JobResult) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', stage = 'done', progress = 100,
			voice = ?, run_id = ?, workspace = ?, final_path = ?,
			error_kind = NULL, error = NULL, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, nullString(res.Voice), nullString(res.RunID), nullString(res.Workspace), nullString(res.FinalPath), now, now, id)
	return err
}

func (r *SQLiteRepository) FinishJob(ctx context.Context, id, status, errorKind, errorMsg string) error {
	now := formatTime(time.Now())
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error_kind = ?, error = ?, updated_at = ?, finished_at = ? WHERE id = ?
	`, status, nullString(errorKind), nullString(errorMsg), now, now, id)
	return err
}

func (r *SQLiteRepository) CancelPendingJob(ctx context.Context, id, reason string) (bool, error) {
	now := formatTime(time.Now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', error = ?, updated_at = ?, finished_at = ?
		WHERE id = ? AND status = 'pending'
	`, reason, now, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var gender, nationality, captions, voice, runID, workspace, finalPath, errKind, errMsg sql.NullString
	var createdAt, updatedAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(&j.ID, &j.Status, &j.Stage, &j.Progress, &j.Origin, &j.Text, &j.ImagePath,
		&gender, &nationality, &captions, &voice, &runID, &workspace, &finalPath, &errKind, &errMsg,
		&createdAt, &updatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	j.Gender = gender.String
	j.Nationality = nationality.String
	j.Captions = captions.String
	j.Voice = voice.String
	j.RunID = runID.String
	j.Workspace = workspace.String
	j.FinalPath = finalPath.String
	j.ErrorKind = errKind.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	j.StartedAt = parseNullTime(startedAt)
	j.FinishedAt = parseNullTime(finishedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Timestamps are stored as RFC 3339 UTC with nanoseconds so that string
// order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	// rows written by SQLite's datetime('now')
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
