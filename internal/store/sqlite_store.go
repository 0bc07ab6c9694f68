// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/persistence/sqlite"
	"github.com/vodub/vodub/internal/types"
)

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
	// wmu serializes writers; readers go straight to the pool and are
	// served from the WAL snapshot.
	wmu sync.Mutex
}

var _ Store = (*SQLiteStore)(nil)

// Open initializes the store at dbPath and applies the schema.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// CreateJobAtomic inserts job + empty media row + started event in one
// transaction.
func (s *SQLiteStore) CreateJobAtomic(ctx context.Context, job *model.Job) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, url, status, priority, retry_count,
			requested_dubbing, target_lang, use_lively_voice, format_preset,
			output_container, download_subtitles, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		job.ID, job.URL, string(job.Status), job.Priority, job.RetryCount,
		job.Options.RequestedDubbing, job.Options.TargetLang, job.Options.UseLivelyVoice,
		job.Options.FormatPreset, job.Options.OutputContainer, job.Options.DownloadSubtitles,
		fmtTime(job.CreatedAt), fmtTime(job.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO media (job_id) VALUES (?)`, job.ID); err != nil {
		return fmt.Errorf("insert media: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{"url": job.URL})
	if err := appendEventTx(ctx, tx, job.ID, types.EventStarted, payload); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, status, priority, retry_count, requested_dubbing,
			target_lang, use_lively_voice, format_preset, output_container,
			download_subtitles, error, created_at, updated_at, completed_at
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var status, createdAt, updatedAt string
	var completedAt sql.NullString
	err := row.Scan(&j.ID, &j.URL, &status, &j.Priority, &j.RetryCount,
		&j.Options.RequestedDubbing, &j.Options.TargetLang, &j.Options.UseLivelyVoice,
		&j.Options.FormatPreset, &j.Options.OutputContainer, &j.Options.DownloadSubtitles,
		&j.Error, &createdAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		j.CompletedAt = &t
	}
	return &j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, f ListJobsFilter) ([]*model.Job, int, error) {
	where := "1=1"
	args := []any{}
	if f.Status != nil {
		where += " AND status = ?"
		args = append(args, string(*f.Status))
	}
	if f.Search != "" {
		where += " AND (url LIKE ? OR id LIKE ?)"
		pat := "%" + f.Search + "%"
		args = append(args, pat, pat)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, url, status, priority, retry_count, requested_dubbing,
			target_lang, use_lively_voice, format_preset, output_container,
			download_subtitles, error, created_at, updated_at, completed_at
		FROM jobs WHERE ` + where + `
		ORDER BY priority DESC, created_at ASC
		LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

// updateStatusTx applies the status write rules inside tx. Returns
// false without writing when the job is already terminal.
func updateStatusTx(ctx context.Context, tx *sql.Tx, id string, status types.JobStatus, errMsg string) (bool, error) {
	var current string
	err := tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	if types.JobStatus(current).IsTerminal() {
		return false, nil
	}

	now := fmtTime(time.Now())
	newErr := ""
	if status == types.StatusFailed {
		newErr = errMsg
	}
	if status.IsTerminal() {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error = ?, updated_at = ?,
				completed_at = COALESCE(completed_at, ?)
			WHERE id = ?`,
			string(status), newErr, now, now, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
			string(status), newErr, now, id)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := updateStatusTx(ctx, tx, id, status, errMsg); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) TransitionJob(ctx context.Context, id string, from, to types.JobStatus, errMsg string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := updateStatusTx(ctx, tx, id, to, errMsg)
	if err != nil {
		return err
	}
	if applied {
		payload, _ := json.Marshal(model.StateChangePayload{From: from, To: to})
		if err := appendEventTx(ctx, tx, id, types.EventStateChange, payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ResetJobForRetry(ctx context.Context, id string, to types.JobStatus, payload model.RetryPayload) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = '', completed_at = NULL,
			retry_count = retry_count + 1, updated_at = ?
		WHERE id = ?`,
		string(to), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	raw, _ := json.Marshal(payload)
	if err := appendEventTx(ctx, tx, id, types.EventRetry, raw); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) SetPriority(ctx context.Context, id string, priority int) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET priority = ?, updated_at = ? WHERE id = ?",
		priority, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetMedia(ctx context.Context, jobID string) (*model.Media, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, video_path, audio_original_path, audio_dubbed_path,
			audio_mixed_path, temp_dir, duration_sec, width, height, fps,
			video_codec, audio_codec, file_size_bytes, source_id, source_title,
			source_uploader, source_upload_date, source_description,
			source_thumbnail_url
		FROM media WHERE job_id = ?`, jobID)

	var m model.Media
	var videoPath, audioOrig, audioDub, audioMix, tempDir sql.NullString
	var vcodec, acodec, srcID, srcTitle, srcUploader, srcDate, srcDesc, srcThumb sql.NullString
	var duration, fps sql.NullFloat64
	var width, height sql.NullInt64
	var fileSize sql.NullInt64

	err := row.Scan(&m.JobID, &videoPath, &audioOrig, &audioDub, &audioMix,
		&tempDir, &duration, &width, &height, &fps, &vcodec, &acodec,
		&fileSize, &srcID, &srcTitle, &srcUploader, &srcDate, &srcDesc, &srcThumb)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.VideoPath = videoPath.String
	m.AudioOriginalPath = audioOrig.String
	m.AudioDubbedPath = audioDub.String
	m.AudioMixedPath = audioMix.String
	m.TempDir = tempDir.String
	m.VideoCodec = vcodec.String
	m.AudioCodec = acodec.String
	m.SourceID = srcID.String
	m.SourceTitle = srcTitle.String
	m.SourceUploader = srcUploader.String
	m.SourceUploadDate = srcDate.String
	m.SourceDescription = srcDesc.String
	m.SourceThumbnailURL = srcThumb.String
	if duration.Valid {
		m.DurationSec = &duration.Float64
	}
	if fps.Valid {
		m.FPS = &fps.Float64
	}
	if width.Valid {
		w := int(width.Int64)
		m.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		m.Height = &h
	}
	if fileSize.Valid {
		m.FileSizeBytes = &fileSize.Int64
	}
	return &m, nil
}

func (s *SQLiteStore) UpdateMedia(ctx context.Context, jobID string, patch model.MediaPatch) error {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.VideoPath != nil {
		add("video_path", *patch.VideoPath)
	}
	if patch.AudioOriginalPath != nil {
		add("audio_original_path", *patch.AudioOriginalPath)
	}
	if patch.AudioDubbedPath != nil {
		add("audio_dubbed_path", *patch.AudioDubbedPath)
	}
	if patch.AudioMixedPath != nil {
		add("audio_mixed_path", *patch.AudioMixedPath)
	}
	if patch.TempDir != nil {
		add("temp_dir", *patch.TempDir)
	}
	if patch.DurationSec != nil {
		add("duration_sec", *patch.DurationSec)
	}
	if patch.Width != nil {
		add("width", *patch.Width)
	}
	if patch.Height != nil {
		add("height", *patch.Height)
	}
	if patch.FPS != nil {
		add("fps", *patch.FPS)
	}
	if patch.VideoCodec != nil {
		add("video_codec", *patch.VideoCodec)
	}
	if patch.AudioCodec != nil {
		add("audio_codec", *patch.AudioCodec)
	}
	if patch.FileSizeBytes != nil {
		add("file_size_bytes", *patch.FileSizeBytes)
	}
	if patch.SourceID != nil {
		add("source_id", *patch.SourceID)
	}
	if patch.SourceTitle != nil {
		add("source_title", *patch.SourceTitle)
	}
	if patch.SourceUploader != nil {
		add("source_uploader", *patch.SourceUploader)
	}
	if patch.SourceUploadDate != nil {
		add("source_upload_date", *patch.SourceUploadDate)
	}
	if patch.SourceDescription != nil {
		add("source_description", *patch.SourceDescription)
	}
	if patch.SourceThumbnailURL != nil {
		add("source_thumbnail_url", *patch.SourceThumbnailURL)
	}

	if len(sets) == 0 {
		return nil
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	args = append(args, jobID)
	res, err := s.db.ExecContext(ctx,
		"UPDATE media SET "+strings.Join(sets, ", ")+" WHERE job_id = ?", args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func appendEventTx(ctx context.Context, tx *sql.Tx, jobID string, kind types.EventKind, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO job_events (job_id, kind, payload, created_at) VALUES (?, ?, ?, ?)",
		jobID, string(kind), string(payload), fmtTime(time.Now()))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, jobID string, kind types.EventKind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO job_events (job_id, kind, payload, created_at) VALUES (?, ?, ?, ?)",
		jobID, string(kind), string(raw), fmtTime(time.Now()))
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, jobID string, limit, offset int) ([]model.JobEvent, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM job_events WHERE job_id = ?", jobID).Scan(&total); err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, kind, payload, created_at FROM job_events
		WHERE job_id = ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		jobID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var events []model.JobEvent
	for rows.Next() {
		var e model.JobEvent
		var kind, payload, createdAt string
		if err := rows.Scan(&e.ID, &e.JobID, &kind, &payload, &createdAt); err != nil {
			return nil, 0, err
		}
		e.Kind = types.EventKind(kind)
		e.Payload = []byte(payload)
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Username, u.PasswordHash, u.Role, fmtTime(u.CreatedAt))
	return err
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = ?",
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, expires_at, revoked, created_at) VALUES (?, ?, ?, ?, ?)",
		sess.ID, sess.UserID, fmtTime(sess.ExpiresAt), sess.Revoked, fmtTime(sess.CreatedAt))
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	var expiresAt, createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, expires_at, revoked, created_at FROM sessions WHERE id = ?",
		id).Scan(&sess.ID, &sess.UserID, &expiresAt, &sess.Revoked, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = parseTime(expiresAt)
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}

func (s *SQLiteStore) RevokeSession(ctx context.Context, id string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET revoked = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
