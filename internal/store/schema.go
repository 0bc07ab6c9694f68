// SPDX-License-Identifier: MIT

package store

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	url                TEXT NOT NULL,
	status             TEXT NOT NULL,
	priority           INTEGER NOT NULL DEFAULT 0,
	retry_count        INTEGER NOT NULL DEFAULT 0,
	requested_dubbing  INTEGER NOT NULL DEFAULT 0,
	target_lang        TEXT NOT NULL DEFAULT '',
	use_lively_voice   INTEGER NOT NULL DEFAULT 0,
	format_preset      TEXT NOT NULL DEFAULT '',
	output_container   TEXT NOT NULL DEFAULT '',
	download_subtitles INTEGER NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	completed_at       TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_order ON jobs(priority DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS media (
	job_id               TEXT PRIMARY KEY REFERENCES jobs(id) ON DELETE CASCADE,
	video_path           TEXT,
	audio_original_path  TEXT,
	audio_dubbed_path    TEXT,
	audio_mixed_path     TEXT,
	temp_dir             TEXT,
	duration_sec         REAL,
	width                INTEGER,
	height               INTEGER,
	fps                  REAL,
	video_codec          TEXT,
	audio_codec          TEXT,
	file_size_bytes      INTEGER,
	source_id            TEXT,
	source_title         TEXT,
	source_uploader      TEXT,
	source_upload_date   TEXT,
	source_description   TEXT,
	source_thumbnail_url TEXT
);

CREATE TABLE IF NOT EXISTS job_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id DESC);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'user',
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at TEXT NOT NULL,
	revoked    INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
`
