// SPDX-License-Identifier: MIT

// Package model holds the persistent records and wire payloads of the
// vodub pipeline: jobs, media, events, users, sessions and the typed
// queue payloads exchanged with the worker fleet.
package model

import (
	"encoding/json"
	"time"

	"github.com/vodub/vodub/internal/types"
)

// JobOptions is the option bundle attached to a job at creation time.
type JobOptions struct {
	RequestedDubbing  bool   `json:"requestedDubbing"`
	TargetLang        string `json:"targetLang"`
	UseLivelyVoice    bool   `json:"useLivelyVoice"`
	FormatPreset      string `json:"formatPreset"`
	OutputContainer   string `json:"outputContainer"`
	DownloadSubtitles bool   `json:"downloadSubtitles"`
}

// Job is the primary pipeline entity.
type Job struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Status      types.JobStatus `json:"status"`
	Priority    int             `json:"priority"`
	RetryCount  int             `json:"retryCount"`
	Options     JobOptions      `json:"options"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Media is the media row attached 1:0..1 to a job. All fields start
// null at job creation and are filled incrementally by metadata events.
type Media struct {
	JobID              string   `json:"jobId"`
	VideoPath          string   `json:"videoPath,omitempty"`
	AudioOriginalPath  string   `json:"audioOriginalPath,omitempty"`
	AudioDubbedPath    string   `json:"audioDubbedPath,omitempty"`
	AudioMixedPath     string   `json:"audioMixedPath,omitempty"`
	TempDir            string   `json:"tempDir,omitempty"`
	DurationSec        *float64 `json:"durationSec,omitempty"`
	Width              *int     `json:"width,omitempty"`
	Height             *int     `json:"height,omitempty"`
	FPS                *float64 `json:"fps,omitempty"`
	VideoCodec         string   `json:"videoCodec,omitempty"`
	AudioCodec         string   `json:"audioCodec,omitempty"`
	FileSizeBytes      *int64   `json:"fileSizeBytes,omitempty"`
	SourceID           string   `json:"sourceId,omitempty"`
	SourceTitle        string   `json:"sourceTitle,omitempty"`
	SourceUploader     string   `json:"sourceUploader,omitempty"`
	SourceUploadDate   string   `json:"sourceUploadDate,omitempty"`
	SourceDescription  string   `json:"sourceDescription,omitempty"`
	SourceThumbnailURL string   `json:"sourceThumbnailUrl,omitempty"`
}

// MediaPatch carries a partial media update. Nil fields are left
// untouched; the metadata channel only ever carries the fields the
// worker actually learned.
type MediaPatch struct {
	VideoPath          *string  `json:"filePath,omitempty"`
	AudioOriginalPath  *string  `json:"audioOriginalPath,omitempty"`
	AudioDubbedPath    *string  `json:"audioDubbedPath,omitempty"`
	AudioMixedPath     *string  `json:"audioMixedPath,omitempty"`
	TempDir            *string  `json:"tempDir,omitempty"`
	DurationSec        *float64 `json:"durationSec,omitempty"`
	Width              *int     `json:"width,omitempty"`
	Height             *int     `json:"height,omitempty"`
	FPS                *float64 `json:"fps,omitempty"`
	VideoCodec         *string  `json:"videoCodec,omitempty"`
	AudioCodec         *string  `json:"audioCodec,omitempty"`
	FileSizeBytes      *int64   `json:"fileSizeBytes,omitempty"`
	SourceID           *string  `json:"sourceId,omitempty"`
	SourceTitle        *string  `json:"sourceTitle,omitempty"`
	SourceUploader     *string  `json:"sourceUploader,omitempty"`
	SourceUploadDate   *string  `json:"sourceUploadDate,omitempty"`
	SourceDescription  *string  `json:"sourceDescription,omitempty"`
	SourceThumbnailURL *string  `json:"sourceThumbnailUrl,omitempty"`
}

// JobEvent is one row of the append-only audit log. Payload is
// RawMessage so the stored JSON is served inline, not base64-encoded.
type JobEvent struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"jobId"`
	Kind      types.EventKind `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"timestamp"`
}

// User is an account permitted to drive the control API.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is an authentication handle. The control API requires a
// valid, unexpired, unrevoked session for mutating calls.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"createdAt"`
}

// Expired reports whether the session has passed its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
