// SPDX-License-Identifier: MIT

package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vodub/vodub/internal/types"
)

// DownloadParams is the payload dispatched on the download queue.
// Field names are the wire contract shared with the worker fleet.
type DownloadParams struct {
	JobID             string `json:"jobId"`
	URL               string `json:"url"`
	FormatPreset      string `json:"formatPreset"`
	OutputContainer   string `json:"outputContainer"`
	RequestedDubbing  bool   `json:"requestedDubbing"`
	TargetLang        string `json:"targetLang"`
	UseLivelyVoice    bool   `json:"useLivelyVoice"`
	DownloadSubtitles bool   `json:"downloadSubtitles"`
	TempDir           string `json:"tempDir"`
	FinalPath         string `json:"finalPath"`
	Proxy             string `json:"proxy,omitempty"`
	CookiesFile       string `json:"cookiesFile,omitempty"`
	RateLimit         string `json:"rateLimit,omitempty"`
}

// DubParams is the payload dispatched on the dub queue.
type DubParams struct {
	JobID           string `json:"jobId"`
	URL             string `json:"url"`
	VideoPath       string `json:"videoPath"`
	TargetLang      string `json:"targetLang"`
	UseLivelyVoice  bool   `json:"useLivelyVoice"`
	TempDir         string `json:"tempDir"`
	OutputPath      string `json:"outputPath"`
	FinalPath       string `json:"finalPath"`
	OutputContainer string `json:"outputContainer"`
}

// MuxParams is the payload dispatched on the mux queue. An empty
// AudioDubbedPath means the mux stage only remuxes and moves the video.
type MuxParams struct {
	JobID             string  `json:"jobId"`
	VideoPath         string  `json:"videoPath"`
	AudioDubbedPath   string  `json:"audioDubbedPath,omitempty"`
	TargetLang        string  `json:"targetLang"`
	OutputContainer   string  `json:"outputContainer"`
	DuckingLevel      float64 `json:"duckingLevel"`
	NormalizationLufs float64 `json:"normalizationLufs"`
	TempDir           string  `json:"tempDir"`
	FinalPath         string  `json:"finalPath"`
}

// Event is the envelope carried on every bus channel.
type Event struct {
	JobID     string          `json:"jobId"`
	Type      types.EventKind `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent builds an envelope with the payload marshalled in place.
func NewEvent(jobID string, kind types.EventKind, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{
		JobID:     jobID,
		Type:      kind,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// ProgressPayload reports stage progress. Optional fields are omitted
// when the worker did not learn them.
type ProgressPayload struct {
	Stage           types.Stage `json:"stage"`
	Percent         float64     `json:"percent"`
	DownloadedBytes *int64      `json:"downloadedBytes,omitempty"`
	TotalBytes      *int64      `json:"totalBytes,omitempty"`
	Speed           *float64    `json:"speed,omitempty"`
	ETA             *int        `json:"eta,omitempty"`
}

// StateChangePayload records one state machine transition.
type StateChangePayload struct {
	From types.JobStatus `json:"from"`
	To   types.JobStatus `json:"to"`
}

// LogPayload carries a worker log line.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ErrorPayload carries a worker error. Retryable decides whether the
// queue layer re-attempts or the job transitions to failed.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Stack     string `json:"stack,omitempty"`
}

// RetryPayload records a user-initiated retry or resume.
type RetryPayload struct {
	PreviousStatus types.JobStatus `json:"previousStatus"`
	ResumeFrom     string          `json:"resumeFrom,omitempty"`
}

// DecodePayload dispatches a raw event payload to its typed form based
// on the event kind. Metadata payloads decode to *MediaPatch.
func DecodePayload(kind types.EventKind, raw json.RawMessage) (any, error) {
	var dst any
	switch kind {
	case types.EventProgress:
		dst = &ProgressPayload{}
	case types.EventStateChange:
		dst = &StateChangePayload{}
	case types.EventLog:
		dst = &LogPayload{}
	case types.EventError:
		dst = &ErrorPayload{}
	case types.EventRetry:
		dst = &RetryPayload{}
	default:
		return nil, fmt.Errorf("no typed payload for event kind %q", kind)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return dst, nil
}
