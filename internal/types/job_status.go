// SPDX-License-Identifier: MIT

// Package types provides type-safe enumerations shared across vodub.
//
// This package centralizes typed constants and state types to prevent
// string-based bugs and enable exhaustive switch statements.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JobStatus represents the current state of a pipeline job.
type JobStatus string

// Job status constants define all possible states of a pipeline job.
const (
	// StatusQueued indicates the job is enqueued but no worker has picked it up.
	StatusQueued JobStatus = "queued"

	// StatusDownloading indicates the download worker is fetching the video.
	StatusDownloading JobStatus = "downloading"

	// StatusDownloaded indicates the video is on disk and the next stage is pending.
	StatusDownloaded JobStatus = "downloaded"

	// StatusDubbing indicates the voice-over translation is in progress.
	StatusDubbing JobStatus = "dubbing"

	// StatusDubbed indicates the dubbed audio track is ready.
	StatusDubbed JobStatus = "dubbed"

	// StatusMuxing indicates the final multi-track mux is in progress.
	StatusMuxing JobStatus = "muxing"

	// StatusComplete indicates the job finished successfully.
	StatusComplete JobStatus = "complete"

	// StatusFailed indicates the job terminated with an error.
	StatusFailed JobStatus = "failed"

	// StatusCanceled indicates the job was canceled by the user.
	StatusCanceled JobStatus = "canceled"
)

// transitions is the legal transition table. Terminal states have no
// outgoing edges; only retry/resume may exit them, and those reset the
// status directly rather than transitioning.
var transitions = map[JobStatus][]JobStatus{
	StatusQueued:      {StatusDownloading, StatusCanceled, StatusFailed},
	StatusDownloading: {StatusDownloaded, StatusFailed, StatusCanceled},
	StatusDownloaded:  {StatusDubbing, StatusMuxing, StatusFailed, StatusCanceled},
	StatusDubbing:     {StatusDubbed, StatusFailed, StatusCanceled},
	StatusDubbed:      {StatusMuxing, StatusFailed, StatusCanceled},
	StatusMuxing:      {StatusComplete, StatusFailed, StatusCanceled},
}

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid checks whether the job status is one of the defined constants.
func (s JobStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusDownloading, StatusDownloaded, StatusDubbing,
		StatusDubbed, StatusMuxing, StatusComplete, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal checks whether the job status represents a final state.
// A job in a terminal state will not transition to another state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks whether this status may transition to target.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// MarshalJSON implements json.Marshaler for JobStatus.
func (s JobStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements json.Unmarshaler for JobStatus.
func (s *JobStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status, err := ParseJobStatus(str)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ParseJobStatus parses a string into a JobStatus, returning an error if
// invalid. Input is case-insensitive; the worker fleet historically
// published uppercase status names.
func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid job status: %q", s)
	}
	return status, nil
}

// AllJobStatuses returns all defined job statuses.
func AllJobStatuses() []JobStatus {
	return []JobStatus{
		StatusQueued,
		StatusDownloading,
		StatusDownloaded,
		StatusDubbing,
		StatusDubbed,
		StatusMuxing,
		StatusComplete,
		StatusFailed,
		StatusCanceled,
	}
}
