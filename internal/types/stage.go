// SPDX-License-Identifier: MIT

package types

// Stage identifies a phase of work reported in progress events.
type Stage string

const (
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageDubbing     Stage = "dubbing"
	StageMixing      Stage = "mixing"
	StageMuxing      Stage = "muxing"
)

// IsValid reports whether the stage is one of the defined constants.
func (s Stage) IsValid() bool {
	switch s {
	case StageDownloading, StageExtracting, StageDubbing, StageMixing, StageMuxing:
		return true
	default:
		return false
	}
}

// EventKind identifies the type of a persisted job event row.
type EventKind string

const (
	EventProgress    EventKind = "progress"
	EventStateChange EventKind = "state_change"
	EventLog         EventKind = "log"
	EventError       EventKind = "error"
	EventStarted     EventKind = "started"
	EventFinished    EventKind = "finished"
	EventRetry       EventKind = "retry"

	// EventMetadata travels on the bus but is never persisted as an
	// event row; the aggregator folds it into the media row instead.
	EventMetadata EventKind = "metadata"
)
