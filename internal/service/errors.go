// SPDX-License-Identifier: MIT

package service

import (
	"errors"
	"fmt"

	"github.com/vodub/vodub/internal/types"
)

var (
	// ErrInsufficientSpace rejects job creation under the free-space
	// threshold.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// ErrNotImplemented covers the reserved pause/resume control
	// actions.
	ErrNotImplemented = errors.New("not implemented")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports a control operation against a job whose
// current status does not permit it.
type InvalidStateError struct {
	Op     string
	Status types.JobStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s job in state %s", e.Op, e.Status)
}

// ResumeDiagnostic explains a resume rejection, field by field.
type ResumeDiagnostic struct {
	DownloadCompleted bool `json:"downloadCompleted"`
	DubbingCompleted  bool `json:"dubbingCompleted"`
	HasVideo          bool `json:"hasVideo"`
	HasDubbedAudio    bool `json:"hasDubbedAudio"`
	RequestedDubbing  bool `json:"requestedDubbing"`
}

// CannotResumeError reports that no completed stage is recoverable.
type CannotResumeError struct {
	Diagnostic ResumeDiagnostic
}

func (e *CannotResumeError) Error() string {
	return "no completed stage to resume from"
}
