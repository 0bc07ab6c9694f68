// SPDX-License-Identifier: MIT

// Package store is the system-of-record for jobs, media, the append-only
// event log, users and sessions.
//
// Design intent:
//   - Writers serialize behind a single internal mutex; WAL mode keeps
//     readers unblocked during writes.
//   - Transactional operations commit wholly or not at all.
//   - The store never touches the filesystem; callers clean files before
//     deleting rows.
//   - I/O errors surface to callers unchanged; the store does not retry.
package store

import (
	"context"
	"errors"

	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/types"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// ListJobsFilter narrows and pages a job listing.
type ListJobsFilter struct {
	Status *types.JobStatus
	Search string // substring match on URL or id
	Limit  int
	Offset int
}

// Store is the persistence contract consumed by the job service, the
// event aggregator and the control API.
type Store interface {
	// CreateJobAtomic inserts the job row, an all-null media row and a
	// `started` event in one transaction. The job must arrive with
	// status queued.
	CreateJobAtomic(ctx context.Context, job *model.Job) error

	// GetJob returns ErrNotFound when the job does not exist.
	GetJob(ctx context.Context, id string) (*model.Job, error)

	// ListJobs orders by priority desc, created_at asc and reports the
	// unpaged total alongside the page.
	ListJobs(ctx context.Context, f ListJobsFilter) ([]*model.Job, int, error)

	// UpdateJobStatus writes the new status, refreshes updated_at, sets
	// completed_at on the first transition into a terminal state, and
	// sets the error column only when status is failed (clearing it
	// otherwise). Updates against a job already in a terminal state are
	// ignored; late worker events must not resurrect canceled jobs.
	UpdateJobStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) error

	// TransitionJob appends a state_change event and applies
	// UpdateJobStatus semantics in one transaction.
	TransitionJob(ctx context.Context, id string, from, to types.JobStatus, errMsg string) error

	// ResetJobForRetry exits a terminal state: status is forced to the
	// given value, error and completed_at are cleared, retry_count is
	// incremented and a retry event is appended, all in one transaction.
	ResetJobForRetry(ctx context.Context, id string, to types.JobStatus, payload model.RetryPayload) error

	SetPriority(ctx context.Context, id string, priority int) error

	GetMedia(ctx context.Context, jobID string) (*model.Media, error)
	// UpdateMedia applies only the non-nil fields of the patch.
	UpdateMedia(ctx context.Context, jobID string, patch model.MediaPatch) error

	// AppendEvent is append-only and safe under concurrent calls.
	AppendEvent(ctx context.Context, jobID string, kind types.EventKind, payload any) error
	// ListEvents returns events newest first plus the unpaged total.
	ListEvents(ctx context.Context, jobID string, limit, offset int) ([]model.JobEvent, int, error)

	// DeleteJob cascades to media rows and events.
	DeleteJob(ctx context.Context, id string) error

	CreateUser(ctx context.Context, u *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id string) (*model.Session, error)
	RevokeSession(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}
