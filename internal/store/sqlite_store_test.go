// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vodub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestJob(id string) *model.Job {
	return &model.Job{
		ID:       id,
		URL:      "https://example.test/" + id,
		Status:   types.StatusQueued,
		Priority: 5,
		Options: model.JobOptions{
			RequestedDubbing: true,
			TargetLang:       "ru",
			FormatPreset:     "bestvideo+bestaudio",
			OutputContainer:  "mkv",
		},
	}
}

func TestCreateJobAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)
	assert.Equal(t, job.URL, got.URL)
	assert.Nil(t, got.CompletedAt)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	media, err := s.GetMedia(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, media.VideoPath)
	assert.Nil(t, media.DurationSec)

	events, total, err := s.ListEvents(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, types.EventStarted, events[0].Kind)
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateJobStatusRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))

	// Non-terminal transition: no completed_at, error cleared.
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, types.StatusDownloading, ""))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDownloading, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Empty(t, got.Error)

	// Failed sets error and completed_at.
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, types.StatusFailed, "network down"))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "network down", got.Error)
	require.NotNil(t, got.CompletedAt)

	// Terminal guard: late worker events do not resurrect the job.
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, types.StatusComplete, ""))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
}

func TestUpdateJobStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, types.StatusDubbing, ""))
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusDubbing, got.Status)
}

func TestTransitionJobAppendsEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))

	require.NoError(t, s.TransitionJob(ctx, job.ID, types.StatusQueued, types.StatusDownloading, ""))

	events, _, err := s.ListEvents(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, types.EventStateChange, events[0].Kind)

	var sc model.StateChangePayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &sc))
	assert.Equal(t, types.StatusQueued, sc.From)
	assert.Equal(t, types.StatusDownloading, sc.To)
}

func TestTransitionJobTerminalNoEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, types.StatusCanceled, ""))

	_, before, err := s.ListEvents(ctx, job.ID, 1, 0)
	require.NoError(t, err)

	// Worker finished after the cancel; its transition must be ignored.
	require.NoError(t, s.TransitionJob(ctx, job.ID, types.StatusMuxing, types.StatusComplete, ""))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCanceled, got.Status)

	_, after, err := s.ListEvents(ctx, job.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after, "ignored transition must not append an event")
}

func TestResetJobForRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, types.StatusFailed, "boom"))

	require.NoError(t, s.ResetJobForRetry(ctx, job.ID, types.StatusQueued,
		model.RetryPayload{PreviousStatus: types.StatusFailed}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, got.Status)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, 1, got.RetryCount)

	events, _, err := s.ListEvents(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, types.EventRetry, events[0].Kind)
}

func TestListJobsOrderAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	low := newTestJob(model.NewJobID())
	low.Priority = 1
	high := newTestJob(model.NewJobID())
	high.Priority = 9
	mid := newTestJob(model.NewJobID())
	mid.Priority = 5
	for _, j := range []*model.Job{low, high, mid} {
		require.NoError(t, s.CreateJobAtomic(ctx, j))
	}
	require.NoError(t, s.UpdateJobStatus(ctx, mid.ID, types.StatusDownloading, ""))

	jobs, total, err := s.ListJobs(ctx, ListJobsFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, jobs, 3)
	assert.Equal(t, high.ID, jobs[0].ID)
	assert.Equal(t, mid.ID, jobs[1].ID)
	assert.Equal(t, low.ID, jobs[2].ID)

	st := types.StatusDownloading
	jobs, total, err = s.ListJobs(ctx, ListJobsFilter{Status: &st, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, mid.ID, jobs[0].ID)

	jobs, total, err = s.ListJobs(ctx, ListJobsFilter{Search: high.ID[:8], Limit: 10})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 1)
	found := false
	for _, j := range jobs {
		if j.ID == high.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestUpdateMediaPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))

	video := "/media/incomplete/x/video.mkv"
	title := "Some Video"
	dur := 123.4
	require.NoError(t, s.UpdateMedia(ctx, job.ID, model.MediaPatch{
		VideoPath:   &video,
		SourceTitle: &title,
		DurationSec: &dur,
	}))

	dubbed := "/media/incomplete/x/dubbed.wav"
	require.NoError(t, s.UpdateMedia(ctx, job.ID, model.MediaPatch{AudioDubbedPath: &dubbed}))

	m, err := s.GetMedia(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, video, m.VideoPath)
	assert.Equal(t, title, m.SourceTitle)
	assert.Equal(t, dubbed, m.AudioDubbedPath)
	require.NotNil(t, m.DurationSec)
	assert.Equal(t, dur, *m.DurationSec)
	assert.Empty(t, m.AudioMixedPath, "untouched field must stay null")
}

func TestAppendAndListEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))

	require.NoError(t, s.AppendEvent(ctx, job.ID, types.EventLog,
		model.LogPayload{Level: "info", Message: "first"}))
	require.NoError(t, s.AppendEvent(ctx, job.ID, types.EventLog,
		model.LogPayload{Level: "info", Message: "second"}))

	events, total, err := s.ListEvents(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total) // started + two logs

	// Newest first: the inserted event is element 0.
	var lp model.LogPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &lp))
	assert.Equal(t, "second", lp.Message)
}

func TestDeleteJobCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := newTestJob(model.NewJobID())
	require.NoError(t, s.CreateJobAtomic(ctx, job))
	require.NoError(t, s.AppendEvent(ctx, job.ID, types.EventLog,
		model.LogPayload{Level: "info", Message: "x"}))

	require.NoError(t, s.DeleteJob(ctx, job.ID))

	_, err := s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMedia(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, total, err := s.ListEvents(ctx, job.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.ErrorIs(t, s.DeleteJob(ctx, job.ID), ErrNotFound)
}

func TestUsersAndSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &model.User{ID: "u1", Username: "admin", PasswordHash: "h", Role: "admin"}
	require.NoError(t, s.CreateUser(ctx, u))

	got, err := s.GetUserByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	_, err = s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	sess := &model.Session{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.CreateSession(ctx, sess))

	gotSess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, gotSess.Revoked)
	assert.False(t, gotSess.Expired(time.Now()))

	require.NoError(t, s.RevokeSession(ctx, "s1"))
	gotSess, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, gotSess.Revoked)
}
