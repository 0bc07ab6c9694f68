// SPDX-License-Identifier: MIT

package aggregator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodub/vodub/internal/bus"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/store"
	"github.com/vodub/vodub/internal/types"
)

type captureForwarder struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *captureForwarder) Forward(_ string, evt model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureForwarder) kinds() []types.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.EventKind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	bus     *bus.MemoryBus
	store   store.Store
	forward *captureForwarder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "vodub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{
		bus:     bus.NewMemoryBus(),
		store:   st,
		forward: &captureForwarder{},
	}
	t.Cleanup(func() { _ = f.bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	agg := New(f.bus, f.store, f.forward)
	require.NoError(t, agg.Start(ctx))
	return f
}

func (f *fixture) createJob(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateJobAtomic(context.Background(), &model.Job{
		ID:       id,
		URL:      "https://example.com/" + id,
		Status:   types.StatusQueued,
		Priority: 5,
		Options:  model.JobOptions{OutputContainer: "mp4"},
	}))
}

func (f *fixture) publish(t *testing.T, jobID string, kind types.EventKind, payload any) {
	t.Helper()
	evt, err := model.NewEvent(jobID, kind, payload)
	require.NoError(t, err)
	require.NoError(t, f.bus.Publish(context.Background(), bus.ChannelFor(kind), evt))
}

func TestStateChangePersistsStatusAndEvent(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "job-1")

	f.publish(t, "job-1", types.EventStateChange, model.StateChangePayload{
		From: types.StatusQueued,
		To:   types.StatusDownloading,
	})

	ctx := context.Background()
	require.Eventually(t, func() bool {
		job, err := f.store.GetJob(ctx, "job-1")
		return err == nil && job.Status == types.StatusDownloading
	}, 2*time.Second, 10*time.Millisecond)

	events, _, err := f.store.ListEvents(ctx, "job-1", 10, 0)
	require.NoError(t, err)
	// started (from create) plus the state change.
	require.Len(t, events, 2)
	assert.Equal(t, types.EventStateChange, events[0].Kind)

	require.Eventually(t, func() bool {
		return len(f.forward.kinds()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProgressForwardsWithoutPersisting(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "job-1")

	f.publish(t, "job-1", types.EventProgress, model.ProgressPayload{
		Stage:   types.StageDownloading,
		Percent: 50,
	})

	require.Eventually(t, func() bool {
		return len(f.forward.kinds()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, total, err := f.store.ListEvents(context.Background(), "job-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total) // only the started event
}

func TestNonRetryableErrorFailsJob(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "job-1")

	f.publish(t, "job-1", types.EventError, model.ErrorPayload{
		Code:      "worker_permanent",
		Message:   "unsupported url",
		Retryable: false,
	})

	ctx := context.Background()
	require.Eventually(t, func() bool {
		job, err := f.store.GetJob(ctx, "job-1")
		return err == nil && job.Status == types.StatusFailed && job.Error == "unsupported url"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryableErrorPersistsButDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "job-1")

	f.publish(t, "job-1", types.EventError, model.ErrorPayload{
		Code:      "worker_transient",
		Message:   "network reset",
		Retryable: true,
	})

	ctx := context.Background()
	require.Eventually(t, func() bool {
		_, total, err := f.store.ListEvents(ctx, "job-1", 10, 0)
		return err == nil && total == 2
	}, 2*time.Second, 10*time.Millisecond)

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, job.Status)
	assert.Empty(t, job.Error)
}

func TestMetadataFoldsIntoMediaRow(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "job-1")

	title := "Some Video"
	dur := 123.4
	f.publish(t, "job-1", types.EventMetadata, model.MediaPatch{
		SourceTitle: &title,
		DurationSec: &dur,
	})

	ctx := context.Background()
	require.Eventually(t, func() bool {
		media, err := f.store.GetMedia(ctx, "job-1")
		return err == nil && media.SourceTitle == "Some Video"
	}, 2*time.Second, 10*time.Millisecond)

	// Metadata produces no event row and no forward.
	_, total, err := f.store.ListEvents(ctx, "job-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Empty(t, f.forward.kinds())
}

func TestLateEventsAfterCancelAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.createJob(t, "job-1")

	ctx := context.Background()
	require.NoError(t, f.store.TransitionJob(ctx, "job-1", types.StatusQueued, types.StatusCanceled, ""))

	f.publish(t, "job-1", types.EventStateChange, model.StateChangePayload{
		From: types.StatusQueued,
		To:   types.StatusDownloading,
	})

	// Forwarding still happens; the status must not move.
	require.Eventually(t, func() bool {
		return len(f.forward.kinds()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	job, err := f.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCanceled, job.Status)
}

func TestEventsForUnknownJobsAreDropped(t *testing.T) {
	f := newFixture(t)

	f.publish(t, "ghost", types.EventLog, model.LogPayload{Level: "info", Message: "hi"})
	f.publish(t, "ghost", types.EventStateChange, model.StateChangePayload{
		From: types.StatusQueued, To: types.StatusDownloading,
	})

	// Give the loop a moment; nothing should blow up or persist.
	time.Sleep(100 * time.Millisecond)
	_, _, err := f.store.ListEvents(context.Background(), "ghost", 10, 0)
	require.NoError(t, err)
}
