// SPDX-License-Identifier: MIT

package model

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodub/vodub/internal/types"
)

func TestNewJobIDSortable(t *testing.T) {
	ids := make([]string, 200)
	for i := range ids {
		ids[i] = NewJobID()
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, ids, "ids must be monotonic in creation order")

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		kind types.EventKind
		raw  string
		want any
	}{
		{
			kind: types.EventProgress,
			raw:  `{"stage":"downloading","percent":42.5,"downloadedBytes":1024}`,
			want: &ProgressPayload{Stage: types.StageDownloading, Percent: 42.5, DownloadedBytes: ptr(int64(1024))},
		},
		{
			kind: types.EventStateChange,
			raw:  `{"from":"queued","to":"downloading"}`,
			want: &StateChangePayload{From: types.StatusQueued, To: types.StatusDownloading},
		},
		{
			kind: types.EventLog,
			raw:  `{"level":"info","message":"hello"}`,
			want: &LogPayload{Level: "info", Message: "hello"},
		},
		{
			kind: types.EventError,
			raw:  `{"code":"NETWORK","message":"reset","retryable":true}`,
			want: &ErrorPayload{Code: "NETWORK", Message: "reset", Retryable: true},
		},
		{
			kind: types.EventRetry,
			raw:  `{"previousStatus":"failed","resumeFrom":"dubbing"}`,
			want: &RetryPayload{PreviousStatus: types.StatusFailed, ResumeFrom: "dubbing"},
		},
	}
	for _, tt := range tests {
		got, err := DecodePayload(tt.kind, json.RawMessage(tt.raw))
		require.NoError(t, err, "kind %s", tt.kind)
		assert.Equal(t, tt.want, got)
	}
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	_, err := DecodePayload(types.EventKind("bogus"), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("job-1", types.EventLog, LogPayload{Level: "warn", Message: "slow"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", evt.JobID)
	assert.Equal(t, types.EventLog, evt.Type)
	assert.False(t, evt.Timestamp.IsZero())

	var lp LogPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &lp))
	assert.Equal(t, "warn", lp.Level)
}

func TestJobEventPayloadServesInlineJSON(t *testing.T) {
	e := JobEvent{
		ID:      1,
		JobID:   "job-1",
		Kind:    types.EventStateChange,
		Payload: json.RawMessage(`{"from":"queued","to":"downloading"}`),
	}
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	// The audit payload must come back as the stored object, not base64.
	assert.Contains(t, string(raw), `"payload":{"from":"queued","to":"downloading"}`)
}

func ptr[T any](v T) *T { return &v }
