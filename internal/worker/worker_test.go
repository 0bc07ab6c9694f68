// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{`a/b\c:d*e?f"g<h>i|j`, "a_b_c_d_e_f_g_h_i_j"},
		{"  .trimmed.  ", "trimmed"},
		{"tab\there", "tab_here"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeFilename(tc.in), "input %q", tc.in)
	}

	long := SanitizeFilename(string(make([]byte, 400)))
	assert.LessOrEqual(t, len(long), maxFilenameLen)
}

func TestFinalFileName(t *testing.T) {
	assert.Equal(t, "My Video [abc123].mp4",
		FinalFileName("My Video", "abc123", "mp4", "job-1"))
	assert.Equal(t, "My Video.mkv",
		FinalFileName("My Video", "", "mkv", "job-1"))
	// Unusable titles fall back to the job id.
	assert.Equal(t, "job-1.mp4", FinalFileName("...", "abc", "mp4", "job-1"))
}

func TestClassify(t *testing.T) {
	typed := Permanent("unsupported url", nil)
	got := Classify(typed)
	assert.Same(t, typed, got)

	got = Classify(context.DeadlineExceeded)
	assert.Equal(t, CodeTransient, got.Code)
	assert.True(t, got.Retryable)

	// Interrupted attempts must stay retryable so a daemon restart can
	// recover the entry instead of failing the job.
	got = Classify(context.Canceled)
	assert.Equal(t, CodeTransient, got.Code)
	assert.True(t, got.Retryable)

	got = Classify(errors.New("something odd"))
	assert.Equal(t, CodeTransient, got.Code)
	assert.True(t, got.Retryable)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	werr := Transient("write failed", cause)
	assert.ErrorIs(t, werr, cause)
	assert.Contains(t, werr.Error(), "disk full")
}

func TestWaitFor(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := WaitFor(ctx, time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	err = WaitFor(ctx, time.Millisecond, 20*time.Millisecond, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	boom := errors.New("boom")
	err = WaitFor(ctx, time.Millisecond, time.Second, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}
