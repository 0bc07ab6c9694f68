// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodub/vodub/internal/bus"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/queue"
	"github.com/vodub/vodub/internal/types"
)

type fakeDownloader struct {
	result DownloadResult
	err    error
}

func (f *fakeDownloader) Download(_ context.Context, _ model.DownloadParams) (DownloadResult, error) {
	return f.result, f.err
}

type fakeDubber struct {
	path string
	err  error
}

func (f *fakeDubber) Dub(_ context.Context, _ model.DubParams) (string, error) {
	return f.path, f.err
}

type fakeMuxer struct {
	path string
	err  error
	got  model.MuxParams
}

func (f *fakeMuxer) Mux(_ context.Context, p model.MuxParams) (string, error) {
	f.got = p
	return f.path, f.err
}

type recordingEnqueuer struct {
	dubs  []model.DubParams
	muxes []model.MuxParams
}

func (r *recordingEnqueuer) EnqueueDub(_ context.Context, p model.DubParams, _ int) error {
	r.dubs = append(r.dubs, p)
	return nil
}

func (r *recordingEnqueuer) EnqueueMux(_ context.Context, p model.MuxParams, _ int) error {
	r.muxes = append(r.muxes, p)
	return nil
}

// collectEvents drains every bus channel into a slice after fn runs.
func collectEvents(t *testing.T, b *bus.MemoryBus, fn func()) []model.Event {
	t.Helper()
	sub, err := b.Subscribe(context.Background(), bus.AllChannels()...)
	require.NoError(t, err)
	fn()
	require.NoError(t, sub.Close())

	var out []model.Event
	for evt := range sub.C() {
		out = append(out, evt)
	}
	return out
}

func eventKinds(events []model.Event) []types.EventKind {
	kinds := make([]types.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Type
	}
	return kinds
}

func entryFor(t *testing.T, id string, payload any) queue.Entry {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return queue.Entry{ID: id, Payload: raw, Priority: 5, Attempt: 1}
}

func newTestRunner(t *testing.T, d Downloader, dub Dubber, m Muxer) (*Runner, *bus.MemoryBus, *recordingEnqueuer, Layout) {
	t.Helper()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	enq := &recordingEnqueuer{}
	layout := Layout{Root: t.TempDir()}
	return NewRunner(layout, Mix{}, NewEmitter(b), enq, d, dub, m), b, enq, layout
}

func TestHandleDownloadChainsToMuxWithoutDubbing(t *testing.T) {
	title := "My Clip"
	sourceID := "yt123"
	dl := &fakeDownloader{result: DownloadResult{
		VideoPath: "/tmp/video.mp4",
		Meta: model.MediaPatch{
			SourceTitle: &title,
			SourceID:    &sourceID,
		},
	}}
	r, b, enq, layout := newTestRunner(t, dl, nil, nil)

	params := model.DownloadParams{
		JobID:           "job-1",
		URL:             "https://example.com/v",
		OutputContainer: "mp4",
	}
	events := collectEvents(t, b, func() {
		require.NoError(t, r.HandleDownload(context.Background(), entryFor(t, "job-1", params)))
	})

	assert.Equal(t, []types.EventKind{
		types.EventStateChange, // queued -> downloading
		types.EventLog,
		types.EventMetadata,
		types.EventLog,
		types.EventStateChange, // downloading -> downloaded
	}, eventKinds(events))

	require.Empty(t, enq.dubs)
	require.Len(t, enq.muxes, 1)
	mux := enq.muxes[0]
	assert.Empty(t, mux.AudioDubbedPath)
	assert.Equal(t, layout.FinalPath("My Clip", "yt123", "mp4", "job-1"), mux.FinalPath)
	assert.Equal(t, filepath.Join(layout.CompleteDir(), "My Clip [yt123].mp4"), mux.FinalPath)
}

func TestHandleDownloadChainsToDub(t *testing.T) {
	dl := &fakeDownloader{result: DownloadResult{VideoPath: "/tmp/video.mp4"}}
	r, _, enq, _ := newTestRunner(t, dl, nil, nil)

	params := model.DownloadParams{
		JobID:            "job-2",
		URL:              "https://example.com/v",
		RequestedDubbing: true,
		TargetLang:       "de",
		OutputContainer:  "mkv",
	}
	require.NoError(t, r.HandleDownload(context.Background(), entryFor(t, "job-2", params)))

	require.Len(t, enq.dubs, 1)
	assert.Equal(t, "de", enq.dubs[0].TargetLang)
	assert.Equal(t, "/tmp/video.mp4", enq.dubs[0].VideoPath)
	assert.Empty(t, enq.muxes)
}

func TestHandleDownloadTransientError(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("connection reset")}
	r, b, _, _ := newTestRunner(t, dl, nil, nil)

	var handleErr error
	events := collectEvents(t, b, func() {
		handleErr = r.HandleDownload(context.Background(),
			entryFor(t, "job-3", model.DownloadParams{JobID: "job-3", URL: "u"}))
	})

	require.Error(t, handleErr)
	assert.False(t, queue.IsPermanent(handleErr))

	last := events[len(events)-1]
	require.Equal(t, types.EventError, last.Type)
	var p model.ErrorPayload
	require.NoError(t, json.Unmarshal(last.Payload, &p))
	assert.True(t, p.Retryable)
	assert.Equal(t, CodeTransient, p.Code)
}

func TestHandleDownloadPermanentError(t *testing.T) {
	dl := &fakeDownloader{err: Permanent("unsupported url", nil)}
	r, b, _, _ := newTestRunner(t, dl, nil, nil)

	var handleErr error
	events := collectEvents(t, b, func() {
		handleErr = r.HandleDownload(context.Background(),
			entryFor(t, "job-4", model.DownloadParams{JobID: "job-4", URL: "u"}))
	})
	require.Error(t, handleErr)
	assert.True(t, queue.IsPermanent(handleErr))

	// The terminal error event belongs to the exhausted hook alone.
	for _, e := range events {
		assert.NotEqual(t, types.EventError, e.Type)
	}
}

func TestExhaustedPublisherEmitsSingleTerminalError(t *testing.T) {
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	emit := NewEmitter(b)
	onExhausted := ExhaustedPublisher(emit)

	events := collectEvents(t, b, func() {
		onExhausted(context.Background(), queue.Entry{ID: "job-9"},
			Permanent("unsupported url", nil))
	})

	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].Type)
	var p model.ErrorPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &p))
	assert.False(t, p.Retryable)
	assert.Equal(t, CodePermanent, p.Code)
}

func TestHandleDubChainsToMux(t *testing.T) {
	dub := &fakeDubber{path: "/tmp/audio_dubbed.mp3"}
	r, b, enq, _ := newTestRunner(t, nil, dub, nil)

	params := model.DubParams{
		JobID:           "job-5",
		VideoPath:       "/tmp/video.mp4",
		TargetLang:      "fr",
		FinalPath:       "/media/complete/out.mp4",
		OutputContainer: "mp4",
	}
	events := collectEvents(t, b, func() {
		require.NoError(t, r.HandleDub(context.Background(), entryFor(t, "job-5", params)))
	})

	assert.Equal(t, []types.EventKind{
		types.EventStateChange, // downloaded -> dubbing
		types.EventLog,
		types.EventMetadata,
		types.EventLog,
		types.EventStateChange, // dubbing -> dubbed
	}, eventKinds(events))

	require.Len(t, enq.muxes, 1)
	assert.Equal(t, "/tmp/audio_dubbed.mp3", enq.muxes[0].AudioDubbedPath)
	assert.Equal(t, "/media/complete/out.mp4", enq.muxes[0].FinalPath)
	assert.Equal(t, DefaultDuckingLevel, enq.muxes[0].DuckingLevel)
}

func TestConfiguredMixReachesMuxParams(t *testing.T) {
	dl := &fakeDownloader{result: DownloadResult{VideoPath: "/tmp/video.mp4"}}
	dub := &fakeDubber{path: "/tmp/audio_dubbed.mp3"}
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	enq := &recordingEnqueuer{}
	mix := Mix{DuckingLevel: 0.5, NormalizationLufs: -14}
	r := NewRunner(Layout{Root: t.TempDir()}, mix, NewEmitter(b), enq, dl, dub, nil)

	require.NoError(t, r.HandleDownload(context.Background(),
		entryFor(t, "job-m1", model.DownloadParams{JobID: "job-m1", URL: "u", OutputContainer: "mp4"})))
	require.NoError(t, r.HandleDub(context.Background(),
		entryFor(t, "job-m2", model.DubParams{JobID: "job-m2", VideoPath: "/tmp/video.mp4", OutputContainer: "mp4"})))

	require.Len(t, enq.muxes, 2)
	for _, mux := range enq.muxes {
		assert.Equal(t, 0.5, mux.DuckingLevel)
		assert.Equal(t, -14.0, mux.NormalizationLufs)
	}
}

func TestMixWithDefaults(t *testing.T) {
	m := Mix{}.WithDefaults()
	assert.Equal(t, DefaultDuckingLevel, m.DuckingLevel)
	assert.Equal(t, DefaultNormalizationLufs, m.NormalizationLufs)

	m = Mix{DuckingLevel: 0.8, NormalizationLufs: -20}.WithDefaults()
	assert.Equal(t, 0.8, m.DuckingLevel)
	assert.Equal(t, -20.0, m.NormalizationLufs)
}

func TestHandleMuxMovesIntoLibrary(t *testing.T) {
	work := t.TempDir()
	muxed := filepath.Join(work, "muxed.mp4")
	require.NoError(t, os.WriteFile(muxed, []byte("av-payload"), 0o644))

	m := &fakeMuxer{path: muxed}
	r, b, _, layout := newTestRunner(t, nil, nil, m)

	finalPath := filepath.Join(layout.CompleteDir(), "Clip [id1].mp4")
	params := model.MuxParams{
		JobID:           "job-6",
		VideoPath:       "/tmp/video.mp4",
		AudioDubbedPath: "/tmp/audio_dubbed.mp3",
		OutputContainer: "mp4",
		FinalPath:       finalPath,
	}
	events := collectEvents(t, b, func() {
		require.NoError(t, r.HandleMux(context.Background(), entryFor(t, "job-6", params)))
	})

	kinds := eventKinds(events)
	require.NotEmpty(t, kinds)
	assert.Equal(t, types.EventStateChange, kinds[0])
	assert.Equal(t, types.EventStateChange, kinds[len(kinds)-1])

	var first model.StateChangePayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &first))
	assert.Equal(t, types.StatusDubbed, first.From)
	assert.Equal(t, types.StatusMuxing, first.To)

	var last model.StateChangePayload
	require.NoError(t, json.Unmarshal(events[len(events)-1].Payload, &last))
	assert.Equal(t, types.StatusComplete, last.To)

	data, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, "av-payload", string(data))
	_, err = os.Stat(muxed)
	assert.True(t, os.IsNotExist(err))
}

func TestHandleMuxWithoutDubStartsFromDownloaded(t *testing.T) {
	work := t.TempDir()
	muxed := filepath.Join(work, "muxed.mp4")
	require.NoError(t, os.WriteFile(muxed, []byte("x"), 0o644))

	m := &fakeMuxer{path: muxed}
	r, b, _, layout := newTestRunner(t, nil, nil, m)

	params := model.MuxParams{
		JobID:           "job-7",
		VideoPath:       "/tmp/video.mp4",
		OutputContainer: "mp4",
		FinalPath:       filepath.Join(layout.CompleteDir(), "out.mp4"),
	}
	events := collectEvents(t, b, func() {
		require.NoError(t, r.HandleMux(context.Background(), entryFor(t, "job-7", params)))
	})

	var first model.StateChangePayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &first))
	assert.Equal(t, types.StatusDownloaded, first.From)
}

func TestHandleGarbagePayloadIsPermanent(t *testing.T) {
	r, _, _, _ := newTestRunner(t, nil, nil, nil)
	e := queue.Entry{ID: "job-8", Payload: json.RawMessage(`{broken`)}

	assert.True(t, queue.IsPermanent(r.HandleDownload(context.Background(), e)))
	assert.True(t, queue.IsPermanent(r.HandleDub(context.Background(), e)))
	assert.True(t, queue.IsPermanent(r.HandleMux(context.Background(), e)))
}
