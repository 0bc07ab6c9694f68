// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vodub/vodub/internal/fsutil"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/queue"
	"github.com/vodub/vodub/internal/types"
)

// Audio mixing defaults applied when a job carries no overrides.
const (
	DefaultDuckingLevel      = 0.3
	DefaultNormalizationLufs = -16.0
)

// Mix carries the configured audio mixing knobs handed to every mux
// stage. Zero values fall back to the defaults.
type Mix struct {
	DuckingLevel      float64
	NormalizationLufs float64
}

// WithDefaults fills unset knobs.
func (m Mix) WithDefaults() Mix {
	if m.DuckingLevel == 0 {
		m.DuckingLevel = DefaultDuckingLevel
	}
	if m.NormalizationLufs == 0 {
		m.NormalizationLufs = DefaultNormalizationLufs
	}
	return m
}

// Downloader fetches the source video into the job's temp directory
// and reports what it learned about the source.
type Downloader interface {
	Download(ctx context.Context, p model.DownloadParams) (DownloadResult, error)
}

// DownloadResult is what a finished download hands back.
type DownloadResult struct {
	VideoPath string
	Meta      model.MediaPatch
}

// Dubber produces the translated voice-over track and returns its
// path.
type Dubber interface {
	Dub(ctx context.Context, p model.DubParams) (string, error)
}

// Muxer assembles the final container in the temp directory and
// returns its path.
type Muxer interface {
	Mux(ctx context.Context, p model.MuxParams) (string, error)
}

// Enqueuer is the slice of the queue coordinator the runner needs for
// stage chaining.
type Enqueuer interface {
	EnqueueDub(ctx context.Context, p model.DubParams, priority int) error
	EnqueueMux(ctx context.Context, p model.MuxParams, priority int) error
}

// Runner executes queue entries against the stage capabilities and
// publishes the event stream each stage produces.
type Runner struct {
	layout     Layout
	mix        Mix
	emit       *Emitter
	enq        Enqueuer
	downloader Downloader
	dubber     Dubber
	muxer      Muxer
}

func NewRunner(layout Layout, mix Mix, emit *Emitter, enq Enqueuer, d Downloader, dub Dubber, m Muxer) *Runner {
	return &Runner{
		layout:     layout,
		mix:        mix.WithDefaults(),
		emit:       emit,
		enq:        enq,
		downloader: d,
		dubber:     dub,
		muxer:      m,
	}
}

// Handlers binds the runner's stage handlers for the coordinator.
// onExhausted is supplied by the job service.
func (r *Runner) Handlers(onExhausted queue.ExhaustedFunc) queue.Handlers {
	return queue.Handlers{
		Download:    r.HandleDownload,
		Dub:         r.HandleDub,
		Mux:         r.HandleMux,
		OnExhausted: onExhausted,
	}
}

// fail translates a stage error for the queue layer. Retryable
// failures are published here; the terminal event for a permanent one
// comes from the exhausted hook, emitting it twice would duplicate the
// job history.
func (r *Runner) fail(ctx context.Context, jobID string, err error) error {
	werr := Classify(err)
	if !werr.Retryable {
		return queue.Permanent(werr)
	}
	r.emit.Error(ctx, jobID, werr)
	return werr
}

// HandleDownload runs the download stage and chains into dub or mux.
func (r *Runner) HandleDownload(ctx context.Context, e queue.Entry) error {
	var p model.DownloadParams
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("decode download payload: %w", err))
	}
	ctx = log.ContextWithJobID(ctx, p.JobID)

	r.emit.State(ctx, p.JobID, types.StatusQueued, types.StatusDownloading)
	r.emit.Log(ctx, p.JobID, "info", "Starting download: "+p.URL)

	if p.TempDir == "" {
		p.TempDir = r.layout.IncompleteDir(p.JobID)
	}
	if err := fsutil.EnsureDir(p.TempDir); err != nil {
		return r.fail(ctx, p.JobID, err)
	}

	res, err := r.downloader.Download(ctx, p)
	if err != nil {
		return r.fail(ctx, p.JobID, err)
	}

	meta := res.Meta
	meta.VideoPath = &res.VideoPath
	meta.TempDir = &p.TempDir
	r.emit.Metadata(ctx, p.JobID, meta)
	r.emit.Log(ctx, p.JobID, "info", "Download complete: "+res.VideoPath)
	r.emit.State(ctx, p.JobID, types.StatusDownloading, types.StatusDownloaded)

	finalPath := p.FinalPath
	if finalPath == "" {
		finalPath = r.layout.FinalPath(
			strDeref(meta.SourceTitle), strDeref(meta.SourceID),
			p.OutputContainer, p.JobID)
	}

	if p.RequestedDubbing {
		err = r.enq.EnqueueDub(ctx, model.DubParams{
			JobID:           p.JobID,
			URL:             p.URL,
			VideoPath:       res.VideoPath,
			TargetLang:      p.TargetLang,
			UseLivelyVoice:  p.UseLivelyVoice,
			TempDir:         p.TempDir,
			OutputPath:      filepath.Join(p.TempDir, "audio_dubbed.mp3"),
			FinalPath:       finalPath,
			OutputContainer: p.OutputContainer,
		}, e.Priority)
	} else {
		err = r.enq.EnqueueMux(ctx, model.MuxParams{
			JobID:             p.JobID,
			VideoPath:         res.VideoPath,
			TargetLang:        p.TargetLang,
			OutputContainer:   p.OutputContainer,
			DuckingLevel:      r.mix.DuckingLevel,
			NormalizationLufs: r.mix.NormalizationLufs,
			TempDir:           p.TempDir,
			FinalPath:         finalPath,
		}, e.Priority)
	}
	if err != nil {
		return r.fail(ctx, p.JobID, err)
	}
	return nil
}

// HandleDub runs the voice-over stage and chains into mux.
func (r *Runner) HandleDub(ctx context.Context, e queue.Entry) error {
	var p model.DubParams
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("decode dub payload: %w", err))
	}
	ctx = log.ContextWithJobID(ctx, p.JobID)

	r.emit.State(ctx, p.JobID, types.StatusDownloaded, types.StatusDubbing)
	r.emit.Log(ctx, p.JobID, "info", "Starting dubbing ("+p.TargetLang+")")

	dubbedPath, err := r.dubber.Dub(ctx, p)
	if err != nil {
		return r.fail(ctx, p.JobID, err)
	}

	r.emit.Metadata(ctx, p.JobID, model.MediaPatch{AudioDubbedPath: &dubbedPath})
	r.emit.Log(ctx, p.JobID, "info", "Dubbing complete: "+dubbedPath)
	r.emit.State(ctx, p.JobID, types.StatusDubbing, types.StatusDubbed)

	if err := r.enq.EnqueueMux(ctx, model.MuxParams{
		JobID:             p.JobID,
		VideoPath:         p.VideoPath,
		AudioDubbedPath:   dubbedPath,
		TargetLang:        p.TargetLang,
		OutputContainer:   p.OutputContainer,
		DuckingLevel:      r.mix.DuckingLevel,
		NormalizationLufs: r.mix.NormalizationLufs,
		TempDir:           p.TempDir,
		FinalPath:         p.FinalPath,
	}, e.Priority); err != nil {
		return r.fail(ctx, p.JobID, err)
	}
	return nil
}

// HandleMux runs the final assembly stage: mux, move into the library
// and clean up the work directory.
func (r *Runner) HandleMux(ctx context.Context, e queue.Entry) error {
	var p model.MuxParams
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return queue.Permanent(fmt.Errorf("decode mux payload: %w", err))
	}
	ctx = log.ContextWithJobID(ctx, p.JobID)

	from := types.StatusDownloaded
	if p.AudioDubbedPath != "" {
		from = types.StatusDubbed
	}
	r.emit.State(ctx, p.JobID, from, types.StatusMuxing)

	outPath, err := r.muxer.Mux(ctx, p)
	if err != nil {
		return r.fail(ctx, p.JobID, err)
	}

	finalPath := p.FinalPath
	if finalPath == "" {
		finalPath = r.layout.FinalPath("", "", p.OutputContainer, p.JobID)
	}
	if outPath != finalPath {
		if err := fsutil.MoveFile(outPath, finalPath); err != nil {
			return r.fail(ctx, p.JobID, err)
		}
	}

	patch := model.MediaPatch{VideoPath: &finalPath}
	if info, err := os.Stat(finalPath); err == nil {
		size := info.Size()
		patch.FileSizeBytes = &size
	}
	r.emit.Metadata(ctx, p.JobID, patch)
	r.emit.Log(ctx, p.JobID, "info", "Processing complete: "+finalPath)
	r.emit.State(ctx, p.JobID, types.StatusMuxing, types.StatusComplete)

	if err := fsutil.RemoveAllIfPresent(r.layout.IncompleteDir(p.JobID)); err != nil {
		log.FromContext(ctx).Warn().Err(err).Str("job_id", p.JobID).
			Msg("cleaning work directory")
	}
	return nil
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
