// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/vodub/vodub/internal/fsutil"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/types"
)

// resumeScanLimit bounds the history scan; jobs produce far fewer
// state changes than this.
const resumeScanLimit = 500

// Resume restarts a failed job at the last stage whose output still
// exists on disk. It returns the stage name the job resumes from.
func (s *Service) Resume(ctx context.Context, id string) (*model.Job, string, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.Status != types.StatusFailed {
		return nil, "", &InvalidStateError{Op: "resume", Status: job.Status}
	}

	diag, media, err := s.inspect(ctx, job)
	if err != nil {
		return nil, "", err
	}

	switch {
	case diag.DubbingCompleted && diag.HasVideo && diag.HasDubbedAudio:
		if err := s.resumeAt(ctx, job, types.StatusDubbed, "muxing"); err != nil {
			return nil, "", err
		}
		if err := s.queues.EnqueueMux(ctx, model.MuxParams{
			JobID:             job.ID,
			VideoPath:         media.VideoPath,
			AudioDubbedPath:   media.AudioDubbedPath,
			TargetLang:        job.Options.TargetLang,
			OutputContainer:   job.Options.OutputContainer,
			DuckingLevel:      s.cfg.Mix.DuckingLevel,
			NormalizationLufs: s.cfg.Mix.NormalizationLufs,
			TempDir:           s.tempDir(media, job.ID),
			FinalPath:         s.finalPath(media, job),
		}, job.Priority); err != nil {
			return nil, "", fmt.Errorf("enqueue mux: %w", err)
		}
		return s.finishResume(ctx, job, "muxing")

	case diag.DownloadCompleted && diag.HasVideo && diag.RequestedDubbing:
		if err := s.resumeAt(ctx, job, types.StatusDownloaded, "dubbing"); err != nil {
			return nil, "", err
		}
		if err := s.queues.EnqueueDub(ctx, model.DubParams{
			JobID:           job.ID,
			URL:             job.URL,
			VideoPath:       media.VideoPath,
			TargetLang:      job.Options.TargetLang,
			UseLivelyVoice:  job.Options.UseLivelyVoice,
			TempDir:         s.tempDir(media, job.ID),
			OutputPath:      filepath.Join(s.tempDir(media, job.ID), "audio_dubbed.mp3"),
			FinalPath:       s.finalPath(media, job),
			OutputContainer: job.Options.OutputContainer,
		}, job.Priority); err != nil {
			return nil, "", fmt.Errorf("enqueue dub: %w", err)
		}
		return s.finishResume(ctx, job, "dubbing")

	default:
		return nil, "", &CannotResumeError{Diagnostic: diag}
	}
}

// inspect gathers the planner's evidence: which stages the event
// history reached and which artifacts still exist.
func (s *Service) inspect(ctx context.Context, job *model.Job) (ResumeDiagnostic, *model.Media, error) {
	diag := ResumeDiagnostic{RequestedDubbing: job.Options.RequestedDubbing}

	events, _, err := s.store.ListEvents(ctx, job.ID, resumeScanLimit, 0)
	if err != nil {
		return diag, nil, err
	}
	for _, e := range events {
		if e.Kind != types.EventStateChange {
			continue
		}
		var p model.StateChangePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			continue
		}
		switch p.To {
		case types.StatusDownloaded:
			diag.DownloadCompleted = true
		case types.StatusDubbed:
			diag.DubbingCompleted = true
		}
	}

	media, err := s.store.GetMedia(ctx, job.ID)
	if err != nil {
		return diag, nil, err
	}
	if media.VideoPath != "" && fsutil.IsRegularFile(media.VideoPath) == nil {
		diag.HasVideo = true
	}
	if media.AudioDubbedPath != "" && fsutil.IsRegularFile(media.AudioDubbedPath) == nil {
		diag.HasDubbedAudio = true
	}
	return diag, media, nil
}

func (s *Service) resumeAt(ctx context.Context, job *model.Job, to types.JobStatus, resumeFrom string) error {
	return s.store.ResetJobForRetry(ctx, job.ID, to, model.RetryPayload{
		PreviousStatus: job.Status,
		ResumeFrom:     resumeFrom,
	})
}

func (s *Service) finishResume(ctx context.Context, job *model.Job, resumeFrom string) (*model.Job, string, error) {
	metrics.RecordTransition(string(job.Status), resumeFrom)
	s.logger.Info().Str("job_id", job.ID).Str("resume_from", resumeFrom).Msg("job resumed")
	updated, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, "", err
	}
	s.forwardStateChange(ctx, job.ID, job.Status, updated.Status)
	return updated, resumeFrom, nil
}

func (s *Service) tempDir(media *model.Media, jobID string) string {
	if media.TempDir != "" {
		return media.TempDir
	}
	return s.cfg.Layout.IncompleteDir(jobID)
}

func (s *Service) finalPath(media *model.Media, job *model.Job) string {
	return s.cfg.Layout.FinalPath(media.SourceTitle, media.SourceID,
		job.Options.OutputContainer, job.ID)
}
