// SPDX-License-Identifier: MIT

// Package service is the state machine core: it creates jobs, drives
// control operations, plans resume and retry, and owns filesystem
// cleanup.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vodub/vodub/internal/fsutil"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/store"
	"github.com/vodub/vodub/internal/types"
	"github.com/vodub/vodub/internal/worker"
)

// recentEventCount is how many events ride along on a job detail.
const recentEventCount = 50

// Queues is the slice of the queue coordinator the service drives.
type Queues interface {
	EnqueueDownload(ctx context.Context, p model.DownloadParams, priority int) error
	EnqueueDub(ctx context.Context, p model.DubParams, priority int) error
	EnqueueMux(ctx context.Context, p model.MuxParams, priority int) error
	Reprioritize(ctx context.Context, jobID string, priority int) error
	Withdraw(ctx context.Context, jobID string) (bool, error)
}

// Pusher receives service-initiated events for connected clients. The
// aggregator handles worker-initiated ones.
type Pusher interface {
	Forward(jobID string, evt model.Event)
	BroadcastAll(msgType string, payload any)
}

// Config carries the service's tunables.
type Config struct {
	Layout              worker.Layout
	Mix                 worker.Mix
	MinFreeBytes        uint64
	DefaultTargetLang   string
	DefaultContainer    string
	DefaultFormatPreset string
	Proxy               string
	RateLimit           string
}

// Service implements the job operations of the control API.
type Service struct {
	cfg    Config
	store  store.Store
	queues Queues
	push   Pusher // may be nil
	logger *zerolog.Logger
}

func New(cfg Config, st store.Store, q Queues, push Pusher) *Service {
	if cfg.DefaultTargetLang == "" {
		cfg.DefaultTargetLang = "ru"
	}
	if cfg.DefaultContainer == "" {
		cfg.DefaultContainer = "mp4"
	}
	if cfg.DefaultFormatPreset == "" {
		cfg.DefaultFormatPreset = "best"
	}
	cfg.Mix = cfg.Mix.WithDefaults()
	return &Service{
		cfg:    cfg,
		store:  st,
		queues: q,
		push:   push,
		logger: log.WithComponent("service"),
	}
}

// CreateJobRequest is the creation payload of POST /jobs.
type CreateJobRequest struct {
	URL               string `json:"url"`
	RequestedDubbing  bool   `json:"requestedDubbing"`
	TargetLang        string `json:"targetLang"`
	UseLivelyVoice    bool   `json:"useLivelyVoice"`
	FormatPreset      string `json:"formatPreset"`
	OutputContainer   string `json:"outputContainer"`
	DownloadSubtitles bool   `json:"downloadSubtitles"`
	Priority          *int   `json:"priority"`
	Cookies           string `json:"cookies,omitempty"`
}

// JobDetail is the job plus its media row and most recent events.
type JobDetail struct {
	*model.Job
	Media  *model.Media     `json:"media,omitempty"`
	Events []model.JobEvent `json:"events"`
}

// CreateJob validates, persists and enqueues a new job.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*model.Job, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	priority := 5
	if req.Priority != nil {
		if *req.Priority < 0 || *req.Priority > 10 {
			return nil, &ValidationError{Field: "priority", Reason: "must be between 0 and 10"}
		}
		priority = *req.Priority
	}

	if err := s.checkFreeSpace(); err != nil {
		return nil, err
	}

	opts := model.JobOptions{
		RequestedDubbing:  req.RequestedDubbing,
		TargetLang:        defaultStr(req.TargetLang, s.cfg.DefaultTargetLang),
		UseLivelyVoice:    req.UseLivelyVoice,
		FormatPreset:      defaultStr(req.FormatPreset, s.cfg.DefaultFormatPreset),
		OutputContainer:   defaultStr(req.OutputContainer, s.cfg.DefaultContainer),
		DownloadSubtitles: req.DownloadSubtitles,
	}
	job := &model.Job{
		ID:       model.NewJobID(),
		URL:      req.URL,
		Status:   types.StatusQueued,
		Priority: priority,
		Options:  opts,
	}
	if err := s.store.CreateJobAtomic(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	cookiesFile := ""
	if req.Cookies != "" {
		cookiesFile = s.cfg.Layout.CookiesPath(job.ID)
		if err := fsutil.EnsureDir(s.cfg.Layout.IncompleteDir(job.ID)); err != nil {
			return nil, err
		}
		if err := fsutil.WriteFileAtomic(cookiesFile, []byte(req.Cookies), 0o600); err != nil {
			return nil, err
		}
	}

	if err := s.queues.EnqueueDownload(ctx, s.downloadParams(job, cookiesFile), priority); err != nil {
		return nil, fmt.Errorf("enqueue download: %w", err)
	}

	metrics.JobsCreatedTotal.Inc()
	s.logger.Info().Str("job_id", job.ID).Str("url", job.URL).
		Bool("dubbing", opts.RequestedDubbing).Msg("job created")
	if s.push != nil {
		s.push.BroadcastAll("job_added", job)
	}
	return job, nil
}

func (s *Service) downloadParams(job *model.Job, cookiesFile string) model.DownloadParams {
	return model.DownloadParams{
		JobID:             job.ID,
		URL:               job.URL,
		FormatPreset:      job.Options.FormatPreset,
		OutputContainer:   job.Options.OutputContainer,
		RequestedDubbing:  job.Options.RequestedDubbing,
		TargetLang:        job.Options.TargetLang,
		UseLivelyVoice:    job.Options.UseLivelyVoice,
		DownloadSubtitles: job.Options.DownloadSubtitles,
		TempDir:           s.cfg.Layout.IncompleteDir(job.ID),
		Proxy:             s.cfg.Proxy,
		CookiesFile:       cookiesFile,
		RateLimit:         s.cfg.RateLimit,
	}
}

func (s *Service) checkFreeSpace() error {
	if s.cfg.MinFreeBytes == 0 {
		return nil
	}
	if err := fsutil.EnsureDir(s.cfg.Layout.Root); err != nil {
		return err
	}
	free, err := fsutil.DiskFree(s.cfg.Layout.Root)
	if err != nil {
		return fmt.Errorf("check free space: %w", err)
	}
	if free < s.cfg.MinFreeBytes {
		return fmt.Errorf("%w: %d bytes free, %d required", ErrInsufficientSpace, free, s.cfg.MinFreeBytes)
	}
	return nil
}

// Get returns the job with its media row and recent events.
func (s *Service) Get(ctx context.Context, id string) (*JobDetail, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &JobDetail{Job: job, Events: []model.JobEvent{}}
	if media, err := s.store.GetMedia(ctx, id); err == nil {
		detail.Media = media
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	events, _, err := s.store.ListEvents(ctx, id, recentEventCount, 0)
	if err != nil {
		return nil, err
	}
	detail.Events = events
	return detail, nil
}

// List pages jobs with optional status and substring filters.
func (s *Service) List(ctx context.Context, f store.ListJobsFilter) ([]*model.Job, int, error) {
	return s.store.ListJobs(ctx, f)
}

// Logs pages a job's event history, newest first.
func (s *Service) Logs(ctx context.Context, id string, limit, offset int) ([]model.JobEvent, int, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.store.ListEvents(ctx, id, limit, offset)
}

// Cancel transitions a non-terminal job to canceled, withdraws its
// queue entries and removes its work directory.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		if job.Status == types.StatusCanceled {
			// Double-cancel is specified as a no-op.
			return job, nil
		}
		return nil, &InvalidStateError{Op: "cancel", Status: job.Status}
	}

	if _, err := s.queues.Withdraw(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("withdrawing queue entries")
	}
	if err := s.store.TransitionJob(ctx, id, job.Status, types.StatusCanceled, ""); err != nil {
		return nil, err
	}
	metrics.RecordTransition(string(job.Status), string(types.StatusCanceled))
	s.forwardStateChange(ctx, id, job.Status, types.StatusCanceled)
	s.cleanupFiles(ctx, id)

	s.logger.Info().Str("job_id", id).Str("from", string(job.Status)).Msg("job canceled")
	return s.store.GetJob(ctx, id)
}

// Prioritize updates the persisted priority and reorders the waiting
// queue entry if there still is one.
func (s *Service) Prioritize(ctx context.Context, id string, priority int) (*model.Job, error) {
	if priority < 0 || priority > 10 {
		return nil, &ValidationError{Field: "priority", Reason: "must be between 0 and 10"}
	}
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.SetPriority(ctx, id, priority); err != nil {
		return nil, err
	}
	if err := s.queues.Reprioritize(ctx, id, priority); err != nil {
		// Already dispatched entries keep running at their old slot.
		s.logger.Debug().Err(err).Str("job_id", id).Msg("queue entry not reordered")
	}
	return s.store.GetJob(ctx, id)
}

// Retry restarts a failed or canceled job from the download stage with
// a fresh queue lineage.
func (s *Service) Retry(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusFailed && job.Status != types.StatusCanceled {
		return nil, &InvalidStateError{Op: "retry", Status: job.Status}
	}

	if err := s.store.ResetJobForRetry(ctx, id, types.StatusQueued, model.RetryPayload{
		PreviousStatus: job.Status,
	}); err != nil {
		return nil, err
	}
	cookiesFile := ""
	if err := fsutil.IsRegularFile(s.cfg.Layout.CookiesPath(id)); err == nil {
		cookiesFile = s.cfg.Layout.CookiesPath(id)
	}
	if err := s.queues.EnqueueDownload(ctx, s.downloadParams(job, cookiesFile), job.Priority); err != nil {
		return nil, fmt.Errorf("re-enqueue download: %w", err)
	}
	metrics.RecordTransition(string(job.Status), string(types.StatusQueued))
	s.forwardStateChange(ctx, id, job.Status, types.StatusQueued)

	s.logger.Info().Str("job_id", id).Str("previous", string(job.Status)).Msg("job retried")
	return s.store.GetJob(ctx, id)
}

// Control dispatches the generic control action endpoint.
func (s *Service) Control(ctx context.Context, id, action string, priority *int) (*model.Job, error) {
	switch action {
	case "cancel":
		return s.Cancel(ctx, id)
	case "prioritize":
		if priority == nil {
			return nil, &ValidationError{Field: "priority", Reason: "required for prioritize"}
		}
		return s.Prioritize(ctx, id, *priority)
	case "pause", "resume":
		return nil, ErrNotImplemented
	default:
		return nil, &ValidationError{Field: "action", Reason: "unknown action " + action}
	}
}

// Delete removes the job's files, then cascades the rows away.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return err
	}
	if _, err := s.queues.Withdraw(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("withdrawing queue entries")
	}
	s.cleanupFiles(ctx, id)
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", id).Msg("job deleted")
	if s.push != nil {
		s.push.BroadcastAll("job_removed", map[string]string{"jobId": id})
	}
	return nil
}

// cleanupFiles removes the work directory and any recorded output
// file. Failures are logged, never fatal: rows win over files.
func (s *Service) cleanupFiles(ctx context.Context, id string) {
	if err := fsutil.RemoveAllIfPresent(s.cfg.Layout.IncompleteDir(id)); err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("removing work directory")
	}
	media, err := s.store.GetMedia(ctx, id)
	if err != nil {
		return
	}
	for _, p := range []string{media.VideoPath, media.AudioDubbedPath, media.AudioMixedPath} {
		if p == "" {
			continue
		}
		// Artifact paths come from the database; never delete outside
		// the media root no matter what they claim.
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		confined, err := fsutil.ConfineAbsPath(s.cfg.Layout.Root, abs)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Str("path", p).Msg("artifact outside media root, skipping")
			continue
		}
		if err := fsutil.RemoveAllIfPresent(confined); err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Str("path", p).Msg("removing artifact")
		}
	}
}

func (s *Service) forwardStateChange(ctx context.Context, id string, from, to types.JobStatus) {
	if s.push == nil {
		return
	}
	evt, err := model.NewEvent(id, types.EventStateChange, model.StateChangePayload{From: from, To: to})
	if err != nil {
		log.FromContext(ctx).Error().Err(err).Msg("building state change push")
		return
	}
	s.push.Forward(id, evt)
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ValidationError{Field: "url", Reason: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Reason: "malformed"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ValidationError{Field: "url", Reason: "missing host"}
	}
	return nil
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
