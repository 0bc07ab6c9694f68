// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/model"
)

// Queue names shared with the worker fleet.
const (
	NameDownload = "download"
	NameDub      = "dub"
	NameMux      = "mux"
)

// Default retention before the reaper collects retired entries.
const (
	DefaultCompletedTTL = 24 * time.Hour
	DefaultFailedTTL    = 7 * 24 * time.Hour
	defaultReapInterval = time.Hour
)

// CoordinatorConfig tunes the three dispatch queues.
type CoordinatorConfig struct {
	DownloadConcurrency int
	DubConcurrency      int
	MuxConcurrency      int
	Attempts            int
	DownloadBackoff     time.Duration
	WorkerBackoff       time.Duration
	DownloadTimeout     time.Duration
	DubTimeout          time.Duration
	MuxTimeout          time.Duration
	PollInterval        time.Duration
	CompletedTTL        time.Duration
	FailedTTL           time.Duration
}

// DefaultCoordinatorConfig mirrors the concurrency caps the worker
// fleet is provisioned for.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DownloadConcurrency: 1,
		DubConcurrency:      2,
		MuxConcurrency:      2,
		Attempts:            3,
		DownloadBackoff:     time.Second,
		WorkerBackoff:       2 * time.Second,
		DownloadTimeout:     time.Hour,
		DubTimeout:          30 * time.Minute,
		MuxTimeout:          30 * time.Minute,
		CompletedTTL:        DefaultCompletedTTL,
		FailedTTL:           DefaultFailedTTL,
	}
}

// Handlers binds a processing function to each stage queue.
type Handlers struct {
	Download    Handler
	Dub         Handler
	Mux         Handler
	OnExhausted ExhaustedFunc
}

// Coordinator owns the three stage queues and their worker pools.
type Coordinator struct {
	cfg      CoordinatorConfig
	download *Queue
	dub      *Queue
	mux      *Queue
	pools    []*Pool
	stopReap context.CancelFunc
	reapDone chan struct{}
}

// NewCoordinator builds the stage queues on a shared Redis client.
func NewCoordinator(rdb *redis.Client, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		cfg: cfg,
		download: New(rdb, Config{
			Name:         NameDownload,
			Concurrency:  cfg.DownloadConcurrency,
			Attempts:     cfg.Attempts,
			Backoff:      cfg.DownloadBackoff,
			Timeout:      cfg.DownloadTimeout,
			PollInterval: cfg.PollInterval,
		}),
		dub: New(rdb, Config{
			Name:         NameDub,
			Concurrency:  cfg.DubConcurrency,
			Attempts:     cfg.Attempts,
			Backoff:      cfg.WorkerBackoff,
			Timeout:      cfg.DubTimeout,
			PollInterval: cfg.PollInterval,
		}),
		mux: New(rdb, Config{
			Name:         NameMux,
			Concurrency:  cfg.MuxConcurrency,
			Attempts:     cfg.Attempts,
			Backoff:      cfg.WorkerBackoff,
			Timeout:      cfg.MuxTimeout,
			PollInterval: cfg.PollInterval,
		}),
	}
}

// Start recovers in-flight entries from a previous process, then
// launches the worker pools and the reaper.
func (c *Coordinator) Start(ctx context.Context, h Handlers) error {
	logger := log.WithComponent("queue")
	for _, q := range []*Queue{c.download, c.dub, c.mux} {
		n, err := q.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover queue %s: %w", q.Name(), err)
		}
		if n > 0 {
			logger.Info().Str("queue", q.Name()).Int("requeued", n).
				Msg("recovered in-flight entries")
		}
	}

	c.pools = []*Pool{
		NewPool(c.download, h.Download, h.OnExhausted),
		NewPool(c.dub, h.Dub, h.OnExhausted),
		NewPool(c.mux, h.Mux, h.OnExhausted),
	}
	for _, p := range c.pools {
		p.Start(ctx)
	}

	reapCtx, cancel := context.WithCancel(ctx)
	c.stopReap = cancel
	c.reapDone = make(chan struct{})
	go c.reapLoop(reapCtx)
	return nil
}

// Close stops the reaper and drains the worker pools.
func (c *Coordinator) Close() {
	if c.stopReap != nil {
		c.stopReap()
		<-c.reapDone
	}
	for _, p := range c.pools {
		p.Close()
	}
}

func (c *Coordinator) reapLoop(ctx context.Context) {
	defer close(c.reapDone)
	logger := log.WithComponent("queue.reaper")
	ticker := time.NewTicker(defaultReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, q := range []*Queue{c.download, c.dub, c.mux} {
				if err := q.Reap(ctx, now, c.cfg.CompletedTTL, c.cfg.FailedTTL); err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Error().Err(err).Str("queue", q.Name()).Msg("reaping retired entries")
				}
			}
		}
	}
}

// EnqueueDownload dispatches a job to the download queue.
func (c *Coordinator) EnqueueDownload(ctx context.Context, p model.DownloadParams, priority int) error {
	return c.download.Enqueue(ctx, p.JobID, p, priority)
}

// EnqueueDub dispatches a job to the dub queue.
func (c *Coordinator) EnqueueDub(ctx context.Context, p model.DubParams, priority int) error {
	return c.dub.Enqueue(ctx, p.JobID, p, priority)
}

// EnqueueMux dispatches a job to the mux queue.
func (c *Coordinator) EnqueueMux(ctx context.Context, p model.MuxParams, priority int) error {
	return c.mux.Enqueue(ctx, p.JobID, p, priority)
}

// Reprioritize adjusts a waiting entry on whichever queue holds it.
// Jobs already dispatched keep running; that is not an error here.
func (c *Coordinator) Reprioritize(ctx context.Context, jobID string, priority int) error {
	for _, q := range []*Queue{c.download, c.dub, c.mux} {
		err := q.Reprioritize(ctx, jobID, priority)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotQueued) {
			return err
		}
	}
	return ErrNotQueued
}

// Withdraw removes a job from every queue where it is still waiting or
// delayed. It reports whether anything was actually withdrawn.
func (c *Coordinator) Withdraw(ctx context.Context, jobID string) (bool, error) {
	removed := false
	for _, q := range []*Queue{c.download, c.dub, c.mux} {
		err := q.Remove(ctx, jobID)
		if err == nil {
			removed = true
			continue
		}
		if !errors.Is(err, ErrNotQueued) {
			return removed, err
		}
	}
	return removed, nil
}

// Stats reports the census of all three queues keyed by queue name.
func (c *Coordinator) Stats(ctx context.Context) (map[string]Stats, error) {
	out := make(map[string]Stats, 3)
	for _, q := range []*Queue{c.download, c.dub, c.mux} {
		s, err := q.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out[q.Name()] = s
	}
	return out, nil
}
