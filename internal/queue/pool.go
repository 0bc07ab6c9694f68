// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vodub/vodub/internal/log"
)

// Pool runs a fixed set of workers against one queue. Workers promote
// due delayed entries, claim waiting ones, and run the handler with the
// queue's per-attempt timeout.
type Pool struct {
	q           *Queue
	handler     Handler
	onExhausted ExhaustedFunc
	logger      *zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool wires a handler to a queue. onExhausted may be nil.
func NewPool(q *Queue, handler Handler, onExhausted ExhaustedFunc) *Pool {
	return &Pool{
		q:           q,
		handler:     handler,
		onExhausted: onExhausted,
		logger:      log.WithComponent("queue." + q.Name()),
	}
}

// Start launches the workers. It returns immediately; Close stops them.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.q.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	p.logger.Info().Int("concurrency", p.q.cfg.Concurrency).Msg("workers started")
}

// Close stops the workers and waits for in-flight attempts to finish.
func (p *Pool) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	ticker := time.NewTicker(p.q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := p.q.promote(ctx, time.Now()); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("promoting delayed entries")
			continue
		}

		// Drain the wait set before sleeping again.
		for {
			entry, err := p.q.pop(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error().Err(err).Msg("claiming entry")
				break
			}
			if entry == nil {
				break
			}
			p.handle(ctx, *entry)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, e Entry) {
	attemptCtx := log.ContextWithJobID(ctx, e.ID)
	cancel := context.CancelFunc(func() {})
	if p.q.cfg.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(attemptCtx, p.q.cfg.Timeout)
	}
	err := p.handler(attemptCtx, e)
	cancel()
	if err == nil {
		if cerr := p.q.complete(ctx, e.ID); cerr != nil {
			p.logger.Error().Err(cerr).Str("job_id", e.ID).Msg("retiring completed entry")
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown interrupted the attempt. Leave the entry in the
		// active set; Recover requeues it on the next start.
		p.logger.Warn().Str("job_id", e.ID).Int("attempt", e.Attempt).
			Msg("attempt interrupted by shutdown, leaving entry for recovery")
		return
	}

	permanent := IsPermanent(err)
	if !permanent && e.Attempt < p.q.cfg.Attempts {
		p.logger.Warn().Err(err).Str("job_id", e.ID).
			Int("attempt", e.Attempt).Int("max_attempts", p.q.cfg.Attempts).
			Msg("attempt failed, scheduling retry")
		if rerr := p.q.retry(ctx, e.ID, e.Attempt, err); rerr != nil {
			p.logger.Error().Err(rerr).Str("job_id", e.ID).Msg("scheduling retry")
		}
		return
	}

	p.logger.Error().Err(err).Str("job_id", e.ID).
		Int("attempt", e.Attempt).Bool("permanent", permanent).
		Msg("entry failed permanently")
	if ferr := p.q.fail(ctx, e.ID, err); ferr != nil {
		p.logger.Error().Err(ferr).Str("job_id", e.ID).Msg("retiring failed entry")
	}
	if p.onExhausted != nil {
		p.onExhausted(ctx, e, err)
	}
}
