// SPDX-License-Identifier: MIT

// Package aggregator is the single consumer of the event bus. It folds
// worker events into the store and forwards them to the push gateway.
// Persistence never depends on anyone listening.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vodub/vodub/internal/bus"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/store"
	"github.com/vodub/vodub/internal/types"
)

// Forwarder receives every event that should reach push clients.
type Forwarder interface {
	Forward(jobID string, evt model.Event)
}

// Aggregator runs one goroutine over all five bus channels.
type Aggregator struct {
	bus     bus.Bus
	store   store.Store
	forward Forwarder
	logger  *zerolog.Logger

	done chan struct{}
}

// New wires the aggregator. forward may be nil when no push layer is
// attached.
func New(b bus.Bus, st store.Store, forward Forwarder) *Aggregator {
	return &Aggregator{
		bus:     b,
		store:   st,
		forward: forward,
		logger:  log.WithComponent("aggregator"),
		done:    make(chan struct{}),
	}
}

// Start subscribes to every channel and consumes until ctx ends.
func (a *Aggregator) Start(ctx context.Context) error {
	sub, err := a.bus.Subscribe(ctx, bus.AllChannels()...)
	if err != nil {
		return fmt.Errorf("subscribe aggregator: %w", err)
	}

	go func() {
		defer close(a.done)
		defer sub.Close() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				a.handle(ctx, evt)
			}
		}
	}()
	a.logger.Info().Msg("aggregator started")
	return nil
}

// Wait blocks until the consume loop has exited.
func (a *Aggregator) Wait() {
	<-a.done
}

func (a *Aggregator) handle(ctx context.Context, evt model.Event) {
	if evt.JobID == "" {
		a.logger.Warn().Str("kind", string(evt.Type)).Msg("dropping event without job id")
		return
	}

	switch evt.Type {
	case types.EventProgress:
		// Volatile; forwarded only.

	case types.EventStateChange:
		a.handleStateChange(ctx, evt)

	case types.EventLog:
		a.persist(ctx, evt)

	case types.EventError:
		a.handleError(ctx, evt)

	case types.EventMetadata:
		// Folded into the media row, never stored as an event and
		// never forwarded raw.
		a.handleMetadata(ctx, evt)
		return

	default:
		a.logger.Warn().Str("kind", string(evt.Type)).Str("job_id", evt.JobID).
			Msg("unknown event kind")
		return
	}

	if a.forward != nil {
		a.forward.Forward(evt.JobID, evt)
	}
}

func (a *Aggregator) persist(ctx context.Context, evt model.Event) {
	if err := a.store.AppendEvent(ctx, evt.JobID, evt.Type, json.RawMessage(evt.Payload)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.logger.Debug().Str("job_id", evt.JobID).Msg("event for unknown job")
			return
		}
		a.logger.Error().Err(err).Str("job_id", evt.JobID).
			Str("kind", string(evt.Type)).Msg("persisting event")
		return
	}
	metrics.EventsPersistedTotal.WithLabelValues(string(evt.Type)).Inc()
}

func (a *Aggregator) handleStateChange(ctx context.Context, evt model.Event) {
	var p model.StateChangePayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		a.logger.Error().Err(err).Str("job_id", evt.JobID).Msg("decoding state change")
		return
	}
	if err := a.store.TransitionJob(ctx, evt.JobID, p.From, p.To, ""); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error().Err(err).Str("job_id", evt.JobID).
				Str("to", string(p.To)).Msg("applying state change")
		}
		return
	}
	metrics.RecordTransition(string(p.From), string(p.To))
}

func (a *Aggregator) handleError(ctx context.Context, evt model.Event) {
	a.persist(ctx, evt)

	var p model.ErrorPayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		a.logger.Error().Err(err).Str("job_id", evt.JobID).Msg("decoding error payload")
		return
	}
	if p.Retryable {
		// The queue layer still owns this job; attempts remain.
		return
	}
	if err := a.store.UpdateJobStatus(ctx, evt.JobID, types.StatusFailed, p.Message); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error().Err(err).Str("job_id", evt.JobID).Msg("marking job failed")
		}
		return
	}
	metrics.RecordTransition("", string(types.StatusFailed))
}

func (a *Aggregator) handleMetadata(ctx context.Context, evt model.Event) {
	var patch model.MediaPatch
	if err := json.Unmarshal(evt.Payload, &patch); err != nil {
		a.logger.Error().Err(err).Str("job_id", evt.JobID).Msg("decoding metadata")
		return
	}
	if err := a.store.UpdateMedia(ctx, evt.JobID, patch); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error().Err(err).Str("job_id", evt.JobID).Msg("updating media")
		}
	}
}
