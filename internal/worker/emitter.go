// SPDX-License-Identifier: MIT

package worker

import (
	"context"

	"github.com/vodub/vodub/internal/bus"
	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/queue"
	"github.com/vodub/vodub/internal/types"
)

// Emitter publishes worker events on their bus channels. Publish
// failures are logged, never fatal: the bus is best-effort by contract.
type Emitter struct {
	bus bus.Bus
}

func NewEmitter(b bus.Bus) *Emitter {
	return &Emitter{bus: b}
}

func (e *Emitter) publish(ctx context.Context, jobID string, kind types.EventKind, payload any) {
	// Events about a timed-out or cancelled attempt still have to reach
	// the bus, so the publish itself outlives the attempt context.
	ctx = context.WithoutCancel(ctx)
	evt, err := model.NewEvent(jobID, kind, payload)
	if err != nil {
		log.FromContext(ctx).Error().Err(err).Str("job_id", jobID).
			Str("kind", string(kind)).Msg("building event")
		return
	}
	if err := e.bus.Publish(ctx, bus.ChannelFor(kind), evt); err != nil {
		log.FromContext(ctx).Warn().Err(err).Str("job_id", jobID).
			Str("kind", string(kind)).Msg("publishing event")
	}
}

// State announces one state machine transition.
func (e *Emitter) State(ctx context.Context, jobID string, from, to types.JobStatus) {
	e.publish(ctx, jobID, types.EventStateChange, model.StateChangePayload{From: from, To: to})
}

// Progress reports stage progress.
func (e *Emitter) Progress(ctx context.Context, jobID string, p model.ProgressPayload) {
	e.publish(ctx, jobID, types.EventProgress, p)
}

// Log forwards a worker log line.
func (e *Emitter) Log(ctx context.Context, jobID, level, message string) {
	e.publish(ctx, jobID, types.EventLog, model.LogPayload{Level: level, Message: message})
}

// Error publishes a classified failure.
func (e *Emitter) Error(ctx context.Context, jobID string, werr *Error) {
	e.publish(ctx, jobID, types.EventError, model.ErrorPayload{
		Code:      werr.Code,
		Message:   werr.Error(),
		Retryable: werr.Retryable,
	})
}

// Metadata publishes a partial media update.
func (e *Emitter) Metadata(ctx context.Context, jobID string, patch model.MediaPatch) {
	e.publish(ctx, jobID, types.EventMetadata, patch)
}

// ExhaustedPublisher emits the final non-retryable error when a queue
// entry runs out of attempts, which moves the job to failed through
// the aggregator.
func ExhaustedPublisher(emit *Emitter) queue.ExhaustedFunc {
	return func(ctx context.Context, e queue.Entry, err error) {
		werr := Classify(err)
		emit.Error(ctx, e.ID, &Error{
			Code:      werr.Code,
			Message:   werr.Message,
			Retryable: false,
			Cause:     werr.Cause,
		})
	}
}
