// SPDX-License-Identifier: MIT

// Package bus provides the pub/sub event fabric between the worker
// fleet and the aggregator. Delivery is at-most-once and best-effort;
// durability comes from the aggregator writing to the store, never from
// the bus itself.
package bus

import (
	"context"

	"github.com/vodub/vodub/internal/model"
	"github.com/vodub/vodub/internal/types"
)

// Channel names shared with the worker fleet.
const (
	ChannelProgress = "events:progress"
	ChannelState    = "events:state"
	ChannelLog      = "events:log"
	ChannelError    = "events:error"
	ChannelMetadata = "events:metadata"
)

// AllChannels lists every bus channel, in aggregator subscription order.
func AllChannels() []string {
	return []string{ChannelProgress, ChannelState, ChannelLog, ChannelError, ChannelMetadata}
}

// ChannelFor maps an event kind to its bus channel.
func ChannelFor(kind types.EventKind) string {
	switch kind {
	case types.EventProgress:
		return ChannelProgress
	case types.EventStateChange:
		return ChannelState
	case types.EventLog:
		return ChannelLog
	case types.EventError:
		return ChannelError
	case types.EventMetadata:
		return ChannelMetadata
	default:
		return ChannelLog
	}
}

// Subscriber is a handle on one subscription covering one or more
// channels. Close releases the subscription and closes C.
type Subscriber interface {
	C() <-chan model.Event
	Close() error
}

// Bus is the pub/sub contract.
type Bus interface {
	Publish(ctx context.Context, channel string, evt model.Event) error
	Subscribe(ctx context.Context, channels ...string) (Subscriber, error)
	Close() error
}
