// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/model"
)

// MemoryBus is an in-process pub/sub used for unit tests and local
// prototyping. It is not durable.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, evt model.Event) error {
	if err := ctx.Err(); err != nil {
		metrics.IncBusDrop(channel, "context_done")
		return fmt.Errorf("publish channel %q: %w", channel, err)
	}

	b.mu.RLock()
	subs := append([]*memSub(nil), b.subs[channel]...)
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.deliver(evt) {
			// Slow subscriber: drop rather than stall the publisher.
			metrics.IncBusDrop(channel, "full")
			log.L().Warn().Str("channel", channel).Str("job_id", evt.JobID).
				Msg("memory bus dropped message for slow subscriber")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (Subscriber, error) {
	s := &memSub{
		b:        b,
		channels: channels,
		ch:       make(chan model.Event, 64),
	}

	b.mu.Lock()
	for _, c := range channels {
		b.subs[c] = append(b.subs[c], s)
	}
	b.mu.Unlock()

	return s, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*memSub)
	return nil
}

type memSub struct {
	b        *MemoryBus
	channels []string

	mu     sync.Mutex
	ch     chan model.Event
	closed bool
}

func (s *memSub) C() <-chan model.Event {
	return s.ch
}

// deliver hands evt to the subscriber without blocking. The send and
// close(s.ch) are serialized on s.mu so a publish racing a Close cannot
// hit a closed channel.
func (s *memSub) deliver(evt model.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *memSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.b.mu.Lock()
	for _, c := range s.channels {
		lst := s.b.subs[c]
		out := lst[:0]
		for _, sub := range lst {
			if sub != s {
				out = append(out, sub)
			}
		}
		if len(out) == 0 {
			delete(s.b.subs, c)
		} else {
			s.b.subs[c] = out
		}
	}
	s.b.mu.Unlock()
	return nil
}

var _ Bus = (*MemoryBus)(nil)
