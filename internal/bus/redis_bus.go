// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/model"
)

// RedisBus carries events over Redis Pub/Sub. The envelope is the
// camelCase JSON the worker fleet publishes on events:* channels.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus wraps an existing Redis client. The caller owns the
// client's lifetime; Close here only detaches.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, evt model.Event) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, raw).Err(); err != nil {
		metrics.IncBusDrop(channel, "publish_error")
		return fmt.Errorf("publish channel %q: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscriber, error) {
	ps := b.client.Subscribe(ctx, channels...)
	// Force the subscription onto the wire before returning so callers
	// can publish immediately after Subscribe.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	s := &redisSub{
		ps: ps,
		ch: make(chan model.Event, 64),
	}
	go s.pump(ps.Channel())
	return s, nil
}

func (b *RedisBus) Close() error {
	return nil
}

type redisSub struct {
	ps   *redis.PubSub
	ch   chan model.Event
	once sync.Once
}

func (s *redisSub) pump(in <-chan *redis.Message) {
	defer close(s.ch)
	for msg := range in {
		var evt model.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			metrics.IncBusDrop(msg.Channel, "decode_error")
			log.L().Warn().Err(err).Str("channel", msg.Channel).
				Msg("dropping undecodable bus message")
			continue
		}
		s.ch <- evt
	}
}

func (s *redisSub) C() <-chan model.Event {
	return s.ch
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	return err
}

var _ Bus = (*RedisBus)(nil)
