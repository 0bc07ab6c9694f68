// SPDX-License-Identifier: MIT

// Package gateway fans events out to push clients. Clients subscribe
// per job with reference counting, so overlapping subscriptions still
// deliver exactly one copy of each event.
package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vodub/vodub/internal/log"
	"github.com/vodub/vodub/internal/metrics"
	"github.com/vodub/vodub/internal/model"
)

// Broadcast message types sent to every connected client.
const (
	TypeJobAdded     = "job_added"
	TypeJobRemoved   = "job_removed"
	TypeNotification = "notification"
)

// Message is the push envelope. Job-scoped events carry the jobId of
// their source; broadcasts leave it empty.
type Message struct {
	JobID     string          `json:"jobId,omitempty"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

const clientBuffer = 128

type client struct {
	id   string
	ch   chan Message
	subs map[string]int // jobID -> refcount
}

// Hub tracks connected clients and their job subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	logger  *zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		logger:  log.WithComponent("gateway"),
	}
}

// Register admits a new client and returns its id and receive channel.
func (h *Hub) Register() (string, <-chan Message) {
	c := &client{
		id:   uuid.NewString(),
		ch:   make(chan Message, clientBuffer),
		subs: make(map[string]int),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	metrics.SubscriberClients.Inc()
	h.logger.Debug().Str("client_id", c.id).Msg("client connected")
	return c.id, c.ch
}

// Disconnect drops the client and all its subscriptions.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	close(c.ch)
	metrics.SubscriberClients.Dec()
	h.logger.Debug().Str("client_id", clientID).Msg("client disconnected")
}

// Subscribe adds one reference to the client's interest in jobID.
func (h *Hub) Subscribe(clientID, jobID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("unknown client %q", clientID)
	}
	c.subs[jobID]++
	return nil
}

// Unsubscribe removes one reference; the subscription ends when the
// count reaches zero. Unsubscribing below zero is a no-op.
func (h *Hub) Unsubscribe(clientID, jobID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("unknown client %q", clientID)
	}
	if c.subs[jobID] <= 1 {
		delete(c.subs, jobID)
	} else {
		c.subs[jobID]--
	}
	return nil
}

// Forward delivers one event copy to every client subscribed to jobID.
// It satisfies the aggregator's Forwarder contract.
func (h *Hub) Forward(jobID string, evt model.Event) {
	msg := Message{
		JobID:     jobID,
		Type:      string(evt.Type),
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.subs[jobID] == 0 {
			continue
		}
		h.send(c, msg)
	}
}

// BroadcastAll delivers a message to every connected client regardless
// of subscriptions.
func (h *Hub) BroadcastAll(msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("marshaling broadcast")
		return
	}
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.send(c, msg)
	}
}

// send never blocks; slow clients lose messages instead of stalling
// the fan-out.
func (h *Hub) send(c *client, msg Message) {
	select {
	case c.ch <- msg:
		metrics.PushDeliveredTotal.WithLabelValues(msg.Type).Inc()
	default:
		metrics.PushDroppedTotal.Inc()
		h.logger.Warn().Str("client_id", c.id).Str("type", msg.Type).
			Msg("dropping message for slow client")
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
