// Package realtime fans lead and bulk-operation changes out over Redis
// pub/sub so every server instance can stream them to dashboards.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
)

// Topic is one event stream
type Topic string

const (
	TopicLeads Topic = "lead_events"
	TopicBulk  Topic = "bulk_events"
)

const subscriptionBuffer = 32

// Channel returns the Redis channel for topic in env
func Channel(env string, topic Topic) string {
	return fmt.Sprintf("backoffice:%s:%s", env, topic)
}

// Event is one message received from a topic. Data is the published JSON.
type Event struct {
	Topic Topic           `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Hub publishes and subscribes to the environment's event channels
type Hub struct {
	rdb    redis.UniversalClient
	env    string
	logger *zap.Logger
}

// NewHub creates a hub namespaced by env
func NewHub(rdb redis.UniversalClient, env string, logger *zap.Logger) (*Hub, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	if env == "" {
		return nil, errors.New("env cannot be empty")
	}
	return &Hub{rdb: rdb, env: env, logger: logging.OrNop(logger)}, nil
}

// Ping verifies Redis connectivity
func (h *Hub) Ping(ctx context.Context) error {
	return h.rdb.Ping(ctx).Err()
}

// PublishLead publishes a lead change
func (h *Hub) PublishLead(ctx context.Context, event model.LeadEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	return h.publish(ctx, TopicLeads, event)
}

// PublishBulk publishes bulk operation progress
func (h *Hub) PublishBulk(ctx context.Context, event model.BulkEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	return h.publish(ctx, TopicBulk, event)
}

func (h *Hub) publish(ctx context.Context, topic Topic, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	if err := h.rdb.Publish(ctx, Channel(h.env, topic), payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// Subscription is an active subscription to one or more topics.
// Close must be called when done.
type Subscription struct {
	events <-chan Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events is closed when the subscription ends
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Errors carries malformed payloads. The subscription keeps running after one.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe listens on topics (all topics when none given). It returns once
// Redis has confirmed the subscription. Delivery is at-most-once.
func (h *Hub) Subscribe(ctx context.Context, topics ...Topic) (*Subscription, error) {
	if len(topics) == 0 {
		topics = []Topic{TopicLeads, TopicBulk}
	}
	byChannel := make(map[string]Topic, len(topics))
	channels := make([]string, 0, len(topics))
	for _, t := range topics {
		ch := Channel(h.env, t)
		byChannel[ch] = t
		channels = append(channels, ch)
	}

	pubsub := h.rdb.Subscribe(ctx, channels...)
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("subscribe %v: %w", channels, err)
		}
	}

	events := make(chan Event, subscriptionBuffer)
	errs := make(chan error, subscriptionBuffer)
	subCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		defer func() { _ = pubsub.Close() }()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if !json.Valid([]byte(msg.Payload)) {
					select {
					case errs <- fmt.Errorf("malformed event on %s", msg.Channel):
					case <-subCtx.Done():
						return
					}
					continue
				}
				select {
				case events <- Event{Topic: byChannel[msg.Channel], Data: json.RawMessage(msg.Payload)}:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	h.logger.Debug("realtime subscription started", zap.Strings("channels", channels))
	return &Subscription{events: events, errors: errs, cancel: cancel}, nil
}
