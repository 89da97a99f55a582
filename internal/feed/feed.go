// Package feed carries bookmark change events over Redis Pub/Sub.
//
// Every owner has its own channel, so a subscriber only ever sees rows it owns.
// Delivery is at-least-once from the reader's point of view and carries no ordering
// guarantee relative to the acknowledgement of the write that produced the event.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
)

// KeyPrefixChannel is the prefix for per-owner change-feed channels
const KeyPrefixChannel = "smartmarks:feed:"

// eventBuffer is how many decoded events may wait for the consumer.
const eventBuffer = 64

// Channel returns the Pub/Sub channel for an owner
func Channel(ownerID string) string {
	return KeyPrefixChannel + ownerID
}

// Publisher emits change events
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a publisher on an existing client
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends ev on the owner's channel.
func (p *Publisher) Publish(ctx context.Context, ownerID string, ev domain.ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("refusing to publish: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(ownerID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}
	return nil
}

// Subscriber opens change-feed subscriptions
type Subscriber struct {
	client *redis.Client
	logger logger.Logger
}

// NewSubscriber creates a subscriber on an existing client
func NewSubscriber(client *redis.Client, log logger.Logger) *Subscriber {
	return &Subscriber{client: client, logger: log}
}

// Subscription is a live change-feed for one owner.
// It must be closed by whoever opened it.
type Subscription struct {
	pubsub *redis.PubSub
	events chan domain.ChangeEvent
	done   chan struct{}
	logger logger.Logger

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Subscribe opens the owner's channel and waits for the server to confirm it,
// so no event published after Subscribe returns can be missed.
func (s *Subscriber) Subscribe(ctx context.Context, ownerID string) (*Subscription, error) {
	channel := Channel(ownerID)
	pubsub := s.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan domain.ChangeEvent, eventBuffer),
		done:   make(chan struct{}),
		logger: s.logger.With(logger.String("channel", channel)),
	}

	sub.wg.Add(1)
	go sub.pump()

	return sub, nil
}

// Events yields decoded change events.
// The channel is closed when the subscription is closed or the connection is lost.
func (s *Subscription) Events() <-chan domain.ChangeEvent {
	return s.events
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.pubsub.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

func (s *Subscription) pump() {
	defer s.wg.Done()
	defer close(s.events)

	msgs := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				select {
				case <-s.done:
				default:
					s.logger.Warn("change-feed closed unexpectedly",
						logger.Error(domain.ErrSubscriptionDropped))
				}
				return
			}

			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				s.logger.Warn("skipping undecodable change event", logger.Error(err))
				continue
			}

			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// Decode parses and validates a change event payload.
func Decode(payload []byte) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to unmarshal change event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return domain.ChangeEvent{}, err
	}
	return ev, nil
}
