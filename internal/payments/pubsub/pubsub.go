// Package pubsub fans payment status changes out over Redis so that any API
// instance can push them to the client that is waiting on a reference.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront_backend/internal/payments/domain"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "payments:status:"

// Channel returns the Redis channel for reference.
func Channel(reference string) string {
	return channelPrefix + reference
}

// Message is one status change of a payment reference.
type Message struct {
	Reference string              `json:"reference"`
	Status    domain.VerifyStatus `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	SettledAt *time.Time          `json:"settledAt,omitempty"`
}

// Publisher sends status messages.
type Publisher struct {
	rdb redis.UniversalClient
}

// NewPublisher creates a publisher over rdb.
func NewPublisher(rdb redis.UniversalClient) *Publisher {
	return &Publisher{rdb: rdb}
}

// Publish sends msg on its reference channel.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, Channel(msg.Reference), data).Err(); err != nil {
		return fmt.Errorf("publish payment status: %w", err)
	}
	return nil
}

// Subscriber listens for status messages.
type Subscriber struct {
	rdb redis.UniversalClient
}

// NewSubscriber creates a subscriber over rdb.
func NewSubscriber(rdb redis.UniversalClient) *Subscriber {
	return &Subscriber{rdb: rdb}
}

// Subscribe streams messages for reference until ctx is done. The returned
// channel is closed and the Redis subscription torn down when ctx ends. The
// subscription is confirmed before Subscribe returns.
func (s *Subscriber) Subscribe(ctx context.Context, reference string) (<-chan Message, error) {
	ps := s.rdb.Subscribe(ctx, Channel(reference))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe payment status: %w", err)
	}

	out := make(chan Message, 1)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
