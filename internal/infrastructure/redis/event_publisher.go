package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"negotiation-engine/internal/domain"

	"github.com/go-redis/redis/v8"
)

// EventPublisher publishes push events as JSON on every channel the event is
// about. A chain update reaches both the chain's and the listing's readers.
type EventPublisher struct {
	client *redis.Client
	prefix string
}

func NewEventPublisher(client *redis.Client, prefix string) *EventPublisher {
	return &EventPublisher{client: client, prefix: prefix}
}

func (p *EventPublisher) Publish(ctx context.Context, event *domain.PushEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.EventID, err)
	}

	pipe := p.client.Pipeline()
	for _, ref := range event.Refs() {
		pipe.Publish(ctx, channelName(p.prefix, ref), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: publish %s: %w", domain.ErrUnavailable, event.Type, err)
	}
	return nil
}
