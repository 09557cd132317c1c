package redis

import (
	"context"
	"fmt"
	"sync"

	"negotiation-engine/internal/domain"
	"negotiation-engine/pkg/logger"

	"github.com/go-redis/redis/v8"
)

type EventSubscriber struct {
	client *redis.Client
	prefix string
	log    logger.Logger
}

func NewEventSubscriber(client *redis.Client, prefix string, log logger.Logger) *EventSubscriber {
	return &EventSubscriber{
		client: client,
		prefix: prefix,
		log:    log,
	}
}

// Subscribe starts delivering messages published for ref to handler. The
// subscription is confirmed before Subscribe returns.
func (s *EventSubscriber) Subscribe(ctx context.Context, ref domain.EntityRef, handler domain.DeliveryHandler) (domain.Subscription, error) {
	channel := channelName(s.prefix, ref)
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrUnavailable, channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		ref:    ref,
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.listen(runCtx, sub, handler)

	s.log.Debug("Subscribed", "channel", channel)
	return sub, nil
}

func (s *EventSubscriber) listen(ctx context.Context, sub *subscription, handler domain.DeliveryHandler) {
	defer close(sub.done)
	ch := sub.pubsub.Channel()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := handler(ctx, domain.DecodeDelivery(sub.ref, []byte(msg.Payload))); err != nil {
				s.log.Error("Failed to handle event", "channel", msg.Channel, "error", err)
			}

		case <-ctx.Done():
			return
		}
	}
}

type subscription struct {
	ref    domain.EntityRef
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *subscription) Ref() domain.EntityRef {
	return s.ref
}

// Close stops the listener and waits for an in-flight handler to return.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}
