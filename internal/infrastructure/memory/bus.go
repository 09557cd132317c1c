package memory

import (
	"context"
	"encoding/json"
	"sync"

	"negotiation-engine/internal/domain"
)

// Bus is an in-process push channel. Events are encoded the same way the
// network transports encode them, so subscribers see identical deliveries.
type Bus struct {
	mu   sync.RWMutex
	subs map[domain.EntityRef]map[*busSubscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[domain.EntityRef]map[*busSubscription]struct{})}
}

type busSubscription struct {
	bus     *Bus
	ref     domain.EntityRef
	handler domain.DeliveryHandler
	// mu is held while the handler runs so Close waits for it.
	mu     sync.Mutex
	closed bool
}

func (b *Bus) Publish(ctx context.Context, event *domain.PushEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	for _, ref := range event.Refs() {
		b.PublishRaw(ctx, ref, payload)
	}
	return nil
}

// PublishRaw delivers payload as-is to subscribers of ref.
func (b *Bus) PublishRaw(ctx context.Context, ref domain.EntityRef, payload []byte) {
	b.mu.RLock()
	targets := make([]*busSubscription, 0, len(b.subs[ref]))
	for s := range b.subs[ref] {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.deliver(ctx, payload)
	}
}

func (b *Bus) Subscribe(ctx context.Context, ref domain.EntityRef, handler domain.DeliveryHandler) (domain.Subscription, error) {
	s := &busSubscription{bus: b, ref: ref, handler: handler}
	b.mu.Lock()
	if b.subs[ref] == nil {
		b.subs[ref] = make(map[*busSubscription]struct{})
	}
	b.subs[ref][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Subscribers returns the number of live subscriptions for ref.
func (b *Bus) Subscribers(ref domain.EntityRef) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ref])
}

func (s *busSubscription) deliver(ctx context.Context, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handler(ctx, domain.DecodeDelivery(s.ref, payload))
}

func (s *busSubscription) Ref() domain.EntityRef {
	return s.ref
}

func (s *busSubscription) Close() error {
	s.bus.mu.Lock()
	delete(s.bus.subs[s.ref], s)
	if len(s.bus.subs[s.ref]) == 0 {
		delete(s.bus.subs, s.ref)
	}
	s.bus.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
