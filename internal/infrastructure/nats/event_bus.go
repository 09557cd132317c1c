package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"negotiation-engine/internal/domain"
	"negotiation-engine/pkg/logger"

	"github.com/nats-io/nats.go"
)

// EventBus carries push events over NATS core subjects of the form
// "<prefix>.<kind>.<id>".
type EventBus struct {
	conn   *nats.Conn
	prefix string
	log    logger.Logger
}

func Connect(url string, log logger.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("negotiation-engine"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

func NewEventBus(conn *nats.Conn, prefix string, log logger.Logger) *EventBus {
	return &EventBus{conn: conn, prefix: prefix, log: log}
}

var subjectToken = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

func Subject(prefix string, ref domain.EntityRef) string {
	return prefix + "." + string(ref.Kind) + "." + subjectToken.Replace(ref.ID)
}

func (b *EventBus) Publish(ctx context.Context, event *domain.PushEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.EventID, err)
	}
	for _, ref := range event.Refs() {
		if err := b.conn.Publish(Subject(b.prefix, ref), payload); err != nil {
			return fmt.Errorf("%w: publish %s: %w", domain.ErrUnavailable, event.Type, err)
		}
	}
	return nil
}

// Subscribe delivers messages for ref to handler on the connection's
// dispatch goroutine. The subscription is flushed to the server first.
func (b *EventBus) Subscribe(ctx context.Context, ref domain.EntityRef, handler domain.DeliveryHandler) (domain.Subscription, error) {
	subject := Subject(b.prefix, ref)
	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{ref: ref, cancel: cancel}

	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if err := handler(runCtx, domain.DecodeDelivery(ref, msg.Data)); err != nil {
			b.log.Error("Failed to handle event", "subject", msg.Subject, "error", err)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrUnavailable, subject, err)
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		sub.Unsubscribe()
		cancel()
		return nil, fmt.Errorf("%w: subscribe %s: %w", domain.ErrUnavailable, subject, err)
	}

	s.sub = sub
	b.log.Debug("Subscribed", "subject", subject)
	return s, nil
}

type subscription struct {
	ref    domain.EntityRef
	sub    *nats.Subscription
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	err    error
}

func (s *subscription) Ref() domain.EntityRef {
	return s.ref
}

func (s *subscription) Close() error {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true
	s.err = s.sub.Unsubscribe()
	return s.err
}
