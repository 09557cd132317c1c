package websocket

import (
	"context"

	"negotiation-engine/internal/domain"
)

type Sender interface {
	Send(message interface{}) error
}

// Message is the envelope written to clients.
type Message struct {
	Type    string           `json:"type"`
	Chain   *domain.BidChain `json:"chain,omitempty"`
	Listing *domain.Listing  `json:"listing,omitempty"`
	Error   string           `json:"error,omitempty"`
}

const (
	MessageChain   = "chain"
	MessageListing = "listing"
	MessagePong    = "pong"
	MessageError   = "error"
)

// SessionNotifier forwards reconciled state of one session to its client.
type SessionNotifier struct {
	sender Sender
}

func NewSessionNotifier(sender Sender) *SessionNotifier {
	return &SessionNotifier{sender: sender}
}

func (n *SessionNotifier) NotifyChain(ctx context.Context, chain *domain.BidChain) error {
	return n.sender.Send(Message{Type: MessageChain, Chain: chain})
}

func (n *SessionNotifier) NotifyListing(ctx context.Context, listing *domain.Listing) error {
	return n.sender.Send(Message{Type: MessageListing, Listing: listing})
}
