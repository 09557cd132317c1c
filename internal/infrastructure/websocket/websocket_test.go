package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/infrastructure/memory"
	"negotiation-engine/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *fakeSender) Send(message interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, message.(Message))
	return nil
}

func TestSessionNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := NewSessionNotifier(sender)
	ctx := context.Background()

	if err := n.NotifyChain(ctx, &domain.BidChain{ID: "chain-1"}); err != nil {
		t.Fatalf("NotifyChain() error = %v", err)
	}
	if err := n.NotifyListing(ctx, &domain.Listing{ID: "listing-1"}); err != nil {
		t.Fatalf("NotifyListing() error = %v", err)
	}

	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sender.sent))
	}
	if got := sender.sent[0]; got.Type != MessageChain || got.Chain.ID != "chain-1" {
		t.Errorf("first message = %+v, want chain chain-1", got)
	}
	if got := sender.sent[1]; got.Type != MessageListing || got.Listing.ID != "listing-1" {
		t.Errorf("second message = %+v, want listing listing-1", got)
	}

	sender.err = errors.New("broken pipe")
	if err := n.NotifyChain(ctx, &domain.BidChain{ID: "chain-1"}); err == nil {
		t.Error("NotifyChain() error = nil, want send failure")
	}
}

type fakeSession struct {
	id     string
	closed int
}

func (s *fakeSession) ID() string { return s.id }
func (s *fakeSession) Resync(ctx context.Context) error { return nil }
func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeScheduler struct {
	registered map[string]domain.Resyncer
}

func (s *fakeScheduler) Register(name string, r domain.Resyncer) { s.registered[name] = r }
func (s *fakeScheduler) Unregister(name string) { delete(s.registered, name) }
func (s *fakeScheduler) Start(ctx context.Context) error { return nil }
func (s *fakeScheduler) Stop() error { return nil }

func TestSessionManagerLifecycle(t *testing.T) {
	sched := &fakeScheduler{registered: make(map[string]domain.Resyncer)}
	sm := NewSessionManager(sched, logger.NewNop())

	a := &fakeSession{id: "session-a"}
	b := &fakeSession{id: "session-b"}
	sm.Register("user-1", a, nil)
	sm.Register("user-1", b, nil)

	if sm.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", sm.Count())
	}
	if len(sched.registered) != 2 {
		t.Errorf("scheduler holds %d resyncers, want 2", len(sched.registered))
	}
	if got := sm.SessionsForUser("user-1"); len(got) != 2 {
		t.Errorf("SessionsForUser() = %v, want 2 sessions", got)
	}

	if err := sm.Unregister("session-a"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if err := sm.Unregister("session-a"); err != nil {
		t.Fatalf("second Unregister() error = %v", err)
	}
	if a.closed != 1 {
		t.Errorf("session closed %d times, want 1", a.closed)
	}
	if _, ok := sched.registered["session-a"]; ok {
		t.Error("scheduler still holds unregistered session")
	}
	if _, ok := sm.Get("session-a"); ok {
		t.Error("Get() found unregistered session")
	}

	if err := sm.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll() error = %v", err)
	}
	if sm.Count() != 0 || b.closed != 1 {
		t.Errorf("after CloseAll: Count() = %d, b closed %d times", sm.Count(), b.closed)
	}
	if got := sm.SessionsForUser("user-1"); len(got) != 0 {
		t.Errorf("SessionsForUser() = %v, want none", got)
	}
}

type testFetcher struct {
	*memory.ChainRepository
	*memory.ListingStore
}

func newTestServer(t *testing.T) (*httptest.Server, *SessionManager, *memory.Bus) {
	t.Helper()
	ctx := context.Background()

	chains := memory.NewChainRepository()
	listings := memory.NewListingStore()
	if err := listings.SaveListing(ctx, &domain.Listing{
		ID:           "listing-1",
		Kind:         domain.ListingNegotiated,
		CurrentPrice: decimal.NewFromInt(100),
		Status:       domain.ListingActive,
	}); err != nil {
		t.Fatalf("SaveListing() error = %v", err)
	}
	if err := chains.CreateChain(ctx, &domain.BidChain{
		ID:          "chain-1",
		ListingID:   "listing-1",
		RequesterID: "user-1",
		CreatedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("CreateChain() error = %v", err)
	}

	bus := memory.NewBus()
	sessions := NewSessionManager(nil, logger.NewNop())
	h := NewWebSocketHandler(bus, testFetcher{chains, listings}, sessions, logger.NewNop())

	r := mux.NewRouter()
	r.HandleFunc("/ws/chains/{chainID}", h.HandleChain)
	r.HandleFunc("/ws/listings/{listingID}", h.HandleListing)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, sessions, bus
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestHandleChainStreamsState(t *testing.T) {
	srv, sessions, bus := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chains/chain-1?user_id=user-1"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	if msg := readMessage(t, conn); msg.Type != MessageChain || msg.Chain == nil || msg.Chain.ID != "chain-1" {
		t.Fatalf("first message = %+v, want chain-1 snapshot", msg)
	}
	if msg := readMessage(t, conn); msg.Type != MessageListing || msg.Listing == nil || msg.Listing.ID != "listing-1" {
		t.Fatalf("second message = %+v, want listing-1 snapshot", msg)
	}

	if err := conn.WriteJSON(clientMessage{Type: "ping"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessagePong {
		t.Fatalf("reply = %+v, want pong", msg)
	}

	price := decimal.NewFromInt(150)
	listing := &domain.Listing{ID: "listing-1", CurrentPrice: price}
	if err := bus.Publish(context.Background(), domain.NewListingPriceChanged("evt-1", listing, time.Now())); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != MessageListing || !msg.Listing.CurrentPrice.Equal(price) {
		t.Fatalf("pushed message = %+v, want listing at 150", msg)
	}

	if err := conn.WriteJSON(clientMessage{Type: "follow", Kind: "auction"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageError {
		t.Fatalf("reply = %+v, want error", msg)
	}

	if sessions.Count() != 1 {
		t.Errorf("Count() = %d, want 1", sessions.Count())
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sessions.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sessions.Count() != 0 {
		t.Errorf("Count() = %d after disconnect, want 0", sessions.Count())
	}
	if n := bus.Subscribers(domain.ChainRef("chain-1")); n != 0 {
		t.Errorf("chain still has %d subscribers after disconnect", n)
	}
}

func TestHandleRejectsUnknownEntities(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		path string
	}{
		{name: "chain", path: "/ws/chains/missing"},
		{name: "listing", path: "/ws/listings/missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET error = %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("status = %d, want 404", resp.StatusCode)
			}
		})
	}
}
