package services

import (
	"context"
	"sync"
	"testing"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnections struct {
	mu         sync.Mutex
	broadcasts map[string][]map[string]interface{}
	notified   map[string][]map[string]interface{}
	closed     []string
}

func newFakeConnections() *fakeConnections {
	return &fakeConnections{
		broadcasts: make(map[string][]map[string]interface{}),
		notified:   make(map[string][]map[string]interface{}),
	}
}

func (f *fakeConnections) RegisterConnection(userID, auctionID string, conn domain.WebSocketConnection) error {
	return nil
}

func (f *fakeConnections) UnregisterConnection(conn domain.WebSocketConnection) error { return nil }

func (f *fakeConnections) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	return nil
}

func (f *fakeConnections) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	return nil
}

func (f *fakeConnections) BroadcastToAuction(auctionID string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts[auctionID] = append(f.broadcasts[auctionID], message.(map[string]interface{}))
	return nil
}

func (f *fakeConnections) NotifyUser(userID string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified[userID] = append(f.notified[userID], message.(map[string]interface{}))
	return nil
}

func (f *fakeConnections) CloseAndUnregisterConnections(auctionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, auctionID)
	return nil
}

// connNotifier adapts fakeConnections to the context-taking notifier contracts.
type connNotifier struct{ conns *fakeConnections }

func (n connNotifier) NotifyUser(ctx context.Context, userID string, message interface{}) error {
	return n.conns.NotifyUser(userID, message)
}

func (n connNotifier) BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error {
	return n.conns.BroadcastToAuction(auctionID, message)
}

func TestEventListener(t *testing.T) {
	conns := newFakeConnections()
	cache := newStubCache()
	notifier := connNotifier{conns: conns}
	el := NewEventListener(cache, conns, notifier, notifier, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, el.HandleEvent(ctx, &domain.AuctionEvent{Type: domain.EventNewBid, AuctionID: "a1", BidderID: "alice", Amount: dec(150)}))
	cached, ok, _ := cache.Get(ctx, "a1")
	require.True(t, ok)
	assert.True(t, cached.Equal(dec(150)))
	require.Len(t, conns.broadcasts["a1"], 1)
	assert.Equal(t, "bid_update", conns.broadcasts["a1"][0]["type"])

	require.NoError(t, el.HandleEvent(ctx, &domain.AuctionEvent{Type: domain.EventOutbid, AuctionID: "a1", BidderID: "bob", Amount: dec(150)}))
	require.Len(t, conns.notified["bob"], 1)
	assert.Equal(t, "outbid", conns.notified["bob"][0]["type"])

	require.NoError(t, el.HandleEvent(ctx, &domain.AuctionEvent{Type: domain.EventDecisionMade, AuctionID: "a1", BidderID: "alice", Decision: domain.DecisionAccepted}))
	require.Len(t, conns.notified["alice"], 1)
	assert.Equal(t, domain.DecisionAccepted, conns.notified["alice"][0]["decision"])

	require.NoError(t, el.HandleEvent(ctx, &domain.AuctionEvent{
		Type:       domain.EventAuctionEnded,
		AuctionID:  "a1",
		WinningBid: &domain.WinningBid{BidderID: "alice", Amount: dec(150)},
	}))
	_, ok, _ = cache.Get(ctx, "a1")
	assert.False(t, ok)
	assert.Equal(t, []string{"a1"}, conns.closed)
	last := conns.broadcasts["a1"][len(conns.broadcasts["a1"])-1]
	assert.Equal(t, "auction_ended", last["type"])
	assert.Equal(t, "alice", last["winner_id"])

	assert.Error(t, el.HandleEvent(ctx, &domain.AuctionEvent{Type: "mystery", AuctionID: "a1"}))
}
