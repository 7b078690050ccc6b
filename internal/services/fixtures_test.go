package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/internal/infrastructure/memory"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/retry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newMemoryStore(clk clock.Clock) *memory.AuctionStore {
	policy := retry.Policy{MaxRetries: 5, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	return memory.NewAuctionStore(2*time.Second, policy, clk, logger.NewNop())
}

// liveAuction is 100 start, 10 increment, one hour from t0.
func liveAuction(id string) *domain.Auction {
	return &domain.Auction{
		ID:            id,
		SellerID:      "seller",
		ItemName:      "vase",
		StartingPrice: dec(100),
		BidIncrement:  dec(10),
		GoLiveAt:      t0,
		Duration:      time.Hour,
		Status:        domain.AuctionLive,
		Negotiation:   domain.PendingNegotiation(),
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func seedAuction(t *testing.T, store domain.AuctionStore, auction *domain.Auction) {
	t.Helper()
	require.NoError(t, store.CreateAuction(context.Background(), auction))
}

type recordingSink struct {
	mu     sync.Mutex
	events []*domain.AuctionEvent
	sales  []*domain.SaleConfirmation
	err    error
}

func (s *recordingSink) Emit(ctx context.Context, event *domain.AuctionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) ConfirmSale(ctx context.Context, confirmation *domain.SaleConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sales = append(s.sales, confirmation)
	return s.err
}

func (s *recordingSink) ofType(kind domain.AuctionEventType) []*domain.AuctionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuctionEvent
	for _, e := range s.events {
		if e.Type == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events, s.sales = nil, nil
}

type stubCache struct {
	mu          sync.Mutex
	amounts     map[string]decimal.Decimal
	getErr      error
	setErr      error
	invalidated []string
}

func newStubCache() *stubCache {
	return &stubCache{amounts: make(map[string]decimal.Decimal)}
}

func (c *stubCache) Get(ctx context.Context, auctionID string) (decimal.Decimal, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return decimal.Zero, false, c.getErr
	}
	v, ok := c.amounts[auctionID]
	return v, ok, nil
}

func (c *stubCache) Set(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	if cur, ok := c.amounts[auctionID]; !ok || amount.GreaterThan(cur) {
		c.amounts[auctionID] = amount
	}
	return nil
}

func (c *stubCache) Invalidate(ctx context.Context, auctionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.amounts, auctionID)
	c.invalidated = append(c.invalidated, auctionID)
	return nil
}

// countingStore counts authoritative transactions.
type countingStore struct {
	domain.AuctionStore
	txs atomic.Int64
}

func (s *countingStore) WithinAuction(ctx context.Context, auctionID string,
	fn func(ctx context.Context, tx domain.AuctionTx) error) error {
	s.txs.Add(1)
	return s.AuctionStore.WithinAuction(ctx, auctionID, fn)
}

type bidFixture struct {
	clock *clock.MockClock
	store *countingStore
	cache *stubCache
	sink  *recordingSink
	bids  *BidService
}

func newBidFixture(t *testing.T, auctions ...*domain.Auction) *bidFixture {
	t.Helper()
	clk := clock.NewMockClock(t0.Add(time.Minute))
	store := &countingStore{AuctionStore: newMemoryStore(clk)}
	for _, a := range auctions {
		seedAuction(t, store, a)
	}
	cache := newStubCache()
	sink := &recordingSink{}
	return &bidFixture{
		clock: clk,
		store: store,
		cache: cache,
		sink:  sink,
		bids:  NewBidService(store, cache, sink, clk, logger.NewNop()),
	}
}

func (f *bidFixture) place(bidder string, amount int64, max *decimal.Decimal) (*AcceptedBid, error) {
	return f.bids.PlaceBid(context.Background(), PlaceBidRequest{
		AuctionID: "a1",
		BidderID:  bidder,
		Amount:    dec(amount),
		MaxAmount: max,
		Source:    domain.SourceWeb,
	})
}
