package services

import (
	"context"
	"testing"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerFixture struct {
	clock   *clock.MockClock
	store   domain.AuctionStore
	cache   *stubCache
	sink    *recordingSink
	manager *AuctionManager
	bids    *BidService
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	clk := clock.NewMockClock(t0)
	store := newMemoryStore(clk)
	cache := newStubCache()
	sink := &recordingSink{}
	log := logger.NewNop()
	return &managerFixture{
		clock:   clk,
		store:   store,
		cache:   cache,
		sink:    sink,
		manager: NewAuctionManager(store, cache, sink, NewBiddingRuleDao(nil), clk, log),
		bids:    NewBidService(store, cache, sink, clk, log),
	}
}

func TestCreateAuction(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	live, err := f.manager.CreateAuction(ctx, CreateAuctionInput{
		SellerID:      "seller",
		ItemName:      "clock",
		StartingPrice: dec(250),
		Duration:      time.Hour,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, live.ID)
	assert.Equal(t, domain.AuctionLive, live.Status)
	assert.Equal(t, t0, live.GoLiveAt)
	assert.True(t, live.BidIncrement.Equal(dec(10)), "tiered default for 100-500")
	assert.True(t, live.Negotiation.IsPending())

	scheduled, err := f.manager.CreateAuction(ctx, CreateAuctionInput{
		SellerID:      "seller",
		StartingPrice: dec(50),
		BidIncrement:  dec(3),
		GoLiveAt:      t0.Add(time.Hour),
		Duration:      time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionScheduled, scheduled.Status)
	assert.True(t, scheduled.BidIncrement.Equal(dec(3)))

	got, err := f.manager.GetAuction(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduled.ID, got.ID)
}

func TestCreateAuction_Validation(t *testing.T) {
	f := newManagerFixture(t)
	subCentReserve := decimal.RequireFromString("99.999")
	for name, in := range map[string]CreateAuctionInput{
		"no seller":          {StartingPrice: dec(10), Duration: time.Hour},
		"negative price":     {SellerID: "s", StartingPrice: dec(-1), Duration: time.Hour},
		"no duration":        {SellerID: "s", StartingPrice: dec(10)},
		"negative reserve":   {SellerID: "s", StartingPrice: dec(10), ReservePrice: decPtr(-5), Duration: time.Hour},
		"negative extend":    {SellerID: "s", StartingPrice: dec(10), Duration: time.Hour, AutoExtend: -time.Second},
		"negative increment": {SellerID: "s", StartingPrice: dec(10), BidIncrement: dec(-1), Duration: time.Hour},
		"sub-cent price":     {SellerID: "s", StartingPrice: decimal.RequireFromString("10.001"), Duration: time.Hour},
		"sub-cent increment": {SellerID: "s", StartingPrice: dec(10), BidIncrement: decimal.RequireFromString("0.005"), Duration: time.Hour},
		"sub-cent reserve":   {SellerID: "s", StartingPrice: dec(10), ReservePrice: &subCentReserve, Duration: time.Hour},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.manager.CreateAuction(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestAdvance_StartsAndEnds(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	scheduled := liveAuction("s1")
	scheduled.Status = domain.AuctionScheduled
	scheduled.GoLiveAt = t0.Add(10 * time.Minute)
	seedAuction(t, f.store, scheduled)
	seedAuction(t, f.store, liveAuction("l1"))

	transitions, err := f.manager.Advance(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	transitions, err = f.manager.Advance(ctx, t0.Add(10*time.Minute))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "s1", transitions[0].AuctionID)
	assert.Equal(t, domain.AuctionLive, transitions[0].To)
	assert.Len(t, f.sink.ofType(domain.EventAuctionStarted), 1)

	f.clock.Set(t0.Add(20 * time.Minute))
	_, err = f.bids.PlaceBid(ctx, PlaceBidRequest{AuctionID: "l1", BidderID: "alice", Amount: dec(150)})
	require.NoError(t, err)

	transitions, err = f.manager.Advance(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.Transition{AuctionID: "l1", From: domain.AuctionLive, To: domain.AuctionEnded, At: t0.Add(time.Hour)}, transitions[0])

	ended := f.sink.ofType(domain.EventAuctionEnded)
	require.Len(t, ended, 1)
	require.NotNil(t, ended[0].WinningBid)
	assert.Equal(t, "alice", ended[0].WinningBid.BidderID)
	assert.True(t, ended[0].ReserveMet)
	assert.Contains(t, f.cache.invalidated, "l1")

	transitions, err = f.manager.Advance(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, transitions, 1, "only s1 is still due")
	assert.Equal(t, "s1", transitions[0].AuctionID)

	transitions, err = f.manager.Advance(ctx, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, transitions)
	assert.Len(t, f.sink.ofType(domain.EventAuctionEnded), 2)
}

func TestAdvance_ScheduledStraightToEnded(t *testing.T) {
	f := newManagerFixture(t)
	a := liveAuction("s1")
	a.Status = domain.AuctionScheduled
	a.ReservePrice = decPtr(300)
	seedAuction(t, f.store, a)

	transitions, err := f.manager.Advance(context.Background(), t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, domain.AuctionLive, transitions[0].To)
	assert.Equal(t, domain.AuctionEnded, transitions[1].To)

	ended := f.sink.ofType(domain.EventAuctionEnded)
	require.Len(t, ended, 1)
	assert.Nil(t, ended[0].WinningBid)
	assert.False(t, ended[0].ReserveMet)

	auction, err := f.store.ReadAuction(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionEnded, auction.Status)
}

func TestAdvance_SameInstantTwiceIsNoOp(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	startsNow := liveAuction("s1")
	startsNow.Status = domain.AuctionScheduled
	startsNow.GoLiveAt = t0.Add(10 * time.Minute)
	overdue := liveAuction("s2")
	overdue.Status = domain.AuctionScheduled
	endsNow := liveAuction("l1")
	stillOpen := liveAuction("l2")
	stillOpen.Duration = 2 * time.Hour
	for _, a := range []*domain.Auction{startsNow, overdue, endsNow, stillOpen} {
		seedAuction(t, f.store, a)
	}

	at := t0.Add(time.Hour)
	first, err := f.manager.Advance(ctx, at)
	require.NoError(t, err)
	require.Len(t, first, 4)

	statuses := map[string]domain.AuctionStatus{}
	for _, id := range []string{"s1", "s2", "l1", "l2"} {
		a, err := f.store.ReadAuction(ctx, id)
		require.NoError(t, err)
		statuses[id] = a.Status
	}
	assert.Equal(t, map[string]domain.AuctionStatus{
		"s1": domain.AuctionLive, "s2": domain.AuctionEnded, "l1": domain.AuctionEnded, "l2": domain.AuctionLive,
	}, statuses)
	started := len(f.sink.ofType(domain.EventAuctionStarted))
	ended := len(f.sink.ofType(domain.EventAuctionEnded))

	second, err := f.manager.Advance(ctx, at)
	require.NoError(t, err)
	assert.Empty(t, second)

	for id, want := range statuses {
		a, err := f.store.ReadAuction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, a.Status, id)
	}
	assert.Len(t, f.sink.ofType(domain.EventAuctionStarted), started)
	assert.Len(t, f.sink.ofType(domain.EventAuctionEnded), ended)
	assert.Equal(t, 2, ended)
}

func TestAdvance_StopsOnCancelledContext(t *testing.T) {
	f := newManagerFixture(t)
	seedAuction(t, f.store, liveAuction("l1"))
	seedAuction(t, f.store, liveAuction("l2"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transitions, err := f.manager.Advance(ctx, t0.Add(time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, transitions)

	transitions, err = f.manager.Advance(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, transitions, 2)
}

func TestCancel(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()
	seedAuction(t, f.store, liveAuction("l1"))

	f.clock.Set(t0.Add(time.Minute))
	_, err := f.bids.PlaceBid(ctx, PlaceBidRequest{AuctionID: "l1", BidderID: "alice", Amount: dec(120)})
	require.NoError(t, err)

	assert.ErrorIs(t, f.manager.Cancel(ctx, "l1", "alice"), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.manager.Cancel(ctx, "missing", "seller"), domain.ErrNotFound)

	require.NoError(t, f.manager.Cancel(ctx, "l1", "seller"))
	cancelled := f.sink.ofType(domain.EventAuctionCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "alice", cancelled[0].PreviousBidderID)
	assert.Contains(t, f.cache.invalidated, "l1")

	assert.ErrorIs(t, f.manager.Cancel(ctx, "l1", "seller"), domain.ErrAuctionNotLive)

	_, err = f.bids.PlaceBid(ctx, PlaceBidRequest{AuctionID: "l1", BidderID: "bob", Amount: dec(200)})
	assert.ErrorIs(t, err, domain.ErrAuctionNotLive)

	transitions, err := f.manager.Advance(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, transitions)
}
