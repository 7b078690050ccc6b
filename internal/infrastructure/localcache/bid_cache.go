package localcache

import (
	"context"
	"sync"
	"time"

	"auction-engine/pkg/clock"

	"github.com/shopspring/decimal"
)

type entry struct {
	amount    decimal.Decimal
	expiresAt time.Time
}

// BidCache is an in-process highest-bid cache for single-instance deployments.
type BidCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	clock   clock.Clock
}

func NewBidCache(ttl time.Duration, clk clock.Clock) *BidCache {
	return &BidCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		clock:   clk,
	}
}

func (c *BidCache) Get(ctx context.Context, auctionID string) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[auctionID]
	c.mu.RUnlock()

	if !ok || !c.clock.Now().Before(e.expiresAt) {
		return decimal.Zero, false, nil
	}
	return e.amount, true, nil
}

func (c *BidCache) Set(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, ok := c.entries[auctionID]
	if ok && now.Before(e.expiresAt) && !amount.GreaterThan(e.amount) {
		e.expiresAt = now.Add(c.ttl)
		c.entries[auctionID] = e
		return nil
	}
	c.entries[auctionID] = entry{amount: amount, expiresAt: now.Add(c.ttl)}
	return nil
}

func (c *BidCache) Invalidate(ctx context.Context, auctionID string) error {
	c.mu.Lock()
	delete(c.entries, auctionID)
	c.mu.Unlock()
	return nil
}

// NopCache never holds anything, sending every bid down the authoritative path.
type NopCache struct{}

func (NopCache) Get(ctx context.Context, auctionID string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NopCache) Set(ctx context.Context, auctionID string, amount decimal.Decimal) error {
	return nil
}

func (NopCache) Invalidate(ctx context.Context, auctionID string) error {
	return nil
}
