package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"
	"auction-engine/pkg/retry"
	"auction-engine/pkg/utils"

	"github.com/cockroachdb/errors"
)

var errLockTimeout = errors.New("timed out waiting for auction lock")

// AuctionStore keeps auctions in process. Each auction has a one-slot lock
// channel standing in for a row lock, and transactions work on copies that
// replace the stored state only when fn succeeds.
type AuctionStore struct {
	mu          sync.RWMutex
	auctions    map[string]*domain.Auction
	bids        map[string][]*domain.Bid
	locks       map[string]chan struct{}
	lockTimeout time.Duration
	policy      retry.Policy
	clock       clock.Clock
	log         logger.Logger
}

func NewAuctionStore(lockTimeout time.Duration, policy retry.Policy, clk clock.Clock, log logger.Logger) *AuctionStore {
	return &AuctionStore{
		auctions:    make(map[string]*domain.Auction),
		bids:        make(map[string][]*domain.Bid),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
		policy:      policy,
		clock:       clk,
		log:         log,
	}
}

func (s *AuctionStore) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if auction.ID == "" {
		auction.ID = utils.GenerateID("auction")
	}
	if _, exists := s.auctions[auction.ID]; exists {
		return errors.Newf("auction %s already exists", auction.ID)
	}

	s.auctions[auction.ID] = auction.Clone()
	s.locks[auction.ID] = make(chan struct{}, 1)
	return nil
}

func (s *AuctionStore) ReadAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auction, ok := s.auctions[auctionID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "auction %s", auctionID)
	}
	return auction.Clone(), nil
}

func (s *AuctionStore) ListBids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.auctions[auctionID]; !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "auction %s", auctionID)
	}
	return cloneBids(s.bids[auctionID]), nil
}

func (s *AuctionStore) DueForTransition(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.filter(func(a *domain.Auction) bool {
		switch a.Status {
		case domain.AuctionScheduled:
			return !now.Before(a.GoLiveAt)
		case domain.AuctionLive:
			return !now.Before(a.EndsAt())
		}
		return false
	}), nil
}

func (s *AuctionStore) ExpiredCounterOffers(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.filter(func(a *domain.Auction) bool {
		offer, ok := a.Negotiation.CounterOffer()
		return ok && a.Status == domain.AuctionEnded && !now.Before(offer.ExpiresAt)
	}), nil
}

func (s *AuctionStore) filter(match func(a *domain.Auction) bool) []*domain.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Auction
	for _, a := range s.auctions {
		if match(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GoLiveAt.Equal(out[j].GoLiveAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].GoLiveAt.Before(out[j].GoLiveAt)
	})
	return out
}

func (s *AuctionStore) WithinAuction(ctx context.Context, auctionID string,
	fn func(ctx context.Context, tx domain.AuctionTx) error) error {
	s.mu.RLock()
	lock, ok := s.locks[auctionID]
	s.mu.RUnlock()
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "auction %s", auctionID)
	}

	isTimeout := func(err error) bool { return errors.Is(err, errLockTimeout) }
	err := retry.Do(ctx, s.policy, isTimeout, func() error {
		return s.runLocked(ctx, auctionID, lock, fn)
	}, func(err error, wait time.Duration) {
		s.log.Warn("Retrying auction transaction", "auction_id", auctionID, "wait", wait, "error", err)
	})
	if isTimeout(err) {
		return errors.Mark(errors.Wrapf(err, "auction %s", auctionID), domain.ErrContention)
	}
	return err
}

func (s *AuctionStore) runLocked(ctx context.Context, auctionID string, lock chan struct{},
	fn func(ctx context.Context, tx domain.AuctionTx) error) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
	case <-timer.C:
		return errLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	tx := s.begin(auctionID)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *AuctionStore) begin(auctionID string) *memTx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &memTx{
		auction: s.auctions[auctionID].Clone(),
		bids:    cloneBids(s.bids[auctionID]),
		clock:   s.clock,
	}
}

func (s *AuctionStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auctions[tx.auction.ID] = tx.auction
	s.bids[tx.auction.ID] = tx.bids
}

func cloneBids(bids []*domain.Bid) []*domain.Bid {
	out := make([]*domain.Bid, 0, len(bids))
	for _, b := range bids {
		out = append(out, b.Clone())
	}
	return out
}

type memTx struct {
	auction *domain.Auction
	bids    []*domain.Bid
	clock   clock.Clock
}

func (tx *memTx) ReadAuction(ctx context.Context) (*domain.Auction, error) {
	return tx.auction.Clone(), nil
}

func (tx *memTx) ReadHighestBid(ctx context.Context) (*domain.Bid, error) {
	for _, b := range tx.bids {
		if b.Winning {
			return b.Clone(), nil
		}
	}
	return nil, nil
}

func (tx *memTx) InsertBid(ctx context.Context, bid *domain.Bid) error {
	if !bid.Amount.GreaterThan(tx.auction.CurrentHighestBid) {
		return errors.Wrapf(domain.ErrBidTooLow, "bid %s is not above stored highest %s",
			bid.Amount, tx.auction.CurrentHighestBid)
	}

	for _, b := range tx.bids {
		b.Winning = false
	}

	if bid.ID == "" {
		bid.ID = utils.GenerateID("bid")
	}
	bid.AuctionID = tx.auction.ID
	bid.Sequence = tx.auction.BidCount + 1
	bid.Winning = true
	tx.bids = append(tx.bids, bid.Clone())

	tx.auction.CurrentHighestBid = bid.Amount
	tx.auction.HighestBidderID = bid.BidderID
	tx.auction.BidCount = bid.Sequence
	tx.auction.UpdatedAt = tx.clock.Now()
	return nil
}

func (tx *memTx) UpdateAuctionStatus(ctx context.Context, status domain.AuctionStatus) error {
	tx.auction.Status = status
	tx.auction.UpdatedAt = tx.clock.Now()
	return nil
}

func (tx *memTx) UpdateSellerDecision(ctx context.Context, negotiation domain.Negotiation) error {
	tx.auction.Negotiation = negotiation
	tx.auction.UpdatedAt = tx.clock.Now()
	return nil
}

func (tx *memTx) ExtendDuration(ctx context.Context, duration time.Duration) error {
	if duration < tx.auction.Duration {
		return errors.Wrapf(domain.ErrInvalidInput, "duration %s would shorten auction", duration)
	}
	tx.auction.Duration = duration
	tx.auction.UpdatedAt = tx.clock.Now()
	return nil
}
