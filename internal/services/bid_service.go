package services

import (
	"context"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/internal/metrics"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

type PlaceBidRequest struct {
	AuctionID string
	BidderID  string
	Amount    decimal.Decimal
	MaxAmount *decimal.Decimal
	Source    domain.BidSource
}

// AcceptedBid describes a stored bid and where the auction stands after any
// proxy bidding it triggered.
type AcceptedBid struct {
	Bid             *domain.Bid
	Winning         bool
	CurrentHighest  decimal.Decimal
	HighestBidderID string
	EndsAt          time.Time
	Extended        bool
}

type BidService struct {
	store    domain.AuctionStore
	bidCache domain.HighestBidCache
	sink     domain.NotificationSink
	clock    clock.Clock
	log      logger.Logger
}

func NewBidService(
	store domain.AuctionStore,
	bidCache domain.HighestBidCache,
	sink domain.NotificationSink,
	clk clock.Clock,
	log logger.Logger,
) *BidService {
	return &BidService{
		store:    store,
		bidCache: bidCache,
		sink:     sink,
		clock:    clk,
		log:      log,
	}
}

// committedBid carries what the transaction decided out to the post-commit
// side effects.
type committedBid struct {
	auction        *domain.Auction
	previousWinner string
	outcome        proxyOutcome
	extended       bool
}

func (s *BidService) PlaceBid(ctx context.Context, req PlaceBidRequest) (*AcceptedBid, error) {
	started := time.Now()
	accepted, err := s.placeBid(ctx, req)

	result := "accepted"
	if err != nil {
		result = string(domain.KindOf(err))
	}
	metrics.TrackBid(result, time.Since(started))
	return accepted, err
}

func (s *BidService) placeBid(ctx context.Context, req PlaceBidRequest) (*AcceptedBid, error) {
	s.log.Info("Placing bid", "auction_id", req.AuctionID, "bidder_id", req.BidderID, "amount", req.Amount)

	if req.BidderID == "" || !req.Amount.IsPositive() {
		return nil, errors.Wrap(domain.ErrInvalidInput, "bid needs a bidder and a positive amount")
	}
	if !domain.IsMoney(req.Amount) || (req.MaxAmount != nil && !domain.IsMoney(*req.MaxAmount)) {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "bid amounts allow at most %d decimal places", domain.MoneyScale)
	}

	auction, err := s.store.ReadAuction(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}
	if auction.SellerID == req.BidderID {
		return nil, errors.Wrapf(domain.ErrUnauthorized, "seller %s cannot bid on own auction", req.BidderID)
	}
	if !auction.IsOpenAt(s.clock.Now()) {
		return nil, errors.Wrapf(domain.ErrAuctionNotLive, "auction %s is %s", auction.ID, auction.Status)
	}

	if err := s.fastReject(ctx, auction, req.Amount); err != nil {
		return nil, err
	}

	var committed committedBid
	err = s.store.WithinAuction(ctx, req.AuctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		c, err := s.acceptWithin(ctx, tx, req)
		if err != nil {
			return err
		}
		committed = c
		return nil
	})
	if err != nil {
		s.log.Info("Bid rejected", "auction_id", req.AuctionID, "bidder_id", req.BidderID,
			"amount", req.Amount, "reason", domain.KindOf(err))
		return nil, err
	}

	return s.afterCommit(ctx, req, committed), nil
}

// fastReject turns away bids that cannot beat the cached highest amount. The
// cache only ever trails the store, so a rejection here is always correct; a
// pass proves nothing.
func (s *BidService) fastReject(ctx context.Context, auction *domain.Auction, amount decimal.Decimal) error {
	cached, found, err := s.bidCache.Get(ctx, auction.ID)
	if err != nil {
		metrics.TrackCacheError("get")
		s.log.Warn("Highest bid cache unavailable", "auction_id", auction.ID, "error", err)
		return nil
	}
	if !found {
		return nil
	}

	if err := checkAmount(cached, auction.BidIncrement, amount); err != nil {
		metrics.TrackFastPathRejection(string(domain.KindOf(err)))
		s.log.Debug("Bid rejected from cache", "auction_id", auction.ID, "cached", cached, "amount", amount)
		return err
	}
	return nil
}

func (s *BidService) acceptWithin(ctx context.Context, tx domain.AuctionTx, req PlaceBidRequest) (committedBid, error) {
	auction, err := tx.ReadAuction(ctx)
	if err != nil {
		return committedBid{}, err
	}

	now := s.clock.Now()
	if !auction.IsOpenAt(now) {
		return committedBid{}, errors.Wrapf(domain.ErrAuctionNotLive, "auction %s closed at %s", auction.ID, auction.EndsAt())
	}
	if err := checkAmount(auction.CurrentPrice(), auction.BidIncrement, req.Amount); err != nil {
		return committedBid{}, err
	}
	if req.MaxAmount != nil && req.MaxAmount.LessThan(req.Amount) {
		return committedBid{}, errors.Wrapf(domain.ErrInvalidProxyCeiling, "max %s below amount %s", req.MaxAmount, req.Amount)
	}

	defender, err := tx.ReadHighestBid(ctx)
	if err != nil {
		return committedBid{}, err
	}

	challenger := &domain.Bid{
		AuctionID: auction.ID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		Type:      domain.BidManual,
		Source:    req.Source,
		PlacedAt:  now,
	}
	if req.MaxAmount != nil {
		m := *req.MaxAmount
		challenger.MaxAmount = &m
		challenger.Type = domain.BidProxy
	}

	outcome := resolveProxy(defender, challenger, auction.BidIncrement, now)
	for _, bid := range outcome.bids {
		if err := tx.InsertBid(ctx, bid); err != nil {
			return committedBid{}, err
		}
	}

	extended, err := s.extendIfSniped(ctx, tx, auction, now)
	if err != nil {
		return committedBid{}, err
	}

	after, err := tx.ReadAuction(ctx)
	if err != nil {
		return committedBid{}, err
	}
	return committedBid{
		auction:        after,
		previousWinner: auction.HighestBidderID,
		outcome:        outcome,
		extended:       extended,
	}, nil
}

// extendIfSniped pushes the end out to now+window when a bid lands inside the
// auction's final auto-extend window.
func (s *BidService) extendIfSniped(ctx context.Context, tx domain.AuctionTx, auction *domain.Auction, now time.Time) (bool, error) {
	if auction.AutoExtend <= 0 {
		return false, nil
	}
	if auction.EndsAt().Sub(now) >= auction.AutoExtend {
		return false, nil
	}

	duration := now.Add(auction.AutoExtend).Sub(auction.GoLiveAt)
	if err := tx.ExtendDuration(ctx, duration); err != nil {
		return false, err
	}
	return true, nil
}

func (s *BidService) afterCommit(ctx context.Context, req PlaceBidRequest, c committedBid) *AcceptedBid {
	winner := c.outcome.winner()
	challenger := c.outcome.bids[0]

	if err := s.bidCache.Set(ctx, req.AuctionID, winner.Amount); err != nil {
		metrics.TrackCacheError("set")
		s.log.Warn("Failed to update highest bid cache", "auction_id", req.AuctionID, "error", err)
	}
	if c.outcome.escalated {
		metrics.TrackProxyEscalation()
	}

	s.log.Info("Bid accepted", "auction_id", req.AuctionID, "bid_id", challenger.ID, "bidder_id", req.BidderID,
		"amount", req.Amount, "highest_bidder_id", winner.BidderID, "highest_bid", winner.Amount)

	s.notify(ctx, c, winner)

	bid := challenger.Clone()
	bid.Winning = challenger == winner
	return &AcceptedBid{
		Bid:             bid,
		Winning:         winner.BidderID == req.BidderID,
		CurrentHighest:  winner.Amount,
		HighestBidderID: winner.BidderID,
		EndsAt:          c.auction.EndsAt(),
		Extended:        c.extended,
	}
}

func (s *BidService) notify(ctx context.Context, c committedBid, winner *domain.Bid) {
	now := s.clock.Now()
	auction := c.auction

	events := []*domain.AuctionEvent{{
		Type:             domain.EventNewBid,
		AuctionID:        auction.ID,
		SellerID:         auction.SellerID,
		ItemName:         auction.ItemName,
		BidderID:         winner.BidderID,
		PreviousBidderID: c.previousWinner,
		Amount:           winner.Amount,
		Priority:         domain.PriorityHigh,
		Timestamp:        now,
	}}

	notified := map[string]bool{winner.BidderID: true}
	for _, bidderID := range []string{c.previousWinner, c.outcome.bids[0].BidderID} {
		if bidderID == "" || notified[bidderID] {
			continue
		}
		notified[bidderID] = true
		events = append(events, &domain.AuctionEvent{
			Type:      domain.EventOutbid,
			AuctionID: auction.ID,
			SellerID:  auction.SellerID,
			ItemName:  auction.ItemName,
			BidderID:  bidderID,
			Amount:    winner.Amount,
			Priority:  domain.PriorityHigh,
			Timestamp: now,
		})
	}

	if c.extended {
		endsAt := auction.EndsAt()
		events = append(events, &domain.AuctionEvent{
			Type:      domain.EventAuctionExtended,
			AuctionID: auction.ID,
			SellerID:  auction.SellerID,
			ItemName:  auction.ItemName,
			Amount:    winner.Amount,
			EndsAt:    &endsAt,
			Priority:  domain.PriorityMedium,
			Timestamp: now,
		})
	}

	for _, event := range events {
		if err := s.sink.Emit(ctx, event); err != nil {
			s.log.Error("Failed to emit event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
		}
	}
}

func (s *BidService) Bids(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	return s.store.ListBids(ctx, auctionID)
}

// checkAmount applies the strictly-above and minimum-increment rules against
// the price a bid has to beat.
func checkAmount(current, increment, amount decimal.Decimal) error {
	if !amount.GreaterThan(current) {
		return errors.Wrapf(domain.ErrBidTooLow, "bid %s does not exceed %s", amount, current)
	}
	if minimum := current.Add(increment); amount.LessThan(minimum) {
		return errors.Wrapf(domain.ErrBelowIncrement, "bid %s is below minimum %s", amount, minimum)
	}
	return nil
}
