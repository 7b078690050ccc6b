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
	"go.uber.org/multierr"
)

type CreateAuctionInput struct {
	SellerID      string
	ItemName      string
	StartingPrice decimal.Decimal
	// BidIncrement falls back to the tiered default for StartingPrice when zero.
	BidIncrement decimal.Decimal
	ReservePrice *decimal.Decimal
	// GoLiveAt defaults to now.
	GoLiveAt   time.Time
	Duration   time.Duration
	AutoExtend time.Duration
}

func (in CreateAuctionInput) validate() error {
	switch {
	case in.SellerID == "":
		return errors.Wrap(domain.ErrInvalidInput, "seller is required")
	case in.StartingPrice.IsNegative():
		return errors.Wrap(domain.ErrInvalidInput, "starting price must not be negative")
	case in.BidIncrement.IsNegative():
		return errors.Wrap(domain.ErrInvalidInput, "bid increment must not be negative")
	case in.ReservePrice != nil && in.ReservePrice.IsNegative():
		return errors.Wrap(domain.ErrInvalidInput, "reserve price must not be negative")
	case !domain.IsMoney(in.StartingPrice), !domain.IsMoney(in.BidIncrement),
		in.ReservePrice != nil && !domain.IsMoney(*in.ReservePrice):
		return errors.Wrapf(domain.ErrInvalidInput, "prices allow at most %d decimal places", domain.MoneyScale)
	case in.Duration <= 0:
		return errors.Wrap(domain.ErrInvalidInput, "duration must be positive")
	case in.AutoExtend < 0:
		return errors.Wrap(domain.ErrInvalidInput, "auto extend window must not be negative")
	}
	return nil
}

// AuctionManager owns auction creation and every status change driven by
// time or by the seller.
type AuctionManager struct {
	store    domain.AuctionStore
	bidCache domain.HighestBidCache
	sink     domain.NotificationSink
	rules    domain.IncrementRules
	clock    clock.Clock
	log      logger.Logger
}

func NewAuctionManager(
	store domain.AuctionStore,
	bidCache domain.HighestBidCache,
	sink domain.NotificationSink,
	rules domain.IncrementRules,
	clk clock.Clock,
	log logger.Logger,
) *AuctionManager {
	return &AuctionManager{
		store:    store,
		bidCache: bidCache,
		sink:     sink,
		rules:    rules,
		clock:    clk,
		log:      log,
	}
}

func (am *AuctionManager) CreateAuction(ctx context.Context, in CreateAuctionInput) (*domain.Auction, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := am.clock.Now()
	increment := in.BidIncrement
	if increment.IsZero() {
		increment = am.rules.GetIncrementRule(in.StartingPrice)
	}
	goLive := in.GoLiveAt
	if goLive.IsZero() {
		goLive = now
	}

	status := domain.AuctionScheduled
	if !goLive.After(now) {
		status = domain.AuctionLive
	}

	auction := &domain.Auction{
		SellerID:      in.SellerID,
		ItemName:      in.ItemName,
		StartingPrice: in.StartingPrice,
		BidIncrement:  increment,
		ReservePrice:  in.ReservePrice,
		GoLiveAt:      goLive,
		Duration:      in.Duration,
		AutoExtend:    in.AutoExtend,
		Status:        status,
		Negotiation:   domain.PendingNegotiation(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := am.store.CreateAuction(ctx, auction); err != nil {
		return nil, err
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "seller_id", auction.SellerID,
		"status", auction.Status.String(), "go_live_at", auction.GoLiveAt, "ends_at", auction.EndsAt())
	return auction, nil
}

func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return am.store.ReadAuction(ctx, auctionID)
}

// Advance moves every auction that is due: scheduled auctions past go-live
// start, live auctions past their end close. An auction may do both in one
// pass. Each auction is re-checked under its lock, so overlapping sweeps are
// harmless. Failures on one auction do not stop the others; they are
// returned together.
func (am *AuctionManager) Advance(ctx context.Context, now time.Time) ([]domain.Transition, error) {
	due, err := am.store.DueForTransition(ctx, now)
	if err != nil {
		return nil, err
	}

	var (
		transitions []domain.Transition
		errs        error
	)
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return transitions, multierr.Append(errs, err)
		}

		done, err := am.advanceOne(ctx, candidate.ID, now)
		if err != nil {
			am.log.Error("Failed to advance auction", "auction_id", candidate.ID, "error", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "advance auction %s", candidate.ID))
			continue
		}
		transitions = append(transitions, done...)
	}

	if len(transitions) > 0 {
		am.log.Info("Lifecycle sweep finished", "transitions", len(transitions), "due", len(due))
	}
	return transitions, errs
}

func (am *AuctionManager) advanceOne(ctx context.Context, auctionID string, now time.Time) ([]domain.Transition, error) {
	var (
		transitions []domain.Transition
		auction     *domain.Auction
		winning     *domain.Bid
	)

	err := am.store.WithinAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		transitions, winning = nil, nil

		a, err := tx.ReadAuction(ctx)
		if err != nil {
			return err
		}

		if a.Status == domain.AuctionScheduled && !now.Before(a.GoLiveAt) {
			if err := tx.UpdateAuctionStatus(ctx, domain.AuctionLive); err != nil {
				return err
			}
			transitions = append(transitions, domain.Transition{AuctionID: a.ID, From: a.Status, To: domain.AuctionLive, At: now})
			a.Status = domain.AuctionLive
		}

		if a.Status == domain.AuctionLive && !now.Before(a.EndsAt()) {
			if err := tx.UpdateAuctionStatus(ctx, domain.AuctionEnded); err != nil {
				return err
			}
			transitions = append(transitions, domain.Transition{AuctionID: a.ID, From: a.Status, To: domain.AuctionEnded, At: now})
			a.Status = domain.AuctionEnded

			if winning, err = tx.ReadHighestBid(ctx); err != nil {
				return err
			}
		}

		auction = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, t := range transitions {
		metrics.TrackTransition(t.To.String())
		am.log.Info("Auction transitioned", "auction_id", t.AuctionID, "from", t.From.String(), "to", t.To.String())

		switch t.To {
		case domain.AuctionLive:
			endsAt := auction.EndsAt()
			am.emit(ctx, &domain.AuctionEvent{
				Type:      domain.EventAuctionStarted,
				AuctionID: auction.ID,
				SellerID:  auction.SellerID,
				ItemName:  auction.ItemName,
				Amount:    auction.StartingPrice,
				EndsAt:    &endsAt,
				Priority:  domain.PriorityLow,
				Timestamp: now,
			})
		case domain.AuctionEnded:
			am.invalidate(ctx, auction.ID)
			am.emit(ctx, endedEvent(auction, winning, now))
		}
	}
	return transitions, nil
}

func endedEvent(auction *domain.Auction, winning *domain.Bid, now time.Time) *domain.AuctionEvent {
	event := &domain.AuctionEvent{
		Type:       domain.EventAuctionEnded,
		AuctionID:  auction.ID,
		SellerID:   auction.SellerID,
		ItemName:   auction.ItemName,
		Amount:     auction.CurrentHighestBid,
		ReserveMet: auction.ReserveMet(),
		Priority:   domain.PriorityHigh,
		Timestamp:  now,
	}
	if winning != nil {
		event.BidderID = winning.BidderID
		event.WinningBid = &domain.WinningBid{
			BidID:    winning.ID,
			BidderID: winning.BidderID,
			Amount:   winning.Amount,
		}
	}
	return event
}

// Cancel withdraws a scheduled or live auction on the seller's behalf.
func (am *AuctionManager) Cancel(ctx context.Context, auctionID, sellerID string) error {
	var auction *domain.Auction

	err := am.store.WithinAuction(ctx, auctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a, err := tx.ReadAuction(ctx)
		if err != nil {
			return err
		}
		if a.SellerID != sellerID {
			return errors.Wrapf(domain.ErrUnauthorized, "%s is not the seller of %s", sellerID, auctionID)
		}
		if a.Status.IsTerminal() {
			return errors.Wrapf(domain.ErrAuctionNotLive, "auction %s is already %s", auctionID, a.Status)
		}
		if err := tx.UpdateAuctionStatus(ctx, domain.AuctionCancelled); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		return err
	}

	now := am.clock.Now()
	metrics.TrackTransition(domain.AuctionCancelled.String())
	am.log.Info("Auction cancelled", "auction_id", auctionID, "seller_id", sellerID, "from", auction.Status.String())

	am.invalidate(ctx, auctionID)
	am.emit(ctx, &domain.AuctionEvent{
		Type:             domain.EventAuctionCancelled,
		AuctionID:        auctionID,
		SellerID:         auction.SellerID,
		ItemName:         auction.ItemName,
		PreviousBidderID: auction.HighestBidderID,
		Amount:           auction.CurrentHighestBid,
		Priority:         domain.PriorityHigh,
		Timestamp:        now,
	})
	return nil
}

func (am *AuctionManager) invalidate(ctx context.Context, auctionID string) {
	if err := am.bidCache.Invalidate(ctx, auctionID); err != nil {
		metrics.TrackCacheError("invalidate")
		am.log.Warn("Failed to invalidate highest bid cache", "auction_id", auctionID, "error", err)
	}
}

func (am *AuctionManager) emit(ctx context.Context, event *domain.AuctionEvent) {
	if err := am.sink.Emit(ctx, event); err != nil {
		am.log.Error("Failed to emit event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
	}
}
