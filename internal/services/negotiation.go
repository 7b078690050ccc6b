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

const DefaultCounterOfferWindow = 24 * time.Hour

type DecideRequest struct {
	AuctionID     string
	SellerID      string
	Action        domain.SellerAction
	CounterAmount *decimal.Decimal
}

// NegotiationState is the seller decision as it stands at a point in time.
type NegotiationState struct {
	AuctionID    string
	Decision     domain.DecisionKind
	Stored       domain.Negotiation
	CounterOffer *domain.CounterOffer
	Expired      bool
}

type NegotiationService struct {
	store     domain.AuctionStore
	sink      domain.NotificationSink
	confirmer domain.SaleConfirmer
	window    time.Duration
	clock     clock.Clock
	log       logger.Logger
}

func NewNegotiationService(
	store domain.AuctionStore,
	sink domain.NotificationSink,
	confirmer domain.SaleConfirmer,
	window time.Duration,
	clk clock.Clock,
	log logger.Logger,
) *NegotiationService {
	if window <= 0 {
		window = DefaultCounterOfferWindow
	}
	return &NegotiationService{
		store:     store,
		sink:      sink,
		confirmer: confirmer,
		window:    window,
		clock:     clk,
		log:       log,
	}
}

// Decide records the seller's one and only decision on an ended auction.
func (s *NegotiationService) Decide(ctx context.Context, req DecideRequest) error {
	var (
		auction *domain.Auction
		winning *domain.Bid
		now     time.Time
	)

	err := s.store.WithinAuction(ctx, req.AuctionID, func(ctx context.Context, tx domain.AuctionTx) error {
		a, err := tx.ReadAuction(ctx)
		if err != nil {
			return err
		}
		if a.SellerID != req.SellerID {
			return errors.Wrapf(domain.ErrUnauthorized, "%s is not the seller of %s", req.SellerID, a.ID)
		}
		if a.Status != domain.AuctionEnded {
			return errors.Wrapf(domain.ErrAuctionNotLive, "auction %s is %s, decisions need ended", a.ID, a.Status)
		}

		bid, err := tx.ReadHighestBid(ctx)
		if err != nil {
			return err
		}
		if bid == nil {
			return errors.Wrapf(domain.ErrNoBids, "auction %s", a.ID)
		}
		if !a.Negotiation.IsPending() {
			return errors.Wrapf(domain.ErrAlreadyDecided, "auction %s is %s", a.ID, a.Negotiation)
		}

		now = s.clock.Now()
		negotiation, err := s.negotiationFor(req, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateSellerDecision(ctx, negotiation); err != nil {
			return err
		}

		a.Negotiation = negotiation
		auction, winning = a, bid
		return nil
	})
	if err != nil {
		return err
	}

	decision := auction.Negotiation.Kind()
	metrics.TrackSellerDecision(string(decision))
	s.log.Info("Seller decision recorded", "auction_id", auction.ID, "seller_id", auction.SellerID,
		"decision", auction.Negotiation.String(), "winner_id", winning.BidderID)

	s.emitDecision(ctx, auction, winning, now)

	if decision == domain.DecisionAccepted {
		confirmation := &domain.SaleConfirmation{
			AuctionID:  auction.ID,
			SellerID:   auction.SellerID,
			ItemName:   auction.ItemName,
			WinnerID:   winning.BidderID,
			WinningBid: winning.Amount,
			AcceptedAt: now,
		}
		if err := s.confirmer.ConfirmSale(ctx, confirmation); err != nil {
			s.log.Error("Failed to hand off sale confirmation", "auction_id", auction.ID, "error", err)
		}
	}
	return nil
}

func (s *NegotiationService) negotiationFor(req DecideRequest, now time.Time) (domain.Negotiation, error) {
	switch req.Action {
	case domain.ActionAccept:
		return domain.AcceptedNegotiation(), nil
	case domain.ActionReject:
		return domain.RejectedNegotiation(), nil
	case domain.ActionCounterOffer:
		if req.CounterAmount == nil || !req.CounterAmount.IsPositive() {
			return domain.Negotiation{}, errors.Wrap(domain.ErrInvalidInput, "counter offer needs a positive amount")
		}
		if !domain.IsMoney(*req.CounterAmount) {
			return domain.Negotiation{}, errors.Wrapf(domain.ErrInvalidInput,
				"counter offer allows at most %d decimal places", domain.MoneyScale)
		}
		return domain.CounterOfferedNegotiation(*req.CounterAmount, now.Add(s.window)), nil
	}
	return domain.Negotiation{}, errors.Wrapf(domain.ErrInvalidInput, "unknown seller action %q", req.Action)
}

func (s *NegotiationService) emitDecision(ctx context.Context, auction *domain.Auction, winning *domain.Bid, now time.Time) {
	event := &domain.AuctionEvent{
		Type:      domain.EventDecisionMade,
		AuctionID: auction.ID,
		SellerID:  auction.SellerID,
		ItemName:  auction.ItemName,
		BidderID:  winning.BidderID,
		Amount:    winning.Amount,
		WinningBid: &domain.WinningBid{
			BidID:    winning.ID,
			BidderID: winning.BidderID,
			Amount:   winning.Amount,
		},
		Decision:  auction.Negotiation.Kind(),
		Timestamp: now,
	}

	switch event.Decision {
	case domain.DecisionAccepted:
		event.Priority = domain.PriorityHigh
	case domain.DecisionRejected:
		event.Priority = domain.PriorityMedium
	case domain.DecisionCounterOffered:
		offer, _ := auction.Negotiation.CounterOffer()
		event.Amount = offer.Amount
		event.CounterExpiresAt = &offer.ExpiresAt
		event.Priority = domain.PriorityHigh
	}

	if err := s.sink.Emit(ctx, event); err != nil {
		s.log.Error("Failed to emit event", "type", event.Type, "auction_id", auction.ID, "error", err)
	}
}

// ExpiredCounterOffers lists ended auctions whose counter offer went
// unanswered past its expiry. Such offers count as rejected.
func (s *NegotiationService) ExpiredCounterOffers(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return s.store.ExpiredCounterOffers(ctx, now)
}

func (s *NegotiationService) State(ctx context.Context, auctionID string, now time.Time) (*NegotiationState, error) {
	auction, err := s.store.ReadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	state := &NegotiationState{
		AuctionID: auction.ID,
		Decision:  auction.Negotiation.EffectiveAt(now),
		Stored:    auction.Negotiation,
	}
	if offer, ok := auction.Negotiation.CounterOffer(); ok {
		state.CounterOffer = &offer
		state.Expired = !now.Before(offer.ExpiresAt)
	}
	return state, nil
}
