package services

import (
	"context"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/cockroachdb/errors"
)

// EventListener relays committed engine events to connected WebSocket
// clients and keeps this instance's highest-bid cache warm.
type EventListener struct {
	bidCache          domain.HighestBidCache
	broadcaster       domain.AuctionBroadcaster
	userNotifier      domain.UserNotifier
	connectionManager domain.ConnectionManager
	log               logger.Logger
}

func NewEventListener(bidCache domain.HighestBidCache, connectionManager domain.ConnectionManager,
	broadcaster domain.AuctionBroadcaster, userNotifier domain.UserNotifier, log logger.Logger) *EventListener {
	return &EventListener{
		bidCache:          bidCache,
		broadcaster:       broadcaster,
		userNotifier:      userNotifier,
		connectionManager: connectionManager,
		log:               log,
	}
}

func (el *EventListener) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	el.log.Info("Starting event listener")
	return subscriber.SubscribeToAuctionEvents(ctx, func(event *domain.AuctionEvent) error {
		return el.HandleEvent(ctx, event)
	})
}

func (el *EventListener) HandleEvent(ctx context.Context, event *domain.AuctionEvent) error {
	el.log.Debug("Handling auction event", "type", event.Type, "auction_id", event.AuctionID)

	switch event.Type {
	case domain.EventNewBid:
		return el.handleNewBid(ctx, event)
	case domain.EventOutbid:
		return el.userNotifier.NotifyUser(ctx, event.BidderID, map[string]interface{}{
			"type":       "outbid",
			"auction_id": event.AuctionID,
			"amount":     event.Amount,
			"timestamp":  event.Timestamp,
		})
	case domain.EventAuctionStarted:
		return el.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
			"type":      "auction_started",
			"ends_at":   event.EndsAt,
			"timestamp": event.Timestamp,
		})
	case domain.EventAuctionExtended:
		return el.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
			"type":      "auction_extended",
			"ends_at":   event.EndsAt,
			"timestamp": event.Timestamp,
		})
	case domain.EventAuctionEnded, domain.EventAuctionCancelled:
		return el.handleAuctionClosed(ctx, event)
	case domain.EventDecisionMade:
		return el.userNotifier.NotifyUser(ctx, event.BidderID, map[string]interface{}{
			"type":       "decision_made",
			"auction_id": event.AuctionID,
			"decision":   event.Decision,
			"amount":     event.Amount,
			"expires_at": event.CounterExpiresAt,
			"timestamp":  event.Timestamp,
		})
	}

	return errors.Newf("unknown event type %q", event.Type)
}

func (el *EventListener) handleNewBid(ctx context.Context, event *domain.AuctionEvent) error {
	// Committed amounts only ever raise the cache.
	if err := el.bidCache.Set(ctx, event.AuctionID, event.Amount); err != nil {
		el.log.Warn("Failed to warm highest bid cache", "auction_id", event.AuctionID, "error", err)
	}

	// Broadcast to all connected users for this auction
	return el.broadcaster.BroadcastToAuction(ctx, event.AuctionID, map[string]interface{}{
		"type":           "bid_update",
		"current_bid":    event.Amount,
		"current_winner": event.BidderID,
		"timestamp":      event.Timestamp,
	})
}

func (el *EventListener) handleAuctionClosed(ctx context.Context, event *domain.AuctionEvent) error {
	if err := el.bidCache.Invalidate(ctx, event.AuctionID); err != nil {
		el.log.Warn("Failed to invalidate highest bid cache", "auction_id", event.AuctionID, "error", err)
	}

	// Final broadcast
	message := map[string]interface{}{
		"type":      string(event.Type),
		"timestamp": event.Timestamp,
	}
	if event.WinningBid != nil {
		message["winning_bid"] = event.WinningBid.Amount
		message["winner_id"] = event.WinningBid.BidderID
	}
	if err := el.broadcaster.BroadcastToAuction(ctx, event.AuctionID, message); err != nil {
		el.log.Error("Failed to broadcast auction close", "auction_id", event.AuctionID, "error", err)
		return err
	}

	if err := el.connectionManager.CloseAndUnregisterConnections(event.AuctionID); err != nil {
		el.log.Error("Failed to finalize connections for auction", "auction_id",
			event.AuctionID, "error", err)
		return err
	}
	return nil
}
