package services

import (
	"fmt"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// NotificationBuilder turns one engine event into the per-user messages it
// implies. It does no I/O. A priority set on the event wins over the
// per-type default.
type NotificationBuilder struct{}

func NewNotificationBuilder() *NotificationBuilder {
	return &NotificationBuilder{}
}

func (b *NotificationBuilder) Build(event *domain.AuctionEvent) []*domain.Notification {
	item := itemLabel(event)

	switch event.Type {
	case domain.EventNewBid:
		return b.one(event, event.SellerID, "new_bid", domain.PriorityHigh,
			"New Bid Received",
			fmt.Sprintf("A bid of %s was placed on %s.", money(event.Amount), item),
			map[string]interface{}{"bid_amount": event.Amount, "bidder_id": event.BidderID})

	case domain.EventOutbid:
		return b.one(event, event.BidderID, "outbid", domain.PriorityHigh,
			"You've Been Outbid",
			fmt.Sprintf("Someone placed a higher bid of %s on %s.", money(event.Amount), item),
			map[string]interface{}{"current_bid": event.Amount})

	case domain.EventAuctionStarted:
		return b.one(event, event.SellerID, "auction_live", domain.PriorityLow,
			"Your Auction Is Live",
			fmt.Sprintf("%s is now open for bidding.", item),
			nil)

	case domain.EventAuctionExtended:
		data := map[string]interface{}{}
		message := fmt.Sprintf("A late bid extended %s.", item)
		if event.EndsAt != nil {
			data["ends_at"] = event.EndsAt.Format(time.RFC3339)
			message = fmt.Sprintf("A late bid extended %s until %s.", item, event.EndsAt.Format(time.RFC1123))
		}
		return b.one(event, event.SellerID, "auction_extended", domain.PriorityLow,
			"Auction Extended", message, data)

	case domain.EventAuctionEnded:
		return b.ended(event, item)

	case domain.EventAuctionCancelled:
		return b.one(event, event.PreviousBidderID, "auction_cancelled", domain.PriorityMedium,
			"Auction Cancelled",
			fmt.Sprintf("The seller cancelled %s. Your bid of %s no longer stands.", item, money(event.Amount)),
			map[string]interface{}{"bid_amount": event.Amount})

	case domain.EventDecisionMade:
		return b.decision(event, item)
	}
	return nil
}

func (b *NotificationBuilder) ended(event *domain.AuctionEvent, item string) []*domain.Notification {
	if event.WinningBid == nil {
		return b.one(event, event.SellerID, "auction_ended", domain.PriorityHigh,
			"Your Auction Has Ended",
			fmt.Sprintf("%s ended without any bids.", item),
			nil)
	}

	amount := event.WinningBid.Amount
	sellerMessage := fmt.Sprintf("%s ended with a winning bid of %s. Please accept, reject or counter.", item, money(amount))
	if !event.ReserveMet {
		sellerMessage = fmt.Sprintf("%s ended at %s, below your reserve price. Please accept, reject or counter.", item, money(amount))
	}

	out := b.one(event, event.SellerID, "auction_ended", domain.PriorityHigh,
		"Your Auction Has Ended", sellerMessage,
		map[string]interface{}{"winning_bid": amount, "winner_id": event.WinningBid.BidderID, "reserve_met": event.ReserveMet})
	out = append(out, b.one(event, event.WinningBid.BidderID, "auction_won", domain.PriorityHigh,
		"You Won the Auction!",
		fmt.Sprintf("Your bid of %s is the highest on %s. The seller will confirm shortly.", money(amount), item),
		map[string]interface{}{"winning_bid": amount})...)
	return out
}

func (b *NotificationBuilder) decision(event *domain.AuctionEvent, item string) []*domain.Notification {
	bidAmount := event.Amount
	if event.WinningBid != nil {
		bidAmount = event.WinningBid.Amount
	}

	switch event.Decision {
	case domain.DecisionAccepted:
		return b.one(event, event.BidderID, "bid_accepted", domain.PriorityHigh,
			"Congratulations! Your Bid Was Accepted",
			fmt.Sprintf("Your bid of %s for %s has been accepted by the seller.", money(bidAmount), item),
			map[string]interface{}{"bid_amount": bidAmount, "action": "accepted"})

	case domain.DecisionRejected:
		return b.one(event, event.BidderID, "bid_rejected", domain.PriorityMedium,
			"Bid Rejected",
			fmt.Sprintf("Your bid of %s for %s has been rejected by the seller.", money(bidAmount), item),
			map[string]interface{}{"bid_amount": bidAmount, "action": "rejected"})

	case domain.DecisionCounterOffered:
		data := map[string]interface{}{"original_bid": bidAmount, "counter_offer": event.Amount}
		respond := ""
		if event.CounterExpiresAt != nil {
			data["expires_at"] = event.CounterExpiresAt.Format(time.RFC3339)
			hours := int(event.CounterExpiresAt.Sub(event.Timestamp).Round(time.Hour).Hours())
			respond = fmt.Sprintf(" You have %d hours to respond.", hours)
		}
		return b.one(event, event.BidderID, "counter_offer", domain.PriorityHigh,
			"Counter Offer Received",
			fmt.Sprintf("The seller has made a counter offer of %s for %s.%s", money(event.Amount), item, respond),
			data)
	}
	return nil
}

func (b *NotificationBuilder) one(event *domain.AuctionEvent, userID, kind string, priority domain.Priority,
	title, message string, data map[string]interface{}) []*domain.Notification {
	if userID == "" {
		return nil
	}
	if event.Priority != "" {
		priority = event.Priority
	}
	return []*domain.Notification{{
		ID:        utils.GenerateID("notif"),
		UserID:    userID,
		AuctionID: event.AuctionID,
		Type:      kind,
		Title:     title,
		Message:   message,
		Priority:  priority,
		Data:      data,
		CreatedAt: event.Timestamp,
	}}
}

func itemLabel(event *domain.AuctionEvent) string {
	if event.ItemName != "" {
		return fmt.Sprintf("%q", event.ItemName)
	}
	return "auction " + event.AuctionID
}

func money(v decimal.Decimal) string {
	return "$" + v.StringFixed(2)
}
