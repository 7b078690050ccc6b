package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionEventType string

const (
	EventNewBid           AuctionEventType = "new_bid"
	EventOutbid           AuctionEventType = "outbid"
	EventAuctionStarted   AuctionEventType = "auction_started"
	EventAuctionEnded     AuctionEventType = "auction_ended"
	EventAuctionExtended  AuctionEventType = "auction_extended"
	EventAuctionCancelled AuctionEventType = "auction_cancelled"
	EventDecisionMade     AuctionEventType = "decision_made"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// AuctionEvent is emitted only after the state change it describes has committed.
// Fields not relevant to a given Type are left zero.
type AuctionEvent struct {
	Type             AuctionEventType `json:"type"`
	AuctionID        string           `json:"auction_id"`
	SellerID         string           `json:"seller_id,omitempty"`
	ItemName         string           `json:"item_name,omitempty"`
	BidderID         string           `json:"bidder_id,omitempty"`
	PreviousBidderID string           `json:"previous_bidder_id,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	WinningBid       *WinningBid      `json:"winning_bid,omitempty"`
	ReserveMet       bool             `json:"reserve_met,omitempty"`
	Decision         DecisionKind     `json:"decision,omitempty"`
	CounterExpiresAt *time.Time       `json:"counter_expires_at,omitempty"`
	EndsAt           *time.Time       `json:"ends_at,omitempty"`
	Priority         Priority         `json:"priority,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

type WinningBid struct {
	BidID    string          `json:"bid_id"`
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// SaleConfirmation is handed to the downstream invoicing collaborator when a
// seller accepts the winning bid.
type SaleConfirmation struct {
	AuctionID  string          `json:"auction_id"`
	SellerID   string          `json:"seller_id"`
	ItemName   string          `json:"item_name,omitempty"`
	WinnerID   string          `json:"winner_id"`
	WinningBid decimal.Decimal `json:"winning_bid"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Notification is a persisted, per-recipient message derived from an AuctionEvent.
type Notification struct {
	ID        string
	UserID    string
	AuctionID string
	Type      string
	Title     string
	Message   string
	Priority  Priority
	Data      map[string]interface{}
	CreatedAt time.Time
}
