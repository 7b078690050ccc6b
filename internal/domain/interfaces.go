package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store interfaces
type AuctionStore interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	ReadAuction(ctx context.Context, auctionID string) (*Auction, error)
	ListBids(ctx context.Context, auctionID string) ([]*Bid, error)
	// DueForTransition returns scheduled auctions whose go-live has passed and
	// live auctions whose end has passed. Callers must re-check under lock.
	DueForTransition(ctx context.Context, now time.Time) ([]*Auction, error)
	ExpiredCounterOffers(ctx context.Context, now time.Time) ([]*Auction, error)
	// WithinAuction runs fn while holding the auction's row lock. Everything fn
	// writes commits together or not at all. Lock waits are bounded and retried;
	// exhaustion yields ErrContention.
	WithinAuction(ctx context.Context, auctionID string, fn func(ctx context.Context, tx AuctionTx) error) error
}

type AuctionTx interface {
	ReadAuction(ctx context.Context) (*Auction, error)
	// ReadHighestBid returns nil when the auction has no bids.
	ReadHighestBid(ctx context.Context) (*Bid, error)
	// InsertBid stores bid as the new winner, assigning its ID (if empty) and
	// sequence, and clears the previous winner. It fails unless bid.Amount is
	// strictly above the current highest bid.
	InsertBid(ctx context.Context, bid *Bid) error
	UpdateAuctionStatus(ctx context.Context, status AuctionStatus) error
	UpdateSellerDecision(ctx context.Context, negotiation Negotiation) error
	ExtendDuration(ctx context.Context, duration time.Duration) error
}

// Cache interfaces
type HighestBidCache interface {
	Get(ctx context.Context, auctionID string) (decimal.Decimal, bool, error)
	// Set is only called after commit and must never lower a cached amount.
	Set(ctx context.Context, auctionID string, amount decimal.Decimal) error
	Invalidate(ctx context.Context, auctionID string) error
}

// Event interfaces
type NotificationSink interface {
	Emit(ctx context.Context, event *AuctionEvent) error
}

type EventSubscriber interface {
	SubscribeToAuctionEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *AuctionEvent) error

type SaleConfirmer interface {
	ConfirmSale(ctx context.Context, confirmation *SaleConfirmation) error
}

type NotificationRepository interface {
	SaveNotification(ctx context.Context, notification *Notification) error
	ListForUser(ctx context.Context, userID string, limit int) ([]*Notification, error)
}

// Notification interfaces
type UserNotifier interface {
	NotifyUser(ctx context.Context, userID string, message interface{}) error
}

type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
}

// IncrementRules supplies a default bid increment for auctions created without one.
type IncrementRules interface {
	GetIncrementRule(amount decimal.Decimal) decimal.Decimal
	LoadRules(ctx context.Context) error
}

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	AuctionID() string
}

type ConnectionManager interface {
	RegisterConnection(userID, auctionID string, conn WebSocketConnection) error
	UnregisterConnection(conn WebSocketConnection) error
	GetConnectionsForAuction(auctionID string) []WebSocketConnection
	GetConnectionsForUser(userID string) []WebSocketConnection
	BroadcastToAuction(auctionID string, message interface{}) error
	NotifyUser(userID string, message interface{}) error
	CloseAndUnregisterConnections(auctionID string) error
}
