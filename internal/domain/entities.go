package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places every stored amount keeps.
const MoneyScale = 2

// IsMoney reports whether d survives storage at MoneyScale without rounding.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

type Auction struct {
	ID            string
	SellerID      string
	ItemName      string
	StartingPrice decimal.Decimal
	BidIncrement  decimal.Decimal
	ReservePrice  *decimal.Decimal
	GoLiveAt      time.Time
	Duration      time.Duration
	// AutoExtend is the anti-sniping window; zero disables it.
	AutoExtend time.Duration
	Status     AuctionStatus

	// Maintained only by the bid acceptance path.
	CurrentHighestBid decimal.Decimal
	BidCount          int64
	HighestBidderID   string

	Negotiation Negotiation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (a *Auction) EndsAt() time.Time {
	return a.GoLiveAt.Add(a.Duration)
}

// IsOpenAt reports whether a bid placed at now may be considered at all.
func (a *Auction) IsOpenAt(now time.Time) bool {
	return a.Status == AuctionLive && now.Before(a.EndsAt())
}

func (a *Auction) HasBids() bool {
	return a.CurrentHighestBid.IsPositive()
}

// CurrentPrice is the amount the next bid must beat.
func (a *Auction) CurrentPrice() decimal.Decimal {
	if a.HasBids() {
		return a.CurrentHighestBid
	}
	return a.StartingPrice
}

func (a *Auction) MinimumNextBid() decimal.Decimal {
	return a.CurrentPrice().Add(a.BidIncrement)
}

func (a *Auction) ReserveMet() bool {
	if a.ReservePrice == nil {
		return true
	}
	return a.HasBids() && a.CurrentHighestBid.GreaterThanOrEqual(*a.ReservePrice)
}

func (a *Auction) Clone() *Auction {
	c := *a
	if a.ReservePrice != nil {
		rp := *a.ReservePrice
		c.ReservePrice = &rp
	}
	return &c
}

type AuctionStatus int

const (
	AuctionScheduled AuctionStatus = iota
	AuctionLive
	AuctionEnded
	AuctionCancelled
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionScheduled:
		return "scheduled"
	case AuctionLive:
		return "live"
	case AuctionEnded:
		return "ended"
	case AuctionCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionEnded || s == AuctionCancelled
}

func ParseAuctionStatus(v string) (AuctionStatus, bool) {
	switch v {
	case "scheduled":
		return AuctionScheduled, true
	case "live":
		return AuctionLive, true
	case "ended":
		return AuctionEnded, true
	case "cancelled":
		return AuctionCancelled, true
	}
	return AuctionScheduled, false
}

type Bid struct {
	ID        string
	AuctionID string
	BidderID  string
	Amount    decimal.Decimal
	MaxAmount *decimal.Decimal
	Winning   bool
	Sequence  int64
	Type      BidType
	Source    BidSource
	PlacedAt  time.Time
}

// Ceiling is the most this bid's owner has agreed to pay.
func (b *Bid) Ceiling() decimal.Decimal {
	if b.MaxAmount != nil && b.MaxAmount.GreaterThan(b.Amount) {
		return *b.MaxAmount
	}
	return b.Amount
}

func (b *Bid) Clone() *Bid {
	c := *b
	if b.MaxAmount != nil {
		m := *b.MaxAmount
		c.MaxAmount = &m
	}
	return &c
}

type BidType string

const (
	BidManual BidType = "manual"
	BidProxy  BidType = "proxy"
)

type BidSource string

const (
	SourceWeb       BidSource = "web"
	SourceAPI       BidSource = "api"
	SourceWebSocket BidSource = "ws"
	SourceEngine    BidSource = "engine"
)

// Transition records one status change performed by a lifecycle sweep.
type Transition struct {
	AuctionID string
	From      AuctionStatus
	To        AuctionStatus
	At        time.Time
}
