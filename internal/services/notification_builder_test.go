package services

import (
	"testing"
	"time"

	"auction-engine/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationBuilder(t *testing.T) {
	b := NewNotificationBuilder()
	expires := t0.Add(24 * time.Hour)
	winning := &domain.WinningBid{BidID: "b1", BidderID: "alice", Amount: dec(500)}

	tests := []struct {
		name       string
		event      *domain.AuctionEvent
		recipients []string
		types      []string
		contains   string
	}{
		{
			name:       "new bid goes to seller",
			event:      &domain.AuctionEvent{Type: domain.EventNewBid, AuctionID: "a1", SellerID: "seller", ItemName: "vase", BidderID: "alice", Amount: dec(110)},
			recipients: []string{"seller"},
			types:      []string{"new_bid"},
			contains:   `A bid of $110.00 was placed on "vase".`,
		},
		{
			name:       "outbid goes to bidder",
			event:      &domain.AuctionEvent{Type: domain.EventOutbid, AuctionID: "a1", BidderID: "bob", Amount: dec(160)},
			recipients: []string{"bob"},
			types:      []string{"outbid"},
			contains:   "$160.00 on auction a1",
		},
		{
			name:       "ended with winner",
			event:      &domain.AuctionEvent{Type: domain.EventAuctionEnded, AuctionID: "a1", SellerID: "seller", WinningBid: winning, ReserveMet: true},
			recipients: []string{"seller", "alice"},
			types:      []string{"auction_ended", "auction_won"},
			contains:   "winning bid of $500.00",
		},
		{
			name:       "ended below reserve",
			event:      &domain.AuctionEvent{Type: domain.EventAuctionEnded, AuctionID: "a1", SellerID: "seller", WinningBid: winning},
			recipients: []string{"seller", "alice"},
			types:      []string{"auction_ended", "auction_won"},
			contains:   "below your reserve price",
		},
		{
			name:       "ended without bids",
			event:      &domain.AuctionEvent{Type: domain.EventAuctionEnded, AuctionID: "a1", SellerID: "seller"},
			recipients: []string{"seller"},
			types:      []string{"auction_ended"},
			contains:   "without any bids",
		},
		{
			name:       "cancelled tells the standing bidder",
			event:      &domain.AuctionEvent{Type: domain.EventAuctionCancelled, AuctionID: "a1", SellerID: "seller", PreviousBidderID: "alice", Amount: dec(120)},
			recipients: []string{"alice"},
			types:      []string{"auction_cancelled"},
			contains:   "$120.00",
		},
		{
			name:       "cancelled without bids tells nobody",
			event:      &domain.AuctionEvent{Type: domain.EventAuctionCancelled, AuctionID: "a1", SellerID: "seller"},
			recipients: nil,
		},
		{
			name:       "accepted",
			event:      &domain.AuctionEvent{Type: domain.EventDecisionMade, AuctionID: "a1", BidderID: "alice", Amount: dec(500), WinningBid: winning, Decision: domain.DecisionAccepted},
			recipients: []string{"alice"},
			types:      []string{"bid_accepted"},
			contains:   "has been accepted",
		},
		{
			name:       "rejected",
			event:      &domain.AuctionEvent{Type: domain.EventDecisionMade, AuctionID: "a1", BidderID: "alice", Amount: dec(500), WinningBid: winning, Decision: domain.DecisionRejected},
			recipients: []string{"alice"},
			types:      []string{"bid_rejected"},
			contains:   "has been rejected",
		},
		{
			name: "counter offer",
			event: &domain.AuctionEvent{Type: domain.EventDecisionMade, AuctionID: "a1", BidderID: "alice", Amount: dec(450),
				WinningBid: winning, Decision: domain.DecisionCounterOffered, CounterExpiresAt: &expires, Timestamp: t0},
			recipients: []string{"alice"},
			types:      []string{"counter_offer"},
			contains:   "counter offer of $450.00 for auction a1. You have 24 hours to respond.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Build(tt.event)
			require.Len(t, got, len(tt.recipients))
			for i, n := range got {
				assert.Equal(t, tt.recipients[i], n.UserID)
				assert.Equal(t, tt.types[i], n.Type)
				assert.Equal(t, "a1", n.AuctionID)
				assert.NotEmpty(t, n.ID)
				assert.NotEmpty(t, n.Title)
			}
			if tt.contains != "" {
				assert.Contains(t, got[0].Message, tt.contains)
			}
		})
	}
}

func TestNotificationBuilder_Priorities(t *testing.T) {
	b := NewNotificationBuilder()

	outbid := b.Build(&domain.AuctionEvent{Type: domain.EventOutbid, AuctionID: "a1", BidderID: "bob"})
	require.Len(t, outbid, 1)
	assert.Equal(t, domain.PriorityHigh, outbid[0].Priority)

	rejected := b.Build(&domain.AuctionEvent{Type: domain.EventDecisionMade, AuctionID: "a1", BidderID: "bob", Decision: domain.DecisionRejected})
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.PriorityMedium, rejected[0].Priority)

	newBid := b.Build(&domain.AuctionEvent{Type: domain.EventNewBid, AuctionID: "a1", SellerID: "seller", Amount: dec(110)})
	require.Len(t, newBid, 1)
	assert.Equal(t, domain.PriorityHigh, newBid[0].Priority)

	extended := b.Build(&domain.AuctionEvent{Type: domain.EventAuctionExtended, AuctionID: "a1", SellerID: "seller", Priority: domain.PriorityMedium})
	require.Len(t, extended, 1)
	assert.Equal(t, domain.PriorityMedium, extended[0].Priority, "event priority wins")

	assert.Empty(t, b.Build(&domain.AuctionEvent{Type: "mystery", AuctionID: "a1", SellerID: "seller"}))
}
