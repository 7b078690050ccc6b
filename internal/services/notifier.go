package services

import (
	"context"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"go.uber.org/multierr"
)

// FanoutSink hands every event to each sink in turn. One failing sink does
// not keep the event from the others.
type FanoutSink struct {
	sinks []domain.NotificationSink
}

func NewFanoutSink(sinks ...domain.NotificationSink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

func (f *FanoutSink) Emit(ctx context.Context, event *domain.AuctionEvent) error {
	var errs error
	for _, sink := range f.sinks {
		errs = multierr.Append(errs, sink.Emit(ctx, event))
	}
	return errs
}

// LogSink writes events to the log. Used when no transport is configured.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (l *LogSink) Emit(ctx context.Context, event *domain.AuctionEvent) error {
	l.log.Info("Auction event", "type", event.Type, "auction_id", event.AuctionID,
		"bidder_id", event.BidderID, "amount", event.Amount, "priority", event.Priority)
	return nil
}

func (l *LogSink) ConfirmSale(ctx context.Context, confirmation *domain.SaleConfirmation) error {
	l.log.Info("Sale confirmed", "auction_id", confirmation.AuctionID, "winner_id", confirmation.WinnerID,
		"winning_bid", confirmation.WinningBid)
	return nil
}
