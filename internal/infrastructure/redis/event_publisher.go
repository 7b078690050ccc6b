package redis

import (
	"context"
	"encoding/json"

	"auction-engine/internal/domain"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
)

const DefaultSalesChannel = "auction_sales"

// EventPublisherImpl publishes engine events and sale confirmations as JSON
// over Redis pub/sub.
type EventPublisherImpl struct {
	client       *redis.Client
	channel      string
	salesChannel string
}

func NewEventPublisher(client *redis.Client, channel string) *EventPublisherImpl {
	return &EventPublisherImpl{
		client:       client,
		channel:      channel,
		salesChannel: DefaultSalesChannel,
	}
}

func (r *EventPublisherImpl) Emit(ctx context.Context, event *domain.AuctionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal auction event")
	}
	return errors.Wrapf(r.client.Publish(ctx, r.channel, string(payload)).Err(),
		"publish %s for %s", event.Type, event.AuctionID)
}

func (r *EventPublisherImpl) ConfirmSale(ctx context.Context, confirmation *domain.SaleConfirmation) error {
	payload, err := json.Marshal(confirmation)
	if err != nil {
		return errors.Wrap(err, "marshal sale confirmation")
	}
	return errors.Wrapf(r.client.Publish(ctx, r.salesChannel, string(payload)).Err(),
		"publish sale confirmation for %s", confirmation.AuctionID)
}
