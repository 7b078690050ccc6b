package amqp

import (
	"context"
	"encoding/json"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	saleRoutingKey            = "auction.sale_confirmed"
	eventRoutingPrefix        = "auction."
	notificationRoutingPrefix = "notification."
)

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher forwards engine events, sale confirmations and built
// notifications to a durable topic exchange.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	log      logger.Logger
}

func Dial(url, exchange string, log logger.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open rabbitmq channel")
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}

	log.Info("Connected to RabbitMQ", "exchange", exchange)
	return &Publisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func newPublisher(ch channel, exchange string, log logger.Logger) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, log: log}
}

func (p *Publisher) Emit(ctx context.Context, event *domain.AuctionEvent) error {
	return p.publish(ctx, eventRoutingPrefix+string(event.Type), event, event.Timestamp)
}

func (p *Publisher) ConfirmSale(ctx context.Context, confirmation *domain.SaleConfirmation) error {
	return p.publish(ctx, saleRoutingKey, confirmation, confirmation.AcceptedAt)
}

func (p *Publisher) PublishNotification(ctx context.Context, notification *domain.Notification) error {
	return p.publish(ctx, notificationRoutingPrefix+notification.Type, notification, notification.CreatedAt)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, body interface{}, at time.Time) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", routingKey)
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    at,
			Body:         payload,
		},
	)
	return errors.Wrapf(err, "publish %s", routingKey)
}

func (p *Publisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
