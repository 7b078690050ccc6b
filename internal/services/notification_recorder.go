package services

import (
	"context"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"go.uber.org/multierr"
)

type NotificationForwarder interface {
	PublishNotification(ctx context.Context, notification *domain.Notification) error
}

// NotificationRecorder persists the notifications each event implies and,
// when configured, forwards them to a broker and to connected users.
type NotificationRecorder struct {
	builder   *NotificationBuilder
	repo      domain.NotificationRepository
	forwarder NotificationForwarder
	notifier  domain.UserNotifier
	log       logger.Logger
}

func NewNotificationRecorder(builder *NotificationBuilder, repo domain.NotificationRepository,
	log logger.Logger) *NotificationRecorder {
	return &NotificationRecorder{
		builder: builder,
		repo:    repo,
		log:     log,
	}
}

func (r *NotificationRecorder) SetForwarder(forwarder NotificationForwarder) {
	r.forwarder = forwarder
}

func (r *NotificationRecorder) SetUserNotifier(notifier domain.UserNotifier) {
	r.notifier = notifier
}

func (r *NotificationRecorder) Start(ctx context.Context, subscriber domain.EventSubscriber) error {
	r.log.Info("Starting notification recorder")
	return subscriber.SubscribeToAuctionEvents(ctx, func(event *domain.AuctionEvent) error {
		return r.Record(ctx, event)
	})
}

// Emit lets the recorder stand in as a NotificationSink in single-process setups.
func (r *NotificationRecorder) Emit(ctx context.Context, event *domain.AuctionEvent) error {
	return r.Record(ctx, event)
}

// Record stores every notification built from event. Storage failures are
// returned; forwarding failures are only logged.
func (r *NotificationRecorder) Record(ctx context.Context, event *domain.AuctionEvent) error {
	var errs error
	for _, n := range r.builder.Build(event) {
		if err := r.repo.SaveNotification(ctx, n); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r.log.Debug("Notification stored", "user_id", n.UserID, "type", n.Type, "auction_id", n.AuctionID)

		if r.forwarder != nil {
			if err := r.forwarder.PublishNotification(ctx, n); err != nil {
				r.log.Warn("Failed to forward notification", "user_id", n.UserID, "type", n.Type, "error", err)
			}
		}
		if r.notifier != nil {
			if err := r.notifier.NotifyUser(ctx, n.UserID, n); err != nil {
				r.log.Debug("User not reachable for live notification", "user_id", n.UserID, "error", err)
			}
		}
	}
	return errs
}
