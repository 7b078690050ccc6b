package mysql

import (
	"context"
	"database/sql"
	"encoding/json"

	"auction-engine/internal/domain"
	"auction-engine/pkg/utils"

	"github.com/cockroachdb/errors"
)

type MySQLNotificationRepository struct {
	db *sql.DB
}

func NewMySQLNotificationRepository(db *sql.DB) *MySQLNotificationRepository {
	return &MySQLNotificationRepository{db: db}
}

func (r *MySQLNotificationRepository) SaveNotification(ctx context.Context, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = utils.GenerateID("notif")
	}

	var data []byte
	if len(n.Data) > 0 {
		var err error
		if data, err = json.Marshal(n.Data); err != nil {
			return errors.Wrap(err, "marshal notification data")
		}
	}

	query := `
        INSERT INTO notifications (id, user_id, auction_id, type, title, message, priority, data, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.UserID, nullString(n.AuctionID), n.Type, n.Title, n.Message,
		string(n.Priority), data, n.CreatedAt)
	return errors.Wrapf(err, "insert notification for %s", n.UserID)
}

func (r *MySQLNotificationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
        SELECT id, user_id, auction_id, type, title, message, priority, data, created_at
        FROM notifications
        WHERE user_id = ?
        ORDER BY created_at DESC
        LIMIT ?
    `
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "list notifications for %s", userID)
	}
	defer rows.Close()

	var notifications []*domain.Notification
	for rows.Next() {
		var (
			n         domain.Notification
			auctionID sql.NullString
			priority  string
			data      []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &auctionID, &n.Type, &n.Title, &n.Message,
			&priority, &data, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.AuctionID = auctionID.String
		n.Priority = domain.Priority(priority)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, errors.Wrapf(err, "decode notification %s", n.ID)
			}
		}
		notifications = append(notifications, &n)
	}
	return notifications, rows.Err()
}
