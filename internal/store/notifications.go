package store

import (
	"context"
	"fmt"

	"booking-service/internal/models"

	"github.com/lib/pq"
)

// InsertNotificationBatch writes every notification of one event in a single
// transaction, guarded by the processed_events marker. It returns false when
// the event was already fanned out.
func (s *Store) InsertNotificationBatch(ctx context.Context, eventID, eventType string, batch []models.Notification) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	marked, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if marked == 0 {
		return false, nil
	}

	if len(batch) > 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO notifications (recipient_id, type, message, link, is_important, event_id)
			VALUES (:recipient_id, :type, :message, :link, :is_important, :event_id)`, batch)
		if err != nil {
			return false, fmt.Errorf("failed to insert notifications: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// ListNotifications returns a member's inbox, newest first.
func (s *Store) ListNotifications(ctx context.Context, recipientID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := "SELECT * FROM notifications WHERE recipient_id = ?"
	args := []interface{}{recipientID}
	if unreadOnly {
		query += " AND is_read = FALSE"
	}
	query += " ORDER BY created_at DESC, id DESC" + pageClause(limit, 0, &args)

	notifications := []models.Notification{}
	err := s.db.SelectContext(ctx, &notifications, s.db.Rebind(query), args...)
	return notifications, err
}

// MarkNotificationsRead flags the given notifications of recipientID as read.
func (s *Store) MarkNotificationsRead(ctx context.Context, recipientID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND id = ANY($2) AND is_read = FALSE",
		recipientID, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}
