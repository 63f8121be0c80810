package service

import (
	"context"
	"time"

	"booking-service/internal/access"
	"booking-service/internal/filestore"
	"booking-service/internal/models"
	"booking-service/internal/store"
)

// ReservationRepository is implemented by *store.Store.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, r *models.Reservation, paymentFor func(*models.Reservation) *models.Payment) (*models.Payment, error)
	UpdateReservation(ctx context.Context, id int64, mutate func(*models.Reservation) error) (*models.Reservation, []models.Payment, error)
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	ListReservations(ctx context.Context, f store.ReservationFilter) ([]models.Reservation, error)
}

// PaymentRepository is implemented by *store.Store.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, id int64, mutate func(*models.Payment) error) (*models.Payment, error)
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	ListPayments(ctx context.Context, f store.PaymentFilter) ([]models.Payment, error)
}

// NotificationRepository is implemented by *store.Store.
type NotificationRepository interface {
	InsertNotificationBatch(ctx context.Context, eventID, eventType string, batch []models.Notification) (bool, error)
	ListNotifications(ctx context.Context, recipientID int64, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, recipientID int64, ids []int64) (int64, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
}

// ResourceReader is the read side of the resource catalog.
type ResourceReader interface {
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	ListResources(ctx context.Context, activeOnly bool) ([]models.Resource, error)
}

// Authorizer is implemented by *access.Resolver.
type Authorizer interface {
	HasPermission(ctx context.Context, principal int64, action access.Action) (bool, error)
	IsOwner(principal int64, entity access.Owned) bool
}

// RecipientResolver is implemented by *access.Resolver.
type RecipientResolver interface {
	MembersWithRole(ctx context.Context, roles ...access.Role) ([]int64, error)
	ActiveMembers(ctx context.Context) ([]int64, error)
}

// EventPublisher is implemented by *broker.EventPublisher and *broker.InlinePublisher.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// IdempotencyStore is implemented by *redisclient.Client.
type IdempotencyStore interface {
	GetIdempotencyValue(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// FileStorage is implemented by *filestore.S3Store.
type FileStorage interface {
	Store(ctx context.Context, data []byte, meta filestore.Meta) (string, error)
	Delete(ctx context.Context, key string) error
	DownloadURL(ctx context.Context, key string) (string, error)
}
