package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResourceKind decides which booking fields are mandatory.
type ResourceKind string

const (
	ResourceKindCourt ResourceKind = "COURT"
	ResourceKindHall  ResourceKind = "HALL"
)

// Resource is a bookable facility. It is owned by the external catalog and read-only here.
type Resource struct {
	ID           int64               `db:"id" json:"id"`
	Name         string              `db:"name" json:"name"`
	Kind         ResourceKind        `db:"kind" json:"kind"`
	PricePerHour decimal.NullDecimal `db:"price_per_hour" json:"price_per_hour"`
	Active       bool                `db:"active" json:"active"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// Pricing returns the tagged price of the resource. A null or non-positive column is Free.
func (r *Resource) Pricing() Pricing {
	if !r.PricePerHour.Valid {
		return Free()
	}
	return PerHour(r.PricePerHour.Decimal)
}

// ReservationStatus of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusApproved  ReservationStatus = "APPROVED"
	ReservationStatusRejected  ReservationStatus = "REJECTED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationStatusPending, ReservationStatusApproved, ReservationStatusRejected, ReservationStatusCancelled:
		return true
	}
	return false
}

// Active statuses hold their time slot.
func (s ReservationStatus) Active() bool {
	return s == ReservationStatusPending || s == ReservationStatusApproved
}

// CanTransitionTo reports whether staff may move a reservation from s to next.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	switch s {
	case ReservationStatusPending:
		return next == ReservationStatusApproved ||
			next == ReservationStatusRejected ||
			next == ReservationStatusCancelled
	case ReservationStatusApproved:
		return next == ReservationStatusCancelled
	}
	return false
}

// Reservation is a claim on a resource over the half-open interval [StartAt, EndAt).
type Reservation struct {
	ID           int64             `db:"id" json:"id"`
	ResourceID   int64             `db:"resource_id" json:"resource_id"`
	RequestedBy  int64             `db:"requested_by" json:"requested_by"`
	Title        string            `db:"title" json:"title"`
	Notes        string            `db:"notes" json:"notes"`
	StartAt      time.Time         `db:"start_at" json:"start_at"`
	EndAt        time.Time         `db:"end_at" json:"end_at"`
	Status       ReservationStatus `db:"status" json:"status"`
	ApprovedBy   *int64            `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt   *time.Time        `db:"approved_at" json:"approved_at,omitempty"`
	CancelledAt  *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelReason *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// OwnerID returns the member that requested the reservation.
func (r *Reservation) OwnerID() int64 { return r.RequestedBy }

// Overlaps reports whether the reservation intersects [start, end).
func (r *Reservation) Overlaps(start, end time.Time) bool {
	return r.StartAt.Before(end) && r.EndAt.After(start)
}

// PaymentOrigin tells a recurring due apart from a reservation debt.
type PaymentOrigin string

const (
	PaymentOriginFee         PaymentOrigin = "FEE"
	PaymentOriginReservation PaymentOrigin = "RESERVATION"
)

// PaymentStatus of a payment
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusPendingReview PaymentStatus = "PENDING_REVIEW"
	PaymentStatusPaid          PaymentStatus = "PAID"
	PaymentStatusCancelled     PaymentStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPendingReview, PaymentStatusPaid, PaymentStatusCancelled:
		return true
	}
	return false
}

// Payment is a monetary obligation of a resident.
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	ResidentID        int64           `db:"resident_id" json:"resident_id"`
	Origin            PaymentOrigin   `db:"origin" json:"origin"`
	FeeID             *int64          `db:"fee_id" json:"fee_id,omitempty"`
	ReservationID     *int64          `db:"reservation_id" json:"reservation_id,omitempty"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Status            PaymentStatus   `db:"status" json:"status"`
	ReceiptKey        *string         `db:"receipt_key" json:"receipt_key,omitempty"`
	ReceiptUploadedAt *time.Time      `db:"receipt_uploaded_at" json:"receipt_uploaded_at,omitempty"`
	ReviewedBy        *int64          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time      `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewComment     *string         `db:"review_comment" json:"review_comment,omitempty"`
	PaidAt            *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	Version           int             `db:"version" json:"version"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// OwnerID returns the resident that owes the payment.
func (p *Payment) OwnerID() int64 { return p.ResidentID }

// NotificationType tags inbox rows
type NotificationType string

const (
	NotificationTypeReservation  NotificationType = "RESERVATION"
	NotificationTypePayment      NotificationType = "PAYMENT"
	NotificationTypeAnnouncement NotificationType = "ANNOUNCEMENT"
	NotificationTypeIncident     NotificationType = "INCIDENT"
	NotificationTypeMeeting      NotificationType = "MEETING"
	NotificationTypeInscription  NotificationType = "INSCRIPTION"
)

// Notification is a pull-based inbox row.
type Notification struct {
	ID          int64            `db:"id" json:"id"`
	RecipientID int64            `db:"recipient_id" json:"recipient_id"`
	Type        NotificationType `db:"type" json:"type"`
	Message     string           `db:"message" json:"message"`
	Link        string           `db:"link" json:"link"`
	IsRead      bool             `db:"is_read" json:"is_read"`
	IsImportant bool             `db:"is_important" json:"is_important"`
	EventID     string           `db:"event_id" json:"event_id"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// MemberAccess is the access-relevant view of a member.
type MemberAccess struct {
	MemberID int64    `db:"member_id"`
	Active   bool     `db:"active"`
	Roles    []string `db:"-"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
