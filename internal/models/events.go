package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeReservationCreated       = "RESERVATION_CREATED"
	EventTypeReservationStatusChanged = "RESERVATION_STATUS_CHANGED"
	EventTypePaymentCreated           = "PAYMENT_CREATED"
	EventTypePaymentStatusChanged     = "PAYMENT_STATUS_CHANGED"
	EventTypeAnnouncementPublished    = "ANNOUNCEMENT_PUBLISHED"
	EventTypeIncidentReported         = "INCIDENT_REPORTED"
	EventTypeMeetingScheduled         = "MEETING_SCHEDULED"
	EventTypeInscriptionSubmitted     = "INSCRIPTION_SUBMITTED"
)

// Event is implemented by every domain event.
type Event interface {
	Meta() BaseEvent
	// PartitionKey keeps events of one aggregate ordered on the topic.
	PartitionKey() string
}

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   int64     `json:"actor_id,omitempty"`
}

// NewBaseEvent stamps a fresh event id and time.
func NewBaseEvent(eventType string, actorID int64) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		ActorID:   actorID,
	}
}

func (b BaseEvent) Meta() BaseEvent { return b }

// ReservationCreatedEvent published when a reservation is stored as PENDING
type ReservationCreatedEvent struct {
	BaseEvent
	ReservationID int64     `json:"reservation_id"`
	ResourceID    int64     `json:"resource_id"`
	ResourceName  string    `json:"resource_name"`
	RequestedBy   int64     `json:"requested_by"`
	StartAt       time.Time `json:"start_at"`
	EndAt         time.Time `json:"end_at"`
}

func (e *ReservationCreatedEvent) PartitionKey() string {
	return fmt.Sprintf("reservation-%d", e.ReservationID)
}

// ReservationStatusChangedEvent published on approve, reject and cancel
type ReservationStatusChangedEvent struct {
	BaseEvent
	ReservationID int64             `json:"reservation_id"`
	RequestedBy   int64             `json:"requested_by"`
	OldStatus     ReservationStatus `json:"old_status"`
	NewStatus     ReservationStatus `json:"new_status"`
	Reason        string            `json:"reason,omitempty"`
}

func (e *ReservationStatusChangedEvent) PartitionKey() string {
	return fmt.Sprintf("reservation-%d", e.ReservationID)
}

// PaymentCreatedEvent published for reservation and fee payments
type PaymentCreatedEvent struct {
	BaseEvent
	PaymentID     int64           `json:"payment_id"`
	ResidentID    int64           `json:"resident_id"`
	Origin        PaymentOrigin   `json:"origin"`
	ReservationID *int64          `json:"reservation_id,omitempty"`
	FeeID         *int64          `json:"fee_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
}

func (e *PaymentCreatedEvent) PartitionKey() string {
	return fmt.Sprintf("payment-%d", e.PaymentID)
}

// PaymentStatusChangedEvent published by receipt upload, review and cascade
type PaymentStatusChangedEvent struct {
	BaseEvent
	PaymentID  int64         `json:"payment_id"`
	ResidentID int64         `json:"resident_id"`
	OldStatus  PaymentStatus `json:"old_status"`
	NewStatus  PaymentStatus `json:"new_status"`
	// Cascaded marks a cancellation caused by the parent reservation being cancelled.
	Cascaded bool `json:"cascaded,omitempty"`
}

func (e *PaymentStatusChangedEvent) PartitionKey() string {
	return fmt.Sprintf("payment-%d", e.PaymentID)
}

// AnnouncementPublishedEvent comes from the announcements module
type AnnouncementPublishedEvent struct {
	BaseEvent
	AnnouncementID int64  `json:"announcement_id"`
	Title          string `json:"title"`
}

func (e *AnnouncementPublishedEvent) PartitionKey() string {
	return fmt.Sprintf("announcement-%d", e.AnnouncementID)
}

// IncidentReportedEvent comes from the incidents module
type IncidentReportedEvent struct {
	BaseEvent
	IncidentID int64  `json:"incident_id"`
	Title      string `json:"title"`
}

func (e *IncidentReportedEvent) PartitionKey() string {
	return fmt.Sprintf("incident-%d", e.IncidentID)
}

// MeetingScheduledEvent comes from the meetings module
type MeetingScheduledEvent struct {
	BaseEvent
	MeetingID   int64     `json:"meeting_id"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (e *MeetingScheduledEvent) PartitionKey() string {
	return fmt.Sprintf("meeting-%d", e.MeetingID)
}

// InscriptionSubmittedEvent comes from the membership sign-up flow
type InscriptionSubmittedEvent struct {
	BaseEvent
	InscriptionID int64  `json:"inscription_id"`
	ApplicantName string `json:"applicant_name"`
}

func (e *InscriptionSubmittedEvent) PartitionKey() string {
	return fmt.Sprintf("inscription-%d", e.InscriptionID)
}

// DecodeEvent unmarshals a wire payload into its concrete event type.
func DecodeEvent(data []byte) (Event, error) {
	var base BaseEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	var event Event
	switch base.EventType {
	case EventTypeReservationCreated:
		event = &ReservationCreatedEvent{}
	case EventTypeReservationStatusChanged:
		event = &ReservationStatusChangedEvent{}
	case EventTypePaymentCreated:
		event = &PaymentCreatedEvent{}
	case EventTypePaymentStatusChanged:
		event = &PaymentStatusChangedEvent{}
	case EventTypeAnnouncementPublished:
		event = &AnnouncementPublishedEvent{}
	case EventTypeIncidentReported:
		event = &IncidentReportedEvent{}
	case EventTypeMeetingScheduled:
		event = &MeetingScheduledEvent{}
	case EventTypeInscriptionSubmitted:
		event = &InscriptionSubmittedEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", base.EventType)
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s event: %w", base.EventType, err)
	}
	return event, nil
}
