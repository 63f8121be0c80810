package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"booking-service/internal/access"
	"booking-service/internal/apperr"
	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	minHallTitleLen = 3
	minHallNotesLen = 10
	idempotencyLock = 10 * time.Second
)

// ReservationConfig carries the tunables of the reservation engine.
type ReservationConfig struct {
	DefaultDuration time.Duration
	IdempotencyTTL  time.Duration
}

// ReservationService owns the reservation state machine.
type ReservationService struct {
	repo      ReservationRepository
	catalog   *Catalog
	ledger    *PaymentService
	authz     Authorizer
	publisher EventPublisher
	idem      IdempotencyStore
	cfg       ReservationConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewReservationService creates a new reservation service. idem may be nil.
func NewReservationService(
	repo ReservationRepository,
	catalog *Catalog,
	ledger *PaymentService,
	authz Authorizer,
	publisher EventPublisher,
	idem IdempotencyStore,
	cfg ReservationConfig,
) *ReservationService {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = time.Hour
	}
	return &ReservationService{
		repo:      repo,
		catalog:   catalog,
		ledger:    ledger,
		authz:     authz,
		publisher: publisher,
		idem:      idem,
		cfg:       cfg,
		logger:    util.ComponentLogger("reservations"),
		now:       time.Now,
	}
}

// CreateReservationRequest represents a request to book a resource
type CreateReservationRequest struct {
	ResourceID     int64            `json:"resource_id" binding:"required"`
	RequesterID    int64            `json:"-"`
	Start          time.Time        `json:"start" binding:"required"`
	End            time.Time        `json:"end"`
	Title          string           `json:"title"`
	Notes          string           `json:"notes"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	IdempotencyKey string           `json:"-"`
}

// CreateReservationResponse is the stored reservation and the payment it created, if any.
type CreateReservationResponse struct {
	Reservation *models.Reservation `json:"reservation"`
	Payment     *models.Payment     `json:"payment,omitempty"`
	Replayed    bool                `json:"-"`
}

// ManageRequest moves a reservation on behalf of staff.
type ManageRequest struct {
	ReservationID int64                    `json:"-"`
	ActorID       int64                    `json:"-"`
	Status        models.ReservationStatus `json:"status" binding:"required"`
	Reason        string                   `json:"reason"`
}

// Create books a resource for the requester as a PENDING reservation.
func (s *ReservationService) Create(ctx context.Context, req CreateReservationRequest) (*CreateReservationResponse, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Create",
		attribute.Int64("resource_id", req.ResourceID), attribute.Int64("requester_id", req.RequesterID))
	defer span.End()

	if req.IdempotencyKey != "" && s.idem != nil {
		if resp, ok, err := s.replay(ctx, req); err != nil || ok {
			return resp, err
		}
		lockKey := s.idempotencyKey(req)
		token, acquired, err := s.idem.AcquireLock(ctx, lockKey, idempotencyLock)
		if err != nil {
			return nil, fmt.Errorf("failed to lock idempotency key: %w", err)
		}
		if !acquired {
			return nil, apperr.Conflict("REQUEST_IN_PROGRESS", "a request with this idempotency key is in progress")
		}
		defer func() {
			if err := s.idem.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
				s.logger.Warn("Failed to release idempotency lock", zap.String("key", lockKey), zap.Error(err))
			}
		}()
		if resp, ok, err := s.replay(ctx, req); err != nil || ok {
			return resp, err
		}
	}

	if err := s.require(ctx, req.RequesterID, access.ActionCreateReservation); err != nil {
		return nil, err
	}

	resource, err := s.catalog.Current(ctx, req.ResourceID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Validation("UNKNOWN_RESOURCE", "resource %d does not exist", req.ResourceID)
		}
		return nil, err
	}

	r, err := s.buildReservation(req, resource)
	if err != nil {
		util.ReservationsRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	started := time.Now()
	payment, err := s.repo.CreateReservation(ctx, r, func(saved *models.Reservation) *models.Payment {
		return s.ledger.PaymentForReservation(saved, resource, req.Amount)
	})
	util.ReservationCreateLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOverlap):
			util.ReservationsRejectedTotal.WithLabelValues("overlap").Inc()
			return nil, apperr.Conflict("RESERVATION_OVERLAP",
				"%s is already booked between %s and %s", resource.Name,
				r.StartAt.Format(time.RFC3339), r.EndAt.Format(time.RFC3339))
		case errors.Is(err, store.ErrOutstandingDebt):
			util.ReservationsRejectedTotal.WithLabelValues("outstanding_debt").Inc()
			return nil, apperr.Conflict("OUTSTANDING_DEBT",
				"settle your pending reservation payment before booking again")
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	util.ReservationsCreatedTotal.Inc()
	s.logger.Info("Reservation created",
		zap.Int64("reservation_id", r.ID),
		zap.Int64("resource_id", r.ResourceID),
		zap.Int64("requester_id", r.RequestedBy),
		zap.Bool("chargeable", payment != nil))

	s.publish(ctx, &models.ReservationCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeReservationCreated, req.RequesterID),
		ReservationID: r.ID,
		ResourceID:    r.ResourceID,
		ResourceName:  resource.Name,
		RequestedBy:   r.RequestedBy,
		StartAt:       r.StartAt,
		EndAt:         r.EndAt,
	})
	if payment != nil {
		util.PaymentsCreatedTotal.WithLabelValues(string(payment.Origin)).Inc()
		s.ledger.PublishCreated(ctx, payment, req.RequesterID)
	}

	if req.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.SetIdempotencyKey(ctx, s.idempotencyKey(req), r.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("key", req.IdempotencyKey), zap.Error(err))
		}
	}

	return &CreateReservationResponse{Reservation: r, Payment: payment}, nil
}

func (s *ReservationService) idempotencyKey(req CreateReservationRequest) string {
	return "reservation:" + strconv.FormatInt(req.RequesterID, 10) + ":" + req.IdempotencyKey
}

// replay returns the reservation stored under the request's idempotency key.
func (s *ReservationService) replay(ctx context.Context, req CreateReservationRequest) (*CreateReservationResponse, bool, error) {
	val, ok, err := s.idem.GetIdempotencyValue(ctx, s.idempotencyKey(req))
	if err != nil {
		return nil, false, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt idempotency value %q: %w", val, err)
	}
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, false, s.translate(err, id)
	}
	payment, err := s.ledger.ForReservation(ctx, r.ID)
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("Duplicate reservation request detected",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.Int64("reservation_id", r.ID))
	return &CreateReservationResponse{Reservation: r, Payment: payment, Replayed: true}, true, nil
}

func (s *ReservationService) buildReservation(req CreateReservationRequest, resource *models.Resource) (*models.Reservation, error) {
	if !resource.Active {
		return nil, apperr.Validation("RESOURCE_INACTIVE", "%s is not available for booking", resource.Name)
	}
	if req.Start.IsZero() {
		return nil, apperr.Validation("MISSING_START", "start time is required")
	}
	end := req.End
	if end.IsZero() {
		end = req.Start.Add(s.cfg.DefaultDuration)
	}
	if !req.Start.Before(end) {
		return nil, apperr.Validation("INVALID_INTERVAL", "start must be before end")
	}

	title := strings.TrimSpace(req.Title)
	notes := strings.TrimSpace(req.Notes)
	switch resource.Kind {
	case models.ResourceKindHall:
		if len([]rune(title)) < minHallTitleLen {
			return nil, apperr.Validation("TITLE_REQUIRED", "event name must be at least %d characters", minHallTitleLen)
		}
		if len([]rune(notes)) < minHallNotesLen {
			return nil, apperr.Validation("NOTES_REQUIRED", "describe the event in at least %d characters", minHallNotesLen)
		}
	default:
		if title == "" {
			title = "Use of " + resource.Name
		}
	}

	return &models.Reservation{
		ResourceID:  resource.ID,
		RequestedBy: req.RequesterID,
		Title:       title,
		Notes:       notes,
		StartAt:     req.Start.UTC(),
		EndAt:       end.UTC(),
		Status:      models.ReservationStatusPending,
	}, nil
}

// Cancel lets the requester withdraw their own PENDING reservation.
func (s *ReservationService) Cancel(ctx context.Context, reservationID, requesterID int64, reason string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Cancel", attribute.Int64("reservation_id", reservationID))
	defer span.End()

	return s.transition(ctx, reservationID, requesterID, func(r *models.Reservation) error {
		if !s.authz.IsOwner(requesterID, r) {
			return apperr.Forbidden("NOT_RESERVATION_OWNER", "only the requester can cancel this reservation")
		}
		if r.Status != models.ReservationStatusPending {
			return apperr.InvalidState("RESERVATION_NOT_PENDING", "only pending reservations can be cancelled")
		}
		s.markCancelled(r, reason)
		return nil
	})
}

// Manage applies a staff decision to a reservation.
func (s *ReservationService) Manage(ctx context.Context, req ManageRequest) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Manage",
		attribute.Int64("reservation_id", req.ReservationID), attribute.String("status", string(req.Status)))
	defer span.End()

	if err := s.require(ctx, req.ActorID, access.ActionManageReservation); err != nil {
		return nil, err
	}
	if !req.Status.Valid() {
		return nil, apperr.Validation("INVALID_STATUS", "unknown reservation status %q", req.Status)
	}

	return s.transition(ctx, req.ReservationID, req.ActorID, func(r *models.Reservation) error {
		if !r.Status.CanTransitionTo(req.Status) {
			return apperr.InvalidState("ILLEGAL_TRANSITION", "cannot move a %s reservation to %s", r.Status, req.Status)
		}
		switch req.Status {
		case models.ReservationStatusApproved:
			now := s.now()
			approver := req.ActorID
			r.Status = models.ReservationStatusApproved
			r.ApprovedBy = &approver
			r.ApprovedAt = &now
			r.CancelledAt = nil
		case models.ReservationStatusRejected:
			r.Status = models.ReservationStatusRejected
		case models.ReservationStatusCancelled:
			s.markCancelled(r, req.Reason)
		}
		return nil
	})
}

func (s *ReservationService) markCancelled(r *models.Reservation, reason string) {
	r.Status = models.ReservationStatusCancelled
	if r.CancelledAt == nil {
		now := s.now()
		r.CancelledAt = &now
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		r.CancelReason = &reason
	}
}

// transition runs mutate under the row lock, then publishes the reservation
// change and one payment change per cascaded payment.
func (s *ReservationService) transition(ctx context.Context, id, actorID int64, mutate func(*models.Reservation) error) (*models.Reservation, error) {
	var previous models.ReservationStatus
	updated, cancelled, err := s.repo.UpdateReservation(ctx, id, func(r *models.Reservation) error {
		previous = r.Status
		return mutate(r)
	})
	if err != nil {
		return nil, s.translate(err, id)
	}

	util.ReservationTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	s.logger.Info("Reservation status changed",
		zap.Int64("reservation_id", updated.ID),
		zap.Int64("actor_id", actorID),
		zap.String("from", string(previous)),
		zap.String("to", string(updated.Status)),
		zap.Int("payments_cancelled", len(cancelled)))

	event := &models.ReservationStatusChangedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeReservationStatusChanged, actorID),
		ReservationID: updated.ID,
		RequestedBy:   updated.RequestedBy,
		OldStatus:     previous,
		NewStatus:     updated.Status,
	}
	if updated.CancelReason != nil {
		event.Reason = *updated.CancelReason
	}
	s.publish(ctx, event)

	for i := range cancelled {
		util.PaymentsCascadedTotal.Inc()
		s.ledger.PublishCascaded(ctx, &cancelled[i], actorID)
	}
	return updated, nil
}

// Get returns a reservation visible to principal.
func (s *ReservationService) Get(ctx context.Context, id, principal int64) (*models.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, s.translate(err, id)
	}
	if s.authz.IsOwner(principal, r) {
		return r, nil
	}
	if err := s.require(ctx, principal, access.ActionViewAllReservations); err != nil {
		return nil, err
	}
	return r, nil
}

// ListMine returns the requester's reservations.
func (s *ReservationService) ListMine(ctx context.Context, requesterID int64, f store.ReservationFilter) ([]models.Reservation, error) {
	f.RequestedBy = requesterID
	return s.repo.ListReservations(ctx, f)
}

// ListAll returns reservations of every member.
func (s *ReservationService) ListAll(ctx context.Context, actorID int64, f store.ReservationFilter) ([]models.Reservation, error) {
	if err := s.require(ctx, actorID, access.ActionViewAllReservations); err != nil {
		return nil, err
	}
	return s.repo.ListReservations(ctx, f)
}

func (s *ReservationService) publish(ctx context.Context, event models.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		meta := event.Meta()
		s.logger.Error("Failed to publish reservation event",
			zap.String("event_id", meta.EventID),
			zap.String("event_type", meta.EventType),
			zap.Error(err))
	}
}

func (s *ReservationService) require(ctx context.Context, principal int64, action access.Action) error {
	ok, err := s.authz.HasPermission(ctx, principal, action)
	if err != nil {
		return fmt.Errorf("failed to check permission %s: %w", action, err)
	}
	if !ok {
		return apperr.Forbidden("PERMISSION_DENIED", "missing permission %s", action)
	}
	return nil
}

func (s *ReservationService) translate(err error, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("RESERVATION_NOT_FOUND", "reservation %d not found", id)
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return fmt.Errorf("reservation %d: %w", id, err)
}
