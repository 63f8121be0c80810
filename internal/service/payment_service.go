package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/access"
	"booking-service/internal/apperr"
	"booking-service/internal/filestore"
	"booking-service/internal/models"
	"booking-service/internal/store"
	"booking-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var receiptExtensions = map[string]bool{".pdf": true, ".jpg": true, ".jpeg": true, ".png": true}

// PaymentService owns the payment state machine.
type PaymentService struct {
	repo            PaymentRepository
	authz           Authorizer
	files           FileStorage
	publisher       EventPublisher
	maxReceiptBytes int64
	logger          *zap.Logger
	now             func() time.Time
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	repo PaymentRepository,
	authz Authorizer,
	files FileStorage,
	publisher EventPublisher,
	maxReceiptBytes int64,
) *PaymentService {
	return &PaymentService{
		repo:            repo,
		authz:           authz,
		files:           files,
		publisher:       publisher,
		maxReceiptBytes: maxReceiptBytes,
		logger:          util.ComponentLogger("payments"),
		now:             time.Now,
	}
}

// CreateManualPaymentRequest records a fee payment entered by staff.
type CreateManualPaymentRequest struct {
	ResidentID int64                `json:"resident_id" binding:"required"`
	FeeID      int64                `json:"fee_id" binding:"required"`
	Amount     decimal.Decimal      `json:"amount"`
	Status     models.PaymentStatus `json:"status"`
	PaidAt     *time.Time           `json:"paid_at,omitempty"`
	ActorID    int64                `json:"-"`
}

// Receipt is an uploaded proof of payment.
type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ReviewRequest sets a payment status on behalf of a reviewer.
type ReviewRequest struct {
	PaymentID       int64                `json:"-"`
	ActorID         int64                `json:"-"`
	Status          models.PaymentStatus `json:"status" binding:"required"`
	Comment         string               `json:"comment"`
	ExpectedVersion int                  `json:"expected_version" binding:"required,min=1"`
}

// PaymentForReservation builds the payment a new reservation owes, or nil when
// the resource is free. An explicit positive amount overrides the hourly rate.
func (s *PaymentService) PaymentForReservation(r *models.Reservation, res *models.Resource, amount *decimal.Decimal) *models.Payment {
	rate, charged := res.Pricing().HourlyRate()
	if !charged {
		return nil
	}
	if amount != nil && amount.IsPositive() {
		rate = *amount
	}

	reservationID := r.ID
	return &models.Payment{
		ResidentID:    r.RequestedBy,
		Origin:        models.PaymentOriginReservation,
		ReservationID: &reservationID,
		Amount:        rate,
		Status:        models.PaymentStatusPending,
	}
}

// CreateManual records a fee payment. A (resident, fee) pair can only be recorded once.
func (s *PaymentService) CreateManual(ctx context.Context, req CreateManualPaymentRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreateManual",
		attribute.Int64("resident_id", req.ResidentID), attribute.Int64("fee_id", req.FeeID))
	defer span.End()

	if err := s.require(ctx, req.ActorID, access.ActionCreatePayment); err != nil {
		return nil, err
	}
	if req.ResidentID <= 0 || req.FeeID <= 0 {
		return nil, apperr.Validation("INVALID_PAYMENT", "resident and fee are required")
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("INVALID_AMOUNT", "amount must be positive")
	}
	if req.Status == "" {
		req.Status = models.PaymentStatusPending
	}
	if !req.Status.Valid() {
		return nil, apperr.Validation("INVALID_STATUS", "unknown payment status %q", req.Status)
	}

	feeID := req.FeeID
	p := &models.Payment{
		ResidentID: req.ResidentID,
		Origin:     models.PaymentOriginFee,
		FeeID:      &feeID,
		Amount:     req.Amount,
		Status:     req.Status,
		PaidAt:     req.PaidAt,
	}
	if p.Status == models.PaymentStatusPaid && p.PaidAt == nil {
		now := s.now()
		p.PaidAt = &now
	}

	if err := s.repo.CreatePayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrDuplicateFeePayment) {
			return nil, apperr.Conflict("DUPLICATE_FEE_PAYMENT",
				"a payment for fee %d already exists for resident %d", req.FeeID, req.ResidentID)
		}
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	util.PaymentsCreatedTotal.WithLabelValues(string(p.Origin)).Inc()
	s.logger.Info("Fee payment recorded",
		zap.Int64("payment_id", p.ID),
		zap.Int64("resident_id", p.ResidentID),
		zap.Int64("fee_id", feeID),
		zap.String("status", string(p.Status)))

	s.PublishCreated(ctx, p, req.ActorID)
	return p, nil
}

// UploadReceipt attaches a proof of payment and moves the payment to PENDING_REVIEW.
func (s *PaymentService) UploadReceipt(ctx context.Context, paymentID, residentID int64, receipt Receipt) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.UploadReceipt", attribute.Int64("payment_id", paymentID))
	defer span.End()

	current, err := s.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkReceiptOwner(residentID, current); err != nil {
		return nil, err
	}
	if err := s.validateReceipt(receipt); err != nil {
		return nil, err
	}

	key, err := s.files.Store(ctx, receipt.Data, filestore.Meta{
		Prefix:      "receipts",
		Filename:    receipt.Filename,
		ContentType: receipt.ContentType,
		OwnerID:     residentID,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to store receipt: %w", err)
	}

	var previous models.PaymentStatus
	updated, err := s.repo.UpdatePayment(ctx, paymentID, func(p *models.Payment) error {
		if err := s.checkReceiptOwner(residentID, p); err != nil {
			return err
		}
		now := s.now()
		previous = p.Status
		p.ReceiptKey = &key
		p.ReceiptUploadedAt = &now
		p.Status = models.PaymentStatusPendingReview
		return nil
	})
	if err != nil {
		if delErr := s.files.Delete(ctx, key); delErr != nil {
			s.logger.Warn("Failed to remove orphaned receipt", zap.String("key", key), zap.Error(delErr))
		}
		return nil, s.translate(err, paymentID)
	}

	util.ReceiptUploadBytes.Observe(float64(len(receipt.Data)))
	util.PaymentTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
	s.logger.Info("Receipt uploaded", zap.Int64("payment_id", paymentID), zap.String("key", key))

	s.PublishStatusChanged(ctx, updated, previous, residentID)
	return updated, nil
}

func (s *PaymentService) checkReceiptOwner(residentID int64, p *models.Payment) error {
	if !s.authz.IsOwner(residentID, p) {
		return apperr.Forbidden("NOT_PAYMENT_OWNER", "only the resident who owes the payment can upload its receipt")
	}
	if p.Status != models.PaymentStatusPending {
		return apperr.InvalidState("PAYMENT_NOT_PENDING", "receipts can only be uploaded for pending payments")
	}
	return nil
}

func (s *PaymentService) validateReceipt(r Receipt) error {
	ext := filestore.Extension(r.Filename)
	if !receiptExtensions[ext] {
		return apperr.Validation("INVALID_RECEIPT_TYPE", "receipt must be a PDF, JPG or PNG file")
	}
	if len(r.Data) == 0 {
		return apperr.Validation("EMPTY_RECEIPT", "receipt file is empty")
	}
	if int64(len(r.Data)) > s.maxReceiptBytes {
		return apperr.Validation("RECEIPT_TOO_LARGE", "receipt exceeds %d MB", s.maxReceiptBytes/(1024*1024))
	}
	return nil
}

// Review sets the status of a payment. Any status may be chosen;
// ExpectedVersion is required and must match the stored version.
func (s *PaymentService) Review(ctx context.Context, req ReviewRequest) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Review",
		attribute.Int64("payment_id", req.PaymentID), attribute.String("status", string(req.Status)))
	defer span.End()

	if err := s.require(ctx, req.ActorID, access.ActionReviewPayment); err != nil {
		return nil, err
	}
	if !req.Status.Valid() {
		return nil, apperr.Validation("INVALID_STATUS", "unknown payment status %q", req.Status)
	}
	if req.ExpectedVersion < 1 {
		return nil, apperr.Validation("VERSION_REQUIRED", "expected_version of the payment being reviewed is required")
	}

	var previous models.PaymentStatus
	updated, err := s.repo.UpdatePayment(ctx, req.PaymentID, func(p *models.Payment) error {
		if p.Version != req.ExpectedVersion {
			return apperr.Conflict("STALE_PAYMENT",
				"payment %d changed since it was read (version %d, expected %d)", p.ID, p.Version, req.ExpectedVersion)
		}
		now := s.now()
		reviewer := req.ActorID
		previous = p.Status
		p.Status = req.Status
		p.ReviewedBy = &reviewer
		p.ReviewedAt = &now
		if strings.TrimSpace(req.Comment) != "" {
			comment := strings.TrimSpace(req.Comment)
			p.ReviewComment = &comment
		}
		if p.Status == models.PaymentStatusPaid && p.PaidAt == nil {
			p.PaidAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, s.translate(err, req.PaymentID)
	}

	s.logger.Info("Payment reviewed",
		zap.Int64("payment_id", updated.ID),
		zap.Int64("reviewer_id", req.ActorID),
		zap.String("from", string(previous)),
		zap.String("to", string(updated.Status)))

	if previous != updated.Status {
		util.PaymentTransitionsTotal.WithLabelValues(string(updated.Status)).Inc()
		s.PublishStatusChanged(ctx, updated, previous, req.ActorID)
	}
	return updated, nil
}

// Get returns a payment visible to principal.
func (s *PaymentService) Get(ctx context.Context, id, principal int64) (*models.Payment, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.authz.IsOwner(principal, p) {
		return p, nil
	}
	if err := s.require(ctx, principal, access.ActionViewAllPayments); err != nil {
		return nil, err
	}
	return p, nil
}

// ReceiptURL returns a temporary download link for the payment's receipt.
func (s *PaymentService) ReceiptURL(ctx context.Context, id, principal int64) (string, error) {
	p, err := s.Get(ctx, id, principal)
	if err != nil {
		return "", err
	}
	if p.ReceiptKey == nil {
		return "", apperr.NotFound("RECEIPT_NOT_FOUND", "payment %d has no receipt", id)
	}
	return s.files.DownloadURL(ctx, *p.ReceiptKey)
}

// ListMine returns the payments owed by residentID.
func (s *PaymentService) ListMine(ctx context.Context, residentID int64, f store.PaymentFilter) ([]models.Payment, error) {
	f.ResidentID = residentID
	return s.repo.ListPayments(ctx, f)
}

// ForReservation returns the payment created with the reservation, or nil
// when the booking was free.
func (s *PaymentService) ForReservation(ctx context.Context, reservationID int64) (*models.Payment, error) {
	list, err := s.repo.ListPayments(ctx, store.PaymentFilter{
		ReservationID: reservationID,
		Origin:        models.PaymentOriginReservation,
		Limit:         1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load payment of reservation %d: %w", reservationID, err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// ListAll returns payments of every resident.
func (s *PaymentService) ListAll(ctx context.Context, actorID int64, f store.PaymentFilter) ([]models.Payment, error) {
	if err := s.require(ctx, actorID, access.ActionViewAllPayments); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, f)
}

// PublishCreated announces a new payment. Publish failures are logged only.
func (s *PaymentService) PublishCreated(ctx context.Context, p *models.Payment, actorID int64) {
	event := &models.PaymentCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypePaymentCreated, actorID),
		PaymentID:     p.ID,
		ResidentID:    p.ResidentID,
		Origin:        p.Origin,
		ReservationID: p.ReservationID,
		FeeID:         p.FeeID,
		Amount:        p.Amount,
	}
	s.publish(ctx, event)
}

// PublishStatusChanged announces a payment status change. Publish failures are logged only.
func (s *PaymentService) PublishStatusChanged(ctx context.Context, p *models.Payment, previous models.PaymentStatus, actorID int64) {
	event := &models.PaymentStatusChangedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypePaymentStatusChanged, actorID),
		PaymentID:  p.ID,
		ResidentID: p.ResidentID,
		OldStatus:  previous,
		NewStatus:  p.Status,
	}
	s.publish(ctx, event)
}

// PublishCascaded announces a payment cancelled along with its reservation.
func (s *PaymentService) PublishCascaded(ctx context.Context, p *models.Payment, actorID int64) {
	s.publish(ctx, &models.PaymentStatusChangedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypePaymentStatusChanged, actorID),
		PaymentID:  p.ID,
		ResidentID: p.ResidentID,
		OldStatus:  models.PaymentStatusPending,
		NewStatus:  p.Status,
		Cascaded:   true,
	})
}

func (s *PaymentService) publish(ctx context.Context, event models.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		meta := event.Meta()
		s.logger.Error("Failed to publish payment event",
			zap.String("event_id", meta.EventID),
			zap.String("event_type", meta.EventType),
			zap.Error(err))
	}
}

func (s *PaymentService) load(ctx context.Context, id int64) (*models.Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, s.translate(err, id)
	}
	return p, nil
}

func (s *PaymentService) require(ctx context.Context, principal int64, action access.Action) error {
	ok, err := s.authz.HasPermission(ctx, principal, action)
	if err != nil {
		return fmt.Errorf("failed to check permission %s: %w", action, err)
	}
	if !ok {
		return apperr.Forbidden("PERMISSION_DENIED", "missing permission %s", action)
	}
	return nil
}

func (s *PaymentService) translate(err error, id int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("PAYMENT_NOT_FOUND", "payment %d not found", id)
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return fmt.Errorf("payment %d: %w", id, err)
}
