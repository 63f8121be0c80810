package service

import (
	"context"
	"fmt"
	"sort"

	"booking-service/internal/access"
	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// fanoutPlan is the set of rows one event produces before actor exclusion.
type fanoutPlan struct {
	kind       models.NotificationType
	message    string
	link       string
	recipients []int64
	important  map[int64]bool
	exclude    []int64
}

// NotificationFanout turns domain events into inbox rows.
type NotificationFanout struct {
	repo       NotificationRepository
	recipients RecipientResolver
	logger     *zap.Logger
}

// NewNotificationFanout creates a new fan-out
func NewNotificationFanout(repo NotificationRepository, recipients RecipientResolver) *NotificationFanout {
	return &NotificationFanout{
		repo:       repo,
		recipients: recipients,
		logger:     util.ComponentLogger("fanout"),
	}
}

// Handle writes the notifications for event exactly once. All rows of an
// event land in one transaction; redelivered events are skipped.
func (f *NotificationFanout) Handle(ctx context.Context, event models.Event) error {
	meta := event.Meta()
	ctx, span := util.StartSpan(ctx, "NotificationFanout.Handle",
		attribute.String("event_id", meta.EventID), attribute.String("event_type", meta.EventType))
	defer span.End()

	// Cheap pre-check; the marker insert below stays authoritative.
	done, err := f.repo.IsEventProcessed(ctx, meta.EventID)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to check event %s: %w", meta.EventID, err)
	}
	if done {
		util.FanoutDuplicatesTotal.Inc()
		f.logger.Info("Event already fanned out", zap.String("event_id", meta.EventID))
		return nil
	}

	plan, err := f.plan(ctx, event)
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	var batch []models.Notification
	if plan != nil {
		batch = plan.build(meta)
	}

	inserted, err := f.repo.InsertNotificationBatch(ctx, meta.EventID, meta.EventType, batch)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to store notifications for %s: %w", meta.EventID, err)
	}
	if !inserted {
		util.FanoutDuplicatesTotal.Inc()
		f.logger.Info("Event already fanned out", zap.String("event_id", meta.EventID))
		return nil
	}

	util.NotificationsCreatedTotal.WithLabelValues(meta.EventType).Add(float64(len(batch)))
	f.logger.Info("Notifications created",
		zap.String("event_id", meta.EventID),
		zap.String("event_type", meta.EventType),
		zap.Int("count", len(batch)))
	return nil
}

func (f *NotificationFanout) plan(ctx context.Context, event models.Event) (*fanoutPlan, error) {
	switch e := event.(type) {
	case *models.ReservationCreatedEvent:
		managers, err := f.recipients.MembersWithRole(ctx, access.RolesWith(access.ActionManageReservation)...)
		if err != nil {
			return nil, err
		}
		return &fanoutPlan{
			kind: models.NotificationTypeReservation,
			message: fmt.Sprintf("New reservation request for %s on %s.",
				resourceLabel(e.ResourceName, e.ResourceID), e.StartAt.Format("2006-01-02 15:04")),
			link:       fmt.Sprintf("/reservations/%d", e.ReservationID),
			recipients: managers,
		}, nil

	case *models.ReservationStatusChangedEvent:
		return &fanoutPlan{
			kind:       models.NotificationTypeReservation,
			message:    reservationStatusMessage(e),
			link:       fmt.Sprintf("/reservations/%d", e.ReservationID),
			recipients: []int64{e.RequestedBy},
		}, nil

	case *models.PaymentCreatedEvent:
		board, err := f.recipients.MembersWithRole(ctx,
			access.RolePresident, access.RoleTreasurer, access.RoleDelegate, access.RoleSecretary)
		if err != nil {
			return nil, err
		}
		leads, err := f.recipients.MembersWithRole(ctx, access.RolePresident, access.RoleTreasurer)
		if err != nil {
			return nil, err
		}
		important := make(map[int64]bool, len(leads))
		for _, id := range leads {
			important[id] = true
		}
		return &fanoutPlan{
			kind:       models.NotificationTypePayment,
			message:    "There is a new payment pending review.",
			link:       "/payments/review",
			recipients: board,
			important:  important,
			exclude:    []int64{e.ResidentID},
		}, nil

	case *models.PaymentStatusChangedEvent:
		return paymentStatusPlan(ctx, f.recipients, e)

	case *models.AnnouncementPublishedEvent:
		members, err := f.recipients.ActiveMembers(ctx)
		if err != nil {
			return nil, err
		}
		return &fanoutPlan{
			kind:       models.NotificationTypeAnnouncement,
			message:    fmt.Sprintf("New announcement: %s", e.Title),
			link:       fmt.Sprintf("/announcements/%d", e.AnnouncementID),
			recipients: members,
		}, nil

	case *models.IncidentReportedEvent:
		board, err := f.recipients.MembersWithRole(ctx, access.BoardRoles...)
		if err != nil {
			return nil, err
		}
		return &fanoutPlan{
			kind:       models.NotificationTypeIncident,
			message:    fmt.Sprintf("New incident reported: %s", e.Title),
			link:       fmt.Sprintf("/incidents/%d", e.IncidentID),
			recipients: board,
		}, nil

	case *models.MeetingScheduledEvent:
		board, err := f.recipients.MembersWithRole(ctx, access.BoardRoles...)
		if err != nil {
			return nil, err
		}
		return &fanoutPlan{
			kind: models.NotificationTypeMeeting,
			message: fmt.Sprintf("Meeting scheduled: %s on %s.",
				e.Title, e.ScheduledAt.Format("2006-01-02 15:04")),
			link:       fmt.Sprintf("/meetings/%d", e.MeetingID),
			recipients: board,
		}, nil

	case *models.InscriptionSubmittedEvent:
		reviewers, err := f.recipients.MembersWithRole(ctx, access.RolePresident, access.RoleSecretary, access.RoleAdmin)
		if err != nil {
			return nil, err
		}
		important := make(map[int64]bool, len(reviewers))
		for _, id := range reviewers {
			important[id] = true
		}
		return &fanoutPlan{
			kind:       models.NotificationTypeInscription,
			message:    fmt.Sprintf("New membership application from %s.", e.ApplicantName),
			link:       fmt.Sprintf("/inscriptions/%d", e.InscriptionID),
			recipients: reviewers,
			important:  important,
		}, nil
	}

	f.logger.Warn("No fan-out rule for event", zap.String("event_type", event.Meta().EventType))
	return nil, nil
}

func paymentStatusPlan(ctx context.Context, recipients RecipientResolver, e *models.PaymentStatusChangedEvent) (*fanoutPlan, error) {
	switch e.NewStatus {
	case models.PaymentStatusPaid:
		return &fanoutPlan{
			kind:       models.NotificationTypePayment,
			message:    "Your payment was approved. You can now make another reservation.",
			link:       "/reservations/new",
			recipients: []int64{e.ResidentID},
		}, nil
	case models.PaymentStatusCancelled:
		if e.Cascaded {
			return &fanoutPlan{
				kind:       models.NotificationTypePayment,
				message:    "Your payment was cancelled because its reservation was cancelled.",
				link:       "/payments/mine",
				recipients: []int64{e.ResidentID},
			}, nil
		}
		return &fanoutPlan{
			kind:       models.NotificationTypePayment,
			message:    "Your payment was rejected. Check the details in your payments.",
			link:       "/payments/mine",
			recipients: []int64{e.ResidentID},
		}, nil
	case models.PaymentStatusPendingReview:
		reviewers, err := recipients.MembersWithRole(ctx, access.RolesWith(access.ActionReviewPayment)...)
		if err != nil {
			return nil, err
		}
		return &fanoutPlan{
			kind:       models.NotificationTypePayment,
			message:    "A payment receipt was uploaded and awaits review.",
			link:       fmt.Sprintf("/payments/%d", e.PaymentID),
			recipients: reviewers,
			exclude:    []int64{e.ResidentID},
		}, nil
	}
	return nil, nil
}

// build materializes the plan, deduplicating recipients and dropping the actor.
func (p *fanoutPlan) build(meta models.BaseEvent) []models.Notification {
	skip := map[int64]bool{0: true}
	if meta.ActorID != 0 {
		skip[meta.ActorID] = true
	}
	for _, id := range p.exclude {
		skip[id] = true
	}

	ids := make([]int64, 0, len(p.recipients))
	for _, id := range p.recipients {
		if skip[id] {
			continue
		}
		skip[id] = true
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	batch := make([]models.Notification, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, models.Notification{
			RecipientID: id,
			Type:        p.kind,
			Message:     p.message,
			Link:        p.link,
			IsImportant: p.important[id],
			EventID:     meta.EventID,
		})
	}
	return batch
}

func reservationStatusMessage(e *models.ReservationStatusChangedEvent) string {
	switch e.NewStatus {
	case models.ReservationStatusApproved:
		return "Your reservation was approved."
	case models.ReservationStatusRejected:
		return "Your reservation was rejected."
	case models.ReservationStatusCancelled:
		if e.Reason != "" {
			return fmt.Sprintf("Your reservation was cancelled: %s", e.Reason)
		}
		return "Your reservation was cancelled."
	}
	return fmt.Sprintf("Your reservation is now %s.", e.NewStatus)
}

func resourceLabel(name string, id int64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("resource #%d", id)
}

// ListInbox returns a member's notifications, newest first.
func (f *NotificationFanout) ListInbox(ctx context.Context, recipientID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	return f.repo.ListNotifications(ctx, recipientID, unreadOnly, limit)
}

// MarkRead flags notifications of recipientID as read.
func (f *NotificationFanout) MarkRead(ctx context.Context, recipientID int64, ids []int64) (int64, error) {
	return f.repo.MarkNotificationsRead(ctx, recipientID, ids)
}
