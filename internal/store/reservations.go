package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"booking-service/internal/models"
)

// ReservationFilter narrows reservation listings. Zero fields are ignored.
type ReservationFilter struct {
	RequestedBy int64
	ResourceID  int64
	Status      models.ReservationStatus
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// CreateReservation stores r as a new reservation together with the payment
// returned by paymentFor, all in one transaction. The requester and resource
// advisory locks are always taken in that order.
func (s *Store) CreateReservation(
	ctx context.Context,
	r *models.Reservation,
	paymentFor func(*models.Reservation) *models.Payment,
) (*models.Payment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := advisoryLock(ctx, tx, lockNamespaceRequester, r.RequestedBy); err != nil {
		return nil, err
	}
	if err := advisoryLock(ctx, tx, lockNamespaceResource, r.ResourceID); err != nil {
		return nil, err
	}

	var overlaps bool
	err = tx.GetContext(ctx, &overlaps, `
		SELECT EXISTS(
			SELECT 1 FROM reservations
			WHERE resource_id = $1 AND status IN ('PENDING', 'APPROVED')
			  AND start_at < $2 AND end_at > $3)`,
		r.ResourceID, r.EndAt, r.StartAt)
	if err != nil {
		return nil, fmt.Errorf("failed to check overlap: %w", err)
	}
	if overlaps {
		return nil, ErrOverlap
	}

	var owes bool
	err = tx.GetContext(ctx, &owes, `
		SELECT EXISTS(
			SELECT 1 FROM payments
			WHERE resident_id = $1 AND origin = 'RESERVATION' AND status = 'PENDING')`,
		r.RequestedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to check outstanding debt: %w", err)
	}
	if owes {
		return nil, ErrOutstandingDebt
	}

	query := `
		INSERT INTO reservations (resource_id, requested_by, title, notes, start_at, end_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	err = tx.GetContext(ctx, r, query,
		r.ResourceID, r.RequestedBy, r.Title, r.Notes, r.StartAt, r.EndAt, r.Status)
	if err != nil {
		return nil, translateError(err)
	}

	var payment *models.Payment
	if paymentFor != nil {
		payment = paymentFor(r)
	}
	if payment != nil {
		if err := insertPayment(ctx, tx, payment); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, translateError(err)
	}
	return payment, nil
}

// UpdateReservation locks the reservation, applies mutate and writes the result.
// Moving to CANCELLED cancels the reservation's PENDING payments in the same
// transaction; those payments are returned.
func (s *Store) UpdateReservation(
	ctx context.Context,
	id int64,
	mutate func(*models.Reservation) error,
) (*models.Reservation, []models.Payment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var r models.Reservation
	err = tx.GetContext(ctx, &r, "SELECT * FROM reservations WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock reservation: %w", err)
	}

	previous := r.Status
	if err := mutate(&r); err != nil {
		return nil, nil, err
	}

	err = tx.QueryRowxContext(ctx, `
		UPDATE reservations
		SET status = $1, approved_by = $2, approved_at = $3, cancelled_at = $4,
		    cancel_reason = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`,
		r.Status, r.ApprovedBy, r.ApprovedAt, r.CancelledAt, r.CancelReason, r.ID).Scan(&r.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update reservation: %w", translateError(err))
	}

	var cancelled []models.Payment
	if r.Status == models.ReservationStatusCancelled && previous != models.ReservationStatusCancelled {
		cancelled, err = cancelPendingPayments(ctx, tx, r.ID)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &r, cancelled, nil
}

// GetReservation retrieves a reservation by ID
func (s *Store) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, "SELECT * FROM reservations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReservations returns reservations matching f, earliest start first.
func (s *Store) ListReservations(ctx context.Context, f ReservationFilter) ([]models.Reservation, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.RequestedBy != 0 {
		conds = append(conds, "requested_by = ?")
		args = append(args, f.RequestedBy)
	}
	if f.ResourceID != 0 {
		conds = append(conds, "resource_id = ?")
		args = append(args, f.ResourceID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		conds = append(conds, "end_at > ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conds = append(conds, "start_at < ?")
		args = append(args, f.To)
	}

	query := "SELECT * FROM reservations"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_at, id" + pageClause(f.Limit, f.Offset, &args)

	reservations := []models.Reservation{}
	err := s.db.SelectContext(ctx, &reservations, s.db.Rebind(query), args...)
	return reservations, err
}

func pageClause(limit, offset int, args *[]interface{}) string {
	switch {
	case limit <= 0:
		limit = 50
	case limit > 200:
		limit = 200
	}
	clause := " LIMIT ?"
	*args = append(*args, limit)
	if offset > 0 {
		clause += " OFFSET ?"
		*args = append(*args, offset)
	}
	return clause
}
