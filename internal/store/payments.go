package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// PaymentFilter narrows payment listings. Zero fields are ignored.
type PaymentFilter struct {
	ResidentID    int64
	ReservationID int64
	Origin        models.PaymentOrigin
	Status        models.PaymentStatus
	Limit         int
	Offset        int
}

func insertPayment(ctx context.Context, tx *sqlx.Tx, p *models.Payment) error {
	query := `
		INSERT INTO payments (resident_id, origin, fee_id, reservation_id, amount, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, version, created_at, updated_at`

	err := tx.GetContext(ctx, p, query,
		p.ResidentID, p.Origin, p.FeeID, p.ReservationID, p.Amount, p.Status, p.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", translateError(err))
	}
	return nil
}

// CreatePayment stores a standalone payment.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertPayment(ctx, tx, p); err != nil {
		return err
	}
	return translateError(tx.Commit())
}

// UpdatePayment locks the payment row, applies mutate and bumps its version.
func (s *Store) UpdatePayment(ctx context.Context, id int64, mutate func(*models.Payment) error) (*models.Payment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var p models.Payment
	err = tx.GetContext(ctx, &p, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}

	if err := mutate(&p); err != nil {
		return nil, err
	}

	err = tx.QueryRowxContext(ctx, `
		UPDATE payments
		SET status = $1, receipt_key = $2, receipt_uploaded_at = $3, reviewed_by = $4,
		    reviewed_at = $5, review_comment = $6, paid_at = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $8
		RETURNING version, updated_at`,
		p.Status, p.ReceiptKey, p.ReceiptUploadedAt, p.ReviewedBy,
		p.ReviewedAt, p.ReviewComment, p.PaidAt, p.ID).Scan(&p.Version, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &p, nil
}

// cancelPendingPayments cancels the reservation's payments that are still PENDING.
// Rows a concurrent review already moved on are left alone.
func cancelPendingPayments(ctx context.Context, tx *sqlx.Tx, reservationID int64) ([]models.Payment, error) {
	cancelled := []models.Payment{}
	err := tx.SelectContext(ctx, &cancelled, `
		UPDATE payments
		SET status = 'CANCELLED', version = version + 1, updated_at = NOW()
		WHERE reservation_id = $1 AND status = 'PENDING'
		RETURNING *`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel payments of reservation %d: %w", reservationID, err)
	}
	return cancelled, nil
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p, "SELECT * FROM payments WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPayments returns payments matching f, newest first.
func (s *Store) ListPayments(ctx context.Context, f PaymentFilter) ([]models.Payment, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.ResidentID != 0 {
		conds = append(conds, "resident_id = ?")
		args = append(args, f.ResidentID)
	}
	if f.ReservationID != 0 {
		conds = append(conds, "reservation_id = ?")
		args = append(args, f.ReservationID)
	}
	if f.Origin != "" {
		conds = append(conds, "origin = ?")
		args = append(args, f.Origin)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT * FROM payments"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC" + pageClause(f.Limit, f.Offset, &args)

	payments := []models.Payment{}
	err := s.db.SelectContext(ctx, &payments, s.db.Rebind(query), args...)
	return payments, err
}
