package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrNotFound            = errors.New("record not found")
	ErrOverlap             = errors.New("interval overlaps an active reservation")
	ErrOutstandingDebt     = errors.New("requester has an unpaid reservation payment")
	ErrDuplicateFeePayment = errors.New("payment for this fee already exists")
)

// Advisory lock namespaces for pg_advisory_xact_lock(namespace, key).
const (
	lockNamespaceResource  = 1
	lockNamespaceRequester = 2
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection.
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// lockKey folds an id into the int4 key space of pg_advisory_xact_lock.
// Colliding ids only serialize more than necessary.
func lockKey(id int64) int32 {
	return int32(id ^ (id >> 32))
}

func advisoryLock(ctx context.Context, tx *sqlx.Tx, namespace int32, id int64) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1, $2)", namespace, lockKey(id)); err != nil {
		return fmt.Errorf("failed to take advisory lock %d/%d: %w", namespace, id, err)
	}
	return nil
}

// translateError maps constraint violations onto the store sentinels.
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23P01":
		if pqErr.Constraint == "" || pqErr.Constraint == "reservations_no_overlap" {
			return ErrOverlap
		}
	case "23505":
		if pqErr.Constraint == "payments_fee_resident_unique" {
			return ErrDuplicateFeePayment
		}
	}
	return err
}
