package store

import (
	"context"
	"database/sql"
	"fmt"

	"booking-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// GetMemberAccess returns the active flag and role names of a member, or nil
// when the member does not exist.
func (s *Store) GetMemberAccess(ctx context.Context, memberID int64) (*models.MemberAccess, error) {
	var row struct {
		MemberID int64          `db:"member_id"`
		Active   bool           `db:"active"`
		Roles    pq.StringArray `db:"roles"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT m.id AS member_id, m.active,
		       COALESCE(array_agg(r.role) FILTER (WHERE r.role IS NOT NULL), '{}') AS roles
		FROM members m
		LEFT JOIN member_roles r ON r.member_id = m.id
		WHERE m.id = $1
		GROUP BY m.id, m.active`, memberID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.MemberAccess{MemberID: row.MemberID, Active: row.Active, Roles: []string(row.Roles)}, nil
}

// ListActiveMemberIDs returns every active member.
func (s *Store) ListActiveMemberIDs(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	err := s.db.SelectContext(ctx, &ids, "SELECT id FROM members WHERE active ORDER BY id")
	return ids, err
}

// ListActiveMemberIDsWithRoles returns active members holding any of roles.
func (s *Store) ListActiveMemberIDsWithRoles(ctx context.Context, roles []string) ([]int64, error) {
	if len(roles) == 0 {
		return []int64{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT DISTINCT m.id FROM members m
		JOIN member_roles r ON r.member_id = m.id
		WHERE m.active AND r.role IN (?)
		ORDER BY m.id`, roles)
	if err != nil {
		return nil, fmt.Errorf("failed to build role query: %w", err)
	}

	ids := []int64{}
	err = s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...)
	return ids, err
}
