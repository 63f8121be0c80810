package access

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// MemberDirectory is the read side of member and role data.
type MemberDirectory interface {
	GetMemberAccess(ctx context.Context, memberID int64) (*models.MemberAccess, error)
	ListActiveMemberIDs(ctx context.Context) ([]int64, error)
	ListActiveMemberIDsWithRoles(ctx context.Context, roles []string) ([]int64, error)
}

// Owned is an entity with a single owning member.
type Owned interface {
	OwnerID() int64
}

// Resolver answers permission and recipient questions, caching directory reads.
type Resolver struct {
	dir    MemberDirectory
	cache  *cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver creates a resolver whose cached answers live for ttl.
// A ttl of zero or less disables caching.
func NewResolver(dir MemberDirectory, ttl time.Duration) *Resolver {
	return &Resolver{
		dir:    dir,
		cache:  cache.New(ttl, 2*ttl),
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

func (r *Resolver) cached(key string) (interface{}, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	return r.cache.Get(key)
}

func (r *Resolver) remember(key string, v interface{}) {
	if r.ttl > 0 {
		r.cache.SetDefault(key, v)
	}
}

// Roles returns the roles of an active member. Inactive or unknown members have none;
// active members without an assigned role are plain members.
func (r *Resolver) Roles(ctx context.Context, memberID int64) ([]Role, error) {
	key := fmt.Sprintf("roles:%d", memberID)
	if v, ok := r.cached(key); ok {
		return v.([]Role), nil
	}

	m, err := r.dir.GetMemberAccess(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load member %d: %w", memberID, err)
	}

	var roles []Role
	if m != nil && m.Active {
		for _, name := range m.Roles {
			if role, ok := ParseRole(name); ok {
				roles = append(roles, role)
			} else {
				r.logger.Warn("Ignoring unknown role", zap.Int64("member_id", memberID), zap.String("role", name))
			}
		}
		if len(roles) == 0 {
			roles = []Role{RoleMember}
		}
	}

	r.remember(key, roles)
	return roles, nil
}

// HasPermission reports whether any role of principal grants action.
func (r *Resolver) HasPermission(ctx context.Context, principal int64, action Action) (bool, error) {
	roles, err := r.Roles(ctx, principal)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if RoleAllows(role, action) {
			return true, nil
		}
	}
	return false, nil
}

// IsOwner reports whether principal owns entity.
func (r *Resolver) IsOwner(principal int64, entity Owned) bool {
	return entity != nil && principal != 0 && entity.OwnerID() == principal
}

// MembersWithRole returns active members holding any of roles.
func (r *Resolver) MembersWithRole(ctx context.Context, roles ...Role) ([]int64, error) {
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role))
	}
	sort.Strings(names)

	key := "holders:" + strings.Join(names, ",")
	if v, ok := r.cached(key); ok {
		return v.([]int64), nil
	}

	ids, err := r.dir.ListActiveMemberIDsWithRoles(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("failed to list members with roles %v: %w", names, err)
	}
	r.remember(key, ids)
	return ids, nil
}

// ActiveMembers returns every active member.
func (r *Resolver) ActiveMembers(ctx context.Context) ([]int64, error) {
	const key = "active"
	if v, ok := r.cached(key); ok {
		return v.([]int64), nil
	}

	ids, err := r.dir.ListActiveMemberIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active members: %w", err)
	}
	r.remember(key, ids)
	return ids, nil
}

// Invalidate drops every cached answer.
func (r *Resolver) Invalidate() {
	r.cache.Flush()
}
