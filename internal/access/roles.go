// Package access resolves what a member may do from their board roles.
package access

// Role of a community member
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RolePresident Role = "PRESIDENT"
	RoleSecretary Role = "SECRETARY"
	RoleTreasurer Role = "TREASURER"
	RoleDelegate  Role = "DELEGATE"
	RoleMember    Role = "MEMBER"
)

// Action is a permission checked by the services.
type Action string

const (
	ActionCreateReservation   Action = "reservation:create"
	ActionManageReservation   Action = "reservation:manage"
	ActionViewAllReservations Action = "reservation:view_all"
	ActionCreatePayment       Action = "payment:create"
	ActionReviewPayment       Action = "payment:review"
	ActionViewAllPayments     Action = "payment:view_all"
)

var permissions = map[Role][]Action{
	RoleAdmin: {
		ActionCreateReservation, ActionManageReservation, ActionViewAllReservations,
		ActionCreatePayment, ActionReviewPayment, ActionViewAllPayments,
	},
	RoleTreasurer: {
		ActionCreateReservation, ActionManageReservation, ActionViewAllReservations,
		ActionCreatePayment, ActionReviewPayment, ActionViewAllPayments,
	},
	RolePresident: {ActionCreateReservation, ActionManageReservation, ActionViewAllReservations, ActionViewAllPayments},
	RoleSecretary: {ActionCreateReservation, ActionManageReservation, ActionViewAllReservations, ActionViewAllPayments},
	RoleDelegate:  {ActionCreateReservation, ActionManageReservation, ActionViewAllReservations, ActionViewAllPayments},
	RoleMember:    {ActionCreateReservation},
}

// BoardRoles receive operational notifications.
var BoardRoles = []Role{RolePresident, RoleDelegate, RoleSecretary, RoleTreasurer, RoleAdmin}

// RoleAllows reports whether role grants action.
func RoleAllows(role Role, action Action) bool {
	for _, a := range permissions[role] {
		if a == action {
			return true
		}
	}
	return false
}

// RolesWith returns every role granting action, in a stable order.
func RolesWith(action Action) []Role {
	var out []Role
	for _, r := range []Role{RoleAdmin, RolePresident, RoleSecretary, RoleTreasurer, RoleDelegate, RoleMember} {
		if RoleAllows(r, action) {
			out = append(out, r)
		}
	}
	return out
}

// ParseRole maps a stored role name, ignoring unknown ones.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	if _, ok := permissions[r]; ok {
		return r, true
	}
	return "", false
}
