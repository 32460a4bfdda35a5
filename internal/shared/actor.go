package shared

import "strings"

// Roles queried by the core. Role storage lives outside this module.
const (
	RoleRequester  = "requester"
	RoleDeptHead   = "dept_head"
	RolePurchasing = "purchasing"
	RoleFinance    = "finance"
	RoleGM         = "gm"
	RoleDirector   = "director"
	RoleWarehouse  = "warehouse"
	RoleAdmin      = "admin"
)

// Actor is the authorization context passed to every mutating operation.
type Actor interface {
	ID() int64
	HasRole(name string) bool
	HasAnyRole(names ...string) bool
	HasPermission(name string) bool
}

// StaticActor is an in-memory Actor, used by the CLI and tests.
type StaticActor struct {
	UserID      int64
	Roles       []string
	Permissions []string
}

// ID returns the user id.
func (a StaticActor) ID() int64 { return a.UserID }

// HasRole reports role membership.
func (a StaticActor) HasRole(name string) bool {
	for _, r := range a.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether any of names is held.
func (a StaticActor) HasAnyRole(names ...string) bool {
	for _, n := range names {
		if a.HasRole(n) {
			return true
		}
	}
	return false
}

// HasPermission reports permission membership.
func (a StaticActor) HasPermission(name string) bool {
	for _, p := range a.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// RequireAnyRole returns a forbidden error unless actor holds one of roles.
func RequireAnyRole(actor Actor, action string, roles ...string) error {
	if actor == nil {
		return Forbidden(action + ": missing actor")
	}
	if actor.HasAnyRole(roles...) {
		return nil
	}
	return Forbidden(action + ": requires role " + strings.Join(roles, " or "))
}
