package domain

import (
	"time"
)

// Membership links a user to an organization with a role.
type Membership struct {
	ID        string
	UserID    string
	OrgID     string
	Role      Role
	CreatedAt time.Time
}

type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// Elevated reports whether r may manage tenant-wide automation (webhooks, audit trail, jobs).
func (r Role) Elevated() bool {
	return r == RoleOwner || r == RoleAdmin
}

// TenantWide reports whether dashboards for r cover the whole tenant rather than the caller's own records.
func (r Role) TenantWide() bool {
	return r.Elevated() || r == RoleManager
}
