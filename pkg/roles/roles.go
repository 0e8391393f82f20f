// Package roles defines the role and permission model.
//
// Roles form a strict hierarchy: superadmin > admin > user. Capability sets
// are built additively from the next lower role, so every permission granted
// to user is granted to admin, and every permission granted to admin is
// granted to superadmin. The policy is pure: no I/O, no errors.
package roles

// Role is a closed enumeration of account roles
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Valid reports whether r is one of the three known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Level returns the privilege rank of the role. Unknown roles rank as user.
func (r Role) Level() int {
	switch r {
	case RoleSuperAdmin:
		return 2
	case RoleAdmin:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r grants at least the privileges of other
func (r Role) AtLeast(other Role) bool {
	return r.Level() >= other.Level()
}

// ParseRole maps an arbitrary string to a Role. Anything unrecognized
// collapses to RoleUser (least privilege).
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin
	case RoleSuperAdmin:
		return RoleSuperAdmin
	default:
		return RoleUser
	}
}

// Permission represents a named capability
type Permission string

const (
	PermListingsView    Permission = "listings:view"
	PermListingsCreate  Permission = "listings:create"
	PermListingsEditOwn Permission = "listings:edit_own"
	PermListingsEditAll Permission = "listings:edit_all"
	PermMediaUpload     Permission = "media:upload"
	PermCreditApply     Permission = "credit:apply"
	PermCreditReview    Permission = "credit:review"
	PermAdminPanel      Permission = "admin:panel"
	PermUsersManage     Permission = "users:manage"
	PermAuditRead       Permission = "audit:read"
)

var userPermissions = []Permission{
	PermListingsView,
	PermCreditApply,
}

// adminPermissions extends userPermissions; superadminPermissions extends
// adminPermissions. Keep it that way: monotonicity is by construction.
var adminPermissions = append(append([]Permission{}, userPermissions...),
	PermListingsCreate,
	PermListingsEditOwn,
	PermMediaUpload,
	PermCreditReview,
	PermAdminPanel,
	PermAuditRead,
)

var superadminPermissions = append(append([]Permission{}, adminPermissions...),
	PermListingsEditAll,
	PermUsersManage,
)

// Permissions returns the capability set for a role. Unknown roles get the
// user set.
func Permissions(r Role) []Permission {
	switch r {
	case RoleSuperAdmin:
		return superadminPermissions
	case RoleAdmin:
		return adminPermissions
	default:
		return userPermissions
	}
}

// HasPermission reports whether role grants the permission
func HasPermission(r Role, p Permission) bool {
	for _, granted := range Permissions(r) {
		if granted == p {
			return true
		}
	}
	return false
}

// CanCreateListings reports whether the role may create listings
func CanCreateListings(r Role) bool {
	return HasPermission(r, PermListingsCreate)
}

// CanEditListing reports whether the acting user may edit the listing owned
// by ownerID. Superadmin edits anything; admin edits only listings it owns.
func CanEditListing(r Role, ownerID, actorID string) bool {
	if r == RoleSuperAdmin {
		return true
	}
	if r == RoleAdmin {
		return ownerID == actorID
	}
	return false
}

// CanAccessAdminPanel reports whether the role may open the admin panel
func CanAccessAdminPanel(r Role) bool {
	return HasPermission(r, PermAdminPanel)
}

// CanManageUsers reports whether the role may change other users' roles
func CanManageUsers(r Role) bool {
	return HasPermission(r, PermUsersManage)
}
