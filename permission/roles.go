package permission

// Well-known system role names.
const (
	RoleUser             = "user"
	RoleVerifiedReporter = "verified_reporter"
	RoleModerator        = "moderator"
	RoleAnalyst          = "analyst"
	RoleAdmin            = "admin"
	RoleSuperAdmin       = "super_admin"
)

// Permissions the engine itself checks.
const (
	UserRead        = "user.read"
	UserUpdate      = "user.update"
	UserVerify      = "user.verify"
	UserManageRoles = "user.manage_roles"
	SystemAudit     = "system.audit"
)

// IsProtectedRole reports whether membership changes of role are reserved
// to super admins.
func IsProtectedRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// GrantsRoleManagement reports whether perms let their holder change role
// membership. Roles carrying such permissions are protected like admin.
func GrantsRoleManagement(perms []string) bool {
	for _, p := range perms {
		if p == UserManageRoles || p == Wildcard {
			return true
		}
	}
	return false
}
